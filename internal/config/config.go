package config

import (
	"time"

	"github.com/caarlos0/env/v10"
)

type Config struct {
	// Server
	Port            string        `env:"PORT" envDefault:"8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// NATS. When NATS_EMBEDDED is set the daemon runs its own JetStream
	// server and NATS_URL is ignored.
	NatsURL      string `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	NatsEmbedded bool   `env:"NATS_EMBEDDED" envDefault:"false"`
	NatsStoreDir string `env:"NATS_STORE_DIR" envDefault:""`

	// Logging
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat  string `env:"LOG_FORMAT" envDefault:"json"`
	LogFile    string `env:"LOG_FILE" envDefault:""`
	LogMaxSize int    `env:"LOG_MAX_SIZE_MB" envDefault:"100"`
	LogBackups int    `env:"LOG_MAX_BACKUPS" envDefault:"5"`

	// Permission definitions loaded and synced at startup, optional.
	PermissionsFile string `env:"PERMISSIONS_FILE" envDefault:""`

	// AuditFile is the JSON-lines audit trail of control-plane changes,
	// rotated like LogFile. Empty keeps the trail in slog only.
	AuditFile string `env:"AUDIT_FILE" envDefault:""`

	// Rate limiting, requests per second with a burst allowance.
	RateLimitAuth   int `env:"RATE_LIMIT_AUTH" envDefault:"100"`
	RateBurstAuth   int `env:"RATE_BURST_AUTH" envDefault:"200"`
	RateLimitUnauth int `env:"RATE_LIMIT_UNAUTH" envDefault:"10"`
	RateBurstUnauth int `env:"RATE_BURST_UNAUTH" envDefault:"20"`

	// CORS
	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
