package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type cidContextKey struct{}

// CorrelationHeader is the optional inbound header carrying a caller-chosen
// correlation id.
const CorrelationHeader = "X-Correlation-Id"

// Correlation assigns every request a correlation id: the caller's header
// value when present, a generated one otherwise. Every response envelope
// echoes it, also on failure, so callers can correlate failures with
// requests.
func Correlation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cid := r.Header.Get(CorrelationHeader)
		if cid == "" {
			cid = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), cidContextKey{}, cid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetCid returns the request's correlation id.
func GetCid(ctx context.Context) string {
	cid, _ := ctx.Value(cidContextKey{}).(string)
	return cid
}
