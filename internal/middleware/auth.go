package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/topicwire/topicwire/internal/domain"
)

type principalContextKey struct{}

// Principal is the authenticated caller.
type Principal struct {
	Username string
	SecName  string
}

// Authenticator checks a username/password pair and returns the security
// definition name on success.
type Authenticator interface {
	Authenticate(username, password string) (string, error)
}

// BasicAuth authenticates every request with HTTP Basic credentials against
// the backend's credential store. Failures are rejected with the uniform
// envelope; the check is stateless per call.
func BasicAuth(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			username, password, ok := r.BasicAuth()
			if !ok {
				w.Header().Set("WWW-Authenticate", `Basic realm="pubsub"`)
				writeEnvelope(w, http.StatusUnauthorized, GetCid(r.Context()), "missing credentials")
				return
			}

			secName, err := auth.Authenticate(username, password)
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Basic realm="pubsub"`)
				writeEnvelope(w, http.StatusUnauthorized, GetCid(r.Context()), "invalid credentials")
				return
			}

			ctx := context.WithValue(r.Context(), principalContextKey{}, &Principal{
				Username: username,
				SecName:  secName,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetPrincipal returns the authenticated caller, or nil outside the auth
// middleware.
func GetPrincipal(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalContextKey{}).(*Principal)
	return p
}

func writeEnvelope(w http.ResponseWriter, status int, cid, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(domain.APIResponse{IsOK: false, Cid: cid, Details: details})
}
