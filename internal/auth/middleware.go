package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/tinywideclouds/go-notification-service/internal/response"
	"github.com/tinywideclouds/go-notification-service/pkg/notify"
)

// DefaultTimeout bounds a single credential verification.
const DefaultTimeout = 5 * time.Second

type verifyResult struct {
	id  notify.Identity
	err error
}

// Middleware authenticates every request before next runs. Rejected requests
// get a JSON error and "Connection: close" so a pending protocol upgrade is
// never completed:
//   - no or malformed credential, or one the verifier rejects: 401
//   - verification not finished within timeout: 503
//   - any other verifier failure: 500
func Middleware(verifier Verifier, timeout time.Duration, logger *slog.Logger) func(http.Handler) http.Handler {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	log := logger.With("component", "auth")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := ExtractToken(r)
			if err != nil {
				log.Info("Rejecting request without usable credential", "path", r.URL.Path, "remote", r.RemoteAddr, "err", err)
				reject(w, http.StatusUnauthorized, "missing authentication token")
				return
			}

			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			// The verifier may ignore ctx; the buffered channel lets it finish late without leaking.
			done := make(chan verifyResult, 1)
			go func() {
				id, err := verifier.Verify(ctx, token)
				done <- verifyResult{id: id, err: err}
			}()

			var res verifyResult
			select {
			case res = <-done:
			case <-ctx.Done():
				res = verifyResult{err: ctx.Err()}
			}

			switch {
			case res.err == nil && res.id.UserID != "":
				next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), res.id)))
			case res.err == nil, errors.Is(res.err, ErrInvalidCredential):
				log.Warn("Rejecting request with invalid credential", "path", r.URL.Path, "remote", r.RemoteAddr, "err", res.err)
				reject(w, http.StatusUnauthorized, "invalid authentication token")
			case errors.Is(res.err, context.DeadlineExceeded):
				log.Warn("Credential verification timed out", "path", r.URL.Path, "timeout", timeout)
				reject(w, http.StatusServiceUnavailable, "authentication timed out")
			default:
				log.Error("Credential verification failed", "path", r.URL.Path, "err", res.err)
				reject(w, http.StatusInternalServerError, "internal server error")
			}
		})
	}
}

func reject(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Connection", "close")
	response.WriteJSONError(w, status, message)
}

// RequireRole admits only identities carrying role. It runs after Middleware;
// an authenticated caller without the role gets 403.
func RequireRole(role string, logger *slog.Logger) func(http.Handler) http.Handler {
	log := logger.With("component", "auth")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromContext(r.Context())
			if !ok {
				reject(w, http.StatusUnauthorized, "missing authentication token")
				return
			}
			if id.Role != role {
				log.Warn("Rejecting caller without required role", "path", r.URL.Path, "user", id.UserID.String(), "role", role)
				reject(w, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ServiceMiddleware guards backend-only routes. Service credentials pass.
// Valid end-user credentials are recognised and refused with 403. Anything
// else is handled as by Middleware.
func ServiceMiddleware(service, users Verifier, timeout time.Duration, logger *slog.Logger) func(http.Handler) http.Handler {
	authenticate := Middleware(FirstOf(service, users), timeout, logger)
	authorize := RequireRole(RoleService, logger)
	return func(next http.Handler) http.Handler {
		return authenticate(authorize(next))
	}
}
