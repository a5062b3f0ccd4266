// Package auth authenticates realtime handshakes and HTTP requests.
//
// Credentials are read from an "Authorization: Bearer" header first and a
// "token" cookie second, then handed to a Verifier.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/tinywideclouds/go-notification-service/pkg/notify"
)

// TokenCookie is the cookie consulted when no Authorization header is present.
const TokenCookie = "token"

var (
	// ErrMissingCredential means the request carried no token at all.
	ErrMissingCredential = errors.New("missing credential")
	// ErrInvalidCredential covers malformed, expired, and unrecognized tokens.
	ErrInvalidCredential = errors.New("invalid credential")
)

// Verifier is the external credential-verification collaborator.
// It returns ErrInvalidCredential (possibly wrapped) for rejected tokens;
// any other error is an internal failure.
type Verifier interface {
	Verify(ctx context.Context, token string) (notify.Identity, error)
}

// VerifierFunc adapts a function to a Verifier.
type VerifierFunc func(ctx context.Context, token string) (notify.Identity, error)

// Verify calls f.
func (f VerifierFunc) Verify(ctx context.Context, token string) (notify.Identity, error) {
	return f(ctx, token)
}

// FirstOf tries each verifier in order and returns the first identity that
// verifies. Internal failures stop the search.
func FirstOf(verifiers ...Verifier) Verifier {
	return VerifierFunc(func(ctx context.Context, token string) (notify.Identity, error) {
		err := ErrInvalidCredential
		for _, v := range verifiers {
			var id notify.Identity
			id, err = v.Verify(ctx, token)
			if err == nil || !errors.Is(err, ErrInvalidCredential) {
				return id, err
			}
		}
		return notify.Identity{}, err
	})
}

// ExtractToken returns the request credential, checking the bearer header
// before the cookie.
func ExtractToken(r *http.Request) (string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		token, found := strings.CutPrefix(header, "Bearer ")
		token = strings.TrimSpace(token)
		if !found || token == "" {
			return "", ErrInvalidCredential
		}
		return token, nil
	}
	if cookie, err := r.Cookie(TokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value, nil
	}
	return "", ErrMissingCredential
}

type identityKeyType struct{}

var identityKey identityKeyType

// ContextWithIdentity stores the authenticated identity in ctx.
func ContextWithIdentity(ctx context.Context, id notify.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the identity stored by the middleware.
func IdentityFromContext(ctx context.Context) (notify.Identity, bool) {
	id, ok := ctx.Value(identityKey).(notify.Identity)
	return id, ok && id.UserID != ""
}

// UserIDFromContext is IdentityFromContext narrowed to the user id.
func UserIDFromContext(ctx context.Context) (notify.UserID, bool) {
	id, ok := IdentityFromContext(ctx)
	return id.UserID, ok
}
