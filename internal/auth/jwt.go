package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tinywideclouds/go-notification-service/pkg/notify"
)

// Claims is the JWT payload issued by the session system.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role,omitempty"`
}

// RoleService marks credentials issued to backend callers of the emit API.
const RoleService = "service"

// JWTVerifier validates HS256 tokens signed with a shared secret.
type JWTVerifier struct {
	secret []byte
	issuer string
	leeway time.Duration
	role   string
}

// NewJWTVerifier creates a verifier. An empty issuer accepts any issuer.
func NewJWTVerifier(secret, issuer string) (*JWTVerifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt secret cannot be empty")
	}
	return &JWTVerifier{secret: []byte(secret), issuer: issuer, leeway: 30 * time.Second}, nil
}

// NewServiceVerifier creates a verifier for backend credentials. Tokens must
// carry the service role claim. The user-facing verifier never reports a
// role, so a user token cannot pass as a service one.
func NewServiceVerifier(secret, issuer string) (*JWTVerifier, error) {
	v, err := NewJWTVerifier(secret, issuer)
	if err != nil {
		return nil, err
	}
	v.role = RoleService
	return v, nil
}

// Verify parses and validates token.
func (v *JWTVerifier) Verify(_ context.Context, token string) (notify.Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(_ *jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return notify.Identity{}, fmt.Errorf("%w: token expired", ErrInvalidCredential)
		}
		return notify.Identity{}, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if !parsed.Valid || claims.UserID == "" {
		return notify.Identity{}, fmt.Errorf("%w: no user in token", ErrInvalidCredential)
	}
	if claims.Role != v.role {
		return notify.Identity{}, fmt.Errorf("%w: unexpected role %q", ErrInvalidCredential, claims.Role)
	}
	return notify.Identity{UserID: notify.UserID(claims.UserID), Email: claims.Email, Role: v.role}, nil
}

// IssueToken signs a token for userID. It backs the developer CLI and tests.
func IssueToken(secret, issuer string, userID notify.UserID, email string, ttl time.Duration) (string, error) {
	return issue(secret, issuer, userID, email, "", ttl)
}

// IssueServiceToken signs a backend credential for the named caller.
func IssueServiceToken(secret, issuer, caller string, ttl time.Duration) (string, error) {
	return issue(secret, issuer, notify.UserID(caller), "", RoleService, ttl)
}

func issue(secret, issuer string, userID notify.UserID, email, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   string(userID),
		},
		UserID: string(userID),
		Email:  email,
		Role:   role,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
