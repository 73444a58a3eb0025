// Package auth verifies bidder identity tokens. Tokens are issued by the
// account service as HS256 JWTs carrying the user id and email.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/maqzone/livebid/internal/domain"
)

// Claims is the token payload.
type Claims struct {
	UserID int64  `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// Identity is the authenticated bidder attached to a request.
type Identity struct {
	UserID int64
	Email  string
}

// Verifier checks and issues HS256 tokens with a shared secret.
type Verifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewVerifier creates a Verifier. An empty issuer skips the iss check.
func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer, now: time.Now}
}

// Verify parses raw and returns the identity it carries. Any failure is
// reported as domain.ErrUnauthorized wrapped with the cause.
func (v *Verifier) Verify(raw string) (Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", domain.ErrUnauthorized, err)
	}
	if claims.UserID <= 0 {
		return Identity{}, fmt.Errorf("%w: missing user_id", domain.ErrUnauthorized)
	}
	return Identity{UserID: claims.UserID, Email: claims.Email}, nil
}

// Issue signs a token for userID valid for ttl. The account service owns
// issuance in production; this backs tooling and tests.
func (v *Verifier) Issue(userID int64, email string, ttl time.Duration) (string, error) {
	now := v.now()
	claims := Claims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

type identityKey struct{}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the identity stored on ctx, if any.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok && id.UserID > 0
}

// IsUnauthorized reports whether err is an authentication failure.
func IsUnauthorized(err error) bool {
	return errors.Is(err, domain.ErrUnauthorized)
}
