// Package token provides one pluggable session-token format: HS256 JWTs
// carrying the principal's identity and grant. The engine itself never
// depends on it; deployments that need a bearer token for a non-mock client
// wire it in at the composition root.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"flowcrm.org/internal/auth"
)

const defaultIssuer = "flowcrm"

// ErrInvalidToken indicates the token failed validation.
var ErrInvalidToken = errors.New("token: invalid token")

// Claims are the verified JWT claims for an authenticated principal.
type Claims struct {
	Name        string               `json:"name,omitempty"`
	Email       string               `json:"email"`
	Permissions auth.PermissionGrant `json:"permissions"`
	jwt.RegisteredClaims
}

// Codec signs and verifies principal tokens with a shared secret.
type Codec struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// CodecOption configures a Codec.
type CodecOption func(*Codec)

// WithIssuer overrides the issuer claim.
func WithIssuer(issuer string) CodecOption {
	return func(c *Codec) {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			c.issuer = issuer
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) CodecOption {
	return func(c *Codec) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewCodec constructs a codec from a non-empty shared secret.
func NewCodec(secret string, opts ...CodecOption) (*Codec, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("token: secret is required")
	}
	c := &Codec{secret: []byte(secret), issuer: defaultIssuer, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Issue signs a token for the principal valid for ttl.
func (c *Codec) Issue(p auth.Principal, ttl time.Duration) (string, error) {
	if p.AccountID == "" {
		return "", errors.New("token: principal has no account id")
	}
	if ttl <= 0 {
		return "", errors.New("token: ttl must be greater than zero")
	}
	now := c.now().UTC()
	claims := Claims{
		Name:        p.Name,
		Email:       p.Email,
		Permissions: p.Permissions.Clone(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   p.AccountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and required claims and returns them.
func (c *Codec) Verify(raw string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return c.secret, nil
	}, jwt.WithTimeFunc(c.now))
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Issuer != c.issuer {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Principal rebuilds an auth.Principal from verified claims. IssuedAt maps
// from the iat claim; the session store remains the source of truth for
// last-activity.
func (c *Claims) Principal() auth.Principal {
	p := auth.Principal{
		AccountID:   c.Subject,
		Name:        c.Name,
		Email:       c.Email,
		Permissions: c.Permissions.Clone(),
	}
	if c.IssuedAt != nil {
		p.IssuedAt = c.IssuedAt.Time
	}
	return p
}
