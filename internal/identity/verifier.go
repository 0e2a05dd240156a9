package identity

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stencilflow/stencilflow/internal/clock"
	"github.com/stencilflow/stencilflow/internal/config"
)

// Claims mirrors the session token issued by the identity provider.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier checks HS256 session tokens against the shared provider secret.
type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

func NewVerifier(cfg config.Config, clk clock.Clock) *Verifier {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Identity.ClockSkew),
		jwt.WithTimeFunc(clk.Now),
	}
	if cfg.Identity.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Identity.Issuer))
	}
	if cfg.Identity.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Identity.Audience))
	}

	return &Verifier{
		secret: []byte(cfg.Identity.JWTSecret),
		parser: jwt.NewParser(opts...),
	}
}

// Verify validates the token and returns the caller it names.
func (v *Verifier) Verify(raw string) (Identity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Identity{}, ErrUnauthenticated
	}
	if len(v.secret) == 0 {
		return Identity{}, ErrNotConfigured
	}

	token, err := v.parser.ParseWithClaims(raw, &Claims{}, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return Identity{}, ErrInvalidToken
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return Identity{}, ErrInvalidToken
	}

	return Identity{
		UserID: subject,
		Email:  strings.ToLower(strings.TrimSpace(claims.Email)),
		Role:   strings.ToLower(strings.TrimSpace(claims.Role)),
	}, nil
}
