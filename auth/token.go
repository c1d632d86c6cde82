// Package auth validates and issues the bearer tokens that carry a caller's tenant.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrInvalidToken is returned when the token is malformed or its signature does not verify
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned when the token has expired
	ErrTokenExpired = errors.New("token expired")

	// ErrMissingClaim is returned when a required claim is missing
	ErrMissingClaim = errors.New("missing required claim")
)

// Roles recognised by the API
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
	RoleViewer = "viewer"
)

var validRoles = map[string]bool{
	RoleAdmin:  true,
	RoleMember: true,
	RoleViewer: true,
}

// ValidRole reports whether role is one the API recognises
func ValidRole(role string) bool {
	return validRoles[role]
}

// Claims are the token claims the gateway relies on
type Claims struct {
	jwt.RegisteredClaims
	TenantID string `json:"tenant_id"`
	Role     string `json:"role,omitempty"`
	Email    string `json:"email,omitempty"`
}

// TenantUUID parses the tenant claim
func (c *Claims) TenantUUID() (uuid.UUID, error) {
	if c.TenantID == "" {
		return uuid.Nil, fmt.Errorf("%w: tenant_id", ErrMissingClaim)
	}
	id, err := uuid.Parse(c.TenantID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid tenant_id: %w", err)
	}
	return id, nil
}

// UserUUID parses the subject as a user ID. Subjects that are not UUIDs return nil.
func (c *Claims) UserUUID() *uuid.UUID {
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return nil
	}
	return &id
}

// HasRole reports whether the caller holds role. Admins hold every role.
func (c *Claims) HasRole(role string) bool {
	return c.Role == role || c.Role == RoleAdmin
}

// Config holds the shared-secret settings
type Config struct {
	Secret string
	Issuer string
	Leeway time.Duration
}

// Validator verifies HS256 tokens signed with a shared secret
type Validator struct {
	secret []byte
	parser *jwt.Parser
}

// NewValidator creates a Validator. An empty issuer disables the issuer check.
func NewValidator(cfg Config) *Validator {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(cfg.Leeway))
	}
	return &Validator{
		secret: []byte(cfg.Secret),
		parser: jwt.NewParser(opts...),
	}
}

// ValidateToken verifies the signature and registered claims, then checks the custom ones
func (v *Validator) ValidateToken(_ context.Context, tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := v.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	if _, err := claims.TenantUUID(); err != nil {
		return nil, err
	}
	if claims.Role != "" && !ValidRole(claims.Role) {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Role)
	}

	return claims, nil
}

// Signer issues tokens the Validator accepts. Used for development tokens and tests.
type Signer struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewSigner creates a Signer for the same Config a Validator uses
func NewSigner(cfg Config) *Signer {
	return &Signer{secret: []byte(cfg.Secret), issuer: cfg.Issuer, now: time.Now}
}

// Issue signs a token for subject in tenantID, valid for ttl
func (s *Signer) Issue(subject string, tenantID uuid.UUID, role, email string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		TenantID: tenantID.String(),
		Role:     role,
		Email:    email,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
