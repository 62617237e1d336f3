// Package auth validates and issues the bearer tokens of the ops API.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/upb/audit-collector/middleware"
)

var (
	// ErrInvalidToken is returned when the token is invalid
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned when the token has expired
	ErrTokenExpired = errors.New("token expired")

	// ErrInvalidIssuer is returned when the token issuer is invalid
	ErrInvalidIssuer = errors.New("invalid issuer")

	// ErrMissingSecret is returned when no signing secret is configured
	ErrMissingSecret = errors.New("jwt secret is required")
)

// Claims represents the custom claims in the JWT token
type Claims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles,omitempty"`
}

// HMACValidator validates HS256 tokens signed with a shared secret
type HMACValidator struct {
	secret []byte
	issuer string
	leeway time.Duration
	now    func() time.Time
}

// Config holds configuration for HMACValidator
type Config struct {
	Secret string
	Issuer string
	Leeway time.Duration
}

// NewHMACValidator creates a new validator
func NewHMACValidator(config Config) (*HMACValidator, error) {
	if config.Secret == "" {
		return nil, ErrMissingSecret
	}
	return &HMACValidator{
		secret: []byte(config.Secret),
		issuer: config.Issuer,
		leeway: config.Leeway,
		now:    time.Now,
	}, nil
}

// ValidateToken implements middleware.TokenValidator
func (v *HMACValidator) ValidateToken(ctx context.Context, tokenString string) (*middleware.Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	if v.issuer != "" && claims.Issuer != v.issuer {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrInvalidIssuer, v.issuer, claims.Issuer)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	parsed := &middleware.Claims{
		Sub:   claims.Subject,
		Roles: claims.Roles,
		Iss:   claims.Issuer,
	}
	if claims.ExpiresAt != nil {
		parsed.Exp = claims.ExpiresAt.Unix()
	}
	if claims.IssuedAt != nil {
		parsed.Iat = claims.IssuedAt.Unix()
	}
	return parsed, nil
}

// Issue signs a token for subject with the given roles, valid for ttl
func (v *HMACValidator) Issue(subject string, roles []string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", fmt.Errorf("subject is required")
	}
	if ttl <= 0 {
		return "", fmt.Errorf("ttl must be positive")
	}

	now := v.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Roles: roles,
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
