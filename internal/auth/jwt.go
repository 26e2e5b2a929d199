package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"

	"github.com/satriahrh/azscribe/domain"
)

const (
	// RoleOperator is carried by tokens used on the admin API
	RoleOperator = "operator"
	// RoleSystem is carried by tokens the service presents to the workflow engine
	RoleSystem = "system"

	issuer = "azscribe"
)

// Claims represents the claims in our JWT token
type Claims struct {
	Role         string `json:"role"`
	Organization string `json:"org,omitempty"`
	jwt.RegisteredClaims
}

// Issuer signs and validates HS256 tokens with one shared secret
type Issuer struct {
	secret []byte
	clock  clock.Clock
}

// NewIssuer creates a token issuer. The secret must not be empty.
func NewIssuer(secret string, clk clock.Clock) (*Issuer, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: JWT secret is required", domain.ErrConfiguration)
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Issuer{secret: []byte(secret), clock: clk}, nil
}

// GenerateOperatorToken generates a token for an admin API user
func (i *Issuer) GenerateOperatorToken(subject string, ttl time.Duration) (string, error) {
	return i.generate(subject, RoleOperator, "", ttl)
}

// GenerateSystemToken generates a token for calls made on behalf of the service
// account, scoped to one organization
func (i *Issuer) GenerateSystemToken(account, organization string, ttl time.Duration) (string, error) {
	return i.generate(account, RoleSystem, organization, ttl)
}

func (i *Issuer) generate(subject, role, organization string, ttl time.Duration) (string, error) {
	now := i.clock.Now()
	claims := &Claims{
		Role:         role,
		Organization: organization,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// ValidateToken validates a JWT token and returns the claims
func (i *Issuer) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer))
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, jwt.ErrInvalidKey
}

// IsExpired reports whether err was caused by an expired token
func IsExpired(err error) bool {
	return errors.Is(err, jwt.ErrTokenExpired)
}
