package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	AccessTokenTTL    = time.Hour
	AuthenticatedRole = "authenticated"
)

var (
	ErrInvalidToken      = errors.New("invalid token")
	ErrExpiredToken      = errors.New("expired token")
	ErrSigningKeyMissing = errors.New("token signing secret is not configured")
)

// AccessClaims is the payload of a short-lived access token. Subject is the
// tenant (user) id.
type AccessClaims struct {
	Role    string `json:"role"`
	AgentID string `json:"agent_id"`
	jwt.RegisteredClaims
}

// Identity is the tenant/agent pair an access token asserts.
type Identity struct {
	TenantID string
	AgentID  string
}

type IssueInput struct {
	TenantID string
	AgentID  string
	Issuer   string
	TokenID  string
	IssuedAt time.Time
}

// IssueAccessToken signs an HS256 token valid for AccessTokenTTL.
func IssueAccessToken(secret []byte, in IssueInput) (string, time.Time, error) {
	if len(secret) == 0 {
		return "", time.Time{}, ErrSigningKeyMissing
	}
	issuedAt := in.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = time.Now()
	}
	expiresAt := issuedAt.Add(AccessTokenTTL)
	claims := AccessClaims{
		Role:    AuthenticatedRole,
		AgentID: in.AgentID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    in.Issuer,
			Subject:   in.TenantID,
			Audience:  jwt.ClaimStrings{AuthenticatedRole},
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        in.TokenID,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

// ParseAccessToken verifies signature, audience and expiry at now.
func ParseAccessToken(secret []byte, token string, now time.Time) (AccessClaims, error) {
	if len(secret) == 0 {
		return AccessClaims{}, ErrSigningKeyMissing
	}
	var claims AccessClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(AuthenticatedRole),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return AccessClaims{}, ErrExpiredToken
		}
		return AccessClaims{}, ErrInvalidToken
	}
	if claims.Subject == "" || claims.AgentID == "" {
		return AccessClaims{}, ErrInvalidToken
	}
	return claims, nil
}

// DecodeIdentity reads the payload without checking the signature. Only use
// it on tokens that came straight from the exchange endpoint over the same
// connection; it is not an authentication step.
func DecodeIdentity(token string) (Identity, error) {
	var claims AccessClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return Identity{}, ErrInvalidToken
	}
	if claims.Subject == "" || claims.AgentID == "" {
		return Identity{}, ErrInvalidToken
	}
	return Identity{TenantID: claims.Subject, AgentID: claims.AgentID}, nil
}
