// Package auth issues and validates the HMAC-signed access tokens that carry
// user identity, with optional revocation through Redis.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrRevokedToken = errors.New("token revoked")
)

const revokedPrefix = "revoked:"

type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// Token is a signed access token with its identity.
type Token struct {
	AccessToken string    `json:"access_token"`
	TokenID     string    `json:"token_id"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Issuer signs and checks tokens. A nil Redis client disables revocation.
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	rdb    *redis.Client
}

func NewIssuer(secret, issuer string, ttl time.Duration, rdb *redis.Client) (*Issuer, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("token secret must be at least 32 characters")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Issuer{secret: []byte(secret), issuer: issuer, ttl: ttl, rdb: rdb}, nil
}

func (i *Issuer) Issue(userID string) (*Token, error) {
	return i.IssueWithTTL(userID, i.ttl)
}

func (i *Issuer) IssueWithTTL(userID string, ttl time.Duration) (*Token, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("user id is required")
	}
	now := time.Now()
	jti := uuid.NewString()
	exp := now.Add(ttl)

	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   userID,
			Issuer:    i.issuer,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return nil, err
	}
	return &Token{AccessToken: signed, TokenID: jti, ExpiresAt: exp}, nil
}

// Validate parses tokenString and checks signature, issuer, expiry and the
// revocation list.
func (i *Issuer) Validate(ctx context.Context, tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// Prevent algorithm confusion attacks
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithIssuer(i.issuer), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: missing user id", ErrInvalidToken)
	}

	if i.rdb != nil && claims.ID != "" {
		n, err := i.rdb.Exists(ctx, revokedPrefix+claims.ID).Result()
		if err != nil {
			return nil, fmt.Errorf("checking revocation: %w", err)
		}
		if n > 0 {
			return nil, ErrRevokedToken
		}
	}
	return claims, nil
}

// Revoke denylists the token until it would have expired anyway.
func (i *Issuer) Revoke(ctx context.Context, claims *Claims) error {
	if i.rdb == nil {
		return errors.New("revocation requires redis")
	}
	ttl := time.Minute
	if claims.ExpiresAt != nil {
		ttl = time.Until(claims.ExpiresAt.Time)
	}
	if ttl <= 0 {
		return nil
	}
	return i.rdb.Set(ctx, revokedPrefix+claims.ID, claims.UserID, ttl).Err()
}

// ExtractBearer returns the token of an "Authorization: Bearer <token>" header.
func ExtractBearer(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
