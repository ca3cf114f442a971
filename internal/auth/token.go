// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 StoreAuth Contributors

package auth

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/samber/oops"
)

// MinSigningKeyLength is the shortest HMAC key JWTCodec accepts.
const MinSigningKeyLength = 32

// Claims is the identity carried by a bearer token.
type Claims struct {
	UserID    int64     `json:"uid"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	TokenID   string    `json:"-"`
	IssuedAt  time.Time `json:"-"`
	ExpiresAt time.Time `json:"-"`
}

// ClaimsFor builds the token claims for a user.
func ClaimsFor(u *User) Claims {
	return Claims{
		UserID:    u.ID,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
	}
}

// TokenCodec signs and verifies bearer tokens.
type TokenCodec interface {
	// Issue signs claims into a token valid for ttl.
	Issue(claims Claims, ttl time.Duration) (token string, expiresAt time.Time, err error)

	// Verify checks the signature and expiry and returns the claims.
	// It never consults storage.
	Verify(token string) (*Claims, error)
}

type jwtClaims struct {
	jwt.RegisteredClaims
	UserID    int64  `json:"uid"`
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// JWTCodec implements TokenCodec with HS256 JSON Web Tokens.
type JWTCodec struct {
	key    []byte
	issuer string
	now    func() time.Time
}

// CodecOption customizes a JWTCodec.
type CodecOption func(*JWTCodec)

// WithCodecClock injects the time source used for iat, exp and validation.
func WithCodecClock(now func() time.Time) CodecOption {
	return func(c *JWTCodec) {
		if now != nil {
			c.now = now
		}
	}
}

// NewJWTCodec creates a codec for the given signing key. The key is copied.
func NewJWTCodec(key []byte, issuer string, opts ...CodecOption) (*JWTCodec, error) {
	if len(key) < MinSigningKeyLength {
		return nil, oops.Code("TOKEN_KEY_INVALID").
			With("min_length", MinSigningKeyLength).
			Errorf("signing key must be at least %d bytes", MinSigningKeyLength)
	}
	k := make([]byte, len(key))
	copy(k, key)
	c := &JWTCodec{key: k, issuer: issuer, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Issue signs claims into a token valid for ttl.
func (c *JWTCodec) Issue(claims Claims, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		return "", time.Time{}, oops.Code("TOKEN_TTL_INVALID").
			With("ttl", ttl.String()).
			Errorf("token ttl must be positive")
	}
	if claims.UserID <= 0 {
		return "", time.Time{}, oops.Code("TOKEN_CLAIMS_INVALID").Errorf("user id is required")
	}

	now := c.now().Truncate(time.Second)
	expiresAt := now.Add(ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    c.issuer,
			Subject:   strconv.FormatInt(claims.UserID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		UserID:    claims.UserID,
		Email:     claims.Email,
		FirstName: claims.FirstName,
		LastName:  claims.LastName,
	})

	signed, err := token.SignedString(c.key)
	if err != nil {
		return "", time.Time{}, oops.Code("TOKEN_SIGN_FAILED").Wrap(err)
	}
	return signed, expiresAt, nil
}

// Verify checks the signature and expiry and returns the claims.
func (c *JWTCodec) Verify(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, oops.Code("TOKEN_EMPTY").Wrapf(ErrInvalidToken, "token cannot be empty")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}

	parsed := &jwtClaims{}
	token, err := jwt.ParseWithClaims(tokenString, parsed, func(_ *jwt.Token) (any, error) {
		return c.key, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, oops.Code("TOKEN_EXPIRED").Wrapf(ErrInvalidToken, "token has expired")
		}
		return nil, oops.Code("TOKEN_INVALID").
			With("reason", err.Error()).
			Wrapf(ErrInvalidToken, "token is invalid")
	}
	if !token.Valid || parsed.UserID <= 0 {
		return nil, oops.Code("TOKEN_INVALID").Wrapf(ErrInvalidToken, "token is invalid")
	}

	claims := &Claims{
		UserID:    parsed.UserID,
		Email:     parsed.Email,
		FirstName: parsed.FirstName,
		LastName:  parsed.LastName,
		TokenID:   parsed.ID,
	}
	if parsed.IssuedAt != nil {
		claims.IssuedAt = parsed.IssuedAt.Time
	}
	if parsed.ExpiresAt != nil {
		claims.ExpiresAt = parsed.ExpiresAt.Time
	}
	return claims, nil
}

// Compile-time interface check.
var _ TokenCodec = (*JWTCodec)(nil)
