// Package auth provides password hashing, API key generation, and JWT
// access tokens for the monitor API.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/cortex-ops/cortex/pkg/services"
)

// ErrInvalidToken indicates a token that is malformed, expired, or signed
// with the wrong key.
var ErrInvalidToken = errors.New("invalid token")

// HashPassword hashes a password with bcrypt.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword reports whether password matches the stored bcrypt hash.
func VerifyPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// GenerateAPIKey produces a new random API key secret.
func GenerateAPIKey() (string, error) {
	raw := make([]byte, 48)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return "sk_" + base64.RawURLEncoding.EncodeToString(raw), nil
}

// Claims is the decoded identity carried by an access token.
type Claims struct {
	Username string
	UserID   int64
	Role     string
}

// TokenIssuer creates and validates signed access tokens.
type TokenIssuer struct {
	secret []byte
	expiry time.Duration
	now    func() time.Time
}

// NewTokenIssuer creates a TokenIssuer.
func NewTokenIssuer(secret string, expiry time.Duration) *TokenIssuer {
	return &TokenIssuer{
		secret: []byte(secret),
		expiry: expiry,
		now:    time.Now,
	}
}

// CreateAccessToken signs a token for the user.
func (t *TokenIssuer) CreateAccessToken(user *services.User) (string, error) {
	now := t.now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":     user.Username,
		"user_id": user.ID,
		"role":    user.Role,
		"iat":     now.Unix(),
		"exp":     now.Add(t.expiry).Unix(),
	})
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// DecodeAccessToken validates a token and extracts its claims.
func (t *TokenIssuer) DecodeAccessToken(tokenString string) (*Claims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return t.now() }),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	username, _ := mapClaims["sub"].(string)
	role, _ := mapClaims["role"].(string)
	userID, _ := mapClaims["user_id"].(float64)
	if username == "" || role == "" {
		return nil, ErrInvalidToken
	}

	return &Claims{
		Username: username,
		UserID:   int64(userID),
		Role:     role,
	}, nil
}
