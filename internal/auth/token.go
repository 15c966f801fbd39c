// Package auth issues and validates the JWT session tokens handed out by the
// HTTP collaborator endpoints. The relay core never sees tokens; it consumes
// already-resolved identities.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	userTokenTTL  = 24 * time.Hour
	adminTokenTTL = 2 * time.Hour
)

var ErrInvalidToken = errors.New("invalid token")

// TokenService signs and verifies HS256 session tokens.
type TokenService struct {
	secret []byte
}

// NewTokenService builds a token service around the shared secret.
func NewTokenService(secret string) (*TokenService, error) {
	if secret == "" {
		return nil, errors.New("jwt secret cannot be empty")
	}
	return &TokenService{secret: []byte(secret)}, nil
}

// NewUserToken issues a session token for a user id.
func (s *TokenService) NewUserToken(userID string) (string, error) {
	return s.sign(userID, false, userTokenTTL)
}

// NewAdminToken issues a short-lived token carrying the admin claim.
func (s *TokenService) NewAdminToken(user string) (string, error) {
	return s.sign(user, true, adminTokenTTL)
}

func (s *TokenService) sign(subject string, admin bool, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if admin {
		claims["admin"] = true
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Subject validates tokenString and returns its subject and admin flag.
func (s *TokenService) Subject(tokenString string) (string, bool, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return "", false, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return "", false, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", false, ErrInvalidToken
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", false, ErrInvalidToken
	}
	admin, _ := claims["admin"].(bool)
	return sub, admin, nil
}
