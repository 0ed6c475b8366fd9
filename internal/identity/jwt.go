// Package identity turns session tokens into chat identities.
package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Tyrowin/relaychat/internal/chat"
)

const issuer = "relaychat"

// Claims is the token payload. encoding/json matches names case-insensitively,
// so tokens carrying "UserId" decode as well.
type Claims struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Verifier resolves a credential to an identity.
type Verifier interface {
	Verify(token string) (chat.Identity, error)
}

// JWT signs and verifies HS256 session tokens.
type JWT struct {
	secret []byte
	now    func() time.Time
}

// NewJWT creates a JWT manager with the shared secret.
func NewJWT(secret string) (*JWT, error) {
	if secret == "" {
		return nil, errors.New("jwt secret must not be empty")
	}
	return &JWT{secret: []byte(secret), now: time.Now}, nil
}

// Issue returns a signed token for id. A zero ttl yields a token without expiry.
func (j *JWT) Issue(id chat.Identity, ttl time.Duration) (string, error) {
	if id.UserID == "" {
		return "", errors.New("user id must not be empty")
	}
	now := j.now()
	claims := Claims{
		UserID:   id.UserID,
		Username: id.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   issuer,
			Subject:  id.UserID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.secret)
}

// Verify checks the signature and expiry of token. Every failure wraps
// chat.ErrAuthInvalid.
func (j *JWT) Verify(token string) (chat.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return chat.Identity{}, fmt.Errorf("%w: missing token", chat.ErrAuthInvalid)
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return j.secret, nil
	}, jwt.WithTimeFunc(j.now), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return chat.Identity{}, fmt.Errorf("%w: %v", chat.ErrAuthInvalid, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return chat.Identity{}, fmt.Errorf("%w: invalid claims", chat.ErrAuthInvalid)
	}
	if claims.UserID == "" {
		return chat.Identity{}, fmt.Errorf("%w: token has no user id", chat.ErrAuthInvalid)
	}
	if !chat.ValidUserID(claims.UserID) {
		return chat.Identity{}, fmt.Errorf("%w: malformed user id", chat.ErrAuthInvalid)
	}
	return chat.Identity{UserID: claims.UserID, Username: claims.Username}, nil
}
