package mockserver

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var errNoUser = errors.New("token names no user")

// TokenService issues and verifies HS256 access tokens.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenService(secret []byte, ttl time.Duration) *TokenService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenService{secret: secret, ttl: ttl, now: time.Now}
}

// Issue creates a token for u. The user id travels in "uid", the username
// in "sub".
func (t *TokenService) Issue(u User) (string, error) {
	return t.IssueWithTTL(u, t.ttl)
}

func (t *TokenService) IssueWithTTL(u User, ttl time.Duration) (string, error) {
	now := t.now()
	claims := jwt.MapClaims{
		"sub": u.Username,
		"uid": u.ID,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// Verify checks the signature and expiry and returns the user id.
func (t *TokenService) Verify(raw string) (string, error) {
	token, err := jwt.Parse(raw, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(t.now))
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", jwt.ErrTokenMalformed
	}
	uid, _ := claims["uid"].(string)
	if uid == "" {
		return "", errNoUser
	}
	return uid, nil
}
