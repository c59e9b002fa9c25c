package backend

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is what the daemon needs from an access token. The token is
// verified by the backend; the client only reads it.
type Claims struct {
	UserID    string
	Username  string
	ExpiresAt time.Time
}

// Expired reports whether the token is past its expiry at now. Tokens
// without an expiry never expire.
func (c Claims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// ParseToken extracts Claims from a bearer token without verifying its
// signature. The user id comes from a "uid" or "id" claim, falling back to
// the subject.
func ParseToken(raw string) (Claims, error) {
	mc := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, mc); err != nil {
		return Claims{}, fmt.Errorf("parse token: %w", err)
	}
	var c Claims
	c.Username, _ = mc.GetSubject()
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}
	for _, key := range []string{"uid", "id", "userId"} {
		if v, ok := mc[key]; ok {
			c.UserID = claimString(v)
			break
		}
	}
	if c.UserID == "" {
		c.UserID = c.Username
	}
	if c.UserID == "" {
		return Claims{}, fmt.Errorf("parse token: no subject or user id claim")
	}
	return c, nil
}

func claimString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return fmt.Sprintf("%.0f", x)
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}
