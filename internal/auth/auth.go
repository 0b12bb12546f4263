package auth

import (
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const TokenDuration = 24 * time.Hour

// AdminAuth issues and checks bearer tokens for the admin HTTP API. Only the
// configured administrator can hold a valid token.
type AdminAuth struct {
	secret  []byte
	adminID int64
	now     func() time.Time
}

func NewAdminAuth(secret string, adminID int64) *AdminAuth {
	return &AdminAuth{
		secret:  []byte(secret),
		adminID: adminID,
		now:     time.Now,
	}
}

// Enabled reports whether the admin API can be used at all.
func (a *AdminAuth) Enabled() bool {
	return len(a.secret) > 0 && a.adminID != 0
}

// IsAdmin reports whether id is the configured administrator. An unset
// administrator matches nobody.
func (a *AdminAuth) IsAdmin(id int64) bool {
	return a.adminID != 0 && id == a.adminID
}

func (a *AdminAuth) GenerateToken(adminID int64) (string, time.Time, error) {
	now := a.now()
	exp := now.Add(TokenDuration)
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(adminID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	return signed, exp, err
}
