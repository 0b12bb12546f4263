package auth

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"
)

// AdminInput is embedded in admin API inputs.
type AdminInput struct {
	Authorization string `header:"Authorization" doc:"Bearer token issued by the /token bot command"`
}

// Authorize checks an Authorization header value and returns the admin id.
func (a *AdminAuth) Authorize(_ context.Context, authorization string) (int64, error) {
	if !a.Enabled() {
		return 0, huma.Error404NotFound("Admin API disabled")
	}

	tokenString, ok := strings.CutPrefix(authorization, "Bearer ")
	if !ok || tokenString == "" {
		return 0, huma.Error401Unauthorized("Unauthorized: No token found")
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithTimeFunc(a.now), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return 0, huma.Error401Unauthorized("Unauthorized: Invalid token")
	}

	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || !a.IsAdmin(id) {
		return 0, huma.Error401Unauthorized("Unauthorized.")
	}
	return id, nil
}
