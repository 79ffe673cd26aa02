package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"marketplace/internal/config"
	"marketplace/internal/domain/model"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
)

// アクセストークンの中身。sub は数値でも文字列でも受ける
type accessClaims struct {
	Sub  json.Number `json:"sub"`
	Role model.Role  `json:"role"`
	TV   *int        `json:"tv"`

	ExpiresAt *jwt.NumericDate `json:"exp,omitempty"`
	NotBefore *jwt.NumericDate `json:"nbf,omitempty"`
	IssuedAt  *jwt.NumericDate `json:"iat,omitempty"`
}

func (c *accessClaims) Valid() error {
	return jwt.RegisteredClaims{ExpiresAt: c.ExpiresAt, NotBefore: c.NotBefore, IssuedAt: c.IssuedAt}.Valid()
}

func (c *accessClaims) principal() (Principal, bool) {
	uid, err := c.Sub.Int64()
	if err != nil || uid <= 0 {
		return Principal{}, false
	}
	if !knownRole(c.Role) {
		return Principal{}, false
	}
	if c.TV == nil || *c.TV < 0 {
		return Principal{}, false
	}
	return Principal{UserID: uid, Role: c.Role, TokenVersion: *c.TV}, true
}

// Bearer トークン（HS256）を検証して Principal を context に置く
func AuthJWT(cfg config.Config) echo.MiddlewareFunc {
	secret := []byte(cfg.JWTSecret)
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw, ok := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if !ok {
				return c.JSON(http.StatusUnauthorized, errorJSON("unauthorized"))
			}

			var claims accessClaims
			token, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
				return secret, nil
			})
			if err != nil || !token.Valid {
				return c.JSON(http.StatusUnauthorized, errorJSON("unauthorized"))
			}

			p, ok := claims.principal()
			if !ok {
				return c.JSON(http.StatusUnauthorized, errorJSON("unauthorized"))
			}
			setPrincipal(c, p)
			return next(c)
		}
	}
}

func bearerToken(authz string) (string, bool) {
	scheme, token, ok := strings.Cut(authz, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

type errorResponse struct {
	Error string `json:"error"`
}

func errorJSON(msg string) errorResponse {
	return errorResponse{Error: msg}
}
