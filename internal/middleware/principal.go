package middleware

import (
	"marketplace/internal/domain/model"

	"github.com/labstack/echo/v4"
)

// 認証済みの呼び出し元。AuthJWT が作り、TokenVersionGuard が DB の値で確定させる
type Principal struct {
	UserID       int64
	Role         model.Role
	TokenVersion int
	// DB で確認済みか
	Verified bool
}

const ctxPrincipalKey = "marketplace.principal"

func setPrincipal(c echo.Context, p Principal) {
	c.Set(ctxPrincipalKey, p)
}

// PrincipalFrom は AuthJWT を通ったリクエストの呼び出し元を返す
func PrincipalFrom(c echo.Context) (Principal, bool) {
	p, ok := c.Get(ctxPrincipalKey).(Principal)
	if !ok || p.UserID <= 0 {
		return Principal{}, false
	}
	return p, true
}

func knownRole(r model.Role) bool {
	switch r {
	case model.RoleCustomer, model.RoleStaff, model.RoleAdmin:
		return true
	}
	return false
}
