package middleware

import (
	"net/http"

	"marketplace/internal/repository"

	"github.com/labstack/echo/v4"
)

// トークンの tv と DB の token_version を突き合わせる。
// 通ったら role は DB の値に置き換える（降格したユーザーの古いトークン対策）
func TokenVersionGuard(userRepo repository.UserRepository) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, ok := PrincipalFrom(c)
			if !ok {
				return c.JSON(http.StatusUnauthorized, errorJSON("unauthorized"))
			}

			user, err := userRepo.FindByID(c.Request().Context(), p.UserID)
			if err != nil || user == nil {
				return c.JSON(http.StatusUnauthorized, errorJSON("unauthorized"))
			}
			// 不一致は強制ログアウト扱い
			if user.TokenVersion != p.TokenVersion {
				return c.JSON(http.StatusUnauthorized, errorJSON("unauthorized"))
			}

			p.Role = user.Role
			p.Verified = true
			setPrincipal(c, p)
			return next(c)
		}
	}
}
