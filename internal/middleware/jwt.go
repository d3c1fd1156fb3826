package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/auth-service/internal/model"
	"github.com/iliyamo/auth-service/internal/service"
	"github.com/iliyamo/auth-service/internal/utils"
)

// AccessParser validates access tokens (service.TokenService).
type AccessParser interface {
	ParseAccess(token string) (*utils.Claims, error)
}

// AccountLookup loads the account behind a token (service.AuthService).
type AccountLookup interface {
	Me(ctx context.Context, userID string) (model.User, error)
}

// JWTAuth validates the Bearer access token and rejects accounts that no
// longer exist or were deactivated after the token was issued.  On
// success the user id and role are stored under CtxUserID and CtxRole.
// The role comes from the account, so a demotion takes effect at once.
func JWTAuth(tokens AccessParser, accounts AccountLookup, log *zap.Logger) echo.MiddlewareFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get(echo.HeaderAuthorization)
			scheme, raw, ok := strings.Cut(auth, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(raw) == "" {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			claims, err := tokens.ParseAccess(strings.TrimSpace(raw))
			if err != nil {
				msg := "invalid token"
				if errors.Is(err, utils.ErrTokenExpired) {
					msg = "token expired"
				}
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": msg})
			}
			u, err := accounts.Me(c.Request().Context(), claims.Subject)
			if err != nil {
				if errors.Is(err, service.ErrNotFound) {
					return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
				}
				log.Error("jwt auth: account lookup failed", zap.Error(err))
				return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
			}
			if !u.IsActive {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": service.ErrAccountInactive.Error()})
			}
			c.Set(CtxUserID, u.ID)
			c.Set(CtxRole, u.Role)
			return next(c)
		}
	}
}
