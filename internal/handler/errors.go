package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/auth-service/internal/service"
	"github.com/iliyamo/auth-service/internal/utils"
)

// statusOf maps business errors onto HTTP statuses.  Anything not listed
// is an internal error.
var statusOf = []struct {
	err    error
	status int
}{
	{service.ErrInvalidCredentials, http.StatusUnauthorized},
	{service.ErrInvalidToken, http.StatusUnauthorized},
	{service.ErrAccountInactive, http.StatusForbidden},
	{service.ErrAccountUnverified, http.StatusForbidden},
	{service.ErrNotOwner, http.StatusForbidden},
	{service.ErrDuplicateEmail, http.StatusConflict},
	{service.ErrWeakPassword, http.StatusBadRequest},
	{service.ErrBreachedPassword, http.StatusBadRequest},
	{service.ErrInvalidInput, http.StatusBadRequest},
	{service.ErrNotFound, http.StatusNotFound},
	{service.ErrStoreUnavailable, http.StatusServiceUnavailable},
	{utils.ErrHasherClosed, http.StatusServiceUnavailable},
}

// writeError renders err as {"error": "..."}.  Unknown errors are logged
// and answered with a generic 500 so internals never reach the client.
func writeError(c echo.Context, log *zap.Logger, err error) error {
	if rl, ok := service.AsRateLimited(err); ok {
		c.Response().Header().Set("Retry-After", strconv.Itoa(rl.RetryAfter))
		return c.JSON(http.StatusTooManyRequests, echo.Map{
			"error":       "Too many requests. Please try again later.",
			"retry_after": rl.RetryAfter,
		})
	}
	for _, m := range statusOf {
		if errors.Is(err, m.err) {
			return c.JSON(m.status, echo.Map{"error": err.Error()})
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		log.Warn("request timed out", zap.String("path", c.Path()), zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "request timed out"})
	}
	log.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
}

func message(c echo.Context, status int, msg string) error {
	return c.JSON(status, echo.Map{"message": msg})
}
