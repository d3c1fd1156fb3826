package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/auth-service/internal/service"
)

// maxPeekBody bounds the request bodies the limited routes accept.
const maxPeekBody = 64 << 10

var (
	errBodyTooLarge     = errors.New("request body too large")
	errUnsupportedMedia = errors.New("request body must be application/json")
	errUnreadableBody   = errors.New("invalid JSON body")
)

// Admitter is the admission check run before an auth handler
// (ratelimit.Limiter).
type Admitter interface {
	Check(ctx context.Context, ip, email string) error
}

// AuthRateLimit gates login, register and forgot-password.  The email is
// read from a JSON body, which is put back for the handler.  A denial is
// answered with 429 and Retry-After; a failed store under fail-closed
// policy with 503.  A body whose email cannot be read is never admitted:
// oversized bodies get 413, non-JSON bodies 415 and undecodable ones 400.
func AuthRateLimit(l Admitter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			email, err := peekEmail(c.Request())
			switch {
			case errors.Is(err, errBodyTooLarge):
				return c.JSON(http.StatusRequestEntityTooLarge, echo.Map{"error": err.Error()})
			case errors.Is(err, errUnsupportedMedia):
				return c.JSON(http.StatusUnsupportedMediaType, echo.Map{"error": err.Error()})
			case err != nil:
				return c.JSON(http.StatusBadRequest, echo.Map{"error": errUnreadableBody.Error()})
			}
			err = l.Check(c.Request().Context(), c.RealIP(), email)
			if err == nil {
				return next(c)
			}
			if rl, ok := service.AsRateLimited(err); ok {
				c.Response().Header().Set("Retry-After", strconv.Itoa(rl.RetryAfter))
				return c.JSON(http.StatusTooManyRequests, echo.Map{
					"error":       "Too many requests. Please try again later.",
					"retry_after": rl.RetryAfter,
				})
			}
			if errors.Is(err, service.ErrStoreUnavailable) {
				return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "service temporarily unavailable"})
			}
			return err
		}
	}
}

// peekEmail reads the "email" field of a JSON body and restores the body.
// It decodes the way echo's binder does, so the handler sees the same email.
func peekEmail(r *http.Request) (string, error) {
	if r.Body == nil || r.Body == http.NoBody || r.ContentLength == 0 {
		return "", nil
	}
	if r.ContentLength > maxPeekBody {
		return "", errBodyTooLarge
	}
	if !strings.HasPrefix(r.Header.Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		return "", errUnsupportedMedia
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPeekBody+1))
	if err != nil {
		return "", err
	}
	if len(body) > maxPeekBody {
		return "", errBodyTooLarge
	}
	r.Body = readCloser{bytes.NewReader(body), r.Body}
	if len(bytes.TrimSpace(body)) == 0 {
		return "", nil
	}
	var payload struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&payload); err != nil {
		return "", errors.Join(errUnreadableBody, err)
	}
	return strings.ToLower(strings.TrimSpace(payload.Email)), nil
}

type readCloser struct {
	io.Reader
	io.Closer
}
