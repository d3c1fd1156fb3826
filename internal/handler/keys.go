package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/auth-service/internal/middleware"
	"github.com/iliyamo/auth-service/internal/service"
)

// KeysHandler serves the admin API-key endpoints under /v1/keys and the
// machine endpoint behind APIKeyAuth.
type KeysHandler struct {
	Keys *service.APIKeyService
	Log  *zap.Logger
}

func NewKeysHandler(k *service.APIKeyService, log *zap.Logger) *KeysHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &KeysHandler{Keys: k, Log: log}
}

func (h *KeysHandler) Create(c echo.Context) error {
	var req createKeyReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	k, raw, err := h.Keys.Create(ctx, req.Name, middleware.UserID(c), req.ExpiresAt, req.RateLimit)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusCreated, createdKeyView{APIKey: k, Key: raw})
}

func (h *KeysHandler) List(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	keys, err := h.Keys.List(ctx)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"data": keys})
}

func (h *KeysHandler) Get(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	k, err := h.Keys.Get(ctx, c.Param("id"))
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, k)
}

// Rotate takes ?grace_hours= (default 24).
func (h *KeysHandler) Rotate(c echo.Context) error {
	grace := queryInt(c, "grace_hours", service.DefaultGraceHours)
	if grace < 0 {
		return badRequest(c, "grace_hours must be a non-negative integer")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	k, raw, err := h.Keys.Rotate(ctx, c.Param("id"), grace)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, createdKeyView{APIKey: k, Key: raw})
}

func (h *KeysHandler) Revoke(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	if err := h.Keys.Revoke(ctx, c.Param("id")); err != nil {
		return writeError(c, h.Log, err)
	}
	return message(c, http.StatusOK, "API key revoked.")
}

// WhoAmI echoes the calling key's metadata.
func (h *KeysHandler) WhoAmI(c echo.Context) error {
	k, ok := middleware.APIKey(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing API key"})
	}
	return c.JSON(http.StatusOK, k)
}
