package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/auth-service/internal/middleware"
	"github.com/iliyamo/auth-service/internal/service"
)

// AdminHandler serves /v1/admin; the router restricts it to admins.
type AdminHandler struct {
	Auth *service.AuthService
	Log  *zap.Logger
}

func NewAdminHandler(a *service.AuthService, log *zap.Logger) *AdminHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AdminHandler{Auth: a, Log: log}
}

// ListUsers pages with ?page=&per_page= (per_page at most 100).
func (h *AdminHandler) ListUsers(c echo.Context) error {
	page := queryInt(c, "page", 1)
	perPage := queryInt(c, "per_page", 20)
	if page < 1 || perPage < 1 || perPage > 100 {
		return badRequest(c, "page must be >= 1 and per_page between 1 and 100")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	users, total, err := h.Auth.ListUsers(ctx, perPage, (page-1)*perPage)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	data := make([]userView, 0, len(users))
	for _, u := range users {
		data = append(data, viewUser(u))
	}
	return c.JSON(http.StatusOK, echo.Map{
		"data": data,
		"pagination": pagination{
			Page: page, PerPage: perPage, Total: total,
			TotalPages: (total + perPage - 1) / perPage,
		},
	})
}

func (h *AdminHandler) SetRole(c echo.Context) error {
	var req roleReq
	if err := c.Bind(&req); err != nil || req.Role == "" {
		return badRequest(c, "role required")
	}
	id := c.Param("id")
	ctx, cancel := reqCtx(c)
	defer cancel()
	if err := h.Auth.SetRole(ctx, actor(c), id, req.Role); err != nil {
		return writeError(c, h.Log, err)
	}
	h.Log.Info("user role changed", zap.String("user_id", id), zap.String("role", req.Role),
		zap.String("changed_by", middleware.UserID(c)))
	u, err := h.Auth.Me(ctx, id)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, viewUser(u))
}

// SetActive toggles an account; an admin cannot deactivate themself.
func (h *AdminHandler) SetActive(c echo.Context) error {
	var req activeReq
	if err := c.Bind(&req); err != nil || req.IsActive == nil {
		return badRequest(c, "is_active required")
	}
	id := c.Param("id")
	if !*req.IsActive && id == middleware.UserID(c) {
		return badRequest(c, "cannot deactivate your own account")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	if err := h.Auth.SetActive(ctx, actor(c), id, *req.IsActive); err != nil {
		return writeError(c, h.Log, err)
	}
	h.Log.Info("user active flag changed", zap.String("user_id", id), zap.Bool("is_active", *req.IsActive),
		zap.String("changed_by", middleware.UserID(c)))
	u, err := h.Auth.Me(ctx, id)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, viewUser(u))
}

func actor(c echo.Context) service.Actor {
	return service.Actor{ID: middleware.UserID(c), IP: c.RealIP(), UserAgent: c.Request().UserAgent()}
}

func queryInt(c echo.Context, name string, def int) int {
	v := c.QueryParam(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return -1
	}
	return n
}
