// Package router wires handlers and middleware onto an Echo instance.
package router

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/auth-service/internal/handler"
	"github.com/iliyamo/auth-service/internal/metrics"
	"github.com/iliyamo/auth-service/internal/middleware"
	"github.com/iliyamo/auth-service/internal/model"
	"github.com/iliyamo/auth-service/internal/service"
)

// Deps is everything the routes need.  Limiter may be nil to disable
// admission control; Metrics may be nil to skip /metrics.
type Deps struct {
	Auth    *service.AuthService
	Tokens  *service.TokenService
	Keys    *service.APIKeyService
	Limiter middleware.Admitter
	DB      handler.Pinger
	Metrics http.Handler
	Log     *zap.Logger
}

// New builds a configured Echo with every route registered.
func New(d Deps, ip echo.IPExtractor) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	if ip != nil {
		e.IPExtractor = ip
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	e.Use(middleware.RequestLogger(d.Log.Named("http")))
	e.Use(metrics.Middleware())
	e.Use(middleware.SecurityHeaders())

	RegisterRoutes(e, d)
	RegisterAuth(e, d)
	RegisterAdmin(e, d)
	RegisterKeys(e, d)
	return e
}

// RegisterRoutes registers the unauthenticated operational endpoints.
func RegisterRoutes(e *echo.Echo, d Deps) {
	e.GET("/healthz", handler.Health(d.DB))
	if d.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(d.Metrics))
	}
}

// RegisterAuth registers /v1/auth.  Login, register and forgot-password
// pass through the admission limiter.
func RegisterAuth(e *echo.Echo, d Deps) {
	a := handler.NewAuthHandler(d.Auth, d.Tokens, d.Log.Named("auth"))
	limited := []echo.MiddlewareFunc{}
	if d.Limiter != nil {
		limited = append(limited, middleware.AuthRateLimit(d.Limiter))
	}

	g := e.Group("/v1/auth")
	g.POST("/register", a.Register, limited...)
	g.POST("/login", a.Login, limited...)
	g.POST("/forgot-password", a.ForgotPassword, limited...)
	g.POST("/refresh", a.Refresh)
	g.POST("/reset-password", a.ResetPassword)
	g.POST("/verify-email", a.VerifyEmail)

	authed := e.Group("/v1/auth", middleware.JWTAuth(d.Tokens, d.Auth, d.Log))
	authed.POST("/logout", a.Logout)
	authed.POST("/logout-all", a.LogoutAll)
	authed.GET("/sessions", a.Sessions)
	authed.GET("/me", a.Me)
	authed.PUT("/me", a.UpdateMe)
	authed.DELETE("/me", a.DeleteMe)
	authed.PUT("/password", a.ChangePassword)
}

// RegisterAdmin registers /v1/admin for admins only.
func RegisterAdmin(e *echo.Echo, d Deps) {
	h := handler.NewAdminHandler(d.Auth, d.Log.Named("admin"))
	g := e.Group("/v1/admin",
		middleware.JWTAuth(d.Tokens, d.Auth, d.Log),
		middleware.RequireRole(model.RoleAdmin))
	g.GET("/users", h.ListUsers)
	g.PUT("/users/:id/role", h.SetRole)
	g.PUT("/users/:id/active", h.SetActive)
}

// RegisterKeys registers API-key management (admin) and the machine
// endpoint authenticated by X-API-Key.
func RegisterKeys(e *echo.Echo, d Deps) {
	h := handler.NewKeysHandler(d.Keys, d.Log.Named("keys"))
	g := e.Group("/v1/keys",
		middleware.JWTAuth(d.Tokens, d.Auth, d.Log),
		middleware.RequireRole(model.RoleAdmin))
	g.POST("", h.Create)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.POST("/:id/rotate", h.Rotate)
	g.DELETE("/:id", h.Revoke)

	m := e.Group("/v1/machine", middleware.APIKeyAuth(d.Keys, d.Log.Named("apikey")))
	m.GET("/whoami", h.WhoAmI)
}
