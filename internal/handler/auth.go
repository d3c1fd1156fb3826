package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/auth-service/internal/middleware"
	"github.com/iliyamo/auth-service/internal/service"
)

const requestTimeout = 5 * time.Second

// Messages whose wording is part of the contract.
const (
	msgRegistered = "Registration successful. Please check your email to verify your account."
	msgForgot     = "If an account with that email exists, a password reset link has been sent."
)

// AuthHandler serves /v1/auth.
type AuthHandler struct {
	Auth   *service.AuthService
	Tokens *service.TokenService
	Log    *zap.Logger
}

func NewAuthHandler(a *service.AuthService, t *service.TokenService, log *zap.Logger) *AuthHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthHandler{Auth: a, Tokens: t, Log: log}
}

func reqCtx(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), requestTimeout)
}

func sessionMeta(c echo.Context) service.SessionMeta {
	return service.SessionMeta{UserAgent: c.Request().UserAgent(), IP: c.RealIP()}
}

// Register creates an account; tokens come only after verification.
func (h *AuthHandler) Register(c echo.Context) error {
	var req credentialsReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	if req.Email == "" || req.Password == "" {
		return badRequest(c, "email/password required")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	if _, err := h.Auth.Register(ctx, req.Email, req.Password); err != nil {
		return writeError(c, h.Log, err)
	}
	return message(c, http.StatusCreated, msgRegistered)
}

// Login verifies credentials and returns a token pair.
func (h *AuthHandler) Login(c echo.Context) error {
	var req credentialsReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	if req.Email == "" || req.Password == "" {
		return badRequest(c, "email/password required")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	res, err := h.Auth.Login(ctx, req.Email, req.Password, sessionMeta(c))
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"access_token":  res.AccessToken,
		"refresh_token": res.RefreshToken,
		"token_type":    res.TokenType,
		"expires_at":    res.ExpiresAt,
		"user":          viewUser(res.User),
	})
}

// Refresh rotates the presented refresh token.
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshReq
	if err := c.Bind(&req); err != nil || req.RefreshToken == "" {
		return badRequest(c, "refresh_token required")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	pair, err := h.Tokens.Rotate(ctx, req.RefreshToken)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, pair)
}

// ForgotPassword answers identically whether or not the email exists.
func (h *AuthHandler) ForgotPassword(c echo.Context) error {
	var req emailReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	if req.Email != "" {
		ctx, cancel := reqCtx(c)
		defer cancel()
		h.Auth.ForgotPassword(ctx, req.Email)
	}
	return message(c, http.StatusOK, msgForgot)
}

func (h *AuthHandler) ResetPassword(c echo.Context) error {
	var req resetReq
	if err := c.Bind(&req); err != nil || req.Token == "" || req.NewPassword == "" {
		return badRequest(c, "token/new_password required")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	if err := h.Auth.ResetPassword(ctx, req.Token, req.NewPassword); err != nil {
		return h.singleUseError(c, err)
	}
	return message(c, http.StatusOK, "Password has been reset. Please log in with your new password.")
}

func (h *AuthHandler) VerifyEmail(c echo.Context) error {
	var req tokenReq
	if err := c.Bind(&req); err != nil || req.Token == "" {
		return badRequest(c, "token required")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	if err := h.Auth.VerifyEmail(ctx, req.Token); err != nil {
		return h.singleUseError(c, err)
	}
	return message(c, http.StatusOK, "Email verified successfully. You can now log in.")
}

// singleUseError reports a bad verification or reset token as 400; the
// client sent a link that no longer works, not a bad credential.
func (h *AuthHandler) singleUseError(c echo.Context, err error) error {
	if errors.Is(err, service.ErrInvalidToken) {
		return badRequest(c, err.Error())
	}
	return writeError(c, h.Log, err)
}

// ----- authenticated -----

func (h *AuthHandler) Logout(c echo.Context) error {
	var req refreshReq
	if err := c.Bind(&req); err != nil || req.RefreshToken == "" {
		return badRequest(c, "refresh_token required")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	if err := h.Tokens.RevokeOne(ctx, req.RefreshToken, middleware.UserID(c)); err != nil {
		if errors.Is(err, service.ErrInvalidToken) {
			return badRequest(c, err.Error())
		}
		return writeError(c, h.Log, err)
	}
	return message(c, http.StatusOK, "Logged out successfully.")
}

func (h *AuthHandler) LogoutAll(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	n, err := h.Tokens.RevokeAll(ctx, middleware.UserID(c))
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "All sessions revoked.", "revoked": n})
}

func (h *AuthHandler) Sessions(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	sessions, err := h.Tokens.Sessions(ctx, middleware.UserID(c))
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, sessions)
}

func (h *AuthHandler) Me(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	u, err := h.Auth.Me(ctx, middleware.UserID(c))
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, viewUser(u))
}

func (h *AuthHandler) UpdateMe(c echo.Context) error {
	var req updateMeReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	u, err := h.Auth.UpdateMe(ctx, middleware.UserID(c), req.DisplayName)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, viewUser(u))
}

func (h *AuthHandler) DeleteMe(c echo.Context) error {
	var req passwordReq
	if err := c.Bind(&req); err != nil || req.Password == "" {
		return badRequest(c, "password required")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	if err := h.Auth.DeleteMe(ctx, middleware.UserID(c), req.Password); err != nil {
		return writeError(c, h.Log, err)
	}
	return message(c, http.StatusOK, "Account deleted successfully.")
}

func (h *AuthHandler) ChangePassword(c echo.Context) error {
	var req changePasswordReq
	if err := c.Bind(&req); err != nil || req.OldPassword == "" || req.NewPassword == "" {
		return badRequest(c, "old_password/new_password required")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	if err := h.Auth.ChangePassword(ctx, middleware.UserID(c), req.OldPassword, req.NewPassword); err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			return badRequest(c, "current password is incorrect")
		}
		return writeError(c, h.Log, err)
	}
	return message(c, http.StatusOK, "Password changed. Please log in again.")
}
