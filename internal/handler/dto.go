package handler

import (
	"time"

	"github.com/iliyamo/auth-service/internal/model"
)

type credentialsReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshReq struct {
	RefreshToken string `json:"refresh_token"`
}

type emailReq struct {
	Email string `json:"email"`
}

type tokenReq struct {
	Token string `json:"token"`
}

type resetReq struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

type changePasswordReq struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

type updateMeReq struct {
	DisplayName string `json:"display_name"`
}

type passwordReq struct {
	Password string `json:"password"`
}

type roleReq struct {
	Role string `json:"role"`
}

type activeReq struct {
	IsActive *bool `json:"is_active"`
}

type createKeyReq struct {
	Name      string     `json:"name"`
	ExpiresAt *time.Time `json:"expires_at"`
	RateLimit *int       `json:"rate_limit"`
}

// userView is the public shape of an account; the hash never leaves.
type userView struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	Role        string    `json:"role"`
	IsActive    bool      `json:"is_active"`
	IsVerified  bool      `json:"is_verified"`
	DisplayName *string   `json:"display_name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func viewUser(u model.User) userView {
	return userView{
		ID: u.ID, Email: u.Email, Role: u.Role, IsActive: u.IsActive, IsVerified: u.IsVerified,
		DisplayName: u.DisplayName, CreatedAt: u.CreatedAt, UpdatedAt: u.UpdatedAt,
	}
}

// createdKeyView adds the raw key, shown exactly once.
type createdKeyView struct {
	model.APIKey
	Key string `json:"key"`
}

type pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}
