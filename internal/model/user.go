package model

import "time"

// Roles recognised by the service.  They are stored verbatim in
// users.role and embedded in the access token "role" claim.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User represents an account record as stored in the `users` table.
// Email is always lower-cased before it reaches the store; the column
// carries a unique index so duplicates are rejected by MySQL itself.
//
// Fields:
//
//	ID           – UUID primary key.
//	Email        – unique, lower-case address.
//	PasswordHash – argon2id PHC string ($argon2id$v=19$...).
//	Role         – RoleUser or RoleAdmin.
//	IsActive     – deactivated accounts are rejected at every entry point.
//	IsVerified   – set once the email verification token is consumed.
//	DisplayName  – optional profile field (nullable).
//	CreatedAt    – timestamp of creation.
//	UpdatedAt    – timestamp of last update.
type User struct {
	ID           string    // users.id
	Email        string    // users.email
	PasswordHash string    // users.password_hash
	Role         string    // users.role
	IsActive     bool      // users.is_active
	IsVerified   bool      // users.is_verified
	DisplayName  *string   // users.display_name (nullable)
	CreatedAt    time.Time // users.created_at
	UpdatedAt    time.Time // users.updated_at
}

// IsAdmin reports whether the user carries the admin role.
func (u User) IsAdmin() bool { return u.Role == RoleAdmin }
