package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/iliyamo/auth-service/internal/model"
)

const userColumns = "id,email,password_hash,role,is_active,is_verified,display_name,created_at,updated_at"

// UserRepo persists accounts in the `users` table.
type UserRepo struct {
	DB  *sql.DB
	now func() time.Time
}

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db, now: utcNow} }

func utcNow() time.Time { return time.Now().UTC() }

// Create inserts u.  Email is normalised to lower case; a duplicate
// yields ErrEmailExists.
func (r *UserRepo) Create(ctx context.Context, u model.User) error {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	now := r.now()
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO users (id, email, password_hash, role, is_active, is_verified, display_name, created_at, updated_at) VALUES (?,?,?,?,?,?,?,?,?)",
		u.ID, u.Email, u.PasswordHash, u.Role, u.IsActive, u.IsVerified, nullString(u.DisplayName), now, now)
	if err != nil {
		if isDuplicate(err) {
			return ErrEmailExists
		}
		return err
	}
	return nil
}

// GetByEmail fetches a user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	row := r.DB.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE email=? LIMIT 1", email)
	return scanUser(row)
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id string) (model.User, error) {
	row := r.DB.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id=? LIMIT 1", id)
	return scanUser(row)
}

// List returns a page of users ordered by creation time plus the total count.
func (r *UserRepo) List(ctx context.Context, limit, offset int) ([]model.User, int, error) {
	var total int
	if err := r.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+userColumns+" FROM users ORDER BY created_at DESC LIMIT ? OFFSET ?", limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := make([]model.User, 0, limit)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, u)
	}
	return out, total, rows.Err()
}

// UpdatePassword replaces the stored hash.
func (r *UserRepo) UpdatePassword(ctx context.Context, id, hash string) error {
	return r.exec(ctx, "UPDATE users SET password_hash=?, updated_at=? WHERE id=?", hash, r.now(), id)
}

// SetVerified marks the email address as verified.
func (r *UserRepo) SetVerified(ctx context.Context, id string) error {
	return r.exec(ctx, "UPDATE users SET is_verified=TRUE, updated_at=? WHERE id=?", r.now(), id)
}

// SetActive activates or deactivates the account.
func (r *UserRepo) SetActive(ctx context.Context, id string, active bool) error {
	return r.exec(ctx, "UPDATE users SET is_active=?, updated_at=? WHERE id=?", active, r.now(), id)
}

// SetRole changes the role.
func (r *UserRepo) SetRole(ctx context.Context, id, role string) error {
	return r.exec(ctx, "UPDATE users SET role=?, updated_at=? WHERE id=?", role, r.now(), id)
}

// UpdateDisplayName sets or clears the display name.
func (r *UserRepo) UpdateDisplayName(ctx context.Context, id string, name *string) error {
	return r.exec(ctx, "UPDATE users SET display_name=?, updated_at=? WHERE id=?", nullString(name), r.now(), id)
}

// Delete removes the user; tokens go with it through ON DELETE CASCADE.
func (r *UserRepo) Delete(ctx context.Context, id string) error {
	return r.exec(ctx, "DELETE FROM users WHERE id=?", id)
}

// exec runs a single-row statement and reports ErrNotFound when it
// matched nothing.
func (r *UserRepo) exec(ctx context.Context, q string, args ...any) error {
	res, err := r.DB.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// MySQL reports 0 for an UPDATE that changed nothing; confirm the row exists.
		var one int
		if err := r.DB.QueryRowContext(ctx, "SELECT 1 FROM users WHERE id=?", args[len(args)-1]).Scan(&one); err != nil {
			return notFound(err)
		}
	}
	return nil
}

func scanUser(s rowScanner) (model.User, error) {
	var (
		u    model.User
		name sql.NullString
	)
	err := s.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.IsActive, &u.IsVerified, &name, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return model.User{}, notFound(err)
	}
	u.DisplayName = strPtr(name)
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return u, nil
}
