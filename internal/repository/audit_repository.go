package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/iliyamo/auth-service/internal/model"
)

// AuditRepo appends to the `audit_log` table.  Rows are never updated.
type AuditRepo struct {
	DB *sql.DB
}

func NewAuditRepo(db *sql.DB) *AuditRepo { return &AuditRepo{DB: db} }

// Insert writes e.  A missing ID or CreatedAt is filled in; Details is
// stored as JSON.
func (r *AuditRepo) Insert(ctx context.Context, e model.AuditEvent) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = utcNow()
	}
	var details sql.NullString
	if e.Details != nil {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("encode audit details: %w", err)
		}
		details = sql.NullString{String: string(b), Valid: true}
	}
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO audit_log (id, user_id, event, ip_address, user_agent, details, created_at) VALUES (?,?,?,?,?,?,?)",
		e.ID, nullString(e.UserID), e.Event, nullString(e.IPAddress), nullString(e.UserAgent), details, e.CreatedAt)
	return err
}
