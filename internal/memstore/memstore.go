// Package memstore holds in-memory implementations of the store
// contracts with the same conditional-update semantics as the MySQL
// repositories.  Tests across packages build services on top of it.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/iliyamo/auth-service/internal/model"
	"github.com/iliyamo/auth-service/internal/repository"
)

// Clock returns the time used for liveness checks.
type Clock func() time.Time

func utc() time.Time { return time.Now().UTC() }

// Users implements service.UserStore.
type Users struct {
	mu   sync.Mutex
	byID map[string]model.User
}

func NewUsers() *Users { return &Users{byID: map[string]model.User{}} }

func (s *Users) Create(_ context.Context, u model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	for _, x := range s.byID {
		if x.Email == u.Email {
			return repository.ErrEmailExists
		}
	}
	s.byID[u.ID] = u
	return nil
}

func (s *Users) GetByEmail(_ context.Context, email string) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email = strings.ToLower(strings.TrimSpace(email))
	for _, u := range s.byID {
		if u.Email == email {
			return u, nil
		}
	}
	return model.User{}, repository.ErrNotFound
}

func (s *Users) GetByID(_ context.Context, id string) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return model.User{}, repository.ErrNotFound
	}
	return u, nil
}

func (s *Users) List(_ context.Context, limit, offset int) ([]model.User, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := make([]model.User, 0, len(s.byID))
	for _, u := range s.byID {
		all = append(all, u)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Email < all[j].Email })
	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (s *Users) update(id string, fn func(*model.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	fn(&u)
	u.UpdatedAt = utc()
	s.byID[id] = u
	return nil
}

func (s *Users) UpdatePassword(_ context.Context, id, hash string) error {
	return s.update(id, func(u *model.User) { u.PasswordHash = hash })
}

func (s *Users) SetVerified(_ context.Context, id string) error {
	return s.update(id, func(u *model.User) { u.IsVerified = true })
}

func (s *Users) SetActive(_ context.Context, id string, active bool) error {
	return s.update(id, func(u *model.User) { u.IsActive = active })
}

func (s *Users) SetRole(_ context.Context, id, role string) error {
	return s.update(id, func(u *model.User) { u.Role = role })
}

func (s *Users) UpdateDisplayName(_ context.Context, id string, name *string) error {
	return s.update(id, func(u *model.User) { u.DisplayName = name })
}

func (s *Users) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return repository.ErrNotFound
	}
	delete(s.byID, id)
	return nil
}

// Sessions implements service.SessionStore.  Users, when set, mimics the
// ON DELETE CASCADE of the token tables.
type Sessions struct {
	mu      sync.Mutex
	Now     Clock
	refresh map[string]model.RefreshToken
	oneTime map[model.TokenPurpose]map[string]model.OneTimeToken
	Users   *Users
}

func NewSessions() *Sessions {
	return &Sessions{
		Now:     utc,
		refresh: map[string]model.RefreshToken{},
		oneTime: map[model.TokenPurpose]map[string]model.OneTimeToken{
			model.PurposeVerification: {},
			model.PurposeReset:        {},
		},
	}
}

func (s *Sessions) userGone(id string) bool {
	if s.Users == nil {
		return false
	}
	_, err := s.Users.GetByID(context.Background(), id)
	return err != nil
}

func (s *Sessions) CreateRefreshToken(_ context.Context, t model.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh[t.ID] = t
	return nil
}

func (s *Sessions) FindLiveRefreshToken(_ context.Context, hash string) (model.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.Now()
	for _, t := range s.refresh {
		if t.TokenHash == hash && t.Live(now) && !s.userGone(t.UserID) {
			return t, nil
		}
	}
	return model.RefreshToken{}, repository.ErrNotFound
}

func (s *Sessions) RevokeRefreshToken(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.refresh[id]
	if !ok || t.RevokedAt != nil {
		return false, nil
	}
	now := s.Now()
	t.RevokedAt = &now
	s.refresh[id] = t
	return true, nil
}

func (s *Sessions) RevokeAllForUser(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.Now()
	var n int64
	for id, t := range s.refresh {
		if t.UserID == userID && t.RevokedAt == nil {
			t.RevokedAt = &now
			s.refresh[id] = t
			n++
		}
	}
	return n, nil
}

func (s *Sessions) ListLiveSessions(_ context.Context, userID string) ([]model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.Now()
	var out []model.Session
	for _, t := range s.refresh {
		if t.UserID == userID && t.Live(now) {
			out = append(out, model.Session{ID: t.ID, CreatedAt: t.CreatedAt, UserAgent: t.UserAgent, IPAddress: t.IPAddress})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// RefreshToken returns the stored row by id, live or not.
func (s *Sessions) RefreshToken(id string) (model.RefreshToken, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.refresh[id]
	return t, ok
}

func (s *Sessions) CreateOneTimeToken(_ context.Context, p model.TokenPurpose, t model.OneTimeToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.oneTime[p][t.ID] = t
	return nil
}

func (s *Sessions) FindLiveOneTimeToken(_ context.Context, p model.TokenPurpose, hash string) (model.OneTimeToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.Now()
	for _, t := range s.oneTime[p] {
		if t.TokenHash == hash && t.Live(now) {
			return t, nil
		}
	}
	return model.OneTimeToken{}, repository.ErrNotFound
}

func (s *Sessions) MarkOneTimeTokenUsed(_ context.Context, p model.TokenPurpose, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.oneTime[p][id]
	now := s.Now()
	if !ok || !t.Live(now) {
		return false, nil
	}
	t.UsedAt = &now
	s.oneTime[p][id] = t
	return true, nil
}

// OneTimeTokens lists stored tokens of one purpose for a user.
func (s *Sessions) OneTimeTokens(p model.TokenPurpose, userID string) []model.OneTimeToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.OneTimeToken
	for _, t := range s.oneTime[p] {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out
}

func (s *Sessions) PurgeExpired(_ context.Context, retention time.Duration) (model.PurgeStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.Now()
	cutoff := now.Add(-retention)
	var st model.PurgeStats
	for id, t := range s.refresh {
		if !t.ExpiresAt.After(now) || (t.RevokedAt != nil && !t.RevokedAt.After(cutoff)) {
			delete(s.refresh, id)
			st.RefreshTokens++
		}
	}
	for p, m := range s.oneTime {
		for id, t := range m {
			if !t.ExpiresAt.After(now) || (t.UsedAt != nil && !t.UsedAt.After(cutoff)) {
				delete(m, id)
				if p == model.PurposeVerification {
					st.VerificationTokens++
				} else {
					st.ResetTokens++
				}
			}
		}
	}
	return st, nil
}

// APIKeys implements service.APIKeyStore.
type APIKeys struct {
	mu   sync.Mutex
	Now  Clock
	byID map[string]model.APIKey
}

func NewAPIKeys() *APIKeys { return &APIKeys{Now: utc, byID: map[string]model.APIKey{}} }

func (s *APIKeys) Create(_ context.Context, k model.APIKey) (model.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[k.ID] = k
	return k, nil
}

func (s *APIKeys) GetActiveByHash(_ context.Context, hash string) (model.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.byID {
		if k.KeyHash == hash && k.RevokedAt == nil {
			return k, nil
		}
	}
	return model.APIKey{}, repository.ErrNotFound
}

func (s *APIKeys) GetByID(_ context.Context, id string) (model.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.byID[id]
	if !ok {
		return model.APIKey{}, repository.ErrNotFound
	}
	return k, nil
}

func (s *APIKeys) List(_ context.Context) ([]model.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.APIKey, 0, len(s.byID))
	for _, k := range s.byID {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *APIKeys) RecordUsage(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.byID[id]
	if !ok {
		return nil
	}
	now := s.Now()
	k.UsageCount++
	k.LastUsedAt = &now
	s.byID[id] = k
	return nil
}

func (s *APIKeys) SetExpiry(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.byID[id]
	if !ok {
		return nil
	}
	at = at.UTC()
	k.ExpiresAt = &at
	s.byID[id] = k
	return nil
}

func (s *APIKeys) Revoke(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.byID[id]
	if !ok || k.RevokedAt != nil {
		return nil
	}
	now := s.Now()
	k.RevokedAt = &now
	s.byID[id] = k
	return nil
}
