package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hitoshi/librarian/internal/model"
	"github.com/hitoshi/librarian/internal/repository"
)

// UserRepo はインメモリのユーザーリポジトリ。
type UserRepo struct {
	s *Store
}

func (r *UserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	u, ok := r.s.users[id]
	if !ok || u.DeletedAt != nil {
		return nil, nil
	}
	return copyUser(u), nil
}

func (r *UserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.findByEmailLocked(email, ""), nil
}

func (r *UserRepo) findByEmailLocked(email, exceptID string) *model.User {
	for _, u := range r.s.users {
		if u.DeletedAt == nil && u.ID != exceptID && equalFold(u.Email, email) {
			return copyUser(u)
		}
	}
	return nil
}

func (r *UserRepo) Create(ctx context.Context, user *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.findByEmailLocked(user.Email, "") != nil {
		return fmt.Errorf("failed to insert user: %w", repository.ErrUniqueViolation)
	}
	r.s.users[user.ID] = copyUser(user)
	return nil
}

func (r *UserRepo) Update(ctx context.Context, user *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	existing, ok := r.s.users[user.ID]
	if !ok || existing.DeletedAt != nil {
		return fmt.Errorf("user %s: %w", user.ID, repository.ErrNotFound)
	}
	if r.findByEmailLocked(user.Email, user.ID) != nil {
		return fmt.Errorf("failed to update user: %w", repository.ErrUniqueViolation)
	}
	updated := copyUser(user)
	updated.CreatedAt = existing.CreatedAt
	r.s.users[user.ID] = updated
	return nil
}

func (r *UserRepo) List(ctx context.Context, page model.Page) ([]*model.User, int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	users := make([]*model.User, 0, len(r.s.users))
	for _, u := range r.s.users {
		if u.DeletedAt == nil {
			users = append(users, copyUser(u))
		}
	}
	sort.Slice(users, func(i, j int) bool {
		a, b := strings.ToLower(users[i].Email), strings.ToLower(users[j].Email)
		if a != b {
			return a < b
		}
		return users[i].ID < users[j].ID
	})
	return paginate(users, page), len(users), nil
}

func (r *UserRepo) SoftDelete(ctx context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok || u.DeletedAt != nil {
		return fmt.Errorf("user %s: %w", id, repository.ErrNotFound)
	}
	deleted := copyUser(u)
	deleted.DeletedAt = &at
	deleted.UpdatedAt = at
	r.s.users[id] = deleted
	return nil
}

// SessionRepo はインメモリのセッションリポジトリ。
type SessionRepo struct {
	s *Store
}

func (r *SessionRepo) Create(ctx context.Context, session *model.Session) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := *session
	r.s.sessions[session.ID] = &c
	return nil
}

func (r *SessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	sess, ok := r.s.sessions[id]
	if !ok || !sess.ExpiresAt.After(r.s.now()) {
		return nil, nil
	}
	c := *sess
	return &c, nil
}

func (r *SessionRepo) DeleteByID(ctx context.Context, id string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.sessions[id]; !ok {
		return false, nil
	}
	delete(r.s.sessions, id)
	return true, nil
}

func (r *SessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, sess := range r.s.sessions {
		if sess.UserID == userID {
			delete(r.s.sessions, id)
		}
	}
	return nil
}

// DeleteExpired は期限切れのセッションを削除し、削除件数を返す。
func (r *SessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := r.s.now()
	var n int64
	for id, sess := range r.s.sessions {
		if !sess.ExpiresAt.After(now) {
			delete(r.s.sessions, id)
			n++
		}
	}
	return n, nil
}

// compile-time interface check
var (
	_ repository.UserRepository    = (*UserRepo)(nil)
	_ repository.SessionRepository = (*SessionRepo)(nil)
)
