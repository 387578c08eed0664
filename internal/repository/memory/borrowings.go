package memory

import (
	"context"
	"sort"
	"time"

	"github.com/hitoshi/librarian/internal/model"
	"github.com/hitoshi/librarian/internal/repository"
)

// BorrowingRepo はインメモリの貸出リポジトリ。
type BorrowingRepo struct {
	s *Store
}

func (r *BorrowingRepo) FindByID(ctx context.Context, id string) (*model.BorrowingDetail, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	b, ok := r.s.borrowings[id]
	if !ok || b.DeletedAt != nil {
		return nil, nil
	}
	return r.s.detailLocked(b), nil
}

func (r *BorrowingRepo) FindActive(ctx context.Context, userID, bookID string) (*model.Borrowing, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	list := r.s.liveBorrowingsLocked(func(b *model.Borrowing) bool {
		return b.UserID == userID && b.BookID == bookID && b.IsActive()
	})
	if len(list) == 0 {
		return nil, nil
	}
	return copyBorrowing(list[0]), nil
}

func matchScopeStatus(scope model.Scope, status model.BorrowingStatus, now time.Time) func(b *model.Borrowing) bool {
	return func(b *model.Borrowing) bool {
		if !scope.All() && b.UserID != scope.UserID {
			return false
		}
		switch status {
		case model.BorrowingStatusActive:
			return b.IsActive()
		case model.BorrowingStatusReturned:
			return b.IsReturned()
		case model.BorrowingStatusOverdue:
			return b.IsOverdue(now)
		default:
			return true
		}
	}
}

func (r *BorrowingRepo) List(ctx context.Context, scope model.Scope, status model.BorrowingStatus, now time.Time, page model.Page) ([]*model.BorrowingDetail, int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	list := r.s.liveBorrowingsLocked(matchScopeStatus(scope, status, now))
	sortNewestFirst(list)

	details := make([]*model.BorrowingDetail, 0)
	for _, b := range paginate(list, page) {
		details = append(details, r.s.detailLocked(b))
	}
	return details, len(list), nil
}

func (r *BorrowingRepo) ListOverdue(ctx context.Context, scope model.Scope, now time.Time, limit int) ([]*model.BorrowingDetail, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.s.overdueLocked(scope, now, limit), nil
}

func (s *Store) overdueLocked(scope model.Scope, now time.Time, limit int) []*model.BorrowingDetail {
	list := s.liveBorrowingsLocked(matchScopeStatus(scope, model.BorrowingStatusOverdue, now))
	sort.Slice(list, func(i, j int) bool {
		if !list[i].DueDate.Equal(list[j].DueDate) {
			return list[i].DueDate.Before(list[j].DueDate)
		}
		return list[i].ID < list[j].ID
	})
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	details := make([]*model.BorrowingDetail, 0, len(list))
	for _, b := range list {
		details = append(details, s.detailLocked(b))
	}
	return details
}

func (r *BorrowingRepo) ListActiveByUser(ctx context.Context, userID string) ([]*model.Borrowing, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	list := r.s.liveBorrowingsLocked(func(b *model.Borrowing) bool {
		return b.UserID == userID && b.IsActive()
	})
	sort.Slice(list, func(i, j int) bool { return list[i].DueDate.Before(list[j].DueDate) })
	out := make([]*model.Borrowing, 0, len(list))
	for _, b := range list {
		out = append(out, copyBorrowing(b))
	}
	return out, nil
}

func (r *BorrowingRepo) SoftDeleteReturnedByUser(ctx context.Context, userID string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, b := range r.s.borrowings {
		if b.UserID == userID && b.IsReturned() && b.DeletedAt == nil {
			deleted := copyBorrowing(b)
			deleted.DeletedAt = &at
			deleted.UpdatedAt = at
			r.s.borrowings[id] = deleted
		}
	}
	return nil
}

// compile-time interface check
var _ repository.BorrowingRepository = (*BorrowingRepo)(nil)
