package memory

import (
	"context"
	"sort"
	"time"

	"github.com/hitoshi/librarian/internal/model"
	"github.com/hitoshi/librarian/internal/repository"
)

// DashboardRepo はインメモリのダッシュボード集計。
type DashboardRepo struct {
	s *Store
}

func (r *DashboardRepo) LibrarianStats(ctx context.Context, now, dayStart, dayEnd time.Time) (*repository.LibrarianStats, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	stats := &repository.LibrarianStats{}
	for _, b := range r.s.books {
		if b.DeletedAt == nil {
			stats.TotalBooks++
			if b.IsAvailable() {
				stats.TotalAvailableBooks++
			}
		}
	}
	for _, u := range r.s.users {
		if u.DeletedAt == nil && u.IsMember() {
			stats.TotalMembers++
		}
	}

	overdueMembers := make(map[string]struct{})
	for _, b := range r.s.liveBorrowingsLocked(func(b *model.Borrowing) bool { return b.IsActive() }) {
		stats.TotalBorrowedBooks++
		if !b.DueDate.Before(dayStart) && b.DueDate.Before(dayEnd) {
			stats.BooksDueToday++
		}
		if b.IsOverdue(now) {
			stats.OverdueBooks++
			if u, ok := r.s.users[b.UserID]; ok && u.DeletedAt == nil && u.IsMember() {
				overdueMembers[b.UserID] = struct{}{}
			}
		}
	}
	stats.MembersWithOverdueBooks = len(overdueMembers)
	return stats, nil
}

func (r *DashboardRepo) RecentBorrowings(ctx context.Context, limit int) ([]*model.BorrowingDetail, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	list := r.s.liveBorrowingsLocked(nil)
	sortNewestFirst(list)
	return r.details(list, limit), nil
}

func (r *DashboardRepo) PopularBooks(ctx context.Context, limit int) ([]*model.Book, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	books := make([]*model.Book, 0)
	for _, b := range r.s.books {
		if b.DeletedAt == nil && b.BorrowingsCount > 0 {
			books = append(books, copyBook(b))
		}
	}
	sort.Slice(books, func(i, j int) bool {
		if books[i].BorrowingsCount != books[j].BorrowingsCount {
			return books[i].BorrowingsCount > books[j].BorrowingsCount
		}
		if books[i].Title != books[j].Title {
			return books[i].Title < books[j].Title
		}
		return books[i].ID < books[j].ID
	})
	if limit > 0 && len(books) > limit {
		books = books[:limit]
	}
	return books, nil
}

func (r *DashboardRepo) MemberStats(ctx context.Context, userID string, now, soonUntil time.Time) (*repository.MemberStats, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	stats := &repository.MemberStats{}
	for _, b := range r.s.liveBorrowingsLocked(func(b *model.Borrowing) bool { return b.UserID == userID }) {
		stats.TotalBorrowed++
		if !b.IsActive() {
			continue
		}
		stats.ActiveBorrowings++
		if b.DueDate.Before(now) {
			stats.OverdueBooks++
		}
		if !b.DueDate.After(soonUntil) {
			stats.BooksDueSoon++
		}
	}
	return stats, nil
}

func (r *DashboardRepo) ActiveBorrowingsByUser(ctx context.Context, userID string) ([]*model.BorrowingDetail, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	list := r.s.liveBorrowingsLocked(func(b *model.Borrowing) bool { return b.UserID == userID && b.IsActive() })
	sort.Slice(list, func(i, j int) bool {
		if !list[i].DueDate.Equal(list[j].DueDate) {
			return list[i].DueDate.Before(list[j].DueDate)
		}
		return list[i].ID < list[j].ID
	})
	return r.details(list, 0), nil
}

func (r *DashboardRepo) ReturnedBorrowingsByUser(ctx context.Context, userID string, limit int) ([]*model.BorrowingDetail, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	list := r.s.liveBorrowingsLocked(func(b *model.Borrowing) bool { return b.UserID == userID && b.IsReturned() })
	sort.Slice(list, func(i, j int) bool {
		if !list[i].ReturnedAt.Equal(*list[j].ReturnedAt) {
			return list[i].ReturnedAt.After(*list[j].ReturnedAt)
		}
		return list[i].ID > list[j].ID
	})
	return r.details(list, limit), nil
}

// details は呼び出し側で mu を保持したまま明細へ変換する。
func (r *DashboardRepo) details(list []*model.Borrowing, limit int) []*model.BorrowingDetail {
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	out := make([]*model.BorrowingDetail, 0, len(list))
	for _, b := range list {
		out = append(out, r.s.detailLocked(b))
	}
	return out
}

// compile-time interface check
var _ repository.DashboardRepository = (*DashboardRepo)(nil)
