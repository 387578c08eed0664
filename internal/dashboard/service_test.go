package dashboard

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/librarian/internal/borrowing"
	"github.com/hitoshi/librarian/internal/model"
	"github.com/hitoshi/librarian/internal/repository/memory"
)

type fixture struct {
	store  *memory.Store
	ledger *borrowing.Service
	now    time.Time
}

func (f *fixture) clock() time.Time { return f.now }

func newFixture(t *testing.T, start time.Time) *fixture {
	t.Helper()
	f := &fixture{store: memory.NewStore(time.Second), now: start}
	f.ledger = borrowing.NewService(f.store.Books(), f.store.Borrowings(), f.store.Locker(), nil, borrowing.Config{Now: f.clock})
	return f
}

func (f *fixture) service(window time.Duration) *Service {
	return NewService(f.store.Dashboard(), f.store.Borrowings(), Config{DueSoonWindow: window, Now: f.clock})
}

func (f *fixture) user(t *testing.T, email string, role model.Role) *model.User {
	t.Helper()
	u := &model.User{ID: uuid.New().String(), Email: email, Role: role, CreatedAt: f.now, UpdatedAt: f.now}
	require.NoError(t, f.store.Users().Create(context.Background(), u))
	return u
}

func (f *fixture) book(t *testing.T, title string, copies int) *model.Book {
	t.Helper()
	b := &model.Book{
		ID: uuid.New().String(), Title: title, Author: "Author", Genre: "Genre", ISBN: title,
		TotalCopies: copies, AvailableCopies: copies, CreatedAt: f.now, UpdatedAt: f.now,
	}
	require.NoError(t, f.store.Books().Create(context.Background(), b))
	return b
}

func (f *fixture) borrow(t *testing.T, u *model.User, b *model.Book) *model.BorrowingDetail {
	t.Helper()
	d, err := f.ledger.CreateBorrowing(context.Background(), u, b.ID)
	require.NoError(t, err)
	return d
}

func TestBuild_Librarian(t *testing.T) {
	start := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	f := newFixture(t, start)
	librarian := f.user(t, "lib@example.com", model.RoleLibrarian)
	alice := f.user(t, "alice@example.com", model.RoleMember)
	bob := f.user(t, "bob@example.com", model.RoleMember)
	f.user(t, "carol@example.com", model.RoleMember)

	dune := f.book(t, "Dune", 1)
	emma := f.book(t, "Emma", 3)
	f.book(t, "Unread", 2)

	f.borrow(t, alice, dune)
	f.now = start.Add(2 * time.Hour)
	f.borrow(t, alice, emma)
	f.now = start.Add(24 * time.Hour)
	late := f.borrow(t, bob, emma)

	// alice の2冊は延滞、bob の1冊は今日の08:00が返却期限
	f.now = start.Add(model.DefaultLoanPeriod + 23*time.Hour)
	view, err := f.service(0).Build(context.Background(), librarian)
	require.NoError(t, err)
	require.NotNil(t, view.Librarian)
	assert.Nil(t, view.Member)

	stats := view.Librarian.Stats
	assert.Equal(t, 3, stats.TotalBooks)
	assert.Equal(t, 2, stats.TotalAvailableBooks)
	assert.Equal(t, 3, stats.TotalBorrowedBooks)
	assert.Equal(t, 1, stats.BooksDueToday)
	assert.Equal(t, 2, stats.OverdueBooks)
	assert.Equal(t, 3, stats.TotalMembers)
	assert.Equal(t, 1, stats.MembersWithOverdueBooks)

	require.Len(t, view.Librarian.RecentBorrowings, 3)
	assert.Equal(t, late.ID, view.Librarian.RecentBorrowings[0].ID)

	require.Len(t, view.Librarian.PopularBooks, 2, "貸出実績のない蔵書は含めない")
	assert.Equal(t, "Emma", view.Librarian.PopularBooks[0].Title)

	require.Len(t, view.Librarian.OverdueBorrowings, 2)
	assert.Equal(t, dune.ID, view.Librarian.OverdueBorrowings[0].BookID)
}

func TestBuild_Member(t *testing.T) {
	start := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	f := newFixture(t, start)
	alice := f.user(t, "alice@example.com", model.RoleMember)
	other := f.user(t, "other@example.com", model.RoleMember)

	books := []*model.Book{
		f.book(t, "A", 1), f.book(t, "B", 1), f.book(t, "C", 1), f.book(t, "D", 1),
	}

	overdue := f.borrow(t, alice, books[0])
	f.now = start.Add(10 * 24 * time.Hour)
	dueSoon := f.borrow(t, alice, books[1])
	returned := f.borrow(t, alice, books[2])
	f.borrow(t, other, books[3])

	f.now = start.Add(12 * 24 * time.Hour)
	_, err := f.ledger.ReturnBorrowing(context.Background(), returned.ID)
	require.NoError(t, err)

	// overdue は期限切れ、dueSoon は期限まで2日
	f.now = start.Add(22 * 24 * time.Hour)
	view, err := f.service(3*24*time.Hour).Build(context.Background(), alice)
	require.NoError(t, err)
	require.NotNil(t, view.Member)
	assert.Nil(t, view.Librarian)

	m := view.Member
	assert.Equal(t, 2, m.ActiveBorrowingsCount)
	assert.Equal(t, 1, m.OverdueBorrowingsCount)
	assert.Equal(t, 2, m.BooksDueSoon, "延滞中の貸出も期限間近に数える")

	require.Len(t, m.BorrowedBooks, 2)
	assert.Equal(t, overdue.ID, m.BorrowedBooks[0].ID, "返却期限の早い順")
	assert.True(t, m.BorrowedBooks[0].IsOverdue(view.Now))
	assert.Equal(t, dueSoon.ID, m.BorrowedBooks[1].ID)
	assert.False(t, m.BorrowedBooks[1].IsOverdue(view.Now))

	require.Len(t, m.BorrowingHistory, 1)
	assert.Equal(t, returned.ID, m.BorrowingHistory[0].ID)
}

func TestBuild_DueSoonWindowIsConfigurable(t *testing.T) {
	start := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	f := newFixture(t, start)
	alice := f.user(t, "alice@example.com", model.RoleMember)
	f.borrow(t, alice, f.book(t, "A", 1))

	// 返却期限まで5日
	f.now = start.Add(model.DefaultLoanPeriod - 5*24*time.Hour)

	view, err := f.service(0).Build(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, 0, view.Member.BooksDueSoon)

	view, err = f.service(7*24*time.Hour).Build(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, 1, view.Member.BooksDueSoon)
}

func TestBuild_OverdueCountsAsDueSoon(t *testing.T) {
	start := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	f := newFixture(t, start)
	alice := f.user(t, "alice@example.com", model.RoleMember)
	f.borrow(t, alice, f.book(t, "A", 1))

	// 返却期限を1日過ぎている
	f.now = start.Add(model.DefaultLoanPeriod + 24*time.Hour)

	view, err := f.service(3*24*time.Hour).Build(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, 1, view.Member.ActiveBorrowingsCount)
	assert.Equal(t, 1, view.Member.OverdueBorrowingsCount)
	assert.Equal(t, 1, view.Member.BooksDueSoon)
}

func TestBuild_HistoryLimitedToTen(t *testing.T) {
	start := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	f := newFixture(t, start)
	alice := f.user(t, "alice@example.com", model.RoleMember)
	book := f.book(t, "Reread", 1)

	for i := 0; i < 12; i++ {
		f.now = start.Add(time.Duration(i) * time.Hour)
		d := f.borrow(t, alice, book)
		_, err := f.ledger.ReturnBorrowing(context.Background(), d.ID)
		require.NoError(t, err)
	}

	view, err := f.service(0).Build(context.Background(), alice)
	require.NoError(t, err)
	assert.Len(t, view.Member.BorrowingHistory, listLimit)
	assert.Equal(t, 0, view.Member.ActiveBorrowingsCount)
}
