// Package memory はリポジトリインターフェースのインメモリ実装を提供する。
// 単一プロセス内での動作確認やテストに使用する。
package memory

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/librarian/internal/model"
)

// Store は全リポジトリが共有するインメモリのデータストア。
// mu はマップ操作のみを保護し、蔵書単位の直列化は locks が担う。
type Store struct {
	mu         sync.RWMutex
	users      map[string]*model.User
	sessions   map[string]*model.Session
	books      map[string]*model.Book
	borrowings map[string]*model.Borrowing

	locks       *KeyedLock
	lockTimeout time.Duration
	now         func() time.Time
}

// NewStore は空のStoreを生成する。
func NewStore(lockTimeout time.Duration) *Store {
	return &Store{
		users:       make(map[string]*model.User),
		sessions:    make(map[string]*model.Session),
		books:       make(map[string]*model.Book),
		borrowings:  make(map[string]*model.Borrowing),
		locks:       NewKeyedLock(),
		lockTimeout: lockTimeout,
		now:         time.Now,
	}
}

// SetClock はセッション期限判定に使う時計を差し替える。
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Users はUserRepository実装を返す。
func (s *Store) Users() *UserRepo { return &UserRepo{s: s} }

// Sessions はSessionRepository実装を返す。
func (s *Store) Sessions() *SessionRepo { return &SessionRepo{s: s} }

// Books はBookRepository実装を返す。
func (s *Store) Books() *BookRepo { return &BookRepo{s: s} }

// Borrowings はBorrowingRepository実装を返す。
func (s *Store) Borrowings() *BorrowingRepo { return &BorrowingRepo{s: s} }

// Locker はBookLocker実装を返す。
func (s *Store) Locker() *BookLocker { return &BookLocker{s: s} }

// Dashboard はDashboardRepository実装を返す。
func (s *Store) Dashboard() *DashboardRepo { return &DashboardRepo{s: s} }

func copyUser(u *model.User) *model.User {
	c := *u
	return &c
}

func copyBook(b *model.Book) *model.Book {
	c := *b
	return &c
}

func copyBorrowing(b *model.Borrowing) *model.Borrowing {
	c := *b
	if b.ReturnedAt != nil {
		t := *b.ReturnedAt
		c.ReturnedAt = &t
	}
	return &c
}

// detailLocked は貸出に蔵書・利用者情報を付与する。呼び出し側で mu を保持すること。
func (s *Store) detailLocked(b *model.Borrowing) *model.BorrowingDetail {
	d := &model.BorrowingDetail{Borrowing: *copyBorrowing(b)}
	if book, ok := s.books[b.BookID]; ok {
		d.BookTitle = book.Title
		d.BookAuthor = book.Author
		d.BookISBN = book.ISBN
	}
	if user, ok := s.users[b.UserID]; ok {
		d.UserEmail = user.Email
	}
	return d
}

// liveBorrowingsLocked は論理削除されていない貸出を条件で絞り込む。呼び出し側で mu を保持すること。
func (s *Store) liveBorrowingsLocked(match func(b *model.Borrowing) bool) []*model.Borrowing {
	out := make([]*model.Borrowing, 0)
	for _, b := range s.borrowings {
		if b.DeletedAt != nil {
			continue
		}
		if match == nil || match(b) {
			out = append(out, b)
		}
	}
	return out
}

// sortNewestFirst は作成日時の新しい順（同時刻はID降順）に並べる。
func sortNewestFirst(list []*model.Borrowing) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].ID > list[j].ID
	})
}

// paginate はスライスからページ範囲を切り出す。
func paginate[T any](items []T, page model.Page) []T {
	offset := page.Offset()
	if offset >= len(items) {
		return []T{}
	}
	end := offset + page.PerPage
	if page.PerPage <= 0 || end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func equalFold(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
