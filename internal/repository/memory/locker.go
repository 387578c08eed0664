package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/librarian/internal/model"
	"github.com/hitoshi/librarian/internal/repository"
)

// BookLocker は蔵書IDをキーとするKeyedLockで書き込みを直列化するBookLocker実装。
// fn 内の書き込みはバッファされ、fn が成功した場合のみまとめて反映される。
type BookLocker struct {
	s *Store
}

func (l *BookLocker) WithBookLock(ctx context.Context, bookID string, fn func(ctx context.Context, tx repository.BookTx) error) error {
	unlock, err := l.s.locks.Lock(ctx, bookID, l.s.lockTimeout)
	if errors.Is(err, errLockWait) {
		return fmt.Errorf("book %s: %w", bookID, repository.ErrLockTimeout)
	}
	if err != nil {
		return err
	}
	defer unlock()

	l.s.mu.RLock()
	book, ok := l.s.books[bookID]
	if ok && book.DeletedAt == nil {
		book = copyBook(book)
	} else {
		ok = false
	}
	l.s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("book %s: %w", bookID, repository.ErrNotFound)
	}

	tx := &bookTx{s: l.s, book: book, staged: make(map[string]*model.Borrowing)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.commit()
}

// bookTx はロック保持中の書き込みを保留するトランザクション。
type bookTx struct {
	s         *Store
	book      *model.Book
	bookDirty bool
	deletedAt *time.Time
	staged    map[string]*model.Borrowing
}

func (t *bookTx) Book() *model.Book {
	return copyBook(t.book)
}

// view は保留中の変更を重ねたこの蔵書の貸出一覧を返す。
func (t *bookTx) view() map[string]*model.Borrowing {
	t.s.mu.RLock()
	out := make(map[string]*model.Borrowing)
	for id, b := range t.s.borrowings {
		if b.BookID == t.book.ID {
			out[id] = b
		}
	}
	t.s.mu.RUnlock()
	for id, b := range t.staged {
		out[id] = b
	}
	return out
}

func (t *bookTx) SaveBook(ctx context.Context, book *model.Book) error {
	if book.AvailableCopies < 0 || book.AvailableCopies > book.TotalCopies || book.TotalCopies < 0 {
		return fmt.Errorf("failed to update book: %w", repository.ErrCheckViolation)
	}
	t.s.mu.RLock()
	dup := t.s.findByISBNLocked(book.ISBN, t.book.ID)
	t.s.mu.RUnlock()
	if dup != nil {
		return fmt.Errorf("failed to update book: %w", repository.ErrUniqueViolation)
	}
	saved := copyBook(book)
	saved.ID = t.book.ID
	saved.CreatedAt = t.book.CreatedAt
	t.book = saved
	t.bookDirty = true
	return nil
}

func (t *bookTx) CountActiveBorrowings(ctx context.Context) (int, error) {
	n := 0
	for _, b := range t.view() {
		if b.DeletedAt == nil && b.IsActive() {
			n++
		}
	}
	return n, nil
}

func (t *bookTx) FindActiveBorrowing(ctx context.Context, userID string) (*model.Borrowing, error) {
	for _, b := range t.view() {
		if b.DeletedAt == nil && b.IsActive() && b.UserID == userID {
			return copyBorrowing(b), nil
		}
	}
	return nil, nil
}

func (t *bookTx) InsertBorrowing(ctx context.Context, borrowing *model.Borrowing) error {
	if existing, _ := t.FindActiveBorrowing(ctx, borrowing.UserID); existing != nil {
		return fmt.Errorf("failed to insert borrowing: %w", repository.ErrUniqueViolation)
	}
	b := copyBorrowing(borrowing)
	b.BookID = t.book.ID
	t.staged[b.ID] = b
	return nil
}

func (t *bookTx) MarkReturned(ctx context.Context, borrowingID string, at time.Time) (bool, error) {
	b, ok := t.view()[borrowingID]
	if !ok || b.DeletedAt != nil || b.IsReturned() {
		return false, nil
	}
	returned := copyBorrowing(b)
	returned.ReturnedAt = &at
	returned.UpdatedAt = at
	t.staged[borrowingID] = returned
	return true, nil
}

func (t *bookTx) SoftDeleteBorrowing(ctx context.Context, borrowingID string, at time.Time) (bool, error) {
	b, ok := t.view()[borrowingID]
	if !ok || b.DeletedAt != nil {
		return false, fmt.Errorf("borrowing %s: %w", borrowingID, repository.ErrNotFound)
	}
	deleted := copyBorrowing(b)
	deleted.DeletedAt = &at
	deleted.UpdatedAt = at
	t.staged[borrowingID] = deleted
	return b.IsActive(), nil
}

func (t *bookTx) SoftDeleteBook(ctx context.Context, at time.Time) error {
	for id, b := range t.view() {
		if b.DeletedAt == nil {
			deleted := copyBorrowing(b)
			deleted.DeletedAt = &at
			deleted.UpdatedAt = at
			t.staged[id] = deleted
		}
	}
	t.deletedAt = &at
	return nil
}

// commit は保留中の変更を反映する。ISBNの一意性はここで再検証する。
func (t *bookTx) commit() error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	if t.bookDirty && t.deletedAt == nil && t.s.findByISBNLocked(t.book.ISBN, t.book.ID) != nil {
		return fmt.Errorf("failed to commit transaction: %w", repository.ErrUniqueViolation)
	}

	if t.bookDirty || t.deletedAt != nil {
		current, ok := t.s.books[t.book.ID]
		if !ok {
			return fmt.Errorf("book %s: %w", t.book.ID, repository.ErrNotFound)
		}
		next := copyBook(current)
		if t.bookDirty {
			next = copyBook(t.book)
		}
		if t.deletedAt != nil {
			at := *t.deletedAt
			next.DeletedAt = &at
			next.UpdatedAt = at
		}
		t.s.books[t.book.ID] = next
	}
	for id, b := range t.staged {
		t.s.borrowings[id] = copyBorrowing(b)
	}
	return nil
}

// compile-time interface check
var (
	_ repository.BookLocker = (*BookLocker)(nil)
	_ repository.BookTx     = (*bookTx)(nil)
)
