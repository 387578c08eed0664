package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/librarian/internal/model"
)

// PostgresBookLocker は books 行の SELECT ... FOR UPDATE による蔵書単位の排他を提供する。
// ロック待ちは lock_timeout で打ち切られ、ErrLockTimeout として返る。
type PostgresBookLocker struct {
	db          TxBeginner
	lockTimeout time.Duration
}

// NewPostgresBookLocker はPostgresBookLockerを生成する。
func NewPostgresBookLocker(db TxBeginner, lockTimeout time.Duration) *PostgresBookLocker {
	return &PostgresBookLocker{db: db, lockTimeout: lockTimeout}
}

// WithBookLock は蔵書行をロックしたトランザクション内で fn を実行する。
// fn がnilを返した場合のみコミットする。
func (l *PostgresBookLocker) WithBookLock(ctx context.Context, bookID string, fn func(ctx context.Context, tx BookTx) error) error {
	if !validID(bookID) {
		return fmt.Errorf("book %s: %w", bookID, ErrNotFound)
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// SET はプレースホルダを受け付けないため整数のミリ秒を埋め込む
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", l.lockTimeout.Milliseconds())); err != nil {
		return fmt.Errorf("failed to set lock timeout: %w", err)
	}

	book, err := scanBook(tx.QueryRowContext(ctx,
		`SELECT `+bookColumns+` FROM books WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`,
		bookID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("book %s: %w", bookID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to lock book: %w", translateError(err))
	}

	if err := fn(ctx, &postgresBookTx{tx: tx, book: book}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", translateError(err))
	}
	return nil
}

// postgresBookTx はロック取得済みトランザクションに対するBookTx実装。
type postgresBookTx struct {
	tx   *sql.Tx
	book *model.Book
}

func (t *postgresBookTx) Book() *model.Book {
	b := *t.book
	return &b
}

func (t *postgresBookTx) SaveBook(ctx context.Context, book *model.Book) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE books SET title = $2, author = $3, genre = $4, isbn = $5,
		   total_copies = $6, available_copies = $7, borrowings_count = $8, updated_at = $9
		 WHERE id = $1`,
		t.book.ID, book.Title, book.Author, book.Genre, book.ISBN,
		book.TotalCopies, book.AvailableCopies, book.BorrowingsCount, book.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update book: %w", translateError(err))
	}
	saved := *book
	saved.ID = t.book.ID
	t.book = &saved
	return nil
}

func (t *postgresBookTx) CountActiveBorrowings(ctx context.Context) (int, error) {
	var n int
	err := t.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM borrowings
		 WHERE book_id = $1 AND returned_at IS NULL AND deleted_at IS NULL`,
		t.book.ID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count active borrowings: %w", err)
	}
	return n, nil
}

func (t *postgresBookTx) FindActiveBorrowing(ctx context.Context, userID string) (*model.Borrowing, error) {
	if !validID(userID) {
		return nil, nil
	}
	b, err := scanBorrowing(t.tx.QueryRowContext(ctx,
		`SELECT `+borrowingColumns+` FROM borrowings
		 WHERE book_id = $1 AND user_id = $2 AND returned_at IS NULL AND deleted_at IS NULL`,
		t.book.ID, userID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find active borrowing: %w", err)
	}
	return b, nil
}

func (t *postgresBookTx) InsertBorrowing(ctx context.Context, b *model.Borrowing) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO borrowings (id, user_id, book_id, borrowed_at, due_date, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		b.ID, b.UserID, t.book.ID, b.BorrowedAt, b.DueDate, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert borrowing: %w", translateError(err))
	}
	return nil
}

func (t *postgresBookTx) MarkReturned(ctx context.Context, borrowingID string, at time.Time) (bool, error) {
	result, err := t.tx.ExecContext(ctx,
		`UPDATE borrowings SET returned_at = $3, updated_at = $3
		 WHERE id = $1 AND book_id = $2 AND returned_at IS NULL AND deleted_at IS NULL`,
		borrowingID, t.book.ID, at,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark borrowing returned: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}

func (t *postgresBookTx) SoftDeleteBorrowing(ctx context.Context, borrowingID string, at time.Time) (bool, error) {
	var wasActive bool
	err := t.tx.QueryRowContext(ctx,
		`UPDATE borrowings SET deleted_at = $3, updated_at = $3
		 WHERE id = $1 AND book_id = $2 AND deleted_at IS NULL
		 RETURNING returned_at IS NULL`,
		borrowingID, t.book.ID, at,
	).Scan(&wasActive)
	if err == sql.ErrNoRows {
		return false, fmt.Errorf("borrowing %s: %w", borrowingID, ErrNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("failed to delete borrowing: %w", err)
	}
	return wasActive, nil
}

func (t *postgresBookTx) SoftDeleteBook(ctx context.Context, at time.Time) error {
	if _, err := t.tx.ExecContext(ctx,
		`UPDATE borrowings SET deleted_at = $2, updated_at = $2
		 WHERE book_id = $1 AND deleted_at IS NULL`,
		t.book.ID, at,
	); err != nil {
		return fmt.Errorf("failed to delete book borrowings: %w", err)
	}
	if _, err := t.tx.ExecContext(ctx,
		`UPDATE books SET deleted_at = $2, updated_at = $2 WHERE id = $1`,
		t.book.ID, at,
	); err != nil {
		return fmt.Errorf("failed to delete book: %w", err)
	}
	return nil
}

// compile-time interface check
var (
	_ BookLocker = (*PostgresBookLocker)(nil)
	_ BookTx     = (*postgresBookTx)(nil)
)
