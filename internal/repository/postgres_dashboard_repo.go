package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/hitoshi/librarian/internal/model"
)

// PostgresDashboardRepo はsqlxで集計クエリを構造体へ直接マッピングするダッシュボード用リポジトリ。
type PostgresDashboardRepo struct {
	db *sqlx.DB
}

// NewPostgresDashboardRepo はPostgresDashboardRepoを生成する。
func NewPostgresDashboardRepo(db *sql.DB) *PostgresDashboardRepo {
	return &PostgresDashboardRepo{db: sqlx.NewDb(db, "postgres")}
}

// borrowingDetailRow はsqlxのスキャン先となる貸出明細の行。
type borrowingDetailRow struct {
	ID         string       `db:"id"`
	UserID     string       `db:"user_id"`
	BookID     string       `db:"book_id"`
	BorrowedAt time.Time    `db:"borrowed_at"`
	DueDate    time.Time    `db:"due_date"`
	ReturnedAt sql.NullTime `db:"returned_at"`
	CreatedAt  time.Time    `db:"created_at"`
	UpdatedAt  time.Time    `db:"updated_at"`
	BookTitle  string       `db:"book_title"`
	BookAuthor string       `db:"book_author"`
	BookISBN   string       `db:"book_isbn"`
	UserEmail  string       `db:"user_email"`
}

func (r borrowingDetailRow) toModel() *model.BorrowingDetail {
	d := &model.BorrowingDetail{
		Borrowing: model.Borrowing{
			ID:         r.ID,
			UserID:     r.UserID,
			BookID:     r.BookID,
			BorrowedAt: r.BorrowedAt,
			DueDate:    r.DueDate,
			CreatedAt:  r.CreatedAt,
			UpdatedAt:  r.UpdatedAt,
		},
		BookTitle:  r.BookTitle,
		BookAuthor: r.BookAuthor,
		BookISBN:   r.BookISBN,
		UserEmail:  r.UserEmail,
	}
	if r.ReturnedAt.Valid {
		t := r.ReturnedAt.Time
		d.ReturnedAt = &t
	}
	return d
}

type bookRow struct {
	ID              string    `db:"id"`
	Title           string    `db:"title"`
	Author          string    `db:"author"`
	Genre           string    `db:"genre"`
	ISBN            string    `db:"isbn"`
	TotalCopies     int       `db:"total_copies"`
	AvailableCopies int       `db:"available_copies"`
	BorrowingsCount int       `db:"borrowings_count"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

func (r bookRow) toModel() *model.Book {
	return &model.Book{
		ID:              r.ID,
		Title:           r.Title,
		Author:          r.Author,
		Genre:           r.Genre,
		ISBN:            r.ISBN,
		TotalCopies:     r.TotalCopies,
		AvailableCopies: r.AvailableCopies,
		BorrowingsCount: r.BorrowingsCount,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

const detailSelectSQL = `
SELECT br.id, br.user_id, br.book_id, br.borrowed_at, br.due_date, br.returned_at,
       br.created_at, br.updated_at,
       b.title AS book_title, b.author AS book_author, b.isbn AS book_isbn,
       u.email AS user_email
FROM borrowings br
JOIN books b ON b.id = br.book_id
JOIN users u ON u.id = br.user_id
WHERE br.deleted_at IS NULL`

const librarianStatsSQL = `
SELECT
  (SELECT COUNT(*) FROM books WHERE deleted_at IS NULL) AS total_books,
  (SELECT COUNT(*) FROM books
     WHERE deleted_at IS NULL AND available_copies > 0) AS total_available_books,
  (SELECT COUNT(*) FROM borrowings
     WHERE returned_at IS NULL AND deleted_at IS NULL) AS total_borrowed_books,
  (SELECT COUNT(*) FROM borrowings
     WHERE returned_at IS NULL AND deleted_at IS NULL
       AND due_date >= $2 AND due_date < $3) AS books_due_today,
  (SELECT COUNT(*) FROM borrowings
     WHERE returned_at IS NULL AND deleted_at IS NULL AND due_date < $1) AS overdue_books,
  (SELECT COUNT(*) FROM users WHERE role = 'member' AND deleted_at IS NULL) AS total_members,
  (SELECT COUNT(DISTINCT br.user_id) FROM borrowings br
     JOIN users u ON u.id = br.user_id
     WHERE u.role = 'member' AND u.deleted_at IS NULL
       AND br.returned_at IS NULL AND br.deleted_at IS NULL
       AND br.due_date < $1) AS members_with_overdue_books`

const memberStatsSQL = `
SELECT
  COUNT(*) FILTER (WHERE returned_at IS NULL) AS active_borrowings,
  COUNT(*) FILTER (WHERE returned_at IS NULL AND due_date < $2) AS overdue_books,
  COUNT(*) FILTER (WHERE returned_at IS NULL AND due_date <= $3) AS books_due_soon,
  COUNT(*) AS total_borrowed
FROM borrowings
WHERE user_id = $1 AND deleted_at IS NULL`

// LibrarianStats は館全体の集計値を返す。
func (r *PostgresDashboardRepo) LibrarianStats(ctx context.Context, now, dayStart, dayEnd time.Time) (*LibrarianStats, error) {
	stats := &LibrarianStats{}
	if err := r.db.GetContext(ctx, stats, librarianStatsSQL, now, dayStart, dayEnd); err != nil {
		return nil, fmt.Errorf("failed to load librarian stats: %w", err)
	}
	return stats, nil
}

// RecentBorrowings は最近の貸出を返す。
func (r *PostgresDashboardRepo) RecentBorrowings(ctx context.Context, limit int) ([]*model.BorrowingDetail, error) {
	var rows []borrowingDetailRow
	err := r.db.SelectContext(ctx, &rows,
		detailSelectSQL+` ORDER BY br.created_at DESC, br.id DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent borrowings: %w", err)
	}
	return toDetails(rows), nil
}

// PopularBooks は貸出累計の多い蔵書を返す。
func (r *PostgresDashboardRepo) PopularBooks(ctx context.Context, limit int) ([]*model.Book, error) {
	var rows []bookRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT `+bookColumns+` FROM books
		 WHERE deleted_at IS NULL AND borrowings_count > 0
		 ORDER BY borrowings_count DESC, title ASC, id ASC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load popular books: %w", err)
	}
	books := make([]*model.Book, 0, len(rows))
	for _, row := range rows {
		books = append(books, row.toModel())
	}
	return books, nil
}

// MemberStats は利用者個人の集計値を返す。
func (r *PostgresDashboardRepo) MemberStats(ctx context.Context, userID string, now, soonUntil time.Time) (*MemberStats, error) {
	stats := &MemberStats{}
	if !validID(userID) {
		return stats, nil
	}
	if err := r.db.GetContext(ctx, stats, memberStatsSQL, userID, now, soonUntil); err != nil {
		return nil, fmt.Errorf("failed to load member stats: %w", err)
	}
	return stats, nil
}

// ActiveBorrowingsByUser は利用者の未返却の貸出を返却期限の早い順に返す。
func (r *PostgresDashboardRepo) ActiveBorrowingsByUser(ctx context.Context, userID string) ([]*model.BorrowingDetail, error) {
	if !validID(userID) {
		return []*model.BorrowingDetail{}, nil
	}
	var rows []borrowingDetailRow
	err := r.db.SelectContext(ctx, &rows,
		detailSelectSQL+` AND br.user_id = $1 AND br.returned_at IS NULL ORDER BY br.due_date ASC, br.id ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load active borrowings: %w", err)
	}
	return toDetails(rows), nil
}

// ReturnedBorrowingsByUser は利用者の返却済みの貸出を新しい順に返す。
func (r *PostgresDashboardRepo) ReturnedBorrowingsByUser(ctx context.Context, userID string, limit int) ([]*model.BorrowingDetail, error) {
	if !validID(userID) {
		return []*model.BorrowingDetail{}, nil
	}
	var rows []borrowingDetailRow
	err := r.db.SelectContext(ctx, &rows,
		detailSelectSQL+` AND br.user_id = $1 AND br.returned_at IS NOT NULL ORDER BY br.returned_at DESC, br.id DESC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load borrowing history: %w", err)
	}
	return toDetails(rows), nil
}

func toDetails(rows []borrowingDetailRow) []*model.BorrowingDetail {
	details := make([]*model.BorrowingDetail, 0, len(rows))
	for _, row := range rows {
		details = append(details, row.toModel())
	}
	return details
}

// compile-time interface check
var _ DashboardRepository = (*PostgresDashboardRepo)(nil)
