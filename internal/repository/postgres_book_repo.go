package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	"github.com/doug-martin/goqu/v9/exp"

	"github.com/hitoshi/librarian/internal/model"
)

const (
	dialectPostgres = "postgres"
	tableBooks      = "books"
)

const bookColumns = `id, title, author, genre, isbn, total_copies, available_copies, borrowings_count, created_at, updated_at`

var bookSelectColumns = []any{
	"id", "title", "author", "genre", "isbn",
	"total_copies", "available_copies", "borrowings_count",
	"created_at", "updated_at",
}

// PostgresBookRepo はPostgreSQLを使用した蔵書リポジトリ。
type PostgresBookRepo struct {
	db *sql.DB
}

// NewPostgresBookRepo はPostgresBookRepoを生成する。
func NewPostgresBookRepo(db *sql.DB) *PostgresBookRepo {
	return &PostgresBookRepo{db: db}
}

func scanBook(row interface{ Scan(dest ...any) error }) (*model.Book, error) {
	book := &model.Book{}
	err := row.Scan(
		&book.ID, &book.Title, &book.Author, &book.Genre, &book.ISBN,
		&book.TotalCopies, &book.AvailableCopies, &book.BorrowingsCount,
		&book.CreatedAt, &book.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return book, nil
}

// FindByID は指定IDの蔵書を取得する。見つからない場合はnilを返す。
func (r *PostgresBookRepo) FindByID(ctx context.Context, id string) (*model.Book, error) {
	if !validID(id) {
		return nil, nil
	}
	book, err := scanBook(r.db.QueryRowContext(ctx,
		`SELECT `+bookColumns+` FROM books WHERE id = $1 AND deleted_at IS NULL`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find book by ID: %w", err)
	}
	return book, nil
}

// FindByISBN はISBNで蔵書を検索する。見つからない場合はnilを返す。
func (r *PostgresBookRepo) FindByISBN(ctx context.Context, isbn string) (*model.Book, error) {
	book, err := scanBook(r.db.QueryRowContext(ctx,
		`SELECT `+bookColumns+` FROM books WHERE lower(isbn) = lower($1) AND deleted_at IS NULL`,
		isbn,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find book by ISBN: %w", err)
	}
	return book, nil
}

// List は検索条件に一致する蔵書を取得する。
// Query はタイトル・著者・ISBNの部分一致（大文字小文字を区別しない）、Genre は完全一致で絞り込む。
func (r *PostgresBookRepo) List(ctx context.Context, filter model.BookFilter, page model.Page) ([]*model.Book, int, error) {
	base := goqu.Dialect(dialectPostgres).
		From(tableBooks).
		Where(goqu.C("deleted_at").IsNull())
	base = applyBookFilter(base, filter)

	countSQL, countArgs, err := base.Select(goqu.COUNT(goqu.Star())).Prepared(true).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build book count query: %w", err)
	}
	var total int
	if err := r.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count books: %w", err)
	}

	listSQL, listArgs, err := base.
		Select(bookSelectColumns...).
		Order(bookOrder(filter.Sort)...).
		Limit(uint(page.PerPage)).
		Offset(uint(page.Offset())).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build book list query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, listSQL, listArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list books: %w", err)
	}
	defer rows.Close()

	books := make([]*model.Book, 0)
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan book: %w", err)
		}
		books = append(books, book)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate books: %w", err)
	}
	return books, total, nil
}

// Create は蔵書を作成する。
func (r *PostgresBookRepo) Create(ctx context.Context, book *model.Book) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO books (id, title, author, genre, isbn, total_copies, available_copies, borrowings_count, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		book.ID, book.Title, book.Author, book.Genre, book.ISBN,
		book.TotalCopies, book.AvailableCopies, book.BorrowingsCount,
		book.CreatedAt, book.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert book: %w", translateError(err))
	}
	return nil
}

func applyBookFilter(ds *goqu.SelectDataset, filter model.BookFilter) *goqu.SelectDataset {
	if q := strings.TrimSpace(filter.Query); q != "" {
		pattern := "%" + escapeLike(q) + "%"
		ds = ds.Where(goqu.Or(
			goqu.C("title").ILike(pattern),
			goqu.C("author").ILike(pattern),
			goqu.C("isbn").ILike(pattern),
		))
	}
	if genre := strings.TrimSpace(filter.Genre); genre != "" {
		ds = ds.Where(goqu.C("genre").Eq(genre))
	}
	if filter.AvailableOnly {
		ds = ds.Where(goqu.C("available_copies").Gt(0))
	}
	return ds
}

func bookOrder(sort model.BookSort) []exp.OrderedExpression {
	switch sort {
	case model.BookSortTitle:
		return []exp.OrderedExpression{goqu.I("title").Asc(), goqu.I("id").Asc()}
	case model.BookSortAuthor:
		return []exp.OrderedExpression{goqu.I("author").Asc(), goqu.I("id").Asc()}
	default:
		return []exp.OrderedExpression{goqu.I("created_at").Desc(), goqu.I("id").Desc()}
	}
}

// escapeLike はLIKEパターンのメタ文字をエスケープする。
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// compile-time interface check
var _ BookRepository = (*PostgresBookRepo)(nil)
