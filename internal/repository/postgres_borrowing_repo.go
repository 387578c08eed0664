package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"

	"github.com/hitoshi/librarian/internal/model"
)

const borrowingColumns = `id, user_id, book_id, borrowed_at, due_date, returned_at, created_at, updated_at`

// borrowingDetailSelect は貸出に蔵書・利用者情報を結合したSELECT句。
// 蔵書・利用者が論理削除済みでも履歴として結合する。
var borrowingDetailSelect = []any{
	goqu.I("br.id"), goqu.I("br.user_id"), goqu.I("br.book_id"),
	goqu.I("br.borrowed_at"), goqu.I("br.due_date"), goqu.I("br.returned_at"),
	goqu.I("br.created_at"), goqu.I("br.updated_at"),
	goqu.I("b.title"), goqu.I("b.author"), goqu.I("b.isbn"), goqu.I("u.email"),
}

// PostgresBorrowingRepo はPostgreSQLを使用した貸出リポジトリ。
type PostgresBorrowingRepo struct {
	db *sql.DB
}

// NewPostgresBorrowingRepo はPostgresBorrowingRepoを生成する。
func NewPostgresBorrowingRepo(db *sql.DB) *PostgresBorrowingRepo {
	return &PostgresBorrowingRepo{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBorrowing(row rowScanner) (*model.Borrowing, error) {
	b := &model.Borrowing{}
	var returnedAt sql.NullTime
	err := row.Scan(&b.ID, &b.UserID, &b.BookID, &b.BorrowedAt, &b.DueDate, &returnedAt, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if returnedAt.Valid {
		t := returnedAt.Time
		b.ReturnedAt = &t
	}
	return b, nil
}

func scanBorrowingDetail(row rowScanner) (*model.BorrowingDetail, error) {
	d := &model.BorrowingDetail{}
	var returnedAt sql.NullTime
	err := row.Scan(
		&d.ID, &d.UserID, &d.BookID, &d.BorrowedAt, &d.DueDate, &returnedAt, &d.CreatedAt, &d.UpdatedAt,
		&d.BookTitle, &d.BookAuthor, &d.BookISBN, &d.UserEmail,
	)
	if err != nil {
		return nil, err
	}
	if returnedAt.Valid {
		t := returnedAt.Time
		d.ReturnedAt = &t
	}
	return d, nil
}

func collectBorrowingDetails(rows *sql.Rows) ([]*model.BorrowingDetail, error) {
	defer rows.Close()
	details := make([]*model.BorrowingDetail, 0)
	for rows.Next() {
		d, err := scanBorrowingDetail(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan borrowing: %w", err)
		}
		details = append(details, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate borrowings: %w", err)
	}
	return details, nil
}

// borrowingDetailDataset は論理削除されていない貸出を蔵書・利用者と結合したデータセットを返す。
func borrowingDetailDataset() *goqu.SelectDataset {
	return goqu.Dialect(dialectPostgres).
		From(goqu.T("borrowings").As("br")).
		Join(goqu.T("books").As("b"), goqu.On(goqu.I("b.id").Eq(goqu.I("br.book_id")))).
		Join(goqu.T("users").As("u"), goqu.On(goqu.I("u.id").Eq(goqu.I("br.user_id")))).
		Where(goqu.I("br.deleted_at").IsNull())
}

func applyScope(ds *goqu.SelectDataset, scope model.Scope) *goqu.SelectDataset {
	if scope.All() {
		return ds
	}
	return ds.Where(goqu.I("br.user_id").Eq(scope.UserID))
}

func applyStatus(ds *goqu.SelectDataset, status model.BorrowingStatus, now time.Time) *goqu.SelectDataset {
	switch status {
	case model.BorrowingStatusActive:
		return ds.Where(goqu.I("br.returned_at").IsNull())
	case model.BorrowingStatusReturned:
		return ds.Where(goqu.I("br.returned_at").IsNotNull())
	case model.BorrowingStatusOverdue:
		return ds.Where(goqu.I("br.returned_at").IsNull(), goqu.I("br.due_date").Lt(now))
	default:
		return ds
	}
}

// FindByID は指定IDの貸出を取得する。見つからない場合はnilを返す。
func (r *PostgresBorrowingRepo) FindByID(ctx context.Context, id string) (*model.BorrowingDetail, error) {
	if !validID(id) {
		return nil, nil
	}
	query, args, err := borrowingDetailDataset().
		Select(borrowingDetailSelect...).
		Where(goqu.I("br.id").Eq(id)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build borrowing query: %w", err)
	}
	d, err := scanBorrowingDetail(r.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find borrowing by ID: %w", err)
	}
	return d, nil
}

// FindActive は利用者と蔵書の組に対する未返却の貸出を取得する。見つからない場合はnilを返す。
func (r *PostgresBorrowingRepo) FindActive(ctx context.Context, userID, bookID string) (*model.Borrowing, error) {
	if !validID(userID) || !validID(bookID) {
		return nil, nil
	}
	b, err := scanBorrowing(r.db.QueryRowContext(ctx,
		`SELECT `+borrowingColumns+` FROM borrowings
		 WHERE user_id = $1 AND book_id = $2 AND returned_at IS NULL AND deleted_at IS NULL`,
		userID, bookID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find active borrowing: %w", err)
	}
	return b, nil
}

// List はスコープと状態で絞り込んだ貸出を取得する。
func (r *PostgresBorrowingRepo) List(ctx context.Context, scope model.Scope, status model.BorrowingStatus, now time.Time, page model.Page) ([]*model.BorrowingDetail, int, error) {
	base := applyStatus(applyScope(borrowingDetailDataset(), scope), status, now)

	countSQL, countArgs, err := base.Select(goqu.COUNT(goqu.Star())).Prepared(true).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build borrowing count query: %w", err)
	}
	var total int
	if err := r.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count borrowings: %w", err)
	}

	listSQL, listArgs, err := base.
		Select(borrowingDetailSelect...).
		Order(goqu.I("br.created_at").Desc(), goqu.I("br.id").Desc()).
		Limit(uint(page.PerPage)).
		Offset(uint(page.Offset())).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build borrowing list query: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, listSQL, listArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list borrowings: %w", err)
	}
	details, err := collectBorrowingDetails(rows)
	if err != nil {
		return nil, 0, err
	}
	return details, total, nil
}

// ListOverdue はスコープ内の延滞中の貸出を返却期限の古い順に取得する。
func (r *PostgresBorrowingRepo) ListOverdue(ctx context.Context, scope model.Scope, now time.Time, limit int) ([]*model.BorrowingDetail, error) {
	ds := applyStatus(applyScope(borrowingDetailDataset(), scope), model.BorrowingStatusOverdue, now).
		Select(borrowingDetailSelect...).
		Order(goqu.I("br.due_date").Asc(), goqu.I("br.id").Asc())
	if limit > 0 {
		ds = ds.Limit(uint(limit))
	}
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build overdue query: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list overdue borrowings: %w", err)
	}
	return collectBorrowingDetails(rows)
}

// ListActiveByUser は利用者の未返却の貸出を取得する。
func (r *PostgresBorrowingRepo) ListActiveByUser(ctx context.Context, userID string) ([]*model.Borrowing, error) {
	if !validID(userID) {
		return []*model.Borrowing{}, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+borrowingColumns+` FROM borrowings
		 WHERE user_id = $1 AND returned_at IS NULL AND deleted_at IS NULL
		 ORDER BY due_date ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list active borrowings: %w", err)
	}
	defer rows.Close()

	borrowings := make([]*model.Borrowing, 0)
	for rows.Next() {
		b, err := scanBorrowing(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan borrowing: %w", err)
		}
		borrowings = append(borrowings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate borrowings: %w", err)
	}
	return borrowings, nil
}

// SoftDeleteReturnedByUser は利用者の返却済みの貸出を論理削除する。
func (r *PostgresBorrowingRepo) SoftDeleteReturnedByUser(ctx context.Context, userID string, at time.Time) error {
	if !validID(userID) {
		return nil
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE borrowings SET deleted_at = $2, updated_at = $2
		 WHERE user_id = $1 AND returned_at IS NOT NULL AND deleted_at IS NULL`,
		userID, at,
	)
	if err != nil {
		return fmt.Errorf("failed to delete returned borrowings: %w", err)
	}
	return nil
}

// compile-time interface check
var _ BorrowingRepository = (*PostgresBorrowingRepo)(nil)
