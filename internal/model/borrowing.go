package model

import "time"

// DefaultLoanPeriod は貸出期間のデフォルト値（14日）。
const DefaultLoanPeriod = 14 * 24 * time.Hour

// Borrowing は1冊の貸出を表す。
// 状態は Active → Returned の一方向のみ遷移する。
type Borrowing struct {
	ID         string
	UserID     string
	BookID     string
	BorrowedAt time.Time
	DueDate    time.Time
	ReturnedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
	DeletedAt  *time.Time
}

// IsActive は未返却かどうかを返す。
func (b *Borrowing) IsActive() bool {
	return b.ReturnedAt == nil
}

// IsReturned は返却済みかどうかを返す。
func (b *Borrowing) IsReturned() bool {
	return b.ReturnedAt != nil
}

// IsOverdue は now 時点で延滞しているかどうかを返す。
// 返却済みの貸出は常にfalse。
func (b *Borrowing) IsOverdue(now time.Time) bool {
	return b.IsActive() && b.DueDate.Before(now)
}

// BorrowingStatus は貸出一覧の状態フィルタ。
type BorrowingStatus string

const (
	// BorrowingStatusAny は状態で絞り込まない。
	BorrowingStatusAny BorrowingStatus = ""
	// BorrowingStatusActive は未返却のみ。
	BorrowingStatusActive BorrowingStatus = "active"
	// BorrowingStatusReturned は返却済みのみ。
	BorrowingStatusReturned BorrowingStatus = "returned"
	// BorrowingStatusOverdue は延滞中のみ。
	BorrowingStatusOverdue BorrowingStatus = "overdue"
)

// ParseBorrowingStatus はクエリパラメータから状態フィルタを解釈する。
// 未知の値は絞り込みなしとして扱う。
func ParseBorrowingStatus(s string) BorrowingStatus {
	switch BorrowingStatus(s) {
	case BorrowingStatusActive, BorrowingStatusReturned, BorrowingStatusOverdue:
		return BorrowingStatus(s)
	default:
		return BorrowingStatusAny
	}
}

// Scope は一覧系クエリの可視範囲を表す。
// UserIDが空の場合は全件を対象とする。
type Scope struct {
	UserID string
}

// All は全件スコープかどうかを返す。
func (s Scope) All() bool {
	return s.UserID == ""
}

// BorrowingDetail は貸出と関連する蔵書・ユーザーの概要を結合したもの。
type BorrowingDetail struct {
	Borrowing
	BookTitle  string
	BookAuthor string
	BookISBN   string
	UserEmail  string
}

// Page はオフセット方式のページ指定。
type Page struct {
	Number  int
	PerPage int
}

// Offset はSQLのOFFSET値を返す。
func (p Page) Offset() int {
	if p.Number < 1 {
		return 0
	}
	return (p.Number - 1) * p.PerPage
}

// Pagination はページングのメタデータ。
type Pagination struct {
	CurrentPage int
	TotalPages  int
	TotalCount  int
	PerPage     int
}

// NewPagination は総件数とページ指定からメタデータを組み立てる。
func NewPagination(page Page, totalCount int) Pagination {
	totalPages := 0
	if page.PerPage > 0 {
		totalPages = (totalCount + page.PerPage - 1) / page.PerPage
	}
	current := page.Number
	if current < 1 {
		current = 1
	}
	return Pagination{
		CurrentPage: current,
		TotalPages:  totalPages,
		TotalCount:  totalCount,
		PerPage:     page.PerPage,
	}
}
