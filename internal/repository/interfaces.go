// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/librarian/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
// 論理削除済みのユーザーはすべての参照系から除外される。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレス（大文字小文字を区別しない）でユーザーを検索する。
	// 見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。メールアドレス重複時はErrUniqueViolationを返す。
	Create(ctx context.Context, user *model.User) error

	// Update はメールアドレス・パスワードハッシュ・ロールを更新する。
	Update(ctx context.Context, user *model.User) error

	// List はユーザーをメールアドレス順にページ単位で取得し、総件数とともに返す。
	List(ctx context.Context, page model.Page) ([]*model.User, int, error)

	// SoftDelete はユーザーを論理削除する。見つからない場合はErrNotFoundを返す。
	SoftDelete(ctx context.Context, id string, at time.Time) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除し、削除できたかどうかを返す。
	DeleteByID(ctx context.Context, id string) (bool, error)
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// BookRepository は蔵書データの永続化インターフェース。
// 在庫数を変更する更新はBookLocker経由でのみ行う。
type BookRepository interface {
	// FindByID は指定IDの蔵書を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Book, error)

	// FindByISBN はISBN（大文字小文字を区別しない）で蔵書を検索する。見つからない場合はnilを返す。
	FindByISBN(ctx context.Context, isbn string) (*model.Book, error)

	// List は検索条件に一致する蔵書をページ単位で取得し、総件数とともに返す。
	List(ctx context.Context, filter model.BookFilter, page model.Page) ([]*model.Book, int, error)

	// Create は蔵書を作成する。ISBN重複時はErrUniqueViolationを返す。
	Create(ctx context.Context, book *model.Book) error
}

// BorrowingRepository は貸出データの参照系インターフェース。
// 貸出の作成・返却・削除はBookLockerのトランザクション内で行う。
type BorrowingRepository interface {
	// FindByID は指定IDの貸出を蔵書・利用者情報付きで取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.BorrowingDetail, error)

	// FindActive は利用者と蔵書の組に対する未返却の貸出を取得する。見つからない場合はnilを返す。
	FindActive(ctx context.Context, userID, bookID string) (*model.Borrowing, error)

	// List はスコープと状態で絞り込んだ貸出を新しい順にページ単位で取得する。
	// overdue判定には now を使う。
	List(ctx context.Context, scope model.Scope, status model.BorrowingStatus, now time.Time, page model.Page) ([]*model.BorrowingDetail, int, error)

	// ListOverdue はスコープ内の延滞中の貸出を返却期限の古い順に取得する。limit が0以下なら無制限。
	ListOverdue(ctx context.Context, scope model.Scope, now time.Time, limit int) ([]*model.BorrowingDetail, error)

	// ListActiveByUser は利用者の未返却の貸出を取得する。
	ListActiveByUser(ctx context.Context, userID string) ([]*model.Borrowing, error)

	// SoftDeleteReturnedByUser は利用者の返却済みの貸出を論理削除する。
	SoftDeleteReturnedByUser(ctx context.Context, userID string, at time.Time) error
}

// BookLocker は蔵書単位の排他ロックを提供する。
// 同一蔵書に対するWithBookLockは直列化され、ロック待ちがタイムアウトした場合はErrLockTimeoutを返す。
// 蔵書が存在しない場合はErrNotFoundを返す。
// fn がエラーを返した場合、fn 内の書き込みはすべて破棄される。
type BookLocker interface {
	WithBookLock(ctx context.Context, bookID string, fn func(ctx context.Context, tx BookTx) error) error
}

// BookTx はロック取得済みの蔵書に対する操作を表す。
type BookTx interface {
	// Book はロック取得時点の蔵書のコピーを返す。
	Book() *model.Book

	// SaveBook は蔵書の属性と在庫数を保存する。ISBN重複時はErrUniqueViolationを返す。
	SaveBook(ctx context.Context, book *model.Book) error

	// CountActiveBorrowings はこの蔵書の未返却の貸出数を返す。
	CountActiveBorrowings(ctx context.Context) (int, error)

	// FindActiveBorrowing は指定利用者によるこの蔵書の未返却の貸出を返す。見つからない場合はnilを返す。
	FindActiveBorrowing(ctx context.Context, userID string) (*model.Borrowing, error)

	// InsertBorrowing は貸出を作成する。同一利用者の未返却の貸出がある場合はErrUniqueViolationを返す。
	InsertBorrowing(ctx context.Context, borrowing *model.Borrowing) error

	// MarkReturned は未返却の貸出に返却日時を設定する。既に返却済みの場合はfalseを返す。
	MarkReturned(ctx context.Context, borrowingID string, at time.Time) (bool, error)

	// SoftDeleteBorrowing は貸出を論理削除し、削除時点で未返却だったかを返す。
	// 見つからない場合はErrNotFoundを返す。
	SoftDeleteBorrowing(ctx context.Context, borrowingID string, at time.Time) (bool, error)

	// SoftDeleteBook は蔵書とその全貸出を論理削除する。
	SoftDeleteBook(ctx context.Context, at time.Time) error
}

// LibrarianStats は司書向けダッシュボードの集計値。
type LibrarianStats struct {
	TotalBooks              int `db:"total_books"`
	TotalAvailableBooks     int `db:"total_available_books"`
	TotalBorrowedBooks      int `db:"total_borrowed_books"`
	BooksDueToday           int `db:"books_due_today"`
	OverdueBooks            int `db:"overdue_books"`
	TotalMembers            int `db:"total_members"`
	MembersWithOverdueBooks int `db:"members_with_overdue_books"`
}

// MemberStats は利用者向けダッシュボードの集計値。
type MemberStats struct {
	ActiveBorrowings int `db:"active_borrowings"`
	OverdueBooks     int `db:"overdue_books"`
	BooksDueSoon     int `db:"books_due_soon"`
	TotalBorrowed    int `db:"total_borrowed"`
}

// DashboardRepository はダッシュボード用の読み取り専用クエリを提供する。
type DashboardRepository interface {
	// LibrarianStats は館全体の集計値を返す。当日の判定は [dayStart, dayEnd) で行う。
	LibrarianStats(ctx context.Context, now, dayStart, dayEnd time.Time) (*LibrarianStats, error)

	// RecentBorrowings は最近の貸出を新しい順に最大 limit 件返す。
	RecentBorrowings(ctx context.Context, limit int) ([]*model.BorrowingDetail, error)

	// PopularBooks は貸出累計の多い蔵書を最大 limit 件返す。
	PopularBooks(ctx context.Context, limit int) ([]*model.Book, error)

	// MemberStats は利用者個人の集計値を返す。返却期限が soonUntil 以前の未返却の貸出を延滞中も含めて期限間近とする。
	MemberStats(ctx context.Context, userID string, now, soonUntil time.Time) (*MemberStats, error)

	// ActiveBorrowingsByUser は利用者の未返却の貸出を返却期限の早い順に返す。
	ActiveBorrowingsByUser(ctx context.Context, userID string) ([]*model.BorrowingDetail, error)

	// ReturnedBorrowingsByUser は利用者の返却済みの貸出を返却日時の新しい順に最大 limit 件返す。
	ReturnedBorrowingsByUser(ctx context.Context, userID string, limit int) ([]*model.BorrowingDetail, error)
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
