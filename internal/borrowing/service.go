// Package borrowing は貸出の作成・返却・削除と一覧取得を提供する。
//
// 在庫数の増減はすべて repository.BookLocker の蔵書単位ロック内で行い、
// ロック外で行う重複・在庫の確認は事前チェックとしてのみ扱う。
package borrowing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/librarian/internal/model"
	"github.com/hitoshi/librarian/internal/repository"
)

// MsgBookMustExist は貸出対象の蔵書が存在しない場合のメッセージ。
const MsgBookMustExist = "Book must exist"

// Recorder は貸出イベントの計測を行う。
type Recorder interface {
	RecordBorrow()
	RecordReturn()
	RecordLockConflict(operation string)
}

// Config はServiceの設定。
type Config struct {
	// LoanPeriod は貸出期間。0以下の場合は model.DefaultLoanPeriod。
	LoanPeriod time.Duration
	// Now は現在時刻を返す。nilの場合はtime.Now。
	Now func() time.Time
}

// Service は貸出台帳のサービス層。
type Service struct {
	books      repository.BookRepository
	borrowings repository.BorrowingRepository
	locker     repository.BookLocker
	recorder   Recorder
	loanPeriod time.Duration
	now        func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。recorder はnilでもよい。
func NewService(
	books repository.BookRepository,
	borrowings repository.BorrowingRepository,
	locker repository.BookLocker,
	recorder Recorder,
	cfg Config,
) *Service {
	loanPeriod := cfg.LoanPeriod
	if loanPeriod <= 0 {
		loanPeriod = model.DefaultLoanPeriod
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		books:      books,
		borrowings: borrowings,
		locker:     locker,
		recorder:   recorder,
		loanPeriod: loanPeriod,
		now:        now,
	}
}

// ListBorrowings はスコープと状態で絞り込んだ貸出を新しい順にページ単位で返す。
func (s *Service) ListBorrowings(ctx context.Context, scope model.Scope, status model.BorrowingStatus, page model.Page) ([]*model.BorrowingDetail, model.Pagination, error) {
	list, total, err := s.borrowings.List(ctx, scope, status, s.now().UTC(), page)
	if err != nil {
		return nil, model.Pagination{}, fmt.Errorf("貸出一覧の取得に失敗しました: %w", err)
	}
	return list, model.NewPagination(page, total), nil
}

// OverdueBorrowings はスコープ内の延滞中の貸出を返却期限の古い順に返す。
func (s *Service) OverdueBorrowings(ctx context.Context, scope model.Scope) ([]*model.BorrowingDetail, error) {
	list, err := s.borrowings.ListOverdue(ctx, scope, s.now().UTC(), 0)
	if err != nil {
		return nil, fmt.Errorf("延滞一覧の取得に失敗しました: %w", err)
	}
	return list, nil
}

// GetBorrowing は貸出を1件返す。存在しない場合はNotFoundエラーを返す。
func (s *Service) GetBorrowing(ctx context.Context, id string) (*model.BorrowingDetail, error) {
	b, err := s.borrowings.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("貸出の取得に失敗しました: %w", err)
	}
	if b == nil {
		return nil, model.NewNotFoundError()
	}
	return b, nil
}

// CreateBorrowing は user による bookID の貸出を作成する。
// 重複と在庫の確認はロック取得前に一度行い、ロック内で再度検証する。
// ロック内で在庫が尽きていた場合はConflictエラーとなり、貸出は作成されない。
func (s *Service) CreateBorrowing(ctx context.Context, user *model.User, bookID string) (*model.BorrowingDetail, error) {
	var messages []string
	if !user.IsMember() {
		messages = append(messages, model.MsgMemberOnly)
	}

	var book *model.Book
	if bookID != "" {
		var err error
		book, err = s.books.FindByID(ctx, bookID)
		if err != nil {
			return nil, fmt.Errorf("蔵書の取得に失敗しました: %w", err)
		}
	}
	if book == nil {
		messages = append(messages, MsgBookMustExist)
		return nil, model.NewValidationError(messages...)
	}

	existing, err := s.borrowings.FindActive(ctx, user.ID, book.ID)
	if err != nil {
		return nil, fmt.Errorf("貸出状況の確認に失敗しました: %w", err)
	}
	if existing != nil {
		messages = append(messages, model.MsgAlreadyBorrowed)
	}
	if !book.IsAvailable() {
		messages = append(messages, model.MsgBookUnavailable)
	}
	if len(messages) > 0 {
		return nil, model.NewValidationError(messages...)
	}

	now := s.now().UTC()
	borrowing := &model.Borrowing{
		ID:         uuid.New().String(),
		UserID:     user.ID,
		BookID:     book.ID,
		BorrowedAt: now,
		DueDate:    now.Add(s.loanPeriod),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err = s.locker.WithBookLock(ctx, book.ID, func(ctx context.Context, tx repository.BookTx) error {
		dup, err := tx.FindActiveBorrowing(ctx, user.ID)
		if err != nil {
			return fmt.Errorf("貸出状況の確認に失敗しました: %w", err)
		}
		if dup != nil {
			return model.NewValidationError(model.MsgAlreadyBorrowed)
		}

		locked := tx.Book()
		if locked.AvailableCopies <= 0 {
			return model.NewConflictError(model.MsgBookNoLongerAvail)
		}
		if err := tx.InsertBorrowing(ctx, borrowing); err != nil {
			return err
		}
		locked.AvailableCopies--
		locked.BorrowingsCount++
		locked.UpdatedAt = now
		return tx.SaveBook(ctx, locked)
	})
	if err != nil {
		if errors.Is(err, repository.ErrUniqueViolation) {
			return nil, model.NewValidationError(model.MsgAlreadyBorrowed)
		}
		if errors.Is(err, repository.ErrCheckViolation) {
			return nil, model.NewConflictError(model.MsgBookNoLongerAvail)
		}
		return nil, s.translate("create_borrowing", err)
	}

	if s.recorder != nil {
		s.recorder.RecordBorrow()
	}
	slog.Info("book borrowed",
		slog.String("borrowing_id", borrowing.ID),
		slog.String("book_id", book.ID),
		slog.String("user_id", user.ID),
		slog.Time("due_date", borrowing.DueDate),
	)

	return &model.BorrowingDetail{
		Borrowing:  *borrowing,
		BookTitle:  book.Title,
		BookAuthor: book.Author,
		BookISBN:   book.ISBN,
		UserEmail:  user.Email,
	}, nil
}

// ReturnBorrowing は貸出を返却済みにし、在庫を1冊戻す。
// 返却済みの貸出に対しては在庫を変更せず検証エラーを返す。
func (s *Service) ReturnBorrowing(ctx context.Context, id string) (*model.BorrowingDetail, error) {
	current, err := s.GetBorrowing(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.IsReturned() {
		return nil, model.NewValidationError(model.MsgAlreadyReturned)
	}

	now := s.now().UTC()
	err = s.locker.WithBookLock(ctx, current.BookID, func(ctx context.Context, tx repository.BookTx) error {
		ok, err := tx.MarkReturned(ctx, current.ID, now)
		if err != nil {
			return fmt.Errorf("返却の記録に失敗しました: %w", err)
		}
		if !ok {
			return model.NewValidationError(model.MsgAlreadyReturned)
		}
		book := tx.Book()
		if book.AvailableCopies < book.TotalCopies {
			book.AvailableCopies++
		}
		book.UpdatedAt = now
		return tx.SaveBook(ctx, book)
	})
	if err != nil {
		return nil, s.translate("return_borrowing", err)
	}

	if s.recorder != nil {
		s.recorder.RecordReturn()
	}
	slog.Info("book returned",
		slog.String("borrowing_id", current.ID),
		slog.String("book_id", current.BookID),
		slog.String("user_id", current.UserID),
	)

	current.ReturnedAt = &now
	current.UpdatedAt = now
	return current, nil
}

// DeleteBorrowing は貸出を論理削除する。未返却だった場合は在庫を1冊戻す。
func (s *Service) DeleteBorrowing(ctx context.Context, id string) error {
	current, err := s.GetBorrowing(ctx, id)
	if err != nil {
		return err
	}
	if err := s.release(ctx, current.BookID, current.ID); err != nil {
		return s.translate("delete_borrowing", err)
	}
	slog.Info("borrowing deleted", slog.String("borrowing_id", id))
	return nil
}

// ReleaseUserBorrowings は利用者の全貸出を論理削除し、未返却分の在庫を戻す。
// ユーザー削除時のカスケードとして使う。
func (s *Service) ReleaseUserBorrowings(ctx context.Context, userID string) error {
	active, err := s.borrowings.ListActiveByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("未返却の貸出の取得に失敗しました: %w", err)
	}
	for _, b := range active {
		if err := s.release(ctx, b.BookID, b.ID); err != nil {
			// 削除済みの蔵書の貸出は蔵書削除時に処理済み
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}
			return s.translate("release_borrowing", err)
		}
	}
	if err := s.borrowings.SoftDeleteReturnedByUser(ctx, userID, s.now().UTC()); err != nil {
		return fmt.Errorf("返却済みの貸出の削除に失敗しました: %w", err)
	}
	return nil
}

// release はロック内で貸出を論理削除し、未返却だった場合は在庫を戻す。
func (s *Service) release(ctx context.Context, bookID, borrowingID string) error {
	now := s.now().UTC()
	return s.locker.WithBookLock(ctx, bookID, func(ctx context.Context, tx repository.BookTx) error {
		wasActive, err := tx.SoftDeleteBorrowing(ctx, borrowingID, now)
		if err != nil {
			return err
		}
		if !wasActive {
			return nil
		}
		book := tx.Book()
		if book.AvailableCopies < book.TotalCopies {
			book.AvailableCopies++
		}
		book.UpdatedAt = now
		return tx.SaveBook(ctx, book)
	})
}

// translate はリポジトリ層のエラーをAPIErrorへ変換する。
func (s *Service) translate(operation string, err error) error {
	var apiErr *model.APIError
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, repository.ErrNotFound):
		return model.NewNotFoundError()
	case errors.Is(err, repository.ErrLockTimeout):
		if s.recorder != nil {
			s.recorder.RecordLockConflict(operation)
		}
		slog.Warn("book lock wait timed out", slog.String("operation", operation))
		return model.NewConflictError(model.MsgBookBusy)
	default:
		return fmt.Errorf("貸出の更新に失敗しました: %w", err)
	}
}
