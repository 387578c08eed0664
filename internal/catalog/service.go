// Package catalog は蔵書の登録・検索・更新・削除のドメインロジックを提供する。
//
// 在庫数（available_copies）は常に「総数 − 未返却の貸出数」と一致するよう、
// 更新と削除は蔵書単位のロック内で行う。
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/librarian/internal/model"
	"github.com/hitoshi/librarian/internal/repository"
	"github.com/hitoshi/librarian/internal/security"
)

// defaultTotalCopies は総数未指定で登録した場合の所蔵数。
const defaultTotalCopies = 1

// ConflictRecorder はロック競合の発生を記録する。
type ConflictRecorder interface {
	RecordLockConflict(operation string)
}

// Config はServiceの設定。
type Config struct {
	// Now は現在時刻を返す。nilの場合はtime.Now。
	Now func() time.Time
}

// Service は蔵書管理のサービス層。
type Service struct {
	books     repository.BookRepository
	locker    repository.BookLocker
	sanitizer security.TextSanitizer
	recorder  ConflictRecorder
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。recorder はnilでもよい。
func NewService(
	books repository.BookRepository,
	locker repository.BookLocker,
	sanitizer security.TextSanitizer,
	recorder ConflictRecorder,
	cfg Config,
) *Service {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		books:     books,
		locker:    locker,
		sanitizer: sanitizer,
		recorder:  recorder,
		now:       now,
	}
}

// ListBooks は検索条件に一致する蔵書をページ単位で返す。
func (s *Service) ListBooks(ctx context.Context, filter model.BookFilter, page model.Page) ([]*model.Book, model.Pagination, error) {
	books, total, err := s.books.List(ctx, filter, page)
	if err != nil {
		return nil, model.Pagination{}, fmt.Errorf("蔵書一覧の取得に失敗しました: %w", err)
	}
	return books, model.NewPagination(page, total), nil
}

// GetBook は蔵書を1件返す。存在しない場合はNotFoundエラーを返す。
func (s *Service) GetBook(ctx context.Context, id string) (*model.Book, error) {
	book, err := s.books.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("蔵書の取得に失敗しました: %w", err)
	}
	if book == nil {
		return nil, model.NewNotFoundError()
	}
	return book, nil
}

// CreateBook は蔵書を登録する。available_copies 未指定時は総数と同じ値になる。
func (s *Service) CreateBook(ctx context.Context, attrs model.BookAttrs) (*model.Book, error) {
	v := &validator{messages: append([]string{}, attrs.Invalid...)}

	title := v.required("Title", s.clean(attrs.Title))
	author := v.required("Author", s.clean(attrs.Author))
	genre := v.required("Genre", s.clean(attrs.Genre))
	isbn := v.required("Isbn", s.clean(attrs.ISBN))

	total := defaultTotalCopies
	if attrs.TotalCopies != nil {
		total = *attrs.TotalCopies
	}
	available := total
	if attrs.AvailableCopies != nil {
		available = *attrs.AvailableCopies
	}
	v.nonNegative("Total copies", total)
	if v.nonNegative("Available copies", available) && available > total {
		v.add(model.MsgAvailableExceedTotal)
	}

	if isbn != "" {
		dup, err := s.books.FindByISBN(ctx, isbn)
		if err != nil {
			return nil, fmt.Errorf("ISBNの重複確認に失敗しました: %w", err)
		}
		if dup != nil {
			v.add(model.MsgISBNTaken)
		}
	}
	if err := v.err(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	book := &model.Book{
		ID:              uuid.New().String(),
		Title:           title,
		Author:          author,
		Genre:           genre,
		ISBN:            isbn,
		TotalCopies:     total,
		AvailableCopies: available,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.books.Create(ctx, book); err != nil {
		return nil, s.translate("create_book", err)
	}

	slog.Info("book created",
		slog.String("book_id", book.ID),
		slog.String("isbn", book.ISBN),
		slog.Int("total_copies", book.TotalCopies),
	)
	return book, nil
}

// UpdateBook は蔵書を部分更新する。
// total_copies を変更すると available_copies は「新しい総数 − 未返却の貸出数」に再計算される。
// 総数を未返却の貸出数より小さくすることはできない。
// available_copies を指定した場合はその再計算結果と一致する値のみ受け付ける。
func (s *Service) UpdateBook(ctx context.Context, id string, attrs model.BookAttrs) (*model.Book, error) {
	var updated *model.Book
	err := s.locker.WithBookLock(ctx, id, func(ctx context.Context, tx repository.BookTx) error {
		book := tx.Book()
		v := &validator{messages: append([]string{}, attrs.Invalid...)}

		if attrs.Title != nil {
			book.Title = v.required("Title", s.clean(attrs.Title))
		}
		if attrs.Author != nil {
			book.Author = v.required("Author", s.clean(attrs.Author))
		}
		if attrs.Genre != nil {
			book.Genre = v.required("Genre", s.clean(attrs.Genre))
		}
		if attrs.ISBN != nil {
			isbn := v.required("Isbn", s.clean(attrs.ISBN))
			if isbn != "" && !strings.EqualFold(isbn, book.ISBN) {
				dup, err := s.books.FindByISBN(ctx, isbn)
				if err != nil {
					return fmt.Errorf("ISBNの重複確認に失敗しました: %w", err)
				}
				if dup != nil && dup.ID != book.ID {
					v.add(model.MsgISBNTaken)
				}
			}
			book.ISBN = isbn
		}

		if attrs.TotalCopies != nil || attrs.AvailableCopies != nil {
			active, err := tx.CountActiveBorrowings(ctx)
			if err != nil {
				return fmt.Errorf("貸出数の取得に失敗しました: %w", err)
			}
			if attrs.TotalCopies != nil {
				total := *attrs.TotalCopies
				if v.nonNegative("Total copies", total) {
					if total < active {
						v.add(fmt.Sprintf("Total copies cannot be less than active borrowings (%d)", active))
					} else {
						book.TotalCopies = total
						book.AvailableCopies = total - active
					}
				}
			}
			if attrs.AvailableCopies != nil {
				available := *attrs.AvailableCopies
				if v.nonNegative("Available copies", available) {
					switch {
					case available > book.TotalCopies:
						v.add(model.MsgAvailableExceedTotal)
					case available != book.TotalCopies-active:
						v.add(fmt.Sprintf("Available copies must equal total copies minus active borrowings (%d)", book.TotalCopies-active))
					}
				}
			}
		}

		if err := v.err(); err != nil {
			return err
		}

		book.UpdatedAt = s.now().UTC()
		if err := tx.SaveBook(ctx, book); err != nil {
			return err
		}
		updated = book
		return nil
	})
	if err != nil {
		return nil, s.translate("update_book", err)
	}

	slog.Info("book updated",
		slog.String("book_id", updated.ID),
		slog.Int("total_copies", updated.TotalCopies),
		slog.Int("available_copies", updated.AvailableCopies),
	)
	return updated, nil
}

// DeleteBook は蔵書とその全貸出を論理削除する。
func (s *Service) DeleteBook(ctx context.Context, id string) error {
	err := s.locker.WithBookLock(ctx, id, func(ctx context.Context, tx repository.BookTx) error {
		return tx.SoftDeleteBook(ctx, s.now().UTC())
	})
	if err != nil {
		return s.translate("delete_book", err)
	}
	slog.Info("book deleted", slog.String("book_id", id))
	return nil
}

// clean は入力文字列からマークアップを除去する。nilは空文字列として扱う。
func (s *Service) clean(v *string) string {
	if v == nil {
		return ""
	}
	return s.sanitizer.Sanitize(*v)
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
	case errors.Is(err, repository.ErrUniqueViolation):
		return model.NewValidationError(model.MsgISBNTaken)
	case errors.Is(err, repository.ErrCheckViolation):
		return model.NewValidationError(model.MsgAvailableExceedTotal)
	default:
		return fmt.Errorf("蔵書の保存に失敗しました: %w", err)
	}
}
