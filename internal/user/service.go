// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/librarian/internal/auth"
	"github.com/hitoshi/librarian/internal/model"
	"github.com/hitoshi/librarian/internal/repository"
)

// BorrowingReleaser は利用者の貸出を一括で論理削除し在庫を戻す。
type BorrowingReleaser interface {
	ReleaseUserBorrowings(ctx context.Context, userID string) error
}

// UpdateParams はユーザー更新の入力。nilのフィールドは変更しない。
type UpdateParams struct {
	Email                *string
	Password             *string
	PasswordConfirmation *string
}

// Service はユーザー管理のサービス層。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	releaser    BorrowingReleaser
	hasher      *auth.Hasher
	now         func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。now がnilの場合はtime.Now。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	releaser BorrowingReleaser,
	hasher *auth.Hasher,
	now func() time.Time,
) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		releaser:    releaser,
		hasher:      hasher,
		now:         now,
	}
}

// GetUser はユーザーを1件返す。存在しない場合はNotFoundエラーを返す。
func (s *Service) GetUser(ctx context.Context, id string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewNotFoundError()
	}
	return user, nil
}

// ListUsers はユーザーをメールアドレス順にページ単位で返す。
func (s *Service) ListUsers(ctx context.Context, page model.Page) ([]*model.User, model.Pagination, error) {
	users, total, err := s.userRepo.List(ctx, page)
	if err != nil {
		return nil, model.Pagination{}, fmt.Errorf("ユーザー一覧の取得に失敗しました: %w", err)
	}
	return users, model.NewPagination(page, total), nil
}

// UpdateUser はメールアドレスとパスワードを更新する。ロールは変更できない。
func (s *Service) UpdateUser(ctx context.Context, id string, params UpdateParams) (*model.User, error) {
	user, err := s.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}

	var messages []string
	if params.Email != nil {
		email := auth.NormalizeEmail(*params.Email)
		messages = append(messages, auth.ValidateEmail(email)...)
		if email != "" && email != user.Email {
			existing, err := s.userRepo.FindByEmail(ctx, email)
			if err != nil {
				return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
			}
			if existing != nil && existing.ID != user.ID {
				messages = append(messages, model.MsgEmailTaken)
			}
		}
		user.Email = email
	}
	if params.Password != nil {
		messages = append(messages, auth.ValidatePassword(*params.Password, params.PasswordConfirmation)...)
	}
	if len(messages) > 0 {
		return nil, model.NewValidationError(messages...)
	}

	if params.Password != nil {
		hash, err := s.hasher.Hash(*params.Password)
		if err != nil {
			return nil, err
		}
		user.PasswordHash = hash
	}
	user.UpdatedAt = s.now().UTC()

	if err := s.userRepo.Update(ctx, user); err != nil {
		switch {
		case errors.Is(err, repository.ErrUniqueViolation):
			return nil, model.NewValidationError(model.MsgEmailTaken)
		case errors.Is(err, repository.ErrNotFound):
			return nil, model.NewNotFoundError()
		}
		return nil, fmt.Errorf("ユーザーの更新に失敗しました: %w", err)
	}

	slog.Info("user updated", slog.String("user_id", user.ID))
	return user, nil
}

// DeleteUser はユーザーを論理削除する。
// 削除順序: 貸出（未返却分は在庫を戻す） → sessions → user
func (s *Service) DeleteUser(ctx context.Context, id string) error {
	user, err := s.GetUser(ctx, id)
	if err != nil {
		return err
	}

	slog.Info("ユーザー削除を開始します", slog.String("user_id", user.ID))

	// 1. 貸出を論理削除し在庫を戻す
	if s.releaser != nil {
		if err := s.releaser.ReleaseUserBorrowings(ctx, user.ID); err != nil {
			var apiErr *model.APIError
			if errors.As(err, &apiErr) {
				return apiErr
			}
			return fmt.Errorf("貸出の削除に失敗しました: %w", err)
		}
	}

	// 2. セッションを削除
	if s.sessionRepo != nil {
		if err := s.sessionRepo.DeleteByUserID(ctx, user.ID); err != nil {
			return fmt.Errorf("セッションの削除に失敗しました: %w", err)
		}
	}

	// 3. ユーザーを論理削除
	if err := s.userRepo.SoftDelete(ctx, user.ID, s.now().UTC()); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewNotFoundError()
		}
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	slog.Info("ユーザー削除が完了しました", slog.String("user_id", user.ID))
	return nil
}
