// Package auth はメールアドレスとパスワードによる認証、Bearerトークンのセッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/librarian/internal/model"
	"github.com/hitoshi/librarian/internal/repository"
)

// 認証フローで利用者に返すメッセージ
const (
	MsgSignedUp        = "Signed up successfully."
	MsgSignUpFailed    = "User could not be created."
	MsgLoggedIn        = "Logged in successfully."
	MsgLoggedOut       = "Logged out successfully."
	MsgNoActiveSession = "No active session."
)

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge time.Duration // セッション有効期間
	BcryptCost    int           // 0の場合はbcrypt.DefaultCost
	Now           func() time.Time
}

// SignUpParams は利用者登録の入力。
type SignUpParams struct {
	Email                string
	Password             string
	PasswordConfirmation *string
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	hasher      *Hasher
	maxAge      time.Duration
	now         func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	config ServiceConfig,
) *Service {
	now := config.Now
	if now == nil {
		now = time.Now
	}
	maxAge := config.SessionMaxAge
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		hasher:      NewHasher(config.BcryptCost),
		maxAge:      maxAge,
		now:         now,
	}
}

// Hasher はパスワード検証・ハッシュ化に使うHasherを返す。
func (s *Service) Hasher() *Hasher {
	return s.hasher
}

// SignUp は利用者（member）を登録し、新しいトークンを発行する。
func (s *Service) SignUp(ctx context.Context, params SignUpParams) (*model.User, string, error) {
	user, err := s.createUser(ctx, params.Email, params.Password, params.PasswordConfirmation, model.RoleMember)
	if err != nil {
		return nil, "", err
	}
	token, err := s.issueToken(ctx, user.ID)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// CreateLibrarian は司書アカウントを作成する。トークンは発行しない。
func (s *Service) CreateLibrarian(ctx context.Context, email, password string) (*model.User, error) {
	return s.createUser(ctx, email, password, nil, model.RoleLibrarian)
}

// SignIn はメールアドレスとパスワードを検証し、新しいトークンを発行する。
// 利用者が存在しない場合もパスワード不一致の場合も同じエラーを返す。
func (s *Service) SignIn(ctx context.Context, email, password string) (*model.User, string, error) {
	user, err := s.userRepo.FindByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return nil, "", fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil || !s.hasher.Matches(user.PasswordHash, password) {
		slog.Info("sign in rejected", slog.String("email", NormalizeEmail(email)))
		return nil, "", model.NewInvalidCredentialsError()
	}

	token, err := s.issueToken(ctx, user.ID)
	if err != nil {
		return nil, "", err
	}
	slog.Info("user signed in", slog.String("user_id", user.ID))
	return user, token, nil
}

// SignOut はトークンに対応するセッションを破棄する。
// 有効なセッションがない場合は認証エラーを返す。
func (s *Service) SignOut(ctx context.Context, token string) error {
	if token == "" {
		return model.NewAuthenticationError(MsgNoActiveSession)
	}
	deleted, err := s.sessionRepo.DeleteByID(ctx, digest(token))
	if err != nil {
		return fmt.Errorf("セッションの削除に失敗しました: %w", err)
	}
	if !deleted {
		return model.NewAuthenticationError(MsgNoActiveSession)
	}
	slog.Info("user signed out")
	return nil
}

// Authenticate はトークンから有効なセッションの利用者を取得する。
// トークンが空・不正・期限切れ、または利用者が削除済みの場合は認証エラーを返す。
func (s *Service) Authenticate(ctx context.Context, token string) (*model.User, error) {
	if token == "" {
		return nil, model.NewAuthenticationError(model.MsgAuthRequired)
	}

	session, err := s.sessionRepo.FindByID(ctx, digest(token))
	if err != nil {
		return nil, fmt.Errorf("セッションの取得に失敗しました: %w", err)
	}
	if session == nil || !session.ExpiresAt.After(s.now()) {
		return nil, model.NewAuthenticationError(model.MsgInvalidToken)
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewAuthenticationError(model.MsgInvalidToken)
	}
	return user, nil
}

func (s *Service) createUser(ctx context.Context, email, password string, confirmation *string, role model.Role) (*model.User, error) {
	email = NormalizeEmail(email)
	messages := ValidateEmail(email)
	messages = append(messages, ValidatePassword(password, confirmation)...)

	if email != "" {
		existing, err := s.userRepo.FindByEmail(ctx, email)
		if err != nil {
			return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
		}
		if existing != nil {
			messages = append(messages, model.MsgEmailTaken)
		}
	}
	if len(messages) > 0 {
		return nil, model.NewValidationError(messages...)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	user := &model.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrUniqueViolation) {
			return nil, model.NewValidationError(model.MsgEmailTaken)
		}
		return nil, fmt.Errorf("ユーザーの作成に失敗しました: %w", err)
	}

	slog.Info("new user created",
		slog.String("user_id", user.ID),
		slog.String("role", string(user.Role)),
	)
	return user, nil
}

// issueToken はトークンを生成し、そのダイジェストをセッションとして保存する。
func (s *Service) issueToken(ctx context.Context, userID string) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	now := s.now().UTC()
	session := &model.Session{
		ID:        digest(token),
		UserID:    userID,
		ExpiresAt: now.Add(s.maxAge),
		CreatedAt: now,
	}
	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return "", fmt.Errorf("failed to save session: %w", err)
	}
	return token, nil
}

// generateToken は暗号的に安全なトークンを生成する。
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// digest はトークンのSHA-256ダイジェストを16進文字列で返す。
func digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
