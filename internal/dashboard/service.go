// Package dashboard は役割ごとの集計ビューを組み立てる。状態は変更しない。
package dashboard

import (
	"context"
	"fmt"
	"time"

	"github.com/hitoshi/librarian/internal/model"
	"github.com/hitoshi/librarian/internal/repository"
)

const (
	// listLimit は各一覧の最大件数。
	listLimit = 10
	// DefaultDueSoonWindow は「返却期限間近」とみなす期間のデフォルト値。
	DefaultDueSoonWindow = 72 * time.Hour
)

// Config はServiceの設定。
type Config struct {
	// DueSoonWindow は返却期限間近とみなす期間。0以下の場合はDefaultDueSoonWindow。
	DueSoonWindow time.Duration
	// Now は現在時刻を返す。nilの場合はtime.Now。
	Now func() time.Time
}

// LibrarianView は司書向けダッシュボード。
type LibrarianView struct {
	Stats             repository.LibrarianStats
	RecentBorrowings  []*model.BorrowingDetail
	PopularBooks      []*model.Book
	OverdueBorrowings []*model.BorrowingDetail
}

// MemberView は利用者向けダッシュボード。
type MemberView struct {
	ActiveBorrowingsCount  int
	OverdueBorrowingsCount int
	BooksDueSoon           int
	BorrowedBooks          []*model.BorrowingDetail
	BorrowingHistory       []*model.BorrowingDetail
}

// View は役割に応じていずれか一方が設定されたダッシュボード。
type View struct {
	Librarian *LibrarianView
	Member    *MemberView
	// Now は延滞判定に使った時刻。
	Now time.Time
}

// Service はダッシュボードのサービス層。
type Service struct {
	repo          repository.DashboardRepository
	borrowings    repository.BorrowingRepository
	dueSoonWindow time.Duration
	now           func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo repository.DashboardRepository, borrowings repository.BorrowingRepository, cfg Config) *Service {
	window := cfg.DueSoonWindow
	if window <= 0 {
		window = DefaultDueSoonWindow
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{repo: repo, borrowings: borrowings, dueSoonWindow: window, now: now}
}

// Build は actor の役割に応じたダッシュボードを返す。
func (s *Service) Build(ctx context.Context, actor *model.User) (*View, error) {
	now := s.now().UTC()
	if actor.IsLibrarian() {
		v, err := s.librarian(ctx, now)
		if err != nil {
			return nil, err
		}
		return &View{Librarian: v, Now: now}, nil
	}
	v, err := s.member(ctx, actor.ID, now)
	if err != nil {
		return nil, err
	}
	return &View{Member: v, Now: now}, nil
}

func (s *Service) librarian(ctx context.Context, now time.Time) (*LibrarianView, error) {
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.AddDate(0, 0, 1)

	stats, err := s.repo.LibrarianStats(ctx, now, dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("集計値の取得に失敗しました: %w", err)
	}
	recent, err := s.repo.RecentBorrowings(ctx, listLimit)
	if err != nil {
		return nil, fmt.Errorf("最近の貸出の取得に失敗しました: %w", err)
	}
	popular, err := s.repo.PopularBooks(ctx, listLimit)
	if err != nil {
		return nil, fmt.Errorf("人気の蔵書の取得に失敗しました: %w", err)
	}
	overdue, err := s.borrowings.ListOverdue(ctx, model.Scope{}, now, listLimit)
	if err != nil {
		return nil, fmt.Errorf("延滞一覧の取得に失敗しました: %w", err)
	}
	return &LibrarianView{
		Stats:             *stats,
		RecentBorrowings:  recent,
		PopularBooks:      popular,
		OverdueBorrowings: overdue,
	}, nil
}

func (s *Service) member(ctx context.Context, userID string, now time.Time) (*MemberView, error) {
	stats, err := s.repo.MemberStats(ctx, userID, now, now.Add(s.dueSoonWindow))
	if err != nil {
		return nil, fmt.Errorf("集計値の取得に失敗しました: %w", err)
	}
	active, err := s.repo.ActiveBorrowingsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("貸出中の蔵書の取得に失敗しました: %w", err)
	}
	history, err := s.repo.ReturnedBorrowingsByUser(ctx, userID, listLimit)
	if err != nil {
		return nil, fmt.Errorf("貸出履歴の取得に失敗しました: %w", err)
	}
	return &MemberView{
		ActiveBorrowingsCount:  stats.ActiveBorrowings,
		OverdueBorrowingsCount: stats.OverdueBooks,
		BooksDueSoon:           stats.BooksDueSoon,
		BorrowedBooks:          active,
		BorrowingHistory:       history,
	}, nil
}
