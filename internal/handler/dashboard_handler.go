package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/librarian/internal/dashboard"
	"github.com/hitoshi/librarian/internal/middleware"
	"github.com/hitoshi/librarian/internal/model"
	"github.com/hitoshi/librarian/internal/policy"
)

// DashboardServiceInterface はダッシュボードハンドラーが必要とするサービスインターフェース。
type DashboardServiceInterface interface {
	Build(ctx context.Context, actor *model.User) (*dashboard.View, error)
}

// DashboardHandler はダッシュボードのHTTPハンドラー。
type DashboardHandler struct {
	service DashboardServiceInterface
}

// NewDashboardHandler はDashboardHandlerを生成する。
func NewDashboardHandler(service DashboardServiceInterface) *DashboardHandler {
	return &DashboardHandler{service: service}
}

type librarianDashboardResponse struct {
	TotalBooks              int                   `json:"total_books"`
	TotalAvailableBooks     int                   `json:"total_available_books"`
	TotalBorrowedBooks      int                   `json:"total_borrowed_books"`
	BooksDueToday           int                   `json:"books_due_today"`
	OverdueBooks            int                   `json:"overdue_books"`
	TotalMembers            int                   `json:"total_members"`
	MembersWithOverdueBooks int                   `json:"members_with_overdue_books"`
	RecentBorrowings        []borrowingResponse   `json:"recent_borrowings"`
	PopularBooks            []popularBookResponse `json:"popular_books"`
	OverdueBorrowings       []borrowingResponse   `json:"overdue_borrowings"`
}

type memberDashboardResponse struct {
	ActiveBorrowingsCount  int                 `json:"active_borrowings_count"`
	OverdueBorrowingsCount int                 `json:"overdue_borrowings_count"`
	BooksDueSoon           int                 `json:"books_due_soon"`
	BorrowedBooks          []borrowingResponse `json:"borrowed_books"`
	BorrowingHistory       []borrowingResponse `json:"borrowing_history"`
}

type dashboardEnvelope struct {
	Dashboard any `json:"dashboard"`
}

// GetDashboard は利用者の役割に応じたダッシュボードを返す。
// GET /api/v1/dashboard
func (h *DashboardHandler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	if !authorize(w, r, policy.ResourceDashboard, policy.ActionShow, policy.Target{}) {
		return
	}

	view, err := h.service.Build(r.Context(), middleware.UserFromContext(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	if view.Librarian != nil {
		writeJSON(w, http.StatusOK, dashboardEnvelope{Dashboard: toLibrarianDashboard(view.Librarian, view)})
		return
	}
	writeJSON(w, http.StatusOK, dashboardEnvelope{Dashboard: toMemberDashboard(view.Member, view)})
}

func toLibrarianDashboard(v *dashboard.LibrarianView, view *dashboard.View) librarianDashboardResponse {
	popular := make([]popularBookResponse, 0, len(v.PopularBooks))
	for _, b := range v.PopularBooks {
		popular = append(popular, popularBookResponse{
			ID:              b.ID,
			Title:           b.Title,
			Author:          b.Author,
			BorrowingsCount: b.BorrowingsCount,
			AvailableCopies: b.AvailableCopies,
		})
	}
	return librarianDashboardResponse{
		TotalBooks:              v.Stats.TotalBooks,
		TotalAvailableBooks:     v.Stats.TotalAvailableBooks,
		TotalBorrowedBooks:      v.Stats.TotalBorrowedBooks,
		BooksDueToday:           v.Stats.BooksDueToday,
		OverdueBooks:            v.Stats.OverdueBooks,
		TotalMembers:            v.Stats.TotalMembers,
		MembersWithOverdueBooks: v.Stats.MembersWithOverdueBooks,
		RecentBorrowings:        toBorrowingResponses(v.RecentBorrowings, viewList, view.Now),
		PopularBooks:            popular,
		OverdueBorrowings:       toBorrowingResponses(v.OverdueBorrowings, viewList, view.Now),
	}
}

func toMemberDashboard(v *dashboard.MemberView, view *dashboard.View) memberDashboardResponse {
	return memberDashboardResponse{
		ActiveBorrowingsCount:  v.ActiveBorrowingsCount,
		OverdueBorrowingsCount: v.OverdueBorrowingsCount,
		BooksDueSoon:           v.BooksDueSoon,
		BorrowedBooks:          toBorrowingResponses(v.BorrowedBooks, viewOwn, view.Now),
		BorrowingHistory:       toBorrowingResponses(v.BorrowingHistory, viewHistory, view.Now),
	}
}
