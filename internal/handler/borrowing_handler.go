package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/librarian/internal/middleware"
	"github.com/hitoshi/librarian/internal/model"
	"github.com/hitoshi/librarian/internal/policy"
)

// 貸出の変更操作で返すメッセージ
const (
	MsgBookBorrowed     = "Book borrowed successfully"
	MsgBookReturned     = "Book returned successfully"
	MsgBorrowingDeleted = "Borrowing deleted successfully"
)

// actionTypeReturn は返却を表す action_type の値。
const actionTypeReturn = "return"

// BorrowingServiceInterface は貸出ハンドラーが必要とするサービスインターフェース。
type BorrowingServiceInterface interface {
	ListBorrowings(ctx context.Context, scope model.Scope, status model.BorrowingStatus, page model.Page) ([]*model.BorrowingDetail, model.Pagination, error)
	OverdueBorrowings(ctx context.Context, scope model.Scope) ([]*model.BorrowingDetail, error)
	GetBorrowing(ctx context.Context, id string) (*model.BorrowingDetail, error)
	CreateBorrowing(ctx context.Context, user *model.User, bookID string) (*model.BorrowingDetail, error)
	ReturnBorrowing(ctx context.Context, id string) (*model.BorrowingDetail, error)
	DeleteBorrowing(ctx context.Context, id string) error
}

// BorrowingHandler は貸出管理のHTTPハンドラー。
type BorrowingHandler struct {
	service    BorrowingServiceInterface
	pagination PaginationConfig
	now        func() time.Time
}

// NewBorrowingHandler はBorrowingHandlerを生成する。now がnilの場合はtime.Now。
func NewBorrowingHandler(service BorrowingServiceInterface, pagination PaginationConfig, now func() time.Time) *BorrowingHandler {
	if now == nil {
		now = time.Now
	}
	return &BorrowingHandler{service: service, pagination: pagination, now: now}
}

type borrowingFields struct {
	BookID string `json:"book_id"`
}

// borrowingRequest は {"borrowing": {...}} と平坦な形式の両方を受け付ける。
type borrowingRequest struct {
	Borrowing  *borrowingFields `json:"borrowing"`
	ActionType string           `json:"action_type"`
	borrowingFields
}

func (req borrowingRequest) bookID() string {
	if req.Borrowing != nil {
		return strings.TrimSpace(req.Borrowing.BookID)
	}
	return strings.TrimSpace(req.BookID)
}

type borrowingListResponse struct {
	Borrowings []borrowingResponse  `json:"borrowings"`
	Pagination *paginationResponse `json:"pagination,omitempty"`
}

type borrowingEnvelope struct {
	Borrowing borrowingResponse `json:"borrowing"`
	Message   string            `json:"message,omitempty"`
}

// ListBorrowings は利用者が閲覧できる範囲の貸出一覧を返す。
// 司書は全件、利用者は本人の貸出のみ。
// GET /api/v1/borrowings?status=active|returned|overdue&page=&per_page=
func (h *BorrowingHandler) ListBorrowings(w http.ResponseWriter, r *http.Request) {
	if !authorize(w, r, policy.ResourceBorrowing, policy.ActionIndex, policy.Target{}) {
		return
	}

	scope := policy.ResolveScope(middleware.UserFromContext(r.Context()))
	status := model.ParseBorrowingStatus(r.URL.Query().Get("status"))
	list, pagination, err := h.service.ListBorrowings(r.Context(), scope, status, h.pagination.parsePage(r))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	p := toPaginationResponse(pagination)
	writeJSON(w, http.StatusOK, borrowingListResponse{
		Borrowings: toBorrowingResponses(list, viewList, h.now()),
		Pagination: &p,
	})
}

// OverdueBorrowings は延滞中の貸出を返却期限の昇順で返す。
// GET /api/v1/borrowings/overdue
func (h *BorrowingHandler) OverdueBorrowings(w http.ResponseWriter, r *http.Request) {
	if !authorize(w, r, policy.ResourceBorrowing, policy.ActionOverdue, policy.Target{}) {
		return
	}

	scope := policy.ResolveScope(middleware.UserFromContext(r.Context()))
	list, err := h.service.OverdueBorrowings(r.Context(), scope)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, borrowingListResponse{
		Borrowings: toBorrowingResponses(list, viewList, h.now()),
	})
}

// GetBorrowing は貸出を1件返す。司書または貸出の本人のみ閲覧できる。
// GET /api/v1/borrowings/{id}
func (h *BorrowingHandler) GetBorrowing(w http.ResponseWriter, r *http.Request) {
	detail, err := h.service.GetBorrowing(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if !authorize(w, r, policy.ResourceBorrowing, policy.ActionShow, policy.Target{OwnerID: detail.UserID}) {
		return
	}
	writeJSON(w, http.StatusOK, borrowingEnvelope{
		Borrowing: toBorrowingResponse(detail, viewDetail, h.now()),
	})
}

// CreateBorrowing はリクエストの利用者による貸出を作成する。
// POST /api/v1/borrowings
func (h *BorrowingHandler) CreateBorrowing(w http.ResponseWriter, r *http.Request) {
	if !authorize(w, r, policy.ResourceBorrowing, policy.ActionCreate, policy.Target{}) {
		return
	}

	var req borrowingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	user := middleware.UserFromContext(r.Context())
	detail, err := h.service.CreateBorrowing(r.Context(), user, req.bookID())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, borrowingEnvelope{
		Borrowing: toBorrowingResponse(detail, viewDetail, h.now()),
		Message:   MsgBookBorrowed,
	})
}

// UpdateBorrowing は action_type=return の場合に貸出を返却済みにする。
// それ以外の action_type は不正な操作として扱う。
// PATCH|PUT /api/v1/borrowings/{id}?action_type=return
func (h *BorrowingHandler) UpdateBorrowing(w http.ResponseWriter, r *http.Request) {
	detail, err := h.service.GetBorrowing(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if !authorize(w, r, policy.ResourceBorrowing, policy.ActionUpdate, policy.Target{OwnerID: detail.UserID}) {
		return
	}

	actionType := r.URL.Query().Get("action_type")
	if actionType == "" {
		var req borrowingRequest
		if err := decodeJSON(w, r, &req); err != nil {
			handleServiceError(w, r, err)
			return
		}
		actionType = req.ActionType
	}
	if actionType != actionTypeReturn {
		handleServiceError(w, r, model.NewInvalidActionError())
		return
	}
	if !authorize(w, r, policy.ResourceBorrowing, policy.ActionReturn, policy.Target{OwnerID: detail.UserID}) {
		return
	}

	returned, err := h.service.ReturnBorrowing(r.Context(), detail.ID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, borrowingEnvelope{
		Borrowing: toBorrowingResponse(returned, viewDetail, h.now()),
		Message:   MsgBookReturned,
	})
}

// DeleteBorrowing は貸出を論理削除する。
// DELETE /api/v1/borrowings/{id}
func (h *BorrowingHandler) DeleteBorrowing(w http.ResponseWriter, r *http.Request) {
	if !authorize(w, r, policy.ResourceBorrowing, policy.ActionDestroy, policy.Target{}) {
		return
	}
	if err := h.service.DeleteBorrowing(r.Context(), chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: MsgBorrowingDeleted})
}
