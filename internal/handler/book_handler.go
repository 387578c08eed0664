package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/librarian/internal/middleware"
	"github.com/hitoshi/librarian/internal/model"
	"github.com/hitoshi/librarian/internal/policy"
)

// 蔵書の変更操作で返すメッセージ
const (
	MsgBookCreated = "Book created successfully"
	MsgBookUpdated = "Book updated successfully"
	MsgBookDeleted = "Book deleted successfully"
)

// BookServiceInterface は蔵書ハンドラーが必要とするサービスインターフェース。
type BookServiceInterface interface {
	ListBooks(ctx context.Context, filter model.BookFilter, page model.Page) ([]*model.Book, model.Pagination, error)
	GetBook(ctx context.Context, id string) (*model.Book, error)
	CreateBook(ctx context.Context, attrs model.BookAttrs) (*model.Book, error)
	UpdateBook(ctx context.Context, id string, attrs model.BookAttrs) (*model.Book, error)
	DeleteBook(ctx context.Context, id string) error
}

// BookHandler は蔵書管理のHTTPハンドラー。
type BookHandler struct {
	service    BookServiceInterface
	pagination PaginationConfig
}

// NewBookHandler はBookHandlerを生成する。
func NewBookHandler(service BookServiceInterface, pagination PaginationConfig) *BookHandler {
	return &BookHandler{service: service, pagination: pagination}
}

type bookFields struct {
	Title           *string `json:"title"`
	Author          *string `json:"author"`
	Genre           *string `json:"genre"`
	ISBN            *string `json:"isbn"`
	TotalCopies     flexInt `json:"total_copies"`
	AvailableCopies flexInt `json:"available_copies"`
}

// bookRequest は {"book": {...}} と平坦な形式の両方を受け付ける。
type bookRequest struct {
	Book *bookFields `json:"book"`
	bookFields
}

func (req bookRequest) attrs() model.BookAttrs {
	f := req.bookFields
	if req.Book != nil {
		f = *req.Book
	}
	attrs := model.BookAttrs{
		Title:  f.Title,
		Author: f.Author,
		Genre:  f.Genre,
		ISBN:   f.ISBN,
	}
	attrs.TotalCopies = f.TotalCopies.ptr("Total copies", &attrs.Invalid)
	attrs.AvailableCopies = f.AvailableCopies.ptr("Available copies", &attrs.Invalid)
	return attrs
}

type bookListResponse struct {
	Books      []bookResponse     `json:"books"`
	Pagination paginationResponse `json:"pagination"`
}

type bookEnvelope struct {
	Book    bookResponse `json:"book"`
	Message string       `json:"message,omitempty"`
}

// parseBookFilter はクエリパラメータから蔵書の絞り込み条件を組み立てる。
func parseBookFilter(r *http.Request) model.BookFilter {
	q := r.URL.Query()
	filter := model.BookFilter{
		Query:         strings.TrimSpace(q.Get("query")),
		Genre:         strings.TrimSpace(q.Get("genre")),
		AvailableOnly: q.Get("available") == "true",
	}
	switch model.BookSort(q.Get("sort")) {
	case model.BookSortTitle:
		filter.Sort = model.BookSortTitle
	case model.BookSortAuthor:
		filter.Sort = model.BookSortAuthor
	default:
		filter.Sort = model.BookSortNewest
	}
	return filter
}

// authorize はリクエストの利用者が操作を実行できるか確認し、できなければエラーレスポンスを書き込む。
func authorize(w http.ResponseWriter, r *http.Request, resource policy.Resource, action policy.Action, target policy.Target) bool {
	if err := policy.Authorize(middleware.UserFromContext(r.Context()), resource, action, target); err != nil {
		handleServiceError(w, r, err)
		return false
	}
	return true
}

// ListBooks は蔵書一覧を返す。
// GET /api/v1/books?query=&genre=&available=true&sort=title|author&page=&per_page=
func (h *BookHandler) ListBooks(w http.ResponseWriter, r *http.Request) {
	if !authorize(w, r, policy.ResourceBook, policy.ActionIndex, policy.Target{}) {
		return
	}

	books, pagination, err := h.service.ListBooks(r.Context(), parseBookFilter(r), h.pagination.parsePage(r))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := bookListResponse{
		Books:      make([]bookResponse, 0, len(books)),
		Pagination: toPaginationResponse(pagination),
	}
	for _, b := range books {
		resp.Books = append(resp.Books, toBookResponse(b))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetBook は蔵書を1件返す。
// GET /api/v1/books/{id}
func (h *BookHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	if !authorize(w, r, policy.ResourceBook, policy.ActionShow, policy.Target{}) {
		return
	}

	book, err := h.service.GetBook(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bookEnvelope{Book: toBookResponse(book)})
}

// CreateBook は蔵書を登録する。
// POST /api/v1/books
func (h *BookHandler) CreateBook(w http.ResponseWriter, r *http.Request) {
	if !authorize(w, r, policy.ResourceBook, policy.ActionCreate, policy.Target{}) {
		return
	}

	var req bookRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	book, err := h.service.CreateBook(r.Context(), req.attrs())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, bookEnvelope{Book: toBookResponse(book), Message: MsgBookCreated})
}

// UpdateBook は蔵書を更新する。
// PATCH|PUT /api/v1/books/{id}
func (h *BookHandler) UpdateBook(w http.ResponseWriter, r *http.Request) {
	if !authorize(w, r, policy.ResourceBook, policy.ActionUpdate, policy.Target{}) {
		return
	}

	var req bookRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	book, err := h.service.UpdateBook(r.Context(), chi.URLParam(r, "id"), req.attrs())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bookEnvelope{Book: toBookResponse(book), Message: MsgBookUpdated})
}

// DeleteBook は蔵書を論理削除する。
// DELETE /api/v1/books/{id}
func (h *BookHandler) DeleteBook(w http.ResponseWriter, r *http.Request) {
	if !authorize(w, r, policy.ResourceBook, policy.ActionDestroy, policy.Target{}) {
		return
	}

	if err := h.service.DeleteBook(r.Context(), chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: MsgBookDeleted})
}
