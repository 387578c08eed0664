package handler

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/librarian/internal/auth"
	"github.com/hitoshi/librarian/internal/dashboard"
	"github.com/hitoshi/librarian/internal/middleware"
	"github.com/hitoshi/librarian/internal/model"
	"github.com/hitoshi/librarian/internal/user"
)

// --- モック定義 ---

type mockAuthService struct {
	signUpFn  func(ctx context.Context, params auth.SignUpParams) (*model.User, string, error)
	signInFn  func(ctx context.Context, email, password string) (*model.User, string, error)
	signOutFn func(ctx context.Context, token string) error
}

func (m *mockAuthService) SignUp(ctx context.Context, params auth.SignUpParams) (*model.User, string, error) {
	if m.signUpFn != nil {
		return m.signUpFn(ctx, params)
	}
	return nil, "", nil
}

func (m *mockAuthService) SignIn(ctx context.Context, email, password string) (*model.User, string, error) {
	if m.signInFn != nil {
		return m.signInFn(ctx, email, password)
	}
	return nil, "", nil
}

func (m *mockAuthService) SignOut(ctx context.Context, token string) error {
	if m.signOutFn != nil {
		return m.signOutFn(ctx, token)
	}
	return nil
}

type mockBookService struct {
	listBooksFn  func(ctx context.Context, filter model.BookFilter, page model.Page) ([]*model.Book, model.Pagination, error)
	getBookFn    func(ctx context.Context, id string) (*model.Book, error)
	createBookFn func(ctx context.Context, attrs model.BookAttrs) (*model.Book, error)
	updateBookFn func(ctx context.Context, id string, attrs model.BookAttrs) (*model.Book, error)
	deleteBookFn func(ctx context.Context, id string) error
}

func (m *mockBookService) ListBooks(ctx context.Context, filter model.BookFilter, page model.Page) ([]*model.Book, model.Pagination, error) {
	if m.listBooksFn != nil {
		return m.listBooksFn(ctx, filter, page)
	}
	return nil, model.NewPagination(page, 0), nil
}

func (m *mockBookService) GetBook(ctx context.Context, id string) (*model.Book, error) {
	if m.getBookFn != nil {
		return m.getBookFn(ctx, id)
	}
	return nil, model.NewNotFoundError()
}

func (m *mockBookService) CreateBook(ctx context.Context, attrs model.BookAttrs) (*model.Book, error) {
	if m.createBookFn != nil {
		return m.createBookFn(ctx, attrs)
	}
	return nil, nil
}

func (m *mockBookService) UpdateBook(ctx context.Context, id string, attrs model.BookAttrs) (*model.Book, error) {
	if m.updateBookFn != nil {
		return m.updateBookFn(ctx, id, attrs)
	}
	return nil, nil
}

func (m *mockBookService) DeleteBook(ctx context.Context, id string) error {
	if m.deleteBookFn != nil {
		return m.deleteBookFn(ctx, id)
	}
	return nil
}

type mockBorrowingService struct {
	listFn    func(ctx context.Context, scope model.Scope, status model.BorrowingStatus, page model.Page) ([]*model.BorrowingDetail, model.Pagination, error)
	overdueFn func(ctx context.Context, scope model.Scope) ([]*model.BorrowingDetail, error)
	getFn     func(ctx context.Context, id string) (*model.BorrowingDetail, error)
	createFn  func(ctx context.Context, u *model.User, bookID string) (*model.BorrowingDetail, error)
	returnFn  func(ctx context.Context, id string) (*model.BorrowingDetail, error)
	deleteFn  func(ctx context.Context, id string) error
}

func (m *mockBorrowingService) ListBorrowings(ctx context.Context, scope model.Scope, status model.BorrowingStatus, page model.Page) ([]*model.BorrowingDetail, model.Pagination, error) {
	if m.listFn != nil {
		return m.listFn(ctx, scope, status, page)
	}
	return nil, model.NewPagination(page, 0), nil
}

func (m *mockBorrowingService) OverdueBorrowings(ctx context.Context, scope model.Scope) ([]*model.BorrowingDetail, error) {
	if m.overdueFn != nil {
		return m.overdueFn(ctx, scope)
	}
	return nil, nil
}

func (m *mockBorrowingService) GetBorrowing(ctx context.Context, id string) (*model.BorrowingDetail, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return nil, model.NewNotFoundError()
}

func (m *mockBorrowingService) CreateBorrowing(ctx context.Context, u *model.User, bookID string) (*model.BorrowingDetail, error) {
	if m.createFn != nil {
		return m.createFn(ctx, u, bookID)
	}
	return nil, nil
}

func (m *mockBorrowingService) ReturnBorrowing(ctx context.Context, id string) (*model.BorrowingDetail, error) {
	if m.returnFn != nil {
		return m.returnFn(ctx, id)
	}
	return nil, nil
}

func (m *mockBorrowingService) DeleteBorrowing(ctx context.Context, id string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return nil
}

type mockUserService struct {
	getUserFn    func(ctx context.Context, id string) (*model.User, error)
	listUsersFn  func(ctx context.Context, page model.Page) ([]*model.User, model.Pagination, error)
	updateUserFn func(ctx context.Context, id string, params user.UpdateParams) (*model.User, error)
	deleteUserFn func(ctx context.Context, id string) error
}

func (m *mockUserService) GetUser(ctx context.Context, id string) (*model.User, error) {
	if m.getUserFn != nil {
		return m.getUserFn(ctx, id)
	}
	return nil, model.NewNotFoundError()
}

func (m *mockUserService) ListUsers(ctx context.Context, page model.Page) ([]*model.User, model.Pagination, error) {
	if m.listUsersFn != nil {
		return m.listUsersFn(ctx, page)
	}
	return nil, model.NewPagination(page, 0), nil
}

func (m *mockUserService) UpdateUser(ctx context.Context, id string, params user.UpdateParams) (*model.User, error) {
	if m.updateUserFn != nil {
		return m.updateUserFn(ctx, id, params)
	}
	return nil, nil
}

func (m *mockUserService) DeleteUser(ctx context.Context, id string) error {
	if m.deleteUserFn != nil {
		return m.deleteUserFn(ctx, id)
	}
	return nil
}

type mockDashboardService struct {
	buildFn func(ctx context.Context, actor *model.User) (*dashboard.View, error)
}

func (m *mockDashboardService) Build(ctx context.Context, actor *model.User) (*dashboard.View, error) {
	return m.buildFn(ctx, actor)
}

// --- ヘルパー ---

var (
	testNow       = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	testLibrarian = &model.User{ID: "lib-1", Email: "librarian@example.com", Role: model.RoleLibrarian}
	testMember    = &model.User{ID: "mem-1", Email: "member@example.com", Role: model.RoleMember}
	testOther     = &model.User{ID: "mem-2", Email: "other@example.com", Role: model.RoleMember}
)

func fixedNow() time.Time { return testNow }

// newRequest はボディ付きのリクエストを生成する。body が空文字の場合はボディなし。
func newRequest(method, target, body string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// withUser はリクエストコンテキストに認証済みユーザーを設定する。
func withUser(r *http.Request, u *model.User) *http.Request {
	return r.WithContext(middleware.ContextWithUser(r.Context(), u))
}

// withChiURLParam はchiのURLパラメータをリクエストコンテキストに設定する。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// decodeBody はレスポンスボディを汎用マップとして読み込む。
func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response body %q: %v", w.Body.String(), err)
	}
	return body
}

func assertStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("status = %d, want %d (body: %s)", w.Code, want, w.Body.String())
	}
}

func sampleBook() *model.Book {
	return &model.Book{
		ID:              "book-1",
		Title:           "The Left Hand of Darkness",
		Author:          "Ursula K. Le Guin",
		Genre:           "Science Fiction",
		ISBN:            "9780441478125",
		TotalCopies:     3,
		AvailableCopies: 2,
		BorrowingsCount: 5,
		CreatedAt:       testNow.Add(-48 * time.Hour),
		UpdatedAt:       testNow.Add(-48 * time.Hour),
	}
}

func sampleBorrowing(owner *model.User, due time.Time) *model.BorrowingDetail {
	return &model.BorrowingDetail{
		Borrowing: model.Borrowing{
			ID:         "borrowing-1",
			UserID:     owner.ID,
			BookID:     "book-1",
			BorrowedAt: due.Add(-14 * 24 * time.Hour),
			DueDate:    due,
		},
		BookTitle:  "The Left Hand of Darkness",
		BookAuthor: "Ursula K. Le Guin",
		BookISBN:   "9780441478125",
		UserEmail:  owner.Email,
	}
}
