package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/librarian/internal/auth"
	"github.com/hitoshi/librarian/internal/borrowing"
	"github.com/hitoshi/librarian/internal/catalog"
	"github.com/hitoshi/librarian/internal/dashboard"
	"github.com/hitoshi/librarian/internal/middleware"
	"github.com/hitoshi/librarian/internal/repository/memory"
	"github.com/hitoshi/librarian/internal/security"
	"github.com/hitoshi/librarian/internal/user"
)

// testServer はインメモリストアで全サービスを組み立てたルーターを返す。
func testServer(t *testing.T) (http.Handler, *auth.Service) {
	t.Helper()
	store := memory.NewStore(time.Second)
	authSvc := auth.NewService(store.Users(), store.Sessions(), auth.ServiceConfig{BcryptCost: bcrypt.MinCost})
	ledger := borrowing.NewService(store.Books(), store.Borrowings(), store.Locker(), nil, borrowing.Config{})
	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	router := NewRouter(&RouterDeps{
		Authenticator:    authSvc,
		RateLimiter:      rl,
		AuthService:      authSvc,
		BookService:      catalog.NewService(store.Books(), store.Locker(), security.NewTextSanitizer(), nil, catalog.Config{}),
		BorrowingService: ledger,
		UserService:      user.NewService(store.Users(), store.Sessions(), ledger, authSvc.Hasher(), nil),
		DashboardService: dashboard.NewService(store.Dashboard(), store.Borrowings(), dashboard.Config{}),
	})
	return router, authSvc
}

// do はルーターにリクエストを送り、レコーダーを返す。
func do(router http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	req := newRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func tokenFrom(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	token := strings.TrimPrefix(w.Header().Get("Authorization"), "Bearer ")
	if token == "" {
		t.Fatalf("no token in response (status %d, body %s)", w.Code, w.Body.String())
	}
	return token
}

func TestRouter_PublicRoutes(t *testing.T) {
	router, _ := testServer(t)

	for _, path := range []string{"/health", "/api/v1/health"} {
		w := do(router, http.MethodGet, path, "", "")
		assertStatus(t, w, http.StatusOK)
		if w.Header().Get("X-Content-Type-Options") != "nosniff" {
			t.Errorf("%s: security headers missing", path)
		}
	}

	w := do(router, http.MethodGet, "/api/v1/books", "", "")
	assertStatus(t, w, http.StatusUnauthorized)
	if body := decodeBody(t, w); body["error"] == nil {
		t.Errorf("body = %v", body)
	}

	w = do(router, http.MethodGet, "/api/v1/books", "bogus", "")
	assertStatus(t, w, http.StatusUnauthorized)
}

func TestRouter_LendingFlow(t *testing.T) {
	router, authSvc := testServer(t)
	ctx := context.Background()

	if _, err := authSvc.CreateLibrarian(ctx, "librarian@example.com", "librarian1"); err != nil {
		t.Fatalf("CreateLibrarian: %v", err)
	}
	w := do(router, http.MethodPost, "/api/v1/auth/sign_in", "", `{"user":{"email":"librarian@example.com","password":"librarian1"}}`)
	assertStatus(t, w, http.StatusOK)
	librarianToken := tokenFrom(t, w)

	w = do(router, http.MethodPost, "/api/v1/auth/sign_up", "", `{"user":{"email":"reader@example.com","password":"reader1","password_confirmation":"reader1"}}`)
	assertStatus(t, w, http.StatusCreated)
	memberToken := tokenFrom(t, w)

	// 利用者は蔵書を登録できない
	w = do(router, http.MethodPost, "/api/v1/books", memberToken, `{"book":{"title":"Kindred","author":"Octavia E. Butler","genre":"Fiction","isbn":"9780807083697","total_copies":1}}`)
	assertStatus(t, w, http.StatusForbidden)

	w = do(router, http.MethodPost, "/api/v1/books", librarianToken, `{"book":{"title":"Kindred","author":"Octavia E. Butler","genre":"Fiction","isbn":"9780807083697","total_copies":1}}`)
	assertStatus(t, w, http.StatusCreated)
	book := decodeBody(t, w)["book"].(map[string]any)
	bookID := book["id"].(string)
	if book["available_copies"] != float64(1) {
		t.Fatalf("available_copies = %v, want 1", book["available_copies"])
	}

	w = do(router, http.MethodPost, "/api/v1/borrowings", memberToken, `{"borrowing":{"book_id":"`+bookID+`"}}`)
	assertStatus(t, w, http.StatusCreated)
	borrowingID := decodeBody(t, w)["borrowing"].(map[string]any)["id"].(string)

	// 在庫切れの蔵書は借りられない
	w = do(router, http.MethodPost, "/api/v1/borrowings", memberToken, `{"borrowing":{"book_id":"`+bookID+`"}}`)
	assertStatus(t, w, http.StatusUnprocessableEntity)

	w = do(router, http.MethodGet, "/api/v1/books/"+bookID, memberToken, "")
	assertStatus(t, w, http.StatusOK)
	if got := decodeBody(t, w)["book"].(map[string]any)["available_copies"]; got != float64(0) {
		t.Errorf("available_copies = %v, want 0", got)
	}

	// 貸出中の冊数を下回る総冊数は拒否される
	w = do(router, http.MethodPatch, "/api/v1/books/"+bookID, librarianToken, `{"book":{"total_copies":0}}`)
	assertStatus(t, w, http.StatusUnprocessableEntity)

	w = do(router, http.MethodGet, "/api/v1/dashboard", memberToken, "")
	assertStatus(t, w, http.StatusOK)
	if got := decodeBody(t, w)["dashboard"].(map[string]any)["active_borrowings_count"]; got != float64(1) {
		t.Errorf("active_borrowings_count = %v, want 1", got)
	}

	w = do(router, http.MethodPatch, "/api/v1/borrowings/"+borrowingID+"?action_type=return", librarianToken, "")
	assertStatus(t, w, http.StatusOK)

	// 二重返却は在庫を増やさない
	w = do(router, http.MethodPut, "/api/v1/borrowings/"+borrowingID+"?action_type=return", librarianToken, "")
	assertStatus(t, w, http.StatusUnprocessableEntity)

	w = do(router, http.MethodGet, "/api/v1/books/"+bookID, librarianToken, "")
	if got := decodeBody(t, w)["book"].(map[string]any)["available_copies"]; got != float64(1) {
		t.Errorf("available_copies = %v, want 1", got)
	}

	w = do(router, http.MethodGet, "/api/v1/borrowings?status=returned", memberToken, "")
	assertStatus(t, w, http.StatusOK)
	if list := decodeBody(t, w)["borrowings"].([]any); len(list) != 1 {
		t.Errorf("returned borrowings = %d, want 1", len(list))
	}

	w = do(router, http.MethodGet, "/api/v1/dashboard", librarianToken, "")
	assertStatus(t, w, http.StatusOK)
	if got := decodeBody(t, w)["dashboard"].(map[string]any)["total_members"]; got != float64(1) {
		t.Errorf("total_members = %v, want 1", got)
	}

	w = do(router, http.MethodDelete, "/api/v1/auth/sign_out", memberToken, "")
	assertStatus(t, w, http.StatusOK)
	w = do(router, http.MethodGet, "/api/v1/users/me", memberToken, "")
	assertStatus(t, w, http.StatusUnauthorized)
	w = do(router, http.MethodDelete, "/api/v1/auth/sign_out", memberToken, "")
	assertStatus(t, w, http.StatusUnauthorized)
}

func TestRouter_AuthRateLimit(t *testing.T) {
	store := memory.NewStore(time.Second)
	authSvc := auth.NewService(store.Users(), store.Sessions(), auth.ServiceConfig{BcryptCost: bcrypt.MinCost})
	rl := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(120, 1))
	t.Cleanup(rl.Stop)
	router := NewRouter(&RouterDeps{Authenticator: authSvc, RateLimiter: rl, AuthService: authSvc})

	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		last = do(router, http.MethodPost, "/api/v1/auth/sign_in", "", `{"email":"nobody@example.com","password":"secret1"}`)
	}
	assertStatus(t, last, http.StatusTooManyRequests)
}
