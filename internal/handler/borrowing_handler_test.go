package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/librarian/internal/model"
)

func TestBorrowingHandler_ListBorrowings_Scope(t *testing.T) {
	tests := []struct {
		name      string
		actor     *model.User
		wantScope model.Scope
	}{
		{"司書は全件", testLibrarian, model.Scope{}},
		{"利用者は本人のみ", testMember, model.Scope{UserID: testMember.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotScope model.Scope
			var gotStatus model.BorrowingStatus
			svc := &mockBorrowingService{
				listFn: func(ctx context.Context, scope model.Scope, status model.BorrowingStatus, page model.Page) ([]*model.BorrowingDetail, model.Pagination, error) {
					gotScope = scope
					gotStatus = status
					return []*model.BorrowingDetail{sampleBorrowing(testMember, testNow.Add(-time.Hour))}, model.NewPagination(page, 1), nil
				},
			}
			h := NewBorrowingHandler(svc, DefaultPaginationConfig(), fixedNow)

			w := httptest.NewRecorder()
			h.ListBorrowings(w, withUser(newRequest(http.MethodGet, "/api/v1/borrowings?status=overdue", ""), tt.actor))

			assertStatus(t, w, http.StatusOK)
			if gotScope != tt.wantScope {
				t.Errorf("scope = %+v, want %+v", gotScope, tt.wantScope)
			}
			if gotStatus != model.BorrowingStatusOverdue {
				t.Errorf("status = %q", gotStatus)
			}

			body := decodeBody(t, w)
			list := body["borrowings"].([]any)
			item := list[0].(map[string]any)
			if item["overdue"] != true {
				t.Errorf("overdue = %v, want true", item["overdue"])
			}
			book := item["book"].(map[string]any)
			if book["title"] != "The Left Hand of Darkness" {
				t.Errorf("book = %v", book)
			}
			if _, ok := book["isbn"]; ok {
				t.Error("list entries should not include isbn")
			}
			user := item["user"].(map[string]any)
			if user["email"] != testMember.Email {
				t.Errorf("user = %v", user)
			}
			if _, ok := body["pagination"]; !ok {
				t.Error("pagination missing")
			}
		})
	}
}

func TestBorrowingHandler_OverdueBorrowings(t *testing.T) {
	var gotScope model.Scope
	svc := &mockBorrowingService{
		overdueFn: func(ctx context.Context, scope model.Scope) ([]*model.BorrowingDetail, error) {
			gotScope = scope
			return nil, nil
		},
	}
	h := NewBorrowingHandler(svc, DefaultPaginationConfig(), fixedNow)

	w := httptest.NewRecorder()
	h.OverdueBorrowings(w, withUser(newRequest(http.MethodGet, "/api/v1/borrowings/overdue", ""), testMember))

	assertStatus(t, w, http.StatusOK)
	if gotScope.UserID != testMember.ID {
		t.Errorf("scope = %+v", gotScope)
	}
	body := decodeBody(t, w)
	if list, ok := body["borrowings"].([]any); !ok || len(list) != 0 {
		t.Errorf("borrowings = %v, want empty array", body["borrowings"])
	}
}

func TestBorrowingHandler_GetBorrowing(t *testing.T) {
	detail := sampleBorrowing(testMember, testNow.Add(24*time.Hour))
	svc := &mockBorrowingService{
		getFn: func(ctx context.Context, id string) (*model.BorrowingDetail, error) {
			if id != detail.ID {
				return nil, model.NewNotFoundError()
			}
			return detail, nil
		},
	}
	h := NewBorrowingHandler(svc, DefaultPaginationConfig(), fixedNow)

	tests := []struct {
		name       string
		actor      *model.User
		id         string
		wantStatus int
	}{
		{"本人", testMember, detail.ID, http.StatusOK},
		{"司書", testLibrarian, detail.ID, http.StatusOK},
		{"他の利用者", testOther, detail.ID, http.StatusForbidden},
		{"存在しない", testLibrarian, "missing", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := withChiURLParam(newRequest(http.MethodGet, "/api/v1/borrowings/"+tt.id, ""), "id", tt.id)
			w := httptest.NewRecorder()
			h.GetBorrowing(w, withUser(req, tt.actor))

			assertStatus(t, w, tt.wantStatus)
			if tt.wantStatus != http.StatusOK {
				return
			}
			body := decodeBody(t, w)
			b := body["borrowing"].(map[string]any)
			if b["overdue"] != false {
				t.Errorf("overdue = %v", b["overdue"])
			}
			if b["book"].(map[string]any)["isbn"] != "9780441478125" {
				t.Errorf("book = %v", b["book"])
			}
		})
	}
}

func TestBorrowingHandler_CreateBorrowing(t *testing.T) {
	t.Run("利用者", func(t *testing.T) {
		var gotBookID string
		var gotUser *model.User
		svc := &mockBorrowingService{
			createFn: func(ctx context.Context, u *model.User, bookID string) (*model.BorrowingDetail, error) {
				gotUser = u
				gotBookID = bookID
				return sampleBorrowing(u, testNow.Add(14*24*time.Hour)), nil
			},
		}
		h := NewBorrowingHandler(svc, DefaultPaginationConfig(), fixedNow)

		w := httptest.NewRecorder()
		h.CreateBorrowing(w, withUser(newRequest(http.MethodPost, "/api/v1/borrowings", `{"borrowing":{"book_id":" book-1 "}}`), testMember))

		assertStatus(t, w, http.StatusCreated)
		if gotBookID != "book-1" || gotUser.ID != testMember.ID {
			t.Errorf("book_id = %q, user = %v", gotBookID, gotUser)
		}
		if body := decodeBody(t, w); body["message"] != MsgBookBorrowed {
			t.Errorf("message = %v", body["message"])
		}
	})

	t.Run("司書は借りられない", func(t *testing.T) {
		svc := &mockBorrowingService{
			createFn: func(ctx context.Context, u *model.User, bookID string) (*model.BorrowingDetail, error) {
				t.Error("service must not be called for librarians")
				return nil, nil
			},
		}
		h := NewBorrowingHandler(svc, DefaultPaginationConfig(), fixedNow)

		w := httptest.NewRecorder()
		h.CreateBorrowing(w, withUser(newRequest(http.MethodPost, "/api/v1/borrowings", `{"book_id":"book-1"}`), testLibrarian))

		assertStatus(t, w, http.StatusForbidden)
	})

	t.Run("在庫なし", func(t *testing.T) {
		svc := &mockBorrowingService{
			createFn: func(ctx context.Context, u *model.User, bookID string) (*model.BorrowingDetail, error) {
				return nil, model.NewValidationError(model.MsgBookUnavailable)
			},
		}
		h := NewBorrowingHandler(svc, DefaultPaginationConfig(), fixedNow)

		w := httptest.NewRecorder()
		h.CreateBorrowing(w, withUser(newRequest(http.MethodPost, "/api/v1/borrowings", `{"book_id":"book-1"}`), testMember))

		assertStatus(t, w, http.StatusUnprocessableEntity)
	})

	t.Run("ロック競合", func(t *testing.T) {
		svc := &mockBorrowingService{
			createFn: func(ctx context.Context, u *model.User, bookID string) (*model.BorrowingDetail, error) {
				return nil, model.NewConflictError(model.MsgBookBusy)
			},
		}
		h := NewBorrowingHandler(svc, DefaultPaginationConfig(), fixedNow)

		w := httptest.NewRecorder()
		h.CreateBorrowing(w, withUser(newRequest(http.MethodPost, "/api/v1/borrowings", `{"book_id":"book-1"}`), testMember))

		assertStatus(t, w, http.StatusConflict)
	})
}

func TestBorrowingHandler_UpdateBorrowing(t *testing.T) {
	tests := []struct {
		name       string
		actor      *model.User
		target     string
		body       string
		wantStatus int
		wantReturn bool
	}{
		{"クエリで返却", testLibrarian, "/api/v1/borrowings/borrowing-1?action_type=return", "", http.StatusOK, true},
		{"ボディで返却", testLibrarian, "/api/v1/borrowings/borrowing-1", `{"action_type":"return"}`, http.StatusOK, true},
		{"不正な操作", testLibrarian, "/api/v1/borrowings/borrowing-1?action_type=renew", "", http.StatusBadRequest, false},
		{"操作の指定なし", testLibrarian, "/api/v1/borrowings/borrowing-1", "", http.StatusBadRequest, false},
		{"本人は返却できない", testMember, "/api/v1/borrowings/borrowing-1?action_type=return", "", http.StatusForbidden, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			returned := false
			svc := &mockBorrowingService{
				getFn: func(ctx context.Context, id string) (*model.BorrowingDetail, error) {
					return sampleBorrowing(testMember, testNow.Add(time.Hour)), nil
				},
				returnFn: func(ctx context.Context, id string) (*model.BorrowingDetail, error) {
					returned = true
					d := sampleBorrowing(testMember, testNow.Add(time.Hour))
					at := testNow
					d.ReturnedAt = &at
					return d, nil
				},
			}
			h := NewBorrowingHandler(svc, DefaultPaginationConfig(), fixedNow)

			req := withChiURLParam(newRequest(http.MethodPatch, tt.target, tt.body), "id", "borrowing-1")
			w := httptest.NewRecorder()
			h.UpdateBorrowing(w, withUser(req, tt.actor))

			assertStatus(t, w, tt.wantStatus)
			if returned != tt.wantReturn {
				t.Errorf("returned = %v, want %v", returned, tt.wantReturn)
			}
			body := decodeBody(t, w)
			switch tt.wantStatus {
			case http.StatusOK:
				if body["message"] != MsgBookReturned {
					t.Errorf("message = %v", body["message"])
				}
				if body["borrowing"].(map[string]any)["returned_at"] == nil {
					t.Error("returned_at should be set")
				}
			case http.StatusBadRequest:
				if body["error"] != model.MsgInvalidAction {
					t.Errorf("error = %v", body["error"])
				}
			}
		})
	}
}

func TestBorrowingHandler_DeleteBorrowing_LibrarianOnly(t *testing.T) {
	deleted := false
	svc := &mockBorrowingService{
		deleteFn: func(ctx context.Context, id string) error {
			deleted = true
			return nil
		},
	}
	h := NewBorrowingHandler(svc, DefaultPaginationConfig(), fixedNow)

	req := withChiURLParam(newRequest(http.MethodDelete, "/api/v1/borrowings/borrowing-1", ""), "id", "borrowing-1")
	w := httptest.NewRecorder()
	h.DeleteBorrowing(w, withUser(req, testMember))
	assertStatus(t, w, http.StatusForbidden)
	if deleted {
		t.Fatal("member must not delete borrowings")
	}

	w = httptest.NewRecorder()
	h.DeleteBorrowing(w, withUser(req, testLibrarian))
	assertStatus(t, w, http.StatusOK)
	if !deleted {
		t.Error("expected DeleteBorrowing to be called")
	}
}
