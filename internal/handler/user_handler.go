package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/librarian/internal/middleware"
	"github.com/hitoshi/librarian/internal/model"
	"github.com/hitoshi/librarian/internal/policy"
	"github.com/hitoshi/librarian/internal/user"
)

// ユーザーの変更操作で返すメッセージ
const (
	MsgUserUpdated = "User updated successfully"
	MsgUserDeleted = "User deleted successfully"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	GetUser(ctx context.Context, id string) (*model.User, error)
	ListUsers(ctx context.Context, page model.Page) ([]*model.User, model.Pagination, error)
	UpdateUser(ctx context.Context, id string, params user.UpdateParams) (*model.User, error)
	// DeleteUser はユーザーを論理削除する。
	// 貸出（未返却分は在庫を戻す）、セッションも合わせて削除する。
	DeleteUser(ctx context.Context, id string) error
}

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service    UserServiceInterface
	pagination PaginationConfig
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface, pagination PaginationConfig) *UserHandler {
	return &UserHandler{service: service, pagination: pagination}
}

type userFields struct {
	Email                *string `json:"email"`
	Password             *string `json:"password"`
	PasswordConfirmation *string `json:"password_confirmation"`
}

// userRequest は {"user": {...}} と平坦な形式の両方を受け付ける。
type userRequest struct {
	User *userFields `json:"user"`
	userFields
}

func (req userRequest) params() user.UpdateParams {
	f := req.userFields
	if req.User != nil {
		f = *req.User
	}
	return user.UpdateParams{
		Email:                f.Email,
		Password:             f.Password,
		PasswordConfirmation: f.PasswordConfirmation,
	}
}

type userEnvelope struct {
	User    userResponse `json:"user"`
	Message string       `json:"message,omitempty"`
}

type userListResponse struct {
	Users      []userResponse     `json:"users"`
	Pagination paginationResponse `json:"pagination"`
}

// Me はリクエストの利用者自身の情報を返す。
// GET /api/v1/users/me
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	current := middleware.UserFromContext(r.Context())
	if current == nil {
		handleServiceError(w, r, model.NewAuthenticationError(model.MsgAuthRequired))
		return
	}
	writeJSON(w, http.StatusOK, userEnvelope{User: toUserResponse(current)})
}

// ListUsers はユーザー一覧を返す。司書のみ。
// GET /api/v1/users?page=&per_page=
func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	if !authorize(w, r, policy.ResourceUser, policy.ActionIndex, policy.Target{}) {
		return
	}

	users, pagination, err := h.service.ListUsers(r.Context(), h.pagination.parsePage(r))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := userListResponse{
		Users:      make([]userResponse, 0, len(users)),
		Pagination: toPaginationResponse(pagination),
	}
	for _, u := range users {
		resp.Users = append(resp.Users, toUserResponse(u))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetUser はユーザーを1件返す。本人のみ。
// GET /api/v1/users/{id}
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !authorize(w, r, policy.ResourceUser, policy.ActionShow, policy.Target{OwnerID: id}) {
		return
	}

	u, err := h.service.GetUser(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, userEnvelope{User: toUserResponse(u)})
}

// UpdateUser はメールアドレス・パスワードを更新する。本人のみ。
// PATCH|PUT /api/v1/users/{id}
func (h *UserHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !authorize(w, r, policy.ResourceUser, policy.ActionUpdate, policy.Target{OwnerID: id}) {
		return
	}

	var req userRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	u, err := h.service.UpdateUser(r.Context(), id, req.params())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, userEnvelope{User: toUserResponse(u), Message: MsgUserUpdated})
}

// DeleteUser はユーザーを論理削除する。司書のみ。
// DELETE /api/v1/users/{id}
func (h *UserHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	if !authorize(w, r, policy.ResourceUser, policy.ActionDestroy, policy.Target{}) {
		return
	}

	if err := h.service.DeleteUser(r.Context(), chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: MsgUserDeleted})
}
