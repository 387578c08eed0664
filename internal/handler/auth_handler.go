// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/hitoshi/librarian/internal/auth"
	"github.com/hitoshi/librarian/internal/middleware"
	"github.com/hitoshi/librarian/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	SignUp(ctx context.Context, params auth.SignUpParams) (*model.User, string, error)
	SignIn(ctx context.Context, email, password string) (*model.User, string, error)
	SignOut(ctx context.Context, token string) error
}

// AuthHandler は利用者登録・ログイン・ログアウトのHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface) *AuthHandler {
	return &AuthHandler{service: service}
}

// credentialsFields は認証リクエストのフィールド。
type credentialsFields struct {
	Email                string  `json:"email"`
	Password             string  `json:"password"`
	PasswordConfirmation *string `json:"password_confirmation"`
}

// credentialsRequest は {"user": {...}} と平坦な形式の両方を受け付ける。
type credentialsRequest struct {
	User *credentialsFields `json:"user"`
	credentialsFields
}

func (req credentialsRequest) fields() credentialsFields {
	if req.User != nil {
		return *req.User
	}
	return req.credentialsFields
}

type authResponse struct {
	Message string       `json:"message"`
	User    userResponse `json:"user"`
}

type signUpErrorResponse struct {
	Message string   `json:"message"`
	Errors  []string `json:"errors"`
}

func setBearerToken(w http.ResponseWriter, token string) {
	w.Header().Set("Authorization", "Bearer "+token)
}

// SignUp は利用者（member）を登録し、Authorizationヘッダーでトークンを返す。
// POST /api/v1/auth/sign_up
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}
	f := req.fields()

	user, token, err := h.service.SignUp(r.Context(), auth.SignUpParams{
		Email:                f.Email,
		Password:             f.Password,
		PasswordConfirmation: f.PasswordConfirmation,
	})
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Kind == model.KindValidation {
			writeJSON(w, http.StatusUnprocessableEntity, signUpErrorResponse{
				Message: auth.MsgSignUpFailed,
				Errors:  apiErr.Messages,
			})
			return
		}
		handleServiceError(w, r, err)
		return
	}

	setBearerToken(w, token)
	writeJSON(w, http.StatusCreated, authResponse{
		Message: auth.MsgSignedUp,
		User:    toUserResponse(user),
	})
}

// SignIn はメールアドレスとパスワードを検証し、Authorizationヘッダーでトークンを返す。
// POST /api/v1/auth/sign_in
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}
	f := req.fields()

	user, token, err := h.service.SignIn(r.Context(), f.Email, f.Password)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	setBearerToken(w, token)
	writeJSON(w, http.StatusOK, authResponse{
		Message: auth.MsgLoggedIn,
		User:    toUserResponse(user),
	})
}

// SignOut はリクエストのトークンに対応するセッションを破棄する。
// DELETE /api/v1/auth/sign_out
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	err := h.service.SignOut(r.Context(), middleware.BearerToken(r))
	if err != nil {
		if model.IsKind(err, model.KindAuthentication) {
			writeJSON(w, http.StatusUnauthorized, messageResponse{Message: auth.MsgNoActiveSession})
			return
		}
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: auth.MsgLoggedOut})
}
