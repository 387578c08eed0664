package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"github.com/hitoshi/librarian/internal/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MsgInternalError は内部エラー時に利用者へ返すメッセージ。
const MsgInternalError = "Internal server error"

// SingleErrorBody は {"error": "..."} 形式のエラーレスポンス。
type SingleErrorBody struct {
	Error string `json:"error"`
}

// MultiErrorBody は {"errors": [...]} 形式のエラーレスポンス。
type MultiErrorBody struct {
	Errors []string `json:"errors"`
}

// StatusForKind はエラー種別に対応するHTTPステータスを返す。
func StatusForKind(kind model.ErrorKind) int {
	switch kind {
	case model.KindAuthentication:
		return http.StatusUnauthorized
	case model.KindAuthorization:
		return http.StatusForbidden
	case model.KindValidation:
		return http.StatusUnprocessableEntity
	case model.KindNotFound:
		return http.StatusNotFound
	case model.KindConflict:
		return http.StatusConflict
	case model.KindBadRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// WriteJSON はJSONレスポンスを書き込む。
func WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// WriteErrorResponse はエラー種別に応じたステータスと形式でエラーを書き込む。
// 認証・認可・未検出・不正な操作は単一メッセージ、それ以外はメッセージの配列を返す。
func WriteErrorResponse(w http.ResponseWriter, apiErr *model.APIError) {
	status := StatusForKind(apiErr.Kind)
	switch {
	case apiErr.Kind == model.KindAuthentication,
		apiErr.Kind == model.KindAuthorization,
		apiErr.Kind == model.KindNotFound,
		apiErr.Code == model.ErrCodeInvalidAction:
		WriteJSON(w, status, SingleErrorBody{Error: apiErr.Message()})
	default:
		messages := apiErr.Messages
		if messages == nil {
			messages = []string{}
		}
		WriteJSON(w, status, MultiErrorBody{Errors: messages})
	}
}

// WriteError は任意のエラーをレスポンスに変換する。
// APIError以外はログに記録し、利用者には500と一般的なメッセージのみを返す。
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		WriteErrorResponse(w, apiErr)
		return
	}
	slog.Error("unhandled error",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	WriteInternalServerError(w)
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteJSON(w, http.StatusInternalServerError, SingleErrorBody{Error: MsgInternalError})
}
