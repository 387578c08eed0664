// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind はエラーの分類を表す。HTTPステータスへの対応はhandler層が決める。
type ErrorKind string

const (
	// KindAuthentication は資格情報の欠落・不正・期限切れ。
	KindAuthentication ErrorKind = "authentication"
	// KindAuthorization は認証済みだが操作が許可されていない。
	KindAuthorization ErrorKind = "authorization"
	// KindValidation は入力不正または業務ルール違反。
	KindValidation ErrorKind = "validation"
	// KindNotFound は対象リソースが存在しない。
	KindNotFound ErrorKind = "not_found"
	// KindConflict はロック競合または不変条件の競合に負けた。
	KindConflict ErrorKind = "conflict"
	// KindBadRequest はリクエスト形式の不正。
	KindBadRequest ErrorKind = "bad_request"
)

// APIError は統一エラーフォーマットを表す。
// Messages にはフィールド単位のメッセージをそのまま利用者に返す形で保持する。
type APIError struct {
	Kind     ErrorKind
	Code     string
	Messages []string
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, strings.Join(e.Messages, "; "))
}

// Message は先頭のメッセージを返す。
func (e *APIError) Message() string {
	if len(e.Messages) == 0 {
		return ""
	}
	return e.Messages[0]
}

// 定義済みエラーコード
const (
	ErrCodeUnauthenticated   = "UNAUTHENTICATED"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeValidation        = "VALIDATION_FAILED"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeLockConflict      = "LOCK_CONFLICT"
	ErrCodeInvalidAction     = "INVALID_ACTION"
	ErrCodeInvalidRequest    = "INVALID_REQUEST"
	ErrCodeInvalidCredential = "INVALID_CREDENTIALS"
)

// 利用者に返す定型メッセージ
const (
	MsgNotAuthorized        = "You are not authorized to perform this action"
	MsgRecordNotFound       = "Record not found"
	MsgInvalidCredentials   = "Invalid email or password"
	MsgAuthRequired         = "You need to sign in or sign up before continuing."
	MsgInvalidToken         = "Invalid or expired token"
	MsgInvalidAction        = "Invalid action"
	MsgBookUnavailable      = "Book is not available for borrowing"
	MsgBookNoLongerAvail    = "Book is no longer available"
	MsgAlreadyBorrowed      = "Book is already borrowed by this user"
	MsgMemberOnly           = "User must be a member to borrow books"
	MsgAlreadyReturned      = "Borrowing has already been returned"
	MsgBookBusy             = "Book is being updated by another request, please retry"
	MsgISBNTaken            = "Isbn has already been taken"
	MsgEmailTaken           = "Email has already been taken"
	MsgAvailableExceedTotal = "Available copies cannot exceed total copies"
)

// NewValidationError は1件以上のフィールドメッセージを持つ検証エラーを生成する。
func NewValidationError(messages ...string) *APIError {
	return &APIError{
		Kind:     KindValidation,
		Code:     ErrCodeValidation,
		Messages: messages,
	}
}

// NewNotFoundError はリソース未検出エラーを生成する。
func NewNotFoundError() *APIError {
	return &APIError{
		Kind:     KindNotFound,
		Code:     ErrCodeNotFound,
		Messages: []string{MsgRecordNotFound},
	}
}

// NewAuthorizationError は権限不足エラーを生成する。
func NewAuthorizationError() *APIError {
	return &APIError{
		Kind:     KindAuthorization,
		Code:     ErrCodeForbidden,
		Messages: []string{MsgNotAuthorized},
	}
}

// NewAuthenticationError は認証エラーを生成する。
func NewAuthenticationError(message string) *APIError {
	return &APIError{
		Kind:     KindAuthentication,
		Code:     ErrCodeUnauthenticated,
		Messages: []string{message},
	}
}

// NewInvalidCredentialsError はログイン失敗エラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Kind:     KindAuthentication,
		Code:     ErrCodeInvalidCredential,
		Messages: []string{MsgInvalidCredentials},
	}
}

// NewConflictError はロック競合・在庫競合エラーを生成する。
func NewConflictError(message string) *APIError {
	return &APIError{
		Kind:     KindConflict,
		Code:     ErrCodeLockConflict,
		Messages: []string{message},
	}
}

// NewInvalidActionError は未知の操作種別エラーを生成する。
func NewInvalidActionError() *APIError {
	return &APIError{
		Kind:     KindBadRequest,
		Code:     ErrCodeInvalidAction,
		Messages: []string{MsgInvalidAction},
	}
}

// NewBadRequestError はリクエスト形式エラーを生成する。
func NewBadRequestError(message string) *APIError {
	return &APIError{
		Kind:     KindBadRequest,
		Code:     ErrCodeInvalidRequest,
		Messages: []string{message},
	}
}

// IsKind は err が指定種別のAPIErrorかどうかを返す。
func IsKind(err error, kind ErrorKind) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Kind == kind
}
