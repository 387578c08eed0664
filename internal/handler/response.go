package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/hitoshi/librarian/internal/middleware"
	"github.com/hitoshi/librarian/internal/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxBodyBytes はリクエストボディの上限サイズ。
const maxBodyBytes = 1 << 20

// MsgInvalidBody はリクエストボディを解釈できない場合のメッセージ。
const MsgInvalidBody = "Request body must be a valid JSON object"

// PaginationConfig はページングの既定値と上限。
type PaginationConfig struct {
	DefaultPerPage int
	MaxPerPage     int
}

// DefaultPaginationConfig は1ページ25件、上限100件の設定を返す。
func DefaultPaginationConfig() PaginationConfig {
	return PaginationConfig{DefaultPerPage: 25, MaxPerPage: 100}
}

// parsePage はクエリパラメータ page / per_page を解釈する。
// 不正な値は既定値に、上限を超える per_page は上限に丸める。
func (c PaginationConfig) parsePage(r *http.Request) model.Page {
	q := r.URL.Query()
	number, err := strconv.Atoi(q.Get("page"))
	if err != nil || number < 1 {
		number = 1
	}
	perPage, err := strconv.Atoi(q.Get("per_page"))
	if err != nil || perPage < 1 {
		perPage = c.DefaultPerPage
	}
	if c.MaxPerPage > 0 && perPage > c.MaxPerPage {
		perPage = c.MaxPerPage
	}
	return model.Page{Number: number, PerPage: perPage}
}

// decodeJSON はリクエストボディをJSONとして v に読み込む。空のボディは空オブジェクトとして扱う。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return model.NewBadRequestError(MsgInvalidBody)
	}
	return nil
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	middleware.WriteJSON(w, statusCode, v)
}

// handleServiceError はサービス層のエラーを種別に応じたHTTPレスポンスに変換する。
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	middleware.WriteError(w, r, err)
}

// messageResponse は {"message": "..."} 形式のレスポンス。
type messageResponse struct {
	Message string `json:"message"`
}

// paginationResponse はページングのメタデータ。
type paginationResponse struct {
	CurrentPage int `json:"current_page"`
	TotalPages  int `json:"total_pages"`
	TotalCount  int `json:"total_count"`
	PerPage     int `json:"per_page"`
}

func toPaginationResponse(p model.Pagination) paginationResponse {
	return paginationResponse{
		CurrentPage: p.CurrentPage,
		TotalPages:  p.TotalPages,
		TotalCount:  p.TotalCount,
		PerPage:     p.PerPage,
	}
}

// userResponse はユーザー情報のAPIレスポンス。パスワードハッシュは含めない。
type userResponse struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	Role      model.Role `json:"role"`
	CreatedAt time.Time  `json:"created_at"`
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Email:     u.Email,
		Role:      u.Role,
		CreatedAt: u.CreatedAt,
	}
}

// userSummary は貸出に埋め込む利用者の概要。
type userSummary struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// bookResponse は蔵書情報のAPIレスポンス。
type bookResponse struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Author          string    `json:"author"`
	Genre           string    `json:"genre"`
	ISBN            string    `json:"isbn"`
	TotalCopies     int       `json:"total_copies"`
	AvailableCopies int       `json:"available_copies"`
	BorrowingsCount int       `json:"borrowings_count"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func toBookResponse(b *model.Book) bookResponse {
	return bookResponse{
		ID:              b.ID,
		Title:           b.Title,
		Author:          b.Author,
		Genre:           b.Genre,
		ISBN:            b.ISBN,
		TotalCopies:     b.TotalCopies,
		AvailableCopies: b.AvailableCopies,
		BorrowingsCount: b.BorrowingsCount,
		CreatedAt:       b.CreatedAt,
		UpdatedAt:       b.UpdatedAt,
	}
}

// bookSummary は貸出に埋め込む蔵書の概要。ISBNは詳細表示でのみ返す。
type bookSummary struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Author string `json:"author"`
	ISBN   string `json:"isbn,omitempty"`
}

// popularBookResponse は人気の蔵書一覧の要素。
type popularBookResponse struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Author          string `json:"author"`
	BorrowingsCount int    `json:"borrowings_count"`
	AvailableCopies int    `json:"available_copies"`
}

// borrowingResponse は貸出情報のAPIレスポンス。
type borrowingResponse struct {
	ID         string       `json:"id"`
	BorrowedAt time.Time    `json:"borrowed_at"`
	DueDate    time.Time    `json:"due_date"`
	ReturnedAt *time.Time   `json:"returned_at"`
	Overdue    *bool        `json:"overdue,omitempty"`
	Book       *bookSummary `json:"book,omitempty"`
	User       *userSummary `json:"user,omitempty"`
}

// borrowingView は貸出レスポンスに含める項目の組み合わせ。
type borrowingView int

const (
	// viewList は蔵書・利用者の概要付き。
	viewList borrowingView = iota
	// viewDetail は蔵書のISBNも含める。
	viewDetail
	// viewOwn は利用者自身の貸出。蔵書のISBNを含め、利用者は省く。
	viewOwn
	// viewHistory は返却履歴。延滞フラグと利用者を省く。
	viewHistory
)

func toBorrowingResponse(d *model.BorrowingDetail, view borrowingView, now time.Time) borrowingResponse {
	resp := borrowingResponse{
		ID:         d.ID,
		BorrowedAt: d.BorrowedAt,
		DueDate:    d.DueDate,
		ReturnedAt: d.ReturnedAt,
	}
	book := &bookSummary{ID: d.BookID, Title: d.BookTitle, Author: d.BookAuthor}
	if view == viewDetail || view == viewOwn {
		book.ISBN = d.BookISBN
	}
	resp.Book = book
	if view == viewHistory {
		return resp
	}

	overdue := d.IsOverdue(now)
	resp.Overdue = &overdue
	if view != viewOwn {
		resp.User = &userSummary{ID: d.UserID, Email: d.UserEmail}
	}
	return resp
}

func toBorrowingResponses(list []*model.BorrowingDetail, view borrowingView, now time.Time) []borrowingResponse {
	out := make([]borrowingResponse, 0, len(list))
	for _, d := range list {
		out = append(out, toBorrowingResponse(d, view, now))
	}
	return out
}

// flexInt は数値または数値文字列を受け付ける整数。
// 解釈できない値はエラーにせず Invalid として記録し、検証メッセージとして返す。
type flexInt struct {
	Value   int
	Set     bool
	Invalid bool
}

// UnmarshalJSON はjson.Unmarshalerを実装する。
func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" {
		return nil
	}
	f.Set = true
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		f.Invalid = true
		return nil
	}
	f.Value = n
	return nil
}

// ptr は f が指定されていれば値へのポインタを返す。不正な値の場合は msgs にメッセージを追加する。
func (f flexInt) ptr(field string, msgs *[]string) *int {
	if !f.Set {
		return nil
	}
	if f.Invalid {
		*msgs = append(*msgs, field+" is not a number")
		return nil
	}
	v := f.Value
	return &v
}
