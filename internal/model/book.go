package model

import "time"

// Book は蔵書を表す。
// AvailableCopies は TotalCopies から貸出中の冊数を引いた値に保たれる。
type Book struct {
	ID              string
	Title           string
	Author          string
	Genre           string
	ISBN            string
	TotalCopies     int
	AvailableCopies int
	BorrowingsCount int
	CreatedAt       time.Time
	UpdatedAt       time.Time
	DeletedAt       *time.Time
}

// IsAvailable は貸出可能な在庫があるかどうかを返す。
func (b *Book) IsAvailable() bool {
	return b.AvailableCopies > 0
}

// BookSort は蔵書一覧の並び順を表す。
type BookSort string

const (
	// BookSortNewest は登録日時の降順（デフォルト）。
	BookSortNewest BookSort = ""
	// BookSortTitle はタイトルの昇順。
	BookSortTitle BookSort = "title"
	// BookSortAuthor は著者名の昇順。
	BookSortAuthor BookSort = "author"
)

// BookFilter は蔵書一覧の絞り込み条件を表す。
type BookFilter struct {
	Query         string
	Genre         string
	AvailableOnly bool
	Sort          BookSort
}

// BookAttrs は蔵書の作成・更新で受け付ける属性。
// nilのフィールドは未指定として扱う。
type BookAttrs struct {
	Title           *string
	Author          *string
	Genre           *string
	ISBN            *string
	TotalCopies     *int
	AvailableCopies *int

	// Invalid はリクエスト解釈の時点で判明した不正のメッセージ（数値でない等）。
	Invalid []string
}
