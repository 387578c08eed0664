// Package model はドメインモデルを定義する。
package model

import "time"

// Role はユーザーの役割を表す。
type Role string

const (
	// RoleMember は本を借りる利用者。
	RoleMember Role = "member"
	// RoleLibrarian は蔵書管理と返却処理を行う司書。
	RoleLibrarian Role = "librarian"
)

// Valid は定義済みの役割かどうかを返す。
func (r Role) Valid() bool {
	return r == RoleMember || r == RoleLibrarian
}

// User はサービス利用ユーザーを表す。
// 削除は論理削除（DeletedAt）で行い、貸出履歴を保持する。
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    *time.Time
}

// IsLibrarian は司書かどうかを返す。
func (u *User) IsLibrarian() bool {
	return u != nil && u.Role == RoleLibrarian
}

// IsMember は利用者かどうかを返す。
func (u *User) IsMember() bool {
	return u != nil && u.Role == RoleMember
}

// Session はBearerトークンに紐づくログインセッションを表す。
// IDにはトークンそのものではなくSHA-256ダイジェストを保持する。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
