// Package policy は (利用者, 操作, 対象) の組に対する認可判定を提供する。
//
// 判定は副作用を持たず、拒否された場合は呼び出し側が処理を一切行わずに
// model.NewAuthorizationError を返すことを前提とする。
package policy

import (
	"github.com/google/uuid"

	"github.com/hitoshi/librarian/internal/model"
)

// Resource は認可対象のリソース種別。
type Resource string

const (
	ResourceBook      Resource = "book"
	ResourceBorrowing Resource = "borrowing"
	ResourceUser      Resource = "user"
	ResourceDashboard Resource = "dashboard"
)

// Action は認可対象の操作。
type Action string

const (
	ActionIndex   Action = "index"
	ActionShow    Action = "show"
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
	ActionDestroy Action = "destroy"
	ActionReturn  Action = "return"
	ActionOverdue Action = "overdue"
)

// Target は個別リソースに対する判定で使う属性。コレクション操作ではゼロ値を渡す。
type Target struct {
	// OwnerID は貸出の場合は借り手、ユーザーの場合は本人のID。
	OwnerID string
}

// rule は1つの (Resource, Action) に対する判定関数。actor は非nil。
type rule func(actor *model.User, target Target) bool

type key struct {
	resource Resource
	action   Action
}

func anyone(*model.User, Target) bool { return true }

func librarian(actor *model.User, _ Target) bool { return actor.IsLibrarian() }

func member(actor *model.User, _ Target) bool { return actor.IsMember() }

func librarianOrOwner(actor *model.User, target Target) bool {
	return actor.IsLibrarian() || (target.OwnerID != "" && target.OwnerID == actor.ID)
}

func self(actor *model.User, target Target) bool {
	return target.OwnerID != "" && target.OwnerID == actor.ID
}

// rules は認可判定表。表にない組は拒否される。
var rules = map[key]rule{
	{ResourceBook, ActionIndex}:   anyone,
	{ResourceBook, ActionShow}:    anyone,
	{ResourceBook, ActionCreate}:  librarian,
	{ResourceBook, ActionUpdate}:  librarian,
	{ResourceBook, ActionDestroy}: librarian,

	{ResourceBorrowing, ActionIndex}:   anyone,
	{ResourceBorrowing, ActionOverdue}: anyone,
	{ResourceBorrowing, ActionShow}:    librarianOrOwner,
	{ResourceBorrowing, ActionCreate}:  member,
	{ResourceBorrowing, ActionReturn}:  librarian,
	{ResourceBorrowing, ActionUpdate}:  librarian,
	{ResourceBorrowing, ActionDestroy}: librarian,

	{ResourceUser, ActionIndex}:   librarian,
	{ResourceUser, ActionShow}:    self,
	{ResourceUser, ActionUpdate}:  self,
	{ResourceUser, ActionDestroy}: librarian,

	{ResourceDashboard, ActionShow}: anyone,
}

// Allowed は actor が resource に対して action を実行できるかを返す。
// 未認証（actor がnil）の場合は常にfalse。
func Allowed(actor *model.User, resource Resource, action Action, target Target) bool {
	if actor == nil {
		return false
	}
	r, ok := rules[key{resource, action}]
	if !ok {
		return false
	}
	return r(actor, target)
}

// Authorize はAllowedがfalseの場合に権限不足エラーを返す。
func Authorize(actor *model.User, resource Resource, action Action, target Target) error {
	if !Allowed(actor, resource, action, target) {
		return model.NewAuthorizationError()
	}
	return nil
}

// ResolveScope は actor が閲覧できる貸出の範囲を返す。
// 司書は全件、利用者は本人の貸出のみ。未認証の場合はどの貸出にも一致しない範囲を返す。
func ResolveScope(actor *model.User) model.Scope {
	if actor == nil {
		return model.Scope{UserID: uuid.Nil.String()}
	}
	if actor.IsLibrarian() {
		return model.Scope{}
	}
	return model.Scope{UserID: actor.ID}
}
