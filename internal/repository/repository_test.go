package repository

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/lib/pq"

	"github.com/hitoshi/librarian/internal/model"
)

// PostgreSQL実装が各インターフェースを満たすことを検証
func TestPostgresRepos_ImplementInterfaces(t *testing.T) {
	var _ UserRepository = (*PostgresUserRepo)(nil)
	var _ SessionRepository = (*PostgresSessionRepo)(nil)
	var _ BookRepository = (*PostgresBookRepo)(nil)
	var _ BorrowingRepository = (*PostgresBorrowingRepo)(nil)
	var _ BookLocker = (*PostgresBookLocker)(nil)
	var _ DashboardRepository = (*PostgresDashboardRepo)(nil)
}

func TestTranslateError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "一意制約違反", err: &pq.Error{Code: "23505", Constraint: "idx_books_isbn_active"}, want: ErrUniqueViolation},
		{name: "CHECK制約違反", err: &pq.Error{Code: "23514", Constraint: "books_available_copies_check"}, want: ErrCheckViolation},
		{name: "ロック待ちタイムアウト", err: &pq.Error{Code: "55P03"}, want: ErrLockTimeout},
		{name: "UUID形式不正", err: &pq.Error{Code: "22P02"}, want: ErrNotFound},
		{name: "ラップされたpqエラー", err: fmt.Errorf("exec: %w", &pq.Error{Code: "23505"}), want: ErrUniqueViolation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := translateError(tt.err)
			if !errors.Is(got, tt.want) {
				t.Errorf("translateError() = %v, want wrapping %v", got, tt.want)
			}
		})
	}
}

func TestTranslateError_PassesThroughOtherErrors(t *testing.T) {
	plain := errors.New("connection reset")
	if got := translateError(plain); got != plain {
		t.Errorf("translateError() = %v, want original error", got)
	}

	other := &pq.Error{Code: "42P01"}
	if got := translateError(other); got != error(other) {
		t.Errorf("translateError() = %v, want original pq error", got)
	}
}

func TestValidID(t *testing.T) {
	if !validID("6f1c2b9e-7d8a-4c3b-9e2f-1a2b3c4d5e6f") {
		t.Error("expected UUID to be valid")
	}
	for _, id := range []string{"", "42", "not-a-uuid"} {
		if validID(id) {
			t.Errorf("validID(%q) = true, want false", id)
		}
	}
}

func TestEscapeLike(t *testing.T) {
	tests := map[string]string{
		"ruby":       "ruby",
		"100%":       `100\%`,
		"snake_case": `snake\_case`,
		`back\slash`: `back\\slash`,
	}
	for in, want := range tests {
		if got := escapeLike(in); got != want {
			t.Errorf("escapeLike(%q) = %q, want %q", in, got, want)
		}
	}
}

func buildBookListSQL(t *testing.T, filter model.BookFilter) (string, []any) {
	t.Helper()
	ds := applyBookFilter(
		goqu.Dialect(dialectPostgres).From(tableBooks).Where(goqu.C("deleted_at").IsNull()),
		filter,
	).Select(bookSelectColumns...).Order(bookOrder(filter.Sort)...)
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		t.Fatalf("ToSQL() error = %v", err)
	}
	return query, args
}

func TestApplyBookFilter_NoConditions(t *testing.T) {
	query, args := buildBookListSQL(t, model.BookFilter{})

	if strings.Contains(query, "ILIKE") {
		t.Errorf("query should not contain ILIKE: %s", query)
	}
	if len(args) != 0 {
		t.Errorf("args = %v, want none", args)
	}
	if !strings.Contains(query, `ORDER BY "created_at" DESC`) {
		t.Errorf("default order should be newest first: %s", query)
	}
}

func TestApplyBookFilter_AllConditions(t *testing.T) {
	query, args := buildBookListSQL(t, model.BookFilter{
		Query:         "  tolkien ",
		Genre:         "Fantasy",
		AvailableOnly: true,
		Sort:          model.BookSortTitle,
	})

	for _, want := range []string{
		`"title" ILIKE`,
		`"author" ILIKE`,
		`"isbn" ILIKE`,
		`"genre" =`,
		`"available_copies" >`,
		`ORDER BY "title" ASC`,
	} {
		if !strings.Contains(query, want) {
			t.Errorf("query missing %q: %s", want, query)
		}
	}

	var patterns int
	for _, a := range args {
		if a == "%tolkien%" {
			patterns++
		}
	}
	if patterns != 3 {
		t.Errorf("expected trimmed pattern for 3 columns, args = %v", args)
	}
}

func TestBookOrder_Author(t *testing.T) {
	query, _ := buildBookListSQL(t, model.BookFilter{Sort: model.BookSortAuthor})
	if !strings.Contains(query, `ORDER BY "author" ASC`) {
		t.Errorf("query should order by author: %s", query)
	}
}

func TestApplyStatus_Overdue(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ds := applyStatus(applyScope(borrowingDetailDataset(), model.Scope{UserID: "u-1"}), model.BorrowingStatusOverdue, now)
	query, args, err := ds.Select(borrowingDetailSelect...).Prepared(true).ToSQL()
	if err != nil {
		t.Fatalf("ToSQL() error = %v", err)
	}

	for _, want := range []string{
		`"br"."deleted_at" IS NULL`,
		`"br"."user_id" =`,
		`"br"."returned_at" IS NULL`,
		`"br"."due_date" <`,
		`INNER JOIN "books" AS "b"`,
		`INNER JOIN "users" AS "u"`,
	} {
		if !strings.Contains(query, want) {
			t.Errorf("query missing %q: %s", want, query)
		}
	}
	if len(args) != 2 {
		t.Errorf("args = %v, want user id and now", args)
	}
}

func TestApplyStatus_AllScopeAnyStatus(t *testing.T) {
	query, args, err := applyStatus(applyScope(borrowingDetailDataset(), model.Scope{}), model.BorrowingStatusAny, time.Now()).
		Select(goqu.COUNT(goqu.Star())).Prepared(true).ToSQL()
	if err != nil {
		t.Fatalf("ToSQL() error = %v", err)
	}
	if strings.Contains(query, `"br"."user_id" =`) || strings.Contains(query, "returned_at") {
		t.Errorf("query should not filter by user or status: %s", query)
	}
	if len(args) != 0 {
		t.Errorf("args = %v, want none", args)
	}
}
