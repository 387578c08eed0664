package repository

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

var (
	// ErrNotFound は対象の行が存在しない（または論理削除済み）ことを示す。
	ErrNotFound = errors.New("record not found")
	// ErrUniqueViolation は一意制約違反を示す。
	ErrUniqueViolation = errors.New("unique constraint violation")
	// ErrCheckViolation はCHECK制約違反を示す。
	ErrCheckViolation = errors.New("check constraint violation")
	// ErrLockTimeout は行ロックの取得待ちがタイムアウトしたことを示す。
	ErrLockTimeout = errors.New("lock wait timeout")
)

// PostgreSQLのSQLSTATE
const (
	pqUniqueViolation   = "23505"
	pqCheckViolation    = "23514"
	pqLockNotAvailable  = "55P03"
	pqInvalidTextRepr   = "22P02"
	pqForeignKeyViolate = "23503"
)

// translateError はドライバのエラーを番兵エラーでラップし直す。
// 該当しない場合は err をそのまま返す。
func translateError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch string(pqErr.Code) {
	case pqUniqueViolation:
		return fmt.Errorf("%w: %s", ErrUniqueViolation, pqErr.Constraint)
	case pqCheckViolation:
		return fmt.Errorf("%w: %s", ErrCheckViolation, pqErr.Constraint)
	case pqLockNotAvailable:
		return fmt.Errorf("%w: %s", ErrLockTimeout, pqErr.Message)
	case pqInvalidTextRepr, pqForeignKeyViolate:
		return fmt.Errorf("%w: %s", ErrNotFound, pqErr.Message)
	}
	return err
}

// validID はIDがUUID形式かどうかを返す。UUID以外のIDはクエリを発行せず未検出として扱う。
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
