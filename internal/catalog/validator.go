package catalog

import "github.com/hitoshi/librarian/internal/model"

// validator はフィールド単位の検証メッセージを蓄積する。
type validator struct {
	messages []string
}

func (v *validator) add(msg string) {
	v.messages = append(v.messages, msg)
}

// required は値が空でなければそのまま返し、空なら "<Field> can't be blank" を記録する。
func (v *validator) required(field, value string) string {
	if value == "" {
		v.add(field + " can't be blank")
	}
	return value
}

// nonNegative は n が0以上かどうかを返し、負数なら検証メッセージを記録する。
func (v *validator) nonNegative(field string, n int) bool {
	if n < 0 {
		v.add(field + " must be greater than or equal to 0")
		return false
	}
	return true
}

func (v *validator) err() error {
	if len(v.messages) == 0 {
		return nil
	}
	return model.NewValidationError(v.messages...)
}
