package auth

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength はパスワードの最小文字数。
const MinPasswordLength = 6

// emailPattern は "@" を1つだけ含み空白を含まないアドレスに一致する。
var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+$`)

// NormalizeEmail は比較・保存用にメールアドレスを小文字化し前後の空白を除去する。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail はメールアドレスの形式を検証し、違反メッセージを返す。
func ValidateEmail(email string) []string {
	switch {
	case email == "":
		return []string{"Email can't be blank"}
	case !emailPattern.MatchString(email):
		return []string{"Email is invalid"}
	}
	return nil
}

// ValidatePassword はパスワードの長さと確認入力の一致を検証し、違反メッセージを返す。
// confirmation がnilの場合は確認入力なしとして扱う。
func ValidatePassword(password string, confirmation *string) []string {
	var messages []string
	switch {
	case password == "":
		messages = append(messages, "Password can't be blank")
	case len([]rune(password)) < MinPasswordLength:
		messages = append(messages, fmt.Sprintf("Password is too short (minimum is %d characters)", MinPasswordLength))
	}
	if confirmation != nil && *confirmation != password {
		messages = append(messages, "Password confirmation doesn't match Password")
	}
	return messages
}

// Hasher はパスワードのハッシュ化と照合を行う。
type Hasher struct {
	cost int
}

// NewHasher はbcryptのコストを指定してHasherを生成する。0以下の場合はbcrypt.DefaultCost。
func NewHasher(cost int) *Hasher {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	return &Hasher{cost: cost}
}

// Hash はパスワードのbcryptハッシュを返す。
func (h *Hasher) Hash(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(b), nil
}

// Matches はハッシュとパスワードが一致するかどうかを返す。
func (h *Hasher) Matches(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
