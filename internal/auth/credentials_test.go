package auth

import (
	"reflect"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestValidateEmail(t *testing.T) {
	tests := map[string][]string{
		"reader@example.com": nil,
		"":                   {"Email can't be blank"},
		"reader":             {"Email is invalid"},
		"a b@example.com":    {"Email is invalid"},
		"a@@example.com":     {"Email is invalid"},
	}
	for in, want := range tests {
		if got := ValidateEmail(in); !reflect.DeepEqual(got, want) {
			t.Errorf("ValidateEmail(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestValidatePassword(t *testing.T) {
	same := "secret1"
	other := "secret2"
	tests := []struct {
		name         string
		password     string
		confirmation *string
		want         int
	}{
		{"十分な長さ", "secret1", nil, 0},
		{"確認入力一致", "secret1", &same, 0},
		{"確認入力不一致", "secret1", &other, 1},
		{"短い", "abc", nil, 1},
		{"マルチバイトは文字数で数える", "あいうえおか", nil, 0},
		{"空で確認入力あり", "", &same, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidatePassword(tt.password, tt.confirmation); len(got) != tt.want {
				t.Errorf("ValidatePassword() = %v, want %d messages", got, tt.want)
			}
		})
	}
}

func TestHasher(t *testing.T) {
	h := NewHasher(bcrypt.MinCost)
	hash, err := h.Hash("password123")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if !h.Matches(hash, "password123") {
		t.Error("expected hash to match")
	}
	if h.Matches(hash, "password124") {
		t.Error("expected mismatch")
	}
	if h.Matches("not-a-hash", "password123") {
		t.Error("expected malformed hash to never match")
	}
}

func TestNormalizeEmail(t *testing.T) {
	if got := NormalizeEmail("  Reader@Example.COM "); got != "reader@example.com" {
		t.Errorf("NormalizeEmail() = %q", got)
	}
}
