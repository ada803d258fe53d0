package webhook

import (
	"strings"
	"testing"
)

func TestExtractPaymentCode(t *testing.T) {
	tests := []struct {
		name string
		note string
		want string
	}{
		{"plain", "Thanh toan MM4F7B2C91", "MM4F7B2C91"},
		{"lowercase is uppercased", "thanh toan mm4f7b2c91", "MM4F7B2C91"},
		{"no code", "chuyen khoan thuong", ""},
		{"too short after prefix", "MM123", ""},
		{"embedded in text", "don hang MMABCDEF99 da thanh toan", "MMABCDEF99"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractPaymentCode(tt.note); got != tt.want {
				t.Errorf("ExtractPaymentCode(%q) = %q, want %q", tt.note, got, tt.want)
			}
		})
	}
}

func TestSafeUserPattern(t *testing.T) {
	if SafeUserPattern("") != nil {
		t.Errorf("Expected nil for empty pattern")
	}
	if SafeUserPattern("((") != nil {
		t.Errorf("Expected nil for invalid pattern")
	}

	// Shapes prone to catastrophic backtracking are rejected outright
	if SafeUserPattern("(a+)+b") != nil {
		t.Errorf("Expected nested quantifier shape to be rejected")
	}
	if SafeUserPattern("(.*)*") != nil {
		t.Errorf("Expected star-of-star shape to be rejected")
	}

	re := SafeUserPattern(`DH\d{6}`)
	if re == nil {
		t.Fatalf("Expected a usable pattern")
	}
	// Compiled case-insensitively
	if !re.MatchString("don hang dh123456") {
		t.Errorf("Expected case-insensitive match")
	}

	long := strings.Repeat("a", 300)
	if re := SafeUserPattern(long); re == nil {
		t.Errorf("Expected overlong literal pattern to still compile after capping")
	}
}
