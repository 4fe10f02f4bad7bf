package token

import (
	"strings"
	"testing"
)

func TestGeneratePassword(t *testing.T) {
	pw, err := GeneratePassword()
	if err != nil {
		t.Fatalf("GeneratePassword failed: %v", err)
	}

	if !strings.HasPrefix(pw, "gh_") {
		t.Errorf("password %q does not start with gh_", pw)
	}

	// base62 of 24 bytes is ~33 chars
	secret := strings.TrimPrefix(pw, "gh_")
	if len(secret) < 30 || len(secret) > 34 {
		t.Errorf("secret length = %d, want 30-34", len(secret))
	}
	for _, c := range secret {
		if !strings.ContainsRune(base62Alphabet, c) {
			t.Errorf("secret contains invalid character: %c", c)
		}
	}
}

func TestGeneratePasswordUniqueness(t *testing.T) {
	const n = 100
	seen := make(map[string]bool, n)

	for i := 0; i < n; i++ {
		pw, err := GeneratePassword()
		if err != nil {
			t.Fatalf("GeneratePassword failed: %v", err)
		}
		if seen[pw] {
			t.Errorf("duplicate password generated: %s", pw)
		}
		seen[pw] = true
	}
}

func TestEncodeBase62(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want string
	}{
		{"empty", nil, "0"},
		{"zero byte", []byte{0}, "0"},
		{"one", []byte{1}, "1"},
		{"sixty-two", []byte{62}, "10"},
		{"leading zero", []byte{0, 1}, "01"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := encodeBase62(tt.in); got != tt.want {
				t.Errorf("encodeBase62(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
