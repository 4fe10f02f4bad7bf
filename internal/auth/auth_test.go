package auth

import (
	"bytes"
	"net/http/httptest"
	"testing"
)

func TestNewVerifierRejectsEmpty(t *testing.T) {
	if _, err := NewVerifier(""); err != ErrEmptySecret {
		t.Errorf("NewVerifier(\"\") error = %v, want ErrEmptySecret", err)
	}
}

func TestVerify(t *testing.T) {
	v, err := NewVerifier("correct horse")
	if err != nil {
		t.Fatalf("NewVerifier failed: %v", err)
	}

	tests := []struct {
		name      string
		presented string
		want      bool
	}{
		{"match", "correct horse", true},
		{"wrong", "battery staple", false},
		{"prefix", "correct", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := v.Verify(tt.presented); got != tt.want {
				t.Errorf("Verify(%q) = %v, want %v", tt.presented, got, tt.want)
			}
		})
	}
}

func TestHashSecretDeterministic(t *testing.T) {
	secret := "test-secret-value"

	hash1 := HashSecret(secret)
	hash2 := HashSecret(secret)

	if !bytes.Equal(hash1, hash2) {
		t.Error("HashSecret is not deterministic")
	}
	if len(hash1) != 32 {
		t.Errorf("hash length = %d, want 32 (SHA256)", len(hash1))
	}
}

func TestFromRequest(t *testing.T) {
	tests := []struct {
		name   string
		url    string
		header string
		want   string
	}{
		{"bearer", "/api/visitors", "Bearer s3cret", "s3cret"},
		{"query", "/api/ws/admin?token=s3cret", "", "s3cret"},
		{"header wins", "/api/ws/admin?token=other", "Bearer s3cret", "s3cret"},
		{"basic scheme", "/api/visitors", "Basic Zm9vOmJhcg==", ""},
		{"none", "/api/visitors", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", tt.url, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			if got := FromRequest(r); got != tt.want {
				t.Errorf("FromRequest = %q, want %q", got, tt.want)
			}
		})
	}
}
