// Package auth checks the operator shared secret.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// QueryParam carries the secret for clients that cannot set headers,
// such as browser WebSocket connections.
const QueryParam = "token"

var ErrEmptySecret = errors.New("admin secret must not be empty")

// Verifier compares presented secrets against the configured one.
type Verifier struct {
	hash []byte
}

func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	return &Verifier{hash: HashSecret(secret)}, nil
}

func HashSecret(secret string) []byte {
	h := sha256.Sum256([]byte(secret))
	return h[:]
}

// Verify reports whether presented matches the configured secret. Both sides
// are hashed first so the comparison is constant time regardless of length.
func (v *Verifier) Verify(presented string) bool {
	if presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare(HashSecret(presented), v.hash) == 1
}

// FromRequest extracts the presented secret from a Bearer Authorization
// header, falling back to the token query parameter.
func FromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if !strings.HasPrefix(h, "Bearer ") {
			return ""
		}
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get(QueryParam)
}
