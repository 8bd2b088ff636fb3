package auth

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func newTestHasher() *SecretHasher {
	return NewSecretHasher(bcrypt.MinCost)
}

func TestNewSecretHasher_OutOfRangeCost(t *testing.T) {
	h := NewSecretHasher(99)
	if h.cost != DefaultCost {
		t.Errorf("cost = %d, want %d", h.cost, DefaultCost)
	}
}

func TestHash_OutputLooksBcrypt(t *testing.T) {
	h := newTestHasher()

	hash, err := h.Hash("s3cret")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if !strings.HasPrefix(hash, "$2") {
		t.Errorf("Hash() does not look like bcrypt: %q", hash)
	}
	if strings.Contains(hash, ":") {
		t.Errorf("Hash() contains ':', which API_CLIENTS uses as separator: %q", hash)
	}
}

func TestHash_Salted(t *testing.T) {
	h := newTestHasher()

	a, _ := h.Hash("same")
	b, _ := h.Hash("same")
	if a == b {
		t.Error("Hash() produced identical hashes for the same secret")
	}
}

func TestHash_Rejects(t *testing.T) {
	h := newTestHasher()

	if _, err := h.Hash(""); err == nil {
		t.Error("Hash(\"\") should fail")
	}
	if _, err := h.Hash(strings.Repeat("a", 73)); err == nil {
		t.Error("Hash() should reject secrets over 72 bytes")
	}
	if _, err := h.Hash(strings.Repeat("a", 72)); err != nil {
		t.Errorf("Hash() should accept exactly 72 bytes: %v", err)
	}
}

func TestVerify(t *testing.T) {
	h := newTestHasher()
	hash, err := h.Hash("correct-horse")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}

	if err := h.Verify(hash, "correct-horse"); err != nil {
		t.Errorf("Verify() correct secret: %v", err)
	}
	if err := h.Verify(hash, "wrong"); !errors.Is(err, ErrSecretMismatch) {
		t.Errorf("Verify() wrong secret = %v, want ErrSecretMismatch", err)
	}
	if err := h.Verify("garbage", "x"); err == nil || errors.Is(err, ErrSecretMismatch) {
		t.Errorf("Verify() garbage hash = %v, want a non-mismatch error", err)
	}
}
