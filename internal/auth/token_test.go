package auth

import (
	"testing"
	"time"
)

func testClaims(userID string) Claims {
	return Claims{
		UserID:      userID,
		DisplayName: "Alice",
		IssuedAt:    time.Now(),
		ExpiresAt:   time.Now().Add(time.Hour),
		Nonce:       "nonce-" + userID,
	}
}

func TestVerifyAcceptsATokenSignedUnderTheCurrentKey(t *testing.T) {
	key := []byte("current-key")
	v := NewVerifier(key, nil)

	token := Issue(key, testClaims("u1"))
	claims, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.UserID != "u1" {
		t.Fatalf("UserID = %q, want u1", claims.UserID)
	}
}

func TestVerifyAcceptsAPreviousKeyDuringRotation(t *testing.T) {
	prev := []byte("old-key")
	cur := []byte("new-key")
	v := NewVerifier(cur, prev)

	token := Issue(prev, testClaims("u1"))
	if _, err := v.Verify(token); err != nil {
		t.Fatalf("expected a previous-key token to verify, got %v", err)
	}
}

func TestVerifyRejectsATamperedSignature(t *testing.T) {
	key := []byte("current-key")
	v := NewVerifier(key, nil)

	token := Issue(key, testClaims("u1")) + "tampered"
	if _, err := v.Verify(token); err == nil {
		t.Fatal("expected a tampered token to fail verification")
	}
}

func TestVerifyRejectsAnExpiredToken(t *testing.T) {
	key := []byte("current-key")
	v := NewVerifier(key, nil)

	claims := testClaims("u1")
	claims.ExpiresAt = time.Now().Add(-time.Minute)
	token := Issue(key, claims)

	if _, err := v.Verify(token); err != ErrExpiredToken {
		t.Fatalf("Verify = %v, want ErrExpiredToken", err)
	}
}

// A token whose expiry is exactly the current instant is rejected, not
// accepted: expiry is an inclusive boundary.
func TestVerifyRejectsTokenExpiringThisInstant(t *testing.T) {
	key := []byte("current-key")
	v := NewVerifier(key, nil)

	claims := testClaims("u1")
	claims.ExpiresAt = time.Now()
	token := Issue(key, claims)

	if _, err := v.Verify(token); err != ErrExpiredToken {
		t.Fatalf("Verify = %v, want ErrExpiredToken", err)
	}
}

func TestConsumeUpgradeNonceRejectsReuse(t *testing.T) {
	key := []byte("current-key")
	v := NewVerifier(key, nil)
	token := Issue(key, testClaims("u1"))

	if _, err := v.ConsumeUpgradeNonce(token); err != nil {
		t.Fatalf("first ConsumeUpgradeNonce: %v", err)
	}
	if _, err := v.ConsumeUpgradeNonce(token); err != ErrNonceReused {
		t.Fatalf("second ConsumeUpgradeNonce = %v, want ErrNonceReused", err)
	}
}

func TestFromHeaderExtractsBearerToken(t *testing.T) {
	token, ok := FromHeader("Bearer abc.def")
	if !ok || token != "abc.def" {
		t.Fatalf("FromHeader = (%q, %v), want (abc.def, true)", token, ok)
	}
	if _, ok := FromHeader("Basic abc"); ok {
		t.Fatal("expected a non-Bearer header to be rejected")
	}
}
