// Package auth verifies the bearer tokens spec.md §6 describes: a token
// carries the user id, display name, issued-at, expiry, and a single-use
// nonce, signed under a current (and optionally previous, for rotation)
// HMAC key. Issuance, registration, and password reset are out of scope —
// this package only ever verifies a token handed to it.
//
// Grounded in the same crypto/hmac + crypto/sha256 signing idiom as
// internal/broadcast's Envelope: a fixed-field-order payload, a keyed MAC,
// and hmac.Equal for constant-time comparison. No third-party JWT library
// appears anywhere in the example pack (the closest precedent,
// svyatogor45-abitrage's exchange clients, also hand-roll HMAC request
// signing), so this follows the corpus's own way of doing signed payloads
// rather than introducing one.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Claims is the identity a verified token carries.
type Claims struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Nonce       string    `json:"nonce"`
}

var (
	ErrMalformedToken = errors.New("malformed token")
	ErrExpiredToken   = errors.New("token expired")
	ErrBadSignature   = errors.New("token signature invalid")
	ErrNonceReused    = errors.New("token nonce already used for a socket upgrade")
)

// Verifier checks bearer tokens against a current signing key and,
// during a rotation window, a previous one — spec.md §6: "Tokens signed
// under either of two keys (current, previous) are accepted."
type Verifier struct {
	currentKey  []byte
	previousKey []byte

	mu    sync.Mutex
	nonce map[string]time.Time // nonce -> token expiry, for websocket upgrade single-use
}

func NewVerifier(currentKey, previousKey []byte) *Verifier {
	return &Verifier{
		currentKey:  currentKey,
		previousKey: previousKey,
		nonce:       make(map[string]time.Time),
	}
}

// Verify parses and checks a token's signature and expiry, trying the
// current key and then (if set) the previous key before giving up.
func (v *Verifier) Verify(token string) (Claims, error) {
	payload, sig, err := split(token)
	if err != nil {
		return Claims{}, err
	}

	if !checkSignature(payload, sig, v.currentKey) && !(v.previousKey != nil && checkSignature(payload, sig, v.previousKey)) {
		return Claims{}, ErrBadSignature
	}

	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return Claims{}, ErrMalformedToken
	}
	var claims Claims
	if err := json.Unmarshal(raw, &claims); err != nil {
		return Claims{}, ErrMalformedToken
	}

	if !claims.ExpiresAt.After(time.Now()) {
		return Claims{}, ErrExpiredToken
	}
	return claims, nil
}

// ConsumeUpgradeNonce verifies the token and additionally enforces that its
// nonce has never been used to open a websocket connection before — the
// "single-use upgrade protection" spec.md §6 names. REST calls reuse the
// same token freely via Verify; only the upgrade path calls this.
func (v *Verifier) ConsumeUpgradeNonce(token string) (Claims, error) {
	claims, err := v.Verify(token)
	if err != nil {
		return Claims{}, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if _, used := v.nonce[claims.Nonce]; used {
		return Claims{}, ErrNonceReused
	}
	v.nonce[claims.Nonce] = claims.ExpiresAt
	return claims, nil
}

// SweepExpiredNonces drops nonce records for tokens that can no longer be
// replayed (their expiry passed more than olderThan ago), bounding the
// table's size. Intended to be called periodically by the owning server,
// mirroring the sweep-ticker idiom used throughout this codebase rather
// than attaching a timer per nonce.
func (v *Verifier) SweepExpiredNonces(olderThan time.Duration) {
	cutoff := time.Now().Add(-olderThan)
	v.mu.Lock()
	defer v.mu.Unlock()
	for nonce, expiry := range v.nonce {
		if expiry.Before(cutoff) {
			delete(v.nonce, nonce)
		}
	}
}

// FromHeader extracts a bearer token from an Authorization header value.
func FromHeader(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	return strings.TrimPrefix(header, prefix), true
}

func split(token string) (payload, sig string, err error) {
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", ErrMalformedToken
	}
	return parts[0], parts[1], nil
}

func checkSignature(payload, sig string, key []byte) bool {
	if len(key) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(payload))
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(sig))
}

// Issue is a test/tooling helper that mints a signed token under key —
// production issuance lives outside this system's scope (spec.md
// Non-goals), but tests and local development need some way to produce a
// token this Verifier will accept.
func Issue(key []byte, claims Claims) string {
	raw, _ := json.Marshal(claims)
	payload := base64.RawURLEncoding.EncodeToString(raw)
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(payload))
	sig := hex.EncodeToString(mac.Sum(nil))
	return fmt.Sprintf("%s.%s", payload, sig)
}
