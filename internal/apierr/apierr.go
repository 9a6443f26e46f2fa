// Package apierr gives every HTTP handler one place to turn a Go error into
// the wire shape spec.md §6/§7 defines, instead of each handler picking its
// own http.Error call and status code by hand the way the teacher's
// internal/api/server.go does. The mapping table below is the generalized
// form of that ad hoc dispatch.
package apierr

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"candleduel/internal/exec"
	"candleduel/internal/matchmaker"
	"candleduel/internal/room"
	"candleduel/internal/store"
)

// Kind is one of the error dispositions spec.md §7 enumerates.
type Kind string

const (
	KindNotFound      Kind = "NOT_FOUND"
	KindInvalidState  Kind = "INVALID_STATE"
	KindRoomFull      Kind = "ROOM_FULL"
	KindValidation    Kind = "VALIDATION"
	KindTradeRejected Kind = "TRADE_REJECTED"
	KindUnauthorized  Kind = "UNAUTHORIZED"
	KindForbidden     Kind = "FORBIDDEN"
	KindConflict      Kind = "CONFLICT"
	KindInternal      Kind = "INTERNAL"
)

var statusByKind = map[Kind]int{
	KindNotFound:      http.StatusNotFound,
	KindInvalidState:  http.StatusBadRequest,
	KindRoomFull:      http.StatusConflict,
	KindValidation:    http.StatusBadRequest,
	KindTradeRejected: http.StatusBadRequest,
	KindUnauthorized:  http.StatusUnauthorized,
	KindForbidden:     http.StatusForbidden,
	KindConflict:      http.StatusConflict,
	KindInternal:      http.StatusInternalServerError,
}

// FieldError is one entry under details.fieldErrors.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// APIError is the typed error every handler should return (directly or by
// mapping a lower-layer error with Classify) instead of writing to the
// ResponseWriter itself.
type APIError struct {
	Kind        Kind
	Message     string
	FieldErrors []FieldError
}

func (e *APIError) Error() string { return e.Message }

func New(kind Kind, message string) *APIError {
	return &APIError{Kind: kind, Message: message}
}

// Validation builds a KindValidation error carrying field-level diagnostics.
func Validation(message string, fields ...FieldError) *APIError {
	return &APIError{Kind: KindValidation, Message: message, FieldErrors: fields}
}

// Classify maps a lower-layer error from internal/exec, internal/room,
// internal/store, or internal/matchmaker to its disposition, so a handler
// can do `apierr.Write(w, r, apierr.Classify(err))` without re-deriving the
// status code every call site used to pick by hand. Unrecognized errors
// become KindInternal, matching spec.md §7's default-to-500 behavior for
// anything not explicitly enumerated.
func Classify(err error) *APIError {
	if err == nil {
		return nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var execErr *exec.Error
	if errors.As(err, &execErr) {
		return &APIError{Kind: KindTradeRejected, Message: execErr.Error()}
	}

	var mmErr *matchmaker.Error
	if errors.As(err, &mmErr) {
		return &APIError{Kind: KindValidation, Message: mmErr.Error()}
	}

	switch {
	case errors.Is(err, room.ErrMatchNotFound), errors.Is(err, store.ErrUserNotFound):
		return &APIError{Kind: KindNotFound, Message: err.Error()}
	case errors.Is(err, room.ErrRoomFull):
		return &APIError{Kind: KindRoomFull, Message: err.Error()}
	case errors.Is(err, room.ErrInvalidState):
		return &APIError{Kind: KindInvalidState, Message: err.Error()}
	default:
		return &APIError{Kind: KindInternal, Message: "internal error"}
	}
}

// body is the wire shape spec.md §6 defines verbatim.
type body struct {
	Timestamp string  `json:"timestamp"`
	Status    int     `json:"status"`
	Error     string  `json:"error"`
	Message   string  `json:"message"`
	Path      string  `json:"path"`
	Details   details `json:"details"`
}

type details struct {
	FieldErrors []FieldError `json:"fieldErrors,omitempty"`
}

// Write encodes err as the spec.md §6 error JSON and sets the matching
// status code. Pass the *APIError produced by Classify/New/Validation; any
// other error is treated as KindInternal so a forgotten Classify call never
// leaks a raw Go error string to the client.
func Write(w http.ResponseWriter, r *http.Request, err error) {
	apiErr, ok := err.(*APIError)
	if !ok {
		apiErr = Classify(err)
	}

	status, ok := statusByKind[apiErr.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Status:    status,
		Error:     string(apiErr.Kind),
		Message:   apiErr.Message,
		Path:      r.URL.Path,
		Details:   details{FieldErrors: apiErr.FieldErrors},
	})
}
