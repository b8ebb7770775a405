// ABOUTME: Error taxonomy surfaced to callers of the execution path
// ABOUTME: Classify turns adapter, vault, registry, and context errors into a Kind with an HTTP status

package execution

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/2389/toolgate/internal/adapters"
	"github.com/2389/toolgate/internal/packs"
	"github.com/2389/toolgate/internal/store"
	"github.com/2389/toolgate/internal/vault"
)

// Kind is a stable, machine-readable error class.
type Kind string

const (
	KindValidation     Kind = "validation_error"
	KindAuthentication Kind = "authentication_error"
	KindAuthorization  Kind = "authorization_error"
	KindNotFound       Kind = "not_found"
	KindNotConnected   Kind = "not_connected"
	KindToolDisabled   Kind = "tool_disabled"
	KindUnknownTool    Kind = "unknown_tool"
	KindAdapter        Kind = "adapter_error"
	KindTimeout        Kind = "timeout"
	KindCancelled      Kind = "cancelled"
	KindConflict       Kind = "conflict"
	KindInternal       Kind = "internal_error"
)

// StatusClientClosedRequest is reported when the caller went away mid-call.
const StatusClientClosedRequest = 499

// Status returns the HTTP status for k.
func (k Kind) Status() int {
	switch k {
	case KindValidation:
		return http.StatusUnprocessableEntity
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization, KindToolDisabled:
		return http.StatusForbidden
	case KindNotFound, KindNotConnected, KindUnknownTool:
		return http.StatusNotFound
	case KindAdapter:
		return http.StatusBadGateway
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindCancelled:
		return StatusClientClosedRequest
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// outcome maps a kind onto the terminal state recorded in the log.
func (k Kind) outcome() store.Outcome {
	switch k {
	case KindValidation:
		return store.OutcomeValidation
	case KindUnknownTool:
		return store.OutcomeUnknownTool
	case KindToolDisabled:
		return store.OutcomeToolDisabled
	case KindNotConnected:
		return store.OutcomeNotConnected
	case KindAdapter:
		return store.OutcomeAdapterError
	case KindTimeout:
		return store.OutcomeTimeout
	case KindCancelled:
		return store.OutcomeCancelled
	default:
		return store.OutcomeInternal
	}
}

// Error is what the execution path returns to callers.
type Error struct {
	Kind           Kind
	Message        string
	Fields         []adapters.FieldError
	UpstreamStatus int   // set for adapter errors and timeouts that got a response
	LogID          int64 // zero when no log was written
	Err            error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Status returns the HTTP status for the error's kind.
func (e *Error) Status() int {
	return e.Kind.Status()
}

// NewError builds an Error of the given kind.
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Classify converts any error from below the execution boundary into an *Error.
// Messages never include credential material; internal errors get a generic message.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}

	out := &Error{Err: err}
	var aerr *adapters.AdapterError
	if errors.As(err, &aerr) {
		out.UpstreamStatus = aerr.Status
	}

	var verr *adapters.ValidationError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		out.Kind, out.Message = KindTimeout, "tool call timed out"
	case errors.Is(err, context.Canceled):
		out.Kind, out.Message = KindCancelled, "tool call cancelled by caller"
	case errors.Is(err, vault.ErrNotConnected):
		out.Kind, out.Message = KindNotConnected, "app not connected; connect a credential first"
	case errors.Is(err, packs.ErrToolNotFound), errors.Is(err, packs.ErrUnknownApp), errors.Is(err, adapters.ErrUnknownTool):
		out.Kind, out.Message = KindUnknownTool, err.Error()
	case errors.As(err, &verr):
		out.Kind, out.Message, out.Fields = KindValidation, "invalid params", verr.Fields
	case aerr != nil:
		out.Kind, out.Message = KindAdapter, aerr.Error()
	case errors.Is(err, store.ErrNotFound):
		out.Kind, out.Message = KindNotFound, "not found"
	default:
		out.Kind, out.Message = KindInternal, "internal error"
	}
	return out
}
