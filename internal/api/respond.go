// ABOUTME: JSON response and error helpers shared by every API handler
// ABOUTME: Errors use the {"error": {kind, message, fields}} envelope with taxonomy statuses

package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/2389/toolgate/internal/adapters"
	"github.com/2389/toolgate/internal/auth"
	"github.com/2389/toolgate/internal/execution"
)

// maxBodySize bounds JSON request bodies.
const maxBodySize = 1 << 20

// ErrorBody is the payload of every error response.
type ErrorBody struct {
	Kind    execution.Kind        `json:"kind"`
	Message string                `json:"message"`
	Fields  []adapters.FieldError `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, kind execution.Kind, message string, fields ...adapters.FieldError) {
	if kind.Status() == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	writeJSON(w, kind.Status(), map[string]ErrorBody{
		"error": {Kind: kind, Message: message, Fields: fields},
	})
}

func invalid(w http.ResponseWriter, field, message string) {
	writeError(w, execution.KindValidation, "invalid request", adapters.FieldError{Field: field, Message: message})
}

// writeFailure classifies err and writes it. Internal errors are logged by
// the caller; their message never reaches the client.
func writeFailure(w http.ResponseWriter, err error) {
	e := execution.Classify(err)
	writeError(w, e.Kind, e.Message, e.Fields...)
}

// decodeJSON reads a bounded JSON body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		return adapters.Invalid("body", "could not read request body")
	}
	if len(body) > maxBodySize {
		return adapters.Invalid("body", "request body too large")
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return adapters.Invalid(typeErr.Field, "expected "+typeErr.Type.String())
		}
		return adapters.Invalid("body", "invalid JSON")
	}
	return nil
}

// caller returns the authenticated identity placed by auth.Middleware.
func caller(r *http.Request) *auth.AuthContext {
	return auth.MustFromContext(r.Context())
}

func fieldsFromAuth(errs []auth.FieldError) []adapters.FieldError {
	out := make([]adapters.FieldError, len(errs))
	for i, e := range errs {
		out[i] = adapters.FieldError{Field: e.Field, Message: e.Message}
	}
	return out
}
