package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind classifies a failure so callers can decide how to react.
type Kind string

const (
	// KindTransport means no response was received.
	KindTransport Kind = "transport"
	// KindServer means the server answered with a non-2xx status or success:false.
	KindServer Kind = "server"
	// KindValidation means local input or token checks failed before any request.
	KindValidation Kind = "validation"
	// KindUnexpected covers undecodable payloads and anything else.
	KindUnexpected Kind = "unexpected"
)

// Error is the typed error every store action returns.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Details []string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Status != 0 {
		fmt.Fprintf(&b, " (%d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewValidationError builds a local validation failure.
func NewValidationError(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Kind == kind
}

// Message turns err into a user-facing string: the server-provided message first, then
// the first detail, then fallback.
func Message(err error, fallback string) string {
	if err == nil {
		return ""
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		if apiErr.Message != "" {
			return apiErr.Message
		}
		if len(apiErr.Details) > 0 {
			return apiErr.Details[0]
		}
	}
	return fallback
}

// envelope is the {data, message, success, errors} shape used by the backend.
type envelope struct {
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Title   string          `json:"title"`
	Success *bool           `json:"success"`
	Errors  json.RawMessage `json:"errors"`
}

// parseDetails accepts ["msg"], {"Field":["msg"]} or "msg".
func parseDetails(raw json.RawMessage) []string {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var byField map[string][]string
	if err := json.Unmarshal(raw, &byField); err == nil {
		fields := make([]string, 0, len(byField))
		for f := range byField {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		var out []string
		for _, f := range fields {
			out = append(out, byField[f]...)
		}
		return out
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil && single != "" {
		return []string{single}
	}
	return nil
}

func serverError(status int, body []byte) *Error {
	apiErr := &Error{Kind: KindServer, Status: status}
	var env envelope
	if err := json.Unmarshal(body, &env); err == nil {
		apiErr.Message = env.Message
		if apiErr.Message == "" {
			apiErr.Message = env.Title
		}
		apiErr.Details = parseDetails(env.Errors)
		return apiErr
	}
	if text := strings.TrimSpace(string(body)); text != "" && len(text) < 256 && !strings.HasPrefix(text, "<") {
		apiErr.Message = text
	}
	return apiErr
}
