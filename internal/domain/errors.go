package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorKind is the discriminant of every classified failure the core reports.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindConfiguration
	KindInvalidCredential
	KindExpiredCredential
	KindNotFound
	KindRateLimited
	KindRejected
	KindServerError
	KindTimeout
	KindNetwork
	KindMalformedResponse
	KindValidation
	KindDataIntegrity
)

// ErrorKinds lists every kind except KindUnknown.
var ErrorKinds = []ErrorKind{
	KindConfiguration,
	KindInvalidCredential,
	KindExpiredCredential,
	KindNotFound,
	KindRateLimited,
	KindRejected,
	KindServerError,
	KindTimeout,
	KindNetwork,
	KindMalformedResponse,
	KindValidation,
	KindDataIntegrity,
}

func (k ErrorKind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindInvalidCredential:
		return "invalid_credential"
	case KindExpiredCredential:
		return "expired_credential"
	case KindNotFound:
		return "not_found"
	case KindRateLimited:
		return "rate_limited"
	case KindRejected:
		return "rejected"
	case KindServerError:
		return "server_error"
	case KindTimeout:
		return "timeout"
	case KindNetwork:
		return "network"
	case KindMalformedResponse:
		return "malformed_response"
	case KindValidation:
		return "validation"
	case KindDataIntegrity:
		return "data_integrity"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is. A classified error matches the sentinel of its kind.
var (
	ErrConfiguration     = &Error{Kind: KindConfiguration}
	ErrInvalidCredential = &Error{Kind: KindInvalidCredential}
	ErrExpiredCredential = &Error{Kind: KindExpiredCredential}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrRateLimited       = &Error{Kind: KindRateLimited}
	ErrRejected          = &Error{Kind: KindRejected}
	ErrServerError       = &Error{Kind: KindServerError}
	ErrTimeout           = &Error{Kind: KindTimeout}
	ErrNetwork           = &Error{Kind: KindNetwork}
	ErrMalformedResponse = &Error{Kind: KindMalformedResponse}
	ErrValidation        = &Error{Kind: KindValidation}
	ErrDataIntegrity     = &Error{Kind: KindDataIntegrity}
)

// Error is a classified upstream or configuration failure.
type Error struct {
	Kind ErrorKind
	// Op names the operation, e.g. "list pipelines".
	Op string
	// Entity is the project or group the operation targeted, if any.
	Entity string
	// Status is the HTTP status code for status-derived kinds.
	Status int
	// RetryAfter is the server's hint for KindRateLimited; informational only.
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Kind.String())
	if e.Op != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Op)
	}
	if e.Entity != "" {
		fmt.Fprintf(&sb, " (%s)", e.Entity)
	}
	if e.Status != 0 {
		fmt.Fprintf(&sb, ": HTTP %d", e.Status)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Op == "" && t.Entity == "" && t.Err == nil && t.Kind == e.Kind
}

// ConfigurationError reports a malformed or missing configuration value.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// ValidationError reports a structurally invalid domain record.
type ValidationError struct {
	Entity string
	ID     string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	id := e.ID
	if id == "" {
		id = "<missing id>"
	}
	return fmt.Sprintf("validation: %s %s: %s %s", e.Entity, id, e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// DataIntegrityError reports a reference between records that cannot be resolved.
type DataIntegrityError struct {
	// Entity is the referencing record kind, e.g. "job".
	Entity string
	// EntityID identifies the referencing record.
	EntityID string
	// Ref names what was referenced, e.g. "pipeline".
	Ref     string
	Missing string
	Known   []string
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("data integrity: %s %s references unknown %s %s (known: %s)",
		e.Entity, e.EntityID, e.Ref, e.Missing, strings.Join(e.Known, ", "))
}

func (e *DataIntegrityError) Is(target error) bool { return target == ErrDataIntegrity }

// KindOf returns the discriminant of err, or KindUnknown if err is not classified.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var ce *ConfigurationError
	if errors.As(err, &ce) {
		return KindConfiguration
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return KindValidation
	}
	var de *DataIntegrityError
	if errors.As(err, &de) {
		return KindDataIntegrity
	}
	return KindUnknown
}

// UserMessage returns an actionable one-line description of err for display.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	switch KindOf(err) {
	case KindConfiguration:
		return "Configuration problem: " + err.Error() + ". Fix the config file or flags and restart."
	case KindInvalidCredential:
		return "The access token was rejected (401). Set a valid GITLAB_TOKEN."
	case KindExpiredCredential:
		return "The access token lacks permission or has expired (403). Renew it or widen its scope."
	case KindNotFound:
		return "A configured project or group was not found (404). Check its identifier."
	case KindRateLimited:
		var e *Error
		if errors.As(err, &e) && e.RetryAfter > 0 {
			return fmt.Sprintf("Rate limited by the server. Retry in %s.", e.RetryAfter)
		}
		return "Rate limited by the server. Wait before refreshing again."
	case KindRejected:
		return "The server rejected the request: " + err.Error()
	case KindServerError:
		return "The server failed to answer (5xx). Refresh later."
	case KindTimeout:
		return "The request timed out. Check connectivity or raise request_timeout."
	case KindNetwork:
		return "Could not reach the server. Check the URL and your network."
	case KindMalformedResponse:
		return "The server answered with data that could not be parsed."
	case KindValidation:
		return "Received a malformed record: " + err.Error()
	case KindDataIntegrity:
		return "Received inconsistent data: " + err.Error()
	default:
		return err.Error()
	}
}
