// Package ragerr defines the error taxonomy shared by every component of the
// RAG core: knowledge base lifecycle, ingestion, training, retrieval, chat
// sessions, webhooks, and the API-key gate all surface errors through this
// package so callers can branch on Kind instead of parsing messages.
package ragerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error into a stable, externally meaningful category.
type Kind string

const (
	Unauthorized        Kind = "unauthorized"
	PermissionDenied    Kind = "permission_denied"
	InvalidCredential   Kind = "invalid_credential"
	RateLimited         Kind = "rate_limited"
	NotFound            Kind = "not_found"
	Conflict            Kind = "conflict"
	Validation          Kind = "validation"
	UnsupportedFormat   Kind = "unsupported_format"
	FileTooLarge        Kind = "file_too_large"
	DuplicateContent    Kind = "duplicate_content"
	TrainingInProgress  Kind = "training_in_progress"
	KnowledgeBaseNotReady Kind = "knowledge_base_not_ready"
	ProviderError       Kind = "provider_error"
	VectorStoreError    Kind = "vector_store_error"
	CacheError          Kind = "cache_error"
	DatabaseError       Kind = "database_error"
	ExternalServiceError Kind = "external_service_error"
	Overloaded          Kind = "overloaded"
	Canceled            Kind = "canceled"
	Timeout             Kind = "timeout"
	Configuration       Kind = "configuration"
	Internal            Kind = "internal"
)

// Error is the concrete error type returned across the module. Code is a
// short machine-readable token (e.g. "kb_not_found"); Message is safe to
// surface to a caller. Cause wraps the underlying error when there is one.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an *Error with no underlying cause.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap constructs an *Error that carries err as its Cause.
func Wrap(kind Kind, code string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Code: code, Message: err.Error(), Cause: err}
}

// Is reports whether err is a *Error of the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, returning Internal if err is not an
// *Error, or the empty Kind if err is nil.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if err == nil {
		return ""
	}
	return Internal
}

// HTTPStatus maps a Kind onto the status code the HTTP layer (internal/api)
// responds with. Kept here so that boundary is decided once, centrally.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case Unauthorized, InvalidCredential:
		return 401
	case PermissionDenied:
		return 403
	case NotFound:
		return 404
	case Conflict, DuplicateContent, TrainingInProgress:
		return 409
	case Validation, UnsupportedFormat:
		return 400
	case FileTooLarge:
		return 413
	case RateLimited:
		return 429
	case KnowledgeBaseNotReady:
		return 409
	case Timeout:
		return 504
	case Overloaded:
		return 503
	case Canceled:
		return 499
	case ProviderError, VectorStoreError, CacheError, DatabaseError, ExternalServiceError:
		return 502
	case Configuration, Internal:
		return 500
	default:
		return 500
	}
}
