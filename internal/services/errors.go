package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/codyseavey/card-desk/internal/models"
)

var (
	// ErrEmptyCardName is returned when resolution is asked to run without a card name
	ErrEmptyCardName = errors.New("card name is required")

	// ErrQuotaExceeded is returned by sources that enforce a request budget
	ErrQuotaExceeded = errors.New("request quota exceeded")

	// ErrInventoryItemNotFound is returned when an inventory id does not exist
	ErrInventoryItemNotFound = errors.New("inventory item not found")
)

// TransientError means the request kept failing on a retryable condition
// (network error, 429, 5xx) until the attempt budget ran out.
type TransientError struct {
	Source     string
	Attempts   int
	StatusCode int // 0 when the last failure was at the network level
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: giving up after %d attempts: status %d", e.Source, e.Attempts, e.StatusCode)
	}
	return fmt.Sprintf("%s: giving up after %d attempts: %v", e.Source, e.Attempts, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// PermanentError is a non-retryable 4xx response
type PermanentError struct {
	Source     string
	StatusCode int
	Body       string
}

func (e *PermanentError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s: status %d: %s", e.Source, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s: status %d", e.Source, e.StatusCode)
}

// ParseError is a response body that could not be decoded
type ParseError struct {
	Source string
	Raw    string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: malformed response: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ValidationError is bad caller input; it is always surfaced to the user
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// WarningKind classifies why a source produced no usable result
type WarningKind string

const (
	WarningTransient WarningKind = "transient"
	WarningPermanent WarningKind = "permanent"
	WarningParse     WarningKind = "parse"
	WarningQuota     WarningKind = "quota"
	WarningConfig    WarningKind = "config"
	WarningCanceled  WarningKind = "canceled"
)

// SourceWarning records a source failure that was converted into an empty result
type SourceWarning struct {
	Source  models.SourceTag `json:"source"`
	Kind    WarningKind      `json:"kind"`
	Message string           `json:"message"`
}

func (w SourceWarning) Error() string {
	return fmt.Sprintf("%s (%s): %s", w.Source, w.Kind, w.Message)
}

// LookupFailedError means every source failed; nothing was cleanly empty
type LookupFailedError struct {
	Warnings []SourceWarning
}

func (e *LookupFailedError) Error() string {
	if len(e.Warnings) == 0 {
		return "card lookup failed: no card sources are configured"
	}
	parts := make([]string, 0, len(e.Warnings))
	for _, w := range e.Warnings {
		parts = append(parts, w.Error())
	}
	return "card lookup failed: " + strings.Join(parts, "; ")
}

// AIIdentificationError means the vision service did not yield a usable card name
type AIIdentificationError struct {
	Reason string
	Err    error
}

func (e *AIIdentificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("card identification failed: %s: %v", e.Reason, e.Err)
	}
	return "card identification failed: " + e.Reason
}

func (e *AIIdentificationError) Unwrap() error {
	return e.Err
}

// PersistenceError wraps a storage failure at the inventory boundary
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("inventory %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

const maxLoggedRawBytes = 512

// warningFromError converts an adapter failure into a SourceWarning.
// Parse failures are logged with the offending text.
func warningFromError(source models.SourceTag, err error) *SourceWarning {
	w := &SourceWarning{Source: source, Message: err.Error()}

	var transient *TransientError
	var permanent *PermanentError
	var parseErr *ParseError

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		w.Kind = WarningCanceled
	case errors.Is(err, ErrQuotaExceeded):
		w.Kind = WarningQuota
	case errors.As(err, &parseErr):
		w.Kind = WarningParse
		raw := parseErr.Raw
		if len(raw) > maxLoggedRawBytes {
			raw = raw[:maxLoggedRawBytes] + "..."
		}
		log.Printf("[%s] unparseable response: %v; raw=%q", source, parseErr.Err, raw)
	case errors.As(err, &permanent):
		w.Kind = WarningPermanent
	case errors.As(err, &transient):
		w.Kind = WarningTransient
	default:
		w.Kind = WarningTransient
	}

	log.Printf("[%s] search failed, treating as empty: %v", source, err)
	return w
}
