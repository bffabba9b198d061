package apperrors

import (
	"errors"
	"fmt"
)

// Code classifies an AppError for callers that need to branch on error kind
// without string matching.
type Code string

const (
	CodeInvalidArgument  Code = "INVALID_ARGUMENT"
	CodeNotFound         Code = "NOT_FOUND"
	CodeConflict         Code = "CONFLICT"
	CodeInternal         Code = "INTERNAL"
	CodeConfiguration    Code = "CONFIGURATION"
	CodePreflight        Code = "PREFLIGHT"
	CodeSnapshotsMissing Code = "SNAPSHOTS_MISSING"
	CodeClaimLost        Code = "CLAIM_LOST"
	CodePipeline         Code = "PIPELINE"
	CodeValidation       Code = "VALIDATION"
)

// AppError is the single structured error type used across the tool.
type AppError struct {
	Code    Code
	Message string
	Cause   error

	// SnapshotID tags the error with the snapshot it was raised for, when
	// known. Empty for errors not tied to a specific snapshot (e.g.
	// configuration errors raised at startup).
	SnapshotID string
}

func (e *AppError) Error() string {
	if e.SnapshotID != "" {
		if e.Cause != nil {
			return fmt.Sprintf("%s: %s [snapshot=%s]: %v", e.Code, e.Message, e.SnapshotID, e.Cause)
		}
		return fmt.Sprintf("%s: %s [snapshot=%s]", e.Code, e.Message, e.SnapshotID)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// New builds an AppError with an explicit code.
func New(code Code, message string, cause error) *AppError {
	return &AppError{Code: code, Message: message, Cause: cause}
}

func NotFound(message string, cause error) *AppError {
	return New(CodeNotFound, message, cause)
}

func InvalidArgument(message string, cause error) *AppError {
	return New(CodeInvalidArgument, message, cause)
}

func Conflict(message string, cause error) *AppError {
	return New(CodeConflict, message, cause)
}

func Internal(message string, cause error) *AppError {
	return New(CodeInternal, message, cause)
}

func Configuration(message string, cause error) *AppError {
	return New(CodeConfiguration, message, cause)
}

func Preflight(message string, cause error) *AppError {
	return New(CodePreflight, message, cause)
}

func ClaimLost(message string) *AppError {
	return New(CodeClaimLost, message, nil)
}

func Pipeline(message string, cause error) *AppError {
	return New(CodePipeline, message, cause)
}

func Validation(message string, cause error) *AppError {
	return New(CodeValidation, message, cause)
}

// SnapshotsMissing reports snapshot ids that a DescribeSnapshots call did
// not return.
func SnapshotsMissing(ids []string) *AppError {
	return New(CodeSnapshotsMissing, fmt.Sprintf("snapshots not found: %v", ids), nil)
}

// Wrap attaches additional context to err without discarding it. If err is
// already an *AppError its Code is preserved; otherwise the wrapped error
// is classified Internal.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	var ae *AppError
	if errors.As(err, &ae) {
		return &AppError{Code: ae.Code, Message: message + ": " + ae.Message, Cause: ae.Cause, SnapshotID: ae.SnapshotID}
	}
	return New(CodeInternal, message, err)
}

// WithSnapshot tags err with the snapshot id it concerns. If err is not an
// *AppError it is first classified Internal.
func WithSnapshot(err error, snapshotID string) error {
	if err == nil {
		return nil
	}
	var ae *AppError
	if errors.As(err, &ae) {
		tagged := *ae
		tagged.SnapshotID = snapshotID
		return &tagged
	}
	return &AppError{Code: CodeInternal, Message: err.Error(), Cause: err, SnapshotID: snapshotID}
}

// Is reports whether err is an *AppError with the given code.
func Is(err error, code Code) bool {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code == code
	}
	return false
}

// Aggregate collects per-snapshot errors from a batch operation (e.g.
// validating a list of snapshots) while preserving which ids succeeded.
type Aggregate struct {
	// Succeeded lists snapshot ids that completed without error.
	Succeeded []string
	// Failed maps snapshot id to the error raised for it.
	Failed map[string]error
}

func NewAggregate() *Aggregate {
	return &Aggregate{Failed: make(map[string]error)}
}

func (a *Aggregate) Add(snapshotID string, err error) {
	if err == nil {
		a.Succeeded = append(a.Succeeded, snapshotID)
		return
	}
	a.Failed[snapshotID] = WithSnapshot(err, snapshotID)
}

// HasFailures reports whether any snapshot failed.
func (a *Aggregate) HasFailures() bool {
	return len(a.Failed) > 0
}

// Error implements error so an Aggregate can itself be returned/propagated.
func (a *Aggregate) Error() string {
	return fmt.Sprintf("%d succeeded, %d failed: %v", len(a.Succeeded), len(a.Failed), a.Failed)
}
