package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrRunNotFound            = errors.New("run not found")
	ErrRecommendationNotFound = errors.New("recommendation not found")
	ErrSnapshotNotFound       = errors.New("snapshot not found")
	// ErrRunRetained is returned when deleting a run whose recommendations were accepted
	ErrRunRetained = errors.New("run has accepted recommendations and must be retained")
)

// ConcurrentRunError is returned when a run is started while another is running
type ConcurrentRunError struct {
	ActiveRunID string
}

func (e *ConcurrentRunError) Error() string {
	if e.ActiveRunID == "" {
		return "another run is starting"
	}
	return fmt.Sprintf("run %s is already running", e.ActiveRunID)
}

// ValidationError is one failed check on an input record.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors represents multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var messages []string
	for _, err := range e {
		messages = append(messages, err.Error())
	}
	return strings.Join(messages, "; ")
}

// DataIntegrityError lists every violation found in the client or holdings data
type DataIntegrityError struct {
	Violations ValidationErrors
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("data integrity check failed with %d violation(s): %s", len(e.Violations), e.Violations.Error())
}

// StageErrorKind classifies adapter failures for retry decisions
type StageErrorKind string

const (
	StageErrorTransient StageErrorKind = "transient"
	StageErrorPermanent StageErrorKind = "permanent"
	StageErrorTimeout   StageErrorKind = "timeout"
)

// Retryable reports whether another attempt may succeed
func (k StageErrorKind) Retryable() bool {
	return k == StageErrorTransient || k == StageErrorTimeout
}

// StageError is the only error type a stage adapter returns to the orchestrator
type StageError struct {
	Err    error
	Kind   StageErrorKind
	Detail string
}

func (e *StageError) Error() string {
	if e.Err != nil && e.Detail != "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a retryable stage error
func Transient(detail string, err error) *StageError {
	return &StageError{Kind: StageErrorTransient, Detail: detail, Err: err}
}

// Permanent wraps err as a non-retryable stage error
func Permanent(detail string, err error) *StageError {
	return &StageError{Kind: StageErrorPermanent, Detail: detail, Err: err}
}

// AlreadyDecidedError is returned when deciding a recommendation that left draft
type AlreadyDecidedError struct {
	RecommendationID string
	Status           RecommendationStatus
}

func (e *AlreadyDecidedError) Error() string {
	return fmt.Sprintf("recommendation %s already decided (status %s)", e.RecommendationID, e.Status)
}

// StaleRunError is returned when deciding a recommendation of a superseded run
type StaleRunError struct {
	RecommendationID string
	RunID            string
	SupersededBy     string
}

func (e *StaleRunError) Error() string {
	if e.SupersededBy != "" {
		return fmt.Sprintf("recommendation %s belongs to run %s, superseded by run %s", e.RecommendationID, e.RunID, e.SupersededBy)
	}
	return fmt.Sprintf("recommendation %s belongs to superseded run %s", e.RecommendationID, e.RunID)
}

// NotResumableError is returned by resume when the run cannot continue
type NotResumableError struct {
	RunID  string
	Reason string
}

func (e *NotResumableError) Error() string {
	return fmt.Sprintf("run %s is not resumable: %s", e.RunID, e.Reason)
}

// InvalidTransitionError is returned when a run status change is not allowed
type InvalidTransitionError struct {
	RunID string
	From  RunStatus
	To    RunStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("run %s cannot move from %s to %s", e.RunID, e.From, e.To)
}
