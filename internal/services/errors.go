// Package services defines the business logic for poll authoring, vote
// submission, and result delivery. This file centralizes the service-level
// error values and typed errors so that callers can check them with
// errors.Is / errors.As.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Sentinel errors. Typed errors below match these via errors.Is.
var (
	// ErrPollNotFound indicates that the requested poll does not exist.
	ErrPollNotFound = errors.New("poll not found")

	// ErrAccessDenied is the class of eligibility gate failures.
	ErrAccessDenied = errors.New("access denied")

	// ErrAlreadyVoted is returned when the voter already has an answer set
	// recorded for the poll.
	ErrAlreadyVoted = errors.New("already voted")

	// ErrValidation is the class of answer-shape failures.
	ErrValidation = errors.New("invalid submission")

	// ErrPersistence is the class of store failures during submission.
	ErrPersistence = errors.New("submission could not be recorded")

	// ErrResultsHidden is returned when results are not yet visible to the
	// requester.
	ErrResultsHidden = errors.New("results are not visible yet")

	// ErrForbidden is returned when a non-creator attempts a creator action.
	ErrForbidden = errors.New("only the poll creator may do this")

	// ErrUnauthenticated is returned when an action needs an identity.
	ErrUnauthenticated = errors.New("authentication required")

	// ErrInvalidPoll is returned when an authored poll definition is malformed.
	ErrInvalidPoll = errors.New("invalid poll definition")
)

// DenyReason enumerates eligibility gate failures in check order.
type DenyReason string

const (
	DenyClosed           DenyReason = "closed"
	DenyExpired          DenyReason = "expired"
	DenyLoginRequired    DenyReason = "login_required"
	DenyDomainNotAllowed DenyReason = "domain_not_allowed"
)

// AccessDeniedError reports the first failing gate check.
type AccessDeniedError struct {
	Reason DenyReason
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("access denied: %s", e.Reason)
}

func (e *AccessDeniedError) Is(target error) bool { return target == ErrAccessDenied }

// ViolationCode enumerates answer-shape failures.
type ViolationCode string

const (
	MissingRequired  ViolationCode = "missing_required"
	InvalidReference ViolationCode = "invalid_reference"
	EmptySubmission  ViolationCode = "empty_submission"
	MixedAnswerKind  ViolationCode = "mixed_answer_kind"
)

// Violation is a single failed constraint.
type Violation struct {
	Code       ViolationCode `json:"code"`
	QuestionID string        `json:"question_id,omitempty"`
	OptionID   string        `json:"option_id,omitempty"`
	Message    string        `json:"message"`
}

// ValidationError lists every violated constraint in a stable order.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.Message
	}
	return "invalid submission: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Has reports whether any violation carries code.
func (e *ValidationError) Has(code ViolationCode) bool {
	for _, v := range e.Violations {
		if v.Code == code {
			return true
		}
	}
	return false
}

func (e *ValidationError) sort() {
	sort.SliceStable(e.Violations, func(i, j int) bool {
		a, b := e.Violations[i], e.Violations[j]
		if a.QuestionID != b.QuestionID {
			return a.QuestionID < b.QuestionID
		}
		if a.Code != b.Code {
			return a.Code < b.Code
		}
		return a.OptionID < b.OptionID
	})
}

// PersistenceError wraps a store failure. The whole submission is safe to
// retry.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string { return "submission could not be recorded: " + e.Err.Error() }

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }
