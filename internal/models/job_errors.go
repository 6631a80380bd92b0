package models

import (
	"errors"
	"fmt"
)

// ErrNoMessage is returned when the pending queue is empty
var ErrNoMessage = errors.New("no messages in queue")

var (
	// ErrJobNotFound is returned by point lookups for unknown ids
	ErrJobNotFound = errors.New("job not found")

	// ErrJobTerminal is returned when writing to a completed or failed record
	ErrJobTerminal = errors.New("job already in terminal state")

	// ErrInvalidTransition is returned for backwards or malformed status writes
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrBufferNotFound is returned when a job has no buffer blob
	ErrBufferNotFound = errors.New("job buffer not found")

	// ErrQuotaExceeded is returned by quota checks before expensive work
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrServiceUnavailable is returned by dependent services that are not configured
	ErrServiceUnavailable = errors.New("service unavailable")
)

// Machine-readable error codes stored in JobRecord.Error.
const (
	ErrorCodeValidation        = "validation_failed"
	ErrorCodeQuotaExceeded     = "quota_exceeded"
	ErrorCodeServiceError      = "service_error"
	ErrorCodeTimeout           = "job_timeout"
	ErrorCodeUnknownJobType    = "unknown_job_type"
	ErrorCodeHandlerPanic      = "handler_panic"
	ErrorCodeHandlerIncomplete = "handler_incomplete"
	ErrorCodeStore             = "store_error"
	ErrorCodeUnknown           = "unknown_error"
)

// Default user-facing messages per error code.
var defaultErrorMessages = map[string]string{
	ErrorCodeValidation:        "The submitted data is invalid.",
	ErrorCodeQuotaExceeded:     "You have reached your limit. Please try again later.",
	ErrorCodeServiceError:      "Something went wrong while processing your request. Please try again.",
	ErrorCodeTimeout:           "Processing took too long and was stopped. Please try again.",
	ErrorCodeUnknownJobType:    "This kind of request is not supported.",
	ErrorCodeHandlerPanic:      "Something went wrong while processing your request. Please try again.",
	ErrorCodeHandlerIncomplete: "Processing ended unexpectedly. Please try again.",
	ErrorCodeStore:             "Something went wrong while processing your request. Please try again.",
}

// DefaultErrorMessage returns the user-facing message for code.
func DefaultErrorMessage(code string) string {
	if msg, ok := defaultErrorMessages[code]; ok {
		return msg
	}
	return "Processing failed. Please try again."
}

// JobError carries a machine code and user message from a handler to FailJob.
type JobError struct {
	Code    string
	Message string
	Err     error
}

func (e *JobError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Code
}

func (e *JobError) Unwrap() error {
	return e.Err
}

// NewValidationError builds a validation JobError with a specific user message.
func NewValidationError(message string, err error) *JobError {
	return &JobError{Code: ErrorCodeValidation, Message: message, Err: err}
}

// NewServiceError builds a dependent-service JobError with the generic retry message.
func NewServiceError(err error) *JobError {
	return &JobError{Code: ErrorCodeServiceError, Message: DefaultErrorMessage(ErrorCodeServiceError), Err: err}
}

// NewQuotaError builds a resource-limit JobError.
func NewQuotaError(message string, err error) *JobError {
	if message == "" {
		message = DefaultErrorMessage(ErrorCodeQuotaExceeded)
	}
	return &JobError{Code: ErrorCodeQuotaExceeded, Message: message, Err: err}
}
