package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrNotRegistered    = errors.New("sender is not a registered account")
	ErrNotLinked        = errors.New("account is not linked to this address")
	ErrNotEntitled      = errors.New("subscription does not include the assistant")
	ErrAlreadyProcessed = errors.New("event already processed")
	ErrInvalidLinkCode  = errors.New("link code invalid or expired")
)

// TranscriptionError is returned when a voice note cannot be turned into text.
type TranscriptionError struct {
	UserMessage string
	Err         error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("transcription failed: %v", e.Err)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }

// ClassificationError wraps a failed or unparseable model call. It never
// reaches the user: the classifier recovers with a fallback intent.
type ClassificationError struct {
	Err error
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("classification failed: %v", e.Err)
}

func (e *ClassificationError) Unwrap() error { return e.Err }

// ExecutionError is a per-intent precondition failure with a reply naming the
// missing input.
type ExecutionError struct {
	Reason      string
	UserMessage string
}

func (e *ExecutionError) Error() string {
	return "execution: " + e.Reason
}

// DeliveryError is an outbound send failure. It is logged, never propagated
// out of the reply composer.
type DeliveryError struct {
	Address string
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %s: %v", e.Address, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
