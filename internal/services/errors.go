// Package services defines the business logic for threads, rounds, streaming,
// and analyses. This file centralizes common service-level error values so
// that they can be consistently returned by service methods and checked by
// callers.
//
// These errors are intended for internal use by the service layer and translation
// into user-facing messages or HTTP status codes should be performed at the
// handler/controller layer.
package services

import "errors"

// Thread-related errors.
var (
	// ErrThreadNotFound indicates that the requested thread does not exist or
	// is not accessible to the current user.
	ErrThreadNotFound = errors.New("thread not found")

	// ErrNoParticipants is returned when a thread is created or a turn is
	// submitted without any enabled participant.
	ErrNoParticipants = errors.New("thread has no enabled participants")

	// ErrEmptyPrompt is returned when a turn submission contains an empty
	// prompt.
	ErrEmptyPrompt = errors.New("prompt is empty")

	// ErrTooLong is returned when a turn submission exceeds the maximum
	// configured length limit.
	ErrTooLong = errors.New("prompt too long")
)

// Round and streaming errors.
var (
	// ErrRoundInFlight is returned when a turn is submitted while a previous
	// round of the same thread is still streaming.
	ErrRoundInFlight = errors.New("a round is already in flight for this thread")

	// ErrMessageNotFound indicates that the requested message does not exist
	// or is not accessible to the current user.
	ErrMessageNotFound = errors.New("message not found")
)

// Analysis errors.
var (
	// ErrAnalysisNotFound indicates that the requested analysis record does
	// not exist.
	ErrAnalysisNotFound = errors.New("analysis not found")

	// ErrAnalysisNotRetryable is returned when retry is requested for an
	// analysis that is not in the failed state.
	ErrAnalysisNotRetryable = errors.New("analysis is not failed; nothing to retry")
)
