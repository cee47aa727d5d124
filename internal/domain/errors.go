package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks invalid parameters. Never retried.
	ErrConfiguration = errors.New("configuration error")

	// ErrTransient marks timeouts, rate limits and 5xx-class service failures.
	ErrTransient = errors.New("transient service error")

	// ErrDataIntegrity marks responses that cannot be trusted, such as a
	// vector count or dimension mismatch. Never retried.
	ErrDataIntegrity = errors.New("data integrity error")

	// ErrEmptyAnswer is returned when the completion service answers with no text.
	ErrEmptyAnswer = errors.New("completion returned empty answer")
)

// Stage names a pipeline step that talks to an external collaborator.
type Stage string

const (
	StageSplit    Stage = "split"
	StageEmbed    Stage = "embed"
	StageStore    Stage = "store"
	StageSearch   Stage = "search"
	StageComplete Stage = "complete"

	// StageIndex marks documents never processed because indexing was cancelled.
	StageIndex Stage = "index"
)

// StageError is a failure surfaced from a pipeline stage after retries.
type StageError struct {
	Stage Stage
	Cause error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Cause)
}

func (e *StageError) Unwrap() error {
	return e.Cause
}

// ConfigError builds an error wrapping ErrConfiguration.
func ConfigError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// IntegrityError builds an error wrapping ErrDataIntegrity.
func IntegrityError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDataIntegrity, fmt.Sprintf(format, args...))
}

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }

func (e *transientError) Unwrap() error { return e.err }

func (e *transientError) Is(target error) bool { return target == ErrTransient }

// Transient marks err as retryable. A nil err stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err may succeed when retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
