package recommend

import (
	"errors"

	"github.com/raine/telegram-recommender-bot/internal/llm"
)

// ValidationError is returned when caller input violates a precondition.
// It is never worth retrying the same input.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

var (
	ErrMissingTopic  = &ValidationError{Reason: "missing topic"}
	ErrMissingImages = &ValidationError{Reason: "missing images"}
	ErrTooManyImages = &ValidationError{Reason: "too many images"}
	ErrNoLabels      = &ValidationError{Reason: "no labels"}
)

func visionError(backend llm.VisionBackend, err error) error {
	var pe *llm.VisionProviderError
	if errors.As(err, &pe) {
		return err
	}
	return &llm.VisionProviderError{Backend: backend, Err: err}
}

func textError(backend llm.TextBackend, err error) error {
	var pe *llm.TextProviderError
	if errors.As(err, &pe) {
		return err
	}
	return &llm.TextProviderError{Backend: backend, Err: err}
}
