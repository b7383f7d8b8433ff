package llm

import (
	"context"
	"fmt"
)

// TextBackend selects one of the interchangeable text generation providers.
type TextBackend int

const (
	TextFast TextBackend = iota + 1
	TextAccurate
	TextOpenModel
)

// TextBackends lists all text backends in display order.
var TextBackends = []TextBackend{TextFast, TextAccurate, TextOpenModel}

func (b TextBackend) String() string {
	switch b {
	case TextFast:
		return "fast"
	case TextAccurate:
		return "accurate"
	case TextOpenModel:
		return "open"
	default:
		return "unknown"
	}
}

// Label is the human readable name shown to users.
func (b TextBackend) Label() string {
	switch b {
	case TextFast:
		return "Fast (Gemini)"
	case TextAccurate:
		return "Accurate (OpenAI)"
	case TextOpenModel:
		return "Open model (Llama)"
	default:
		return "Unknown"
	}
}

// ParseTextBackend parses the String form of a text backend.
func ParseTextBackend(s string) (TextBackend, error) {
	for _, b := range TextBackends {
		if b.String() == s {
			return b, nil
		}
	}
	return 0, fmt.Errorf("unknown text backend: %q", s)
}

// TextProvider generates recommendations from image labels and a topic.
type TextProvider interface {
	Recommend(ctx context.Context, labels []string, topic string) (string, error)
}

// TextSet binds each text backend to its provider.
type TextSet struct {
	Fast      TextProvider
	Accurate  TextProvider
	OpenModel TextProvider
}

// For returns the provider bound to b.
func (s TextSet) For(b TextBackend) (TextProvider, error) {
	var p TextProvider
	switch b {
	case TextFast:
		p = s.Fast
	case TextAccurate:
		p = s.Accurate
	case TextOpenModel:
		p = s.OpenModel
	default:
		return nil, fmt.Errorf("unknown text backend: %d", b)
	}
	if p == nil {
		return nil, fmt.Errorf("text backend %s: %w", b, ErrBackendUnavailable)
	}
	return p, nil
}

// TextProviderError is returned when a text backend call fails.
type TextProviderError struct {
	Backend TextBackend
	Err     error
}

func (e *TextProviderError) Error() string {
	return fmt.Sprintf("text backend %s failed: %v", e.Backend, e.Err)
}

func (e *TextProviderError) Unwrap() error {
	return e.Err
}
