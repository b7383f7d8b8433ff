package recommend

import (
	"slices"

	"github.com/raine/telegram-recommender-bot/internal/imaging"
	"github.com/raine/telegram-recommender-bot/internal/llm"
)

// SessionState is what the orchestrator remembers between calls for one
// user session. The caller owns it: every operation takes the previous state
// and returns the next one, so sessions never share anything.
type SessionState struct {
	// Images is the sorted set of fingerprints the labels were computed from.
	Images []imaging.Fingerprint
	// Vision is the backend the labels were computed with.
	Vision llm.VisionBackend
	// Analyzed is set once a label computation has succeeded.
	Analyzed bool
	Labels   LabelSet

	Topic           string
	Text            llm.TextBackend
	Recommendations string

	// Error is the message of the last failed operation, empty on success.
	Error string
}

// HasLabels reports whether recommendations can be generated from the state.
func (s SessionState) HasLabels() bool {
	return s.Analyzed && s.Labels.Len() > 0
}

func (s SessionState) sameInput(images []imaging.Fingerprint, vision llm.VisionBackend) bool {
	return s.Analyzed && s.Vision == vision && slices.Equal(s.Images, images)
}

func (s SessionState) withError(err error) SessionState {
	if err != nil {
		s.Error = err.Error()
	}
	return s
}
