package llm

import (
	"time"

	"github.com/rs/zerolog/log"
)

// Usage contains token usage for a single backend call.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64
}

func logCall(kind, model string, usage Usage, elapsed time.Duration) {
	log.Info().
		Str("model", model).
		Int64("inputTokens", usage.InputTokens).
		Int64("outputTokens", usage.OutputTokens).
		Int64("totalTokens", usage.TotalTokens).
		Dur("elapsed", elapsed).
		Msg(kind + " llm call")
}
