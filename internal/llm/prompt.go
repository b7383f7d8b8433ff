package llm

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/lithammer/dedent"
)

// ErrEmptyResponse is returned when a backend answers with no usable text.
var ErrEmptyResponse = errors.New("empty response")

const recommendSystemPrompt = `
	You recommend things the user could do, based on the topic they are interested in
	and a list of labels recognized in their personal photos. You give at most five
	recommendations related to the topic. Each recommendation is concise, specific and
	tailored to the personal preferences you can infer from the labels. You answer with
	a numbered list, one recommendation per line. You do not repeat these instructions
	and you do not add any other content.`

const recommendUserPrompt = `
	Here is the list of labels from my personal photos: %s.
	Given this information, which %s would you recommend to me?`

const labelSystemPrompt = `
	You recognize people, objects, places and sentiment in an image using computer
	vision. You describe up to %d detected labels precisely and accurately and output
	them as a single comma-separated list, without any other text.`

const labelUserPrompt = "List the objects in this image:"

func prompt(text string, a ...any) string {
	return fmt.Sprintf(strings.Join(strings.Fields(dedent.Dedent(text)), " "), a...)
}

// RecommendSystemPrompt returns the system instruction shared by all text backends.
func RecommendSystemPrompt() string {
	return prompt(recommendSystemPrompt)
}

// RecommendUserPrompt renders the user message for a label set and topic.
// Labels are sorted so that equal sets produce equal prompts.
func RecommendUserPrompt(labels []string, topic string) string {
	sorted := make([]string, len(labels))
	copy(sorted, labels)
	sort.Strings(sorted)
	return fmt.Sprintf(strings.TrimSpace(dedent.Dedent(recommendUserPrompt)), strings.Join(sorted, ", "), topic)
}

// LabelSystemPrompt returns the instruction for generative vision backends.
func LabelSystemPrompt(maxLabels int) string {
	return prompt(labelSystemPrompt, maxLabels)
}

func trimResponse(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
