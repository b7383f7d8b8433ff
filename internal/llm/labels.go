package llm

import (
	"regexp"
	"strings"
)

var listMarker = regexp.MustCompile(`^(?:[-*•]|\d+[.)])\s*`)

// ParseLabelList splits free text from a generative vision backend into
// labels. Commas and newlines separate labels; list markers, quotes and
// trailing periods are stripped. Duplicates are dropped and at most max labels
// are returned (max <= 0 means no cap).
func ParseLabelList(text string, max int) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || r == '\n' || r == ';'
	})

	seen := make(map[string]bool, len(fields))
	labels := make([]string, 0, len(fields))
	for _, f := range fields {
		label := cleanLabel(f)
		if label == "" || seen[label] {
			continue
		}
		seen[label] = true
		labels = append(labels, label)
		if max > 0 && len(labels) == max {
			break
		}
	}
	return labels
}

func cleanLabel(s string) string {
	s = strings.TrimSpace(s)
	s = listMarker.ReplaceAllString(s, "")
	s = strings.Trim(s, "\"'` ")
	s = strings.TrimSuffix(s, ".")
	return strings.TrimSpace(s)
}
