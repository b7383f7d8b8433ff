package recommend

import (
	"sort"
	"strings"
)

// LabelSet is a deduplicated set of labels. The zero value is an empty set
// ready to use.
type LabelSet struct {
	m map[string]struct{}
}

// NewLabelSet returns a set holding the given labels. Blank labels are skipped.
func NewLabelSet(labels ...string) LabelSet {
	var s LabelSet
	s.Add(labels...)
	return s
}

// Add inserts labels into the set.
func (s *LabelSet) Add(labels ...string) {
	for _, l := range labels {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if s.m == nil {
			s.m = make(map[string]struct{})
		}
		s.m[l] = struct{}{}
	}
}

// Union returns a new set with the labels of both sets.
func (s LabelSet) Union(other LabelSet) LabelSet {
	out := NewLabelSet(s.Sorted()...)
	out.Add(other.Sorted()...)
	return out
}

func (s LabelSet) Len() int {
	return len(s.m)
}

func (s LabelSet) Contains(label string) bool {
	_, ok := s.m[label]
	return ok
}

// Sorted returns the labels in lexical order.
func (s LabelSet) Sorted() []string {
	out := make([]string, 0, len(s.m))
	for l := range s.m {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

func (s LabelSet) Equal(other LabelSet) bool {
	if s.Len() != other.Len() {
		return false
	}
	for l := range s.m {
		if !other.Contains(l) {
			return false
		}
	}
	return true
}

func (s LabelSet) String() string {
	return strings.Join(s.Sorted(), ", ")
}
