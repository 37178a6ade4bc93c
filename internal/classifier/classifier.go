// Package classifier decides whether a chat message gets a canned answer
// or has to go to the generative model.
package classifier

import (
	"strings"
	"unicode"
)

type ResponseType string

const (
	TypeAI       ResponseType = "ai"
	TypeCommon   ResponseType = "common"
	TypeRedirect ResponseType = "redirect"
)

type Result struct {
	IsCommon   bool         `json:"is_common"`
	Text       string       `json:"text,omitempty"`
	Type       ResponseType `json:"type"`
	Category   string       `json:"category,omitempty"`
	Confidence float64      `json:"confidence,omitempty"`
	FollowUps  []string     `json:"follow_ups,omitempty"`

	// Topics lists the catalogue categories whose keywords occur in the
	// message, in catalogue order. Redirects carry none.
	Topics []string `json:"topics,omitempty"`
}

type Classifier struct {
	entries  map[string]Entry
	keywords []string
}

func New() *Classifier {
	byID := make(map[string]Entry, len(catalog))
	for _, e := range catalog {
		byID[e.ID] = e
	}
	return &Classifier{entries: byID, keywords: careerKeywords}
}

// Classify never fails. Off-topic messages get the redirect text, a handful
// of exact phrases get a canned answer, everything else is left to the
// generator (IsCommon=false).
func (c *Classifier) Classify(message string) Result {
	msg := strings.ToLower(strings.TrimSpace(message))

	if !c.isCareerRelated(msg) {
		return Result{IsCommon: true, Text: redirectText, Type: TypeRedirect}
	}
	topics := c.topics(msg)

	for _, m := range exactMatches {
		if !containsAny(msg, m.phrases) {
			continue
		}
		if e, ok := c.entries[m.entryID]; ok {
			return Result{
				IsCommon:   true,
				Text:       e.Text,
				Type:       TypeCommon,
				Category:   e.Category,
				Confidence: e.Confidence,
				FollowUps:  e.FollowUps,
				Topics:     topics,
			}
		}
	}

	return Result{IsCommon: false, Type: TypeAI, Topics: topics}
}

func (c *Classifier) isCareerRelated(msg string) bool {
	return newMatcher(msg).any(c.keywords)
}

func (c *Classifier) topics(msg string) []string {
	m := newMatcher(msg)
	var out []string
	seen := make(map[string]struct{})
	for _, e := range catalog {
		if _, ok := seen[e.Category]; ok {
			continue
		}
		if m.any(e.Keywords) {
			seen[e.Category] = struct{}{}
			out = append(out, e.Category)
		}
	}
	return out
}

// matcher checks keywords against one lowercased message.
type matcher struct {
	msg   string
	words map[string]struct{}
}

func newMatcher(msg string) *matcher { return &matcher{msg: msg} }

func (m *matcher) any(keywords []string) bool {
	for _, kw := range keywords {
		// two-letter keywords ("it", "hr", "cv") must be whole words
		if len(kw) <= 2 {
			if m.words == nil {
				m.words = tokenize(m.msg)
			}
			if _, ok := m.words[kw]; ok {
				return true
			}
			continue
		}
		if strings.Contains(m.msg, kw) {
			return true
		}
	}
	return false
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func tokenize(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		out[w] = struct{}{}
	}
	return out
}

type Stats struct {
	TotalResponses    int            `json:"total_responses"`
	Categories        map[string]int `json:"categories"`
	AverageConfidence float64        `json:"average_confidence"`
	Keywords          int            `json:"keywords"`
}

// Stats summarizes the canned answer catalogue.
func (c *Classifier) Stats() Stats {
	st := Stats{Categories: make(map[string]int)}
	var sum float64
	for _, e := range catalog {
		st.TotalResponses++
		st.Categories[e.Category]++
		sum += e.Confidence
		st.Keywords += len(e.Keywords)
	}
	if st.TotalResponses > 0 {
		st.AverageConfidence = sum / float64(st.TotalResponses)
	}
	return st
}
