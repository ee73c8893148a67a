package assignment

import (
	"regexp"
	"sort"
	"strings"

	"github.com/stemsi/exam-orchestrator/internal/model"
)

var (
	spaceRe = regexp.MustCompile(`\s+`)
	punctRe = regexp.MustCompile(`[^\w\s]`)
)

// Normalize lower-cases s, collapses whitespace and strips punctuation.
func Normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = spaceRe.ReplaceAllString(s, " ")
	return punctRe.ReplaceAllString(s, "")
}

// Key is the content identity of a question: two questions with the same
// normalized text and the same set of normalized options are duplicates.
func Key(q model.BankQuestion) string {
	opts := make([]string, len(q.Options))
	for i, o := range q.Options {
		opts[i] = Normalize(o)
	}
	sort.Strings(opts)
	return "q:" + Normalize(q.QuestionText) + "||opts:" + strings.Join(opts, "|")
}
