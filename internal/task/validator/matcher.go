package validator

import (
	"strings"

	"github.com/sahilm/fuzzy"

	"mediatasks/internal/task"
)

// Matcher proposes replacement items for a task whose item reference broke.
// One candidate is a safe repair; zero or several are not.
type Matcher interface {
	Candidates(titleHint string, items []task.Item) []task.Item
}

// SubstringMatcher matches case-insensitively when either title contains the
// other. Empty titles never match.
type SubstringMatcher struct{}

func (SubstringMatcher) Candidates(titleHint string, items []task.Item) []task.Item {
	hint := normTitle(titleHint)
	if hint == "" {
		return nil
	}
	var out []task.Item
	for _, it := range items {
		title := normTitle(it.Title)
		if title == "" {
			continue
		}
		if strings.Contains(title, hint) || strings.Contains(hint, title) {
			out = append(out, it)
		}
	}
	return out
}

// FuzzyMatcher ranks items by fuzzy subsequence score (sahilm/fuzzy) and
// returns every item sharing the best score, provided it reaches MinScore.
// An exact (case-insensitive) title match always wins on its own.
type FuzzyMatcher struct {
	MinScore int
}

type itemTitles []task.Item

func (s itemTitles) String(i int) string { return s[i].Title }
func (s itemTitles) Len() int            { return len(s) }

func (m FuzzyMatcher) Candidates(titleHint string, items []task.Item) []task.Item {
	hint := normTitle(titleHint)
	if hint == "" {
		return nil
	}

	var exact []task.Item
	for _, it := range items {
		if normTitle(it.Title) == hint {
			exact = append(exact, it)
		}
	}
	if len(exact) > 0 {
		return exact
	}

	matches := fuzzy.FindFrom(strings.TrimSpace(titleHint), itemTitles(items))
	if len(matches) == 0 {
		return nil
	}
	best := matches[0].Score
	if best < m.MinScore {
		return nil
	}
	var out []task.Item
	for _, mt := range matches {
		if mt.Score != best {
			break
		}
		if normTitle(items[mt.Index].Title) == "" {
			continue
		}
		out = append(out, items[mt.Index])
	}
	return out
}

// NewMatcher returns the matcher named by kind ("substring" or "fuzzy").
func NewMatcher(kind string, minScore int) Matcher {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "fuzzy":
		return FuzzyMatcher{MinScore: minScore}
	default:
		return SubstringMatcher{}
	}
}

func normTitle(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
