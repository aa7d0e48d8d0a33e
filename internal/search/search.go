// Package search is a stateless query evaluator over a store snapshot.
// Callers pass the task list from a List call; nothing here mutates or
// retains it.
package search

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/basket/taskhold/internal/store"
)

// Mode selects how query text matches task fields.
type Mode string

const (
	// ModeExact is case-insensitive substring match of the whole query.
	ModeExact Mode = "exact"
	// ModeBoolean splits the query on whitespace and matches any term.
	ModeBoolean Mode = "boolean"
	// ModeRegex anchors the query as ^(?:expr)$ against whole fields.
	// Invalid patterns yield an empty result set, never an error.
	ModeRegex Mode = "regex"
	// ModeFuzzy scores terms by normalized Levenshtein similarity.
	ModeFuzzy Mode = "fuzzy"
)

// Per-term and overall acceptance thresholds for fuzzy matching.
const (
	fuzzyTermThreshold    = 0.6
	fuzzyOverallThreshold = 0.3
)

// Field weights applied to text matches.
const (
	weightTitle       = 1.0
	weightTags        = 0.75
	weightDescription = 0.5
)

// Query combines text search with field filters. Filters compose with the
// text match by logical AND; zero-valued filters match everything.
type Query struct {
	Text string
	Mode Mode

	Status    store.Status
	Priority  store.Priority
	Tags      []string
	DueAfter  *time.Time
	DueBefore *time.Time

	// Limit caps the result count. Zero means unlimited.
	Limit int
}

// Result is one matched task with its relevance score.
type Result struct {
	Task  *store.Task
	Score float64
}

// Run evaluates the query against the snapshot and returns matches ranked
// by descending score. Ties keep snapshot order.
func Run(tasks []*store.Task, q Query) []Result {
	matcher := buildMatcher(q)
	var out []Result
	for _, t := range tasks {
		if !passesFilters(t, q) {
			continue
		}
		score, ok := matcher(t)
		if !ok {
			continue
		}
		out = append(out, Result{Task: t, Score: score})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func passesFilters(t *store.Task, q Query) bool {
	if q.Status != "" && t.Status != q.Status {
		return false
	}
	if q.Priority != "" && t.Priority != q.Priority {
		return false
	}
	for _, want := range q.Tags {
		if !hasTag(t, want) {
			return false
		}
	}
	if q.DueAfter != nil || q.DueBefore != nil {
		if t.DueAt == nil {
			return false
		}
		if q.DueAfter != nil && t.DueAt.Before(*q.DueAfter) {
			return false
		}
		if q.DueBefore != nil && t.DueAt.After(*q.DueBefore) {
			return false
		}
	}
	return true
}

func hasTag(t *store.Task, want string) bool {
	want = strings.ToLower(want)
	for _, tag := range t.Tags {
		if strings.ToLower(tag) == want {
			return true
		}
	}
	return false
}

// buildMatcher compiles the query text once and returns a per-task scorer.
// A matcher returning (0, false) excludes the task.
func buildMatcher(q Query) func(*store.Task) (float64, bool) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		// Filter-only query: everything that passed the filters matches.
		return func(*store.Task) (float64, bool) { return 1, true }
	}

	switch q.Mode {
	case ModeBoolean:
		terms := strings.Fields(strings.ToLower(text))
		return func(t *store.Task) (float64, bool) {
			matched := 0
			var score float64
			for _, term := range terms {
				if w := substringWeight(t, term); w > 0 {
					matched++
					score += w
				}
			}
			if matched == 0 {
				return 0, false
			}
			// Rank by fraction of terms hit, weighted by where they hit.
			return score / float64(len(terms)), true
		}

	case ModeRegex:
		re, err := regexp.Compile("^(?:" + text + ")$")
		if err != nil {
			return func(*store.Task) (float64, bool) { return 0, false }
		}
		return func(t *store.Task) (float64, bool) {
			if re.MatchString(t.Title) {
				return weightTitle, true
			}
			for _, tag := range t.Tags {
				if re.MatchString(tag) {
					return weightTags, true
				}
			}
			if t.Description != "" && re.MatchString(t.Description) {
				return weightDescription, true
			}
			return 0, false
		}

	case ModeFuzzy:
		terms := strings.Fields(strings.ToLower(text))
		return func(t *store.Task) (float64, bool) {
			return fuzzyScore(t, terms)
		}

	default: // ModeExact
		needle := strings.ToLower(text)
		return func(t *store.Task) (float64, bool) {
			if w := substringWeight(t, needle); w > 0 {
				return w, true
			}
			return 0, false
		}
	}
}

// substringWeight returns the weight of the best field containing needle,
// or 0 when absent. needle must be lowercase.
func substringWeight(t *store.Task, needle string) float64 {
	if strings.Contains(strings.ToLower(t.Title), needle) {
		return weightTitle
	}
	for _, tag := range t.Tags {
		if strings.Contains(strings.ToLower(tag), needle) {
			return weightTags
		}
	}
	if strings.Contains(strings.ToLower(t.Description), needle) {
		return weightDescription
	}
	return 0
}

// fuzzyScore computes per-term best similarity against the task's words.
// A term only counts when its best similarity clears the per-term
// threshold; the task matches when the mean over all terms clears the
// overall threshold.
func fuzzyScore(t *store.Task, terms []string) (float64, bool) {
	words := fieldWords(t)
	if len(words) == 0 || len(terms) == 0 {
		return 0, false
	}
	var total float64
	for _, term := range terms {
		// Acceptance uses raw similarity; the contributed score is
		// weighted by the field the best word came from.
		raw, weighted := 0.0, 0.0
		for _, w := range words {
			s := similarity(term, w.text)
			if s > raw {
				raw = s
			}
			if sw := s * w.weight; sw > weighted {
				weighted = sw
			}
		}
		if raw >= fuzzyTermThreshold {
			total += weighted
		}
	}
	overall := total / float64(len(terms))
	if overall < fuzzyOverallThreshold {
		return 0, false
	}
	return overall, true
}

type weightedWord struct {
	text   string
	weight float64
}

func fieldWords(t *store.Task) []weightedWord {
	var out []weightedWord
	for _, w := range strings.Fields(strings.ToLower(t.Title)) {
		out = append(out, weightedWord{text: w, weight: weightTitle})
	}
	for _, tag := range t.Tags {
		out = append(out, weightedWord{text: strings.ToLower(tag), weight: weightTags})
	}
	for _, w := range strings.Fields(strings.ToLower(t.Description)) {
		out = append(out, weightedWord{text: w, weight: weightDescription})
	}
	return out
}
