package feed

import (
	"fmt"
	"strings"

	"github.com/deltafeed/engine/internal/model"
)

// BatchNarrative generates the one-line human summary for a feed
// document: a fixed set of branches over the bucket counts, bounded to
// 30 words.
func BatchNarrative(scope string, changed bool, buckets model.Buckets) string {
	flaggedN := len(buckets.Flagged)
	total := buckets.Total()

	var narrative string
	switch {
	case !changed, total == 0 && flaggedN == 0:
		// An empty item set on a changed cycle (first fetch of an empty
		// upstream) reads the same as no change: there is nothing to
		// narrate.
		narrative = scope + ": No changes detected."

	case total == 0 && flaggedN > 0:
		narrative = fmt.Sprintf("%s: %d flagged %s detected.", scope, flaggedN, pluralize(flaggedN, "item", "items"))

	case total == 1:
		kind, title := soleChange(buckets)
		narrative = fmt.Sprintf("%s: %s '%s'.", scope, capitalize(kind), truncateChars(title, 40))

	default:
		var clauses []string
		if n := len(buckets.New); n > 0 {
			clauses = append(clauses, fmt.Sprintf("%d new", n))
		}
		if n := len(buckets.Updated); n > 0 {
			clauses = append(clauses, fmt.Sprintf("%d updated", n))
		}
		if n := len(buckets.Removed); n > 0 {
			clauses = append(clauses, fmt.Sprintf("%d removed", n))
		}
		if flaggedN > 0 {
			narrative = fmt.Sprintf("%s: %d changes (%s) %d flagged.", scope, total, strings.Join(clauses, ", "), flaggedN)
		} else {
			narrative = fmt.Sprintf("%s: %d changes (%s).", scope, total, strings.Join(clauses, ", "))
		}
	}

	return truncateWords(narrative, 30)
}

func soleChange(buckets model.Buckets) (kind, title string) {
	switch {
	case len(buckets.New) == 1:
		return "new", itemLabel(buckets.New[0])
	case len(buckets.Updated) == 1:
		return "updated", itemLabel(buckets.Updated[0])
	case len(buckets.Removed) == 1:
		return "removed", itemLabel(buckets.Removed[0])
	default:
		return "new", "item"
	}
}

// itemLabel names an item in a narrative: title, else summary, else the
// literal "item".
func itemLabel(it model.DeltaItem) string {
	if it.Title != "" {
		return it.Title
	}
	if it.Summary != "" {
		return it.Summary
	}
	return "item"
}

func pluralize(n int, singular, plural string) string {
	if n == 1 {
		return singular
	}
	return plural
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func truncateChars(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

func truncateWords(s string, max int) string {
	words := strings.Fields(s)
	if len(words) <= max {
		return s
	}
	return strings.Join(words[:max], " ") + "..."
}
