// Package risk implements risk evaluator v0: a pure, additive,
// integrity-only scoring function over one normalized item and its fetch
// outcome. It never inspects content semantics, only the structural
// completeness of what the adapter returned.
package risk

import (
	"strings"

	"github.com/deltafeed/engine/internal/model"
)

// QuarantineThreshold is the score at or above which an item is routed to
// the flagged bucket instead of new/updated.
const QuarantineThreshold = 0.4

const (
	weightMissingTitle   = 0.2
	weightMissingURL     = 0.2
	weightMissingContent = 0.2
	weightTransportError = 0.5
	maxScore             = 1.0
)

// Outcome carries the fetch-level facts the evaluator needs alongside the
// item itself: whether this item's source fetch failed outright.
type Outcome struct {
	TransportFailed bool
}

// Evaluate scores one normalized item. The score is additive and capped
// at maxScore; reasons list every signal that fired, in a fixed order.
func Evaluate(item model.NormalizedItem, outcome Outcome) model.Risk {
	var score float64
	var reasons []string

	if strings.TrimSpace(item.Title) == "" {
		score += weightMissingTitle
		reasons = append(reasons, "missing_title")
	}
	if strings.TrimSpace(item.URL) == "" {
		score += weightMissingURL
		reasons = append(reasons, "missing_url")
	}
	if strings.TrimSpace(item.Content) == "" {
		score += weightMissingContent
		reasons = append(reasons, "missing_content")
	}
	if outcome.TransportFailed {
		score += weightTransportError
		reasons = append(reasons, "fetch_error")
	}
	if score > maxScore {
		score = maxScore
	}
	if reasons == nil {
		reasons = []string{}
	}
	return model.Risk{Score: score, Reasons: reasons}
}

// Quarantined reports whether r's score routes its item to the flagged
// bucket rather than new/updated.
func Quarantined(r model.Risk) bool {
	return r.Score >= QuarantineThreshold
}
