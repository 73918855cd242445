// Package knownissues tracks the engine's own operational failures
// (config errors, transport failures, decode failures) as a durable
// document, distinct from the flagged bucket which tracks suspect
// upstream content. first_seen_at/last_updated_at survive across cycles
// for the same issue key; the document is rewritten only when the issue
// set actually differs from what is on disk, so unchanged runs never
// bust downstream caches.
package knownissues

import (
	"os"
	"sort"
	"time"

	"github.com/deltafeed/engine/internal/model"
	"github.com/deltafeed/engine/internal/publish"
	pkgerrors "github.com/deltafeed/engine/pkg/errors"
	"github.com/deltafeed/engine/pkg/idempotency"
)

// Scope names what an issue applies to: a single source or the engine.
type Scope struct {
	Level string `json:"level"` // source | engine
	Ref   string `json:"ref"`
}

// Issue is one entry of the known-issues document.
type Issue struct {
	IssueKey      string   `json:"issue_key"`
	Status        string   `json:"status"` // active | resolved
	Severity      string   `json:"severity"`
	Scope         Scope    `json:"scope"`
	Summary       string   `json:"summary"`
	Details       string   `json:"details"`
	FirstSeenAt   string   `json:"first_seen_at"`
	LastUpdatedAt string   `json:"last_updated_at"`
	Signals       []string `json:"signals"`
	Sources       []string `json:"sources"`
	Workarounds   []string `json:"workarounds"`
}

// Document is the full known-issues file.
type Document struct {
	SchemaVersion string  `json:"schema_version"`
	GeneratedAt   string  `json:"generated_at"`
	Issues        []Issue `json:"issues"`
}

// ObservedError is one source's failure this cycle.
type ObservedError struct {
	Body pkgerrors.Body
}

// Load reads path, returning an empty document when absent.
func Load(path string) (Document, error) {
	var doc Document
	err := publish.ReadJSON(path, &doc)
	if err != nil {
		if os.IsNotExist(err) {
			return Document{SchemaVersion: model.SchemaVersion, Issues: []Issue{}}, nil
		}
		return Document{}, err
	}
	if doc.Issues == nil {
		doc.Issues = []Issue{}
	}
	return doc, nil
}

// Record folds one cycle's observed failures into the previous document.
// A source that failed again keeps its first_seen_at and gets a fresh
// last_updated_at; a source that recovered drops off the issue list.
// The second return value reports whether the resulting issue set
// differs from prev; callers write only on true.
func Record(prev Document, observed map[string]ObservedError, at time.Time) (Document, bool) {
	prevByKey := make(map[string]Issue, len(prev.Issues))
	for _, iss := range prev.Issues {
		prevByKey[iss.IssueKey] = iss
	}

	names := make([]string, 0, len(observed))
	for source := range observed {
		names = append(names, source)
	}
	sort.Strings(names)

	now := at.UTC().Format(time.RFC3339)
	issues := make([]Issue, 0, len(names))
	for _, source := range names {
		oe := observed[source]
		key := source + "_fetch_failed"
		iss := Issue{
			IssueKey:      key,
			Status:        "active",
			Severity:      severityFor(oe.Body),
			Scope:         Scope{Level: "source", Ref: source},
			Summary:       "Fetching " + source + " is failing.",
			Details:       oe.Body.Message,
			FirstSeenAt:   now,
			LastUpdatedAt: now,
			Signals:       []string{string(oe.Body.Code)},
			Sources:       []string{source},
			Workarounds:   []string{},
		}
		if existing, ok := prevByKey[key]; ok && existing.FirstSeenAt != "" {
			iss.FirstSeenAt = existing.FirstSeenAt
		}
		issues = append(issues, iss)
	}

	doc := Document{
		SchemaVersion: model.SchemaVersion,
		GeneratedAt:   now,
		Issues:        issues,
	}
	return doc, fingerprint(issues) != fingerprint(prev.Issues)
}

// Save writes doc atomically to path.
func Save(path string, doc Document) error {
	return publish.WriteJSON(path, doc)
}

func severityFor(body pkgerrors.Body) string {
	if body.Retryable {
		return "warning"
	}
	return "error"
}

// issueIdentity is the timestamp-free projection of an issue used for the
// set-difference check: bumping last_updated_at alone never triggers a
// rewrite.
type issueIdentity struct {
	IssueKey string   `json:"issue_key"`
	Status   string   `json:"status"`
	Severity string   `json:"severity"`
	Scope    Scope    `json:"scope"`
	Summary  string   `json:"summary"`
	Details  string   `json:"details"`
	Signals  []string `json:"signals"`
	Sources  []string `json:"sources"`
}

// fingerprint reduces an issue list to a deterministic comparison key.
func fingerprint(issues []Issue) string {
	ids := make([]issueIdentity, 0, len(issues))
	for _, iss := range issues {
		ids = append(ids, issueIdentity{
			IssueKey: iss.IssueKey, Status: iss.Status, Severity: iss.Severity,
			Scope: iss.Scope, Summary: iss.Summary, Details: iss.Details,
			Signals: iss.Signals, Sources: iss.Sources,
		})
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].IssueKey < ids[j].IssueKey })
	key, err := idempotency.BuildKey("known_issues_set", ids)
	if err != nil {
		return ""
	}
	return key
}
