// Package cycle drives one full fetch→diff→publish run of the fleet:
// load config and state, process each source in declaration order,
// assemble and validate feed documents, then publish everything
// atomically and persist state for the next cycle.
package cycle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/deltafeed/engine/internal/adapter"
	"github.com/deltafeed/engine/internal/archive"
	"github.com/deltafeed/engine/internal/config"
	"github.com/deltafeed/engine/internal/diff"
	"github.com/deltafeed/engine/internal/feed"
	"github.com/deltafeed/engine/internal/fleetstate"
	"github.com/deltafeed/engine/internal/knownissues"
	"github.com/deltafeed/engine/internal/model"
	"github.com/deltafeed/engine/internal/publish"
	"github.com/deltafeed/engine/internal/validate"
	"github.com/deltafeed/engine/pkg/canonical"
	pkgerrors "github.com/deltafeed/engine/pkg/errors"
	"github.com/deltafeed/engine/pkg/telemetry"
)

const (
	defaultTTLSec      = 3600
	defaultLockTimeout = 30 * time.Second
)

// Options configures one cycle run. Paths are threaded explicitly; the
// engine never resolves output locations through globals.
type Options struct {
	ConfigDir   string
	Env         string
	OutDir      string
	ArchivePath string // "" disables the provenance archive
	LockTimeout time.Duration

	Logger *telemetry.Logger
	Now    func() time.Time
}

// Report summarizes a finished cycle.
type Report struct {
	RunID         string
	ExitCode      int
	GlobalChanged bool
	SourcesOK     int
	SourcesError  int
}

type paths struct {
	out string
}

func (p paths) globalFeed() string  { return filepath.Join(p.out, "diff", "latest.json") }
func (p paths) fleetState() string  { return filepath.Join(p.out, "diff", "_state.json") }
func (p paths) knownIssues() string { return filepath.Join(p.out, "known_issues.json") }
func (p paths) telemetry() string   { return filepath.Join(p.out, "telemetry", "latest.json") }
func (p paths) lock() string        { return filepath.Join(p.out, "diff", ".engine.lock") }

func (p paths) perSource(name string, sc model.SourceConfig) string {
	if sc.Paths.Latest != "" {
		return filepath.Join(p.out, sc.Paths.Latest)
	}
	return filepath.Join(p.out, "diff", "source", name, "latest.json")
}

// sourceOutcome carries one source's full per-cycle result between the
// processing loop and the publish phase.
type sourceOutcome struct {
	result   feed.SourceResult
	doc      model.FeedDocument
	cursor   canonical.Cursor
	path     string
	tel      telemetry.Record
	observed *knownissues.ObservedError
}

// Run executes one cycle. The returned error is reserved for fatal
// conditions (missing config, lock contention, invariant violation);
// per-source failures are reflected in Report.ExitCode instead.
func Run(ctx context.Context, opts Options) (Report, error) {
	log := opts.Logger
	if log == nil {
		log = telemetry.Nop
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	lockTimeout := opts.LockTimeout
	if lockTimeout <= 0 {
		lockTimeout = defaultLockTimeout
	}

	runID := telemetry.NewRunID()
	startedAt := now()
	p := paths{out: opts.OutDir}

	cfg, err := config.Load(opts.ConfigDir, opts.Env)
	if err != nil {
		return Report{RunID: runID, ExitCode: 1}, err
	}

	if err := os.MkdirAll(filepath.Dir(p.lock()), 0o755); err != nil {
		return Report{RunID: runID, ExitCode: 1}, fmt.Errorf("cycle: prepare output dir: %w", err)
	}
	lock, err := publish.AcquireCycleLock(ctx, p.lock(), lockTimeout)
	if err != nil {
		return Report{RunID: runID, ExitCode: 1}, err
	}
	defer lock.Release()

	state, err := fleetstate.Load(p.fleetState())
	if err != nil {
		return Report{RunID: runID, ExitCode: 1}, fmt.Errorf("cycle: load fleet state: %w", err)
	}

	var store *archive.Store
	if opts.ArchivePath != "" {
		store, err = archive.Open(opts.ArchivePath)
		if err != nil {
			log.Warn("archive_unavailable", map[string]any{"error": err})
			store = nil
		} else {
			defer store.Close()
		}
	}

	telDoc := telemetry.NewDocument(model.SchemaVersion, runID, startedAt)
	observed := map[string]knownissues.ObservedError{}
	outcomes := make([]sourceOutcome, 0, len(cfg.Order))

	for _, name := range cfg.Order {
		sc := cfg.Sources[name]
		oc := processSource(ctx, name, sc, &state, store, runID, now, log)
		oc.path = p.perSource(name, sc)

		doc, cursor, err := feed.BuildPerSource(oc.result, now())
		if err != nil {
			return Report{RunID: runID, ExitCode: 1}, fmt.Errorf("cycle: assemble %s: %w", name, err)
		}
		if !diff.StabilityOK(doc.Changed, doc.Cursor, doc.PrevCursor) {
			return Report{RunID: runID, ExitCode: 1},
				pkgerrors.New(pkgerrors.InvariantCursorInstable, "per-source cursor instability: "+name, nil).AsError()
		}
		if err := validate.Feed(doc); err != nil {
			return Report{RunID: runID, ExitCode: 1}, fmt.Errorf("cycle: validate %s: %w", name, err)
		}
		oc.doc, oc.cursor = doc, cursor

		if oc.result.ErrMsg == "" && oc.result.Enabled {
			fleetstate.RecordSuccess(&state, name, oc.result.Diff.SourceHash, cursor, oc.result.Diff.NextItemHashes, now())
		}
		oc.tel.State = telemetry.StateStats{Cursor: string(cursor), PrevCursor: string(oc.result.PrevCursor)}
		oc.tel.Emit = telemetry.EmitStats{
			Changed: doc.Changed,
			New:     len(doc.Buckets.New),
			Updated: len(doc.Buckets.Updated),
			Removed: len(doc.Buckets.Removed),
			Flagged: len(doc.Buckets.Flagged),
		}
		if oc.observed != nil {
			observed[name] = *oc.observed
		}
		outcomes = append(outcomes, oc)
	}

	// Global aggregation and feed validation happen before any file is
	// written: an invariant violation in any feed document aborts the
	// whole publication rather than leaving half a cycle on disk. The
	// known-issues document is validated later, just before its write.
	results := make([]feed.SourceResult, 0, len(outcomes))
	cursors := make(map[string]canonical.Cursor, len(outcomes))
	for _, oc := range outcomes {
		results = append(results, oc.result)
		cursors[oc.result.Name] = oc.cursor
	}
	globalDoc, globalCursor, err := feed.BuildGlobal(results, cursors, state.Global.LastCursor, now(), defaultTTLSec)
	if err != nil {
		return Report{RunID: runID, ExitCode: 1}, fmt.Errorf("cycle: assemble global feed: %w", err)
	}
	if !diff.StabilityOK(globalDoc.Changed, globalDoc.Cursor, globalDoc.PrevCursor) {
		return Report{RunID: runID, ExitCode: 1},
			pkgerrors.New(pkgerrors.InvariantCursorInstable, "global cursor instability", nil).AsError()
	}
	if err := validate.Feed(globalDoc); err != nil {
		return Report{RunID: runID, ExitCode: 1}, fmt.Errorf("cycle: validate global feed: %w", err)
	}

	for _, oc := range outcomes {
		if err := publish.WriteJSON(oc.path, oc.doc); err != nil {
			return Report{RunID: runID, ExitCode: 1}, err
		}
	}
	if globalDoc.Changed {
		if err := publish.WriteJSON(p.globalFeed(), globalDoc); err != nil {
			return Report{RunID: runID, ExitCode: 1}, err
		}
	}

	state.Global.LastCursor = globalCursor
	state.Global.LastRunAt = now().UTC().Format(time.RFC3339)
	if err := fleetstate.Save(p.fleetState(), state); err != nil {
		return Report{RunID: runID, ExitCode: 1}, fmt.Errorf("cycle: save fleet state: %w", err)
	}

	if err := writeKnownIssues(p.knownIssues(), observed, now()); err != nil {
		return Report{RunID: runID, ExitCode: 1}, err
	}

	for _, oc := range outcomes {
		telDoc.Records = append(telDoc.Records, oc.tel)
	}
	telDoc.FinishedAt = now().UTC().Format(time.RFC3339)
	if err := publish.WriteJSON(p.telemetry(), telDoc); err != nil {
		return Report{RunID: runID, ExitCode: 1}, err
	}

	report := Report{RunID: runID, GlobalChanged: globalDoc.Changed}
	for _, oc := range outcomes {
		if oc.result.ErrMsg != "" {
			report.SourcesError++
		} else {
			report.SourcesOK++
		}
	}
	if report.SourcesError > 0 {
		report.ExitCode = 1
	}
	log.Info("cycle_complete", map[string]any{
		"run_id":         runID,
		"sources_ok":     report.SourcesOK,
		"sources_error":  report.SourcesError,
		"global_changed": report.GlobalChanged,
	})
	return report, nil
}

// processSource runs fetch+normalize+diff for one source. It never
// returns an error: every failure mode lands on the result's ErrMsg so
// the rest of the fleet keeps processing.
func processSource(ctx context.Context, name string, sc model.SourceConfig, state *model.FleetState, store *archive.Store, runID string, now func() time.Time, log *telemetry.Logger) sourceOutcome {
	prev := state.Sources[name]
	oc := sourceOutcome{
		result: feed.SourceResult{
			Name:       name,
			Enabled:    sc.Enabled,
			TTLSec:     sc.TTLSecOr(defaultTTLSec),
			PrevCursor: canonical.OrZero(prev.LastCursor),
			Diff:       diff.Result{Changed: false, SourceHash: prev.LastHash, Buckets: model.EmptyBuckets()},
		},
		tel: telemetry.Record{RunID: runID, Source: name},
	}

	if !sc.Enabled {
		return oc
	}

	fail := func(code pkgerrors.Code, msg string) sourceOutcome {
		oc.result.ErrMsg = msg
		body := pkgerrors.New(code, msg, nil)
		oc.observed = &knownissues.ObservedError{Body: body}
		fleetstate.RecordError(state, name, msg, now())
		log.Error("source_failed", map[string]any{"source": name, "code": string(code), "error": msg})
		return oc
	}

	if err := config.SourceError(name, sc); err != nil {
		return fail(pkgerrors.ConfigInvalid, err.Error())
	}
	ad, err := adapter.New(name, sc)
	if err != nil {
		return fail(pkgerrors.ConfigUnknownAdapter, err.Error())
	}

	fetchStart := now()
	raw, httpStatus, errMsg := ad.Fetch(ctx)
	fetchedAt := now()
	oc.tel.Fetch = telemetry.FetchStats{
		OK:           errMsg == "",
		StatusCode:   httpStatus,
		DurationMS:   fetchedAt.Sub(fetchStart).Milliseconds(),
		ItemsFetched: len(raw),
	}
	if errMsg != "" {
		code := pkgerrors.TransportFailed
		switch {
		case strings.HasPrefix(errMsg, "decode failed"):
			code = pkgerrors.DecodeFailed
		case httpStatus != 0:
			code = pkgerrors.TransportHTTPStatus
		}
		return fail(code, errMsg)
	}

	items := make([]model.NormalizedItem, 0, len(raw))
	for _, r := range raw {
		items = append(items, ad.Normalize(r, fetchedAt))
	}
	sourceHash, err := ad.SourceHash(items)
	if err != nil {
		return fail(pkgerrors.DecodeFailed, "source hash: "+err.Error())
	}

	res, err := diff.Process(name, diff.FetchOutcome{
		Items: items, SourceHash: sourceHash, HTTPStatus: httpStatus,
	}, prev.LastHash, prev.ItemHashes, fetchedAt)
	if err != nil {
		return fail(pkgerrors.DecodeFailed, "diff: "+err.Error())
	}
	oc.result.Diff = res

	if store != nil && res.Changed && len(items) > 0 {
		if err := store.AppendCycle(runID, items, res.NextItemHashes, fetchedAt); err != nil {
			log.Warn("archive_append_failed", map[string]any{"source": name, "error": err})
		}
	}

	log.Info("source_processed", map[string]any{
		"source":  name,
		"changed": res.Changed,
		"items":   len(items),
	})
	return oc
}

// writeKnownIssues rewrites the known-issues file only when the issue
// set differs from disk, or when the file does not exist yet.
func writeKnownIssues(path string, observed map[string]knownissues.ObservedError, at time.Time) error {
	prev, err := knownissues.Load(path)
	if err != nil {
		return fmt.Errorf("cycle: load known issues: %w", err)
	}
	doc, changed := knownissues.Record(prev, observed, at)
	if !changed && fileExists(path) {
		return nil
	}
	if err := validate.KnownIssues(doc); err != nil {
		return fmt.Errorf("cycle: validate known issues: %w", err)
	}
	return knownissues.Save(path, doc)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
