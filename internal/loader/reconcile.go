// Package loader reconciles scraped records against the persisted table,
// closing superseded description versions instead of overwriting them.
package loader

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/hcpcs-cli/internal/model"
	"github.com/sells-group/hcpcs-cli/internal/store"
)

// DuplicatePolicy decides how repeated codes within one batch are handled.
type DuplicatePolicy string

const (
	// LastWins replays every duplicate in document order; earlier values
	// become closed historical rows and the last one stays open.
	LastWins DuplicatePolicy = "last_wins"
	// Dedupe reconciles only the last record per code and skips the rest.
	Dedupe DuplicatePolicy = "dedupe"
)

// ParseDuplicatePolicy validates a policy name. Empty means LastWins.
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch DuplicatePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", LastWins:
		return LastWins, nil
	case Dedupe:
		return Dedupe, nil
	default:
		return "", eris.Errorf("loader: unknown duplicate policy %q", s)
	}
}

// Options configures a Reconciler.
type Options struct {
	// AsOf overrides the run date used to close rows when the incoming
	// record has no effective date. Zero means derive it from the batch.
	AsOf model.Date

	Duplicates DuplicatePolicy
}

// Reconciler merges scraped records into a Store.
type Reconciler struct {
	store store.Store
	opts  Options
	now   func() time.Time
}

// New creates a Reconciler.
func New(st store.Store, opts Options) *Reconciler {
	if opts.Duplicates == "" {
		opts.Duplicates = LastWins
	}
	return &Reconciler{store: st, opts: opts, now: time.Now}
}

// Reconcile loads one batch of records. Either the whole batch is applied or,
// on error, nothing is.
func (r *Reconciler) Reconcile(ctx context.Context, records []model.ScrapedRecord) (model.LoadReport, error) {
	return r.ReconcileSource(ctx, "", records)
}

// ReconcileSource is Reconcile for records read from a named artifact. A
// non-empty source is recorded as loaded in the same transaction.
func (r *Reconciler) ReconcileSource(ctx context.Context, source string, records []model.ScrapedRecord) (model.LoadReport, error) {
	log := zap.L().With(zap.String("component", "loader"))

	asOf := r.asOf(records)
	candidates, report := r.candidates(records)

	codes := make([]string, 0, len(candidates))
	for _, rec := range candidates {
		codes = append(codes, rec.HCPCSCode)
	}
	open, err := r.store.OpenRows(ctx, codes)
	if err != nil {
		return model.LoadReport{}, eris.Wrap(err, "loader: read open rows")
	}

	known := make(map[string][]model.CodeRow)
	for _, code := range needHistory(candidates, open) {
		rows, err := r.store.History(ctx, code)
		if err != nil {
			return model.LoadReport{}, eris.Wrapf(err, "loader: read history %s", code)
		}
		known[code] = rows
	}

	plan, planReport := Plan(candidates, open, known, asOf)
	report.Add(planReport)

	if source != "" {
		plan.Source = &model.LoadedSource{Name: source, Report: report, LoadedAt: r.now().UTC()}
	}
	if err := r.store.Apply(ctx, plan); err != nil {
		return model.LoadReport{}, eris.Wrap(err, "loader: apply plan")
	}

	log.Info("reconciliation complete",
		zap.String("source", source),
		zap.String("as_of", asOf.String()),
		zap.Int("records", len(records)),
		zap.Int("inserted", report.Inserted),
		zap.Int("closed", report.Closed),
		zap.Int("unchanged", report.Unchanged),
		zap.Int("skipped", report.Skipped),
	)
	return report, nil
}

// needHistory lists the codes whose stored versions Plan must see: codes
// repeated in the batch, and codes with a record older than the open row.
func needHistory(records []model.ScrapedRecord, open map[string][]model.CodeRow) []string {
	seen := make(map[string]bool, len(records))
	listed := make(map[string]bool)
	var out []string
	for _, rec := range records {
		code := rec.HCPCSCode
		need := seen[code]
		if rows := open[code]; !need && len(rows) > 0 {
			need = older(rec, newestRow(rows))
		}
		seen[code] = true
		if need && !listed[code] {
			listed[code] = true
			out = append(out, code)
		}
	}
	return out
}

// asOf is the configured date, else the latest scrape time in the batch,
// else today (UTC).
func (r *Reconciler) asOf(records []model.ScrapedRecord) model.Date {
	if !r.opts.AsOf.IsZero() {
		return r.opts.AsOf
	}
	var latest time.Time
	for _, rec := range records {
		if rec.ScrapedAt.After(latest) {
			latest = rec.ScrapedAt
		}
	}
	if latest.IsZero() {
		latest = r.now()
	}
	return model.NewDate(latest.UTC())
}

// candidates orders records by document position and drops the unusable
// ones, counting them as skipped.
func (r *Reconciler) candidates(records []model.ScrapedRecord) ([]model.ScrapedRecord, model.LoadReport) {
	var report model.LoadReport

	sorted := make([]model.ScrapedRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Seq < sorted[j].Seq })

	usable := make([]model.ScrapedRecord, 0, len(sorted))
	for _, rec := range sorted {
		rec.HCPCSCode = strings.ToUpper(strings.TrimSpace(rec.HCPCSCode))
		if rec.Failed() || rec.HCPCSCode == "" || strings.TrimSpace(rec.LongDescription) == "" {
			report.Skipped++
			continue
		}
		usable = append(usable, rec)
	}

	if r.opts.Duplicates != Dedupe {
		return usable, report
	}

	last := make(map[string]int, len(usable))
	for i, rec := range usable {
		last[rec.HCPCSCode] = i
	}
	deduped := usable[:0:0]
	for i, rec := range usable {
		if last[rec.HCPCSCode] != i {
			report.Skipped++
			continue
		}
		deduped = append(deduped, rec)
	}
	return deduped, report
}

// Plan computes the closures and inserts that bring the open rows in line
// with the records, which must already be ordered and filtered. known holds
// every stored row for codes that are repeated in the batch or replayed from
// an older snapshot. It does no I/O.
//
// Replaying a batch is a no-op: earlier occurrences of a code whose final
// occurrence matches the open row, and versions already stored, count as
// unchanged. A record dated before the current version never reopens it.
func Plan(records []model.ScrapedRecord, open, known map[string][]model.CodeRow, asOf model.Date) (model.LoadPlan, model.LoadReport) {
	var (
		plan   model.LoadPlan
		report model.LoadReport
	)

	// Per code, the current version is either a persisted open row or a row
	// this plan is about to insert.
	type current struct {
		row     model.CodeRow
		pending int // index into plan.Inserts, or -1 for a persisted row
	}
	state := make(map[string]*current)

	for code, rows := range open {
		if len(rows) == 0 {
			continue
		}
		keep := newestRow(rows)
		for _, row := range rows {
			if row.ID == keep.ID {
				continue
			}
			// Legacy data with several open rows: keep the newest.
			plan.Closures = append(plan.Closures, model.Closure{ID: row.ID, Code: code, EndDate: endFor(row, asOf)})
			report.Closed++
		}
		state[code] = &current{row: keep, pending: -1}
	}

	last := make(map[string]int, len(records))
	for i, rec := range records {
		last[rec.HCPCSCode] = i
	}

	for i, rec := range records {
		code := rec.HCPCSCode
		cur, ok := state[code]

		if ok && older(rec, cur.row) {
			if stored(known[code], rec) {
				report.Unchanged++
			} else {
				report.Skipped++
			}
			continue
		}
		if ok && cur.row.SameDescription(rec) {
			report.Unchanged++
			continue
		}
		if i != last[code] {
			final := records[last[code]]
			if (ok && cur.pending < 0 && cur.row.SameDescription(final)) || stored(known[code], rec) {
				report.Unchanged++
				continue
			}
		}

		endDate := asOf
		if rec.EffectiveDate != nil {
			endDate = *rec.EffectiveDate
		}

		if ok {
			endDate = endFor(cur.row, endDate)
			if cur.pending < 0 {
				plan.Closures = append(plan.Closures, model.Closure{ID: cur.row.ID, Code: code, EndDate: endDate})
			} else {
				// Superseded within this batch: insert it already closed.
				d := endDate
				plan.Inserts[cur.pending].EndDate = &d
			}
			report.Closed++
		}

		row := model.RowFromRecord(rec)
		plan.Inserts = append(plan.Inserts, row)
		report.Inserted++
		state[code] = &current{row: row, pending: len(plan.Inserts) - 1}
	}

	sort.SliceStable(plan.Closures, func(i, j int) bool { return plan.Closures[i].ID < plan.Closures[j].ID })
	return plan, report
}

// older reports whether rec is dated before row took effect.
func older(rec model.ScrapedRecord, row model.CodeRow) bool {
	return rec.EffectiveDate != nil && row.EffectiveDate != nil && rec.EffectiveDate.Before(*row.EffectiveDate)
}

// stored reports whether rows already hold rec's descriptions.
func stored(rows []model.CodeRow, rec model.ScrapedRecord) bool {
	for _, row := range rows {
		if row.SameDescription(rec) {
			return true
		}
	}
	return false
}

// endFor clamps a closing date so a row never ends before it took effect.
func endFor(row model.CodeRow, end model.Date) model.Date {
	if row.EffectiveDate != nil && end.Before(*row.EffectiveDate) {
		return *row.EffectiveDate
	}
	return end
}

func newestRow(rows []model.CodeRow) model.CodeRow {
	newest := rows[0]
	for _, row := range rows[1:] {
		if row.ID > newest.ID {
			newest = row
		}
	}
	return newest
}
