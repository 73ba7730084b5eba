// Package aggregate turns a day of conversation logs into priced per-category
// token metrics.
package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alecgard/usagedash/internal/calendar"
	"github.com/alecgard/usagedash/internal/logstore"
	"github.com/alecgard/usagedash/internal/metering"
	"github.com/alecgard/usagedash/internal/pricing"
	"github.com/alecgard/usagedash/internal/usage"
	"golang.org/x/sync/errgroup"
)

// LogSource reads conversation logs in a time window [from, to).
type LogSource interface {
	ListBetween(ctx context.Context, from, to time.Time) ([]logstore.Record, error)
}

// RowWriter persists aggregated rows. Implementations must write every row or
// none of them.
type RowWriter interface {
	UpsertBatch(ctx context.Context, rows []metering.Row) error
}

// MetricsRecorder is an optional interface for recording pipeline metrics.
type MetricsRecorder interface {
	ObserveLookup(status string, seconds float64)
	ObserveRun(mode, status string, seconds float64)
	AddRowsWritten(n int)
}

// Options tunes a Pipeline.
type Options struct {
	// Concurrency bounds the number of in-flight usage lookups.
	Concurrency int
	// Location is the canonical zone used to turn a date into a log window.
	Location *time.Location
	// Model is the label stamped on every row.
	Model string
	// WriteZeroRows keeps categories that saw logs but no usage as zero rows,
	// so charts do not lose the series for that day.
	WriteZeroRows bool
}

// Pipeline aggregates usage for a day.
type Pipeline struct {
	logs    LogSource
	lookup  usage.Lookup
	rows    RowWriter
	opts    Options
	metrics MetricsRecorder
}

// NewPipeline creates a Pipeline. A non-positive concurrency is treated as 1 and
// a nil location as UTC.
func NewPipeline(logs LogSource, lookup usage.Lookup, rows RowWriter, opts Options) *Pipeline {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Pipeline{logs: logs, lookup: lookup, rows: rows, opts: opts}
}

// SetMetrics sets the optional metrics recorder.
func (p *Pipeline) SetMetrics(m MetricsRecorder) {
	p.metrics = m
}

// Location returns the zone the pipeline buckets days in.
func (p *Pipeline) Location() *time.Location {
	return p.opts.Location
}

// Result is the outcome of one aggregation.
type Result struct {
	Date calendar.Date
	// NoData is set when the day had no log records; nothing was written.
	NoData     bool
	LogCount   int
	Categories map[metering.Category]metering.Row
	Total      metering.Row
}

// Rows returns the category rows sorted by name followed by the total row.
func (r *Result) Rows() []metering.Row {
	if r.NoData {
		return nil
	}
	cats := make([]metering.Category, 0, len(r.Categories))
	for c := range r.Categories {
		cats = append(cats, c)
	}
	sort.Slice(cats, func(i, j int) bool { return cats[i] < cats[j] })

	rows := make([]metering.Row, 0, len(cats)+1)
	for _, c := range cats {
		rows = append(rows, r.Categories[c])
	}
	return append(rows, r.Total)
}

// RunDaily aggregates date and upserts one row per category plus the total row.
// Either every row is written or the run fails with ErrPersistence.
func (p *Pipeline) RunDaily(ctx context.Context, date calendar.Date) (*Result, error) {
	return p.run(ctx, date, true)
}

// Estimate aggregates date without writing anything.
func (p *Pipeline) Estimate(ctx context.Context, date calendar.Date) (*Result, error) {
	return p.run(ctx, date, false)
}

func (p *Pipeline) run(ctx context.Context, date calendar.Date, persist bool) (res *Result, err error) {
	mode := "estimate"
	if persist {
		mode = "daily"
	}
	start := time.Now()
	defer func() {
		if p.metrics == nil {
			return
		}
		status := "ok"
		switch {
		case err != nil:
			status = "error"
		case res.NoData:
			status = "no_data"
		}
		p.metrics.ObserveRun(mode, status, time.Since(start).Seconds())
	}()

	if date.IsZero() {
		return nil, fmt.Errorf("%w: date is required", ErrInvalidArgument)
	}

	from, to := date.Window(p.opts.Location)
	logs, err := p.logs.ListBetween(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("%w: reading logs for %s: %v", ErrDataSource, date, err)
	}
	if len(logs) == 0 {
		slog.Info("no logs for date", "date", date.String(), "mode", mode)
		return &Result{Date: date, NoData: true}, nil
	}

	byConversation, err := p.resolve(ctx, logs)
	if err != nil {
		return nil, err
	}

	t := newTally()
	for _, rec := range logs {
		cat := metering.ParseCategory(rec.Category)
		t.touch(cat)
		for _, u := range byConversation[rec.ConversationID] {
			t.add(cat, u)
		}
	}

	res = p.build(date, len(logs), t)

	if persist {
		rows := res.Rows()
		if err := p.rows.UpsertBatch(ctx, rows); err != nil {
			return nil, fmt.Errorf("%w: writing %d rows for %s: %v", ErrPersistence, len(rows), date, err)
		}
		if p.metrics != nil {
			p.metrics.AddRowsWritten(len(rows))
		}
	}

	slog.Info("aggregation complete",
		"date", date.String(),
		"mode", mode,
		"logs", len(logs),
		"conversations", len(byConversation),
		"categories", len(res.Categories),
		"input_tokens", res.Total.InputTokens,
		"output_tokens", res.Total.OutputTokens,
		"total_price", res.Total.TotalPrice.String(),
	)

	return res, nil
}

// resolve looks up usage once per distinct conversation, at most
// opts.Concurrency at a time. The first failure cancels the remaining lookups
// and is returned as a *LookupError.
func (p *Pipeline) resolve(ctx context.Context, logs []logstore.Record) (map[string][]usage.Record, error) {
	ids := make([]string, 0, len(logs))
	seen := make(map[string]struct{}, len(logs))
	for _, rec := range logs {
		if rec.ConversationID == "" {
			slog.Warn("log record without conversation id", "category", rec.Category, "created_at", rec.CreatedAt)
			continue
		}
		if _, ok := seen[rec.ConversationID]; ok {
			continue
		}
		seen[rec.ConversationID] = struct{}{}
		ids = append(ids, rec.ConversationID)
	}

	var mu sync.Mutex
	out := make(map[string][]usage.Record, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)

	for _, id := range ids {
		g.Go(func() error {
			start := time.Now()
			records, err := p.lookup.Lookup(gctx, id)
			if err == nil {
				for _, r := range records {
					if err = r.Validate(); err != nil {
						break
					}
				}
			}
			if p.metrics != nil {
				status := "ok"
				if err != nil {
					status = "error"
				}
				p.metrics.ObserveLookup(status, time.Since(start).Seconds())
			}
			if err != nil {
				return &LookupError{ConversationID: id, Err: err}
			}

			mu.Lock()
			out[id] = records
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Pipeline) build(date calendar.Date, logCount int, t *tally) *Result {
	res := &Result{
		Date:       date,
		LogCount:   logCount,
		Categories: make(map[metering.Category]metering.Row, len(t.categories)),
	}
	for cat, acc := range t.categories {
		if acc.zero() && !p.opts.WriteZeroRows {
			continue
		}
		res.Categories[cat] = acc.row(date, cat, p.opts.Model)
	}
	res.Total = t.total.row(date, metering.CategoryTotal, p.opts.Model)
	return res
}

// accumulator is a running token count for one category.
type accumulator struct {
	input  int64
	output int64
}

func (a *accumulator) zero() bool {
	return a.input == 0 && a.output == 0
}

func (a *accumulator) row(date calendar.Date, cat metering.Category, model string) metering.Row {
	return metering.NewRow(date, cat, model, a.input, a.output, pricing.MustPrice(a.input, a.output))
}

// tally holds the per-category accumulators of one run. Every increment to a
// category is mirrored on total, so total always equals the sum of categories.
type tally struct {
	categories map[metering.Category]*accumulator
	total      accumulator
}

func newTally() *tally {
	return &tally{categories: make(map[metering.Category]*accumulator)}
}

func (t *tally) touch(cat metering.Category) *accumulator {
	acc, ok := t.categories[cat]
	if !ok {
		acc = &accumulator{}
		t.categories[cat] = acc
	}
	return acc
}

func (t *tally) add(cat metering.Category, u usage.Record) {
	acc := t.touch(cat)
	acc.input += u.PromptTokens
	acc.output += u.CompletionTokens
	t.total.input += u.PromptTokens
	t.total.output += u.CompletionTokens
}
