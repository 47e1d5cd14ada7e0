// Package batch runs retrieval and counting over the whole term space.
package batch

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/qepting91/termfreq/internal/domain"
	"github.com/qepting91/termfreq/internal/estimate"
	"github.com/qepting91/termfreq/internal/ingest"
	"github.com/qepting91/termfreq/internal/retrieval"
	"github.com/qepting91/termfreq/internal/sampling"
	"github.com/qepting91/termfreq/internal/storage"
)

// ErrRawByForum rejects a per-forum breakdown of unfiltered counts
var ErrRawByForum = errors.New("raw counts cannot be broken down by forum")

// Driver walks Terms in order. Up to Workers terms are in flight at once,
// each owned by a single goroutine; they share the Paginator's Searcher and
// therefore its rate limit.
type Driver struct {
	Terms     []domain.Term
	Paginator *retrieval.Paginator
	Cache     *storage.Cache
	Estimator *estimate.Estimator
	Workers   int
	Logger    *slog.Logger
}

func (d *Driver) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

func (d *Driver) forEachTerm(ctx context.Context, fn func(ctx context.Context, term domain.Term) error) error {
	g, gctx := errgroup.WithContext(ctx)
	workers := d.Workers
	if workers < 1 {
		workers = 1
	}
	g.SetLimit(workers)

	for _, term := range d.Terms {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			return fn(gctx, term)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Fetch retrieves every term exhaustively, resuming from cached cursors.
// Terms that exhaust their retries keep partial data and do not stop the
// batch.
func (d *Driver) Fetch(ctx context.Context) error {
	d.logger().Info("Starting exhaustive fetch", "terms", len(d.Terms), "workers", d.Workers)
	return d.forEachTerm(ctx, func(ctx context.Context, term domain.Term) error {
		if _, err := d.Paginator.Exhaustive(ctx, term.String()); err != nil {
			return fmt.Errorf("fetch %s: %w", term, err)
		}
		return nil
	})
}

// Sample fetches a sampled collection for every term whose exhaustive
// retrieval was capped or found at least threshold comments. Terms with no
// exhaustive cache, or an existing sample, are skipped. It returns the
// terms sampled by this call.
func (d *Driver) Sample(ctx context.Context, plan sampling.Plan, threshold int) ([]domain.Term, error) {
	log := d.logger()
	selected := make([]bool, len(d.Terms))
	index := make(map[domain.Term]int, len(d.Terms))
	for i, t := range d.Terms {
		index[t] = i
	}

	err := d.forEachTerm(ctx, func(ctx context.Context, term domain.Term) error {
		name := term.String()
		coll, err := d.Cache.Load(name, domain.ModeExhaustive)
		if errors.Is(err, storage.ErrNotFound) {
			log.Debug("No exhaustive cache, not sampling", "term", name)
			return nil
		}
		if err != nil {
			return err
		}
		if !coll.Capped && len(coll.Comments) < threshold {
			return nil
		}

		sampled, err := d.Cache.Exists(name, domain.ModeSampled)
		if err != nil {
			return err
		}
		if sampled {
			log.Debug("Already sampled", "term", name)
			return nil
		}

		if _, err := d.Paginator.Sampled(ctx, name, plan); err != nil {
			return fmt.Errorf("sample %s: %w", term, err)
		}
		selected[index[term]] = true
		return nil
	})

	var out []domain.Term
	for i, ok := range selected {
		if ok {
			out = append(out, d.Terms[i])
		}
	}
	return out, err
}

type CountOptions struct {
	// Raw skips the classifier and scaling
	Raw     bool
	ByForum bool
	// Results, when set, has the emitted rows' kinds replaced by them
	Results *storage.Results
}

// Count writes one CSV row per term to w, or one per term and forum. A term
// without any cache is logged and left out.
func (d *Driver) Count(ctx context.Context, w io.Writer, opts CountOptions) error {
	if opts.Raw && opts.ByForum {
		return ErrRawByForum
	}

	var rows []storage.Row
	var err error
	if opts.ByForum {
		rows, err = d.forumRows()
	} else {
		rows, err = d.overallRows(opts.Raw)
	}
	if err != nil {
		return err
	}

	// recorded before printing, so a rejected save leaves stdout empty
	if opts.Results != nil {
		kinds := kindNames(estimate.CountKinds)
		if opts.Raw {
			kinds = []string{string(estimate.KindRaw)}
		}
		if err := opts.Results.Replace(ctx, opts.ByForum, kinds, rows); err != nil {
			return fmt.Errorf("record results: %w", err)
		}
		d.logger().Info("Results recorded", "rows", len(rows), "by_forum", opts.ByForum)
	}

	cw := csv.NewWriter(w)
	header := []string{"pre", "suff", "count"}
	if opts.ByForum {
		header = []string{"pre", "suff", "sub", "count"}
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range rows {
		value := estimate.FormatValue(estimate.Kind(r.Kind), r.Value)
		rec := []string{r.Prefix, r.Suffix, value}
		if opts.ByForum {
			rec = []string{r.Prefix, r.Suffix, r.Forum, value}
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func (d *Driver) overallRows(raw bool) ([]storage.Row, error) {
	runID := retrieval.NewRunID()
	var rows []storage.Row
	for _, term := range d.Terms {
		var est estimate.Estimate
		var err error
		if raw {
			est, err = d.Estimator.Raw(term.String())
		} else {
			est, err = d.Estimator.Estimate(term.String())
		}
		if errors.Is(err, storage.ErrNotFound) {
			d.logger().Warn("No cached comments, skipping", "term", term.String())
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("count %s: %w", term, err)
		}
		rows = append(rows, storage.Row{
			Prefix: term.Prefix,
			Suffix: term.Suffix,
			Kind:   string(est.Kind),
			Value:  est.Value,
			RunID:  runID,
		})
	}
	return rows, nil
}

func (d *Driver) forumRows() ([]storage.Row, error) {
	runID := retrieval.NewRunID()
	var rows []storage.Row
	for _, term := range d.Terms {
		counts, kind, err := d.Estimator.ByForum(term.String())
		if errors.Is(err, storage.ErrNotFound) {
			d.logger().Warn("No cached comments, skipping", "term", term.String())
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("count %s by forum: %w", term, err)
		}

		forums := make([]string, 0, len(counts))
		for f := range counts {
			forums = append(forums, f)
		}
		sort.Strings(forums)
		for _, f := range forums {
			rows = append(rows, storage.Row{
				Prefix: term.Prefix,
				Suffix: term.Suffix,
				Forum:  f,
				Kind:   string(kind),
				Value:  counts[f],
				RunID:  runID,
			})
		}
	}
	return rows, nil
}

// ImportNgrams loads an n-gram count file and replaces the stored n-gram
// rows with its totals. A token listed more than once is summed.
func ImportNgrams(ctx context.Context, path string, v *ingest.Vocabulary, results *storage.Results, logger *slog.Logger) (ingest.NgramStats, error) {
	counts, stats, err := ingest.LoadNgrams(path, v, logger)
	if err != nil {
		return stats, fmt.Errorf("read n-grams: %w", err)
	}

	totals := make(map[domain.Term]int64)
	var order []domain.Term
	for _, nc := range counts {
		if _, ok := totals[nc.Term]; !ok {
			order = append(order, nc.Term)
		}
		totals[nc.Term] += nc.Count
	}

	runID := retrieval.NewRunID()
	rows := make([]storage.Row, 0, len(order))
	for _, t := range order {
		rows = append(rows, storage.Row{
			Prefix: t.Prefix,
			Suffix: t.Suffix,
			Kind:   string(estimate.KindNgram),
			Value:  float64(totals[t]),
			RunID:  runID,
		})
	}
	if err := results.Replace(ctx, false, []string{string(estimate.KindNgram)}, rows); err != nil {
		return stats, fmt.Errorf("record n-grams: %w", err)
	}
	logger.Info("N-grams imported", "terms", len(rows), "parsed", stats.Parsed,
		"tagged", stats.Tagged, "unknown", stats.Unknown)
	return stats, nil
}

func kindNames(kinds []estimate.Kind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}
