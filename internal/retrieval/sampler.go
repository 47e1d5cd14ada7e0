package retrieval

import (
	"context"
	"errors"
	"fmt"

	"github.com/qepting91/termfreq/internal/collector"
	"github.com/qepting91/termfreq/internal/domain"
	"github.com/qepting91/termfreq/internal/sampling"
	"github.com/qepting91/termfreq/internal/storage"
)

// Sampled fetches every comment for term inside each window of plan and
// stores them as one sampled collection. It refuses to run when a sampled
// collection already exists, so a term is never silently re-sampled with a
// different plan. Nothing is written unless every window was visited.
func (p *Paginator) Sampled(ctx context.Context, term string, plan sampling.Plan) (*domain.Collection, error) {
	log := p.logger.With("term", term, "mode", domain.ModeSampled)

	exists, err := p.cache.Exists(term, domain.ModeSampled)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%q: %w", term, storage.ErrSampleExists)
	}

	coll := &domain.Collection{
		Term:        term,
		Mode:        domain.ModeSampled,
		RunID:       p.runID,
		Seed:        plan.Seed,
		DaysPerYear: plan.DaysPerYear,
		Intervals:   len(plan.Windows),
	}

	for _, w := range plan.Windows {
		comments, requests, err := p.window(ctx, term, w)
		coll.Comments = append(coll.Comments, comments...)
		coll.Requests += requests
		if errors.Is(err, collector.ErrRetriesExhausted) {
			coll.FailedIntervals++
			log.Warn("Abandoning interval after max retries", "start", w.Start, "end", w.End, "err", err)
			continue
		}
		if err != nil {
			return nil, err
		}
	}

	if err := p.cache.Save(coll); err != nil {
		return nil, fmt.Errorf("save sample %q: %w", term, err)
	}
	log.Info("Term sampled", "intervals", coll.Intervals, "failed", coll.FailedIntervals,
		"requests", coll.Requests, "comments", len(coll.Comments))
	return coll, nil
}

// window walks one inclusive window oldest first until a short page. Comments
// outside the window are dropped so adjacent windows never share one.
func (p *Paginator) window(ctx context.Context, term string, w domain.Window) ([]domain.Comment, int, error) {
	var out []domain.Comment
	requests := 0
	start := w.Start
	for {
		page, err := p.searcher.Search(ctx, domain.Query{
			Term:   term,
			After:  start - 1,
			Before: w.End + 1,
			Limit:  p.settings.PageSize,
			Sort:   domain.SortAsc,
		})
		if err != nil {
			return out, requests, err
		}
		requests++
		for _, c := range page {
			if w.Contains(c.CreatedUTC) {
				out = append(out, c)
			}
		}
		if len(page) < p.settings.PageSize {
			return out, requests, nil
		}

		next := newest(page) + 1
		if next <= start {
			return out, requests, fmt.Errorf("page for %q did not move past %d", term, start)
		}
		if next > w.End {
			return out, requests, nil
		}
		start = next
	}
}
