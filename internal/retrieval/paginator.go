// Package retrieval walks the search API for one term at a time, either
// backward from a cutoff until the data runs out, or forward through each
// window of a sampling plan.
//
// Pagination of a single term is strictly sequential: each page moves the
// cursor, and windows never overlap. Different terms may run concurrently
// on separate goroutines as long as they share one rate-limited Searcher.
package retrieval

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"

	"github.com/oklog/ulid/v2"

	"github.com/qepting91/termfreq/internal/collector"
	"github.com/qepting91/termfreq/internal/domain"
	"github.com/qepting91/termfreq/internal/storage"
)

// Settings bound an exhaustive walk
type Settings struct {
	// Cutoff is the newest timestamp considered, inclusive
	Cutoff int64
	// Floor is exclusive: only comments newer than Floor are fetched
	Floor       int64
	PageSize    int
	MaxRequests int
}

type Paginator struct {
	searcher domain.Searcher
	cache    *storage.Cache
	settings Settings
	logger   *slog.Logger
	runID    string
}

func NewPaginator(s domain.Searcher, cache *storage.Cache, settings Settings, logger *slog.Logger) *Paginator {
	if settings.PageSize <= 0 || settings.PageSize > collector.MaxPageSize {
		settings.PageSize = collector.MaxPageSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Paginator{
		searcher: s,
		cache:    cache,
		settings: settings,
		logger:   logger,
		runID:    NewRunID(),
	}
}

// RunID identifies this paginator's run in every collection it writes
func (p *Paginator) RunID() string {
	return p.runID
}

// NewRunID returns a fresh, time-ordered run identifier
func NewRunID() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}

// Exhaustive fetches every comment for term between the floor and the
// cursor, newest first, resuming from the cached collection if there is
// one. The collection is checkpointed after each page.
//
// A term whose requests keep failing is abandoned with a warning; the
// partial collection is returned without error and stays resumable.
func (p *Paginator) Exhaustive(ctx context.Context, term string) (*domain.Collection, error) {
	log := p.logger.With("term", term, "mode", domain.ModeExhaustive)

	coll, err := p.cache.Load(term, domain.ModeExhaustive)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		coll = &domain.Collection{Term: term, Mode: domain.ModeExhaustive, Cursor: p.settings.Cutoff}
	case err != nil:
		return nil, err
	}
	if len(coll.Comments) == 0 && coll.Cursor == 0 && !coll.Complete {
		coll.Cursor = p.settings.Cutoff
	}

	if coll.Complete || coll.Capped || coll.Cursor <= p.settings.Floor {
		log.Debug("Cache already covers term", "comments", len(coll.Comments))
		return coll, nil
	}
	if coll.Requests >= p.settings.MaxRequests {
		log.Debug("Request cap already reached", "requests", coll.Requests)
		return coll, nil
	}

	for {
		page, err := p.searcher.Search(ctx, domain.Query{
			Term:   term,
			After:  p.settings.Floor,
			Before: coll.Cursor + 1,
			Limit:  p.settings.PageSize,
			Sort:   domain.SortDesc,
		})
		if errors.Is(err, collector.ErrRetriesExhausted) {
			log.Warn("Aborting term after max retries", "err", err, "comments", len(coll.Comments))
			return coll, nil
		}
		if err != nil {
			return coll, fmt.Errorf("fetch %q before %d: %w", term, coll.Cursor+1, err)
		}

		coll.Comments = append(coll.Comments, page...)
		coll.Requests++
		coll.RunID = p.runID

		if len(page) < p.settings.PageSize {
			coll.Complete = true
		} else {
			next := oldest(page) - 1
			if next >= coll.Cursor {
				return coll, fmt.Errorf("page for %q did not move below cursor %d", term, coll.Cursor)
			}
			coll.Cursor = next
			if coll.Cursor <= p.settings.Floor {
				coll.Complete = true
			} else if coll.Requests >= p.settings.MaxRequests {
				coll.Capped = true
			}
		}

		if err := p.cache.Save(coll); err != nil {
			return coll, fmt.Errorf("checkpoint %q: %w", term, err)
		}
		if coll.Complete || coll.Capped {
			break
		}
	}

	if coll.Capped {
		log.Info("Request cap reached", "requests", coll.Requests, "comments", len(coll.Comments))
	} else {
		log.Info("Term exhausted", "requests", coll.Requests, "comments", len(coll.Comments))
	}
	return coll, nil
}

func oldest(page []domain.Comment) int64 {
	min := page[0].CreatedUTC
	for _, c := range page[1:] {
		if c.CreatedUTC < min {
			min = c.CreatedUTC
		}
	}
	return min
}

func newest(page []domain.Comment) int64 {
	max := page[0].CreatedUTC
	for _, c := range page[1:] {
		if c.CreatedUTC > max {
			max = c.CreatedUTC
		}
	}
	return max
}
