package retrieval

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qepting91/termfreq/internal/collector"
	"github.com/qepting91/termfreq/internal/domain"
	"github.com/qepting91/termfreq/internal/storage"
)

const testCutoff = 1_000_000

func newTestCache(t *testing.T) *storage.Cache {
	t.Helper()
	dir := t.TempDir()
	return &storage.Cache{
		ExhaustiveDir: filepath.Join(dir, "comment_data"),
		SampledDir:    filepath.Join(dir, "sampled_comment_data"),
	}
}

// corpus returns n comments for term, one per second ending at newest
func corpus(term string, n int, newest int64) []domain.Comment {
	out := make([]domain.Comment, n)
	for i := range out {
		out[i] = domain.Comment{
			Body:       fmt.Sprintf("comment %d about %s", i, term),
			CreatedUTC: newest - int64(i),
			Subreddit:  "test",
		}
	}
	return out
}

func testSettings() Settings {
	return Settings{Cutoff: testCutoff, Floor: 0, PageSize: 100, MaxRequests: 400}
}

func TestExhaustiveWalksBackwardUntilShortPage(t *testing.T) {
	mock := collector.NewMockClientWith(corpus("slimeball", 250, testCutoff)...)
	cache := newTestCache(t)
	p := NewPaginator(mock, cache, testSettings(), nil)

	coll, err := p.Exhaustive(context.Background(), "slimeball")
	require.NoError(t, err)
	assert.Len(t, coll.Comments, 250)
	assert.True(t, coll.Complete)
	assert.False(t, coll.Capped)
	assert.Equal(t, 3, coll.Requests)
	assert.Equal(t, p.RunID(), coll.RunID)

	calls := mock.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, int64(testCutoff+1), calls[0].Before)
	assert.Equal(t, int64(testCutoff-99), calls[1].Before)
	assert.Equal(t, int64(testCutoff-199), calls[2].Before)
	for _, q := range calls {
		assert.Equal(t, domain.SortDesc, q.Sort)
		assert.Equal(t, 100, q.Limit)
		assert.Equal(t, int64(0), q.After)
	}

	// windows never overlap: every comment is retrieved once
	seen := make(map[int64]bool)
	for _, c := range coll.Comments {
		assert.False(t, seen[c.CreatedUTC])
		seen[c.CreatedUTC] = true
	}

	stored, err := cache.Load("slimeball", domain.ModeExhaustive)
	require.NoError(t, err)
	assert.Len(t, stored.Comments, 250)
	assert.True(t, stored.Complete)
}

func TestExhaustiveIsIdempotentOnCompleteCache(t *testing.T) {
	cache := newTestCache(t)
	first := collector.NewMockClientWith(corpus("dirtbag", 150, testCutoff)...)
	_, err := NewPaginator(first, cache, testSettings(), nil).Exhaustive(context.Background(), "dirtbag")
	require.NoError(t, err)

	second := collector.NewMockClientWith(corpus("dirtbag", 150, testCutoff)...)
	coll, err := NewPaginator(second, cache, testSettings(), nil).Exhaustive(context.Background(), "dirtbag")
	require.NoError(t, err)
	assert.Len(t, coll.Comments, 150)
	assert.Empty(t, second.Calls())
}

func TestExhaustiveNoCallsWhenCursorAtFloor(t *testing.T) {
	cache := newTestCache(t)
	require.NoError(t, cache.Save(&domain.Collection{
		Term:     "scumbag",
		Mode:     domain.ModeExhaustive,
		Cursor:   500,
		Comments: corpus("scumbag", 3, 503),
	}))

	settings := testSettings()
	settings.Floor = 500
	mock := collector.NewMockClientWith()
	coll, err := NewPaginator(mock, cache, settings, nil).Exhaustive(context.Background(), "scumbag")
	require.NoError(t, err)
	assert.Len(t, coll.Comments, 3)
	assert.Empty(t, mock.Calls())
}

func TestExhaustiveStopsAtRequestCap(t *testing.T) {
	settings := testSettings()
	settings.MaxRequests = 2
	cache := newTestCache(t)
	mock := collector.NewMockClientWith(corpus("douchebag", 1000, testCutoff)...)

	coll, err := NewPaginator(mock, cache, settings, nil).Exhaustive(context.Background(), "douchebag")
	require.NoError(t, err)
	assert.Len(t, coll.Comments, 200)
	assert.True(t, coll.Capped)
	assert.False(t, coll.Complete)
	assert.Len(t, mock.Calls(), 2)

	// a capped cache is not extended by later runs
	again := collector.NewMockClientWith(corpus("douchebag", 1000, testCutoff)...)
	_, err = NewPaginator(again, cache, settings, nil).Exhaustive(context.Background(), "douchebag")
	require.NoError(t, err)
	assert.Empty(t, again.Calls())
}

func TestExhaustiveAbortKeepsPartialAndResumes(t *testing.T) {
	cache := newTestCache(t)
	comments := corpus("weasel", 250, testCutoff)

	failing := collector.NewMockClientWith(comments...)
	calls := 0
	failing.Fail = func(q domain.Query) error {
		calls++
		if calls > 1 {
			return fmt.Errorf("wrapped: %w", collector.ErrRetriesExhausted)
		}
		return nil
	}

	coll, err := NewPaginator(failing, cache, testSettings(), nil).Exhaustive(context.Background(), "weasel")
	require.NoError(t, err, "exhausted retries degrade, they do not fail")
	assert.Len(t, coll.Comments, 100)
	assert.False(t, coll.Complete)

	stored, err := cache.Load("weasel", domain.ModeExhaustive)
	require.NoError(t, err)
	require.Len(t, stored.Comments, 100)
	assert.Equal(t, int64(testCutoff-100), stored.Cursor)

	healthy := collector.NewMockClientWith(comments...)
	coll, err = NewPaginator(healthy, cache, testSettings(), nil).Exhaustive(context.Background(), "weasel")
	require.NoError(t, err)
	assert.Len(t, coll.Comments, 250)
	assert.True(t, coll.Complete)
	require.NotEmpty(t, healthy.Calls())
	assert.Equal(t, int64(testCutoff-99), healthy.Calls()[0].Before)
}

func TestExhaustiveReturnsContextErrors(t *testing.T) {
	cache := newTestCache(t)
	mock := collector.NewMockClientWith(corpus("rat", 10, testCutoff)...)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewPaginator(mock, cache, testSettings(), nil).Exhaustive(ctx, "rat")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExhaustiveEmptyResultIsComplete(t *testing.T) {
	cache := newTestCache(t)
	mock := collector.NewMockClientWith()

	coll, err := NewPaginator(mock, cache, testSettings(), nil).Exhaustive(context.Background(), "puffinwit")
	require.NoError(t, err)
	assert.Empty(t, coll.Comments)
	assert.True(t, coll.Complete)
	assert.Len(t, mock.Calls(), 1)
}
