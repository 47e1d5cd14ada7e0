package batch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qepting91/termfreq/internal/classify"
	"github.com/qepting91/termfreq/internal/collector"
	"github.com/qepting91/termfreq/internal/domain"
	"github.com/qepting91/termfreq/internal/estimate"
	"github.com/qepting91/termfreq/internal/ingest"
	"github.com/qepting91/termfreq/internal/retrieval"
	"github.com/qepting91/termfreq/internal/sampling"
	"github.com/qepting91/termfreq/internal/storage"
)

const testCutoff = 1609459199

var (
	dirtbag   = domain.Term{Prefix: "dirt", Suffix: "bag"}
	slimeball = domain.Term{Prefix: "slime", Suffix: "ball"}
	scumbag   = domain.Term{Prefix: "scum", Suffix: "bag"}
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newDriver(t *testing.T, s domain.Searcher, terms ...domain.Term) *Driver {
	t.Helper()
	dir := t.TempDir()
	cache := &storage.Cache{
		ExhaustiveDir: filepath.Join(dir, "comment_data"),
		SampledDir:    filepath.Join(dir, "sampled_comment_data"),
	}
	settings := retrieval.Settings{Cutoff: testCutoff, PageSize: 100, MaxRequests: 400}
	return &Driver{
		Terms:     terms,
		Paginator: retrieval.NewPaginator(s, cache, settings, quietLogger()),
		Cache:     cache,
		Estimator: estimate.New(cache, classify.Default()),
		Workers:   2,
		Logger:    quietLogger(),
	}
}

func openResults(t *testing.T) *storage.Results {
	t.Helper()
	r, err := storage.OpenResults(filepath.Join(t.TempDir(), "counts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestFetchEveryTerm(t *testing.T) {
	mock := collector.NewMockClient()
	d := newDriver(t, mock, dirtbag, slimeball, scumbag)

	require.NoError(t, d.Fetch(context.Background()))

	for _, term := range d.Terms {
		coll, err := d.Cache.Load(term.String(), domain.ModeExhaustive)
		require.NoError(t, err, term.String())
		assert.True(t, coll.Complete, term.String())
		assert.NotEmpty(t, coll.Comments, term.String())
	}

	// a second pass is served entirely from the cache
	before := len(mock.Calls())
	require.NoError(t, d.Fetch(context.Background()))
	assert.Len(t, mock.Calls(), before)
}

func TestFetchCancelled(t *testing.T) {
	d := newDriver(t, collector.NewMockClient(), dirtbag, slimeball)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, d.Fetch(ctx), context.Canceled)
}

func TestSampleSelectsLargeOrCappedTerms(t *testing.T) {
	mock := collector.NewMockClientWith(
		domain.Comment{Body: "a dirtbag", CreatedUTC: 1262347200, Subreddit: "x"},
		domain.Comment{Body: "a slimeball", CreatedUTC: 1262347200, Subreddit: "x"},
	)
	d := newDriver(t, mock, dirtbag, slimeball, scumbag, domain.Term{Prefix: "slime", Suffix: "bag"})

	big := make([]domain.Comment, 5)
	for i := range big {
		big[i] = domain.Comment{Body: "dirtbag", CreatedUTC: int64(i + 1)}
	}
	require.NoError(t, d.Cache.Save(&domain.Collection{Term: "dirtbag", Mode: domain.ModeExhaustive, Complete: true, Comments: big}))
	require.NoError(t, d.Cache.Save(&domain.Collection{Term: "slimeball", Mode: domain.ModeExhaustive, Capped: true, Comments: big[:1]}))
	require.NoError(t, d.Cache.Save(&domain.Collection{Term: "scumbag", Mode: domain.ModeExhaustive, Complete: true, Comments: big[:2]}))
	// slimebag has no cache at all

	plan, err := sampling.Intervals(1, 2010, 2010, 365)
	require.NoError(t, err)

	sampled, err := d.Sample(context.Background(), plan, 5)
	require.NoError(t, err)
	assert.Equal(t, []domain.Term{dirtbag, slimeball}, sampled)

	coll, err := d.Cache.Load("dirtbag", domain.ModeSampled)
	require.NoError(t, err)
	assert.Equal(t, 365, coll.DaysPerYear)
	assert.Equal(t, 365, coll.Intervals)

	exists, err := d.Cache.Exists("scumbag", domain.ModeSampled)
	require.NoError(t, err)
	assert.False(t, exists)

	// already-sampled terms are skipped on the next run
	again, err := d.Sample(context.Background(), plan, 5)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func saveDouchebag(t *testing.T, d *Driver) {
	t.Helper()
	require.NoError(t, d.Cache.Save(&domain.Collection{
		Term:     "douchebag",
		Mode:     domain.ModeExhaustive,
		Complete: true,
		Comments: []domain.Comment{
			{Body: "what a douchebag", CreatedUTC: 5, Subreddit: "AskReddit"},
			{Body: "see https://example.com/douchebag", CreatedUTC: 4, Subreddit: "AskReddit"},
			{Body: "Douchebag move, honestly", CreatedUTC: 3, Subreddit: "funny"},
			{Body: "over at /r/douchebag", CreatedUTC: 2, Subreddit: "pics"},
			{Body: "douchebag", CreatedUTC: 1, Subreddit: "copypasta"},
		},
	}))
}

func saveSampled(t *testing.T, d *Driver, term string, valid int) {
	t.Helper()
	comments := make([]domain.Comment, valid)
	for i := range comments {
		comments[i] = domain.Comment{Body: fmt.Sprintf("such a %s", term), CreatedUTC: int64(i), Subreddit: "AskReddit"}
	}
	require.NoError(t, d.Cache.Save(&domain.Collection{Term: term, Mode: domain.ModeSampled, DaysPerYear: 30, Comments: comments}))
}

func TestCountOverall(t *testing.T) {
	douchebag := domain.Term{Prefix: "douche", Suffix: "bag"}
	d := newDriver(t, collector.NewMockClient(), douchebag, dirtbag, slimeball)
	saveDouchebag(t, d)
	saveSampled(t, d, "slimeball", 300)

	results := openResults(t)
	var out bytes.Buffer
	require.NoError(t, d.Count(context.Background(), &out, CountOptions{Results: results}))

	assert.Equal(t, "pre,suff,count\ndouche,bag,2\nslime,ball,3652.5\n", out.String())

	row, err := results.Lookup(context.Background(), "slime", "ball")
	require.NoError(t, err)
	assert.Equal(t, "sampled", row.Kind)
	assert.Equal(t, 3652.5, row.Value)
	assert.NotEmpty(t, row.RunID)

	_, err = results.Lookup(context.Background(), "dirt", "bag")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCountRaw(t *testing.T) {
	douchebag := domain.Term{Prefix: "douche", Suffix: "bag"}
	d := newDriver(t, collector.NewMockClient(), douchebag)
	saveDouchebag(t, d)

	var out bytes.Buffer
	require.NoError(t, d.Count(context.Background(), &out, CountOptions{Raw: true}))
	assert.Equal(t, "pre,suff,count\ndouche,bag,5\n", out.String())
}

func TestCountByForum(t *testing.T) {
	douchebag := domain.Term{Prefix: "douche", Suffix: "bag"}
	d := newDriver(t, collector.NewMockClient(), douchebag)
	saveDouchebag(t, d)

	results := openResults(t)
	var out bytes.Buffer
	require.NoError(t, d.Count(context.Background(), &out, CountOptions{ByForum: true, Results: results}))
	assert.Equal(t, "pre,suff,sub,count\ndouche,bag,AskReddit,1\ndouche,bag,funny,1\n", out.String())

	forums, err := results.Forums(context.Background(), "douche", "bag")
	require.NoError(t, err)
	assert.Len(t, forums, 2)
}

func TestCountByForumWithMissingForum(t *testing.T) {
	douchebag := domain.Term{Prefix: "douche", Suffix: "bag"}
	d := newDriver(t, collector.NewMockClient(), douchebag)
	require.NoError(t, d.Cache.Save(&domain.Collection{
		Term:     "douchebag",
		Mode:     domain.ModeExhaustive,
		Complete: true,
		Comments: []domain.Comment{
			{Body: "what a douchebag", CreatedUTC: 2, Subreddit: ""},
			{Body: "such a douchebag", CreatedUTC: 1, Subreddit: "pics"},
		},
	}))

	results := openResults(t)
	var out bytes.Buffer
	require.NoError(t, d.Count(context.Background(), &out, CountOptions{ByForum: true, Results: results}))
	assert.Equal(t, "pre,suff,sub,count\ndouche,bag,[unknown],1\ndouche,bag,pics,1\n", out.String())

	forums, err := results.Forums(context.Background(), "douche", "bag")
	require.NoError(t, err)
	require.Len(t, forums, 2)
	assert.Equal(t, estimate.UnknownForum, forums[0].Forum)
}

func TestCountRejectsRawByForum(t *testing.T) {
	d := newDriver(t, collector.NewMockClient())
	err := d.Count(context.Background(), io.Discard, CountOptions{Raw: true, ByForum: true})
	assert.ErrorIs(t, err, ErrRawByForum)
}

func TestImportNgrams(t *testing.T) {
	v, err := ingest.LoadVocabulary("")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "2grams.tsv")
	data := "dirtbag\t1990,3,2\t1991,4,1\n" +
		"dirtbag_NOUN\t1990,3,2\n" +
		"slimeball\t2000,10,1\n" +
		"dirtbag\t2005,1,1\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	results := openResults(t)
	stats, err := ImportNgrams(context.Background(), path, v, results, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Tagged)
	assert.Equal(t, 3, stats.Parsed)

	row, err := results.Lookup(context.Background(), "dirt", "bag", "ngram")
	require.NoError(t, err)
	assert.Equal(t, 8.0, row.Value)

	rows, err := results.Overall(context.Background(), "ngram")
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}
