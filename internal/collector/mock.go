package collector

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/qepting91/termfreq/internal/domain"
)

// MockClient implements domain.Searcher over an in-memory corpus. With no
// corpus given it synthesises a deterministic one per term on first use.
type MockClient struct {
	mu         sync.Mutex
	corpus     []domain.Comment
	synthetic  bool
	seen       map[string]bool
	calls      []domain.Query
	perTerm    int
	syntheticN int64

	// Fail, when set, is consulted before each query
	Fail func(q domain.Query) error
}

func NewMockClient() *MockClient {
	return &MockClient{synthetic: true, seen: make(map[string]bool), perTerm: 250}
}

// NewMockClientWith serves exactly the given comments
func NewMockClientWith(comments ...domain.Comment) *MockClient {
	corpus := make([]domain.Comment, len(comments))
	copy(corpus, comments)
	return &MockClient{corpus: corpus, seen: make(map[string]bool)}
}

func (mc *MockClient) Search(ctx context.Context, q domain.Query) ([]domain.Comment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.calls = append(mc.calls, q)
	if mc.Fail != nil {
		if err := mc.Fail(q); err != nil {
			return nil, err
		}
	}

	term := strings.ToLower(q.Term)
	if mc.synthetic && !mc.seen[term] {
		mc.corpus = append(mc.corpus, mc.synthesise(term)...)
	}
	mc.seen[term] = true

	var hits []domain.Comment
	for _, c := range mc.corpus {
		if c.CreatedUTC <= q.After || c.CreatedUTC >= q.Before {
			continue
		}
		if !strings.Contains(strings.ToLower(c.Body), term) {
			continue
		}
		hits = append(hits, c)
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if q.Sort == domain.SortAsc {
			return hits[i].CreatedUTC < hits[j].CreatedUTC
		}
		return hits[i].CreatedUTC > hits[j].CreatedUTC
	})

	limit := q.Limit
	if limit <= 0 || limit > MaxPageSize {
		limit = MaxPageSize
	}
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Calls returns every query received so far
func (mc *MockClient) Calls() []domain.Query {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	out := make([]domain.Query, len(mc.calls))
	copy(out, mc.calls)
	return out
}

var mockForums = []string{"AskReddit", "funny", "gaming", "politics", "copypasta", "pics"}

func (mc *MockClient) synthesise(term string) []domain.Comment {
	h := fnv.New64a()
	h.Write([]byte(term))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	start := time.Date(2006, 1, 1, 0, 0, 0, 0, time.UTC).Unix()
	end := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC).Unix()

	out := make([]domain.Comment, 0, mc.perTerm)
	for i := 0; i < mc.perTerm; i++ {
		var body string
		switch rng.Intn(5) {
		case 0:
			body = fmt.Sprintf("see https://example.com/%s for details", term)
		case 1:
			body = fmt.Sprintf("ask over at /r/%s", term)
		default:
			body = fmt.Sprintf("what a %s, honestly", term)
		}
		mc.syntheticN++
		out = append(out, domain.Comment{
			Body:       body,
			CreatedUTC: start + rng.Int63n(end-start),
			Permalink:  fmt.Sprintf("/r/mock/comments/%s/%d/", term, mc.syntheticN),
			Score:      rng.Intn(500),
			Subreddit:  mockForums[rng.Intn(len(mockForums))],
			Author:     "simulated_user",
		})
	}
	return out
}
