package domain

import (
	"context"
	"time"
)

// Term is a prefix+suffix compound being measured
type Term struct {
	Prefix string
	Suffix string
}

func (t Term) String() string {
	return t.Prefix + t.Suffix
}

// Comment is the clean data structure for storage. Only these fields are
// ever kept from an API response.
type Comment struct {
	Body                string `json:"body"`
	CreatedUTC          int64  `json:"created_utc"`
	Permalink           string `json:"permalink"`
	Score               int    `json:"score"`
	Subreddit           string `json:"subreddit"`
	TotalAwardsReceived int    `json:"total_awards_received"`
	Author              string `json:"author"`
}

// Window is an inclusive [Start, End] range of unix seconds
type Window struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

func (w Window) Contains(ts int64) bool {
	return ts >= w.Start && ts <= w.End
}

// Sort order of a search page by creation time
type Sort string

const (
	SortAsc  Sort = "asc"
	SortDesc Sort = "desc"
)

// Query is a single windowed search request. After and Before are exclusive
// bounds, as the remote API treats them.
type Query struct {
	Term   string
	After  int64
	Before int64
	Limit  int
	Sort   Sort
}

// Mode records which retrieval strategy produced a Collection
type Mode string

const (
	ModeExhaustive Mode = "exhaustive"
	ModeSampled    Mode = "sampled"
)

// Collection is the ordered set of comments retrieved for one term, plus the
// state needed to resume or scale it.
type Collection struct {
	Term     string    `json:"term"`
	Mode     Mode      `json:"mode"`
	RunID    string    `json:"run_id,omitempty"`
	Updated  time.Time `json:"updated_at"`
	Comments []Comment `json:"comments"`

	// Exhaustive retrieval. Cursor is the next exclusive "before" bound.
	Cursor   int64 `json:"cursor,omitempty"`
	Requests int   `json:"requests,omitempty"`
	Complete bool  `json:"complete,omitempty"`
	Capped   bool  `json:"capped,omitempty"`

	// Sampled retrieval
	Seed            uint64 `json:"seed,omitempty"`
	DaysPerYear     int    `json:"days_per_year,omitempty"`
	Intervals       int    `json:"intervals,omitempty"`
	FailedIntervals int    `json:"failed_intervals,omitempty"`
}

// Oldest returns the smallest creation time in the collection
func (c *Collection) Oldest() (int64, bool) {
	if len(c.Comments) == 0 {
		return 0, false
	}
	oldest := c.Comments[0].CreatedUTC
	for _, cm := range c.Comments[1:] {
		if cm.CreatedUTC < oldest {
			oldest = cm.CreatedUTC
		}
	}
	return oldest, true
}

// Searcher defines the interface for data fetching
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Comment, error)
}
