// Package estimate turns a cached comment collection into an occurrence
// count for its term. Counts from sampled collections are scaled up to a
// full-year estimate; exhaustive counts are exact, or a lower bound when
// the retrieval was capped or abandoned.
package estimate

import (
	"fmt"
	"strconv"

	"github.com/qepting91/termfreq/internal/classify"
	"github.com/qepting91/termfreq/internal/domain"
	"github.com/qepting91/termfreq/internal/sampling"
)

// Kind labels how an estimate was produced
type Kind string

const (
	KindExact   Kind = "exact"
	KindCapped  Kind = "capped"
	KindSampled Kind = "sampled"
	KindRaw     Kind = "raw"

	// KindNgram rows come from an n-gram corpus import, not from comments
	KindNgram Kind = "ngram"
)

// UnknownForum groups comments whose forum was not returned
const UnknownForum = "[unknown]"

// CountKinds are the kinds a filtered estimate can have
var CountKinds = []Kind{KindExact, KindCapped, KindSampled}

type Estimate struct {
	Term  string
	Kind  Kind
	Value float64
}

// Format renders Value as an integer for exact, capped and raw counts and
// as the shortest decimal for sampled ones.
func (e Estimate) Format() string {
	return FormatValue(e.Kind, e.Value)
}

func FormatValue(k Kind, v float64) string {
	if k == KindSampled {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strconv.FormatInt(int64(v), 10)
}

// Loader returns the preferred cached collection for a term
type Loader interface {
	LoadPreferred(term string) (*domain.Collection, error)
}

type Estimator struct {
	loader     Loader
	classifier *classify.Classifier
}

func New(loader Loader, cl *classify.Classifier) *Estimator {
	return &Estimator{loader: loader, classifier: cl}
}

// Estimate counts valid occurrences of term, scaled if the cached
// collection is sampled.
func (e *Estimator) Estimate(term string) (Estimate, error) {
	coll, err := e.loader.LoadPreferred(term)
	if err != nil {
		return Estimate{}, err
	}
	return Count(coll, e.classifier)
}

// Raw counts every retrieved comment without filtering or scaling. Only
// useful for debugging and for picking terms to sample.
func (e *Estimator) Raw(term string) (Estimate, error) {
	coll, err := e.loader.LoadPreferred(term)
	if err != nil {
		return Estimate{}, err
	}
	return Estimate{Term: term, Kind: KindRaw, Value: float64(len(coll.Comments))}, nil
}

// ByForum is Estimate grouped by source forum
func (e *Estimator) ByForum(term string) (map[string]float64, Kind, error) {
	coll, err := e.loader.LoadPreferred(term)
	if err != nil {
		return nil, "", err
	}
	return CountByForum(coll, e.classifier)
}

// Count applies the classifier and scaling to one collection
func Count(coll *domain.Collection, cl *classify.Classifier) (Estimate, error) {
	kind, err := kindOf(coll)
	if err != nil {
		return Estimate{}, err
	}
	n := 0
	for _, c := range coll.Comments {
		if cl.Valid(c, coll.Term) {
			n++
		}
	}
	return Estimate{Term: coll.Term, Kind: kind, Value: scale(coll, n)}, nil
}

func CountByForum(coll *domain.Collection, cl *classify.Classifier) (map[string]float64, Kind, error) {
	kind, err := kindOf(coll)
	if err != nil {
		return nil, "", err
	}
	perForum := make(map[string]int)
	for _, c := range coll.Comments {
		if !cl.Valid(c, coll.Term) {
			continue
		}
		forum := c.Subreddit
		if forum == "" {
			forum = UnknownForum
		}
		perForum[forum]++
	}
	counts := make(map[string]float64, len(perForum))
	for forum, n := range perForum {
		counts[forum] = scale(coll, n)
	}
	return counts, kind, nil
}

func kindOf(coll *domain.Collection) (Kind, error) {
	switch coll.Mode {
	case domain.ModeSampled:
		if coll.DaysPerYear <= 0 {
			return "", fmt.Errorf("sampled collection %q has no days per year", coll.Term)
		}
		return KindSampled, nil
	case domain.ModeExhaustive:
		if coll.Complete {
			return KindExact, nil
		}
		return KindCapped, nil
	default:
		return "", fmt.Errorf("collection %q has unknown mode %q", coll.Term, coll.Mode)
	}
}

func scale(coll *domain.Collection, n int) float64 {
	if coll.Mode == domain.ModeSampled {
		return sampling.Extrapolate(n, coll.DaysPerYear)
	}
	return float64(n)
}
