// Package sampling builds the reproducible set of day-long windows used to
// estimate counts for terms too frequent to fetch exhaustively.
package sampling

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/qepting91/termfreq/internal/domain"
)

const SecondsPerDay = 24 * 60 * 60

// Plan is an ordered list of sampled windows and the parameters that
// produced it. The same parameters always yield the same windows.
type Plan struct {
	Seed        uint64
	FirstYear   int
	LastYear    int
	DaysPerYear int
	Windows     []domain.Window
}

// Extrapolate scales n occurrences seen on daysPerYear sampled days of each
// year to a full-period estimate.
func Extrapolate(n, daysPerYear int) float64 {
	return float64(n) * 365.25 / float64(daysPerYear)
}

// Intervals draws daysPerYear distinct days from each year in
// [firstYear, lastYear], uniformly and without replacement. Windows are
// grouped by year, ascending; within a year they keep draw order.
func Intervals(seed uint64, firstYear, lastYear, daysPerYear int) (Plan, error) {
	if firstYear > lastYear {
		return Plan{}, fmt.Errorf("first year %d after last year %d", firstYear, lastYear)
	}
	if daysPerYear < 1 || daysPerYear > 365 {
		return Plan{}, fmt.Errorf("days per year must be in [1, 365], got %d", daysPerYear)
	}

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	plan := Plan{
		Seed:        seed,
		FirstYear:   firstYear,
		LastYear:    lastYear,
		DaysPerYear: daysPerYear,
		Windows:     make([]domain.Window, 0, (lastYear-firstYear+1)*daysPerYear),
	}

	for year := firstYear; year <= lastYear; year++ {
		base := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
		for _, offset := range choose(rng, DaysInYear(year), daysPerYear) {
			start := base.AddDate(0, 0, offset).Unix()
			plan.Windows = append(plan.Windows, domain.Window{
				Start: start,
				End:   start + SecondsPerDay - 1,
			})
		}
	}
	return plan, nil
}

// DaysInYear is 366 for Gregorian leap years, 365 otherwise
func DaysInYear(year int) int {
	if year%4 == 0 && (year%100 != 0 || year%400 == 0) {
		return 366
	}
	return 365
}

// choose returns k distinct values from [0, n) via a partial Fisher-Yates
// shuffle.
func choose(rng *rand.Rand, n, k int) []int {
	pool := make([]int, n)
	for i := range pool {
		pool[i] = i
	}
	for i := 0; i < k; i++ {
		j := i + rng.IntN(n-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:k]
}
