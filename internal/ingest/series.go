package ingest

import (
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/basekick-labs/lpstream/internal/metrics"
	"github.com/basekick-labs/lpstream/pkg/models"
)

// DefaultMaxSeries bounds the memory a SeriesTracker may use.
const DefaultMaxSeries = 1_000_000

// SeriesTracker counts distinct series (measurement plus sorted tag set)
// across everything fed through it. Series are remembered by their xxhash
// digest. Once maxSeries distinct series are known, new ones are no longer
// recorded and Saturated reports true.
type SeriesTracker struct {
	mu        sync.Mutex
	seen      map[uint64]struct{}
	maxSeries int
	saturated bool
}

// NewSeriesTracker creates a tracker. maxSeries <= 0 selects DefaultMaxSeries.
func NewSeriesTracker(maxSeries int) *SeriesTracker {
	if maxSeries <= 0 {
		maxSeries = DefaultMaxSeries
	}
	return &SeriesTracker{
		seen:      make(map[uint64]struct{}),
		maxSeries: maxSeries,
	}
}

// Observe records the series of rec and reports whether it was new.
func (t *SeriesTracker) Observe(rec *models.Record) bool {
	h := xxhash.Sum64String(rec.SeriesKey())

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.seen[h]; ok {
		return false
	}
	if len(t.seen) >= t.maxSeries {
		t.saturated = true
		return false
	}
	t.seen[h] = struct{}{}
	metrics.Get().SetSeriesDistinct(int64(len(t.seen)))
	return true
}

// Count returns the number of distinct series seen.
func (t *SeriesTracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.seen)
}

// Saturated reports whether series have been dropped because of the cap.
func (t *SeriesTracker) Saturated() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.saturated
}
