package aggregator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"pumpbridge/internal/models"

	"go.uber.org/zap"
)

var ErrUnsupportedAttribute = errors.New("attribute cannot be aggregated")

// Granularity is the length of one aggregation period.
type Granularity int

const (
	ByDay Granularity = iota
	ByMonth
)

func (g Granularity) String() string {
	if g == ByMonth {
		return "month"
	}
	return "day"
}

// Semantics selects how consecutive readings turn into a period total.
type Semantics int

const (
	// Counter is a monotonic totalizer; a drop is a reset and becomes the new basis.
	Counter Semantics = iota
	// Gauge is a noisy level; a rise above the refill threshold becomes the new basis.
	Gauge
)

const (
	defaultDayPeriods   = 7
	defaultMonthPeriods = 4
)

// SemanticsFor returns how a history column is aggregated.
func SemanticsFor(column string) (Semantics, error) {
	switch {
	case strings.HasPrefix(column, models.AttrGrandTotalizer.Column()):
		return Counter, nil
	case column == models.AttrTankLevel.Column():
		return Gauge, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrUnsupportedAttribute, column)
}

// Period is the half-open interval (Start, End].
type Period struct {
	Start time.Time
	End   time.Time
}

func (p Period) contains(t time.Time) bool {
	return t.After(p.Start) && !t.After(p.End)
}

// PeriodTotal is one output row.
type PeriodTotal struct {
	Period
	Total float64
}

// Label is the timestamp a chart shows for the row: the start of a month, the end of a day.
func (p PeriodTotal) Label(g Granularity) time.Time {
	if g == ByMonth {
		return p.Start
	}
	return p.End
}

// Periods returns n+1 consecutive periods ending with the one containing now in loc.
// The first period only provides the reference reading.
func Periods(now time.Time, loc *time.Location, g Granularity, n int) []Period {
	local := now.In(loc)
	y, m, d := local.Date()

	out := make([]Period, 0, n+1)
	for k := 0; k <= n; k++ {
		back := n - k
		var start, end time.Time
		if g == ByMonth {
			start = time.Date(y, m-time.Month(back), 1, 0, 0, 0, 0, loc)
			end = time.Date(y, m-time.Month(back)+1, 1, 0, 0, 0, 0, loc)
		} else {
			// one second before local midnight
			start = time.Date(y, m, d-back, 0, 0, 0, 0, loc).Add(-time.Second)
			end = time.Date(y, m, d-back+1, 0, 0, 0, 0, loc).Add(-time.Second)
		}
		out = append(out, Period{Start: start, End: end})
	}
	return out
}

type accumulator struct {
	sem       Semantics
	threshold float64
	last      *float64
}

func (a *accumulator) reference(v float64) {
	a.last = &v
}

// period sums one period's readings. The basis carries over to the next call.
func (a *accumulator) period(values []float64) float64 {
	var total float64
	for _, v := range values {
		v := v
		if a.last == nil {
			a.last = &v
			continue
		}
		delta := v - *a.last
		switch a.sem {
		case Counter:
			if delta > 0 {
				total += delta
			}
		case Gauge:
			if delta <= a.threshold {
				total += delta
			}
		}
		a.last = &v
	}
	return total
}

// Deltas computes signed per-period totals for readings already split into periods.
// reference is the reading before the first period, or nil when there is none.
func Deltas(sem Semantics, refillThreshold float64, reference *float64, periods [][]float64) []float64 {
	acc := &accumulator{sem: sem, threshold: refillThreshold}
	if reference != nil {
		acc.reference(*reference)
	}
	out := make([]float64, len(periods))
	for i, values := range periods {
		out[i] = acc.period(values)
	}
	return out
}

// HistoryReader is the part of the history store the aggregator reads.
type HistoryReader interface {
	LatestAtOrBefore(ctx context.Context, deviceID, column string, at time.Time) (*models.HistoryEntry, error)
	ListRange(ctx context.Context, deviceID, column string, from, to time.Time) ([]models.HistoryEntry, error)
	ListSince(ctx context.Context, deviceID, column string, since time.Time) ([]models.HistoryEntry, error)
}

type Options struct {
	// RefillRatio times the tank's maximum volume is the refill threshold.
	RefillRatio float64
	// RefillFallbackThreshold applies when the maximum volume is unknown.
	RefillFallbackThreshold float64
}

// Request selects one aggregated series.
type Request struct {
	DeviceID    string
	Column      string
	Granularity Granularity
	// Periods defaults to 7 days or 4 months.
	Periods  int
	Location *time.Location
	// MaxVolume is the tank capacity in stored units, zero when unknown.
	MaxVolume float64
}

// Aggregator turns raw history into per-period totals. It only reads.
type Aggregator struct {
	history HistoryReader
	opts    Options
	logger  *zap.Logger
	now     func() time.Time
}

func NewAggregator(history HistoryReader, opts Options, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		history: history,
		opts:    opts,
		logger:  logger,
		now:     time.Now,
	}
}

// RefillThreshold returns the rise that counts as a tank refill.
func (a *Aggregator) RefillThreshold(maxVolume float64) float64 {
	if maxVolume > 0 {
		return maxVolume * a.opts.RefillRatio
	}
	return a.opts.RefillFallbackThreshold
}

// Totals returns one row per period, oldest first. Tank-level totals are reported as
// magnitudes. When no period has a positive total the result is empty.
func (a *Aggregator) Totals(ctx context.Context, req Request) ([]PeriodTotal, error) {
	sem, err := SemanticsFor(req.Column)
	if err != nil {
		return nil, err
	}
	n := req.Periods
	if n <= 0 {
		n = defaultDayPeriods
		if req.Granularity == ByMonth {
			n = defaultMonthPeriods
		}
	}
	loc := req.Location
	if loc == nil {
		loc = time.UTC
	}

	periods := Periods(a.now(), loc, req.Granularity, n)

	var reference *float64
	ref, err := a.history.LatestAtOrBefore(ctx, req.DeviceID, req.Column, periods[0].End)
	if err != nil {
		return nil, err
	}
	if ref != nil {
		if v, ok := a.parse(ref); ok {
			reference = &v
		}
	}

	entries, err := a.history.ListRange(ctx, req.DeviceID, req.Column, periods[0].End, periods[n].End)
	if err != nil {
		return nil, err
	}

	buckets := make([][]float64, n)
	idx := 1
	for i := range entries {
		for idx <= n && !periods[idx].contains(entries[i].Timestamp) {
			idx++
		}
		if idx > n {
			break
		}
		if v, ok := a.parse(&entries[i]); ok {
			buckets[idx-1] = append(buckets[idx-1], v)
		}
	}

	threshold := 0.0
	if sem == Gauge {
		threshold = a.RefillThreshold(req.MaxVolume)
	}
	deltas := Deltas(sem, threshold, reference, buckets)

	out := make([]PeriodTotal, 0, n)
	nonzero := false
	for i, total := range deltas {
		if sem == Gauge && total < 0 {
			total = -total
		}
		if total > 0 {
			nonzero = true
		}
		out = append(out, PeriodTotal{Period: periods[i+1], Total: total})
	}
	if !nonzero {
		return nil, nil
	}
	return out, nil
}

// Raw returns the readings of the last days days in time order.
func (a *Aggregator) Raw(ctx context.Context, deviceID, column string, days int) ([]models.HistoryEntry, error) {
	since := a.now().AddDate(0, 0, -days)
	return a.history.ListSince(ctx, deviceID, column, since)
}

func (a *Aggregator) parse(e *models.HistoryEntry) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(e.Value), 64)
	if err != nil {
		a.logger.Warn("Skipping non-numeric history value",
			zap.String("device_id", e.DeviceID),
			zap.String("attribute", e.Attribute),
			zap.String("value", e.Value),
		)
		return 0, false
	}
	return v, true
}
