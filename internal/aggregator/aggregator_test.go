package aggregator

import (
	"context"
	"testing"
	"time"
	_ "time/tzdata"

	"pumpbridge/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memHistory struct {
	entries []models.HistoryEntry
}

func (m *memHistory) add(column string, at time.Time, value string) {
	m.entries = append(m.entries, models.HistoryEntry{
		ID: int64(len(m.entries) + 1), DeviceID: "ABCD1234", Timestamp: at, Attribute: column, Value: value,
	})
}

func (m *memHistory) LatestAtOrBefore(_ context.Context, deviceID, column string, at time.Time) (*models.HistoryEntry, error) {
	var latest *models.HistoryEntry
	for i := range m.entries {
		e := &m.entries[i]
		if e.DeviceID != deviceID || e.Attribute != column || e.Timestamp.After(at) {
			continue
		}
		if latest == nil || !e.Timestamp.Before(latest.Timestamp) {
			latest = e
		}
	}
	return latest, nil
}

func (m *memHistory) ListRange(_ context.Context, deviceID, column string, from, to time.Time) ([]models.HistoryEntry, error) {
	var out []models.HistoryEntry
	for _, e := range m.entries {
		if e.DeviceID == deviceID && e.Attribute == column && e.Timestamp.After(from) && !e.Timestamp.After(to) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memHistory) ListSince(_ context.Context, deviceID, column string, since time.Time) ([]models.HistoryEntry, error) {
	var out []models.HistoryEntry
	for _, e := range m.entries {
		if e.DeviceID == deviceID && e.Attribute == column && !e.Timestamp.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

var testNow = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

func day(d, hour int) time.Time {
	return time.Date(2026, 10, d, hour, 0, 0, 0, time.UTC)
}

func setupAggregator() (*memHistory, *Aggregator) {
	h := &memHistory{}
	a := NewAggregator(h, Options{RefillRatio: 0.10, RefillFallbackThreshold: 25}, zap.NewNop())
	a.now = func() time.Time { return testNow }
	return h, a
}

func ptr(v float64) *float64 { return &v }

func TestDeltas_CounterReset(t *testing.T) {
	got := Deltas(Counter, 0, ptr(100), [][]float64{{140}, {30}, {90}})
	assert.Equal(t, []float64{40, 0, 60}, got)
}

func TestDeltas_Refill(t *testing.T) {
	got := Deltas(Gauge, 100, ptr(500), [][]float64{{510}, {990}, {980}})
	assert.Equal(t, []float64{10, 0, -10}, got)
}

func TestDeltas_NoReference(t *testing.T) {
	// the first reading only sets the basis
	got := Deltas(Counter, 0, nil, [][]float64{{10, 15}, {}, {20}})
	assert.Equal(t, []float64{5, 0, 5}, got)
}

func TestSemanticsFor(t *testing.T) {
	sem, err := SemanticsFor("totalizer_grand")
	require.NoError(t, err)
	assert.Equal(t, Counter, sem)

	sem, err = SemanticsFor("totalizer_grand_well_4")
	require.NoError(t, err)
	assert.Equal(t, Counter, sem)

	sem, err = SemanticsFor("tank_level")
	require.NoError(t, err)
	assert.Equal(t, Gauge, sem)

	_, err = SemanticsFor("battery_voltage")
	assert.ErrorIs(t, err, ErrUnsupportedAttribute)
}

func TestPeriods_DayBoundariesFollowLocalMidnight(t *testing.T) {
	loc, err := time.LoadLocation("America/Chicago")
	require.NoError(t, err)

	// 10:00 local, two days after the spring-forward change
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	periods := Periods(now, loc, ByDay, 2)
	require.Len(t, periods, 3)

	assert.Equal(t, time.Date(2026, 3, 8, 23, 59, 59, 0, loc), periods[0].End)
	assert.Equal(t, time.Date(2026, 3, 9, 23, 59, 59, 0, loc), periods[1].End)
	assert.Equal(t, time.Date(2026, 3, 10, 23, 59, 59, 0, loc), periods[2].End)
	assert.Equal(t, periods[1].End, periods[2].Start)
	// the change day is one hour short
	assert.Equal(t, 23*time.Hour, periods[0].End.Sub(periods[0].Start))
}

func TestPeriods_Months(t *testing.T) {
	periods := Periods(time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), time.UTC, ByMonth, 4)
	require.Len(t, periods, 5)

	assert.Equal(t, time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC), periods[0].End)
	assert.Equal(t, time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC), periods[1].Start)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), periods[4].Start)
	assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), periods[4].End)
}

func TestTotals_Counter(t *testing.T) {
	h, a := setupAggregator()
	h.add("totalizer_grand", day(13, 10), "100")
	h.add("totalizer_grand", day(14, 8), "140")
	h.add("totalizer_grand", day(15, 9), "30")
	h.add("totalizer_grand", day(16, 6), "80")
	h.add("totalizer_grand", day(16, 7), "90")

	totals, err := a.Totals(context.Background(), Request{
		DeviceID: "ABCD1234", Column: "totalizer_grand", Granularity: ByDay, Periods: 3, Location: time.UTC,
	})
	require.NoError(t, err)
	require.Len(t, totals, 3)

	assert.Equal(t, []float64{40, 0, 60}, []float64{totals[0].Total, totals[1].Total, totals[2].Total})
	assert.Equal(t, time.Date(2026, 10, 14, 23, 59, 59, 0, time.UTC), totals[0].Label(ByDay))
	assert.Equal(t, time.Date(2026, 10, 16, 23, 59, 59, 0, time.UTC), totals[2].End)
}

func TestTotals_TankLevelRefillAndFlip(t *testing.T) {
	h, a := setupAggregator()
	h.add("tank_level", day(13, 10), "500")
	h.add("tank_level", day(14, 8), "510")
	h.add("tank_level", day(15, 9), "990")
	h.add("tank_level", day(16, 6), "980")

	totals, err := a.Totals(context.Background(), Request{
		DeviceID: "ABCD1234", Column: "tank_level", Granularity: ByDay, Periods: 3, Location: time.UTC, MaxVolume: 1000,
	})
	require.NoError(t, err)
	require.Len(t, totals, 3)

	// a net drop is reported as a positive consumption
	assert.Equal(t, []float64{10, 0, 10}, []float64{totals[0].Total, totals[1].Total, totals[2].Total})
}

func TestTotals_StaleDataSuppressed(t *testing.T) {
	h, a := setupAggregator()
	h.add("totalizer_grand", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), "5000")

	totals, err := a.Totals(context.Background(), Request{
		DeviceID: "ABCD1234", Column: "totalizer_grand", Granularity: ByDay, Periods: 7,
	})
	require.NoError(t, err)
	assert.Empty(t, totals)
}

func TestTotals_SkipsNonNumeric(t *testing.T) {
	h, a := setupAggregator()
	h.add("totalizer_grand", day(14, 8), "100")
	h.add("totalizer_grand", day(15, 8), "garbage")
	h.add("totalizer_grand", day(16, 8), "125")

	totals, err := a.Totals(context.Background(), Request{
		DeviceID: "ABCD1234", Column: "totalizer_grand", Granularity: ByDay, Periods: 3,
	})
	require.NoError(t, err)
	require.Len(t, totals, 3)
	assert.Equal(t, 25.0, totals[2].Total)
}

func TestTotals_UnsupportedAttribute(t *testing.T) {
	_, a := setupAggregator()

	_, err := a.Totals(context.Background(), Request{DeviceID: "ABCD1234", Column: "flow_rate"})
	assert.ErrorIs(t, err, ErrUnsupportedAttribute)
}

func TestRefillThreshold(t *testing.T) {
	_, a := setupAggregator()
	assert.InDelta(t, 100.0, a.RefillThreshold(1000), 1e-9)
	assert.Equal(t, 25.0, a.RefillThreshold(0))
}
