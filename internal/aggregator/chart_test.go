package aggregator

import (
	"context"
	"testing"
	"time"

	"pumpbridge/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memSnapshot map[string]string

func (m memSnapshot) GetValues(_ context.Context, _ string, columns []string) (map[string]string, error) {
	out := map[string]string{}
	for _, col := range columns {
		if v, ok := m[col]; ok {
			out[col] = v
		}
	}
	return out, nil
}

func setupCharts(snap memSnapshot) (*memHistory, *ChartService) {
	h, a := setupAggregator()
	return h, NewChartService(a, snap, ChartOptions{}, zap.NewNop())
}

func TestChart_UnknownType(t *testing.T) {
	_, s := setupCharts(memSnapshot{})

	_, err := s.Build(context.Background(), ChartRequest{DeviceID: "ABCD1234", Type: "flow_rate"})
	assert.ErrorIs(t, err, ErrUnknownChart)

	_, err = s.Build(context.Background(), ChartRequest{DeviceID: "ABCD1234", Type: "totalizer_grand_well_9"})
	assert.ErrorIs(t, err, ErrUnknownChart)
}

func TestChart_DayClamp(t *testing.T) {
	_, s := setupCharts(memSnapshot{})
	assert.Equal(t, 30, s.ClampDays(0))
	assert.Equal(t, 14, s.ClampDays(14))
	assert.Equal(t, 180, s.ClampDays(365))

	chart, err := s.Build(context.Background(), ChartRequest{DeviceID: "ABCD1234", Type: ChartTotalizerGrand, Days: 500})
	require.NoError(t, err)
	assert.Equal(t, 180, chart.Days)
	assert.Empty(t, chart.Points)
}

func TestChart_TotalizerMetric(t *testing.T) {
	h, s := setupCharts(memSnapshot{})
	h.add("totalizer_grand_well_2", day(14, 8), "1000")
	h.add("totalizer_grand_well_2", day(16, 8), "1400")

	chart, err := s.Build(context.Background(), ChartRequest{
		DeviceID: "ABCD1234", Type: "totalizer_grand_well_2", Days: 3, Units: models.Metric,
	})
	require.NoError(t, err)
	require.Len(t, chart.Points, 3)

	// 400 stored is 40 gallons
	assert.InDelta(t, 40*3.78541, chart.Points[2].Value, 1e-6)
	assert.Equal(t, "10/16", chart.Points[2].Label)
	assert.Equal(t, 0.0, chart.Points[1].Value)
}

func TestChart_MonthlyReportLabels(t *testing.T) {
	h, s := setupCharts(memSnapshot{})
	h.add("totalizer_grand", time.Date(2026, 6, 20, 0, 0, 0, 0, time.UTC), "100")
	h.add("totalizer_grand", time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC), "300")

	chart, err := s.Build(context.Background(), ChartRequest{DeviceID: "ABCD1234", Type: ChartMonthlyReport})
	require.NoError(t, err)
	require.Len(t, chart.Points, 4)

	labels := make([]string, 0, 4)
	for _, p := range chart.Points {
		labels = append(labels, p.Label)
	}
	assert.Equal(t, []string{"Jul 2026", "Aug 2026", "Sep 2026", "Oct 2026"}, labels)
	assert.Equal(t, 20.0, chart.Points[1].Value)
}

func TestChart_RawSeriesFiltered(t *testing.T) {
	h, s := setupCharts(memSnapshot{})
	h.add("pressure_level", day(15, 1), "100")
	h.add("pressure_level", day(15, 2), "9000")
	h.add("pressure_level", day(15, 3), "bad")
	h.add("battery_voltage", day(15, 1), "12500")
	h.add("battery_voltage", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), "11000")

	chart, err := s.Build(context.Background(), ChartRequest{DeviceID: "ABCD1234", Type: ChartPressureLevel, Days: 7})
	require.NoError(t, err)
	require.Len(t, chart.Points, 1)
	assert.Equal(t, 100.0, chart.Points[0].Value)
	assert.Equal(t, "10/15/2026 01:00:00", chart.Points[0].Label)

	chart, err = s.Build(context.Background(), ChartRequest{DeviceID: "ABCD1234", Type: ChartBatteryVoltage, Days: 7})
	require.NoError(t, err)
	require.Len(t, chart.Points, 1)
	assert.Equal(t, 12.5, chart.Points[0].Value)
}

func TestChart_TankLevelRaw(t *testing.T) {
	h, s := setupCharts(memSnapshot{"tank_type": "0", "sensor_type": "2"})
	h.add("tank_level", day(15, 1), "55")
	h.add("tank_level", day(15, 2), "250")

	chart, err := s.Build(context.Background(), ChartRequest{DeviceID: "ABCD1234", Type: ChartTankLevelRaw, Days: 7})
	require.NoError(t, err)
	require.Len(t, chart.Points, 1)
	assert.Equal(t, 55.0, chart.Points[0].Value)
}

func TestChart_TankLevelByVolume(t *testing.T) {
	h, s := setupCharts(memSnapshot{
		"tank_type":             "1",
		"sensor_type":           "1",
		"tank_level_volume_max": "100000",
		"firmware_version":      "1.40.2",
	})
	h.add("tank_level", day(14, 1), "50000")
	h.add("tank_level", day(15, 1), "45000")
	// refill above 10% of max volume
	h.add("tank_level", day(16, 1), "95000")

	chart, err := s.Build(context.Background(), ChartRequest{DeviceID: "ABCD1234", Type: ChartTankLevel, Days: 3})
	require.NoError(t, err)
	require.Len(t, chart.Points, 3)
	assert.Equal(t, 50.0, chart.Points[1].Value)
	assert.Equal(t, 0.0, chart.Points[2].Value)
}
