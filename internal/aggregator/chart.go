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

var ErrUnknownChart = errors.New("invalid chart type")

const (
	ChartTotalizerGrand = "totalizer_grand"
	ChartMonthlyReport  = "monthly_report"
	ChartTankLevel      = "tank_level"
	ChartTankLevelRaw   = "tank_level_raw"
	ChartBatteryVoltage = "battery_voltage"
	ChartPressureLevel  = "pressure_level"
	ChartTemperature    = "temperature"

	wellChartPrefix = "totalizer_grand_well_"
)

// Display limits in imperial units.
const (
	maxPressurePSI       = 7500
	minTemperatureF      = -50
	maxTemperatureF      = 140
	maxTankLevelRatio    = 1.10
	maxTankPercentage    = 200
	monthLabelOffsetDays = 15
	dayLabelLayout       = "01/02"
	monthLabelLayout     = "Jan 2006"
	rawLabelLayout       = "01/02/2006 15:04:05"
)

// SnapshotReader reads tank configuration from the snapshot.
type SnapshotReader interface {
	GetValues(ctx context.Context, deviceID string, columns []string) (map[string]string, error)
}

type ChartOptions struct {
	DefaultDays int
	MaxDays     int
}

// ChartRequest describes one chart as an operator asks for it.
type ChartRequest struct {
	DeviceID string
	Type     string
	Days     int
	Location *time.Location
	Units    models.UnitSystem
}

type Point struct {
	Label string    `json:"label"`
	At    time.Time `json:"at"`
	Value float64   `json:"value"`
}

type Chart struct {
	Type   string            `json:"chart_type"`
	Days   int               `json:"chart_days"`
	Units  models.UnitSystem `json:"display_units"`
	Points []Point           `json:"history"`
}

// ChartService converts aggregated or raw history into display units.
type ChartService struct {
	agg       *Aggregator
	snapshots SnapshotReader
	opts      ChartOptions
	logger    *zap.Logger
}

func NewChartService(agg *Aggregator, snapshots SnapshotReader, opts ChartOptions, logger *zap.Logger) *ChartService {
	if opts.DefaultDays <= 0 {
		opts.DefaultDays = 30
	}
	if opts.MaxDays <= 0 {
		opts.MaxDays = 180
	}
	return &ChartService{
		agg:       agg,
		snapshots: snapshots,
		opts:      opts,
		logger:    logger,
	}
}

// ClampDays applies the default and the maximum window.
func (s *ChartService) ClampDays(days int) int {
	if days <= 0 {
		return s.opts.DefaultDays
	}
	if days > s.opts.MaxDays {
		return s.opts.MaxDays
	}
	return days
}

// IsChartType reports whether name is a supported chart.
func IsChartType(name string) bool {
	switch name {
	case ChartTotalizerGrand, ChartMonthlyReport, ChartTankLevel, ChartTankLevelRaw,
		ChartBatteryVoltage, ChartPressureLevel, ChartTemperature:
		return true
	}
	_, ok := wellNumber(name)
	return ok
}

func wellNumber(name string) (int, bool) {
	if !strings.HasPrefix(name, wellChartPrefix) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(name, wellChartPrefix))
	if err != nil || n < 1 || n > models.WellCount {
		return 0, false
	}
	return n, true
}

// Build produces the chart for req.
func (s *ChartService) Build(ctx context.Context, req ChartRequest) (*Chart, error) {
	if !IsChartType(req.Type) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChart, req.Type)
	}
	if req.Location == nil {
		req.Location = time.UTC
	}
	days := s.ClampDays(req.Days)
	chart := &Chart{Type: req.Type, Days: days, Units: req.Units, Points: []Point{}}

	var err error
	switch req.Type {
	case ChartMonthlyReport:
		chart.Points, err = s.counter(ctx, req, models.AttrGrandTotalizer.Column(), ByMonth, 0)
	case ChartTankLevel:
		chart.Points, err = s.tankDeltas(ctx, req, days)
	case ChartTankLevelRaw:
		chart.Points, err = s.tankRaw(ctx, req, days)
	case ChartBatteryVoltage:
		chart.Points, err = s.raw(ctx, req, models.AttrBatteryVoltage.Column(), days, func(v float64) (float64, bool) {
			return v / models.ScaleBattery, true
		})
	case ChartPressureLevel:
		limit := models.ConvertPressure(models.Imperial, req.Units, maxPressurePSI)
		chart.Points, err = s.raw(ctx, req, models.AttrPressureLevel.Column(), days, func(v float64) (float64, bool) {
			v = models.ConvertPressure(models.Imperial, req.Units, v)
			return v, v >= 0 && v <= limit
		})
	case ChartTemperature:
		lo := models.ConvertTemperature(models.Imperial, req.Units, minTemperatureF)
		hi := models.ConvertTemperature(models.Imperial, req.Units, maxTemperatureF)
		chart.Points, err = s.raw(ctx, req, models.AttrTemperature.Column(), days, func(v float64) (float64, bool) {
			v = models.ConvertTemperature(models.Imperial, req.Units, v)
			return v, v >= lo && v <= hi
		})
	default:
		column := models.AttrGrandTotalizer.Column()
		if n, ok := wellNumber(req.Type); ok {
			column = fmt.Sprintf("%s%d", wellChartPrefix, n)
		}
		chart.Points, err = s.counter(ctx, req, column, ByDay, days)
	}
	if err != nil {
		return nil, err
	}
	return chart, nil
}

func (s *ChartService) counter(ctx context.Context, req ChartRequest, column string, g Granularity, periods int) ([]Point, error) {
	totals, err := s.agg.Totals(ctx, Request{
		DeviceID:    req.DeviceID,
		Column:      column,
		Granularity: g,
		Periods:     periods,
		Location:    req.Location,
	})
	if err != nil {
		return nil, err
	}
	points := make([]Point, 0, len(totals))
	for _, t := range totals {
		v := models.ConvertVolume(models.Imperial, req.Units, t.Total/models.ScaleVolume)
		if v < 0 {
			v = 0
		}
		points = append(points, Point{
			Label: periodLabel(t.Label(g), g, req.Location),
			At:    t.Label(g),
			Value: v,
		})
	}
	return points, nil
}

func periodLabel(at time.Time, g Granularity, loc *time.Location) string {
	if g == ByMonth {
		return at.AddDate(0, 0, monthLabelOffsetDays).In(loc).Format(monthLabelLayout)
	}
	return at.In(loc).Format(dayLabelLayout)
}

type tankConfig struct {
	volumeBased bool
	percentage  bool
	maxVolume   float64
	scale       float64
}

func (s *ChartService) tank(ctx context.Context, deviceID string) (tankConfig, error) {
	vals, err := s.snapshots.GetValues(ctx, deviceID, []string{
		models.AttrTankType.Column(),
		models.AttrSensorType.Column(),
		models.AttrTankLevelVolumeMax.Column(),
		models.AttrSoftwareVersion.Column(),
	})
	if err != nil {
		return tankConfig{}, err
	}
	tankType := vals[models.AttrTankType.Column()]
	sensorType := vals[models.AttrSensorType.Column()]
	maxVolume := vals[models.AttrTankLevelVolumeMax.Column()]
	firmware := vals[models.AttrSoftwareVersion.Column()]

	tt, _ := models.ParseInt(tankType)
	st, _ := models.ParseInt(sensorType)
	mv, _ := strconv.ParseFloat(strings.TrimSpace(maxVolume), 64)
	return tankConfig{
		volumeBased: tt > models.TankUnknown || st > models.SensorTankPercentage,
		percentage:  st == models.SensorTankPercentage,
		maxVolume:   mv,
		scale:       models.TankParameterScale(firmware),
	}, nil
}

func (s *ChartService) tankDeltas(ctx context.Context, req ChartRequest, days int) ([]Point, error) {
	cfg, err := s.tank(ctx, req.DeviceID)
	if err != nil {
		return nil, err
	}
	totals, err := s.agg.Totals(ctx, Request{
		DeviceID:    req.DeviceID,
		Column:      models.AttrTankLevel.Column(),
		Granularity: ByDay,
		Periods:     days,
		Location:    req.Location,
		MaxVolume:   cfg.maxVolume,
	})
	if err != nil {
		return nil, err
	}
	points := make([]Point, 0, len(totals))
	for _, t := range totals {
		v := t.Total
		if cfg.volumeBased {
			v = models.ConvertVolume(models.Imperial, req.Units, v/cfg.scale)
		}
		points = append(points, Point{
			Label: periodLabel(t.End, ByDay, req.Location),
			At:    t.End,
			Value: v,
		})
	}
	return points, nil
}

func (s *ChartService) tankRaw(ctx context.Context, req ChartRequest, days int) ([]Point, error) {
	cfg, err := s.tank(ctx, req.DeviceID)
	if err != nil {
		return nil, err
	}
	switch {
	case cfg.volumeBased:
		limit := models.ConvertVolume(models.Imperial, req.Units, cfg.maxVolume*maxTankLevelRatio/cfg.scale)
		return s.raw(ctx, req, models.AttrTankLevel.Column(), days, func(v float64) (float64, bool) {
			v = models.ConvertVolume(models.Imperial, req.Units, v/cfg.scale)
			return v, v >= 0 && v <= limit
		})
	case cfg.percentage:
		return s.raw(ctx, req, models.AttrTankLevel.Column(), days, func(v float64) (float64, bool) {
			return v, v >= 0 && v <= maxTankPercentage
		})
	}
	s.logger.Debug("Tank level chart requested for device without tank sensor", zap.String("device_id", req.DeviceID))
	return []Point{}, nil
}

func (s *ChartService) raw(ctx context.Context, req ChartRequest, column string, days int, convert func(float64) (float64, bool)) ([]Point, error) {
	entries, err := s.agg.Raw(ctx, req.DeviceID, column, days)
	if err != nil {
		return nil, err
	}
	points := make([]Point, 0, len(entries))
	for i := range entries {
		v, ok := s.agg.parse(&entries[i])
		if !ok {
			continue
		}
		v, ok = convert(v)
		if !ok {
			continue
		}
		points = append(points, Point{
			Label: entries[i].Timestamp.In(req.Location).Format(rawLabelLayout),
			At:    entries[i].Timestamp,
			Value: v,
		})
	}
	return points, nil
}
