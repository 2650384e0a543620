package httpapi

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"time"

	"pumpbridge/internal/aggregator"
	"pumpbridge/internal/command"
	"pumpbridge/internal/models"

	"go.uber.org/zap"
)

var deviceIDPattern = regexp.MustCompile(`^[a-zA-Z0-9]+$`)

func validDeviceID(id string) bool {
	return len(id) >= models.DeviceIDMinLength && len(id) <= models.DeviceIDMaxLength && deviceIDPattern.MatchString(id)
}

// FieldApplier turns a field edit into a device command.
type FieldApplier interface {
	Apply(ctx context.Context, deviceID, field, value string, units *models.UnitSystem) (command.Result, error)
}

// ChartBuilder produces display-ready history series.
type ChartBuilder interface {
	Build(ctx context.Context, req aggregator.ChartRequest) (*aggregator.Chart, error)
}

// DeviceHandler serves the per-device operator endpoints.
type DeviceHandler struct {
	fields FieldApplier
	charts ChartBuilder
	logger *zap.Logger
}

func NewDeviceHandler(fields FieldApplier, charts ChartBuilder, logger *zap.Logger) *DeviceHandler {
	return &DeviceHandler{
		fields: fields,
		charts: charts,
		logger: logger,
	}
}

type commandRequest struct {
	AttrName string `json:"attr_name"`
	NewValue string `json:"new_value"`
	Units    string `json:"units"`
}

// ApplyCommand handles POST /api/v1/devices/{id}/commands.
// The HTTP status mirrors the command result status.
func (h *DeviceHandler) ApplyCommand(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	deviceID := r.PathValue("id")
	if !validDeviceID(deviceID) {
		writeJSON(w, http.StatusBadRequest, Fail("invalid device id"))
		return
	}

	var req commandRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}
	if req.AttrName == "" {
		writeJSON(w, http.StatusBadRequest, Fail("attr_name is required"))
		return
	}

	var units *models.UnitSystem
	if req.Units != "" {
		u, ok := models.ParseUnitSystem(req.Units)
		if !ok {
			writeJSON(w, http.StatusBadRequest, Fail("invalid units"))
			return
		}
		units = &u
	}

	res, err := h.fields.Apply(ctx, deviceID, req.AttrName, req.NewValue, units)
	if err != nil {
		h.logger.Error("ApplyCommand failed",
			zap.String("device_id", deviceID),
			zap.String("attr_name", req.AttrName),
			zap.Error(err),
		)
	}

	status := res.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	if status >= http.StatusBadRequest {
		writeJSON(w, status, FailWith(res.Message, res))
		return
	}
	writeJSON(w, status, Ok(res))
}

// GetHistory handles GET /api/v1/devices/{id}/history.
func (h *DeviceHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	deviceID := r.PathValue("id")
	if !validDeviceID(deviceID) {
		writeJSON(w, http.StatusBadRequest, Fail("invalid device id"))
		return
	}

	q := r.URL.Query()
	chartType := q.Get("chart_type")
	if !aggregator.IsChartType(chartType) {
		writeJSON(w, http.StatusBadRequest, Fail("invalid chart type"))
		return
	}

	days := parseInt(q.Get("chart_days"), 0)
	if days < 0 {
		writeJSON(w, http.StatusBadRequest, Fail("invalid chart_days"))
		return
	}

	loc := time.UTC
	if tz := q.Get("tz"); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, Fail("invalid timezone"))
			return
		}
		loc = l
	}

	units := models.Imperial
	if s := q.Get("units"); s != "" {
		u, ok := models.ParseUnitSystem(s)
		if !ok {
			writeJSON(w, http.StatusBadRequest, Fail("invalid units"))
			return
		}
		units = u
	}

	chart, err := h.charts.Build(ctx, aggregator.ChartRequest{
		DeviceID: deviceID,
		Type:     chartType,
		Days:     days,
		Location: loc,
		Units:    units,
	})
	if err != nil {
		if errors.Is(err, aggregator.ErrUnknownChart) || errors.Is(err, aggregator.ErrUnsupportedAttribute) {
			writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
			return
		}
		h.logger.Error("GetHistory failed",
			zap.String("device_id", deviceID),
			zap.String("chart_type", chartType),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, Fail("failed to load history"))
		return
	}

	writeJSON(w, http.StatusOK, Ok(chart))
}
