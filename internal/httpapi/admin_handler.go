package httpapi

import (
	"context"
	"net/http"
	"time"

	"pumpbridge/internal/models"
	"pumpbridge/internal/repository"

	"go.uber.org/zap"
)

// HistoryAdmin is the bulk maintenance side of the history store.
type HistoryAdmin interface {
	CopyRange(ctx context.Context, req repository.CopyRequest) (*repository.CopyResult, error)
	DeletePhantom(ctx context.Context, deviceID string) (int64, error)
}

// AdminHandler serves history copy and phantom cleanup.
type AdminHandler struct {
	history HistoryAdmin
	logger  *zap.Logger
}

func NewAdminHandler(history HistoryAdmin, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{history: history, logger: logger}
}

type copyHistoryRequest struct {
	SourceDeviceID string   `json:"source_device_id"`
	DestDeviceID   string   `json:"dest_device_id"`
	Attributes     []string `json:"attributes"`
	From           string   `json:"from"` // RFC3339, empty for open
	To             string   `json:"to"`
	Offset         *int64   `json:"offset"`
	ReplaceDest    bool     `json:"replace_dest"`
}

func parseBound(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

// CopyHistory handles POST /api/v1/admin/history/copy.
func (h *AdminHandler) CopyHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req copyHistoryRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}
	if !validDeviceID(req.SourceDeviceID) || !validDeviceID(req.DestDeviceID) {
		writeJSON(w, http.StatusBadRequest, Fail("source_device_id and dest_device_id are required"))
		return
	}
	if req.SourceDeviceID == req.DestDeviceID {
		writeJSON(w, http.StatusBadRequest, Fail("source and destination must differ"))
		return
	}

	from, err := parseBound(req.From)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid from"))
		return
	}
	to, err := parseBound(req.To)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid to"))
		return
	}
	for _, a := range req.Attributes {
		if _, ok := models.AttributeByColumn(a); !ok {
			writeJSON(w, http.StatusBadRequest, Fail("unknown attribute: "+a))
			return
		}
	}

	rg := models.HistoryRange{
		DeviceID:   req.SourceDeviceID,
		Attributes: req.Attributes,
		From:       from,
		To:         to,
	}
	if req.ReplaceDest && !rg.Bounded() {
		writeJSON(w, http.StatusBadRequest, Fail("replace_dest requires from and to"))
		return
	}

	res, err := h.history.CopyRange(ctx, repository.CopyRequest{
		Source:      rg,
		DestID:      req.DestDeviceID,
		Offset:      req.Offset,
		ReplaceDest: req.ReplaceDest,
	})
	if err != nil {
		h.logger.Error("CopyHistory failed",
			zap.String("source_device_id", req.SourceDeviceID),
			zap.String("dest_device_id", req.DestDeviceID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, Fail("failed to copy history"))
		return
	}

	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"deleted": res.Deleted,
		"copied":  res.Copied,
	}))
}

// DeletePhantom handles POST /api/v1/admin/devices/{id}/phantom/delete.
func (h *AdminHandler) DeletePhantom(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("id")
	if !validDeviceID(deviceID) {
		writeJSON(w, http.StatusBadRequest, Fail("invalid device id"))
		return
	}

	n, err := h.history.DeletePhantom(r.Context(), deviceID)
	if err != nil {
		h.logger.Error("DeletePhantom failed", zap.String("device_id", deviceID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to delete phantom history"))
		return
	}

	h.logger.Info("Phantom history deleted", zap.String("device_id", deviceID), zap.Int64("deleted", n))
	writeJSON(w, http.StatusOK, Ok(map[string]any{"deleted": n}))
}
