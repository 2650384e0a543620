package command

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"pumpbridge/internal/models"
	"pumpbridge/internal/repository"

	"go.uber.org/zap"
)

// Result is what the operator sees for a field change.
type Result struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Pending bool   `json:"pending"`
}

const (
	msgInvalid      = "Invalid command"
	msgUnchanged    = "No change required"
	msgQueued       = "Waiting for pump..."
	msgOutOfBounds  = "Input out of bounds"
	msgTransport    = "Error communicating with pump"
	msgFlowUnits    = "Flow rate requires units"
	msgChangeUnits  = "Change requires units"
	msgNameUpdated  = "Name updated"
	msgDeviceAbsent = "Pump not found"
)

// Dispatch is the dispatcher as seen by the field mapping.
type Dispatch interface {
	Dispatch(ctx context.Context, cmd Command) (Outcome, error)
}

// SnapshotReader returns last-known attribute values.
type SnapshotReader interface {
	GetValue(ctx context.Context, deviceID, column string) (string, bool, error)
	GetValues(ctx context.Context, deviceID string, columns []string) (map[string]string, error)
}

// DeviceNamer reads and stores the locally kept display name.
type DeviceNamer interface {
	GetDevice(ctx context.Context, deviceID string) (*models.Device, error)
	SetName(ctx context.Context, deviceID, name string) error
}

type conversion int

const (
	convPlain conversion = iota
	convScaled
	convFlowVolume
	convPressure
	convTemperature
	convReset
	convTank
)

type fieldRule struct {
	command string
	conv    conversion
	class   models.BoundClass
	// scale multiplies the value and the bounds for convScaled and convFlowVolume
	scale float64
	// upperScale widens only the upper bound
	upperScale float64
	unitsMsg   string
}

var fieldRules = func() map[string]fieldRule {
	r := map[string]fieldRule{
		"flow_rate":               {command: models.CmdSetFlowRate, conv: convFlowVolume, class: models.BoundFlowRate, scale: models.ScaleFlowRate},
		"ain_flow_rate_low":       {command: models.CmdSetAinFlowRateLow, conv: convFlowVolume, class: models.BoundFlowRate, scale: models.ScaleFlowRate},
		"ain_flow_rate_high":      {command: models.CmdSetAinFlowRateHigh, conv: convFlowVolume, class: models.BoundFlowRate, scale: models.ScaleFlowRate},
		"totalizer_resetable":     {command: models.CmdResetTotalizer, conv: convReset},
		"alarms_status":           {command: models.CmdClearAlarmStatus, conv: convReset},
		"status":                  {command: models.CmdSetPumpStatus, class: models.BoundStatus},
		"metering_on_cycles":      {command: models.CmdSetOnCycles, class: models.BoundCycles},
		"metering_on_timeout":     {command: models.CmdSetPumpOnTimeout, class: models.BoundTime},
		"metering_on_time":        {command: models.CmdSetOnTime, class: models.BoundTime},
		"metering_off_time":       {command: models.CmdSetOffTime, class: models.BoundTime},
		"high_pressure_trigger":   {command: models.CmdSetHighPressureTrigger, conv: convPressure, class: models.BoundPressure},
		"low_pressure_trigger":    {command: models.CmdSetLowPressureTrigger, conv: convPressure, class: models.BoundPressure},
		"low_battery_trigger":     {command: models.CmdSetLowBatteryTrigger, conv: convScaled, class: models.BoundBattery, scale: models.ScaleBattery},
		"battery_warning_trigger": {command: models.CmdSetBatteryWarningTrigger, conv: convScaled, class: models.BoundBattery, scale: models.ScaleBattery},
		"tank_level_notify_trigger": {
			command: models.CmdSetTankLevelNotifyTrigger, conv: convTank, unitsMsg: "Tank level notify requires units",
		},
		"tank_level_shutoff_trigger": {
			command: models.CmdSetTankLevelShutoffTrigger, conv: convTank, unitsMsg: "Tank level shutoff requires units",
		},
		"flow_verify_percentage": {command: models.CmdSetFlowVerifyPercentage, class: models.BoundPercent, upperScale: models.ScaleFlowVerify},
		"temperature_setpoint":   {command: models.CmdSetTemperatureSetpoint, conv: convTemperature, class: models.BoundTemperature},
		"temperature_control":    {command: models.CmdSetTemperatureControl, class: models.BoundTempControl},
		"analog_input_mode":      {command: models.CmdSetAnalogInputMode, class: models.BoundAinMode},
		"ain_mA_low":             {command: models.CmdSetAinmALow, conv: convScaled, class: models.BoundMilliamps, scale: models.ScaleMilliamps},
		"ain_mA_high":            {command: models.CmdSetAinmAHigh, conv: convScaled, class: models.BoundMilliamps, scale: models.ScaleMilliamps},
	}
	for n := 1; n <= models.WellCount; n++ {
		r["well_flow_rate_"+strconv.Itoa(n)] = fieldRule{
			command: models.WellSetRateCommand(n), conv: convFlowVolume, class: models.BoundFlowRate, scale: models.ScaleFlowRate,
		}
		r["totalizer_well_"+strconv.Itoa(n)] = fieldRule{command: models.WellResetTotalCommand(n), conv: convReset}
	}
	return r
}()

const (
	fieldPrettyName = "pretty_name"
	fieldWellStatus = "well_status_"
)

// FieldUpdater maps operator edits of snapshot fields onto device commands, converting
// display units to the device's scaled imperial integers.
type FieldUpdater struct {
	dispatcher Dispatch
	snapshots  SnapshotReader
	devices    DeviceNamer
	eventLog   EventLogWriter
	logger     *zap.Logger
}

func NewFieldUpdater(dispatcher Dispatch, snapshots SnapshotReader, devices DeviceNamer, eventLog EventLogWriter, logger *zap.Logger) *FieldUpdater {
	return &FieldUpdater{
		dispatcher: dispatcher,
		snapshots:  snapshots,
		devices:    devices,
		eventLog:   eventLog,
		logger:     logger,
	}
}

// Apply handles one field edit. units is nil when the caller did not say.
// The returned error is set only for store failures, which also yield status 500.
// Edits for devices that were never provisioned are refused with 410 and nothing is sent.
func (u *FieldUpdater) Apply(ctx context.Context, deviceID, field, value string, units *models.UnitSystem) (Result, error) {
	value = strings.TrimSpace(value)

	d, err := u.devices.GetDevice(ctx, deviceID)
	if errors.Is(err, repository.ErrDeviceNotFound) {
		u.reject(ctx, deviceID, field, value, msgDeviceAbsent)
		return Result{Status: http.StatusGone, Message: msgDeviceAbsent}, nil
	}
	if err != nil {
		return Result{Status: http.StatusInternalServerError, Message: msgTransport}, fmt.Errorf("failed to load device: %w", err)
	}

	switch {
	case field == fieldPrettyName:
		return u.rename(ctx, d, value)
	case strings.HasPrefix(field, fieldWellStatus):
		return u.toggleWell(ctx, deviceID, field, value)
	}

	rule, ok := fieldRules[field]
	if !ok {
		u.reject(ctx, deviceID, field, value, msgInvalid)
		return Result{Status: http.StatusBadRequest, Message: msgInvalid}, nil
	}

	old, _, err := u.snapshots.GetValue(ctx, deviceID, field)
	if err != nil {
		return Result{Status: http.StatusInternalServerError, Message: msgTransport}, fmt.Errorf("failed to read %s: %w", field, err)
	}

	cmd := Command{DeviceID: deviceID, Name: rule.command, OldValue: old}
	if msg, err := u.convert(ctx, deviceID, rule, value, units, &cmd); err != nil || msg != "" {
		if err != nil {
			return Result{Status: http.StatusInternalServerError, Message: msgTransport}, err
		}
		u.reject(ctx, deviceID, field, value, msg)
		return Result{Status: http.StatusBadRequest, Message: msg}, nil
	}

	return u.dispatch(ctx, cmd), nil
}

// convert fills NewValue and Bounds. A non-empty message rejects the edit.
func (u *FieldUpdater) convert(ctx context.Context, deviceID string, rule fieldRule, value string, units *models.UnitSystem, cmd *Command) (string, error) {
	if rule.conv == convReset {
		cmd.NewValue = "0"
		return "", nil
	}

	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return msgInvalid, nil
	}
	bounds, _ := models.BoundsFor(rule.class)

	switch rule.conv {
	case convPlain:
		cmd.NewValue = value
		if rule.upperScale > 0 {
			bounds.Upper *= rule.upperScale
		}

	case convScaled:
		cmd.NewValue = formatInt(v * rule.scale)
		bounds = bounds.Scale(rule.scale)

	case convFlowVolume:
		if units == nil {
			return msgFlowUnits, nil
		}
		cmd.NewValue = formatInt(models.ConvertVolume(*units, models.Imperial, v) * rule.scale)
		bounds = bounds.Scale(rule.scale)

	case convPressure:
		if units == nil {
			return msgChangeUnits, nil
		}
		cmd.NewValue = strconv.FormatFloat(models.ConvertPressure(*units, models.Imperial, v), 'f', -1, 64)

	case convTemperature:
		if units == nil {
			return msgChangeUnits, nil
		}
		if *units == models.Metric {
			v = models.CelsiusToFahrenheit(v)
		}
		cmd.NewValue = formatInt(v)

	case convTank:
		return u.convertTank(ctx, deviceID, rule, v, units, cmd)
	}

	cmd.Bounds = &bounds
	return "", nil
}

// convertTank expresses a tank trigger as volume for known tanks and level sensors, or as
// a plain percentage for percentage sensors. Other devices take no tank triggers.
func (u *FieldUpdater) convertTank(ctx context.Context, deviceID string, rule fieldRule, v float64, units *models.UnitSystem, cmd *Command) (string, error) {
	tankCol, sensorCol, fwCol := models.AttrTankType.Column(), models.AttrSensorType.Column(), models.AttrSoftwareVersion.Column()
	vals, err := u.snapshots.GetValues(ctx, deviceID, []string{tankCol, sensorCol, fwCol})
	if err != nil {
		return "", fmt.Errorf("failed to read tank configuration: %w", err)
	}
	tankType, _ := models.ParseInt(vals[tankCol])
	sensorType, _ := models.ParseInt(vals[sensorCol])

	switch {
	case tankType > models.TankUnknown || sensorType > models.SensorTankPercentage:
		if units == nil {
			return rule.unitsMsg, nil
		}
		gallons := models.ConvertVolume(*units, models.Imperial, v)
		cmd.NewValue = formatInt(gallons * models.TankParameterScale(vals[fwCol]))
		b, _ := models.BoundsFor(models.BoundTankVolume)
		b = b.Scale(models.ScaleTankLevel)
		cmd.Bounds = &b
	case sensorType == models.SensorTankPercentage:
		cmd.NewValue = formatInt(v)
		b, _ := models.BoundsFor(models.BoundPercent)
		cmd.Bounds = &b
	default:
		return msgInvalid, nil
	}
	return "", nil
}

// rename stores the display name locally and pushes it to the device as a retained value.
// The device never answers a rename, so nothing is pending.
func (u *FieldUpdater) rename(ctx context.Context, d *models.Device, name string) (Result, error) {
	res := u.dispatch(ctx, Command{
		DeviceID: d.DeviceID,
		Name:     models.CmdSetPumpName,
		OldValue: d.Name,
		NewValue: name,
	})
	res.Pending = false

	if res.Status >= 200 && res.Status < 300 {
		if err := u.devices.SetName(ctx, d.DeviceID, name); err != nil {
			return Result{Status: http.StatusInternalServerError, Message: msgTransport}, err
		}
		res.Message = msgNameUpdated
	}
	return res, nil
}

// toggleWell sets or clears one well's bit in the WellStatus bitfield.
func (u *FieldUpdater) toggleWell(ctx context.Context, deviceID, field, value string) (Result, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(field, fieldWellStatus))
	if err != nil || n < 1 || n > models.WellCount {
		u.reject(ctx, deviceID, field, value, msgInvalid)
		return Result{Status: http.StatusBadRequest, Message: msgInvalid}, nil
	}

	old, _, err := u.snapshots.GetValue(ctx, deviceID, models.AttrWellStatus.Column())
	if err != nil {
		return Result{Status: http.StatusInternalServerError, Message: msgTransport}, fmt.Errorf("failed to read well status: %w", err)
	}
	bits, _ := models.ParseBitfield(old)

	mask := uint32(1) << uint(n-1)
	if on, _ := strconv.ParseBool(value); on {
		bits |= mask
	} else {
		bits &^= mask
	}

	return u.dispatch(ctx, Command{
		DeviceID: deviceID,
		Name:     models.CmdSetWellStatus,
		OldValue: old,
		NewValue: strconv.FormatUint(uint64(bits), 10),
	}), nil
}

func (u *FieldUpdater) dispatch(ctx context.Context, cmd Command) Result {
	outcome, err := u.dispatcher.Dispatch(ctx, cmd)
	switch outcome {
	case Unchanged:
		return Result{Status: http.StatusOK, Message: msgUnchanged}
	case Queued:
		return Result{Status: http.StatusCreated, Message: msgQueued, Pending: true}
	case OutOfRange:
		return Result{Status: http.StatusRequestedRangeNotSatisfiable, Message: msgOutOfBounds}
	case TransportError:
		return Result{Status: http.StatusInternalServerError, Message: msgTransport}
	}
	if err != nil && !errors.Is(err, ErrUnknownCommand) && !errors.Is(err, ErrInvalidValue) {
		u.logger.Error("Unexpected dispatch failure", zap.String("device_id", cmd.DeviceID), zap.Error(err))
	}
	return Result{Status: http.StatusBadRequest, Message: msgInvalid}
}

func (u *FieldUpdater) reject(ctx context.Context, deviceID, field, value, message string) {
	err := u.eventLog.Write(ctx, models.EventLogEntry{
		OriginType: models.OriginWeb,
		EventType:  models.EventCommand,
		Message:    message,
		TargetType: models.TargetPump,
		TargetID:   deviceID,
		Attribute:  field,
		NewValue:   value,
		Success:    models.StatusFail,
	})
	if err != nil {
		u.logger.Error("Failed to write command audit entry", zap.String("device_id", deviceID), zap.Error(err))
	}
}

func formatInt(v float64) string {
	return strconv.FormatInt(int64(v), 10)
}
