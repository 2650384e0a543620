package models

import (
	"fmt"
	"strconv"
)

// ValueKind is the storage type of an attribute value.
type ValueKind int

const (
	KindInteger ValueKind = iota
	KindDecimal
	KindText
)

// Attribute is one of the device-published fields. The set is closed: telemetry for
// any other topic name is rejected.
type Attribute int

const (
	AttrUnknown Attribute = iota
	AttrPumpStatus
	AttrFlowRate
	AttrTotalizer
	AttrGrandTotalizer
	AttrAlarmStatus
	AttrPumpTopology
	AttrActiveClients
	AttrMeteringMode
	AttrOnTime
	AttrOffTime
	AttrOnCycles
	AttrPumpOnTimeout
	AttrSoftwareVersion
	AttrLocation
	AttrPressureLevel
	AttrBatteryVoltage
	AttrHighPressureTrigger
	AttrLowPressureTrigger
	AttrLowBatteryTrigger
	AttrBatteryWarningTrigger
	AttrSignalStrength
	AttrSystemPublicationPeriod
	AttrPowerSaveMode
	AttrTankLevelNotifyTrigger
	AttrTankLevelShutoffTrigger
	AttrTankLevel
	AttrSensorType
	AttrTankType
	AttrTankLevelVolumeMax
	AttrFlowVerifyPercentage
	AttrFlowVerifyEnable
	AttrAnalogInputMode
	AttrRawAnalogIn
	AttrTemperature
	AttrTemperatureControl
	AttrTemperatureSetpoint
	AttrMotorProtection
	AttrMotorCurrentMv
	AttrMultiwellEnable
	AttrW1Rate
	AttrW2Rate
	AttrW3Rate
	AttrW4Rate
	AttrW5Rate
	AttrW6Rate
	AttrW7Rate
	AttrW8Rate
	AttrW1Total
	AttrW2Total
	AttrW3Total
	AttrW4Total
	AttrW5Total
	AttrW6Total
	AttrW7Total
	AttrW8Total
	AttrW1GTotal
	AttrW2GTotal
	AttrW3GTotal
	AttrW4GTotal
	AttrW5GTotal
	AttrW6GTotal
	AttrW7GTotal
	AttrW8GTotal
	AttrWellStatus
	AttrAinmALow
	AttrAinmAHigh
	AttrAinFlowRateLow
	AttrAinFlowRateHigh

	attrCount
)

type attributeSpec struct {
	topic  string
	column string
	kind   ValueKind
}

var attributeSpecs = [attrCount]attributeSpec{
	AttrUnknown:                 {"", "", KindText},
	AttrPumpStatus:              {"PumpStatus", "status", KindInteger},
	AttrFlowRate:                {"FlowRate", "flow_rate", KindDecimal},
	AttrTotalizer:               {"Totalizer", "totalizer_resetable", KindDecimal},
	AttrGrandTotalizer:          {"GrandTotalizer", "totalizer_grand", KindDecimal},
	AttrAlarmStatus:             {"AlarmStatus", "alarms_status", KindInteger},
	AttrPumpTopology:            {"PumpTopology", "pump_topology", KindText},
	AttrActiveClients:           {"ActiveClients", "connection", KindInteger},
	AttrMeteringMode:            {"MeteringMode", "metering_mode", KindInteger},
	AttrOnTime:                  {"OnTime", "metering_on_time", KindInteger},
	AttrOffTime:                 {"OffTime", "metering_off_time", KindInteger},
	AttrOnCycles:                {"OnCycles", "metering_on_cycles", KindInteger},
	AttrPumpOnTimeout:           {"PumpOnTimeout", "metering_on_timeout", KindInteger},
	AttrSoftwareVersion:         {"SoftwareVersion", "firmware_version", KindText},
	AttrLocation:                {"Location", "location_reported", KindText},
	AttrPressureLevel:           {"PressureLevel", "pressure_level", KindInteger},
	AttrBatteryVoltage:          {"BatteryVoltage", "battery_voltage", KindInteger},
	AttrHighPressureTrigger:     {"HighPressureTrigger", "high_pressure_trigger", KindInteger},
	AttrLowPressureTrigger:      {"LowPressureTrigger", "low_pressure_trigger", KindInteger},
	AttrLowBatteryTrigger:       {"LowBatteryTrigger", "low_battery_trigger", KindInteger},
	AttrBatteryWarningTrigger:   {"BatteryWarningTrigger", "battery_warning_trigger", KindInteger},
	AttrSignalStrength:          {"SignalStrength", "signal_strength", KindInteger},
	AttrSystemPublicationPeriod: {"SystemPublicationPeriod", "system_publication_period", KindInteger},
	AttrPowerSaveMode:           {"PowerSaveMode", "power_save_mode", KindInteger},
	AttrTankLevelNotifyTrigger:  {"TankLevelNotifyTrigger", "tank_level_notify_trigger", KindInteger},
	AttrTankLevelShutoffTrigger: {"TankLevelShutoffTrigger", "tank_level_shutoff_trigger", KindInteger},
	AttrTankLevel:               {"TankLevel", "tank_level", KindInteger},
	AttrSensorType:              {"SensorType", "sensor_type", KindInteger},
	AttrTankType:                {"TankType", "tank_type", KindInteger},
	AttrTankLevelVolumeMax:      {"TankLevelVolumeMax", "tank_level_volume_max", KindInteger},
	AttrFlowVerifyPercentage:    {"FlowVerifyPercentage", "flow_verify_percentage", KindInteger},
	AttrFlowVerifyEnable:        {"FlowVerifyEnable", "flow_verify_enable", KindInteger},
	AttrAnalogInputMode:         {"AnalogInputMode", "analog_input_mode", KindInteger},
	AttrRawAnalogIn:             {"RawAnalogIn", "raw_analog_in", KindInteger},
	AttrTemperature:             {"Temperature", "temperature", KindInteger},
	AttrTemperatureControl:      {"TemperatureControl", "temperature_control", KindInteger},
	AttrTemperatureSetpoint:     {"TemperatureSetpoint", "temperature_setpoint", KindInteger},
	AttrMotorProtection:         {"MotorProtection", "motor_protection_settings", KindText},
	AttrMotorCurrentMv:          {"MotorCurrentMv", "motor_current_mV", KindInteger},
	AttrMultiwellEnable:         {"MultiwellEnable", "multiwell_enable", KindInteger},
	AttrW1Rate:                  {"W1Rate", "well_flow_rate_1", KindDecimal},
	AttrW2Rate:                  {"W2Rate", "well_flow_rate_2", KindDecimal},
	AttrW3Rate:                  {"W3Rate", "well_flow_rate_3", KindDecimal},
	AttrW4Rate:                  {"W4Rate", "well_flow_rate_4", KindDecimal},
	AttrW5Rate:                  {"W5Rate", "well_flow_rate_5", KindDecimal},
	AttrW6Rate:                  {"W6Rate", "well_flow_rate_6", KindDecimal},
	AttrW7Rate:                  {"W7Rate", "well_flow_rate_7", KindDecimal},
	AttrW8Rate:                  {"W8Rate", "well_flow_rate_8", KindDecimal},
	AttrW1Total:                 {"W1Total", "totalizer_well_1", KindDecimal},
	AttrW2Total:                 {"W2Total", "totalizer_well_2", KindDecimal},
	AttrW3Total:                 {"W3Total", "totalizer_well_3", KindDecimal},
	AttrW4Total:                 {"W4Total", "totalizer_well_4", KindDecimal},
	AttrW5Total:                 {"W5Total", "totalizer_well_5", KindDecimal},
	AttrW6Total:                 {"W6Total", "totalizer_well_6", KindDecimal},
	AttrW7Total:                 {"W7Total", "totalizer_well_7", KindDecimal},
	AttrW8Total:                 {"W8Total", "totalizer_well_8", KindDecimal},
	AttrW1GTotal:                {"W1GTotal", "totalizer_grand_well_1", KindDecimal},
	AttrW2GTotal:                {"W2GTotal", "totalizer_grand_well_2", KindDecimal},
	AttrW3GTotal:                {"W3GTotal", "totalizer_grand_well_3", KindDecimal},
	AttrW4GTotal:                {"W4GTotal", "totalizer_grand_well_4", KindDecimal},
	AttrW5GTotal:                {"W5GTotal", "totalizer_grand_well_5", KindDecimal},
	AttrW6GTotal:                {"W6GTotal", "totalizer_grand_well_6", KindDecimal},
	AttrW7GTotal:                {"W7GTotal", "totalizer_grand_well_7", KindDecimal},
	AttrW8GTotal:                {"W8GTotal", "totalizer_grand_well_8", KindDecimal},
	AttrWellStatus:              {"WellStatus", "well_status", KindInteger},
	AttrAinmALow:                {"AinmALow", "ain_mA_low", KindInteger},
	AttrAinmAHigh:               {"AinmAHigh", "ain_mA_high", KindInteger},
	AttrAinFlowRateLow:          {"AinFlowRateLow", "ain_flow_rate_low", KindInteger},
	AttrAinFlowRateHigh:         {"AinFlowRateHigh", "ain_flow_rate_high", KindInteger},
}

// DebugTopic carries free-form diagnostics that go to the event log only.
const DebugTopic = "DebugEvent"

var (
	attributesByTopic  = make(map[string]Attribute, attrCount)
	attributesByColumn = make(map[string]Attribute, attrCount)
)

func init() {
	for a := AttrUnknown + 1; a < attrCount; a++ {
		attributesByTopic[attributeSpecs[a].topic] = a
		attributesByColumn[attributeSpecs[a].column] = a
	}
}

// ParseAttribute maps a wire topic name to its attribute.
func ParseAttribute(topic string) (Attribute, bool) {
	a, ok := attributesByTopic[topic]
	return a, ok
}

// AttributeByColumn maps a storage column name to its attribute.
func AttributeByColumn(column string) (Attribute, bool) {
	a, ok := attributesByColumn[column]
	return a, ok
}

// AllAttributes returns every known attribute in declaration order.
func AllAttributes() []Attribute {
	out := make([]Attribute, 0, attrCount-1)
	for a := AttrUnknown + 1; a < attrCount; a++ {
		out = append(out, a)
	}
	return out
}

func (a Attribute) Valid() bool { return a > AttrUnknown && a < attrCount }

// Topic is the name devices publish under.
func (a Attribute) Topic() string {
	if !a.Valid() {
		return ""
	}
	return attributeSpecs[a].topic
}

// Column is the name used in the snapshot and history tables.
func (a Attribute) Column() string {
	if !a.Valid() {
		return ""
	}
	return attributeSpecs[a].column
}

func (a Attribute) Kind() ValueKind {
	if !a.Valid() {
		return KindText
	}
	return attributeSpecs[a].kind
}

func (a Attribute) String() string {
	if !a.Valid() {
		return fmt.Sprintf("Attribute(%d)", int(a))
	}
	return attributeSpecs[a].topic
}

// IsGrandTotalizer reports monotonic counters usable for flow charts.
func (a Attribute) IsGrandTotalizer() bool {
	switch a {
	case AttrGrandTotalizer,
		AttrW1GTotal, AttrW2GTotal, AttrW3GTotal, AttrW4GTotal,
		AttrW5GTotal, AttrW6GTotal, AttrW7GTotal, AttrW8GTotal:
		return true
	}
	return false
}

// ParseInt decodes a stored value as an integer. Decimal text is truncated.
func ParseInt(value string) (int64, error) {
	if value == "" {
		return 0, nil
	}
	if i, err := strconv.ParseInt(value, 10, 64); err == nil {
		return i, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer value %q: %w", value, err)
	}
	return int64(f), nil
}

// ParseBitfield decodes an alarm or well-status bitfield.
func ParseBitfield(value string) (uint32, error) {
	i, err := ParseInt(value)
	if err != nil {
		return 0, err
	}
	return uint32(i), nil
}
