package models

import "strconv"

// BoundClass names a family of input limits, expressed in display units before scaling.
type BoundClass string

const (
	BoundFlowRate    BoundClass = "FlowRate" // gallons/day
	BoundTime        BoundClass = "Time"     // seconds
	BoundCycles      BoundClass = "Cycles"
	BoundStatus      BoundClass = "Status"
	BoundPressure    BoundClass = "Pressure"    // PSI
	BoundBattery     BoundClass = "Battery"     // volts
	BoundPercent     BoundClass = "Percent"     // %
	BoundTankVolume  BoundClass = "TankVolume"  // gallons
	BoundTemperature BoundClass = "Temperature" // deg F
	BoundTempControl BoundClass = "TempControl"
	BoundAinMode     BoundClass = "AinMode"
	BoundMilliamps   BoundClass = "mA"
)

// Bounds is an inclusive range.
type Bounds struct {
	Lower float64
	Upper float64
}

// Contains reports whether v lies inside the range.
func (b Bounds) Contains(v float64) bool {
	return v >= b.Lower && v <= b.Upper
}

// Scale multiplies both ends, used when a command carries a scaled integer.
func (b Bounds) Scale(factor float64) Bounds {
	return Bounds{Lower: b.Lower * factor, Upper: b.Upper * factor}
}

var boundTable = map[BoundClass]Bounds{
	BoundFlowRate:    {0.01, 600},
	BoundTime:        {0, 100 * 60 * 60},
	BoundCycles:      {0, 1000000},
	BoundStatus:      {0, 1},
	BoundPressure:    {0, 7500},
	BoundBattery:     {0, 30},
	BoundPercent:     {0, 100},
	BoundTankVolume:  {0, 9999},
	BoundTemperature: {-40, 118},
	BoundTempControl: {0, 3},
	BoundAinMode:     {0, 1},
	BoundMilliamps:   {4, 20},
}

// BoundsFor returns the limits of a class.
func BoundsFor(class BoundClass) (Bounds, bool) {
	b, ok := boundTable[class]
	return b, ok
}

// CommandSpec describes one allow-listed command.
type CommandSpec struct {
	Name string
	// Retain asks the broker to keep the last value for devices that connect later.
	Retain bool
	// Cosmetic commands are applied locally; devices never echo them back.
	Cosmetic bool
}

const (
	CmdSetPumpStatus              = "SetPumpStatus"
	CmdResetTotalizer             = "ResetTotalizer"
	CmdClearAlarmStatus           = "ClearAlarmStatus"
	CmdSetFlowRate                = "SetFlowRate"
	CmdSetOnTime                  = "SetOnTime"
	CmdSetOffTime                 = "SetOffTime"
	CmdSetOnCycles                = "SetOnCycles"
	CmdSetPumpOnTimeout           = "SetPumpOnTimeout"
	CmdSetHighPressureTrigger     = "SetHighPressureTrigger"
	CmdSetLowPressureTrigger      = "SetLowPressureTrigger"
	CmdSetLowBatteryTrigger       = "SetLowBatteryTrigger"
	CmdSetBatteryWarningTrigger   = "SetBatteryWarningTrigger"
	CmdSetSystemPublicationPeriod = "SetSystemPublicationPeriod"
	CmdActivationKey              = "ActivationKey"
	CmdSetPumpName                = "SetPumpName"
	CmdSetTankLevelNotifyTrigger  = "SetTankLevelNotifyTrigger"
	CmdSetTankLevelShutoffTrigger = "SetTankLevelShutoffTrigger"
	CmdSetFlowVerifyPercentage    = "SetFlowVerifyPercentage"
	CmdSetTemperatureControl      = "SetTemperatureControl"
	CmdSetTemperatureSetpoint     = "SetTemperatureSetpoint"
	CmdSetWellStatus              = "SetWellStatus"
	CmdSetAnalogInputMode         = "SetAnalogInputMode"
	CmdSetAinmALow                = "SetAinmALow"
	CmdSetAinmAHigh               = "SetAinmAHigh"
	CmdSetAinFlowRateLow          = "SetAinFlowRateLow"
	CmdSetAinFlowRateHigh         = "SetAinFlowRateHigh"
)

var commandTable = func() map[string]CommandSpec {
	names := []string{
		CmdSetPumpStatus, CmdResetTotalizer, CmdClearAlarmStatus, CmdSetFlowRate,
		CmdSetOnTime, CmdSetOffTime, CmdSetOnCycles, CmdSetPumpOnTimeout,
		CmdSetHighPressureTrigger, CmdSetLowPressureTrigger,
		CmdSetLowBatteryTrigger, CmdSetBatteryWarningTrigger,
		CmdSetSystemPublicationPeriod,
		CmdSetTankLevelNotifyTrigger, CmdSetTankLevelShutoffTrigger,
		CmdSetFlowVerifyPercentage, CmdSetTemperatureControl, CmdSetTemperatureSetpoint,
		CmdSetWellStatus, CmdSetAnalogInputMode,
		CmdSetAinmALow, CmdSetAinmAHigh, CmdSetAinFlowRateLow, CmdSetAinFlowRateHigh,
	}
	for n := 1; n <= WellCount; n++ {
		names = append(names, WellSetRateCommand(n), WellResetTotalCommand(n))
	}

	t := make(map[string]CommandSpec, len(names)+2)
	for _, name := range names {
		t[name] = CommandSpec{Name: name}
	}
	t[CmdSetPumpName] = CommandSpec{Name: CmdSetPumpName, Retain: true, Cosmetic: true}
	t[CmdActivationKey] = CommandSpec{Name: CmdActivationKey, Retain: true, Cosmetic: true}
	return t
}()

// LookupCommand returns the allow-list entry for name.
func LookupCommand(name string) (CommandSpec, bool) {
	c, ok := commandTable[name]
	return c, ok
}

// WellCount is the number of wells on a multiwell controller.
const WellCount = 8

// WellSetRateCommand returns W<n>SetRate.
func WellSetRateCommand(n int) string { return "W" + strconv.Itoa(n) + "SetRate" }

// WellResetTotalCommand returns W<n>ResetTot.
func WellResetTotalCommand(n int) string { return "W" + strconv.Itoa(n) + "ResetTot" }
