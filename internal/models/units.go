package models

import (
	"regexp"
	"strconv"
)

// UnitSystem selects display units.
type UnitSystem int

const (
	Imperial UnitSystem = iota
	Metric
)

// ParseUnitSystem accepts "0" / "1". ok is false for anything else.
func ParseUnitSystem(s string) (UnitSystem, bool) {
	switch s {
	case "0":
		return Imperial, true
	case "1":
		return Metric, true
	}
	return Imperial, false
}

var (
	volumeFactor   = [...]float64{1.0, 3.78541}
	pressureFactor = [...]float64{1.0, 0.06895}
)

func (u UnitSystem) index() int {
	if u == Metric {
		return 1
	}
	return 0
}

// ConvertVolume converts between gallons and litres.
func ConvertVolume(from, to UnitSystem, v float64) float64 {
	return v / volumeFactor[from.index()] * volumeFactor[to.index()]
}

// ConvertPressure converts between PSI and bar.
func ConvertPressure(from, to UnitSystem, v float64) float64 {
	return v / pressureFactor[from.index()] * pressureFactor[to.index()]
}

// ConvertTemperature converts between Fahrenheit and Celsius.
func ConvertTemperature(from, to UnitSystem, v float64) float64 {
	switch {
	case from == Imperial && to == Metric:
		return FahrenheitToCelsius(v)
	case from == Metric && to == Imperial:
		return CelsiusToFahrenheit(v)
	}
	return v
}

func FahrenheitToCelsius(v float64) float64 { return (v - 32) * 5 / 9 }

func CelsiusToFahrenheit(v float64) float64 { return v*9/5 + 32 }

// Wire scale factors. Devices publish and accept scaled integers.
const (
	ScaleVolume     = 10.0
	ScaleFlowRate   = 100.0
	ScaleTankLevel  = 10.0
	ScaleFlowVerify = 2.0
	ScaleBattery    = 1000.0
	ScaleMilliamps  = 100.0
)

// Tank and sensor types that change how tank parameters are expressed.
const (
	TankUnknown          = 0
	SensorTankPercentage = 2
)

var nonDigits = regexp.MustCompile(`[^0-9]`)

// FirmwareRevision flattens "1.31.10" to 13110.
func FirmwareRevision(version string) int {
	digits := nonDigits.ReplaceAllString(version, "")
	if digits == "" {
		return 0
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0
	}
	return n
}

// TankParameterScale returns the multiplier for user-settable tank parameters.
// Old field-test firmware (1.20.10 to 1.31.10) uses x10, everything else x100.
func TankParameterScale(firmwareVersion string) float64 {
	rev := FirmwareRevision(firmwareVersion)
	if rev >= 12010 && rev <= 13110 {
		return 10
	}
	return 100
}
