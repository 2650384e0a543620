package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAttribute(t *testing.T) {
	a, ok := ParseAttribute("AlarmStatus")
	require.True(t, ok)
	assert.Equal(t, AttrAlarmStatus, a)
	assert.Equal(t, "alarms_status", a.Column())
	assert.Equal(t, KindInteger, a.Kind())

	_, ok = ParseAttribute("NotAThing")
	assert.False(t, ok)

	_, ok = ParseAttribute(DebugTopic)
	assert.False(t, ok, "debug topic is not an attribute")
}

func TestAttributeTableIsComplete(t *testing.T) {
	seenTopics := map[string]bool{}
	seenColumns := map[string]bool{}
	for _, a := range AllAttributes() {
		require.NotEmpty(t, a.Topic(), "attribute %d has no topic", int(a))
		require.NotEmpty(t, a.Column(), "attribute %s has no column", a)
		assert.False(t, seenTopics[a.Topic()], "duplicate topic %s", a.Topic())
		assert.False(t, seenColumns[a.Column()], "duplicate column %s", a.Column())
		seenTopics[a.Topic()] = true
		seenColumns[a.Column()] = true

		back, ok := AttributeByColumn(a.Column())
		require.True(t, ok)
		assert.Equal(t, a, back)
	}
	assert.False(t, AttrUnknown.Valid())
	assert.Equal(t, "", AttrUnknown.Topic())
}

func TestIsGrandTotalizer(t *testing.T) {
	assert.True(t, AttrGrandTotalizer.IsGrandTotalizer())
	assert.True(t, AttrW8GTotal.IsGrandTotalizer())
	assert.False(t, AttrTotalizer.IsGrandTotalizer())
}

func TestParseInt(t *testing.T) {
	v, err := ParseInt("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)

	v, err = ParseInt("12.9")
	require.NoError(t, err)
	assert.Equal(t, int64(12), v)

	v, err = ParseInt("")
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)

	_, err = ParseInt("abc")
	assert.Error(t, err)
}

func TestDeviceTransition_Reanimate(t *testing.T) {
	group := int64(7)
	d := &Device{DeviceID: "ABCD1234", IsActive: false, CredentialsRef: "old-creds", GroupID: &group}

	tr, changed := d.Transition(LifecycleActive)
	require.True(t, changed)
	assert.Equal(t, LifecycleDeactivated, tr.From)
	assert.Equal(t, LifecycleActive, tr.To)
	assert.True(t, tr.ResetAlarmBaseline)
	assert.True(t, d.IsActive)
	assert.Empty(t, d.CredentialsRef)
}

func TestDeviceTransition_Deactivate(t *testing.T) {
	group := int64(7)
	d := &Device{DeviceID: "ABCD1234", IsActive: true, Suspended: true, GroupID: &group}

	_, changed := d.Transition(LifecycleDeactivated)
	require.True(t, changed)
	assert.False(t, d.IsActive)
	assert.False(t, d.Suspended)
	assert.True(t, d.Unassigned())
}

func TestDeviceTransition_NoOp(t *testing.T) {
	d := &Device{IsActive: true, CredentialsRef: "keep"}
	_, changed := d.Transition(LifecycleActive)
	assert.False(t, changed)
	assert.Equal(t, "keep", d.CredentialsRef)
}

func TestAlarmCatalogue(t *testing.T) {
	assert.Equal(t, 23, AlarmCount())
	assert.Equal(t, "Relay Ctrl Mode", AlarmName(0))
	assert.Equal(t, "High pressure", AlarmName(12))
	assert.Equal(t, "Solenoid 8", AlarmName(22))
	assert.Equal(t, "Pump no longer connected", AlarmName(AlarmDisconnection))

	assert.True(t, RequiresManualClear(1))
	assert.True(t, RequiresManualClear(13))
	assert.False(t, RequiresManualClear(2))
	assert.False(t, RequiresManualClear(AlarmDisconnection))

	assert.Equal(t, []int{0, 2}, ActiveAlarms(0b101))
}

func TestLookupCommand(t *testing.T) {
	c, ok := LookupCommand("SetHighPressureTrigger")
	require.True(t, ok)
	assert.False(t, c.Retain)

	c, ok = LookupCommand("SetPumpName")
	require.True(t, ok)
	assert.True(t, c.Retain)
	assert.True(t, c.Cosmetic)

	_, ok = LookupCommand("W8ResetTot")
	assert.True(t, ok)
	_, ok = LookupCommand("W9SetRate")
	assert.False(t, ok)
	_, ok = LookupCommand("Reboot")
	assert.False(t, ok)
}

func TestBounds(t *testing.T) {
	b, ok := BoundsFor(BoundPressure)
	require.True(t, ok)
	assert.True(t, b.Contains(7500))
	assert.False(t, b.Contains(9000))

	fr, _ := BoundsFor(BoundFlowRate)
	scaled := fr.Scale(ScaleFlowRate)
	assert.InDelta(t, 1, scaled.Lower, 1e-9)
	assert.InDelta(t, 60000, scaled.Upper, 1e-9)
}

func TestUnitConversions(t *testing.T) {
	assert.InDelta(t, 3.78541, ConvertVolume(Imperial, Metric, 1), 1e-9)
	assert.InDelta(t, 1, ConvertVolume(Metric, Imperial, 3.78541), 1e-9)
	assert.InDelta(t, 100, ConvertPressure(Metric, Imperial, 6.895), 1e-6)
	assert.InDelta(t, 100, ConvertTemperature(Imperial, Metric, 212), 1e-9)
	assert.InDelta(t, 212, ConvertTemperature(Metric, Imperial, 100), 1e-9)
	assert.InDelta(t, 50, ConvertTemperature(Imperial, Imperial, 50), 1e-9)

	u, ok := ParseUnitSystem("1")
	assert.True(t, ok)
	assert.Equal(t, Metric, u)
	_, ok = ParseUnitSystem("5")
	assert.False(t, ok)
}

func TestTankParameterScale(t *testing.T) {
	assert.Equal(t, 13110, FirmwareRevision("1.31.10"))
	assert.Equal(t, 0, FirmwareRevision("unknown"))

	assert.Equal(t, 10.0, TankParameterScale("1.20.10"))
	assert.Equal(t, 10.0, TankParameterScale("1.31.10"))
	assert.Equal(t, 100.0, TankParameterScale("1.10.10"))
	assert.Equal(t, 100.0, TankParameterScale("1.40.0"))
}

func TestReminderNextDue(t *testing.T) {
	basis := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

	r := &Reminder{PeriodMonths: 3}
	assert.Equal(t, time.Date(2024, 4, 15, 9, 0, 0, 0, time.UTC), r.NextDueAfter(basis))

	test := &Reminder{PeriodMonths: 0}
	assert.Equal(t, time.Date(2024, 2, 15, 9, 0, 0, 0, time.UTC), test.NextDueAfter(basis))
}

func TestRecipientReachable(t *testing.T) {
	r := &Recipient{Email: "a@b.c", EmailConfirmed: true, AlertsEnabled: true, IsActive: true}
	assert.True(t, r.Reachable())
	r.EmailConfirmed = false
	assert.False(t, r.Reachable())
}
