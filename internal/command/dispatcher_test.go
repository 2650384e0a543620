package command

import (
	"context"
	"errors"
	"sync"
	"testing"

	"pumpbridge/internal/events"
	"pumpbridge/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockTransport records broker publishes.
type MockTransport struct {
	mock.Mock
}

func (m *MockTransport) Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error {
	args := m.Called(topic, qos, retained, string(payload))
	return args.Error(0)
}

type memEventLog struct {
	mu      sync.Mutex
	entries []models.EventLogEntry
}

func (l *memEventLog) Write(_ context.Context, e models.EventLogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
	return nil
}

type memPublisher struct {
	events []events.Event
}

func (p *memPublisher) Publish(_ context.Context, e events.Event) error {
	p.events = append(p.events, e)
	return nil
}

func bounds(class models.BoundClass) *models.Bounds {
	b, _ := models.BoundsFor(class)
	return &b
}

func setupDispatcher() (*MockTransport, *memEventLog, *memPublisher, *Dispatcher) {
	tr := &MockTransport{}
	log := &memEventLog{}
	pub := &memPublisher{}
	return tr, log, pub, NewDispatcher(tr, log, pub, zap.NewNop())
}

func TestDispatch_RejectsUnknownCommand(t *testing.T) {
	tr, _, _, d := setupDispatcher()

	outcome, err := d.Dispatch(context.Background(), Command{DeviceID: "ABCD1234", Name: "FormatFlash", NewValue: "1"})
	assert.Equal(t, Rejected, outcome)
	assert.ErrorIs(t, err, ErrUnknownCommand)
	tr.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatch_UnchangedValue(t *testing.T) {
	tr, _, _, d := setupDispatcher()

	outcome, err := d.Dispatch(context.Background(), Command{
		DeviceID: "ABCD1234", Name: models.CmdSetOnTime, OldValue: "30", NewValue: "30.0", Bounds: bounds(models.BoundTime),
	})
	require.NoError(t, err)
	assert.Equal(t, Unchanged, outcome)
	tr.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatch_OutOfRange(t *testing.T) {
	tr, log, _, d := setupDispatcher()

	outcome, err := d.Dispatch(context.Background(), Command{
		DeviceID: "ABCD1234", Name: models.CmdSetHighPressureTrigger, OldValue: "100", NewValue: "9000", Bounds: bounds(models.BoundPressure),
	})
	require.NoError(t, err)
	assert.Equal(t, OutOfRange, outcome)
	tr.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	require.Len(t, log.entries, 1)
	assert.Equal(t, models.StatusFail, log.entries[0].Success)
	assert.Equal(t, "Input out of bounds", log.entries[0].Message)
}

func TestDispatch_BoundsUseTruncatedValue(t *testing.T) {
	tr, _, _, d := setupDispatcher()
	tr.On("Publish", "SetPumpStatus/ABCD1234", byte(2), false, "1.9").Return(nil)

	outcome, err := d.Dispatch(context.Background(), Command{
		DeviceID: "ABCD1234", Name: models.CmdSetPumpStatus, OldValue: "0", NewValue: "1.9", Bounds: bounds(models.BoundStatus),
	})
	require.NoError(t, err)
	assert.Equal(t, Queued, outcome)
	tr.AssertExpectations(t)
}

func TestDispatch_Queued(t *testing.T) {
	tr, log, pub, d := setupDispatcher()
	tr.On("Publish", "SetFlowRate/ABCD1234", byte(2), false, "12000").Return(nil)

	outcome, err := d.Dispatch(context.Background(), Command{
		DeviceID: "ABCD1234", Name: models.CmdSetFlowRate, OldValue: "10000", NewValue: "12000",
	})
	require.NoError(t, err)
	assert.Equal(t, Queued, outcome)
	tr.AssertExpectations(t)

	require.Len(t, log.entries, 1)
	assert.Equal(t, models.StatusSuccess, log.entries[0].Success)
	assert.Equal(t, models.EventCommand, log.entries[0].EventType)

	require.Len(t, pub.events, 1)
	assert.Equal(t, events.CommandQueued, pub.events[0].Type)
	assert.Equal(t, "12000", pub.events[0].Value)
}

func TestDispatch_RetainedCommand(t *testing.T) {
	tr, _, _, d := setupDispatcher()
	tr.On("Publish", "SetPumpName/ABCD1234", byte(2), true, "North well").Return(nil)

	outcome, err := d.Dispatch(context.Background(), Command{
		DeviceID: "ABCD1234", Name: models.CmdSetPumpName, OldValue: "Pump 1", NewValue: "North well",
	})
	require.NoError(t, err)
	assert.Equal(t, Queued, outcome)
	tr.AssertExpectations(t)
}

func TestDispatch_TransportError(t *testing.T) {
	tr, log, pub, d := setupDispatcher()
	tr.On("Publish", "SetOnCycles/ABCD1234", byte(2), false, "5").Return(errors.New("broker unreachable"))

	outcome, err := d.Dispatch(context.Background(), Command{
		DeviceID: "ABCD1234", Name: models.CmdSetOnCycles, OldValue: "4", NewValue: "5", Bounds: bounds(models.BoundCycles),
	})
	assert.Equal(t, TransportError, outcome)
	assert.ErrorIs(t, err, ErrTransport)

	require.Len(t, log.entries, 1)
	assert.Equal(t, models.StatusFail, log.entries[0].Success)
	assert.Empty(t, pub.events)
}

func TestDispatch_InvalidDeviceID(t *testing.T) {
	tr, _, _, d := setupDispatcher()

	outcome, err := d.Dispatch(context.Background(), Command{DeviceID: "short", Name: models.CmdSetOnTime, NewValue: "1"})
	assert.Equal(t, Rejected, outcome)
	assert.ErrorIs(t, err, ErrInvalidValue)
	tr.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSameValue(t *testing.T) {
	assert.True(t, SameValue("30", "30.0"))
	assert.True(t, SameValue("abc", "abc"))
	assert.False(t, SameValue("", "0"), "unknown previous value always sends")
	assert.False(t, SameValue("1", "2"))
}
