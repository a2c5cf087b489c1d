package vehicle

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdbcrew/devicebridge/internal/dispatcher"
	"github.com/jdbcrew/devicebridge/pkg/control"
)

func newTestService(t *testing.T) (*Service, *dispatcher.Dispatcher, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	d, err := dispatcher.New(logger)
	require.NoError(t, err)

	svc := NewService(logger)
	svc.Register(d)
	return svc, d, &buf
}

func event(kind, payload string) dispatcher.Event {
	return dispatcher.Event{
		Kind:      kind,
		Session:   "s1",
		Payload:   json.RawMessage(payload),
		Timestamp: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestRegister_AllKinds(t *testing.T) {
	_, d, _ := newTestService(t)

	for _, kind := range []string{control.KindCommand, control.KindCamera, control.KindMode, control.KindSteering} {
		assert.True(t, d.HasHandler(kind), kind)
	}
}

func TestHandleCommand(t *testing.T) {
	svc, d, logs := newTestService(t)

	res, err := d.Dispatch(event(control.KindCommand, `{"source":"keyboard","command":"forward","value":0.8}`))
	require.NoError(t, err)
	assert.Equal(t, "accepted", res)

	st := svc.State()
	require.NotNil(t, st.LastCommand)
	assert.Equal(t, "forward", st.LastCommand.Command)
	assert.Equal(t, uint64(1), st.Received[control.KindCommand])
	assert.Contains(t, logs.String(), "Control command received")
	assert.Contains(t, logs.String(), "value=0.8")
}

func TestHandleCamera(t *testing.T) {
	svc, d, logs := newTestService(t)

	_, err := d.Dispatch(event(control.KindCamera, `{"action":"camera-pan-tilt","panDelta":3,"tiltDelta":-1}`))
	require.NoError(t, err)

	st := svc.State()
	require.NotNil(t, st.LastCamera)
	assert.Equal(t, 3.0, st.LastCamera.PanDelta)
	assert.Contains(t, logs.String(), "panDelta=3")
}

func TestHandleModeAndSteering(t *testing.T) {
	svc, d, _ := newTestService(t)

	_, err := d.Dispatch(event(control.KindMode, `{"mode":"eco"}`))
	require.NoError(t, err)
	_, err = d.Dispatch(event(control.KindSteering, `{"mode":"  all-wheel "}`))
	require.NoError(t, err)

	st := svc.State()
	assert.Equal(t, "eco", st.DriveMode)
	assert.Equal(t, "all-wheel", st.SteeringMode)
	require.NotNil(t, st.LastActivity)
	assert.Equal(t, 2026, st.LastActivity.Year())
}

func TestHandleMode_BlankIsNotedAndKeepsMode(t *testing.T) {
	svc, d, buf := newTestService(t)

	_, err := d.Dispatch(event(control.KindMode, `{"mode":"eco"}`))
	require.NoError(t, err)

	res, err := d.Dispatch(event(control.KindMode, `{"mode":"   "}`))
	require.NoError(t, err)
	assert.Equal(t, "accepted", res)

	res, err = d.Dispatch(event(control.KindSteering, `{}`))
	require.NoError(t, err)
	assert.Equal(t, "accepted", res)

	st := svc.State()
	assert.Equal(t, "eco", st.DriveMode)
	assert.Empty(t, st.SteeringMode)
	assert.Equal(t, uint64(2), st.Received[control.KindMode])
	assert.Equal(t, uint64(1), st.Received[control.KindSteering])
	assert.Contains(t, buf.String(), "Drive mode request noted without a mode")
	assert.Contains(t, buf.String(), "Steering mode request noted without a mode")
}

func TestHandleMode_InvalidJSON(t *testing.T) {
	svc, d, _ := newTestService(t)

	_, err := d.Dispatch(event(control.KindMode, `{"mode":`))
	assert.ErrorIs(t, err, control.ErrMalformedFrame)
	assert.Empty(t, svc.State().Received)
}

func TestHandleCommand_Malformed(t *testing.T) {
	svc, d, _ := newTestService(t)

	_, err := d.Dispatch(event(control.KindCommand, `{"value":"fast"}`))
	assert.ErrorIs(t, err, control.ErrMalformedFrame)
	assert.Nil(t, svc.State().LastCommand)
}

func TestState_IsCopy(t *testing.T) {
	svc, d, _ := newTestService(t)
	_, err := d.Dispatch(event(control.KindMode, `{"mode":"sport"}`))
	require.NoError(t, err)

	st := svc.State()
	st.Received[control.KindMode] = 99

	assert.Equal(t, uint64(1), svc.State().Received[control.KindMode])
}

func TestTouch_ZeroTimestampUsesNow(t *testing.T) {
	svc, _, _ := newTestService(t)

	before := time.Now()
	_, err := svc.HandleMode(dispatcher.Event{Kind: control.KindMode, Payload: json.RawMessage(`{"mode":"eco"}`)})
	require.NoError(t, err)

	st := svc.State()
	require.NotNil(t, st.LastActivity)
	assert.False(t, st.LastActivity.Before(before))
}
