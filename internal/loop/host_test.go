package loop

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingActuator struct {
	reads    int
	writes   int
	switches [][2][]string
}

func (a *recordingActuator) Read()  { a.reads++ }
func (a *recordingActuator) Write() { a.writes++ }
func (a *recordingActuator) DoSwitch(start, stop []string) {
	a.switches = append(a.switches, [2][]string{start, stop})
}

func newTestHost(t *testing.T) (*Host, *float64, *float64) {
	t.Helper()
	h := NewHost(time.Millisecond, zap.NewNop())
	pos := math.NaN()
	vel := math.NaN()
	require.NoError(t, h.Registry().RegisterPositionCommand(ActuatorCommandHandle{Name: "joint1", Set: func(v float64) { pos = v }}))
	require.NoError(t, h.Registry().RegisterVelocityCommand(ActuatorCommandHandle{Name: "joint1", Set: func(v float64) { vel = v }}))
	return h, &pos, &vel
}

func TestStagedCommandAppliedOnCycle(t *testing.T) {
	h, pos, _ := newTestHost(t)

	require.NoError(t, h.SetPositionCommand("joint1", 1.5))
	assert.True(t, math.IsNaN(*pos), "command must not apply before the cycle")

	h.cycle()
	assert.Equal(t, 1.5, *pos)
}

func TestCommandForUnknownActuatorRejected(t *testing.T) {
	h, _, _ := newTestHost(t)
	assert.Error(t, h.SetPositionCommand("nope", 1.0))
	assert.Error(t, h.SetEffortCommand("joint1", 1.0)) // no effort handle registered
}

func TestNaNCommandDropped(t *testing.T) {
	h, _, vel := newTestHost(t)

	require.NoError(t, h.SetVelocityCommand("joint1", 2.0))
	h.cycle()
	require.Equal(t, 2.0, *vel)

	require.NoError(t, h.SetVelocityCommand("joint1", math.NaN()))
	h.cycle()
	assert.Equal(t, 2.0, *vel, "NaN must not overwrite the last command")
}

func TestCycleOrderSwitchesBeforeCommandsBeforeIO(t *testing.T) {
	h, _, _ := newTestHost(t)
	act := &recordingActuator{}
	h.AddActuator(act)

	require.NoError(t, h.SwitchControllers([]string{"velocity_controller"}, nil))
	h.cycle()

	require.Len(t, act.switches, 1)
	assert.Equal(t, []string{"velocity_controller"}, act.switches[0][0])
	assert.Equal(t, 1, act.reads)
	assert.Equal(t, 1, act.writes)
	assert.Equal(t, []string{"velocity_controller"}, h.ActiveControllers())
}

func TestSwitchStopRemovesController(t *testing.T) {
	h, _, _ := newTestHost(t)

	require.NoError(t, h.SwitchControllers([]string{"a", "b"}, nil))
	h.cycle()
	require.ElementsMatch(t, []string{"a", "b"}, h.ActiveControllers())

	require.NoError(t, h.SwitchControllers(nil, []string{"a"}))
	h.cycle()
	assert.Equal(t, []string{"b"}, h.ActiveControllers())
}

func TestRegistryDuplicateRejected(t *testing.T) {
	r := NewRegistry()
	v := 0.0
	require.NoError(t, r.RegisterState(ActuatorStateHandle{Name: "x", Position: &v}))
	assert.Error(t, r.RegisterState(ActuatorStateHandle{Name: "x"}))

	require.NoError(t, r.RegisterPowerSupply(PowerSupplyHandle{Name: "bat"}))
	assert.Error(t, r.RegisterPowerSupply(PowerSupplyHandle{Name: "bat"}))
}

func TestRunStopsOnContextCancel(t *testing.T) {
	h, _, _ := newTestHost(t)
	act := &recordingActuator{}
	h.AddActuator(act)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	h.Run(ctx)

	assert.Greater(t, act.reads, 0)
}
