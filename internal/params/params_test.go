package params

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenServoCore/internal/gateway"
)

func sourceFromYAML(t *testing.T, doc string) Source {
	t.Helper()
	src, err := NewYAMLSource([]byte(doc))
	require.NoError(t, err)
	return src
}

const minimalDoc = `
actuator_name: joint1
serial_number: "628003588"
motor:
  type: 10
sensor:
  type: 1
`

func TestLoadMinimal(t *testing.T) {
	src := sourceFromYAML(t, minimalDoc)

	p, err := Load(src, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, "joint1", p.ActuatorName)
	assert.Equal(t, uint64(0x628003588), p.SerialNumber)
	assert.Equal(t, 10, p.Motor.Type)
	assert.Equal(t, 1, p.Sensor.Type)
	// Defaults when absent.
	assert.Equal(t, 1.0, p.TorqueConstant)
	assert.False(t, p.PhysicalUnits)
	assert.False(t, p.ClearFaults)
}

func TestLoadSerialNumberWithPrefix(t *testing.T) {
	src := sourceFromYAML(t, `
actuator_name: joint1
serial_number: "0x628003588"
motor: {type: 10}
sensor: {type: 1}
`)
	p, err := Load(src, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, uint64(0x628003588), p.SerialNumber)
}

func TestLoadInvalidSerialNumber(t *testing.T) {
	src := sourceFromYAML(t, `
actuator_name: joint1
serial_number: "not-hex"
motor: {type: 10}
sensor: {type: 1}
`)
	_, err := Load(src, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not valid hex")
}

func TestLoadOperationModeMap(t *testing.T) {
	src := sourceFromYAML(t, minimalDoc+`
operation_mode_map:
  "": profile_velocity
  position_controller: profile_position
  effort_controller: current
`)
	p, err := Load(src, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, gateway.ProfileVelocityMode, p.OperationModeMap[""])
	assert.Equal(t, gateway.ProfilePositionMode, p.OperationModeMap["position_controller"])
	assert.Equal(t, gateway.CurrentMode, p.OperationModeMap["effort_controller"])
}

func TestLoadUnknownOperationMode(t *testing.T) {
	src := sourceFromYAML(t, minimalDoc+`
operation_mode_map:
  whatever: spin_really_fast
`)
	_, err := Load(src, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a valid operation mode")
}

func TestLoadMotorUnitNormalization(t *testing.T) {
	src := sourceFromYAML(t, `
actuator_name: joint1
serial_number: "1"
motor:
  type: 10
  ec_motor:
    nominal_current: 2.0
    max_output_current: 4.5
    thermal_time_constant: 22.5
    number_of_pole_pairs: 8
sensor:
  type: 1
`)
	p, err := Load(src, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, p.Motor.EC)

	// A -> mA and s -> 100ms at intake.
	assert.Equal(t, 2000, p.Motor.EC.NominalCurrentMA)
	assert.Equal(t, 4500, p.Motor.EC.MaxOutputCurrentMA)
	assert.Equal(t, 225, p.Motor.EC.ThermalTimeConstantDS)
	assert.Equal(t, 8, p.Motor.EC.PolePairs)
	// Diagnostics thresholds stay in amps.
	assert.Equal(t, 2.0, p.Motor.NominalCurrent)
	assert.Equal(t, 4.5, p.Motor.MaxCurrent)
}

func TestLoadPartialGroupFails(t *testing.T) {
	src := sourceFromYAML(t, `
actuator_name: joint1
serial_number: "1"
motor:
  type: 10
  dc_motor:
    nominal_current: 2.0
    max_output_current: 4.0
sensor:
  type: 1
`)
	_, err := Load(src, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `parameter group "motor.dc_motor"`)
	assert.Contains(t, err.Error(), "motor.dc_motor.nominal_current")
	assert.Contains(t, err.Error(), "motor.dc_motor.thermal_time_constant")
}

func TestLoadMultipleSensorSetsFail(t *testing.T) {
	src := sourceFromYAML(t, `
actuator_name: joint1
serial_number: "1"
motor:
  type: 10
sensor:
  type: 1
  incremental_encoder:
    resolution: 2000
    inverted_polarity: false
  hall_sensor:
    inverted_polarity: false
`)
	_, err := Load(src, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at most one sensor parameter set")
}

func TestLoadWindowTimeNormalization(t *testing.T) {
	src := sourceFromYAML(t, minimalDoc+`
position_profile:
  velocity: 100
  acceleration: 1000
  deceleration: 1000
  window:
    window: 50
    time: 0.25
`)
	p, err := Load(src, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, p.PositionProfile.Window)

	assert.Equal(t, 50, p.PositionProfile.Window.Window)
	assert.Equal(t, 250, p.PositionProfile.Window.TimeMS)
}

func TestLoadTorqueConstantMustBePositive(t *testing.T) {
	src := sourceFromYAML(t, minimalDoc+`
torque_constant: -1.0
`)
	_, err := Load(src, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "torque_constant must be > 0")
}

func TestFaultReactionCode(t *testing.T) {
	cases := map[string]int16{
		"signal_only":         -1,
		"disable_drive":       0,
		"slow_down_ramp":      1,
		"slow_down_quickstop": 2,
	}
	for raw, want := range cases {
		p := &ActuatorParams{FaultReaction: raw}
		code, err := p.FaultReactionCode()
		require.NoError(t, err)
		assert.Equal(t, want, code)
	}

	p := &ActuatorParams{FaultReaction: "panic"}
	_, err := p.FaultReactionCode()
	require.Error(t, err)
}

func TestLoadSafetyOptional(t *testing.T) {
	src := sourceFromYAML(t, minimalDoc+`
safety:
  max_profile_velocity: 12000
`)
	p, err := Load(src, zap.NewNop())
	require.NoError(t, err)

	require.NotNil(t, p.Safety.MaxProfileVelocity)
	assert.Equal(t, 12000, *p.Safety.MaxProfileVelocity)
	assert.Nil(t, p.Safety.MaxFollowingError)
	assert.Nil(t, p.Safety.MaxAcceleration)
}
