package params

import (
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/KevinKickass/OpenServoCore/internal/gateway"
)

// ActuatorParams is the validated parameter set for one EPOS4 actuator.
// Values destined for the device carry device units (mA, 0.1 s, ms) after
// Load; diagnostic thresholds keep physical units (A).
type ActuatorParams struct {
	ActuatorName     string
	SerialNumber     uint64
	OperationModeMap map[string]gateway.OperationMode
	PhysicalUnits    bool // rw_ros_units: radians/rad/s/Nm instead of raw device units

	PowerSupply *PowerSupply

	// FaultReaction is the raw fault_reaction_option string, validated and
	// mapped to a device code during bring-up ("" when unset).
	FaultReaction  string
	TorqueConstant float64
	ClearFaults    bool
	HaltVelocity   bool

	Motor  MotorParams
	Sensor SensorParams
	Safety SafetyParams

	PositionRegulator PositionRegulatorParams
	VelocityRegulator VelocityRegulatorParams
	CurrentRegulator  CurrentRegulatorParams

	PositionProfile PositionProfileParams
	VelocityProfile VelocityProfileParams
}

type PowerSupply struct {
	Name         string
	Technology   string
	Location     string
	SerialNumber string
}

type MotorParams struct {
	Type     int
	DC       *DcMotor
	EC       *EcMotor
	MaxSpeed *uint32

	// Nominal/max current in amperes, kept for diagnostics thresholds.
	NominalCurrent float64
	MaxCurrent     float64
}

type DcMotor struct {
	NominalCurrentMA      int
	MaxOutputCurrentMA    int
	ThermalTimeConstantDS int // 0.1 s units
}

type EcMotor struct {
	DcMotor
	PolePairs int
}

type SensorParams struct {
	Type        int
	Incremental *IncEncoder
	Hall        *HallSensor
	Ssi         *SsiEncoder
}

type IncEncoder struct {
	Resolution       int
	InvertedPolarity bool
}

type HallSensor struct {
	InvertedPolarity bool
}

type SsiEncoder struct {
	DataRate         int
	MultiturnBits    int
	SingleturnBits   int
	InvertedPolarity bool
}

type SafetyParams struct {
	MaxFollowingError  *int
	MaxProfileVelocity *int
	MaxAcceleration    *int
}

type PID struct{ P, I, D int }

type PI struct{ P, I int }

type FeedForward struct{ Velocity, Acceleration int }

type PositionRegulatorParams struct {
	Gain        *PID
	FeedForward *FeedForward
}

type VelocityRegulatorParams struct {
	Gain        *PI
	FeedForward *FeedForward
}

type CurrentRegulatorParams struct {
	Gain *PI
}

type PositionProfileParams struct {
	Profile *PositionProfile
	Window  *ProfileWindow
}

type PositionProfile struct {
	Velocity     int
	Acceleration int
	Deceleration int
}

type VelocityProfileParams struct {
	Profile *VelocityProfile
	Window  *ProfileWindow
}

type VelocityProfile struct {
	Acceleration int
	Deceleration int
}

type ProfileWindow struct {
	Window int
	TimeMS int // configured in seconds, stored in ms
}

// FaultReactionCode maps the fault_reaction_option string to the device code
// written to the fault reaction object.
func (p *ActuatorParams) FaultReactionCode() (int16, error) {
	switch p.FaultReaction {
	case "signal_only":
		return -1, nil
	case "disable_drive":
		return 0, nil
	case "slow_down_ramp":
		return 1, nil
	case "slow_down_quickstop":
		return 2, nil
	default:
		return 0, fmt.Errorf("%q is not a valid fault reaction option", p.FaultReaction)
	}
}

// Load validates the parameter tree and returns a fully populated
// ActuatorParams, or a descriptive validation error before any device I/O.
func Load(src Source, logger *zap.Logger) (*ActuatorParams, error) {
	p := &ActuatorParams{
		OperationModeMap: make(map[string]gateway.OperationMode),
		TorqueConstant:   1.0,
	}

	name, ok := src.String("actuator_name")
	if !ok {
		return nil, fmt.Errorf("actuator_name not specified")
	}
	p.ActuatorName = name

	serialStr, ok := src.String("serial_number")
	if !ok {
		return nil, fmt.Errorf("serial_number not specified")
	}
	serial, err := strconv.ParseUint(strings.TrimPrefix(serialStr, "0x"), 16, 64)
	if err != nil {
		return nil, fmt.Errorf("serial_number %q is not valid hex: %w", serialStr, err)
	}
	p.SerialNumber = serial

	if modeMap, ok := src.StringMap("operation_mode_map"); ok {
		for controller, modeStr := range modeMap {
			switch modeStr {
			case "profile_position":
				p.OperationModeMap[controller] = gateway.ProfilePositionMode
			case "profile_velocity":
				p.OperationModeMap[controller] = gateway.ProfileVelocityMode
			case "current":
				p.OperationModeMap[controller] = gateway.CurrentMode
			default:
				return nil, fmt.Errorf("%q is not a valid operation mode (controller %q)", modeStr, controller)
			}
		}
	}

	p.PhysicalUnits, _ = src.Bool("rw_ros_units")

	if psName, ok := src.String("power_supply.name"); ok && psName != "" {
		ps := &PowerSupply{Name: psName}
		ps.Technology, _ = src.String("power_supply.technology")
		ps.Location, _ = src.String("power_supply.location")
		ps.SerialNumber, _ = src.String("power_supply.serial_number")
		p.PowerSupply = ps
	}

	p.FaultReaction, _ = src.String("fault_reaction_option")

	if tc, ok := src.Float("torque_constant"); ok {
		if tc <= 0 {
			return nil, fmt.Errorf("torque_constant must be > 0, got %v", tc)
		}
		p.TorqueConstant = tc
	} else {
		logger.Warn("no torque constant specified, defaulting to 1.0",
			zap.String("actuator", p.ActuatorName))
	}

	p.ClearFaults, _ = src.Bool("clear_faults")
	p.HaltVelocity, _ = src.Bool("halt_velocity")

	if err := loadMotor(src, p); err != nil {
		return nil, err
	}
	if err := loadSensor(src, p); err != nil {
		return nil, err
	}
	if err := loadSafety(src, p); err != nil {
		return nil, err
	}
	if err := loadRegulators(src, p); err != nil {
		return nil, err
	}
	if err := loadProfiles(src, p); err != nil {
		return nil, err
	}

	return p, nil
}

func loadMotor(src Source, p *ActuatorParams) error {
	motorType, ok := src.Int("motor.type")
	if !ok {
		return fmt.Errorf("motor.type not specified")
	}
	p.Motor.Type = motorType

	var nominal, maxOut, thermal float64
	dcPresent, err := NewGroup(src, "motor.dc_motor").
		Float("nominal_current", &nominal).
		Float("max_output_current", &maxOut).
		Float("thermal_time_constant", &thermal).
		AllOrNone()
	if err != nil {
		return err
	}
	if dcPresent {
		p.Motor.NominalCurrent = nominal
		p.Motor.MaxCurrent = maxOut
		p.Motor.DC = &DcMotor{
			NominalCurrentMA:      int(1000 * nominal), // A -> mA
			MaxOutputCurrentMA:    int(1000 * maxOut),  // A -> mA
			ThermalTimeConstantDS: int(10 * thermal),   // s -> 100ms
		}
	}

	var polePairs int
	ecPresent, err := NewGroup(src, "motor.ec_motor").
		Float("nominal_current", &nominal).
		Float("max_output_current", &maxOut).
		Float("thermal_time_constant", &thermal).
		Int("number_of_pole_pairs", &polePairs).
		AllOrNone()
	if err != nil {
		return err
	}
	if ecPresent {
		p.Motor.NominalCurrent = nominal
		p.Motor.MaxCurrent = maxOut
		p.Motor.EC = &EcMotor{
			DcMotor: DcMotor{
				NominalCurrentMA:      int(1000 * nominal),
				MaxOutputCurrentMA:    int(1000 * maxOut),
				ThermalTimeConstantDS: int(10 * thermal),
			},
			PolePairs: polePairs,
		}
	}

	if maxSpeed, ok := src.Float("motor.max_speed"); ok {
		v := uint32(maxSpeed)
		p.Motor.MaxSpeed = &v
	}
	return nil
}

func loadSensor(src Source, p *ActuatorParams) error {
	sensorType, ok := src.Int("sensor.type")
	if !ok {
		return fmt.Errorf("sensor.type not specified")
	}
	p.Sensor.Type = sensorType

	var resolution int
	var inverted bool
	incPresent, err := NewGroup(src, "sensor.incremental_encoder").
		Int("resolution", &resolution).
		Bool("inverted_polarity", &inverted).
		AllOrNone()
	if err != nil {
		return err
	}
	if incPresent {
		p.Sensor.Incremental = &IncEncoder{Resolution: resolution, InvertedPolarity: inverted}
	}

	hallPresent, err := NewGroup(src, "sensor.hall_sensor").
		Bool("inverted_polarity", &inverted).
		AllOrNone()
	if err != nil {
		return err
	}
	if hallPresent {
		p.Sensor.Hall = &HallSensor{InvertedPolarity: inverted}
	}

	var dataRate, multiturn, singleturn int
	ssiPresent, err := NewGroup(src, "sensor.ssi_absolute_encoder").
		Int("data_rate", &dataRate).
		Int("number_of_multiturn_bits", &multiturn).
		Int("number_of_singleturn_bits", &singleturn).
		Bool("inverted_polarity", &inverted).
		AllOrNone()
	if err != nil {
		return err
	}
	if ssiPresent {
		p.Sensor.Ssi = &SsiEncoder{
			DataRate:         dataRate,
			MultiturnBits:    multiturn,
			SingleturnBits:   singleturn,
			InvertedPolarity: inverted,
		}
	}

	configured := 0
	for _, present := range []bool{incPresent, hallPresent, ssiPresent} {
		if present {
			configured++
		}
	}
	if configured > 1 {
		return fmt.Errorf("at most one sensor parameter set may be configured, got %d", configured)
	}
	return nil
}

func loadSafety(src Source, p *ActuatorParams) error {
	if v, ok := src.Int("safety.max_following_error"); ok {
		p.Safety.MaxFollowingError = &v
	}
	if v, ok := src.Int("safety.max_profile_velocity"); ok {
		p.Safety.MaxProfileVelocity = &v
	}
	if v, ok := src.Int("safety.max_acceleration"); ok {
		p.Safety.MaxAcceleration = &v
	}
	return nil
}

func loadRegulators(src Source, p *ActuatorParams) error {
	var gain PID
	present, err := NewGroup(src, "position_regulator.gain").
		Int("p", &gain.P).
		Int("i", &gain.I).
		Int("d", &gain.D).
		AllOrNone()
	if err != nil {
		return err
	}
	if present {
		g := gain
		p.PositionRegulator.Gain = &g
	}

	var ff FeedForward
	present, err = NewGroup(src, "position_regulator.feed_forward").
		Int("velocity", &ff.Velocity).
		Int("acceleration", &ff.Acceleration).
		AllOrNone()
	if err != nil {
		return err
	}
	if present {
		f := ff
		p.PositionRegulator.FeedForward = &f
	}

	var vgain PI
	present, err = NewGroup(src, "velocity_regulator.gain").
		Int("p", &vgain.P).
		Int("i", &vgain.I).
		AllOrNone()
	if err != nil {
		return err
	}
	if present {
		g := vgain
		p.VelocityRegulator.Gain = &g
	}

	present, err = NewGroup(src, "velocity_regulator.feed_forward").
		Int("velocity", &ff.Velocity).
		Int("acceleration", &ff.Acceleration).
		AllOrNone()
	if err != nil {
		return err
	}
	if present {
		f := ff
		p.VelocityRegulator.FeedForward = &f
	}

	var cgain PI
	present, err = NewGroup(src, "current_regulator.gain").
		Int("p", &cgain.P).
		Int("i", &cgain.I).
		AllOrNone()
	if err != nil {
		return err
	}
	if present {
		g := cgain
		p.CurrentRegulator.Gain = &g
	}
	return nil
}

func loadProfiles(src Source, p *ActuatorParams) error {
	var pp PositionProfile
	present, err := NewGroup(src, "position_profile").
		Int("velocity", &pp.Velocity).
		Int("acceleration", &pp.Acceleration).
		Int("deceleration", &pp.Deceleration).
		AllOrNone()
	if err != nil {
		return err
	}
	if present {
		prof := pp
		p.PositionProfile.Profile = &prof
	}

	w, err := loadWindow(src, "position_profile.window")
	if err != nil {
		return err
	}
	p.PositionProfile.Window = w

	var vp VelocityProfile
	present, err = NewGroup(src, "velocity_profile").
		Int("acceleration", &vp.Acceleration).
		Int("deceleration", &vp.Deceleration).
		AllOrNone()
	if err != nil {
		return err
	}
	if present {
		prof := vp
		p.VelocityProfile.Profile = &prof
	}

	w, err = loadWindow(src, "velocity_profile.window")
	if err != nil {
		return err
	}
	p.VelocityProfile.Window = w
	return nil
}

func loadWindow(src Source, ns string) (*ProfileWindow, error) {
	var window int
	var seconds float64
	present, err := NewGroup(src, ns).
		Int("window", &window).
		Float("time", &seconds).
		AllOrNone()
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, nil
	}
	return &ProfileWindow{
		Window: window,
		TimeMS: int(1000 * seconds), // s -> ms
	}, nil
}
