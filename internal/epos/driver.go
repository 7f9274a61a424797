// Package epos binds one EPOS4 motor controller to the control loop. The
// driver translates between physical or raw units and device commands,
// performs the one-shot bring-up sequence and reports health through the
// diagnostics updater.
package epos

import (
	"encoding/binary"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenServoCore/internal/gateway"
	"github.com/KevinKickass/OpenServoCore/internal/loop"
	"github.com/KevinKickass/OpenServoCore/internal/params"
)

const (
	protocolBaudrate = 1000000
	protocolTimeout  = 500 * time.Millisecond
)

// ConnectionInfo addresses the device on its transport.
type ConnectionInfo struct {
	DeviceType string
	Protocol   string
	Interface  string
}

// Driver owns exactly one device. The control cycle calls Read/Write/DoSwitch
// sequentially; the diagnostics updater reads cached state concurrently, so
// the mutex guards every scalar below it.
type Driver struct {
	logger *zap.Logger
	gw     gateway.Gateway
	params *params.ActuatorParams
	conn   ConnectionInfo

	mu          sync.Mutex
	attempted   bool
	operational bool

	statusword uint16
	position   float64
	velocity   float64
	effort     float64
	current    float64

	positionCmd float64
	velocityCmd float64
	torqueCmd   float64

	mode               gateway.OperationMode
	encoderResolution  int
	maxProfileVelocity int
	powerSupply        loop.PowerSupplyState
}

func New(gw gateway.Gateway, p *params.ActuatorParams, conn ConnectionInfo, logger *zap.Logger) *Driver {
	d := &Driver{
		logger:             logger.With(zap.String("actuator", p.ActuatorName)),
		gw:                 gw,
		params:             p,
		conn:               conn,
		positionCmd:        math.NaN(),
		velocityCmd:        math.NaN(),
		torqueCmd:          math.NaN(),
		maxProfileVelocity: -1,
	}
	d.powerSupply = loop.PowerSupplyState{
		Current:    loop.Scalar(math.NaN()),
		Charge:     loop.Scalar(math.NaN()),
		Capacity:   loop.Scalar(math.NaN()),
		Percentage: loop.Scalar(math.NaN()),
	}
	if p.PowerSupply != nil {
		d.powerSupply.Technology = p.PowerSupply.Technology
		d.powerSupply.Location = p.PowerSupply.Location
		d.powerSupply.SerialNumber = p.PowerSupply.SerialNumber
	}
	return d
}

func (d *Driver) Name() string { return d.params.ActuatorName }

// Operational reports whether bring-up completed successfully.
func (d *Driver) Operational() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.operational
}

// RegisterTo exposes the driver's scalars to the control loop. The loop host
// applies staged commands through the setters on its own goroutine; the
// setters take the driver mutex so telemetry and diagnostics never observe
// a torn value.
func (d *Driver) RegisterTo(reg *loop.Registry) error {
	name := d.params.ActuatorName
	if err := reg.RegisterState(loop.ActuatorStateHandle{
		Name:     name,
		Position: &d.position,
		Velocity: &d.velocity,
		Effort:   &d.effort,
	}); err != nil {
		return err
	}
	if err := reg.RegisterPositionCommand(loop.ActuatorCommandHandle{Name: name, Set: d.setPositionCmd}); err != nil {
		return err
	}
	if err := reg.RegisterVelocityCommand(loop.ActuatorCommandHandle{Name: name, Set: d.setVelocityCmd}); err != nil {
		return err
	}
	if err := reg.RegisterEffortCommand(loop.ActuatorCommandHandle{Name: name, Set: d.setTorqueCmd}); err != nil {
		return err
	}
	if d.params.PowerSupply != nil {
		if err := reg.RegisterPowerSupply(loop.PowerSupplyHandle{
			Name:  d.params.PowerSupply.Name,
			State: &d.powerSupply,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) setPositionCmd(v float64) {
	d.mu.Lock()
	d.positionCmd = v
	d.mu.Unlock()
}

func (d *Driver) setVelocityCmd(v float64) {
	d.mu.Lock()
	d.velocityCmd = v
	d.mu.Unlock()
}

func (d *Driver) setTorqueCmd(v float64) {
	d.mu.Lock()
	d.torqueCmd = v
	d.mu.Unlock()
}

// Init runs the bring-up sequence once. Any failure leaves the driver
// permanently non-operational; a second call is rejected outright.
func (d *Driver) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.attempted {
		return errors.New("bring-up already attempted")
	}
	d.attempted = true

	if err := d.bringUp(); err != nil {
		d.logger.Error("bring-up failed", zap.Error(err))
		return err
	}
	d.operational = true
	d.logger.Info("actuator operational")
	return nil
}

func (d *Driver) bringUp() error {
	p := d.params

	d.logger.Info("connecting",
		zap.String("interface", d.conn.Interface),
		zap.Uint64("serial_number", p.SerialNumber))
	if err := d.gw.Connect(d.conn.DeviceType, d.conn.Protocol, d.conn.Interface, p.SerialNumber); err != nil {
		return errors.Wrap(err, "could not connect to device")
	}
	if err := d.gw.SetProtocolStackSettings(protocolBaudrate, protocolTimeout); err != nil {
		return errors.Wrap(err, "could not set protocol stack settings")
	}
	if err := d.gw.SetDisableState(); err != nil {
		return errors.Wrap(err, "could not disable drive")
	}

	if mode, ok := p.OperationModeMap[""]; ok {
		d.logger.Info("setting initial operation mode", zap.Stringer("mode", mode))
		if err := d.gw.SetOperationMode(mode); err != nil {
			return errors.Wrap(err, "could not set initial operation mode")
		}
		d.mode = mode
	} else {
		d.logger.Warn("no initial operation mode set")
	}

	if p.FaultReaction != "" {
		code, err := p.FaultReactionCode()
		if err != nil {
			return err
		}
		buf := make([]byte, 2)
		binary.LittleEndian.PutUint16(buf, uint16(code))
		if err := d.gw.SetObject(gateway.ObjFaultReactionOption, 0x00, buf); err != nil {
			return errors.Wrap(err, "could not set fault reaction option")
		}
	}

	if err := d.setupMotor(); err != nil {
		return err
	}
	if err := d.setupSensor(); err != nil {
		return err
	}
	if err := d.setupSafety(); err != nil {
		return err
	}
	if err := d.setupRegulators(); err != nil {
		return err
	}
	if err := d.setupProfiles(); err != nil {
		return err
	}
	if err := d.checkFaults(); err != nil {
		return err
	}

	d.logger.Info("enabling motor")
	if err := d.gw.SetEnableState(); err != nil {
		return errors.Wrap(err, "could not enable drive")
	}
	return nil
}

func (d *Driver) setupMotor() error {
	p := d.params
	if err := d.gw.SetMotorType(p.Motor.Type); err != nil {
		return errors.Wrap(err, "could not set motor type")
	}
	if dc := p.Motor.DC; dc != nil {
		if err := d.gw.SetDcMotorParameter(dc.NominalCurrentMA, dc.MaxOutputCurrentMA, dc.ThermalTimeConstantDS); err != nil {
			return errors.Wrap(err, "could not set DC motor parameters")
		}
	}
	if ec := p.Motor.EC; ec != nil {
		if err := d.gw.SetEcMotorParameter(ec.NominalCurrentMA, ec.MaxOutputCurrentMA, ec.ThermalTimeConstantDS, ec.PolePairs); err != nil {
			return errors.Wrap(err, "could not set EC motor parameters")
		}
	}
	if p.Motor.MaxSpeed != nil {
		buf := make([]byte, gateway.MaxMotorSpeedObjectSize)
		binary.LittleEndian.PutUint32(buf, *p.Motor.MaxSpeed)
		if err := d.gw.SetObject(gateway.ObjMaxMotorSpeed, 0x00, buf); err != nil {
			return errors.Wrap(err, "could not set max motor speed")
		}
	}
	return nil
}

func (d *Driver) setupSensor() error {
	p := d.params
	if err := d.gw.SetSensorType(p.Sensor.Type); err != nil {
		return errors.Wrap(err, "could not set sensor type")
	}
	if inc := p.Sensor.Incremental; inc != nil {
		if err := d.gw.SetIncEncoderParameter(inc.Resolution, inc.InvertedPolarity); err != nil {
			return errors.Wrap(err, "could not set incremental encoder parameters")
		}
		d.encoderResolution = inc.Resolution
	}
	if hall := p.Sensor.Hall; hall != nil {
		if err := d.gw.SetHallSensorParameter(hall.InvertedPolarity); err != nil {
			return errors.Wrap(err, "could not set hall sensor parameters")
		}
	}
	if ssi := p.Sensor.Ssi; ssi != nil {
		if err := d.gw.SetSsiAbsEncoderParameter(ssi.DataRate, ssi.MultiturnBits, ssi.SingleturnBits, ssi.InvertedPolarity); err != nil {
			return errors.Wrap(err, "could not set SSI encoder parameters")
		}
		if ssi.InvertedPolarity {
			d.encoderResolution = -(1 << uint(ssi.SingleturnBits))
		} else {
			d.encoderResolution = 1 << uint(ssi.SingleturnBits)
		}
	}
	// A hall sensor alone yields no resolution.
	if d.encoderResolution == 0 {
		return errors.New("no encoder resolution could be derived")
	}
	return nil
}

func (d *Driver) setupSafety() error {
	s := d.params.Safety
	if s.MaxFollowingError != nil {
		if err := d.gw.SetMaxFollowingError(*s.MaxFollowingError); err != nil {
			return errors.Wrap(err, "could not set max following error")
		}
	}
	if s.MaxProfileVelocity != nil {
		if err := d.gw.SetMaxProfileVelocity(*s.MaxProfileVelocity); err != nil {
			return errors.Wrap(err, "could not set max profile velocity")
		}
		d.maxProfileVelocity = *s.MaxProfileVelocity
	}
	if s.MaxAcceleration != nil {
		if err := d.gw.SetMaxAcceleration(*s.MaxAcceleration); err != nil {
			return errors.Wrap(err, "could not set max acceleration")
		}
	}
	return nil
}

func (d *Driver) setupRegulators() error {
	p := d.params
	if g := p.PositionRegulator.Gain; g != nil {
		if err := d.gw.SetPositionRegulatorGain(g.P, g.I, g.D); err != nil {
			return errors.Wrap(err, "could not set position regulator gain")
		}
	}
	if ff := p.PositionRegulator.FeedForward; ff != nil {
		if err := d.gw.SetPositionRegulatorFeedForward(ff.Velocity, ff.Acceleration); err != nil {
			return errors.Wrap(err, "could not set position regulator feed forward")
		}
	}
	if g := p.VelocityRegulator.Gain; g != nil {
		if err := d.gw.SetVelocityRegulatorGain(g.P, g.I); err != nil {
			return errors.Wrap(err, "could not set velocity regulator gain")
		}
	}
	if ff := p.VelocityRegulator.FeedForward; ff != nil {
		if err := d.gw.SetVelocityRegulatorFeedForward(ff.Velocity, ff.Acceleration); err != nil {
			return errors.Wrap(err, "could not set velocity regulator feed forward")
		}
	}
	if g := p.CurrentRegulator.Gain; g != nil {
		if err := d.gw.SetCurrentRegulatorGain(g.P, g.I); err != nil {
			return errors.Wrap(err, "could not set current regulator gain")
		}
	}
	return nil
}

func (d *Driver) setupProfiles() error {
	p := d.params
	if prof := p.PositionProfile.Profile; prof != nil {
		if err := d.gw.SetPositionProfile(prof.Velocity, prof.Acceleration, prof.Deceleration); err != nil {
			return errors.Wrap(err, "could not set position profile")
		}
	}
	if w := p.PositionProfile.Window; w != nil {
		if err := d.gw.EnablePositionWindow(w.Window, w.TimeMS); err != nil {
			return errors.Wrap(err, "could not enable position window")
		}
	}
	if prof := p.VelocityProfile.Profile; prof != nil {
		if err := d.gw.SetVelocityProfile(prof.Acceleration, prof.Deceleration); err != nil {
			return errors.Wrap(err, "could not set velocity profile")
		}
	}
	if w := p.VelocityProfile.Window; w != nil {
		if err := d.gw.EnableVelocityWindow(w.Window, w.TimeMS); err != nil {
			return errors.Wrap(err, "could not enable velocity window")
		}
	}
	return nil
}

func (d *Driver) checkFaults() error {
	d.logger.Info("querying faults")
	num, err := d.gw.GetNbOfDeviceErrors()
	if err != nil {
		return errors.Wrap(err, "could not read device error count")
	}
	for i := 1; i <= num; i++ {
		code, err := d.gw.GetDeviceErrorCode(i)
		if err != nil {
			return errors.Wrapf(err, "could not read device error %d", i)
		}
		d.logger.Warn("device error", zap.String("code", deviceErrorString(code)))
	}

	if num > 0 {
		if !d.params.ClearFaults {
			return errors.New("not clearing faults, but faults exist")
		}
		d.logger.Info("clearing faults")
		if err := d.gw.ClearFault(); err != nil {
			return errors.Wrap(err, "could not clear faults")
		}
		d.logger.Info("cleared faults")
	}

	num, err = d.gw.GetNbOfDeviceErrors()
	if err != nil {
		return errors.Wrap(err, "could not read device error count")
	}
	if num > 0 {
		return errors.New("not all faults were cleared")
	}
	return nil
}

// Read refreshes cached state from the device. Transport errors keep the
// previous values; the diagnostics surface flags a stuck statusword.
func (d *Driver) Read() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.operational {
		return
	}

	buf := make([]byte, 2)
	if _, err := d.gw.GetObject(gateway.ObjStatusword, 0x00, buf); err == nil {
		d.statusword = binary.LittleEndian.Uint16(buf)
	} else {
		d.logger.Debug("statusword read failed", zap.Error(err))
	}

	positionRaw, posErr := d.gw.GetPositionIs()
	velocityRaw, velErr := d.gw.GetVelocityIs()
	currentRaw, curErr := d.gw.GetCurrentIs()
	if posErr != nil || velErr != nil || curErr != nil {
		d.logger.Debug("state read failed",
			zap.NamedError("position", posErr),
			zap.NamedError("velocity", velErr),
			zap.NamedError("current", curErr))
		return
	}

	if d.params.PhysicalUnits {
		d.position = countsToRad(positionRaw, d.encoderResolution)
		d.velocity = rpmToRadPerSec(velocityRaw)
		d.current = milliampsToAmps(currentRaw)
		d.effort = d.current * d.params.TorqueConstant / 1000 // mNm -> Nm
	} else {
		d.position = float64(positionRaw)
		d.velocity = float64(velocityRaw)
		d.current = milliampsToAmps(currentRaw)
		d.effort = d.current * d.params.TorqueConstant
	}

	if d.params.PowerSupply != nil {
		if _, err := d.gw.GetObject(gateway.ObjPowerSupplyVoltage, 0x01, buf); err == nil {
			voltage10x := binary.LittleEndian.Uint16(buf)
			d.powerSupply.Voltage = loop.Scalar(float64(voltage10x) / 10)
			d.powerSupply.Present = voltage10x > 0
		}
	}
}

// Write pushes the command of the active operation mode to the device. NaN
// commands mean "nothing commanded yet" and are skipped.
func (d *Driver) Write() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.operational {
		return
	}

	switch d.mode {
	case gateway.ProfileVelocityMode:
		if math.IsNaN(d.velocityCmd) {
			return
		}
		var cmd int
		if d.params.PhysicalUnits {
			cmd = radPerSecToRPM(d.velocityCmd)
		} else {
			cmd = int(d.velocityCmd)
		}
		cmd = clampRPM(cmd, d.maxProfileVelocity)
		if cmd == 0 && d.params.HaltVelocity {
			if err := d.gw.HaltVelocityMovement(); err != nil {
				d.logger.Debug("halt failed", zap.Error(err))
			}
		} else {
			if err := d.gw.MoveWithVelocity(cmd); err != nil {
				d.logger.Debug("velocity command failed", zap.Error(err))
			}
		}

	case gateway.ProfilePositionMode:
		if math.IsNaN(d.positionCmd) {
			return
		}
		var cmd int
		if d.params.PhysicalUnits {
			cmd = radToCounts(d.positionCmd, d.encoderResolution)
		} else {
			cmd = int(d.positionCmd)
		}
		if err := d.gw.MoveToPosition(cmd, true, true); err != nil {
			d.logger.Debug("position command failed", zap.Error(err))
		}

	case gateway.CurrentMode:
		if math.IsNaN(d.torqueCmd) {
			return
		}
		var cmd int
		if d.params.PhysicalUnits {
			// A -> mA after dividing out the torque constant
			cmd = int(d.torqueCmd / d.params.TorqueConstant * 1000)
		} else {
			cmd = int(d.torqueCmd / d.params.TorqueConstant)
		}
		if err := d.gw.SetCurrentSetpoint(cmd); err != nil {
			d.logger.Debug("current command failed", zap.Error(err))
		}
	}
}

// DoSwitch changes the operation mode according to the starting control
// strategies. Names without a mapping leave the mode unchanged.
func (d *Driver) DoSwitch(start, stop []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.operational {
		return
	}
	for _, name := range start {
		mode, ok := d.params.OperationModeMap[name]
		if !ok {
			continue
		}
		if err := d.gw.SetOperationMode(mode); err != nil {
			d.logger.Error("operation mode switch failed",
				zap.String("controller", name),
				zap.Stringer("mode", mode),
				zap.Error(err))
			continue
		}
		d.logger.Info("operation mode switched",
			zap.String("controller", name),
			zap.Stringer("mode", mode))
		d.mode = mode
	}
}

// Close disables the drive and releases the transport. Disabling is the
// terminal action even when the close itself fails.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var disableErr error
	if d.operational {
		disableErr = d.gw.SetDisableState()
		d.operational = false
	}
	return multierr.Combine(
		errors.Wrap(disableErr, "disable drive"),
		errors.Wrap(d.gw.Close(), "close gateway"),
	)
}

// Snapshot is the REST/telemetry view of the driver.
type Snapshot struct {
	Name        string  `json:"name"`
	Operational bool    `json:"operational"`
	Mode        string  `json:"mode"`
	Position    float64 `json:"position"`
	Velocity    float64 `json:"velocity"`
	Effort      float64 `json:"effort"`
	Current     float64 `json:"current"`
	Statusword  uint16  `json:"statusword"`

	PositionCommand loop.Scalar `json:"position_command"`
	VelocityCommand loop.Scalar `json:"velocity_command"`
	TorqueCommand   loop.Scalar `json:"torque_command"`

	PowerSupply *loop.PowerSupplyState `json:"power_supply,omitempty"`
}

func (d *Driver) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := Snapshot{
		Name:            d.params.ActuatorName,
		Operational:     d.operational,
		Mode:            d.mode.String(),
		Position:        d.position,
		Velocity:        d.velocity,
		Effort:          d.effort,
		Current:         d.current,
		Statusword:      d.statusword,
		PositionCommand: loop.Scalar(d.positionCmd),
		VelocityCommand: loop.Scalar(d.velocityCmd),
		TorqueCommand:   loop.Scalar(d.torqueCmd),
	}
	if d.params.PowerSupply != nil {
		ps := d.powerSupply
		s.PowerSupply = &ps
	}
	return s
}
