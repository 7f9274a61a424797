package epos

import (
	"encoding/binary"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenServoCore/internal/gateway"
	"github.com/KevinKickass/OpenServoCore/internal/loop"
	"github.com/KevinKickass/OpenServoCore/internal/params"
)

// fakeGateway records every command in call order and lets tests fail
// selected commands or stage device errors.
type fakeGateway struct {
	calls   []string
	failOn  map[string]error
	objects map[string][]byte

	deviceErrors []uint32
	clearWorks   bool

	position int32
	velocity int32
	current  int16
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		failOn:     make(map[string]error),
		objects:    make(map[string][]byte),
		clearWorks: true,
	}
}

func (f *fakeGateway) record(op string, args ...interface{}) error {
	if len(args) > 0 {
		op = op + fmt.Sprintf("%v", args)
	}
	f.calls = append(f.calls, op)
	if err, ok := f.failOn[opName(op)]; ok {
		return err
	}
	return nil
}

// opName strips the recorded argument suffix.
func opName(call string) string {
	for i, r := range call {
		if r == '[' {
			return call[:i]
		}
	}
	return call
}

func (f *fakeGateway) callNames() []string {
	names := make([]string, len(f.calls))
	for i, c := range f.calls {
		names[i] = opName(c)
	}
	return names
}

func (f *fakeGateway) Connect(deviceType, protocolName, interfaceName string, serial uint64) error {
	return f.record("Connect", deviceType, protocolName, interfaceName, serial)
}
func (f *fakeGateway) Close() error { return f.record("Close") }
func (f *fakeGateway) SetProtocolStackSettings(baudrate uint32, timeout time.Duration) error {
	return f.record("SetProtocolStackSettings", baudrate, timeout)
}
func (f *fakeGateway) SetEnableState() error  { return f.record("SetEnableState") }
func (f *fakeGateway) SetDisableState() error { return f.record("SetDisableState") }
func (f *fakeGateway) SetOperationMode(mode gateway.OperationMode) error {
	return f.record("SetOperationMode", int8(mode))
}
func (f *fakeGateway) SetMotorType(motorType int) error {
	return f.record("SetMotorType", motorType)
}
func (f *fakeGateway) SetDcMotorParameter(nominal, maxOut, thermal int) error {
	return f.record("SetDcMotorParameter", nominal, maxOut, thermal)
}
func (f *fakeGateway) SetEcMotorParameter(nominal, maxOut, thermal, polePairs int) error {
	return f.record("SetEcMotorParameter", nominal, maxOut, thermal, polePairs)
}
func (f *fakeGateway) SetSensorType(sensorType int) error {
	return f.record("SetSensorType", sensorType)
}
func (f *fakeGateway) SetIncEncoderParameter(resolution int, inverted bool) error {
	return f.record("SetIncEncoderParameter", resolution, inverted)
}
func (f *fakeGateway) SetHallSensorParameter(inverted bool) error {
	return f.record("SetHallSensorParameter", inverted)
}
func (f *fakeGateway) SetSsiAbsEncoderParameter(dataRate, multiturn, singleturn int, inverted bool) error {
	return f.record("SetSsiAbsEncoderParameter", dataRate, multiturn, singleturn, inverted)
}
func (f *fakeGateway) SetMaxFollowingError(counts int) error {
	return f.record("SetMaxFollowingError", counts)
}
func (f *fakeGateway) SetMaxProfileVelocity(rpm int) error {
	return f.record("SetMaxProfileVelocity", rpm)
}
func (f *fakeGateway) SetMaxAcceleration(rpmPerSec int) error {
	return f.record("SetMaxAcceleration", rpmPerSec)
}
func (f *fakeGateway) SetPositionRegulatorGain(p, i, d int) error {
	return f.record("SetPositionRegulatorGain", p, i, d)
}
func (f *fakeGateway) SetPositionRegulatorFeedForward(v, a int) error {
	return f.record("SetPositionRegulatorFeedForward", v, a)
}
func (f *fakeGateway) SetVelocityRegulatorGain(p, i int) error {
	return f.record("SetVelocityRegulatorGain", p, i)
}
func (f *fakeGateway) SetVelocityRegulatorFeedForward(v, a int) error {
	return f.record("SetVelocityRegulatorFeedForward", v, a)
}
func (f *fakeGateway) SetCurrentRegulatorGain(p, i int) error {
	return f.record("SetCurrentRegulatorGain", p, i)
}
func (f *fakeGateway) SetPositionProfile(v, a, d int) error {
	return f.record("SetPositionProfile", v, a, d)
}
func (f *fakeGateway) EnablePositionWindow(window, timeMS int) error {
	return f.record("EnablePositionWindow", window, timeMS)
}
func (f *fakeGateway) SetVelocityProfile(a, d int) error {
	return f.record("SetVelocityProfile", a, d)
}
func (f *fakeGateway) EnableVelocityWindow(window, timeMS int) error {
	return f.record("EnableVelocityWindow", window, timeMS)
}

func (f *fakeGateway) GetNbOfDeviceErrors() (int, error) {
	if err := f.record("GetNbOfDeviceErrors"); err != nil {
		return 0, err
	}
	return len(f.deviceErrors), nil
}

func (f *fakeGateway) GetDeviceErrorCode(index int) (uint32, error) {
	if err := f.record("GetDeviceErrorCode", index); err != nil {
		return 0, err
	}
	return f.deviceErrors[index-1], nil
}

func (f *fakeGateway) ClearFault() error {
	err := f.record("ClearFault")
	if err == nil && f.clearWorks {
		f.deviceErrors = nil
	}
	return err
}

func (f *fakeGateway) GetPositionIs() (int32, error) {
	if err := f.record("GetPositionIs"); err != nil {
		return 0, err
	}
	return f.position, nil
}

func (f *fakeGateway) GetVelocityIs() (int32, error) {
	if err := f.record("GetVelocityIs"); err != nil {
		return 0, err
	}
	return f.velocity, nil
}

func (f *fakeGateway) GetCurrentIs() (int16, error) {
	if err := f.record("GetCurrentIs"); err != nil {
		return 0, err
	}
	return f.current, nil
}

func objKey(index uint16, subindex uint8) string {
	return fmt.Sprintf("%04X/%02X", index, subindex)
}

func (f *fakeGateway) GetObject(index uint16, subindex uint8, buf []byte) (int, error) {
	if err := f.record("GetObject", index, subindex); err != nil {
		return 0, err
	}
	data, ok := f.objects[objKey(index, subindex)]
	if !ok {
		data = make([]byte, len(buf))
	}
	return copy(buf, data), nil
}

func (f *fakeGateway) SetObject(index uint16, subindex uint8, data []byte) error {
	if err := f.record("SetObject", index, subindex, data); err != nil {
		return err
	}
	f.objects[objKey(index, subindex)] = append([]byte(nil), data...)
	return nil
}

func (f *fakeGateway) MoveWithVelocity(rpm int) error {
	return f.record("MoveWithVelocity", rpm)
}
func (f *fakeGateway) HaltVelocityMovement() error { return f.record("HaltVelocityMovement") }
func (f *fakeGateway) MoveToPosition(target int, absolute, immediately bool) error {
	return f.record("MoveToPosition", target, absolute, immediately)
}
func (f *fakeGateway) SetCurrentSetpoint(currentMA int) error {
	return f.record("SetCurrentSetpoint", currentMA)
}

var _ gateway.Gateway = (*fakeGateway)(nil)

func testParams() *params.ActuatorParams {
	res := 2000
	maxVel := 10
	return &params.ActuatorParams{
		ActuatorName: "joint1",
		SerialNumber: 0x628003588,
		OperationModeMap: map[string]gateway.OperationMode{
			"":                    gateway.ProfileVelocityMode,
			"position_controller": gateway.ProfilePositionMode,
			"effort_controller":   gateway.CurrentMode,
		},
		PhysicalUnits:  true,
		TorqueConstant: 2.0,
		Motor: params.MotorParams{
			Type:           10,
			NominalCurrent: 2.0,
			MaxCurrent:     4.0,
			EC: &params.EcMotor{
				DcMotor: params.DcMotor{
					NominalCurrentMA:      2000,
					MaxOutputCurrentMA:    4000,
					ThermalTimeConstantDS: 225,
				},
				PolePairs: 8,
			},
		},
		Sensor: params.SensorParams{
			Type:        1,
			Incremental: &params.IncEncoder{Resolution: res, InvertedPolarity: false},
		},
		Safety: params.SafetyParams{MaxProfileVelocity: &maxVel},
	}
}

func testConn() ConnectionInfo {
	return ConnectionInfo{DeviceType: "EPOS4", Protocol: "CANopen", Interface: "can0"}
}

func initializedDriver(t *testing.T, fake *fakeGateway, p *params.ActuatorParams) *Driver {
	t.Helper()
	d := New(fake, p, testConn(), zap.NewNop())
	require.NoError(t, d.Init())
	return d
}

func TestBringUpOrder(t *testing.T) {
	fake := newFakeGateway()
	d := New(fake, testParams(), testConn(), zap.NewNop())

	require.NoError(t, d.Init())
	assert.True(t, d.Operational())

	names := fake.callNames()
	expected := []string{
		"Connect",
		"SetProtocolStackSettings",
		"SetDisableState",
		"SetOperationMode",
		"SetMotorType",
		"SetEcMotorParameter",
		"SetSensorType",
		"SetIncEncoderParameter",
		"SetMaxProfileVelocity",
		"GetNbOfDeviceErrors",
		"GetNbOfDeviceErrors",
		"SetEnableState",
	}
	assert.Equal(t, expected, names)
}

func TestBringUpIsOneShot(t *testing.T) {
	fake := newFakeGateway()
	fake.failOn["SetDisableState"] = fmt.Errorf("bus off")
	d := New(fake, testParams(), testConn(), zap.NewNop())

	require.Error(t, d.Init())
	assert.False(t, d.Operational())

	// A second attempt is rejected without touching the device again.
	before := len(fake.calls)
	require.Error(t, d.Init())
	assert.Equal(t, before, len(fake.calls))
}

func TestBringUpFaultsWithoutClearAbort(t *testing.T) {
	fake := newFakeGateway()
	fake.deviceErrors = []uint32{0x2310}
	p := testParams()
	p.ClearFaults = false

	d := New(fake, p, testConn(), zap.NewNop())
	err := d.Init()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "faults exist")
	assert.NotContains(t, fake.callNames(), "SetEnableState")
}

func TestBringUpClearsFaults(t *testing.T) {
	fake := newFakeGateway()
	fake.deviceErrors = []uint32{0x2310, 0x3210}
	p := testParams()
	p.ClearFaults = true

	d := New(fake, p, testConn(), zap.NewNop())
	require.NoError(t, d.Init())
	assert.Contains(t, fake.callNames(), "ClearFault")
	assert.True(t, d.Operational())
}

func TestBringUpAbortsWhenFaultsPersist(t *testing.T) {
	fake := newFakeGateway()
	fake.deviceErrors = []uint32{0x2310}
	fake.clearWorks = false
	p := testParams()
	p.ClearFaults = true

	d := New(fake, p, testConn(), zap.NewNop())
	err := d.Init()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not all faults were cleared")
}

func TestBringUpUnknownFaultReactionAborts(t *testing.T) {
	fake := newFakeGateway()
	p := testParams()
	p.FaultReaction = "explode"

	d := New(fake, p, testConn(), zap.NewNop())
	err := d.Init()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a valid fault reaction option")
}

func TestBringUpWritesFaultReaction(t *testing.T) {
	fake := newFakeGateway()
	p := testParams()
	p.FaultReaction = "signal_only"

	d := New(fake, p, testConn(), zap.NewNop())
	require.NoError(t, d.Init())

	data := fake.objects[objKey(gateway.ObjFaultReactionOption, 0x00)]
	require.Len(t, data, 2)
	assert.Equal(t, int16(-1), int16(binary.LittleEndian.Uint16(data)))
}

func TestBringUpRequiresEncoderResolution(t *testing.T) {
	// The abort applies in raw unit mode too, not just when converting.
	for _, physical := range []bool{true, false} {
		fake := newFakeGateway()
		p := testParams()
		p.PhysicalUnits = physical
		p.Sensor.Incremental = nil
		p.Sensor.Hall = &params.HallSensor{}

		d := New(fake, p, testConn(), zap.NewNop())
		err := d.Init()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no encoder resolution")
		assert.NotContains(t, fake.callNames(), "SetEnableState")
	}
}

func TestReadPhysicalUnits(t *testing.T) {
	fake := newFakeGateway()
	fake.position = 4000 // one full revolution at 2000 lines
	fake.velocity = 30   // rpm
	fake.current = 1500  // mA
	d := initializedDriver(t, fake, testParams())

	d.Read()
	snap := d.Snapshot()

	assert.InDelta(t, math.Pi, snap.Position, 1e-9)
	assert.InDelta(t, math.Pi, snap.Velocity, 1e-9)
	assert.InDelta(t, 1.5, snap.Current, 1e-9)
	// 1.5 A * 2.0 mNm/A -> 3.0 mNm -> 0.003 Nm
	assert.InDelta(t, 0.003, snap.Effort, 1e-9)
}

func TestReadRawUnits(t *testing.T) {
	fake := newFakeGateway()
	fake.position = 1234
	fake.velocity = 56
	fake.current = 2500
	p := testParams()
	p.PhysicalUnits = false
	d := initializedDriver(t, fake, p)

	d.Read()
	snap := d.Snapshot()

	assert.Equal(t, 1234.0, snap.Position)
	assert.Equal(t, 56.0, snap.Velocity)
	assert.InDelta(t, 2.5, snap.Current, 1e-9)
	assert.InDelta(t, 5.0, snap.Effort, 1e-9)
}

func TestWriteVelocityClampsToMaxProfileVelocity(t *testing.T) {
	fake := newFakeGateway()
	d := initializedDriver(t, fake, testParams())

	d.velocityCmd = 1000 // rad/s, way past 10 rpm
	d.Write()

	assert.Contains(t, fake.calls, "MoveWithVelocity[10]")
}

func TestWriteVelocityHaltsAtZero(t *testing.T) {
	fake := newFakeGateway()
	p := testParams()
	p.HaltVelocity = true
	d := initializedDriver(t, fake, p)

	d.velocityCmd = 0
	d.Write()

	assert.Contains(t, fake.callNames(), "HaltVelocityMovement")
	assert.NotContains(t, fake.callNames(), "MoveWithVelocity")
}

func TestWriteNaNCommandSkipped(t *testing.T) {
	fake := newFakeGateway()
	d := initializedDriver(t, fake, testParams())
	before := len(fake.calls)

	d.Write() // velocityCmd is still NaN

	assert.Equal(t, before, len(fake.calls))
}

func TestWritePositionRawTruncates(t *testing.T) {
	fake := newFakeGateway()
	p := testParams()
	p.PhysicalUnits = false
	d := initializedDriver(t, fake, p)

	d.DoSwitch([]string{"position_controller"}, nil)
	d.positionCmd = 123.9
	d.Write()

	assert.Contains(t, fake.calls, "MoveToPosition[123 true true]")
}

func TestWriteTorquePhysicalUnits(t *testing.T) {
	fake := newFakeGateway()
	d := initializedDriver(t, fake, testParams())

	d.DoSwitch([]string{"effort_controller"}, nil)
	d.torqueCmd = 4.0 // Nm, torque constant 2.0
	d.Write()

	assert.Contains(t, fake.calls, "SetCurrentSetpoint[2000]")
}

func TestDoSwitchUnknownControllerKeepsMode(t *testing.T) {
	fake := newFakeGateway()
	d := initializedDriver(t, fake, testParams())
	before := d.Snapshot().Mode

	d.DoSwitch([]string{"nonexistent"}, nil)

	assert.Equal(t, before, d.Snapshot().Mode)
}

func TestNotOperationalIsNoOp(t *testing.T) {
	fake := newFakeGateway()
	fake.failOn["Connect"] = fmt.Errorf("no such device")
	d := New(fake, testParams(), testConn(), zap.NewNop())
	require.Error(t, d.Init())
	before := len(fake.calls)

	d.Read()
	d.velocityCmd = 1
	d.Write()
	d.DoSwitch([]string{"position_controller"}, nil)

	assert.Equal(t, before, len(fake.calls))
}

func TestCloseDisablesDrive(t *testing.T) {
	fake := newFakeGateway()
	d := initializedDriver(t, fake, testParams())

	require.NoError(t, d.Close())

	names := fake.callNames()
	assert.Equal(t, "SetDisableState", names[len(names)-2])
	assert.Equal(t, "Close", names[len(names)-1])
	assert.False(t, d.Operational())
}

func TestRegisterTo(t *testing.T) {
	fake := newFakeGateway()
	p := testParams()
	p.PowerSupply = &params.PowerSupply{Name: "battery", Technology: "LiPo"}
	d := New(fake, p, testConn(), zap.NewNop())

	reg := loop.NewRegistry()
	require.NoError(t, d.RegisterTo(reg))

	state, ok := reg.State("joint1")
	require.True(t, ok)
	assert.NotNil(t, state.Position)

	_, ok = reg.VelocityCommand("joint1")
	assert.True(t, ok)

	ps, ok := reg.PowerSupply("battery")
	require.True(t, ok)
	assert.True(t, math.IsNaN(float64(ps.State.Current)))

	// Double registration is an error.
	assert.Error(t, d.RegisterTo(reg))
}

func TestCommandHandleSafeDuringSnapshot(t *testing.T) {
	fake := newFakeGateway()
	d := initializedDriver(t, fake, testParams())

	reg := loop.NewRegistry()
	require.NoError(t, d.RegisterTo(reg))
	h, ok := reg.VelocityCommand("joint1")
	require.True(t, ok)

	// Handle setter and snapshot run on different goroutines; the race
	// detector flags any unsynchronized access to the command fields.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			h.Set(float64(i))
		}
	}()
	for i := 0; i < 1000; i++ {
		_ = d.Snapshot()
	}
	<-done

	assert.Equal(t, loop.Scalar(999), d.Snapshot().VelocityCommand)
}
