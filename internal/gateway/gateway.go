// Package gateway provides the command interface to a single EPOS4 motor
// controller. The Gateway interface mirrors the vendor command library: every
// call either succeeds or fails with a CommandError carrying the device error
// code. The CANopen implementation lives in client.go; tests use a fake.
package gateway

import (
	"fmt"
	"time"
)

// OperationMode is the device-level motion control strategy. Values are the
// EPOS "modes of operation" codes written to object 0x6060.
type OperationMode int8

const (
	ProfilePositionMode OperationMode = 1
	ProfileVelocityMode OperationMode = 3
	CurrentMode         OperationMode = -3
)

func (m OperationMode) String() string {
	switch m {
	case ProfilePositionMode:
		return "Profile Position Mode"
	case ProfileVelocityMode:
		return "Profile Velocity Mode"
	case CurrentMode:
		return "Current Mode"
	default:
		return fmt.Sprintf("Unknown Mode (%d)", int8(m))
	}
}

// CommandError is returned by every failing gateway call. Op is the name of
// the command, Code the device/transport error code (0 if unavailable).
type CommandError struct {
	Op   string
	Code uint32
	Err  error
}

func (e *CommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s failed: device error 0x%X", e.Op, e.Code)
}

func (e *CommandError) Unwrap() error { return e.Err }

// Gateway is the transport capability for one physical EPOS4 unit. All calls
// are synchronous and non-reentrant; the owning driver guarantees a single
// caller.
type Gateway interface {
	// Connect opens the device addressed by
	// (deviceType, protocolName, interfaceName, serialNumber).
	Connect(deviceType, protocolName, interfaceName string, serialNumber uint64) error
	Close() error

	SetProtocolStackSettings(baudrate uint32, timeout time.Duration) error
	SetEnableState() error
	SetDisableState() error
	SetOperationMode(mode OperationMode) error

	SetMotorType(motorType int) error
	SetDcMotorParameter(nominalCurrentMA, maxOutputCurrentMA, thermalTimeConstantDS int) error
	SetEcMotorParameter(nominalCurrentMA, maxOutputCurrentMA, thermalTimeConstantDS, polePairs int) error

	SetSensorType(sensorType int) error
	SetIncEncoderParameter(resolution int, invertedPolarity bool) error
	SetHallSensorParameter(invertedPolarity bool) error
	SetSsiAbsEncoderParameter(dataRate, multiturnBits, singleturnBits int, invertedPolarity bool) error

	SetMaxFollowingError(counts int) error
	SetMaxProfileVelocity(rpm int) error
	SetMaxAcceleration(rpmPerSec int) error

	SetPositionRegulatorGain(p, i, d int) error
	SetPositionRegulatorFeedForward(velocity, acceleration int) error
	SetVelocityRegulatorGain(p, i int) error
	SetVelocityRegulatorFeedForward(velocity, acceleration int) error
	SetCurrentRegulatorGain(p, i int) error

	SetPositionProfile(velocity, acceleration, deceleration int) error
	EnablePositionWindow(window, timeMS int) error
	SetVelocityProfile(acceleration, deceleration int) error
	EnableVelocityWindow(window, timeMS int) error

	GetNbOfDeviceErrors() (int, error)
	GetDeviceErrorCode(index int) (uint32, error)
	ClearFault() error

	GetPositionIs() (int32, error)
	GetVelocityIs() (int32, error)
	GetCurrentIs() (int16, error)

	// GetObject/SetObject access a raw device register by index/subindex for
	// parameters without a dedicated typed accessor.
	GetObject(index uint16, subindex uint8, buf []byte) (int, error)
	SetObject(index uint16, subindex uint8, data []byte) error

	MoveWithVelocity(rpm int) error
	HaltVelocityMovement() error
	MoveToPosition(target int, absolute, immediately bool) error
	SetCurrentSetpoint(currentMA int) error
}
