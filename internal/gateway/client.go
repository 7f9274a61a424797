package gateway

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.einride.tech/can"
	"go.einride.tech/can/pkg/socketcan"
	"go.uber.org/zap"
)

// Client talks CANopen SDO to one EPOS4 node over socketcan. All object
// accesses are expedited transfers; one request is in flight at a time.
type Client struct {
	logger  *zap.Logger
	nodeID  uint8
	timeout time.Duration

	mu        sync.Mutex
	conn      net.Conn
	tx        *socketcan.Transmitter
	rx        *socketcan.Receiver
	connected bool
}

func NewClient(nodeID uint8, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		logger:  logger,
		nodeID:  nodeID,
		timeout: timeout,
	}
}

// Connect dials the CAN interface and verifies the node identity. The serial
// number is matched against the identity object (0x1018/04); a mismatch is
// treated as "device not found".
func (c *Client) Connect(deviceType, protocolName, interfaceName string, serialNumber uint64) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}

	conn, err := socketcan.DialContext(context.Background(), "can", interfaceName)
	if err != nil {
		c.mu.Unlock()
		return &CommandError{Op: "Connect", Err: errors.Wrapf(err, "dial %s", interfaceName)}
	}

	c.conn = conn
	c.tx = socketcan.NewTransmitter(conn)
	c.rx = socketcan.NewReceiver(conn)
	c.connected = true
	c.mu.Unlock()

	c.logger.Info("CAN gateway connected",
		zap.String("device_type", deviceType),
		zap.String("protocol", protocolName),
		zap.String("interface", interfaceName),
		zap.Uint8("node_id", c.nodeID))

	var buf [4]byte
	if _, err := c.GetObject(objIdentitySerial, 0x04, buf[:]); err != nil {
		c.close()
		return &CommandError{Op: "Connect", Err: errors.Wrap(err, "read identity serial")}
	}
	deviceSerial := binary.LittleEndian.Uint32(buf[:])
	if deviceSerial != uint32(serialNumber) {
		c.close()
		return &CommandError{Op: "Connect",
			Err: fmt.Errorf("serial mismatch: device 0x%X, want 0x%X", deviceSerial, serialNumber)}
	}
	return nil
}

func (c *Client) Close() error { return c.close() }

func (c *Client) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil
	}
	err := c.conn.Close()
	c.connected = false
	c.conn = nil
	return err
}

// SetProtocolStackSettings adjusts the request timeout. The CAN bitrate is a
// property of the socketcan interface and is configured at link level, not
// per node.
func (c *Client) SetProtocolStackSettings(baudrate uint32, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return &CommandError{Op: "SetProtocolStackSettings", Err: errNotConnected}
	}
	c.timeout = timeout
	c.logger.Debug("protocol stack settings applied",
		zap.Uint32("baudrate", baudrate),
		zap.Duration("timeout", timeout))
	return nil
}

var errNotConnected = errors.New("not connected")

// request sends one SDO frame and waits for the matching response, skipping
// unrelated traffic (heartbeats, EMCY, other nodes) until the deadline.
func (c *Client) request(op string, req can.Frame, index uint16, subindex uint8) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil, &CommandError{Op: op, Err: errNotConnected}
	}

	deadline := time.Now().Add(c.timeout)
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()

	if err := c.tx.TransmitFrame(ctx, req); err != nil {
		return nil, &CommandError{Op: op, Err: errors.Wrap(err, "transmit")}
	}

	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return nil, &CommandError{Op: op, Err: err}
	}
	for c.rx.Receive() {
		f := c.rx.Frame()
		if f.ID != sdoTxBase+uint32(c.nodeID) {
			continue
		}
		payload, abort, err := parseSDOResponse(f, c.nodeID, index, subindex)
		if err != nil {
			return nil, &CommandError{Op: op, Err: err}
		}
		if abort != 0 {
			return nil, &CommandError{Op: op, Code: abort}
		}
		return payload, nil
	}
	return nil, &CommandError{Op: op, Err: errors.Wrap(c.rx.Err(), "response timeout")}
}

func (c *Client) writeObject(op string, index uint16, subindex uint8, data []byte) error {
	f, err := sdoDownloadFrame(c.nodeID, index, subindex, data)
	if err != nil {
		return &CommandError{Op: op, Err: err}
	}
	_, err = c.request(op, f, index, subindex)
	return err
}

func (c *Client) readObject(op string, index uint16, subindex uint8, buf []byte) (int, error) {
	payload, err := c.request(op, sdoUploadFrame(c.nodeID, index, subindex), index, subindex)
	if err != nil {
		return 0, err
	}
	if len(payload) > len(buf) {
		return 0, &CommandError{Op: op,
			Err: fmt.Errorf("object 0x%04X/%02X is %d bytes, buffer holds %d", index, subindex, len(payload), len(buf))}
	}
	return copy(buf, payload), nil
}

func (c *Client) controlword(op string, cw uint16) error {
	return c.writeObject(op, objControlword, 0x00, u16Bytes(cw))
}

// SetEnableState runs the CiA 402 power-up sequence: shutdown, then switch
// on with operation enabled.
func (c *Client) SetEnableState() error {
	if err := c.controlword("SetEnableState", cwShutdown); err != nil {
		return err
	}
	return c.controlword("SetEnableState", cwSwitchOn)
}

func (c *Client) SetDisableState() error {
	return c.controlword("SetDisableState", cwDisableVolt)
}

func (c *Client) SetOperationMode(mode OperationMode) error {
	return c.writeObject("SetOperationMode", objModesOfOperation, 0x00, []byte{byte(mode)})
}

func (c *Client) SetMotorType(motorType int) error {
	return c.writeObject("SetMotorType", objMotorType, 0x00, u16Bytes(uint16(motorType)))
}

func (c *Client) SetDcMotorParameter(nominalCurrentMA, maxOutputCurrentMA, thermalTimeConstantDS int) error {
	const op = "SetDcMotorParameter"
	if err := c.writeObject(op, objMotorData, 0x01, u32Bytes(uint32(nominalCurrentMA))); err != nil {
		return err
	}
	if err := c.writeObject(op, objMotorData, 0x02, u32Bytes(uint32(maxOutputCurrentMA))); err != nil {
		return err
	}
	return c.writeObject(op, objMotorData, 0x03, u16Bytes(uint16(thermalTimeConstantDS)))
}

func (c *Client) SetEcMotorParameter(nominalCurrentMA, maxOutputCurrentMA, thermalTimeConstantDS, polePairs int) error {
	const op = "SetEcMotorParameter"
	if err := c.writeObject(op, objMotorData, 0x01, u32Bytes(uint32(nominalCurrentMA))); err != nil {
		return err
	}
	if err := c.writeObject(op, objMotorData, 0x02, u32Bytes(uint32(maxOutputCurrentMA))); err != nil {
		return err
	}
	if err := c.writeObject(op, objMotorData, 0x03, u16Bytes(uint16(thermalTimeConstantDS))); err != nil {
		return err
	}
	return c.writeObject(op, objMotorData, 0x04, []byte{byte(polePairs)})
}

func (c *Client) SetSensorType(sensorType int) error {
	return c.writeObject("SetSensorType", objSensorConfig, 0x01, u16Bytes(uint16(sensorType)))
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func (c *Client) SetIncEncoderParameter(resolution int, invertedPolarity bool) error {
	const op = "SetIncEncoderParameter"
	if err := c.writeObject(op, objIncEncoder, 0x01, u32Bytes(uint32(resolution))); err != nil {
		return err
	}
	return c.writeObject(op, objIncEncoder, 0x02, []byte{boolByte(invertedPolarity)})
}

func (c *Client) SetHallSensorParameter(invertedPolarity bool) error {
	return c.writeObject("SetHallSensorParameter", objHallSensor, 0x01, []byte{boolByte(invertedPolarity)})
}

func (c *Client) SetSsiAbsEncoderParameter(dataRate, multiturnBits, singleturnBits int, invertedPolarity bool) error {
	const op = "SetSsiAbsEncoderParameter"
	if err := c.writeObject(op, objSsiEncoder, 0x01, u32Bytes(uint32(dataRate))); err != nil {
		return err
	}
	if err := c.writeObject(op, objSsiEncoder, 0x02, []byte{byte(multiturnBits)}); err != nil {
		return err
	}
	if err := c.writeObject(op, objSsiEncoder, 0x03, []byte{byte(singleturnBits)}); err != nil {
		return err
	}
	return c.writeObject(op, objSsiEncoder, 0x04, []byte{boolByte(invertedPolarity)})
}

func (c *Client) SetMaxFollowingError(counts int) error {
	return c.writeObject("SetMaxFollowingError", objMaxFollowingError, 0x00, u32Bytes(uint32(counts)))
}

func (c *Client) SetMaxProfileVelocity(rpm int) error {
	return c.writeObject("SetMaxProfileVelocity", objMaxProfileVel, 0x00, u32Bytes(uint32(rpm)))
}

func (c *Client) SetMaxAcceleration(rpmPerSec int) error {
	return c.writeObject("SetMaxAcceleration", objMaxAcceleration, 0x00, u32Bytes(uint32(rpmPerSec)))
}

func (c *Client) SetPositionRegulatorGain(p, i, d int) error {
	const op = "SetPositionRegulatorGain"
	if err := c.writeObject(op, objPositionGain, 0x01, u32Bytes(uint32(p))); err != nil {
		return err
	}
	if err := c.writeObject(op, objPositionGain, 0x02, u32Bytes(uint32(i))); err != nil {
		return err
	}
	return c.writeObject(op, objPositionGain, 0x03, u32Bytes(uint32(d)))
}

func (c *Client) SetPositionRegulatorFeedForward(velocity, acceleration int) error {
	const op = "SetPositionRegulatorFeedForward"
	if err := c.writeObject(op, objPositionFF, 0x01, u32Bytes(uint32(velocity))); err != nil {
		return err
	}
	return c.writeObject(op, objPositionFF, 0x02, u32Bytes(uint32(acceleration)))
}

func (c *Client) SetVelocityRegulatorGain(p, i int) error {
	const op = "SetVelocityRegulatorGain"
	if err := c.writeObject(op, objVelocityGain, 0x01, u32Bytes(uint32(p))); err != nil {
		return err
	}
	return c.writeObject(op, objVelocityGain, 0x02, u32Bytes(uint32(i)))
}

func (c *Client) SetVelocityRegulatorFeedForward(velocity, acceleration int) error {
	const op = "SetVelocityRegulatorFeedForward"
	if err := c.writeObject(op, objVelocityFF, 0x01, u32Bytes(uint32(velocity))); err != nil {
		return err
	}
	return c.writeObject(op, objVelocityFF, 0x02, u32Bytes(uint32(acceleration)))
}

func (c *Client) SetCurrentRegulatorGain(p, i int) error {
	const op = "SetCurrentRegulatorGain"
	if err := c.writeObject(op, objCurrentGain, 0x01, u32Bytes(uint32(p))); err != nil {
		return err
	}
	return c.writeObject(op, objCurrentGain, 0x02, u32Bytes(uint32(i)))
}

func (c *Client) SetPositionProfile(velocity, acceleration, deceleration int) error {
	const op = "SetPositionProfile"
	if err := c.writeObject(op, objProfileVelocity, 0x00, u32Bytes(uint32(velocity))); err != nil {
		return err
	}
	if err := c.writeObject(op, objProfileAccel, 0x00, u32Bytes(uint32(acceleration))); err != nil {
		return err
	}
	return c.writeObject(op, objProfileDecel, 0x00, u32Bytes(uint32(deceleration)))
}

func (c *Client) EnablePositionWindow(window, timeMS int) error {
	const op = "EnablePositionWindow"
	if err := c.writeObject(op, objPositionWindow, 0x00, u32Bytes(uint32(window))); err != nil {
		return err
	}
	return c.writeObject(op, objPositionWindowT, 0x00, u16Bytes(uint16(timeMS)))
}

func (c *Client) SetVelocityProfile(acceleration, deceleration int) error {
	const op = "SetVelocityProfile"
	if err := c.writeObject(op, objProfileAccel, 0x00, u32Bytes(uint32(acceleration))); err != nil {
		return err
	}
	return c.writeObject(op, objProfileDecel, 0x00, u32Bytes(uint32(deceleration)))
}

func (c *Client) EnableVelocityWindow(window, timeMS int) error {
	const op = "EnableVelocityWindow"
	if err := c.writeObject(op, objVelocityWindow, 0x00, u32Bytes(uint32(window))); err != nil {
		return err
	}
	return c.writeObject(op, objVelocityWindowT, 0x00, u16Bytes(uint16(timeMS)))
}

func (c *Client) GetNbOfDeviceErrors() (int, error) {
	var buf [1]byte
	if _, err := c.readObject("GetNbOfDeviceErrors", objDeviceErrorField, 0x00, buf[:]); err != nil {
		return 0, err
	}
	return int(buf[0]), nil
}

func (c *Client) GetDeviceErrorCode(index int) (uint32, error) {
	var buf [4]byte
	if _, err := c.readObject("GetDeviceErrorCode", objDeviceErrorField, uint8(index), buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func (c *Client) ClearFault() error {
	return c.controlword("ClearFault", cwFaultReset)
}

func (c *Client) GetPositionIs() (int32, error) {
	var buf [4]byte
	if _, err := c.readObject("GetPositionIs", objPositionActual, 0x00, buf[:]); err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(buf[:])), nil
}

func (c *Client) GetVelocityIs() (int32, error) {
	var buf [4]byte
	if _, err := c.readObject("GetVelocityIs", objVelocityActual, 0x00, buf[:]); err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(buf[:])), nil
}

func (c *Client) GetCurrentIs() (int16, error) {
	var buf [2]byte
	if _, err := c.readObject("GetCurrentIs", objCurrentActual, 0x00, buf[:]); err != nil {
		return 0, err
	}
	return int16(binary.LittleEndian.Uint16(buf[:])), nil
}

func (c *Client) GetObject(index uint16, subindex uint8, buf []byte) (int, error) {
	return c.readObject("GetObject", index, subindex, buf)
}

func (c *Client) SetObject(index uint16, subindex uint8, data []byte) error {
	return c.writeObject("SetObject", index, subindex, data)
}

func (c *Client) MoveWithVelocity(rpm int) error {
	const op = "MoveWithVelocity"
	if err := c.writeObject(op, objTargetVelocity, 0x00, i32Bytes(int32(rpm))); err != nil {
		return err
	}
	// Clear a possible halt bit so the target takes effect.
	return c.controlword(op, cwSwitchOn)
}

func (c *Client) HaltVelocityMovement() error {
	return c.controlword("HaltVelocityMovement", cwHalt)
}

func (c *Client) MoveToPosition(target int, absolute, immediately bool) error {
	const op = "MoveToPosition"
	if err := c.writeObject(op, objTargetPosition, 0x00, i32Bytes(int32(target))); err != nil {
		return err
	}
	cw := cwSwitchOn | 1<<4 // new setpoint
	if immediately {
		cw |= 1 << 5
	}
	if !absolute {
		cw |= 1 << 6
	}
	return c.controlword(op, cw)
}

func (c *Client) SetCurrentSetpoint(currentMA int) error {
	return c.writeObject("SetCurrentSetpoint", objCurrentSetpoint, 0x00, i16Bytes(int16(currentMA)))
}

var _ Gateway = (*Client)(nil)
