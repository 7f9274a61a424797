package gateway

// EPOS4 object dictionary addresses used by the typed commands. Objects with
// a dedicated accessor in the vendor library map 1:1 onto SDO reads/writes of
// these entries.
const (
	objDeviceErrorField uint16 = 0x1003 // sub 0: count, sub n: error code
	objIdentitySerial   uint16 = 0x1018 // sub 4: serial number
	objCurrentSetpoint  uint16 = 0x2030 // current mode setting value, mA

	objControlword       uint16 = 0x6040
	objModesOfOperation  uint16 = 0x6060
	objPositionActual    uint16 = 0x6064
	objMaxFollowingError uint16 = 0x6065
	objPositionWindow    uint16 = 0x6067
	objPositionWindowT   uint16 = 0x6068
	objVelocityWindow    uint16 = 0x606D
	objVelocityWindowT   uint16 = 0x606E
	objVelocityActual    uint16 = 0x606C
	objCurrentActual     uint16 = 0x6078
	objTargetPosition    uint16 = 0x607A
	objMaxProfileVel     uint16 = 0x607F
	objProfileVelocity   uint16 = 0x6081
	objProfileAccel      uint16 = 0x6083
	objProfileDecel      uint16 = 0x6084
	objMaxAcceleration   uint16 = 0x60C5
	objTargetVelocity    uint16 = 0x60FF
	objMotorType         uint16 = 0x6402

	// Maxon specific motor/sensor/regulator blocks.
	objMotorData    uint16 = 0x3001 // sub 1: nominal current, 2: max current, 3: thermal tc, 4: pole pairs
	objSensorConfig uint16 = 0x3000 // sub 1: sensor type
	objIncEncoder   uint16 = 0x3010 // sub 1: resolution, 2: polarity
	objHallSensor   uint16 = 0x301A // sub 1: polarity
	objSsiEncoder   uint16 = 0x3012 // sub 1: data rate, 2: multiturn bits, 3: singleturn bits, 4: polarity
	objPositionGain uint16 = 0x30A1 // sub 1: p, 2: i, 3: d
	objPositionFF   uint16 = 0x30A2 // sub 1: velocity ff, 2: acceleration ff
	objVelocityGain uint16 = 0x30A3 // sub 1: p, 2: i
	objVelocityFF   uint16 = 0x30A4 // sub 1: velocity ff, 2: acceleration ff
	objCurrentGain  uint16 = 0x30A0 // sub 1: p, 2: i
)

// Controlword commands per CiA 402.
const (
	cwShutdown    uint16 = 0x0006
	cwSwitchOn    uint16 = 0x000F // switch on + enable operation
	cwDisableVolt uint16 = 0x0000
	cwFaultReset  uint16 = 0x0080
	cwHalt        uint16 = 0x010F // enable + halt bit 8
)

// Objects without a typed accessor. The driver reaches them through
// GetObject/SetObject.
const (
	ObjFaultReactionOption uint16 = 0x605E // int16: -1 signal only, 0 disable, 1 ramp, 2 quickstop
	ObjMaxMotorSpeed       uint16 = 0x6080
	ObjStatusword          uint16 = 0x6041
	ObjPowerSupplyVoltage  uint16 = 0x2200 // sub 1: voltage, 0.1 V
)

// MaxMotorSpeedObjectSize is the write width of the max motor speed object
// (0x6080). Firmware revisions before H expose it as uint32; keep it a
// declared constant so a firmware change is a one-line edit.
const MaxMotorSpeedObjectSize = 4
