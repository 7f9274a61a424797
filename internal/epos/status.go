package epos

import (
	"fmt"
	"math"

	"github.com/KevinKickass/OpenServoCore/internal/diag"
	"github.com/KevinKickass/OpenServoCore/internal/gateway"
)

// Known EPOS4 device error codes, abbreviated to the ones seen in the field.
var deviceErrorNames = map[uint32]string{
	0x1000: "generic error",
	0x1080: "generic initialisation error",
	0x2310: "overcurrent error",
	0x3210: "overvoltage error",
	0x3220: "undervoltage error",
	0x4210: "thermal overload error",
	0x5113: "logic supply voltage too low",
	0x7320: "position sensor error",
	0x8120: "CAN overrun error",
	0x8130: "CAN heartbeat error",
	0x8611: "following error",
}

func deviceErrorString(code uint32) string {
	if name, ok := deviceErrorNames[code]; ok {
		return fmt.Sprintf("0x%X (%s)", code, name)
	}
	return fmt.Sprintf("0x%X", code)
}

// RegisterDiagnostics wires the driver's two status builders into the
// updater, named like the hardware they describe.
func (d *Driver) RegisterDiagnostics(u *diag.Updater) {
	u.Register(d.params.ActuatorName+": Motor", d.buildMotorStatus)
	u.Register(d.params.ActuatorName+": Motor Output", d.buildMotorOutputStatus)
}

// buildMotorStatus reports the drive state: enabled/disabled, quickstop,
// warning and fault bits, plus the device error stack. The fault bit is an
// ERROR regardless of anything else in the report.
func (d *Driver) buildMotorStatus(st *diag.Status) {
	d.mu.Lock()
	statusword := d.statusword
	operational := d.operational
	d.mu.Unlock()

	st.Add("Actuator Name", d.params.ActuatorName)

	if !operational {
		st.Summary(diag.Error, "EPOS not initialized")
		return
	}

	enabled := statusBit(statusword, swReadyToSwitchOn) &&
		statusBit(statusword, swSwitchedOn) &&
		statusBit(statusword, swEnabled)
	if enabled {
		st.Summary(diag.OK, "Enabled")
	} else {
		st.Summary(diag.OK, "Disabled")
	}

	// Quickstop is active when the bit is unset; only meaningful while enabled.
	if enabled && !statusBit(statusword, swQuickstop) {
		st.MergeSummary(diag.Warn, "Quickstop")
	}
	if statusBit(statusword, swWarning) {
		st.MergeSummary(diag.Warn, "Warning")
	}
	if statusBit(statusword, swFault) {
		st.MergeSummary(diag.Error, "Fault")
	}

	st.AddBool("Enabled", statusBit(statusword, swEnabled))
	st.AddBool("Fault", statusBit(statusword, swFault))
	st.AddBool("Voltage Enabled", statusBit(statusword, swVoltageEnabled))
	st.AddBool("Quickstop", statusBit(statusword, swQuickstop))
	st.AddBool("Warning", statusBit(statusword, swWarning))

	num, err := d.gw.GetNbOfDeviceErrors()
	if err != nil {
		st.MergeSummaryf(diag.Error, "Could not read device errors: %v", err)
		return
	}
	for i := 1; i <= num; i++ {
		code, err := d.gw.GetDeviceErrorCode(i)
		if err != nil {
			st.MergeSummaryf(diag.Error, "Could not read device error: %v", err)
			continue
		}
		st.MergeSummaryf(diag.Error, "EPOS Device Error: %s", deviceErrorString(code))
	}
}

// buildMotorOutputStatus reports the commanded and measured motion values in
// the configured unit system.
func (d *Driver) buildMotorOutputStatus(st *diag.Status) {
	d.mu.Lock()
	snap := struct {
		operational bool
		statusword  uint16
		mode        string
		modeIsPos   bool
		modeIsVel   bool
		modeIsCur   bool
		position    float64
		velocity    float64
		effort      float64
		current     float64
		positionCmd float64
		velocityCmd float64
		torqueCmd   float64
	}{
		operational: d.operational,
		statusword:  d.statusword,
		mode:        d.mode.String(),
		position:    d.position,
		velocity:    d.velocity,
		effort:      d.effort,
		current:     d.current,
		positionCmd: d.positionCmd,
		velocityCmd: d.velocityCmd,
		torqueCmd:   d.torqueCmd,
	}
	switch d.mode {
	case gateway.ProfilePositionMode:
		snap.modeIsPos = true
	case gateway.ProfileVelocityMode:
		snap.modeIsVel = true
	case gateway.CurrentMode:
		snap.modeIsCur = true
	}
	d.mu.Unlock()

	posUnit, velUnit := "counts", "rpm"
	if d.params.PhysicalUnits {
		posUnit, velUnit = "rad", "rad/s"
	}

	switch {
	case snap.modeIsPos:
		st.Addf("Commanded Position", "%v %s", snap.positionCmd, posUnit)
	case snap.modeIsVel:
		st.Addf("Commanded Velocity", "%v %s", snap.velocityCmd, velUnit)
	case snap.modeIsCur:
		st.Addf("Commanded Torque", "%v Nm", snap.torqueCmd)
		st.Addf("Commanded Current", "%v A", snap.torqueCmd/d.params.TorqueConstant)
	}
	st.Add("Operation Mode", snap.mode)
	st.Addf("Nominal Current", "%v A", d.params.Motor.NominalCurrent)
	st.Addf("Max Current", "%v A", d.params.Motor.MaxCurrent)

	if !snap.operational {
		st.Summary(diag.Error, "EPOS not initialized")
		return
	}

	st.Addf("Position", "%v %s", snap.position, posUnit)
	st.Addf("Velocity", "%v %s", snap.velocity, velUnit)
	st.Addf("Torque", "%v Nm", snap.effort)
	st.Addf("Current", "%v A", snap.current)

	st.AddBool("Target Reached", statusBit(snap.statusword, swTargetReached))
	st.AddBool("Current Limit Active", statusBit(snap.statusword, swCurrentLimitActive))

	st.Summary(diag.OK, "EPOS operating in "+snap.mode)
	if statusBit(snap.statusword, swCurrentLimitActive) {
		st.MergeSummary(diag.Warn, "Current Limit Active")
	}
	if d.params.Motor.NominalCurrent > 0 && math.Abs(snap.current) > d.params.Motor.NominalCurrent {
		st.MergeSummaryf(diag.Warn, "Nominal Current Exceeded (Current: %f A)", snap.current)
	}
}
