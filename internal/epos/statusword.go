package epos

// Statusword bit positions per CiA 402.
const (
	swReadyToSwitchOn    = 0
	swSwitchedOn         = 1
	swEnabled            = 2
	swFault              = 3
	swVoltageEnabled     = 4
	swQuickstop          = 5
	swWarning            = 7
	swTargetReached      = 10
	swCurrentLimitActive = 11
)

func statusBit(statusword uint16, bit uint) bool {
	return statusword&(1<<bit) != 0
}
