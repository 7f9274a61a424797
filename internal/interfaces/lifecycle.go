package interfaces

import (
	"context"

	"github.com/KevinKickass/OpenServoCore/internal/config"
	"github.com/KevinKickass/OpenServoCore/internal/diag"
	"github.com/KevinKickass/OpenServoCore/internal/epos"
)

// SystemStatus represents the current system state
type SystemStatus struct {
	State             string   `json:"state"`
	Actuator          string   `json:"actuator"`
	Operational       bool     `json:"operational"`
	ActiveControllers []string `json:"active_controllers"`
}

type LifecycleManager interface {
	Config() *config.Config
	GetCurrentStatus() SystemStatus

	ActuatorNames() []string
	ActuatorSnapshot(name string) (epos.Snapshot, bool)
	LatestDiagnostics() (diag.Report, bool)

	SetPositionCommand(actuator string, value float64) error
	SetVelocityCommand(actuator string, value float64) error
	SetEffortCommand(actuator string, value float64) error
	SwitchControllers(start, stop []string) error

	Shutdown(ctx context.Context) error
}
