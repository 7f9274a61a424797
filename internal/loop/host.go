package loop

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Actuator is one device binding driven by the host. Read and Write are
// invoked strictly sequentially on the cycle goroutine, never concurrently
// and never reentrant. DoSwitch is called with the names of starting and
// stopping control strategies.
type Actuator interface {
	Read()
	Write()
	DoSwitch(start, stop []string)
}

type commandKind int

const (
	cmdPosition commandKind = iota
	cmdVelocity
	cmdEffort
)

type pendingCommand struct {
	kind     commandKind
	actuator string
	value    float64
}

// Host runs the control cycle: staged commands are applied, then every
// actuator reads, then writes. External callers (API handlers) never touch
// handle memory directly; they stage commands that the cycle goroutine
// applies through the registered setters.
type Host struct {
	logger    *zap.Logger
	registry  *Registry
	period    time.Duration
	actuators []Actuator

	commands chan pendingCommand
	switches chan switchRequest

	activeMu sync.RWMutex
	active   map[string]bool
}

type switchRequest struct {
	start []string
	stop  []string
}

func NewHost(period time.Duration, logger *zap.Logger) *Host {
	return &Host{
		logger:   logger,
		registry: NewRegistry(),
		period:   period,
		commands: make(chan pendingCommand, 64),
		switches: make(chan switchRequest, 8),
		active:   make(map[string]bool),
	}
}

func (h *Host) Registry() *Registry { return h.registry }

// AddActuator registers an actuator. Must be called before Run.
func (h *Host) AddActuator(a Actuator) {
	h.actuators = append(h.actuators, a)
}

// SetPositionCommand stages a position command for the next cycle.
func (h *Host) SetPositionCommand(actuator string, value float64) error {
	if _, ok := h.registry.PositionCommand(actuator); !ok {
		return fmt.Errorf("no position command handle for %q", actuator)
	}
	return h.stage(pendingCommand{kind: cmdPosition, actuator: actuator, value: value})
}

// SetVelocityCommand stages a velocity command for the next cycle.
func (h *Host) SetVelocityCommand(actuator string, value float64) error {
	if _, ok := h.registry.VelocityCommand(actuator); !ok {
		return fmt.Errorf("no velocity command handle for %q", actuator)
	}
	return h.stage(pendingCommand{kind: cmdVelocity, actuator: actuator, value: value})
}

// SetEffortCommand stages an effort (torque) command for the next cycle.
func (h *Host) SetEffortCommand(actuator string, value float64) error {
	if _, ok := h.registry.EffortCommand(actuator); !ok {
		return fmt.Errorf("no effort command handle for %q", actuator)
	}
	return h.stage(pendingCommand{kind: cmdEffort, actuator: actuator, value: value})
}

func (h *Host) stage(cmd pendingCommand) error {
	select {
	case h.commands <- cmd:
		return nil
	default:
		return fmt.Errorf("command queue full")
	}
}

// SwitchControllers requests a controller switch; it is applied between
// cycles so actuators see a consistent start/stop notification.
func (h *Host) SwitchControllers(start, stop []string) error {
	select {
	case h.switches <- switchRequest{start: start, stop: stop}:
		return nil
	default:
		return fmt.Errorf("switch queue full")
	}
}

// ActiveControllers returns the names of started control strategies.
func (h *Host) ActiveControllers() []string {
	h.activeMu.RLock()
	defer h.activeMu.RUnlock()
	names := make([]string, 0, len(h.active))
	for name, on := range h.active {
		if on {
			names = append(names, name)
		}
	}
	return names
}

// Run executes the cycle until the context is cancelled.
func (h *Host) Run(ctx context.Context) {
	h.logger.Info("control loop started",
		zap.Duration("period", h.period),
		zap.Int("actuators", len(h.actuators)))

	ticker := time.NewTicker(h.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("control loop stopped")
			return
		case <-ticker.C:
			h.cycle()
		}
	}
}

func (h *Host) cycle() {
	h.applySwitches()
	h.applyCommands()

	for _, a := range h.actuators {
		a.Read()
	}
	for _, a := range h.actuators {
		a.Write()
	}
}

func (h *Host) applySwitches() {
	for {
		select {
		case req := <-h.switches:
			h.activeMu.Lock()
			for _, name := range req.stop {
				delete(h.active, name)
			}
			for _, name := range req.start {
				h.active[name] = true
			}
			h.activeMu.Unlock()
			h.logger.Info("controller switch",
				zap.Strings("start", req.start),
				zap.Strings("stop", req.stop))
			for _, a := range h.actuators {
				a.DoSwitch(req.start, req.stop)
			}
		default:
			return
		}
	}
}

func (h *Host) applyCommands() {
	for {
		select {
		case cmd := <-h.commands:
			h.applyCommand(cmd)
		default:
			return
		}
	}
}

func (h *Host) applyCommand(cmd pendingCommand) {
	var handle ActuatorCommandHandle
	var ok bool
	switch cmd.kind {
	case cmdPosition:
		handle, ok = h.registry.PositionCommand(cmd.actuator)
	case cmdVelocity:
		handle, ok = h.registry.VelocityCommand(cmd.actuator)
	case cmdEffort:
		handle, ok = h.registry.EffortCommand(cmd.actuator)
	}
	if !ok || handle.Set == nil {
		return
	}
	if math.IsNaN(cmd.value) {
		h.logger.Warn("dropping NaN command", zap.String("actuator", cmd.actuator))
		return
	}
	handle.Set(cmd.value)
}
