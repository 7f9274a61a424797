// Package loop is the cyclic control host: it owns the actuator handle
// registry and drives read/write once per cycle. State handles expose
// scalars by reference; command handles stage values through setters the
// registering actuator provides, so the owner controls synchronization.
package loop

import (
	"encoding/json"
	"fmt"
	"math"
	"sync"
)

// Scalar is a float64 that marshals NaN as JSON null. Handles use NaN for
// "never commanded" and "not measurable"; plain float64 would make the whole
// snapshot unmarshalable.
type Scalar float64

func (s Scalar) MarshalJSON() ([]byte, error) {
	if math.IsNaN(float64(s)) {
		return []byte("null"), nil
	}
	return json.Marshal(float64(s))
}

// ActuatorStateHandle exposes the live state scalars of one actuator.
type ActuatorStateHandle struct {
	Name     string
	Position *float64
	Velocity *float64
	Effort   *float64
}

// ActuatorCommandHandle stages one command scalar of one actuator. Set runs
// on the cycle goroutine while the owner may read the value elsewhere; the
// owner's setter must lock accordingly.
type ActuatorCommandHandle struct {
	Name string
	Set  func(float64)
}

// PowerSupplyState mirrors a battery/supply report. Unmeasurable fields stay
// NaN for the lifetime of the handle.
type PowerSupplyState struct {
	Voltage    Scalar `json:"voltage"`
	Present    bool   `json:"present"`
	Current    Scalar `json:"current"`
	Charge     Scalar `json:"charge"`
	Capacity   Scalar `json:"capacity"`
	Percentage Scalar `json:"percentage"`

	Technology   string `json:"technology"`
	Location     string `json:"location"`
	SerialNumber string `json:"serial_number"`
}

// PowerSupplyHandle exposes a supply state by reference.
type PowerSupplyHandle struct {
	Name  string
	State *PowerSupplyState
}

// Registry maps actuator names to their registered handles, one namespace
// per command strategy (position, velocity, effort).
type Registry struct {
	mu            sync.RWMutex
	states        map[string]ActuatorStateHandle
	positionCmds  map[string]ActuatorCommandHandle
	velocityCmds  map[string]ActuatorCommandHandle
	effortCmds    map[string]ActuatorCommandHandle
	powerSupplies map[string]PowerSupplyHandle
}

func NewRegistry() *Registry {
	return &Registry{
		states:        make(map[string]ActuatorStateHandle),
		positionCmds:  make(map[string]ActuatorCommandHandle),
		velocityCmds:  make(map[string]ActuatorCommandHandle),
		effortCmds:    make(map[string]ActuatorCommandHandle),
		powerSupplies: make(map[string]PowerSupplyHandle),
	}
}

func (r *Registry) RegisterState(h ActuatorStateHandle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.states[h.Name]; exists {
		return fmt.Errorf("state handle %q already registered", h.Name)
	}
	r.states[h.Name] = h
	return nil
}

func (r *Registry) RegisterPositionCommand(h ActuatorCommandHandle) error {
	return r.registerCmd(r.positionCmds, h)
}

func (r *Registry) RegisterVelocityCommand(h ActuatorCommandHandle) error {
	return r.registerCmd(r.velocityCmds, h)
}

func (r *Registry) RegisterEffortCommand(h ActuatorCommandHandle) error {
	return r.registerCmd(r.effortCmds, h)
}

func (r *Registry) registerCmd(m map[string]ActuatorCommandHandle, h ActuatorCommandHandle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := m[h.Name]; exists {
		return fmt.Errorf("command handle %q already registered", h.Name)
	}
	m[h.Name] = h
	return nil
}

func (r *Registry) RegisterPowerSupply(h PowerSupplyHandle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.powerSupplies[h.Name]; exists {
		return fmt.Errorf("power supply handle %q already registered", h.Name)
	}
	r.powerSupplies[h.Name] = h
	return nil
}

func (r *Registry) State(name string) (ActuatorStateHandle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.states[name]
	return h, ok
}

func (r *Registry) PositionCommand(name string) (ActuatorCommandHandle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.positionCmds[name]
	return h, ok
}

func (r *Registry) VelocityCommand(name string) (ActuatorCommandHandle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.velocityCmds[name]
	return h, ok
}

func (r *Registry) EffortCommand(name string) (ActuatorCommandHandle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.effortCmds[name]
	return h, ok
}

func (r *Registry) PowerSupply(name string) (PowerSupplyHandle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.powerSupplies[name]
	return h, ok
}

func (r *Registry) ActuatorNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.states))
	for name := range r.states {
		names = append(names, name)
	}
	return names
}
