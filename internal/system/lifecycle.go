// Package system wires the daemon together: gateway, actuator driver,
// control loop, diagnostics and the API surface. Bring-up failure degrades
// the daemon instead of killing it so the diagnostics endpoints keep
// reporting why the device is down.
package system

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/KevinKickass/OpenServoCore/internal/api/rest"
	"github.com/KevinKickass/OpenServoCore/internal/api/websocket"
	"github.com/KevinKickass/OpenServoCore/internal/config"
	"github.com/KevinKickass/OpenServoCore/internal/diag"
	"github.com/KevinKickass/OpenServoCore/internal/epos"
	"github.com/KevinKickass/OpenServoCore/internal/gateway"
	"github.com/KevinKickass/OpenServoCore/internal/interfaces"
	"github.com/KevinKickass/OpenServoCore/internal/loop"
	"github.com/KevinKickass/OpenServoCore/internal/params"
)

type LifecycleManager struct {
	config  *config.Config
	logger  *zap.Logger
	driver  *epos.Driver
	host    *loop.Host
	updater *diag.Updater
	wsHub   *websocket.Hub

	restServer *rest.Server

	stateMu      sync.RWMutex
	currentState SystemState

	runCancel context.CancelFunc
	runWG     sync.WaitGroup

	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

func NewLifecycleManager(cfg *config.Config, logger *zap.Logger) (*LifecycleManager, error) {
	actuatorParams, err := params.LoadFile(cfg.Actuator.ParamsFile, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load actuator parameters: %w", err)
	}

	gw := gateway.NewClient(cfg.CAN.NodeID, cfg.CAN.RequestTimeout, logger)
	driver := epos.New(gw, actuatorParams, epos.ConnectionInfo{
		DeviceType: "EPOS4",
		Protocol:   "CANopen",
		Interface:  cfg.CAN.Interface,
	}, logger)

	host := loop.NewHost(cfg.Loop.CyclePeriod, logger)
	if err := driver.RegisterTo(host.Registry()); err != nil {
		return nil, fmt.Errorf("failed to register actuator handles: %w", err)
	}
	host.AddActuator(driver)

	updater := diag.NewUpdater(driver.Name(), logger)
	driver.RegisterDiagnostics(updater)

	wsHub := websocket.NewHub(logger)
	updater.AddSink(wsHub)

	return &LifecycleManager{
		config:       cfg,
		logger:       logger,
		driver:       driver,
		host:         host,
		updater:      updater,
		wsHub:        wsHub,
		currentState: StateInitializing,
		shutdownChan: make(chan struct{}),
	}, nil
}

// Start brings the device up and starts all goroutines. A failed bring-up
// leaves the system degraded: the loop and the API keep running so the
// diagnostics report the failure.
func (lm *LifecycleManager) Start() error {
	lm.logger.Info("Starting OpenServoCore")

	go lm.wsHub.Run()

	lm.setState(StateBringUp)
	if err := lm.driver.Init(); err != nil {
		lm.logger.Error("Actuator bring-up failed, entering degraded mode", zap.Error(err))
		lm.setState(StateDegraded)
	} else {
		lm.setState(StateRunning)
	}

	ctx, cancel := context.WithCancel(context.Background())
	lm.runCancel = cancel

	lm.runWG.Add(3)
	go func() {
		defer lm.runWG.Done()
		lm.host.Run(ctx)
	}()
	go func() {
		defer lm.runWG.Done()
		lm.updater.Run(ctx, lm.config.Diagnostics.Period)
	}()
	go func() {
		defer lm.runWG.Done()
		lm.telemetryLoop(ctx)
	}()

	if err := lm.startRESTServer(); err != nil {
		lm.setState(StateError)
		return fmt.Errorf("failed to start REST API: %w", err)
	}

	lm.logger.Info("System started",
		zap.Int("http_port", lm.config.Server.HTTPPort),
		zap.String("state", lm.GetCurrentStatus().State))
	return nil
}

// telemetryLoop broadcasts the actuator snapshot to WebSocket clients.
func (lm *LifecycleManager) telemetryLoop(ctx context.Context) {
	ticker := time.NewTicker(lm.config.Loop.TelemetryPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if lm.wsHub.GetClientCount() == 0 {
				continue
			}
			lm.wsHub.Broadcast(websocket.NewTelemetryMessage(lm.driver.Snapshot()))
		}
	}
}

func (lm *LifecycleManager) startRESTServer() error {
	lm.restServer = rest.NewServer(lm.config, lm, lm.logger, lm.wsHub)
	return lm.restServer.Start()
}

// Shutdown gracefully shuts down the system
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")
		lm.setState(StateStopping)

		shutdownErr = lm.gracefulShutdown(ctx)

		lm.setState(StateStopped)
		close(lm.shutdownChan)
	})

	return shutdownErr
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	// 1. Stop the API first so no new commands arrive.
	if lm.restServer != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := lm.restServer.Shutdown(shutdownCtx); err != nil {
			lm.logger.Warn("REST API shutdown failed", zap.Error(err))
		}
	}

	// 2. Stop the loop and diagnostics goroutines.
	if lm.runCancel != nil {
		lm.runCancel()
	}

	done := make(chan struct{})
	go func() {
		lm.runWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		lm.logger.Warn("Shutdown timeout, forcing stop")
		return fmt.Errorf("shutdown timeout exceeded")
	}

	// 3. Disable the drive and close the transport last.
	if err := lm.driver.Close(); err != nil {
		lm.logger.Warn("Driver close reported errors", zap.Error(err))
	}

	lm.logger.Info("Graceful shutdown completed")
	return nil
}

// Done is closed once shutdown has completed.
func (lm *LifecycleManager) Done() <-chan struct{} { return lm.shutdownChan }

func (lm *LifecycleManager) setState(state SystemState) {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()
	if err := ValidateTransition(lm.currentState, state); err != nil {
		lm.logger.Warn("Forcing state transition", zap.Error(err))
	}
	lm.currentState = state
}

// GetCurrentStatus returns current system status (Interface implementation)
func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	lm.stateMu.RLock()
	state := lm.currentState
	lm.stateMu.RUnlock()

	return interfaces.SystemStatus{
		State:             state.String(),
		Actuator:          lm.driver.Name(),
		Operational:       lm.driver.Operational(),
		ActiveControllers: lm.host.ActiveControllers(),
	}
}

// Config returns the configuration
func (lm *LifecycleManager) Config() *config.Config {
	return lm.config
}

func (lm *LifecycleManager) ActuatorNames() []string {
	return lm.host.Registry().ActuatorNames()
}

func (lm *LifecycleManager) ActuatorSnapshot(name string) (epos.Snapshot, bool) {
	if name != lm.driver.Name() {
		return epos.Snapshot{}, false
	}
	return lm.driver.Snapshot(), true
}

func (lm *LifecycleManager) LatestDiagnostics() (diag.Report, bool) {
	return lm.updater.Latest()
}

func (lm *LifecycleManager) SetPositionCommand(actuator string, value float64) error {
	return lm.host.SetPositionCommand(actuator, value)
}

func (lm *LifecycleManager) SetVelocityCommand(actuator string, value float64) error {
	return lm.host.SetVelocityCommand(actuator, value)
}

func (lm *LifecycleManager) SetEffortCommand(actuator string, value float64) error {
	return lm.host.SetEffortCommand(actuator, value)
}

func (lm *LifecycleManager) SwitchControllers(start, stop []string) error {
	if err := lm.host.SwitchControllers(start, stop); err != nil {
		return err
	}
	lm.wsHub.Broadcast(websocket.NewControllerSwitchMessage(start, stop))
	return nil
}
