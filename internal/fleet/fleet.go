// Package fleet is a thin multi-instance supervisor: it owns a named set of
// chargepoint.ChargePoint instances and starts/stops/reports on them as a
// group. Grounded on internal/station/manager.go's Manager, minus the parts
// that belonged to the old per-connector session model (StateMachine sync to
// MongoDB, handleCall dispatch) which chargepoint.ChargePoint now owns itself.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ruslanhut/ocpp-cp-core/internal/chargepoint"
	"github.com/ruslanhut/ocpp-cp-core/internal/transport"
)

var ErrUnknownStation = errors.New("fleet: unknown station id")

// instance pairs a ChargePoint with the bookkeeping the Manager needs to
// supervise it without reaching into chargepoint internals.
type instance struct {
	stationID string
	autoStart bool
	cp        *chargepoint.ChargePoint
}

// Manager supervises every charge point identity the process runs. A single
// cmd/server process typically runs one instance seeded from config, but
// the same Manager scales to many the way the teacher's emulator ran a
// fleet of simulated stations against one CSMS.
type Manager struct {
	mu        sync.RWMutex
	logger    *slog.Logger
	instances map[string]*instance

	persistence *Persistence
	syncCancel  context.CancelFunc
	syncWg      sync.WaitGroup
}

func New(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger:    logger,
		instances: make(map[string]*instance),
	}
}

// Add registers a fully assembled ChargePoint under stationID. It does not
// start the link; call AutoStart or StartChargePoint for that.
func (m *Manager) Add(stationID string, cp *chargepoint.ChargePoint, autoStart bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.instances[stationID] = &instance{
		stationID: stationID,
		autoStart: autoStart,
		cp:        cp,
	}
}

// AutoStart connects every registered instance whose autoStart flag is set,
// mirroring the teacher's Manager.AutoStart iterating stations with
// Config.AutoStart && Config.Enabled. It keeps going on a single failure and
// returns the combined error for all instances that failed to start.
func (m *Manager) AutoStart(ctx context.Context) error {
	m.mu.RLock()
	ids := make([]string, 0, len(m.instances))
	for id, inst := range m.instances {
		if inst.autoStart {
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()

	var errs []error
	for _, id := range ids {
		if err := m.StartChargePoint(ctx, id); err != nil {
			m.logger.Error("failed to auto-start charge point", slog.String("stationId", id), slog.String("error", err.Error()))
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// StartChargePoint connects the named instance's link to its CSMS.
func (m *Manager) StartChargePoint(ctx context.Context, stationID string) error {
	inst, ok := m.get(stationID)
	if !ok {
		return fmt.Errorf("start %s: %w", stationID, ErrUnknownStation)
	}
	if err := inst.cp.Start(); err != nil {
		return fmt.Errorf("start %s: %w", stationID, err)
	}
	m.logger.Info("charge point started", slog.String("stationId", stationID))
	return nil
}

// StopChargePoint disconnects the named instance's link.
func (m *Manager) StopChargePoint(ctx context.Context, stationID string) error {
	inst, ok := m.get(stationID)
	if !ok {
		return fmt.Errorf("stop %s: %w", stationID, ErrUnknownStation)
	}
	if err := inst.cp.Stop(); err != nil {
		return fmt.Errorf("stop %s: %w", stationID, err)
	}
	m.logger.Info("charge point stopped", slog.String("stationId", stationID))
	return nil
}

// Get returns the ChargePoint registered under stationID.
func (m *Manager) Get(stationID string) (*chargepoint.ChargePoint, bool) {
	inst, ok := m.get(stationID)
	if !ok {
		return nil, false
	}
	return inst.cp, true
}

// StationIDs lists every registered station, in no particular order.
func (m *Manager) StationIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.instances))
	for id := range m.instances {
		ids = append(ids, id)
	}
	return ids
}

// GetStats rolls up connection state across the fleet, the way the
// teacher's Manager.GetStats counted stations by StateMachine state.
func (m *Manager) GetStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var connected, disconnected, connecting int
	perStation := make(map[string]transport.Stats, len(m.instances))

	for id, inst := range m.instances {
		stats := inst.cp.Link.GetStats()
		perStation[id] = stats

		switch stats.State {
		case transport.StateConnected:
			connected++
		case transport.StateConnecting, transport.StateReconnecting:
			connecting++
		default:
			disconnected++
		}
	}

	return map[string]interface{}{
		"total":        len(m.instances),
		"connected":    connected,
		"connecting":   connecting,
		"disconnected": disconnected,
		"stations":     perStation,
	}
}

// Shutdown stops every instance, collecting errors rather than stopping at
// the first failure, the way the teacher's Manager.Shutdown drained every
// station before returning.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("shutting down fleet")

	m.mu.Lock()
	cancel := m.syncCancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.syncWg.Wait()

	ids := m.StationIDs()
	var errs []error
	for _, id := range ids {
		if err := m.StopChargePoint(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) get(stationID string) (*instance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.instances[stationID]
	return inst, ok
}
