// Package transaction implements the charging-session lifecycle (C6
// TransactionManager): authorization, StartTransaction/StopTransaction,
// dual meter-sampling streams, and remote start/stop handling. Grounded on
// internal/station/session.go's SessionManager, generalized from a single
// simulated meter ramp to two independently-scheduled sampling streams
// (Sampled vs Clock-aligned) and outlier smoothing via montanaflynn/stats
// ahead of raising a PowerMeterFailure.
package transaction

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/ruslanhut/ocpp-cp-core/internal/connector"
	"github.com/ruslanhut/ocpp-cp-core/internal/ocpp/v16"
)

// Transaction is one charging session's accounting state.
type Transaction struct {
	ID              int
	ConnectorID     int
	IDTag           string
	StartTime       time.Time
	StartMeterValue int
	CurrentMeter    int
	StopTime        *time.Time
	StopMeterValue  *int
	StopReason      v16.Reason

	mu      sync.Mutex
	samples []float64 // recent power readings, watts, for outlier smoothing
}

// recordPower appends a power sample, keeping a bounded rolling window, and
// reports whether the new sample is an outlier relative to the recent mean
// (more than 3 standard deviations away), a signal the caller can use to
// raise a PowerMeterFailure StatusNotification instead of trusting the
// reading.
func (t *Transaction) recordPower(watts float64) (isOutlier bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.samples) >= 5 {
		data := stats.Float64Data(t.samples)
		mean, errM := data.Mean()
		stddev, errS := data.StandardDeviation()
		if errM == nil && errS == nil && stddev > 0 {
			if watts > mean+3*stddev || watts < mean-3*stddev {
				isOutlier = true
			}
		}
	}

	t.samples = append(t.samples, watts)
	if len(t.samples) > 20 {
		t.samples = t.samples[len(t.samples)-20:]
	}
	return isOutlier
}

// Callbacks groups the outbound OCPP calls a Manager needs; all are
// optional, nil means "act as if offline accepted" for Authorize and a
// no-op otherwise, matching the teacher's offline-accept default.
type Callbacks struct {
	SendAuthorize        func(ctx context.Context, idTag string) (*v16.IdTagInfo, error)
	SendStartTransaction func(ctx context.Context, req v16.StartTransactionRequest) (*v16.StartTransactionResponse, error)
	SendStopTransaction  func(ctx context.Context, req v16.StopTransactionRequest) (*v16.StopTransactionResponse, error)
	SendMeterValues      func(ctx context.Context, req v16.MeterValuesRequest)
	OnPowerMeterFailure  func(connectorID int)
}

// ReadMeter returns the current meter reading (Wh) and instantaneous power
// (W) for a connector; supplied by the caller's EVSE/meter driver.
type ReadMeter func(connectorID int) (energyWh int, powerW float64)

// Manager owns every connector's transaction lifecycle.
type Manager struct {
	mu         sync.RWMutex
	connectors map[int]*connector.Connector
	txByID     map[int]*Transaction
	nextLocal  int

	logger    *slog.Logger
	callbacks Callbacks
	readMeter ReadMeter

	sampledInterval      time.Duration
	clockAlignedInterval time.Duration
	sampledMeasurands    []v16.Measurand
	alignedMeasurands    []v16.Measurand

	stopSampling map[int]chan struct{}
}

// New creates a Manager. connectors must already be registered with the
// orchestrator; Manager only reads/writes their transaction-relevant state.
func New(logger *slog.Logger, connectors map[int]*connector.Connector, callbacks Callbacks, readMeter ReadMeter) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		connectors:           connectors,
		txByID:               make(map[int]*Transaction),
		nextLocal:            -1,
		logger:               logger,
		callbacks:            callbacks,
		readMeter:            readMeter,
		sampledInterval:      60 * time.Second,
		clockAlignedInterval: 15 * time.Minute,
		sampledMeasurands:    []v16.Measurand{v16.MeasurandEnergyActiveImportRegister, v16.MeasurandPowerActiveImport},
		alignedMeasurands:    []v16.Measurand{v16.MeasurandEnergyActiveImportRegister},
		stopSampling:         make(map[int]chan struct{}),
	}
}

// SetSampleIntervals lets the chargepoint orchestrator apply the current
// MeterValueSampleInterval / ClockAlignedDataInterval device-model values.
func (m *Manager) SetSampleIntervals(sampled, clockAligned time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sampled > 0 {
		m.sampledInterval = sampled
	}
	if clockAligned > 0 {
		m.clockAlignedInterval = clockAligned
	}
}

// Authorize checks an idTag against the CSMS (or accepts it offline if no
// callback is wired, matching the teacher's default).
func (m *Manager) Authorize(ctx context.Context, idTag string) (*v16.IdTagInfo, error) {
	if m.callbacks.SendAuthorize == nil {
		return &v16.IdTagInfo{Status: v16.AuthorizationStatusAccepted}, nil
	}
	info, err := m.callbacks.SendAuthorize(ctx, idTag)
	if err != nil {
		return nil, fmt.Errorf("authorize %s: %w", idTag, err)
	}
	return info, nil
}

// Start begins a charging session on connectorID for idTag, transitioning
// Available/Preparing->Charging and starting both meter-sampling streams.
func (m *Manager) Start(ctx context.Context, connectorID int, idTag string) (*Transaction, error) {
	c, ok := m.connectorFor(connectorID)
	if !ok {
		return nil, fmt.Errorf("connector %d not found", connectorID)
	}
	if !c.IsAvailable() {
		return nil, fmt.Errorf("connector %d is not available (state %s)", connectorID, c.GetState())
	}
	if c.IsReservedFor(idTag) == false && c.GetState() == connector.StateReserved {
		return nil, fmt.Errorf("connector %d is reserved for another id tag", connectorID)
	}

	info, err := m.Authorize(ctx, idTag)
	if err != nil {
		return nil, err
	}
	if info.Status != v16.AuthorizationStatusAccepted {
		return nil, fmt.Errorf("authorization rejected: %s", info.Status)
	}

	if c.GetState() != connector.StatePreparing {
		if err := c.Transition(connector.StatePreparing, v16.ChargePointErrorNoError, "Preparing to charge"); err != nil {
			return nil, err
		}
	}

	meterStart, _ := m.readEnergyAndPower(connectorID)
	now := time.Now()

	localID := m.reserveLocalID()
	tx := &Transaction{
		ID:              localID,
		ConnectorID:     connectorID,
		IDTag:           idTag,
		StartTime:       now,
		StartMeterValue: meterStart,
		CurrentMeter:    meterStart,
	}

	if m.callbacks.SendStartTransaction != nil {
		resp, err := m.callbacks.SendStartTransaction(ctx, v16.StartTransactionRequest{
			ConnectorId: connectorID,
			IdTag:       idTag,
			MeterStart:  meterStart,
			Timestamp:   v16.DateTime{Time: now},
		})
		if err != nil {
			_ = c.Transition(connector.StateAvailable, v16.ChargePointErrorNoError, "")
			return nil, fmt.Errorf("StartTransaction: %w", err)
		}
		if resp.IdTagInfo.Status != v16.AuthorizationStatusAccepted {
			_ = c.Transition(connector.StateAvailable, v16.ChargePointErrorNoError, "")
			return nil, fmt.Errorf("StartTransaction rejected: %s", resp.IdTagInfo.Status)
		}
		tx.ID = resp.TransactionId
	}

	m.mu.Lock()
	m.txByID[tx.ID] = tx
	m.mu.Unlock()

	if err := c.Transition(connector.StateCharging, v16.ChargePointErrorNoError, "Charging"); err != nil {
		m.mu.Lock()
		delete(m.txByID, tx.ID)
		m.mu.Unlock()
		return nil, err
	}

	m.startSampling(ctx, c, tx)
	m.logger.Info("transaction started", "transactionId", tx.ID, "connectorId", connectorID, "idTag", idTag)
	return tx, nil
}

// Stop ends the charging session on connectorID, sends StopTransaction and
// returns the connector to Available. The StopTransaction request carries no
// transactionData; sampled values are not attached to it.
func (m *Manager) Stop(ctx context.Context, connectorID int, reason v16.Reason) error {
	c, ok := m.connectorFor(connectorID)
	if !ok {
		return fmt.Errorf("connector %d not found", connectorID)
	}

	m.mu.Lock()
	var tx *Transaction
	for _, t := range m.txByID {
		if t.ConnectorID == connectorID && t.StopTime == nil {
			tx = t
			break
		}
	}
	m.mu.Unlock()
	if tx == nil {
		return fmt.Errorf("connector %d has no active transaction", connectorID)
	}

	m.stopSamplingFor(connectorID)

	if err := c.Transition(connector.StateFinishing, v16.ChargePointErrorNoError, "Finishing"); err != nil {
		m.logger.Warn("transition to Finishing failed", "error", err)
	}

	meterStop, _ := m.readEnergyAndPower(connectorID)
	now := time.Now()

	tx.mu.Lock()
	tx.StopTime = &now
	tx.StopMeterValue = &meterStop
	tx.StopReason = reason
	tx.mu.Unlock()

	if m.callbacks.SendStopTransaction != nil {
		_, err := m.callbacks.SendStopTransaction(ctx, v16.StopTransactionRequest{
			IdTag:         tx.IDTag,
			MeterStop:     meterStop,
			Timestamp:     v16.DateTime{Time: now},
			TransactionId: tx.ID,
			Reason:        reason,
		})
		if err != nil {
			m.logger.Error("StopTransaction failed", "transactionId", tx.ID, "error", err)
		}
	}

	m.mu.Lock()
	delete(m.txByID, tx.ID)
	m.mu.Unlock()

	if err := c.Transition(connector.StateAvailable, v16.ChargePointErrorNoError, ""); err != nil {
		m.logger.Warn("transition to Available failed", "error", err)
	}

	m.logger.Info("transaction stopped", "transactionId", tx.ID, "connectorId", connectorID,
		"energyDelivered", meterStop-tx.StartMeterValue)
	return nil
}

// ActiveTransaction returns the in-progress transaction on connectorID, if
// any. Used by the smart-charging engine to anchor Relative-kind profiles
// to the current session's start time.
func (m *Manager) ActiveTransaction(connectorID int) (*Transaction, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.txByID {
		if t.ConnectorID == connectorID && t.StopTime == nil {
			return t, true
		}
	}
	return nil, false
}

func (m *Manager) connectorFor(id int) (*connector.Connector, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.connectors[id]
	return c, ok
}

func (m *Manager) reserveLocalID() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextLocal
	m.nextLocal--
	return id
}

func (m *Manager) readEnergyAndPower(connectorID int) (int, float64) {
	if m.readMeter == nil {
		return 0, 0
	}
	return m.readMeter(connectorID)
}

// startSampling launches the two independently-ticking meter-value
// goroutines for an active transaction.
func (m *Manager) startSampling(ctx context.Context, c *connector.Connector, tx *Transaction) {
	stop := make(chan struct{})
	m.mu.Lock()
	m.stopSampling[tx.ConnectorID] = stop
	sampledEvery := m.sampledInterval
	alignedEvery := m.clockAlignedInterval
	m.mu.Unlock()

	if sampledEvery > 0 {
		go m.sampleLoop(ctx, c, tx, stop, sampledEvery, v16.ReadingContextSamplePeriodic, m.sampledMeasurands)
	}
	if alignedEvery > 0 {
		go m.sampleLoop(ctx, c, tx, stop, alignedEvery, v16.ReadingContextSampleClock, m.alignedMeasurands)
	}
}

func (m *Manager) stopSamplingFor(connectorID int) {
	m.mu.Lock()
	stop, ok := m.stopSampling[connectorID]
	delete(m.stopSampling, connectorID)
	m.mu.Unlock()
	if ok {
		close(stop)
	}
}

func (m *Manager) sampleLoop(ctx context.Context, c *connector.Connector, tx *Transaction, stop chan struct{}, interval time.Duration, readingCtx v16.ReadingContext, measurands []v16.Measurand) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.emitSample(ctx, c, tx, readingCtx, measurands)
		}
	}
}

func (m *Manager) emitSample(ctx context.Context, c *connector.Connector, tx *Transaction, readingCtx v16.ReadingContext, measurands []v16.Measurand) {
	energyWh, powerW := m.readEnergyAndPower(tx.ConnectorID)

	if tx.recordPower(powerW) && m.callbacks.OnPowerMeterFailure != nil {
		m.callbacks.OnPowerMeterFailure(tx.ConnectorID)
	}

	tx.mu.Lock()
	tx.CurrentMeter = energyWh
	tx.mu.Unlock()

	now := v16.DateTime{Time: time.Now()}
	sampled := make([]v16.SampledValue, 0, len(measurands))
	for _, meas := range measurands {
		switch meas {
		case v16.MeasurandEnergyActiveImportRegister:
			sampled = append(sampled, v16.SampledValue{
				Value:     fmt.Sprintf("%d", energyWh),
				Context:   readingCtx,
				Measurand: meas,
				Unit:      v16.UnitOfMeasureWh,
				Location:  v16.LocationOutlet,
			})
		case v16.MeasurandPowerActiveImport:
			sampled = append(sampled, v16.SampledValue{
				Value:     fmt.Sprintf("%.1f", powerW),
				Context:   readingCtx,
				Measurand: meas,
				Unit:      v16.UnitOfMeasureW,
				Location:  v16.LocationOutlet,
			})
		}
	}

	if m.callbacks.SendMeterValues == nil {
		return
	}
	txID := tx.ID
	m.callbacks.SendMeterValues(ctx, v16.MeterValuesRequest{
		ConnectorId:   tx.ConnectorID,
		TransactionId: &txID,
		MeterValue: []v16.MeterValue{{
			Timestamp:    now,
			SampledValue: sampled,
		}},
	})
}
