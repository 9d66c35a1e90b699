// Package simulator provides stand-ins for the physical collaborators
// chargepoint.ChargePoint drives (EvseDriver, Meter, CertStore, FileAgent)
// for running the core against a CSMS without real supply equipment
// attached. Grounded on internal/station/session.go's meter-value
// simulation (random power draw, Wh accumulation per tick).
package simulator

import (
	"context"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ruslanhut/ocpp-cp-core/internal/chargepoint"
	"github.com/ruslanhut/ocpp-cp-core/internal/ocpp/v16"
)

// Evse is an in-memory EvseDriver: it tracks an on/off/current-limit state
// per connector but never touches real hardware.
type Evse struct {
	mu         sync.Mutex
	logger     *slog.Logger
	enabled    map[int]bool
	paused     map[int]bool
	maxCurrent map[int]float64
}

// NewEvse creates an Evse with every connector initially disabled.
func NewEvse(logger *slog.Logger) *Evse {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evse{
		logger:     logger,
		enabled:    make(map[int]bool),
		paused:     make(map[int]bool),
		maxCurrent: make(map[int]float64),
	}
}

func (e *Evse) Enable(connectorID int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enabled[connectorID] = true
	e.paused[connectorID] = false
	e.logger.Info("evse enabled", "connector", connectorID)
	return nil
}

func (e *Evse) Disable(connectorID int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enabled[connectorID] = false
	e.logger.Info("evse disabled", "connector", connectorID)
	return nil
}

func (e *Evse) PauseCharging(connectorID int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused[connectorID] = true
	return nil
}

func (e *Evse) ResumeCharging(connectorID int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused[connectorID] = false
	return nil
}

func (e *Evse) CancelCharging(connectorID int, reason v16.Reason) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enabled[connectorID] = false
	e.logger.Info("evse charging cancelled", "connector", connectorID, "reason", reason)
	return nil
}

func (e *Evse) UnlockConnector(connectorID int) (bool, error) {
	return true, nil
}

func (e *Evse) SetMaxCurrent(connectorID int, amps float64) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.maxCurrent[connectorID] = amps
	return true, nil
}

// IsDrawing reports whether a connector is presently enabled and unpaused,
// the condition under which Meter should accumulate energy for it.
func (e *Evse) IsDrawing(connectorID int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enabled[connectorID] && !e.paused[connectorID]
}

// Meter is an in-memory Meter that accumulates simulated energy for every
// connector the Evse reports as drawing current. Callers drive accumulation
// by calling Tick periodically (see Run); Latest then serves
// transaction.Manager's ReadMeter polls.
type Meter struct {
	mu       sync.Mutex
	evse     *Evse
	readings map[int]chargepoint.MeterReading
}

// NewMeter creates a Meter that consults evse to decide whether a connector
// is presently drawing power.
func NewMeter(evse *Evse) *Meter {
	return &Meter{
		evse:     evse,
		readings: make(map[int]chargepoint.MeterReading),
	}
}

// Tick advances simulated energy accumulation by one interval for every
// connector currently drawing current. Power is randomized around 6kW the
// way internal/station/session.go's sendMeterValue simulates a session.
func (m *Meter) Tick(connectorIDs []int, interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range connectorIDs {
		if !m.evse.IsDrawing(id) {
			continue
		}
		powerW := 5000 + randIntn(2500)
		prev := m.readings[id]
		energyIncrement := float64(powerW) * interval.Hours()
		m.readings[id] = chargepoint.MeterReading{
			ConnectorID:    id,
			EnergyWhImport: prev.EnergyWhImport + energyIncrement,
			PowerW:         float64(powerW),
			VoltageV:       230,
			CurrentA:       float64(powerW) / 230,
			FrequencyHz:    50,
			UnixTime:       time.Now().Unix(),
		}
	}
}

func (m *Meter) Latest(connectorID int) (chargepoint.MeterReading, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.readings[connectorID]
	return r, ok
}

// Run ticks the meter on interval until ctx is cancelled, and is meant to
// run in its own goroutine alongside the ChargePoint.
func (m *Meter) Run(ctx context.Context, connectorIDs []int, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick(connectorIDs, interval)
		}
	}
}

func randIntn(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0
	}
	return int(v.Int64())
}

// Certs is a no-op CertStore for security profiles 0-2, where no CSR or
// chain management ever happens. Profile 3 deployments need a real
// implementation backed by an actual key store.
type Certs struct{}

func (Certs) GenerateCSR(country, state, city, org, commonName string) (string, error) {
	block := &pem.Block{Type: "CERTIFICATE REQUEST", Bytes: []byte(commonName)}
	return string(pem.EncodeToMemory(block)), nil
}

func (Certs) InstallRoot(use string, pemData string) (v16.CertificateStatus, error) {
	return v16.CertificateStatusAccepted, nil
}

func (Certs) DeleteRoot(hash string, securityProfile int) error {
	return nil
}

func (Certs) GetRootHashes(certType string) ([]v16.CertificateHashData, error) {
	return nil, nil
}

func (Certs) VerifyChargePointCert(chain string, serial string) (chargepoint.CertificateVerificationResult, error) {
	return chargepoint.CertificateVerificationOk, nil
}

func (Certs) VerifyFirmwareSigningCert(pemData string) (bool, error) {
	return true, nil
}

func (Certs) ValidIn(chain string) (int, error) {
	return 0, nil
}

func (Certs) WriteClientCert(chain string) error {
	return nil
}

// Files is a FileAgent that logs what it would upload/download instead of
// touching the network or filesystem.
type Files struct {
	logger *slog.Logger
}

// NewFiles creates a Files agent.
func NewFiles(logger *slog.Logger) *Files {
	if logger == nil {
		logger = slog.Default()
	}
	return &Files{logger: logger}
}

func (f *Files) UploadDiagnostics(location string) (string, error) {
	filename := fmt.Sprintf("diagnostics-%d.zip", time.Now().Unix())
	f.logger.Info("simulated diagnostics upload", "location", location, "filename", filename)
	return filename, nil
}

func (f *Files) UploadLogs(req v16.GetLogRequest) (string, error) {
	filename := fmt.Sprintf("log-%d.tar.gz", time.Now().Unix())
	f.logger.Info("simulated log upload", "location", req.Log.RemoteLocation, "filename", filename)
	return filename, nil
}

func (f *Files) DownloadFirmware(location string) error {
	f.logger.Info("simulated firmware download", "location", location)
	return nil
}

func (f *Files) InstallFirmware(path string) error {
	f.logger.Info("simulated firmware install", "path", path)
	return nil
}
