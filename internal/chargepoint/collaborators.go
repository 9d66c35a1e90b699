// Package chargepoint wires C1-C8 (DeviceModel, MessageQueue, WebSocketLink,
// BootCoordinator, ConnectorStateMachine, TransactionManager,
// SmartChargingEngine, Dispatcher) into one running charge point, the way
// internal/station/manager.go's NewManager/setupV16HandlerCallbacks/
// setupSessionManagerCallbacks wire the teacher's equivalent pieces
// together.
package chargepoint

import "github.com/ruslanhut/ocpp-cp-core/internal/ocpp/v16"

// EvseDriver is the outbound collaborator that actually operates the
// physical supply equipment (contactor, pilot signal, connector lock).
// Out of scope for this module; the core only calls these.
type EvseDriver interface {
	Enable(connectorID int) error
	Disable(connectorID int) error
	PauseCharging(connectorID int) error
	ResumeCharging(connectorID int) error
	CancelCharging(connectorID int, reason v16.Reason) error
	UnlockConnector(connectorID int) (bool, error)
	SetMaxCurrent(connectorID int, amps float64) (bool, error)
}

// MeterReading is one push from the physical meter, pre-aggregation.
type MeterReading struct {
	ConnectorID    int
	EnergyWhImport float64
	EnergyWhExport float64
	PowerW         float64
	VoltageV       float64
	CurrentA       float64
	FrequencyHz    float64
	UnixTime       int64
}

// Meter is the inbound collaborator holding the periodic readings its driver
// pushes. The core reads the most recent one through Latest.
type Meter interface {
	// Latest returns the most recently pushed reading for a connector, or
	// ok=false if none has arrived yet.
	Latest(connectorID int) (reading MeterReading, ok bool)
}

// CertificateVerificationResult mirrors CertStore.verify_chargepoint_cert's
// outcome.
type CertificateVerificationResult string

const (
	CertificateVerificationOk      CertificateVerificationResult = "Ok"
	CertificateVerificationInvalid CertificateVerificationResult = "Invalid"
	CertificateVerificationExpired CertificateVerificationResult = "Expired"
)

// CertStore is the security-profile-3 collaborator for CSR generation and
// certificate chain management.
type CertStore interface {
	GenerateCSR(country, state, city, org, commonName string) (pem string, err error)
	InstallRoot(use string, pem string) (v16.CertificateStatus, error)
	DeleteRoot(hash string, securityProfile int) error
	GetRootHashes(certType string) ([]v16.CertificateHashData, error)
	VerifyChargePointCert(chain string, serial string) (CertificateVerificationResult, error)
	VerifyFirmwareSigningCert(pem string) (bool, error)
	ValidIn(chain string) (int, error)
	WriteClientCert(chain string) error
}

// FileAgent performs the long-running, non-OCPP work behind diagnostics
// upload, log upload and firmware install; each stage reports back via the
// matching *StatusNotification the orchestrator sends.
type FileAgent interface {
	UploadDiagnostics(location string) (filename string, err error)
	UploadLogs(req v16.GetLogRequest) (filename string, err error)
	DownloadFirmware(location string) error
	InstallFirmware(path string) error
}
