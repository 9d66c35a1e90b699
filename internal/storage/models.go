package storage

import (
	"time"
)

// Message represents an OCPP message in the database
type Message struct {
	ID               string                 `bson:"_id,omitempty"`
	StationID        string                 `bson:"station_id"`
	Direction        string                 `bson:"direction"`        // "sent" or "received"
	MessageType      string                 `bson:"message_type"`     // "Call", "CallResult", "CallError"
	Action           string                 `bson:"action"`           // e.g., "BootNotification", "Heartbeat"
	MessageID        string                 `bson:"message_id"`       // Unique message ID
	ProtocolVersion  string                 `bson:"protocol_version"` // "1.6", "2.0.1", "2.1"
	Payload          map[string]interface{} `bson:"payload"`          // Message payload
	Timestamp        time.Time              `bson:"timestamp"`        // Message timestamp
	CorrelationID    string                 `bson:"correlation_id"`   // Link request with response
	ErrorCode        string                 `bson:"error_code,omitempty"`
	ErrorDescription string                 `bson:"error_description,omitempty"`
	CreatedAt        time.Time              `bson:"created_at"`
}

// Transaction represents a charging transaction
type Transaction struct {
	ID              string    `bson:"_id,omitempty"`
	TransactionID   int       `bson:"transaction_id"`
	StationID       string    `bson:"station_id"`
	ConnectorID     int       `bson:"connector_id"`
	IDTag           string    `bson:"id_tag"`
	StartTimestamp  time.Time `bson:"start_timestamp"`
	StopTimestamp   time.Time `bson:"stop_timestamp,omitempty"`
	MeterStart      int       `bson:"meter_start"`      // Wh
	MeterStop       int       `bson:"meter_stop"`       // Wh
	EnergyConsumed  int       `bson:"energy_consumed"`  // Wh
	Reason          string    `bson:"reason,omitempty"` // Stop reason
	Status          string    `bson:"status"`           // "active", "completed", "failed"
	ProtocolVersion string    `bson:"protocol_version"`
	CreatedAt       time.Time `bson:"created_at"`
	UpdatedAt       time.Time `bson:"updated_at"`
}

// MeterValue represents a meter value sample (time-series data)
type MeterValue struct {
	ID        string             `bson:"_id,omitempty"`
	Timestamp time.Time          `bson:"timestamp"`
	Metadata  MeterValueMetadata `bson:"metadata"`
	Value     float64            `bson:"value"`
	Unit      string             `bson:"unit"`
	Context   string             `bson:"context"`  // Sample.Periodic, Transaction.Begin, etc.
	Format    string             `bson:"format"`   // Raw, SignedData
	Location  string             `bson:"location"` // Outlet, Inlet, Body
}

// MeterValueMetadata holds metadata for meter values
type MeterValueMetadata struct {
	StationID     string `bson:"station_id"`
	ConnectorID   int    `bson:"connector_id"`
	TransactionID int    `bson:"transaction_id"`
	Measurand     string `bson:"measurand"` // Energy.Active.Import.Register, etc.
}
