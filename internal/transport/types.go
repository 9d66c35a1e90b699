// Package transport implements the charge point's WebSocket link to a CSMS
// (C3 WebSocketLink): connect/disconnect/send, the four OCPP security
// profiles, ping/pong liveness and reconnect backoff. Grounded on
// internal/connection/websocket.go, pool.go and types.go.
package transport

import (
	"time"
)

// State mirrors internal/connection's ConnectionState enum.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateError        State = "error"
	StateClosed       State = "closed"
)

// SecurityProfile identifies one of the four OCPP 1.6 security profiles.
type SecurityProfile int

const (
	SecurityProfile0 SecurityProfile = 0 // plain ws, no auth
	SecurityProfile1 SecurityProfile = 1 // plain ws, HTTP Basic
	SecurityProfile2 SecurityProfile = 2 // wss, HTTP Basic
	SecurityProfile3 SecurityProfile = 3 // wss, mTLS with a SECC leaf certificate
)

// Config configures a Link's connection to the CSMS.
type Config struct {
	StationID       string
	URL             string
	ProtocolVersion string
	Subprotocol     string

	SecurityProfile   SecurityProfile
	BasicAuthUsername string // ChargePointId
	BasicAuthPassword string // AuthorizationKey, hex-decoded per spec §6 if >=40 hex chars

	TLSCACert     string
	TLSClientCert string // SECC leaf cert, profile 3
	TLSClientKey  string
	TLSSkipVerify bool
	VerifyCsmsCommonName  bool
	VerifyCsmsAllowWildcards bool

	ConnectionTimeout    time.Duration
	WriteTimeout         time.Duration
	ReadTimeout          time.Duration
	PingInterval         time.Duration
	PongTimeout          time.Duration
	MaxReconnectAttempts int
	ReconnectBackoff     time.Duration
	ReconnectMaxBackoff  time.Duration
	RetryBackoffRepeatTimes int
	RetryBackoffRandomRange time.Duration

	OnConnected    func()
	OnDisconnected func(err error)
	OnMessage      func(data []byte)
	OnError        func(err error)
	// OnSend observes every outbound frame after it is queued to the wire,
	// regardless of whether it originated from the MessageQueue or from a
	// direct reply to an inbound Call.
	OnSend func(data []byte)
}

// Stats mirrors internal/connection's ConnectionStats.
type Stats struct {
	StationID         string
	State             State
	ConnectedAt       *time.Time
	DisconnectedAt    *time.Time
	LastMessageAt     *time.Time
	ReconnectAttempts int
	MessagesSent      int64
	MessagesReceived  int64
	BytesSent         int64
	BytesReceived     int64
	LastError         string
	// CertRemainingValidity is populated for SecurityProfile 3 so a caller
	// can schedule a reconnect ahead of the client certificate's expiry.
	CertRemainingValidity time.Duration
}

type wireMessage struct {
	kind int
	data []byte
}
