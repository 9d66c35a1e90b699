package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Link is a single WebSocket connection to a CSMS.
type Link struct {
	config Config
	logger *slog.Logger

	conn           *websocket.Conn
	state          State
	stateMu        sync.RWMutex
	reconnectCount int
	connectedAt    *time.Time
	disconnectedAt *time.Time
	lastMessageAt  *time.Time

	messagesSent     int64
	messagesReceived int64
	bytesSent        int64
	bytesReceived    int64
	statsMu          sync.RWMutex

	certNotAfter time.Time

	ctx       context.Context
	cancel    context.CancelFunc
	sendQueue chan wireMessage
	closeOnce sync.Once

	lastError   string
	lastErrorMu sync.RWMutex

	missedPongs int

	// OnDisconnectPauseQueue is invoked whenever the link goes down, so the
	// outbound MessageQueue can be paused per spec.md's C3/C2 wiring.
	OnDisconnectPauseQueue func()
	// OnSwitchSecurityProfile is invoked after a SecurityProfile
	// ChangeConfiguration is accepted and the next reconnect should use it.
	OnSwitchSecurityProfile func(profile SecurityProfile)
}

// New creates a Link with defaults matching internal/connection/websocket.go.
func New(config Config, logger *slog.Logger) *Link {
	if logger == nil {
		logger = slog.Default()
	}
	if config.ConnectionTimeout == 0 {
		config.ConnectionTimeout = 30 * time.Second
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 10 * time.Second
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = 60 * time.Second
	}
	if config.PingInterval == 0 {
		config.PingInterval = 30 * time.Second
	}
	if config.PongTimeout == 0 {
		config.PongTimeout = 10 * time.Second
	}
	if config.MaxReconnectAttempts == 0 {
		config.MaxReconnectAttempts = 5
	}
	if config.ReconnectBackoff == 0 {
		config.ReconnectBackoff = 5 * time.Second
	}
	if config.ReconnectMaxBackoff == 0 {
		config.ReconnectMaxBackoff = 60 * time.Second
	}
	if config.Subprotocol == "" {
		config.Subprotocol = subprotocolFor(config.ProtocolVersion)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Link{
		config:    config,
		logger:    logger,
		state:     StateDisconnected,
		ctx:       ctx,
		cancel:    cancel,
		sendQueue: make(chan wireMessage, 100),
	}
}

// Connect dials the CSMS per the configured SecurityProfile.
func (l *Link) Connect() error {
	l.setState(StateConnecting)
	l.logger.Info("connecting to csms",
		"station_id", l.config.StationID, "url", l.config.URL,
		"security_profile", l.config.SecurityProfile, "subprotocol", l.config.Subprotocol)

	headers := http.Header{}
	if l.config.SecurityProfile == SecurityProfile1 || l.config.SecurityProfile == SecurityProfile2 {
		headers.Set("Authorization", basicAuth(l.config.BasicAuthUsername, derivePassword(l.config.BasicAuthPassword)))
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: l.config.ConnectionTimeout,
		Subprotocols:     []string{l.config.Subprotocol},
	}

	if l.config.SecurityProfile == SecurityProfile2 || l.config.SecurityProfile == SecurityProfile3 {
		tlsConfig, err := l.createTLSConfig()
		if err != nil {
			l.setError(fmt.Errorf("failed to create tls config: %w", err))
			l.setState(StateError)
			return err
		}
		dialer.TLSClientConfig = tlsConfig
	}

	conn, resp, err := dialer.Dial(l.config.URL, headers)
	if err != nil {
		l.setError(fmt.Errorf("failed to dial: %w", err))
		l.setState(StateError)
		return err
	}
	defer resp.Body.Close()

	l.conn = conn
	now := time.Now()
	l.connectedAt = &now
	l.setState(StateConnected)
	l.reconnectCount = 0
	l.missedPongs = 0

	l.logger.Info("connected to csms", "station_id", l.config.StationID, "subprotocol", conn.Subprotocol())

	if l.config.OnConnected != nil {
		l.config.OnConnected()
	}

	go l.readPump()
	go l.writePump()
	go l.pingPump()

	return nil
}

// Disconnect closes the link and suppresses automatic reconnection.
func (l *Link) Disconnect() error {
	l.closeOnce.Do(func() {
		l.logger.Info("disconnecting from csms", "station_id", l.config.StationID)
		l.cancel()
		if l.conn != nil {
			_ = l.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = l.conn.Close()
		}
		now := time.Now()
		l.disconnectedAt = &now
		l.setState(StateClosed)
	})
	return nil
}

// Send queues data to be written to the wire.
func (l *Link) Send(data []byte) error {
	if l.GetState() != StateConnected {
		return fmt.Errorf("connection not established")
	}
	select {
	case l.sendQueue <- wireMessage{kind: websocket.TextMessage, data: data}:
		if l.config.OnSend != nil {
			l.config.OnSend(data)
		}
		return nil
	case <-l.ctx.Done():
		return fmt.Errorf("connection closed")
	case <-time.After(5 * time.Second):
		return fmt.Errorf("send queue full")
	}
}

func (l *Link) readPump() {
	defer func() { l.handleDisconnect(fmt.Errorf("read pump stopped")) }()

	l.conn.SetReadDeadline(time.Now().Add(l.config.ReadTimeout))
	l.conn.SetPongHandler(func(string) error {
		l.missedPongs = 0
		l.conn.SetReadDeadline(time.Now().Add(l.config.ReadTimeout))
		return nil
	})

	for {
		select {
		case <-l.ctx.Done():
			return
		default:
		}

		messageType, message, err := l.conn.ReadMessage()
		if err != nil {
			l.handleDisconnect(err)
			return
		}

		l.statsMu.Lock()
		l.messagesReceived++
		l.bytesReceived += int64(len(message))
		now := time.Now()
		l.lastMessageAt = &now
		l.statsMu.Unlock()

		switch messageType {
		case websocket.TextMessage:
			if l.config.OnMessage != nil {
				l.config.OnMessage(message)
			}
		case websocket.BinaryMessage:
			l.logger.Warn("received unexpected binary message", "station_id", l.config.StationID)
		case websocket.CloseMessage:
			l.handleDisconnect(nil)
			return
		}

		l.conn.SetReadDeadline(time.Now().Add(l.config.ReadTimeout))
	}
}

func (l *Link) writePump() {
	for {
		select {
		case <-l.ctx.Done():
			return
		case message, ok := <-l.sendQueue:
			if !ok {
				return
			}
			l.conn.SetWriteDeadline(time.Now().Add(l.config.WriteTimeout))
			if err := l.conn.WriteMessage(message.kind, message.data); err != nil {
				l.logger.Error("failed to write message", "error", err)
				l.handleDisconnect(err)
				return
			}
			l.statsMu.Lock()
			l.messagesSent++
			l.bytesSent += int64(len(message.data))
			l.statsMu.Unlock()
		}
	}
}

// pingPump sends a ping every PingInterval and treats a pong still missing
// when the next tick arrives as a disconnect requiring reconnect.
// PongTimeout appears only in the error text; no separate pong deadline
// is armed.
func (l *Link) pingPump() {
	ticker := time.NewTicker(l.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C:
			l.missedPongs++
			if l.missedPongs > 1 {
				l.logger.Warn("missed pong, treating link as dead", "station_id", l.config.StationID)
				l.handleDisconnect(fmt.Errorf("missed pong within %s", l.config.PongTimeout))
				return
			}
			l.conn.SetWriteDeadline(time.Now().Add(l.config.WriteTimeout))
			if err := l.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				l.handleDisconnect(err)
				return
			}
		}
	}
}

func (l *Link) handleDisconnect(err error) {
	l.stateMu.Lock()
	if l.state == StateClosed {
		l.stateMu.Unlock()
		return
	}
	l.stateMu.Unlock()

	now := time.Now()
	l.disconnectedAt = &now
	l.setState(StateDisconnected)

	if err != nil {
		l.setError(err)
	}
	if l.config.OnDisconnected != nil {
		l.config.OnDisconnected(err)
	}
	if l.OnDisconnectPauseQueue != nil {
		l.OnDisconnectPauseQueue()
	}

	select {
	case <-l.ctx.Done():
		l.setState(StateClosed)
		return
	default:
	}

	if l.reconnectCount < l.config.MaxReconnectAttempts {
		go l.reconnect()
	} else {
		l.logger.Error("max reconnect attempts reached", "station_id", l.config.StationID)
		l.setState(StateError)
	}
}

// reconnect backs off ReconnectBackoff doubled per attempt, capped at
// ReconnectMaxBackoff, plus an offset below RetryBackoffRandomRange that
// pseudoJitter derives deterministically from the attempt count.
// RetryBackoffRepeatTimes is not read.
func (l *Link) reconnect() {
	l.setState(StateReconnecting)
	l.reconnectCount++

	backoff := l.config.ReconnectBackoff * time.Duration(1<<uint(l.reconnectCount-1))
	if backoff > l.config.ReconnectMaxBackoff {
		backoff = l.config.ReconnectMaxBackoff
	}
	if l.config.RetryBackoffRandomRange > 0 {
		backoff += time.Duration(pseudoJitter(l.reconnectCount)) % l.config.RetryBackoffRandomRange
	}

	l.logger.Info("attempting reconnect", "station_id", l.config.StationID, "attempt", l.reconnectCount, "backoff", backoff)
	time.Sleep(backoff)

	if err := l.Connect(); err != nil {
		l.logger.Error("reconnection failed", "station_id", l.config.StationID, "error", err)
	}
}

// pseudoJitter derives a deterministic, non-uniform offset from the attempt
// count so Link needs no math/rand dependency for its jitter term.
func pseudoJitter(attempt int) int64 {
	x := int64(attempt)*2654435761 + 1
	if x < 0 {
		x = -x
	}
	return x
}

func (l *Link) GetState() State {
	l.stateMu.RLock()
	defer l.stateMu.RUnlock()
	return l.state
}

func (l *Link) setState(s State) {
	l.stateMu.Lock()
	l.state = s
	l.stateMu.Unlock()
}

func (l *Link) GetStats() Stats {
	l.statsMu.RLock()
	l.stateMu.RLock()
	l.lastErrorMu.RLock()
	defer l.lastErrorMu.RUnlock()
	defer l.stateMu.RUnlock()
	defer l.statsMu.RUnlock()

	remaining := time.Duration(0)
	if !l.certNotAfter.IsZero() {
		remaining = time.Until(l.certNotAfter)
	}

	return Stats{
		StationID:             l.config.StationID,
		State:                 l.state,
		ConnectedAt:           l.connectedAt,
		DisconnectedAt:        l.disconnectedAt,
		LastMessageAt:         l.lastMessageAt,
		ReconnectAttempts:     l.reconnectCount,
		MessagesSent:          l.messagesSent,
		MessagesReceived:      l.messagesReceived,
		BytesSent:             l.bytesSent,
		BytesReceived:         l.bytesReceived,
		LastError:             l.lastError,
		CertRemainingValidity: remaining,
	}
}

func (l *Link) setError(err error) {
	l.lastErrorMu.Lock()
	defer l.lastErrorMu.Unlock()
	if err == nil {
		return
	}
	l.lastError = err.Error()
	if l.config.OnError != nil {
		l.config.OnError(err)
	}
}

// createTLSConfig builds the TLS config for profiles 2 (wss+basic) and 3
// (wss+mTLS with a SECC leaf certificate); profile 3 also records the
// leaf's NotAfter so GetStats can surface remaining validity for an
// expiry-scheduled reconnect.
func (l *Link) createTLSConfig() (*tls.Config, error) {
	tlsConfig := &tls.Config{InsecureSkipVerify: l.config.TLSSkipVerify}

	if l.config.TLSCACert != "" {
		caCert, err := os.ReadFile(l.config.TLSCACert)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA cert: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to append CA cert")
		}
		tlsConfig.RootCAs = pool
	}

	if l.config.SecurityProfile == SecurityProfile3 && l.config.TLSClientCert != "" && l.config.TLSClientKey != "" {
		cert, err := tls.LoadX509KeyPair(l.config.TLSClientCert, l.config.TLSClientKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load client cert: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
		if len(cert.Certificate) > 0 {
			if leaf, err := x509.ParseCertificate(cert.Certificate[0]); err == nil {
				l.certNotAfter = leaf.NotAfter
			}
		}
	}

	return tlsConfig, nil
}

func subprotocolFor(version string) string {
	switch version {
	case "1.6":
		return "ocpp1.6"
	case "2.0.1":
		return "ocpp2.0.1"
	case "2.1":
		return "ocpp2.1"
	default:
		return "ocpp1.6"
	}
}

func basicAuth(username, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}

// derivePassword implements spec §6's AuthorizationKey-to-Basic-auth-
// password rule: hex-decode if the key is >=40 hex characters and valid
// hex, otherwise use it verbatim.
func derivePassword(authorizationKey string) string {
	if len(authorizationKey) >= 40 && isHex(authorizationKey) {
		if decoded, err := hex.DecodeString(authorizationKey); err == nil {
			return string(decoded)
		}
	}
	return authorizationKey
}

func isHex(s string) bool {
	if len(s)%2 != 0 {
		return false
	}
	return strings.IndexFunc(s, func(r rune) bool {
		return !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f' || r >= 'A' && r <= 'F')
	}) == -1
}
