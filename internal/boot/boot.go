// Package boot implements the charge point's registration/boot sequence
// (C4 BootCoordinator): sending BootNotification, handling
// Accepted/Pending/Rejected, and gating which messages may be sent before
// registration completes. Grounded on internal/station/manager.go's
// sendBootNotification/handleBootNotificationResponse/startHeartbeat
// functions.
package boot

import (
	"log/slog"
	"sync"
	"time"

	"github.com/ruslanhut/ocpp-cp-core/internal/ocpp/v16"
)

// RegistrationStatus mirrors v16.RegistrationStatus locally so callers don't
// need to import v16 just to compare states.
type RegistrationStatus = v16.RegistrationStatus

// ConnectionState is the charge point's view of its link+registration
// lifecycle.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "Disconnected"
	StateConnected    ConnectionState = "Connected"
	StateBooted       ConnectionState = "Booted"
	StatePending      ConnectionState = "Pending"
	StateRejected     ConnectionState = "Rejected"
)

// Coordinator owns the registration state machine and the
// allowed_to_send(messageType) gate.
type Coordinator struct {
	mu sync.RWMutex

	registrationStatus RegistrationStatus
	connectionState    ConnectionState
	initialized        bool
	heartbeatInterval  time.Duration
	rejectedUntil      time.Time

	logger *slog.Logger

	// SendBootNotification sends the BootNotification Call and is expected
	// to eventually call HandleBootNotificationResponse with the reply.
	SendBootNotification func(req v16.BootNotificationRequest)
	// ArmHeartbeat(interval) (re)starts the periodic Heartbeat timer.
	ArmHeartbeat func(interval time.Duration)
	// ArmClockAlignedTimer (re)starts the clock-aligned meter sampling timer.
	ArmClockAlignedTimer func()
	// SetInitialConnectorAvailability applies the device model's persisted
	// per-connector availability once boot is Accepted.
	SetInitialConnectorAvailability func()

	bootRequest v16.BootNotificationRequest
}

// New creates a Coordinator in the Disconnected state.
func New(logger *slog.Logger, bootRequest v16.BootNotificationRequest) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		logger:          logger,
		connectionState: StateDisconnected,
		bootRequest:     bootRequest,
	}
}

// OnLinkConnected is called once the WebSocket link comes up; it sends the
// initial BootNotification.
func (c *Coordinator) OnLinkConnected() {
	c.mu.Lock()
	c.connectionState = StateConnected
	c.mu.Unlock()
	c.sendBoot()
}

func (c *Coordinator) sendBoot() {
	if c.SendBootNotification != nil {
		c.SendBootNotification(c.bootRequest)
	}
}

// HandleBootNotificationResponse applies the CSMS's reply and arms the
// appropriate timers / resend policy.
func (c *Coordinator) HandleBootNotificationResponse(resp v16.BootNotificationResponse) {
	c.mu.Lock()
	c.registrationStatus = resp.Status
	interval := time.Duration(resp.Interval) * time.Second
	c.heartbeatInterval = interval

	switch resp.Status {
	case v16.RegistrationStatusAccepted:
		c.connectionState = StateBooted
		c.initialized = true
	case v16.RegistrationStatusPending:
		c.connectionState = StatePending
		c.initialized = false
	case v16.RegistrationStatusRejected:
		c.connectionState = StateRejected
		c.initialized = false
		c.rejectedUntil = time.Now().Add(interval)
	}
	c.mu.Unlock()

	switch resp.Status {
	case v16.RegistrationStatusAccepted:
		if c.ArmHeartbeat != nil {
			c.ArmHeartbeat(interval)
		}
		if c.ArmClockAlignedTimer != nil {
			c.ArmClockAlignedTimer()
		}
		if c.SetInitialConnectorAvailability != nil {
			c.SetInitialConnectorAvailability()
		}
	case v16.RegistrationStatusPending:
		go c.resendAfter(interval)
	case v16.RegistrationStatusRejected:
		go c.resendAfter(interval)
	}
}

func (c *Coordinator) resendAfter(interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	time.Sleep(interval)
	c.mu.RLock()
	stillWaiting := c.connectionState == StatePending || c.connectionState == StateRejected
	c.mu.RUnlock()
	if stillWaiting {
		c.sendBoot()
	}
}

// AllowedToSend implements the spec's allowed_to_send gate: true only once
// initialized and Accepted, or for BootNotification itself (and, while
// Pending, nothing but BootNotification is allowed either).
func (c *Coordinator) AllowedToSend(action v16.Action) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if action == v16.ActionBootNotification {
		return true
	}
	return c.initialized && c.registrationStatus == v16.RegistrationStatusAccepted
}

func (c *Coordinator) RegistrationStatus() RegistrationStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.registrationStatus
}

func (c *Coordinator) ConnectionState() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connectionState
}

// OnLinkDisconnected resets to Disconnected; a subsequent OnLinkConnected
// restarts the boot sequence.
func (c *Coordinator) OnLinkDisconnected() {
	c.mu.Lock()
	c.connectionState = StateDisconnected
	c.initialized = false
	c.mu.Unlock()
}
