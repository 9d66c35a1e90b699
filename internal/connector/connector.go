// Package connector implements the per-connector availability/status state
// machine (C5 ConnectorStateMachine) and StatusNotification emission.
// Grounded on internal/station/connector.go's Connector type and
// canTransitionTo map, generalized to the full OCPP 1.6 Figure 4 transition
// table (reservation expiry/cancel, any->Faulted, any-non-Faulted->Finishing,
// Faulted->Available recovery, and the reduced connector-0 machine).
package connector

import (
	"fmt"
	"sync"
	"time"

	"github.com/ruslanhut/ocpp-cp-core/internal/ocpp/v16"
)

// State is a connector's OCPP 1.6 status, as reported via StatusNotification.
type State string

const (
	StateAvailable     State = "Available"
	StatePreparing     State = "Preparing"
	StateCharging      State = "Charging"
	StateSuspendedEVSE State = "SuspendedEVSE"
	StateSuspendedEV   State = "SuspendedEV"
	StateFinishing     State = "Finishing"
	StateReserved      State = "Reserved"
	StateUnavailable   State = "Unavailable"
	StateFaulted       State = "Faulted"
)

// transitions holds the allowed next-states for each current state, for
// connectors with id >= 1. Any state may go to Faulted, and every
// non-Faulted state may go to Finishing (a physical EVSE can report a
// fault or an abort at any point).
var transitions = map[State][]State{
	StateAvailable: {
		StatePreparing,
		StateReserved,
		StateUnavailable,
		StateFinishing,
	},
	StatePreparing: {
		StateCharging,
		StateAvailable,
		StateSuspendedEVSE,
		StateSuspendedEV,
		StateFinishing,
	},
	StateCharging: {
		StateSuspendedEVSE,
		StateSuspendedEV,
		StateFinishing,
	},
	StateSuspendedEVSE: {
		StateCharging,
		StateFinishing,
	},
	StateSuspendedEV: {
		StateCharging,
		StateFinishing,
	},
	StateFinishing: {
		StateAvailable,
		StateUnavailable,
	},
	StateReserved: {
		StateAvailable, // reservation expired or cancelled
		StatePreparing, // reserving idTag presents
		StateUnavailable,
		StateFinishing,
	},
	StateUnavailable: {
		StateAvailable,
		StateFinishing,
	},
	StateFaulted: {
		StateAvailable, // I1_ReturnToAvailable received
		StateUnavailable,
	},
}

// connectorZeroTransitions is the reduced machine for the charge point's
// virtual connector 0 (whole-station availability), which never enters the
// charging-cycle states.
var connectorZeroTransitions = map[State][]State{
	StateAvailable:   {StateUnavailable},
	StateUnavailable: {StateAvailable},
	StateFaulted:     {StateAvailable, StateUnavailable},
}

// Connector tracks one physical (or the virtual id-0) connector's state.
type Connector struct {
	mu sync.RWMutex

	ID              int
	ConnectorType   string
	State           State
	ErrorCode       v16.ChargePointErrorCode
	Info            string
	VendorID        string
	VendorErrorCode string
	LastStateChange time.Time

	reservation *reservation

	// Notify is invoked (outside the lock) whenever State changes, so the
	// dispatcher can emit a StatusNotification.
	Notify func(c *Connector)
}

type reservation struct {
	id          int
	idTag       string
	parentIDTag string
	expiry      time.Time
}

// New creates a Connector in the Available state.
func New(id int, connectorType string) *Connector {
	return &Connector{
		ID:              id,
		ConnectorType:   connectorType,
		State:           StateAvailable,
		ErrorCode:       v16.ChargePointErrorNoError,
		LastStateChange: time.Now(),
	}
}

func (c *Connector) allowedTransitions() map[State][]State {
	if c.ID == 0 {
		return connectorZeroTransitions
	}
	return transitions
}

// Transition moves the connector to newState if the move is legal in the
// OCPP 1.6 state diagram; it always allows a move into Faulted.
func (c *Connector) Transition(newState State, errorCode v16.ChargePointErrorCode, info string) error {
	c.mu.Lock()
	old := c.State
	if newState != StateFaulted && !c.canTransitionTo(newState) {
		c.mu.Unlock()
		return fmt.Errorf("connector %d: invalid transition %s -> %s", c.ID, old, newState)
	}
	c.State = newState
	c.ErrorCode = errorCode
	c.Info = info
	c.LastStateChange = time.Now()
	if newState != StateReserved && old == StateReserved {
		c.reservation = nil
	}
	c.mu.Unlock()

	if c.Notify != nil {
		c.Notify(c)
	}
	return nil
}

func (c *Connector) canTransitionTo(newState State) bool {
	allowed, ok := c.allowedTransitions()[c.State]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == newState {
			return true
		}
	}
	return false
}

func (c *Connector) GetState() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.State
}

func (c *Connector) IsAvailable() bool {
	s := c.GetState()
	return s == StateAvailable || s == StatePreparing
}

func (c *Connector) IsFaulted() bool {
	return c.GetState() == StateFaulted
}

// Reserve places a reservation, valid until expiry, and moves the connector
// to Reserved. Only legal from Available (connector-0 reservations, per
// ReserveConnectorZeroSupported, are handled by the caller before reaching
// here since connector 0 has its own reduced machine).
func (c *Connector) Reserve(id int, idTag, parentIDTag string, expiry time.Time) error {
	c.mu.Lock()
	if c.State != StateAvailable {
		c.mu.Unlock()
		return fmt.Errorf("connector %d not available for reservation (state %s)", c.ID, c.State)
	}
	c.reservation = &reservation{id: id, idTag: idTag, parentIDTag: parentIDTag, expiry: expiry}
	c.mu.Unlock()
	return c.Transition(StateReserved, v16.ChargePointErrorNoError, "")
}

// CancelReservation clears the reservation and returns the connector to
// Available.
func (c *Connector) CancelReservation() error {
	c.mu.Lock()
	if c.reservation == nil {
		c.mu.Unlock()
		return fmt.Errorf("connector %d has no active reservation", c.ID)
	}
	c.reservation = nil
	c.mu.Unlock()
	return c.Transition(StateAvailable, v16.ChargePointErrorNoError, "")
}

// ExpireReservationIfDue releases an expired reservation back to Available.
// Intended to be polled by a timer in the owning chargepoint orchestrator.
func (c *Connector) ExpireReservationIfDue(now time.Time) {
	c.mu.RLock()
	r := c.reservation
	c.mu.RUnlock()
	if r == nil || now.Before(r.expiry) {
		return
	}
	c.mu.Lock()
	c.reservation = nil
	c.mu.Unlock()
	_ = c.Transition(StateAvailable, v16.ChargePointErrorNoError, "reservation expired")
}

// IsReservedFor reports whether idTag (or its parent) may use this
// connector's active, unexpired reservation.
func (c *Connector) IsReservedFor(idTag string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.reservation == nil || time.Now().After(c.reservation.expiry) {
		return false
	}
	return c.reservation.idTag == idTag || c.reservation.parentIDTag == idTag
}

// ToStatusNotification builds the StatusNotification.req payload for the
// connector's current state.
func (c *Connector) ToStatusNotification() v16.StatusNotificationRequest {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ts := v16.DateTime{Time: c.LastStateChange}
	return v16.StatusNotificationRequest{
		ConnectorId:     c.ID,
		ErrorCode:       c.ErrorCode,
		Status:          v16.ChargePointStatus(c.State),
		Info:            c.Info,
		Timestamp:       &ts,
		VendorId:        c.VendorID,
		VendorErrorCode: c.VendorErrorCode,
	}
}
