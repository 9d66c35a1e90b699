// Package dispatch implements the incoming-Call router (C8 Dispatcher):
// frame-level routing, SupportedFeatureProfiles gating, and
// CallError(NotSupported/NotImplemented) replies. Grounded on
// internal/station/manager.go's handleCall/handleCallResult and
// internal/ocpp/v16/handler.go's HandleCall switch, restructured so an
// unrecognized or unsupported action always produces a properly encoded
// CallError instead of the teacher's bare Go error that never reaches the
// wire.
package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ruslanhut/ocpp-cp-core/internal/ocpp"
	"github.com/ruslanhut/ocpp-cp-core/internal/ocpp/v16"
)

// HandlerFunc processes one parsed Call payload and returns the response
// DTO (to be wrapped in a CallResult) or an error (wrapped in a CallError
// with ErrorCodeInternalError, unless the error is a *FormatError).
type HandlerFunc func(payload json.RawMessage) (interface{}, error)

// FormatError lets a HandlerFunc pick the CallError code its failure maps
// to, instead of the default ErrorCodeInternalError - used for JSON
// decoding and validate-tag failures on the inbound payload.
type FormatError struct {
	Code ocpp.ErrorCode
	Err  error
}

func (e *FormatError) Error() string { return e.Err.Error() }
func (e *FormatError) Unwrap() error { return e.Err }

// route pairs a handler with the feature profile that must be present in
// SupportedFeatureProfiles for the action to be honoured.
type route struct {
	handler HandlerFunc
	profile string
}

// Dispatcher routes inbound CS->CP Calls to registered handlers.
type Dispatcher struct {
	routes map[v16.Action]route
	logger *slog.Logger

	// SupportedProfiles reports whether a feature profile name (Core,
	// FirmwareManagement, LocalAuthListManagement, Reservation,
	// SmartCharging, RemoteTrigger, Security) is enabled. Backed by
	// DeviceModel's SupportedFeatureProfiles key.
	SupportedProfiles func(profile string) bool

	// triggers maps the set of TriggerMessage-able requested messages to
	// a function that synchronously (re)sends that notification using
	// current state.
	triggers map[v16.MessageTrigger]func(connectorID *int) error
}

// New creates an empty Dispatcher; Register each action before use.
func New(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		routes:   make(map[v16.Action]route),
		logger:   logger,
		triggers: make(map[v16.MessageTrigger]func(connectorID *int) error),
	}
}

// Register wires a handler for action, gated by profile ("" means always
// allowed — e.g. Core actions that have no profile name of their own).
func (d *Dispatcher) Register(action v16.Action, profile string, handler HandlerFunc) {
	d.routes[action] = route{handler: handler, profile: profile}
}

// RegisterTrigger wires a synchronous resend function for a TriggerMessage
// target.
func (d *Dispatcher) RegisterTrigger(target v16.MessageTrigger, fn func(connectorID *int) error) {
	d.triggers[target] = fn
}

// Dispatch routes one parsed Call, returning the CallResult or CallError to
// send back. Exactly one of the two return values is non-nil.
func (d *Dispatcher) Dispatch(call *ocpp.Call) (*ocpp.CallResult, *ocpp.CallError) {
	action := v16.Action(call.Action)

	r, known := d.routes[action]
	if !known {
		d.logger.Warn("unsupported action", "action", call.Action)
		return nil, mustCallError(call.UniqueID, ocpp.ErrorCodeNotSupported, fmt.Sprintf("action %q is not supported", call.Action))
	}

	if r.profile != "" && d.SupportedProfiles != nil && !d.SupportedProfiles(r.profile) {
		d.logger.Warn("action's feature profile is not enabled", "action", call.Action, "profile", r.profile)
		return nil, mustCallError(call.UniqueID, ocpp.ErrorCodeNotImplemented, fmt.Sprintf("feature profile %q is not enabled", r.profile))
	}

	resp, err := r.handler(call.Payload)
	if err != nil {
		code := ocpp.ErrorCodeInternalError
		var fe *FormatError
		if errors.As(err, &fe) {
			code = fe.Code
		}
		d.logger.Error("handler failed", "action", call.Action, "error", err)
		return nil, mustCallError(call.UniqueID, code, err.Error())
	}

	result, err := ocpp.NewCallResult(call.UniqueID, resp)
	if err != nil {
		d.logger.Error("failed to encode CallResult", "action", call.Action, "error", err)
		return nil, mustCallError(call.UniqueID, ocpp.ErrorCodeInternalError, "failed to encode response")
	}
	return result, nil
}

// HandleTriggerMessage resolves a TriggerMessage/ExtendedTriggerMessage
// request by synchronously invoking the matching resend function with the
// station's current state.
func (d *Dispatcher) HandleTriggerMessage(target v16.MessageTrigger, connectorID *int) v16.TriggerMessageStatus {
	fn, ok := d.triggers[target]
	if !ok {
		return v16.TriggerMessageStatusNotImplemented
	}
	if err := fn(connectorID); err != nil {
		d.logger.Error("trigger message resend failed", "target", target, "error", err)
		return v16.TriggerMessageStatusRejected
	}
	return v16.TriggerMessageStatusAccepted
}

func mustCallError(uniqueID string, code ocpp.ErrorCode, desc string) *ocpp.CallError {
	ce, err := ocpp.NewCallError(uniqueID, code, desc, nil)
	if err != nil {
		// NewCallError only fails on details-marshaling; nil details never
		// does, so this path is unreachable in practice.
		ce = &ocpp.CallError{MessageTypeID: ocpp.MessageTypeCallError, UniqueID: uniqueID, ErrorCode: code, ErrorDesc: desc}
	}
	return ce
}
