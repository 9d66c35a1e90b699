package smartcharging

import (
	"time"

	"github.com/ruslanhut/ocpp-cp-core/internal/ocpp/v16"
)

// NumberOfConnectors bounds valid connectorId values for GetCompositeSchedule
// and is supplied by the chargepoint orchestrator from DeviceModel.
type Handler struct {
	Engine            *Engine
	Store             *Store
	NumberOfConnectors int
}

func NewHandler(engine *Engine, store *Store, numberOfConnectors int) *Handler {
	return &Handler{Engine: engine, Store: store, NumberOfConnectors: numberOfConnectors}
}

func (h *Handler) SetChargingProfile(req v16.SetChargingProfileRequest) v16.SetChargingProfileResponse {
	status, err := h.Store.Set(req.ConnectorId, req.CsChargingProfiles)
	if err != nil {
		return v16.SetChargingProfileResponse{Status: v16.ChargingProfileStatusRejected}
	}
	return v16.SetChargingProfileResponse{Status: status}
}

func (h *Handler) ClearChargingProfile(req v16.ClearChargingProfileRequest) v16.ClearChargingProfileResponse {
	removed := h.Store.Clear(ClearFilter{
		ID:          req.Id,
		ConnectorID: req.ConnectorId,
		Purpose:     req.ChargingProfilePurpose,
		StackLevel:  req.StackLevel,
	})
	if !removed {
		return v16.ClearChargingProfileResponse{Status: v16.ClearChargingProfileStatusUnknown}
	}
	return v16.ClearChargingProfileResponse{Status: v16.ClearChargingProfileStatusAccepted}
}

func (h *Handler) GetCompositeSchedule(req v16.GetCompositeScheduleRequest) v16.GetCompositeScheduleResponse {
	if req.ConnectorId < 0 || req.ConnectorId > h.NumberOfConnectors {
		return v16.GetCompositeScheduleResponse{Status: v16.GetCompositeScheduleStatusRejected}
	}

	sched, err := h.Engine.ComputeComposite(req.ConnectorId, timeNow(), time.Duration(req.Duration)*time.Second, req.ChargingRateUnit)
	if err != nil {
		return v16.GetCompositeScheduleResponse{Status: v16.GetCompositeScheduleStatusRejected}
	}

	start := v16.DateTime{Time: sched.StartSchedule}
	chargingSchedule := sched.ToChargingSchedule()
	connID := req.ConnectorId
	return v16.GetCompositeScheduleResponse{
		Status:           v16.GetCompositeScheduleStatusAccepted,
		ConnectorId:      &connID,
		ScheduleStart:    &start,
		ChargingSchedule: &chargingSchedule,
	}
}

// timeNow is a seam so tests (and, later, a virtual clock) can control
// "now" without reaching for time.Now() throughout the package.
var timeNow = time.Now
