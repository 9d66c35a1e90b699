package scenario

import (
	"context"
	"fmt"

	"github.com/ruslanhut/ocpp-cp-core/internal/chargepoint"
	"github.com/ruslanhut/ocpp-cp-core/internal/ocpp"
	"github.com/ruslanhut/ocpp-cp-core/internal/ocpp/v16"
	"github.com/ruslanhut/ocpp-cp-core/internal/transport"
)

// ChargePointController wraps a chargepoint.ChargePoint to implement the
// StationController interface, driving a scenario against a single charge
// point's transport/transaction state instead of a fleet of simulated
// stations. stationID is accepted for interface compatibility but ignored:
// a scenario run targets the one charge point the process owns.
type ChargePointController struct {
	cp *chargepoint.ChargePoint
}

// NewChargePointController creates a scenario controller around cp.
func NewChargePointController(cp *chargepoint.ChargePoint) *ChargePointController {
	return &ChargePointController{cp: cp}
}

func (c *ChargePointController) StartStation(ctx context.Context, stationID string) error {
	return c.cp.Start()
}

func (c *ChargePointController) StopStation(ctx context.Context, stationID string) error {
	return c.cp.Stop()
}

func (c *ChargePointController) StartCharging(ctx context.Context, stationID string, connectorID int, idTag string) error {
	_, err := c.cp.Tx.Start(ctx, connectorID, idTag)
	return err
}

func (c *ChargePointController) StopCharging(ctx context.Context, stationID string, connectorID int, reason string) error {
	return c.cp.Tx.Stop(ctx, connectorID, v16.Reason(reason))
}

func (c *ChargePointController) SendCustomMessage(ctx context.Context, stationID string, messageJSON []byte) error {
	msg, err := ocpp.ParseMessage(messageJSON)
	if err != nil {
		return fmt.Errorf("parse custom message: %w", err)
	}
	call, ok := msg.(*ocpp.Call)
	if !ok {
		return fmt.Errorf("custom message must be a Call")
	}
	c.cp.Queue.Enqueue(v16.Action(call.Action), call.Payload)
	return nil
}

func (c *ChargePointController) GetConnectors(ctx context.Context, stationID string) ([]map[string]interface{}, error) {
	out := make([]map[string]interface{}, 0, len(c.cp.Connectors))
	for id, conn := range c.cp.Connectors {
		out = append(out, map[string]interface{}{
			"id":     id,
			"status": string(conn.GetState()),
		})
	}
	return out, nil
}

func (c *ChargePointController) IsStationConnected(stationID string) bool {
	return c.cp.Link.GetState() == transport.StateConnected
}
