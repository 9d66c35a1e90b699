package fleet

import (
	"context"
	"errors"
	"testing"

	"github.com/ruslanhut/ocpp-cp-core/internal/chargepoint"
	"github.com/ruslanhut/ocpp-cp-core/internal/simulator"
	"github.com/ruslanhut/ocpp-cp-core/internal/transport"
)

func newTestChargePoint(stationID string) *chargepoint.ChargePoint {
	evse := simulator.NewEvse(nil)
	meter := simulator.NewMeter(evse)
	cfg := chargepoint.Config{
		ChargePointVendor:  "Acme",
		ChargePointModel:   "X1",
		NumberOfConnectors: 1,
		Link: transport.Config{
			StationID: stationID,
			URL:       "ws://localhost:9999/" + stationID,
		},
	}
	return chargepoint.New(nil, cfg, evse, meter, simulator.Certs{}, simulator.NewFiles(nil))
}

func TestAddAndGet(t *testing.T) {
	m := New(nil)
	cp := newTestChargePoint("CP001")
	m.Add("CP001", cp, false)

	got, ok := m.Get("CP001")
	if !ok || got != cp {
		t.Fatal("expected to retrieve the registered charge point")
	}

	if _, ok := m.Get("unknown"); ok {
		t.Fatal("expected unknown station to be absent")
	}
}

func TestStartStopUnknownStation(t *testing.T) {
	m := New(nil)
	ctx := context.Background()

	if err := m.StartChargePoint(ctx, "ghost"); !errors.Is(err, ErrUnknownStation) {
		t.Fatalf("expected ErrUnknownStation, got %v", err)
	}
	if err := m.StopChargePoint(ctx, "ghost"); !errors.Is(err, ErrUnknownStation) {
		t.Fatalf("expected ErrUnknownStation, got %v", err)
	}
}

func TestGetStatsCountsByLinkState(t *testing.T) {
	m := New(nil)
	m.Add("CP001", newTestChargePoint("CP001"), false)
	m.Add("CP002", newTestChargePoint("CP002"), false)

	stats := m.GetStats()
	if stats["total"] != 2 {
		t.Fatalf("expected total=2, got %v", stats["total"])
	}
	if stats["disconnected"] != 2 {
		t.Fatalf("expected both links to start disconnected, got %v", stats["disconnected"])
	}
}

func TestStationIDsListsEveryInstance(t *testing.T) {
	m := New(nil)
	m.Add("CP001", newTestChargePoint("CP001"), false)
	m.Add("CP002", newTestChargePoint("CP002"), false)

	ids := m.StationIDs()
	if len(ids) != 2 {
		t.Fatalf("expected 2 station ids, got %d", len(ids))
	}
}
