package transaction

import (
	"context"
	"testing"
	"time"

	"github.com/ruslanhut/ocpp-cp-core/internal/connector"
	"github.com/ruslanhut/ocpp-cp-core/internal/ocpp/v16"
)

func newTestManager(cb Callbacks, meter ReadMeter) (*Manager, *connector.Connector) {
	c := connector.New(1, "Type2")
	m := New(nil, map[int]*connector.Connector{1: c}, cb, meter)
	m.SetSampleIntervals(time.Hour, time.Hour) // don't actually tick during tests
	return m, c
}

func TestStartTransitionsToChargingAndTracksMeter(t *testing.T) {
	m, c := newTestManager(Callbacks{}, func(int) (int, float64) { return 1000, 5500 })
	tx, err := m.Start(context.Background(), 1, "TAG1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.GetState() != connector.StateCharging {
		t.Fatalf("expected Charging, got %s", c.GetState())
	}
	if tx.StartMeterValue != 1000 {
		t.Fatalf("expected start meter 1000, got %d", tx.StartMeterValue)
	}
}

func TestStartRejectedWhenNotAvailable(t *testing.T) {
	m, c := newTestManager(Callbacks{}, func(int) (int, float64) { return 0, 0 })
	_ = c.Transition(connector.StateUnavailable, v16.ChargePointErrorNoError, "")
	if _, err := m.Start(context.Background(), 1, "TAG1"); err == nil {
		t.Fatal("expected error starting on an unavailable connector")
	}
}

func TestStartUsesCSMSAssignedTransactionID(t *testing.T) {
	cb := Callbacks{
		SendStartTransaction: func(ctx context.Context, req v16.StartTransactionRequest) (*v16.StartTransactionResponse, error) {
			return &v16.StartTransactionResponse{
				IdTagInfo:     v16.IdTagInfo{Status: v16.AuthorizationStatusAccepted},
				TransactionId: 777,
			}, nil
		},
	}
	m, _ := newTestManager(cb, func(int) (int, float64) { return 0, 0 })
	tx, err := m.Start(context.Background(), 1, "TAG1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tx.ID != 777 {
		t.Fatalf("expected CSMS transactionId 777, got %d", tx.ID)
	}
}

func TestStopRequiresActiveTransaction(t *testing.T) {
	m, _ := newTestManager(Callbacks{}, func(int) (int, float64) { return 0, 0 })
	if err := m.Stop(context.Background(), 1, v16.ReasonLocal); err == nil {
		t.Fatal("expected error stopping a connector with no active transaction")
	}
}

func TestStopReturnsConnectorToAvailable(t *testing.T) {
	m, c := newTestManager(Callbacks{}, func(int) (int, float64) { return 500, 0 })
	_, err := m.Start(context.Background(), 1, "TAG1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.Stop(context.Background(), 1, v16.ReasonLocal); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.GetState() != connector.StateAvailable {
		t.Fatalf("expected Available after stop, got %s", c.GetState())
	}
}

func TestRecordPowerFlagsOutlier(t *testing.T) {
	tx := &Transaction{}
	for i := 0; i < 10; i++ {
		tx.recordPower(5000)
	}
	if outlier := tx.recordPower(5050); outlier {
		t.Fatal("small deviation should not be flagged")
	}
	if outlier := tx.recordPower(50000); !outlier {
		t.Fatal("large deviation should be flagged as an outlier")
	}
}
