package connector

import (
	"testing"
	"time"

	"github.com/ruslanhut/ocpp-cp-core/internal/ocpp/v16"
)

func TestNewConnectorStartsAvailable(t *testing.T) {
	c := New(1, "Type2")
	if c.GetState() != StateAvailable {
		t.Fatalf("expected Available, got %s", c.GetState())
	}
}

func TestValidTransitionSequence(t *testing.T) {
	c := New(1, "Type2")
	steps := []State{StatePreparing, StateCharging, StateFinishing, StateAvailable}
	for _, s := range steps {
		if err := c.Transition(s, v16.ChargePointErrorNoError, ""); err != nil {
			t.Fatalf("unexpected error transitioning to %s: %v", s, err)
		}
	}
}

func TestInvalidTransitionRejected(t *testing.T) {
	c := New(1, "Type2")
	if err := c.Transition(StateCharging, v16.ChargePointErrorNoError, ""); err == nil {
		t.Fatal("expected Available -> Charging to be rejected")
	}
}

func TestAnyStateCanFault(t *testing.T) {
	c := New(1, "Type2")
	_ = c.Transition(StatePreparing, v16.ChargePointErrorNoError, "")
	_ = c.Transition(StateCharging, v16.ChargePointErrorNoError, "")
	if err := c.Transition(StateFaulted, v16.ChargePointErrorGroundFailure, "ground fault"); err != nil {
		t.Fatalf("expected Charging -> Faulted to always be allowed: %v", err)
	}
}

func TestFaultedReturnsToAvailable(t *testing.T) {
	c := New(1, "Type2")
	_ = c.Transition(StateFaulted, v16.ChargePointErrorGroundFailure, "")
	if err := c.Transition(StateAvailable, v16.ChargePointErrorNoError, ""); err != nil {
		t.Fatalf("expected Faulted -> Available to be allowed: %v", err)
	}
}

func TestConnectorZeroNeverEntersChargingStates(t *testing.T) {
	c := New(0, "")
	if err := c.Transition(StateCharging, v16.ChargePointErrorNoError, ""); err == nil {
		t.Fatal("connector 0 must never enter Charging")
	}
}

func TestReserveAndExpire(t *testing.T) {
	c := New(1, "Type2")
	if err := c.Reserve(7, "TAG1", "", time.Now().Add(-time.Second)); err != nil {
		t.Fatalf("unexpected error reserving: %v", err)
	}
	if c.GetState() != StateReserved {
		t.Fatalf("expected Reserved, got %s", c.GetState())
	}
	c.ExpireReservationIfDue(time.Now())
	if c.GetState() != StateAvailable {
		t.Fatalf("expected expired reservation to return to Available, got %s", c.GetState())
	}
}

func TestIsReservedForChecksIdTagAndParent(t *testing.T) {
	c := New(1, "Type2")
	_ = c.Reserve(7, "TAG1", "PARENT1", time.Now().Add(time.Hour))
	if !c.IsReservedFor("TAG1") {
		t.Fatal("expected direct idTag match")
	}
	if !c.IsReservedFor("PARENT1") {
		t.Fatal("expected parentIdTag match")
	}
	if c.IsReservedFor("OTHER") {
		t.Fatal("unrelated idTag should not match reservation")
	}
}

func TestNotifyCallbackFiresOnTransition(t *testing.T) {
	c := New(1, "Type2")
	fired := make(chan State, 1)
	c.Notify = func(c *Connector) { fired <- c.GetState() }
	_ = c.Transition(StatePreparing, v16.ChargePointErrorNoError, "")
	select {
	case s := <-fired:
		if s != StatePreparing {
			t.Fatalf("expected Preparing, got %s", s)
		}
	case <-time.After(time.Second):
		t.Fatal("expected Notify to fire")
	}
}
