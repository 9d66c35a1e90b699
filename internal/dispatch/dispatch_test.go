package dispatch

import (
	"encoding/json"
	"testing"

	"github.com/ruslanhut/ocpp-cp-core/internal/ocpp"
	"github.com/ruslanhut/ocpp-cp-core/internal/ocpp/v16"
)

func TestUnknownActionRepliesNotSupported(t *testing.T) {
	d := New(nil)
	call, _ := ocpp.NewCall("SomeMadeUpAction", map[string]string{})
	res, callErr := d.Dispatch(call)
	if res != nil {
		t.Fatal("expected no CallResult for an unknown action")
	}
	if callErr == nil || callErr.ErrorCode != ocpp.ErrorCodeNotSupported {
		t.Fatalf("expected NotSupported CallError, got %+v", callErr)
	}
}

func TestDisabledFeatureProfileRepliesNotImplemented(t *testing.T) {
	d := New(nil)
	d.Register(v16.ActionReserveNow, "Reservation", func(json.RawMessage) (interface{}, error) {
		return v16.ReserveNowResponse{Status: v16.ReservationStatusAccepted}, nil
	})
	d.SupportedProfiles = func(profile string) bool { return false }

	call, _ := ocpp.NewCall(string(v16.ActionReserveNow), v16.ReserveNowRequest{ConnectorId: 1})
	_, callErr := d.Dispatch(call)
	if callErr == nil || callErr.ErrorCode != ocpp.ErrorCodeNotImplemented {
		t.Fatalf("expected NotImplemented CallError, got %+v", callErr)
	}
}

func TestRegisteredActionDispatches(t *testing.T) {
	d := New(nil)
	d.Register(v16.ActionClearCache, "", func(json.RawMessage) (interface{}, error) {
		return v16.ClearCacheResponse{Status: "Accepted"}, nil
	})

	call, _ := ocpp.NewCall(string(v16.ActionClearCache), v16.ClearCacheRequest{})
	res, callErr := d.Dispatch(call)
	if callErr != nil {
		t.Fatalf("unexpected CallError: %+v", callErr)
	}
	if res == nil {
		t.Fatal("expected a CallResult")
	}
}

func TestTriggerMessageUnregisteredTargetIsNotImplemented(t *testing.T) {
	d := New(nil)
	status := d.HandleTriggerMessage(v16.MessageTrigger("BootNotification"), nil)
	if status != v16.TriggerMessageStatusNotImplemented {
		t.Fatalf("expected NotImplemented, got %s", status)
	}
}

func TestTriggerMessageInvokesResend(t *testing.T) {
	d := New(nil)
	fired := false
	d.RegisterTrigger(v16.MessageTrigger("Heartbeat"), func(connectorID *int) error {
		fired = true
		return nil
	})
	status := d.HandleTriggerMessage(v16.MessageTrigger("Heartbeat"), nil)
	if status != v16.TriggerMessageStatusAccepted {
		t.Fatalf("expected Accepted, got %s", status)
	}
	if !fired {
		t.Fatal("expected the resend function to fire")
	}
}
