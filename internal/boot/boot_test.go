package boot

import (
	"testing"
	"time"

	"github.com/ruslanhut/ocpp-cp-core/internal/ocpp/v16"
)

func TestAllowedToSendOnlyBootNotificationBeforeAccepted(t *testing.T) {
	c := New(nil, v16.BootNotificationRequest{ChargePointVendor: "v", ChargePointModel: "m"})
	if !c.AllowedToSend(v16.ActionBootNotification) {
		t.Fatal("BootNotification must always be allowed")
	}
	if c.AllowedToSend(v16.ActionHeartbeat) {
		t.Fatal("Heartbeat must not be allowed before Accepted")
	}
}

func TestAcceptedArmsHeartbeatAndUnlocksSending(t *testing.T) {
	c := New(nil, v16.BootNotificationRequest{})
	var armedInterval time.Duration
	armed := make(chan struct{}, 1)
	c.ArmHeartbeat = func(interval time.Duration) {
		armedInterval = interval
		armed <- struct{}{}
	}
	c.HandleBootNotificationResponse(v16.BootNotificationResponse{Status: v16.RegistrationStatusAccepted, Interval: 60})

	select {
	case <-armed:
	case <-time.After(time.Second):
		t.Fatal("expected ArmHeartbeat to be invoked")
	}
	if armedInterval != 60*time.Second {
		t.Fatalf("expected 60s heartbeat interval, got %v", armedInterval)
	}
	if !c.AllowedToSend(v16.ActionHeartbeat) {
		t.Fatal("Heartbeat must be allowed after Accepted")
	}
	if c.RegistrationStatus() != v16.RegistrationStatusAccepted {
		t.Fatalf("expected Accepted, got %v", c.RegistrationStatus())
	}
}

func TestPendingResendsBootNotificationAfterInterval(t *testing.T) {
	c := New(nil, v16.BootNotificationRequest{})
	resent := make(chan struct{}, 1)
	c.SendBootNotification = func(req v16.BootNotificationRequest) {
		select {
		case resent <- struct{}{}:
		default:
		}
	}
	c.HandleBootNotificationResponse(v16.BootNotificationResponse{Status: v16.RegistrationStatusPending, Interval: 0})

	select {
	case <-resent:
	case <-time.After(time.Second):
		t.Fatal("expected a resend of BootNotification while Pending")
	}
	if c.AllowedToSend(v16.ActionHeartbeat) {
		t.Fatal("non-BootNotification actions must stay blocked while Pending")
	}
}

func TestRejectedReturnsToDisconnectedGate(t *testing.T) {
	c := New(nil, v16.BootNotificationRequest{})
	c.HandleBootNotificationResponse(v16.BootNotificationResponse{Status: v16.RegistrationStatusRejected, Interval: 1})
	if c.ConnectionState() != StateRejected {
		t.Fatalf("expected Rejected state, got %v", c.ConnectionState())
	}
	if c.AllowedToSend(v16.ActionHeartbeat) {
		t.Fatal("Rejected must not allow sending")
	}
}
