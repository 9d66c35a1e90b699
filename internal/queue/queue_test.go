package queue

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/ruslanhut/ocpp-cp-core/internal/ocpp/v16"
)

type fakeSender struct {
	mu  sync.Mutex
	out [][]byte
	fail bool
}

func (f *fakeSender) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return context.DeadlineExceeded
	}
	f.out = append(f.out, data)
	return nil
}

func TestOneCallInFlightAtATime(t *testing.T) {
	s := &fakeSender{}
	q := New(s, nil, nil)
	q.Enqueue(v16.ActionHeartbeat, v16.HeartbeatRequest{})
	q.Enqueue(v16.ActionHeartbeat, v16.HeartbeatRequest{})

	time.Sleep(10 * time.Millisecond)
	s.mu.Lock()
	sent := len(s.out)
	s.mu.Unlock()
	if sent != 1 {
		t.Fatalf("expected exactly one in-flight call sent, got %d", sent)
	}
}

func TestTransactionalActionsNeverDroppedWhilePaused(t *testing.T) {
	s := &fakeSender{}
	q := New(s, nil, []v16.Action{v16.ActionMeterValues, v16.ActionHeartbeat})
	q.Pause()
	future := q.EnqueueTransactional(v16.ActionStartTransaction, v16.StartTransactionRequest{ConnectorId: 1, IdTag: "X", MeterStart: 0, Timestamp: v16.DateTime{}}, "ref1")
	if future == nil {
		t.Fatal("expected a future, StartTransaction must never be discarded")
	}
	select {
	case <-future.ch:
		t.Fatal("should not resolve immediately while paused and queue non-discardable")
	default:
	}
}

func TestDiscardForQueueingDropsWhilePaused(t *testing.T) {
	s := &fakeSender{}
	q := New(s, nil, []v16.Action{v16.ActionHeartbeat})
	q.Pause()
	future := q.EnqueueAsync(v16.ActionHeartbeat, v16.HeartbeatRequest{})
	msg, err := future.Wait(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !msg.Offline {
		t.Fatal("expected discarded heartbeat to resolve offline=true")
	}
}

func TestRewriteStoppedTransactionID(t *testing.T) {
	s := &fakeSender{}
	q := New(s, nil, nil)
	q.Pause() // keep it queued instead of sent immediately
	q.EnqueueTransactional(v16.ActionStopTransaction, v16.StopTransactionRequest{TransactionId: -1, MeterStop: 100, Timestamp: v16.DateTime{}}, "ref1")
	q.RewriteStoppedTransactionID("ref1", 42)

	q.mu.Lock()
	if len(q.items) != 1 {
		q.mu.Unlock()
		t.Fatalf("expected item still queued, got %d", len(q.items))
	}
	payload := q.items[0].call.Payload
	q.mu.Unlock()

	var req v16.StopTransactionRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		t.Fatalf("failed to decode rewritten payload: %v", err)
	}
	if req.TransactionId != 42 {
		t.Fatalf("expected rewritten transactionId 42, got %d", req.TransactionId)
	}
}
