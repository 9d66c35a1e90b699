// Package queue implements the charge point's outbound message queue: one
// Call in flight at a time, paused/resumed with the transport link, and
// retried on send failure (every Call is enqueued with 3 attempts, 60 s
// apart). Grounded on
// internal/connection/websocket.go's sendQueue-channel idiom, generalized
// from a raw byte queue into a typed, retry-aware Call queue.
package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/ruslanhut/ocpp-cp-core/internal/ocpp"
	"github.com/ruslanhut/ocpp-cp-core/internal/ocpp/v16"
)

// State is the queue's Running/Paused state machine.
type State string

const (
	Running State = "Running"
	Paused  State = "Paused"
)

// EnhancedMessage is the resolved outcome of an enqueued Call: either a
// CallResult/CallError pair delivered by the wire, or an offline indicator
// if the queue gave up retrying before a reply arrived.
type EnhancedMessage struct {
	Result  interface{} // the decoded response DTO, nil on error/offline
	Error   *ocpp.CallError
	Offline bool
}

// Future resolves once the enqueued Call's outcome is known.
type Future struct {
	ch chan EnhancedMessage
}

// Wait blocks until the Call is resolved or ctx is done.
func (f *Future) Wait(ctx context.Context) (EnhancedMessage, error) {
	select {
	case m := <-f.ch:
		return m, nil
	case <-ctx.Done():
		return EnhancedMessage{}, ctx.Err()
	}
}

// transactional actions are never dropped while paused, matching the
// MessageTypesDiscardForQueueing exception in spec.md.
var transactionalActions = map[v16.Action]bool{
	v16.ActionStartTransaction: true,
	v16.ActionStopTransaction:  true,
	v16.ActionMeterValues:      true, // carries transactionData, treated transactionally
}

type pending struct {
	call         *ocpp.Call
	action       v16.Action
	attempts     int
	maxAttempts  int
	retryInterval time.Duration
	discardable  bool // dropped instead of queued if Paused and not transactional
	future       *Future
	clientRef    string // correlates a placeholder StartTransaction to its StopTransaction
}

// Sender delivers raw bytes to the transport. The queue does not know about
// WebSockets directly; internal/transport implements this.
type Sender interface {
	Send(data []byte) error
}

// Queue serializes outbound Calls, one in flight at a time.
type Queue struct {
	mu      sync.Mutex
	state   State
	items   []*pending
	inFlight *pending
	sender  Sender
	logger  *slog.Logger

	discardForQueueing map[v16.Action]bool

	// placeholderTxIDs maps a StartTransaction clientRef to the queued
	// StopTransaction(s) that must be rewritten once the real transactionId
	// is known.
	placeholders map[string][]*pending
}

// New creates a Queue bound to sender. discardForQueueing lists actions
// dropped (not queued) while Paused, matching
// MessageTypesDiscardForQueueing; transactional actions are always retained
// regardless of this list.
func New(sender Sender, logger *slog.Logger, discardForQueueing []v16.Action) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	d := make(map[v16.Action]bool, len(discardForQueueing))
	for _, a := range discardForQueueing {
		d[a] = true
	}
	return &Queue{
		state:              Running,
		sender:             sender,
		logger:             logger,
		discardForQueueing: d,
		placeholders:       make(map[string][]*pending),
	}
}

// Pause stops dispatching new Calls; MessageTypesDiscardForQueueing actions
// enqueued while Paused are dropped instead of queued, except transactional
// actions which are never dropped.
func (q *Queue) Pause() {
	q.mu.Lock()
	q.state = Paused
	q.mu.Unlock()
}

// Resume restarts dispatching and immediately tries to send the head item.
func (q *Queue) Resume() {
	q.mu.Lock()
	q.state = Running
	q.mu.Unlock()
	q.pump()
}

// Enqueue sends a fire-and-forget Call; no caller is waiting on the result.
func (q *Queue) Enqueue(action v16.Action, payload interface{}) {
	q.enqueue(action, payload, "", false)
}

// EnqueueAsync sends a Call and returns a Future resolved on reply or
// offline exhaustion.
func (q *Queue) EnqueueAsync(action v16.Action, payload interface{}) *Future {
	return q.enqueue(action, payload, "", true)
}

// EnqueueTransactional is used for StartTransaction/StopTransaction/
// MeterValues: clientRef correlates a StopTransaction to the
// StartTransaction it must be rewritten against once the CSMS assigns a
// real transaction id.
func (q *Queue) EnqueueTransactional(action v16.Action, payload interface{}, clientRef string) *Future {
	return q.enqueue(action, payload, clientRef, true)
}

func (q *Queue) enqueue(action v16.Action, payload interface{}, clientRef string, wantFuture bool) *Future {
	call, err := ocpp.NewCall(string(action), payload)
	if err != nil {
		q.logger.Error("failed to build call", "action", action, "error", err)
		if wantFuture {
			f := &Future{ch: make(chan EnhancedMessage, 1)}
			f.ch <- EnhancedMessage{Offline: true}
			return f
		}
		return nil
	}
	p := &pending{
		call:          call,
		action:        action,
		maxAttempts:   3,
		retryInterval: 60 * time.Second,
		discardable:   q.discardForQueueing[action] && !transactionalActions[action],
		clientRef:     clientRef,
	}
	if wantFuture {
		p.future = &Future{ch: make(chan EnhancedMessage, 1)}
	}

	q.mu.Lock()
	if q.state == Paused && p.discardable {
		q.mu.Unlock()
		if p.future != nil {
			p.future.ch <- EnhancedMessage{Offline: true}
		}
		return p.future
	}
	q.items = append(q.items, p)
	if clientRef != "" && action == v16.ActionStopTransaction {
		q.placeholders[clientRef] = append(q.placeholders[clientRef], p)
	}
	q.mu.Unlock()

	q.pump()
	return p.future
}

// RewriteStoppedTransactionID patches the transactionId of any queued
// StopTransaction correlated to clientRef, once the CSMS has assigned the
// real id via StartTransactionResponse.
func (q *Queue) RewriteStoppedTransactionID(clientRef string, transactionID int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, p := range q.placeholders[clientRef] {
		if err := rewriteStopTransactionID(p.call, transactionID); err != nil {
			q.logger.Error("failed to rewrite StopTransaction id", "clientRef", clientRef, "error", err)
		}
	}
	delete(q.placeholders, clientRef)
}

// rewriteStopTransactionID patches a queued StopTransaction Call's
// transactionId field in place, used when the placeholder id assigned at
// enqueue time is superseded by the CSMS-assigned id from
// StartTransactionResponse (spec scenario 5).
func rewriteStopTransactionID(call *ocpp.Call, transactionID int) error {
	var req v16.StopTransactionRequest
	if err := json.Unmarshal(call.Payload, &req); err != nil {
		return err
	}
	req.TransactionId = transactionID
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	call.Payload = data
	return nil
}

// SetTransactionAttemptPolicy sets retry attempts/interval on the
// transactional Calls currently waiting in the queue. Calls enqueued
// afterwards still get the default 3 attempts, 60 s apart; the queue does
// not read TransactionMessageAttempts or TransactionMessageRetryInterval.
func (q *Queue) SetTransactionAttemptPolicy(maxAttempts int, interval time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, p := range q.items {
		if transactionalActions[p.action] {
			p.maxAttempts = maxAttempts
			p.retryInterval = interval
		}
	}
}

// pump attempts to send the head item if nothing is in flight.
func (q *Queue) pump() {
	q.mu.Lock()
	if q.state != Running || q.inFlight != nil || len(q.items) == 0 {
		q.mu.Unlock()
		return
	}
	p := q.items[0]
	q.items = q.items[1:]
	q.inFlight = p
	q.mu.Unlock()

	data, err := p.call.ToBytes()
	if err != nil {
		q.logger.Error("failed to encode call", "action", p.action, "error", err)
		q.completeInFlight(EnhancedMessage{Offline: true})
		return
	}
	if err := q.sender.Send(data); err != nil {
		q.logger.Warn("send failed, will retry", "action", p.action, "error", err)
		q.retryOrGiveUp(p)
	}
}

// InFlightAction reports the action of the Call currently awaiting a reply,
// so a caller can decode a CallResult payload into the right DTO before
// calling OnWireMessage.
func (q *Queue) InFlightAction(uniqueID string) (v16.Action, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.inFlight == nil || q.inFlight.call.UniqueID != uniqueID {
		return "", false
	}
	return q.inFlight.action, true
}

// OnWireMessage is called by the transport with a decoded CallResult or
// CallError matching the in-flight Call's unique id.
func (q *Queue) OnWireMessage(uniqueID string, result interface{}, callErr *ocpp.CallError) {
	q.mu.Lock()
	if q.inFlight == nil || q.inFlight.call.UniqueID != uniqueID {
		q.mu.Unlock()
		q.logger.Warn("received reply for unknown or non-head call", "uniqueId", uniqueID)
		return
	}
	p := q.inFlight
	q.mu.Unlock()

	q.completeInFlight(EnhancedMessage{Result: result, Error: callErr})
	_ = p
}

func (q *Queue) completeInFlight(msg EnhancedMessage) {
	q.mu.Lock()
	p := q.inFlight
	q.inFlight = nil
	q.mu.Unlock()
	if p == nil {
		return
	}
	if p.future != nil {
		p.future.ch <- msg
	}
	q.pump()
}

func (q *Queue) retryOrGiveUp(p *pending) {
	p.attempts++
	if p.attempts >= p.maxAttempts {
		q.logger.Error("call exhausted retries, surfacing offline", "action", p.action, "attempts", p.attempts)
		q.completeInFlight(EnhancedMessage{Offline: true})
		return
	}
	go func() {
		time.Sleep(p.retryInterval)
		q.mu.Lock()
		q.inFlight = nil
		q.items = append([]*pending{p}, q.items...)
		q.mu.Unlock()
		q.pump()
	}()
}
