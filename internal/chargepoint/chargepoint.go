package chargepoint

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/ruslanhut/ocpp-cp-core/internal/boot"
	"github.com/ruslanhut/ocpp-cp-core/internal/connector"
	"github.com/ruslanhut/ocpp-cp-core/internal/devicemodel"
	"github.com/ruslanhut/ocpp-cp-core/internal/dispatch"
	"github.com/ruslanhut/ocpp-cp-core/internal/ocpp"
	"github.com/ruslanhut/ocpp-cp-core/internal/ocpp/v16"
	"github.com/ruslanhut/ocpp-cp-core/internal/queue"
	"github.com/ruslanhut/ocpp-cp-core/internal/smartcharging"
	"github.com/ruslanhut/ocpp-cp-core/internal/transaction"
	"github.com/ruslanhut/ocpp-cp-core/internal/transport"
	"github.com/ruslanhut/ocpp-cp-core/internal/worker"
)

// Config gathers everything ChargePoint needs beyond its collaborators.
type Config struct {
	ChargePointVendor string
	ChargePointModel  string
	FirmwareVersion   string
	NumberOfConnectors int

	SupportedFeatureProfiles []string

	Link transport.Config
}

// ChargePoint wires the C1-C8 core components into one running unit: a
// single WebSocket link, one outbound queue, one dispatcher of inbound
// Calls, and the device/connector/transaction/smart-charging state that
// both sides act on.
type ChargePoint struct {
	logger *slog.Logger

	Link  *transport.Link
	Queue *queue.Queue
	Boot  *boot.Coordinator

	DeviceModel *devicemodel.Model
	Connectors  map[int]*connector.Connector
	Tx          *transaction.Manager

	SmartChargingStore  *smartcharging.Store
	SmartChargingEngine *smartcharging.Engine
	SmartCharging       *smartcharging.Handler

	Dispatch *dispatch.Dispatcher

	LocalAuth *LocalAuth
	Workers   *worker.Pool

	// Observer, if set, is called with every raw frame crossing the wire in
	// either direction, for an external audit-trail logger to persist.
	// direction is "sent" or "received".
	Observer func(direction string, raw []byte)

	// OnMeterValues, if set, is called with every MeterValues.req before it
	// is queued, for a caller that persists samples into a dedicated
	// time-series collection instead of (or in addition to) the generic
	// wire-traffic log Observer sees.
	OnMeterValues func(req v16.MeterValuesRequest)

	Evse  EvseDriver
	Meter Meter
	Certs CertStore
	Files FileAgent

	cfg Config

	heartbeatMu     sync.Mutex
	heartbeatCancel context.CancelFunc

	clockAlignedCancel context.CancelFunc
}

// New assembles a ChargePoint from its collaborators. Connector 0 (the
// charge point itself) is always created in addition to 1..NumberOfConnectors.
func New(logger *slog.Logger, cfg Config, evse EvseDriver, meter Meter, certs CertStore, files FileAgent) *ChargePoint {
	if logger == nil {
		logger = slog.Default()
	}

	connectors := make(map[int]*connector.Connector, cfg.NumberOfConnectors+1)
	for i := 0; i <= cfg.NumberOfConnectors; i++ {
		connectors[i] = connector.New(i, "")
	}

	cp := &ChargePoint{
		logger:      logger,
		DeviceModel: devicemodel.New(logger, cfg.SupportedFeatureProfiles),
		Connectors:  connectors,
		LocalAuth:   NewLocalAuth(),
		Workers:     worker.New(logger, 4),
		Evse:        evse,
		Meter:       meter,
		Certs:       certs,
		Files:       files,
		cfg:         cfg,
	}

	cp.DeviceModel.Seed("ChargePointId", cfg.Link.StationID)
	cp.DeviceModel.Seed("ChargePointVendor", cfg.ChargePointVendor)
	cp.DeviceModel.Seed("ChargePointModel", cfg.ChargePointModel)
	cp.DeviceModel.Seed("NumberOfConnectors", strconv.Itoa(cfg.NumberOfConnectors))

	cfg.Link.OnMessage = cp.handleWireMessage
	cfg.Link.OnConnected = cp.onLinkConnected
	cfg.Link.OnDisconnected = cp.onLinkDisconnected
	cfg.Link.OnSend = cp.observeSent
	cp.Link = transport.New(cfg.Link, logger)

	cp.Queue = queue.New(cp.Link, logger, nil)
	cp.Link.OnDisconnectPauseQueue = cp.Queue.Pause

	cp.Boot = boot.New(logger, v16.BootNotificationRequest{
		ChargePointVendor: cfg.ChargePointVendor,
		ChargePointModel:  cfg.ChargePointModel,
		FirmwareVersion:   cfg.FirmwareVersion,
	})
	cp.Boot.SendBootNotification = cp.sendBootNotification
	cp.Boot.ArmHeartbeat = cp.armHeartbeat
	cp.Boot.ArmClockAlignedTimer = cp.armClockAlignedTimer
	cp.Boot.SetInitialConnectorAvailability = func() {
		for _, c := range cp.Connectors {
			cp.sendStatusNotification(c)
		}
	}

	supplyVoltage := 230.0
	if v, ok := cp.DeviceModel.GetInt("SupplyVoltage"); ok {
		supplyVoltage = float64(v)
	}
	maxStackLevel, _ := cp.DeviceModel.GetInt("ChargeProfileMaxStackLevel")
	defaultAmps, _ := cp.DeviceModel.GetInt("DefaultLimitAmps")
	defaultWatts, _ := cp.DeviceModel.GetInt("DefaultLimitWatts")
	defaultPhases, _ := cp.DeviceModel.GetInt("DefaultNumberPhases")
	cp.SmartChargingStore = smartcharging.NewStore(maxStackLevel, float64(defaultAmps), float64(defaultWatts), defaultPhases, supplyVoltage)
	cp.SmartChargingStore.ActiveSessionStart = cp.activeSessionStart
	cp.SmartChargingEngine = smartcharging.NewEngine(cp.SmartChargingStore)
	cp.SmartCharging = smartcharging.NewHandler(cp.SmartChargingEngine, cp.SmartChargingStore, cfg.NumberOfConnectors)

	cp.Tx = transaction.New(logger, cp.Connectors, transaction.Callbacks{
		SendAuthorize:        cp.sendAuthorize,
		SendStartTransaction: cp.sendStartTransaction,
		SendStopTransaction:  cp.sendStopTransaction,
		SendMeterValues:      cp.sendMeterValues,
		OnPowerMeterFailure:  cp.onPowerMeterFailure,
	}, cp.readMeter)

	for _, c := range cp.Connectors {
		c.Notify = cp.sendStatusNotification
	}

	cp.Dispatch = dispatch.New(logger)
	cp.Dispatch.SupportedProfiles = cp.DeviceModel.SupportsProfile
	cp.registerHandlers()

	return cp
}

// Start dials the CSMS and brings the charge point online.
func (cp *ChargePoint) Start() error {
	return cp.Link.Connect()
}

// Stop tears down the connection and any running timers.
func (cp *ChargePoint) Stop() error {
	cp.stopHeartbeat()
	cp.stopClockAlignedTimer()
	err := cp.Link.Disconnect()
	cp.Workers.Wait()
	return err
}

func (cp *ChargePoint) onLinkConnected() {
	cp.Queue.Resume()
	cp.Boot.OnLinkConnected()
}

func (cp *ChargePoint) onLinkDisconnected(err error) {
	cp.Queue.Pause()
	cp.stopHeartbeat()
	cp.stopClockAlignedTimer()
	cp.Boot.OnLinkDisconnected()
}

// handleWireMessage dispatches one raw frame off the WebSocket: Calls go to
// the Dispatcher, CallResults/CallErrors resolve the in-flight outbound
// Call in Queue.
func (cp *ChargePoint) handleWireMessage(data []byte) {
	if cp.Observer != nil {
		cp.Observer("received", data)
	}

	msg, err := ocpp.ParseMessage(data)
	if err != nil {
		cp.logger.Error("failed to parse inbound message", "error", err)
		return
	}

	switch m := msg.(type) {
	case *ocpp.Call:
		if !cp.Boot.AllowedToSend(v16.Action(m.Action)) {
			cp.logger.Warn("rejecting inbound call before registration completed", "action", m.Action)
			return
		}
		result, callErr := cp.Dispatch.Dispatch(m)
		var out []byte
		var encErr error
		if callErr != nil {
			out, encErr = callErr.ToBytes()
		} else {
			out, encErr = result.ToBytes()
		}
		if encErr != nil {
			cp.logger.Error("failed to encode reply", "error", encErr)
			return
		}
		if err := cp.Link.Send(out); err != nil {
			cp.logger.Error("failed to send reply", "error", err)
		}

	case *ocpp.CallResult:
		cp.handleCallResult(m)

	case *ocpp.CallError:
		cp.Queue.OnWireMessage(m.UniqueID, nil, m)
	}
}

func (cp *ChargePoint) handleCallResult(result *ocpp.CallResult) {
	action, ok := cp.Queue.InFlightAction(result.UniqueID)
	if !ok {
		cp.logger.Warn("callresult for unknown in-flight call", "uniqueId", result.UniqueID)
		return
	}

	decoded, err := decodeResult(action, result.Payload)
	if err != nil {
		cp.logger.Error("failed to decode call result", "action", action, "error", err)
		cp.Queue.OnWireMessage(result.UniqueID, nil, nil)
		return
	}

	if action == v16.ActionBootNotification {
		if resp, ok := decoded.(*v16.BootNotificationResponse); ok {
			cp.Boot.HandleBootNotificationResponse(*resp)
		}
	}

	cp.Queue.OnWireMessage(result.UniqueID, decoded, nil)
}

func decodeResult(action v16.Action, payload json.RawMessage) (interface{}, error) {
	var out interface{}
	switch action {
	case v16.ActionBootNotification:
		out = &v16.BootNotificationResponse{}
	case v16.ActionHeartbeat:
		out = &v16.HeartbeatResponse{}
	case v16.ActionAuthorize:
		out = &v16.AuthorizeResponse{}
	case v16.ActionStartTransaction:
		out = &v16.StartTransactionResponse{}
	case v16.ActionStopTransaction:
		out = &v16.StopTransactionResponse{}
	case v16.ActionStatusNotification:
		out = &v16.StatusNotificationResponse{}
	case v16.ActionMeterValues:
		out = &v16.MeterValuesResponse{}
	default:
		return nil, fmt.Errorf("no response decoder registered for action %q", action)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return nil, err
	}
	return out, nil
}

// sendBootNotification is BootCoordinator's SendBootNotification callback.
func (cp *ChargePoint) sendBootNotification(req v16.BootNotificationRequest) {
	cp.Queue.Enqueue(v16.ActionBootNotification, req)
}

func (cp *ChargePoint) armHeartbeat(interval time.Duration) {
	cp.stopHeartbeat()
	if interval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	cp.heartbeatMu.Lock()
	cp.heartbeatCancel = cancel
	cp.heartbeatMu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cp.Queue.Enqueue(v16.ActionHeartbeat, v16.HeartbeatRequest{})
			}
		}
	}()
}

func (cp *ChargePoint) stopHeartbeat() {
	cp.heartbeatMu.Lock()
	defer cp.heartbeatMu.Unlock()
	if cp.heartbeatCancel != nil {
		cp.heartbeatCancel()
		cp.heartbeatCancel = nil
	}
}

// armClockAlignedTimer applies the device model's current sample intervals
// to the TransactionManager once registration is accepted.
func (cp *ChargePoint) armClockAlignedTimer() {
	sampled := 60 * time.Second
	if v, ok := cp.DeviceModel.GetInt("MeterValueSampleInterval"); ok {
		sampled = time.Duration(v) * time.Second
	}
	aligned := 15 * time.Minute
	if v, ok := cp.DeviceModel.GetInt("ClockAlignedDataInterval"); ok {
		aligned = time.Duration(v) * time.Second
	}
	cp.Tx.SetSampleIntervals(sampled, aligned)
}

func (cp *ChargePoint) stopClockAlignedTimer() {
	if cp.clockAlignedCancel != nil {
		cp.clockAlignedCancel()
		cp.clockAlignedCancel = nil
	}
}

func (cp *ChargePoint) sendStatusNotification(c *connector.Connector) {
	if !cp.Boot.AllowedToSend(v16.ActionStatusNotification) {
		return
	}
	cp.Queue.Enqueue(v16.ActionStatusNotification, c.ToStatusNotification())
}

func (cp *ChargePoint) sendAuthorize(ctx context.Context, idTag string) (*v16.IdTagInfo, error) {
	if info, ok := cp.LocalAuth.ListLookup(idTag); ok {
		return &info, nil
	}
	future := cp.Queue.EnqueueAsync(v16.ActionAuthorize, v16.AuthorizeRequest{IdTag: idTag})
	if future == nil {
		return nil, fmt.Errorf("failed to enqueue authorize")
	}
	msg, err := future.Wait(ctx)
	if err != nil {
		return nil, err
	}
	if msg.Offline {
		if info, ok := cp.LocalAuth.CacheLookup(idTag); ok {
			return &info, nil
		}
		return &v16.IdTagInfo{Status: v16.AuthorizationStatusAccepted}, nil
	}
	if msg.Error != nil {
		return nil, fmt.Errorf("authorize rejected: %s", msg.Error.ErrorDesc)
	}
	resp, ok := msg.Result.(*v16.AuthorizeResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected authorize response type")
	}
	cp.LocalAuth.CacheStore(idTag, resp.IdTagInfo)
	return &resp.IdTagInfo, nil
}

func (cp *ChargePoint) sendStartTransaction(ctx context.Context, req v16.StartTransactionRequest) (*v16.StartTransactionResponse, error) {
	clientRef := fmt.Sprintf("start-%d-%s-%d", req.ConnectorId, req.IdTag, req.Timestamp.Unix())
	future := cp.Queue.EnqueueTransactional(v16.ActionStartTransaction, req, clientRef)
	if future == nil {
		return nil, fmt.Errorf("failed to enqueue start transaction")
	}
	msg, err := future.Wait(ctx)
	if err != nil {
		return nil, err
	}
	if msg.Offline {
		return nil, fmt.Errorf("offline: start transaction not confirmed")
	}
	if msg.Error != nil {
		return nil, fmt.Errorf("start transaction rejected: %s", msg.Error.ErrorDesc)
	}
	resp, ok := msg.Result.(*v16.StartTransactionResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected start transaction response type")
	}
	cp.Queue.RewriteStoppedTransactionID(clientRef, resp.TransactionId)
	return resp, nil
}

func (cp *ChargePoint) sendStopTransaction(ctx context.Context, req v16.StopTransactionRequest) (*v16.StopTransactionResponse, error) {
	future := cp.Queue.EnqueueTransactional(v16.ActionStopTransaction, req, "")
	if future == nil {
		return nil, fmt.Errorf("failed to enqueue stop transaction")
	}
	msg, err := future.Wait(ctx)
	if err != nil {
		return nil, err
	}
	if msg.Offline {
		return &v16.StopTransactionResponse{}, nil
	}
	if msg.Error != nil {
		return nil, fmt.Errorf("stop transaction rejected: %s", msg.Error.ErrorDesc)
	}
	resp, _ := msg.Result.(*v16.StopTransactionResponse)
	return resp, nil
}

func (cp *ChargePoint) sendMeterValues(ctx context.Context, req v16.MeterValuesRequest) {
	if cp.OnMeterValues != nil {
		cp.OnMeterValues(req)
	}
	cp.Queue.Enqueue(v16.ActionMeterValues, req)
}

func (cp *ChargePoint) observeSent(raw []byte) {
	if cp.Observer != nil {
		cp.Observer("sent", raw)
	}
}

func (cp *ChargePoint) onPowerMeterFailure(connectorID int) {
	c, ok := cp.Connectors[connectorID]
	if !ok {
		return
	}
	cp.logger.Warn("power meter reading outlier detected", "connector", connectorID)
	_ = c.Transition(connector.StateFaulted, v16.ChargePointErrorPowerMeterFailure, "power meter reading outside expected bounds")
}

// readMeter is the TransactionManager's ReadMeter collaborator, backed by
// the injected Meter driver.
func (cp *ChargePoint) readMeter(connectorID int) (int, float64) {
	if cp.Meter == nil {
		return 0, 0
	}
	reading, ok := cp.Meter.Latest(connectorID)
	if !ok {
		return 0, 0
	}
	return int(reading.EnergyWhImport), reading.PowerW
}

// activeSessionStart backs the SmartChargingStore's TxProfile validation
// and the Relative-kind profile anchor.
func (cp *ChargePoint) activeSessionStart(connectorID int) (time.Time, bool) {
	tx, ok := cp.Tx.ActiveTransaction(connectorID)
	if !ok {
		return time.Time{}, false
	}
	return tx.StartTime, true
}
