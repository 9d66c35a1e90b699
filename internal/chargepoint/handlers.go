package chargepoint

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ruslanhut/ocpp-cp-core/internal/connector"
	"github.com/ruslanhut/ocpp-cp-core/internal/dispatch"
	"github.com/ruslanhut/ocpp-cp-core/internal/ocpp"
	"github.com/ruslanhut/ocpp-cp-core/internal/ocpp/v16"
)

var payloadValidator = validator.New()

// registerHandlers wires every CS->CP action onto the Dispatcher, the way
// internal/station/manager.go's setupV16HandlerCallbacks wires the
// teacher's v16.Handler callbacks, generalized to close over ChargePoint
// state instead of a single global Station.
func (cp *ChargePoint) registerHandlers() {
	d := cp.Dispatch

	d.Register(v16.ActionRemoteStartTransaction, "", cp.handleRemoteStartTransaction)
	d.Register(v16.ActionRemoteStopTransaction, "", cp.handleRemoteStopTransaction)
	d.Register(v16.ActionReset, "", cp.handleReset)
	d.Register(v16.ActionUnlockConnector, "", cp.handleUnlockConnector)
	d.Register(v16.ActionChangeAvailability, "", cp.handleChangeAvailability)
	d.Register(v16.ActionChangeConfiguration, "", cp.handleChangeConfiguration)
	d.Register(v16.ActionGetConfiguration, "", cp.handleGetConfiguration)
	d.Register(v16.ActionClearCache, "", cp.handleClearCache)
	d.Register(v16.ActionDataTransfer, "", cp.handleDataTransfer)

	d.Register(v16.ActionSetChargingProfile, "SmartCharging", cp.handleSetChargingProfile)
	d.Register(v16.ActionClearChargingProfile, "SmartCharging", cp.handleClearChargingProfile)
	d.Register(v16.ActionGetCompositeSchedule, "SmartCharging", cp.handleGetCompositeSchedule)

	d.Register(v16.ActionReserveNow, "Reservation", cp.handleReserveNow)
	d.Register(v16.ActionCancelReservation, "Reservation", cp.handleCancelReservation)

	d.Register(v16.ActionGetDiagnostics, "FirmwareManagement", cp.handleGetDiagnostics)
	d.Register(v16.ActionUpdateFirmware, "FirmwareManagement", cp.handleUpdateFirmware)
	d.Register(v16.ActionSignedUpdateFirmware, "", cp.handleSignedUpdateFirmware)
	d.Register(v16.ActionGetLog, "", cp.handleGetLog)

	d.Register(v16.ActionCertificateSigned, "", cp.handleCertificateSigned)
	d.Register(v16.ActionDeleteCertificate, "", cp.handleDeleteCertificate)
	d.Register(v16.ActionGetInstalledCertificateIds, "", cp.handleGetInstalledCertificateIds)
	d.Register(v16.ActionInstallCertificate, "", cp.handleInstallCertificate)

	d.Register(v16.ActionGetLocalListVersion, "LocalAuthListManagement", cp.handleGetLocalListVersion)
	d.Register(v16.ActionSendLocalList, "LocalAuthListManagement", cp.handleSendLocalList)

	d.Register(v16.ActionTriggerMessage, "RemoteTrigger", cp.handleTriggerMessage)
	d.Register(v16.ActionExtendedTriggerMessage, "", cp.handleExtendedTriggerMessage)

	d.RegisterTrigger(v16.MessageTriggerBootNotification, func(*int) error {
		cp.sendBootNotification(v16.BootNotificationRequest{
			ChargePointVendor: cp.cfg.ChargePointVendor,
			ChargePointModel:  cp.cfg.ChargePointModel,
			FirmwareVersion:   cp.cfg.FirmwareVersion,
		})
		return nil
	})
	d.RegisterTrigger(v16.MessageTriggerHeartbeat, func(*int) error {
		cp.Queue.Enqueue(v16.ActionHeartbeat, v16.HeartbeatRequest{})
		return nil
	})
	d.RegisterTrigger(v16.MessageTriggerStatusNotification, func(connectorID *int) error {
		if connectorID == nil {
			for _, c := range cp.Connectors {
				cp.sendStatusNotification(c)
			}
			return nil
		}
		c, ok := cp.Connectors[*connectorID]
		if !ok {
			return fmt.Errorf("connector %d not found", *connectorID)
		}
		cp.sendStatusNotification(c)
		return nil
	})
	d.RegisterTrigger(v16.MessageTriggerMeterValues, func(connectorID *int) error {
		if connectorID == nil {
			return fmt.Errorf("MeterValues trigger requires a connectorId")
		}
		tx, ok := cp.Tx.ActiveTransaction(*connectorID)
		if !ok {
			return fmt.Errorf("connector %d has no active transaction", *connectorID)
		}
		energyWh, _ := cp.readMeter(*connectorID)
		txID := tx.ID
		cp.Queue.Enqueue(v16.ActionMeterValues, v16.MeterValuesRequest{
			ConnectorId:   *connectorID,
			TransactionId: &txID,
			MeterValue: []v16.MeterValue{{
				Timestamp: v16.DateTime{Time: time.Now()},
				SampledValue: []v16.SampledValue{{
					Value: fmt.Sprintf("%d", energyWh), Context: v16.ReadingContextTrigger,
					Measurand: v16.MeasurandEnergyActiveImportRegister, Unit: v16.UnitOfMeasureWh,
				}},
			}},
		})
		return nil
	})
}

// decode unmarshals an inbound Call payload into T and runs its validate
// struct tags, mapping either failure onto the CallError code a CSMS
// expects instead of a generic InternalError.
func decode[T any](payload json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return v, &dispatch.FormatError{Code: ocpp.ErrorCodeFormationViolation, Err: err}
	}
	if err := payloadValidator.Struct(v); err != nil {
		return v, &dispatch.FormatError{Code: ocpp.ErrorCodePropertyConstraintViolation, Err: err}
	}
	return v, nil
}

func (cp *ChargePoint) handleRemoteStartTransaction(payload json.RawMessage) (interface{}, error) {
	req, err := decode[v16.RemoteStartTransactionRequest](payload)
	if err != nil {
		return nil, err
	}
	connectorID := 1
	if req.ConnectorId != nil {
		connectorID = *req.ConnectorId
	}

	autoAuthorize, _ := cp.DeviceModel.GetBool("AuthorizeRemoteTxRequests")
	if autoAuthorize {
		info, err := cp.Tx.Authorize(context.Background(), req.IdTag)
		if err != nil || info.Status != v16.AuthorizationStatusAccepted {
			return v16.RemoteStartTransactionResponse{Status: "Rejected"}, nil
		}
	}

	if req.ChargingProfile != nil {
		if _, err := cp.SmartChargingStore.Set(connectorID, *req.ChargingProfile); err != nil {
			cp.logger.Warn("rejected RemoteStartTransaction charging profile", "error", err)
		}
	}

	if _, err := cp.Tx.Start(context.Background(), connectorID, req.IdTag); err != nil {
		cp.logger.Error("RemoteStartTransaction failed", "error", err)
		return v16.RemoteStartTransactionResponse{Status: "Rejected"}, nil
	}
	return v16.RemoteStartTransactionResponse{Status: "Accepted"}, nil
}

func (cp *ChargePoint) handleRemoteStopTransaction(payload json.RawMessage) (interface{}, error) {
	req, err := decode[v16.RemoteStopTransactionRequest](payload)
	if err != nil {
		return nil, err
	}

	var targetConnector int
	found := false
	for id := range cp.Connectors {
		if tx, ok := cp.Tx.ActiveTransaction(id); ok && tx.ID == req.TransactionId {
			targetConnector = id
			found = true
			break
		}
	}
	if !found {
		return v16.RemoteStopTransactionResponse{Status: "Rejected"}, nil
	}

	if err := cp.Tx.Stop(context.Background(), targetConnector, v16.ReasonRemote); err != nil {
		cp.logger.Error("RemoteStopTransaction failed", "error", err)
		return v16.RemoteStopTransactionResponse{Status: "Rejected"}, nil
	}
	return v16.RemoteStopTransactionResponse{Status: "Accepted"}, nil
}

func (cp *ChargePoint) handleReset(payload json.RawMessage) (interface{}, error) {
	req, err := decode[v16.ResetRequest](payload)
	if err != nil {
		return nil, err
	}
	// Runs on a bare goroutine, not cp.Workers: it ends by calling Stop,
	// which drains the worker pool, so running it on the pool would
	// deadlock waiting for itself.
	go func() {
		time.Sleep(200 * time.Millisecond)
		for id, c := range cp.Connectors {
			if tx, ok := cp.Tx.ActiveTransaction(id); ok {
				reason := v16.ReasonSoftReset
				if req.Type == v16.ResetTypeHard {
					reason = v16.ReasonHardReset
				}
				_ = cp.Tx.Stop(context.Background(), id, reason)
				_ = tx
			}
			_ = c
		}
		_ = cp.Stop()
	}()
	return v16.ResetResponse{Status: v16.ResetStatus("Accepted")}, nil
}

func (cp *ChargePoint) handleUnlockConnector(payload json.RawMessage) (interface{}, error) {
	req, err := decode[v16.UnlockConnectorRequest](payload)
	if err != nil {
		return nil, err
	}
	if cp.Evse == nil {
		return v16.UnlockConnectorResponse{Status: v16.UnlockStatusNotSupported}, nil
	}
	ok, err := cp.Evse.UnlockConnector(req.ConnectorId)
	if err != nil || !ok {
		return v16.UnlockConnectorResponse{Status: v16.UnlockStatusUnlockFailed}, nil
	}
	return v16.UnlockConnectorResponse{Status: v16.UnlockStatusUnlocked}, nil
}

func (cp *ChargePoint) handleChangeAvailability(payload json.RawMessage) (interface{}, error) {
	req, err := decode[v16.ChangeAvailabilityRequest](payload)
	if err != nil {
		return nil, err
	}

	apply := func(c *connector.Connector) error {
		if req.Type == v16.AvailabilityTypeInoperative {
			return c.Transition(connector.StateUnavailable, v16.ChargePointErrorNoError, "")
		}
		if c.GetState() == connector.StateUnavailable {
			return c.Transition(connector.StateAvailable, v16.ChargePointErrorNoError, "")
		}
		return nil
	}

	if req.ConnectorId == 0 {
		scheduled := false
		for id, c := range cp.Connectors {
			if _, busy := cp.Tx.ActiveTransaction(id); busy && req.Type == v16.AvailabilityTypeInoperative {
				scheduled = true
				continue
			}
			_ = apply(c)
		}
		if scheduled {
			return v16.ChangeAvailabilityResponse{Status: v16.AvailabilityStatusScheduled}, nil
		}
		return v16.ChangeAvailabilityResponse{Status: v16.AvailabilityStatusAccepted}, nil
	}

	c, ok := cp.Connectors[req.ConnectorId]
	if !ok {
		return v16.ChangeAvailabilityResponse{Status: v16.AvailabilityStatusRejected}, nil
	}
	if _, busy := cp.Tx.ActiveTransaction(req.ConnectorId); busy && req.Type == v16.AvailabilityTypeInoperative {
		return v16.ChangeAvailabilityResponse{Status: v16.AvailabilityStatusScheduled}, nil
	}
	if err := apply(c); err != nil {
		return v16.ChangeAvailabilityResponse{Status: v16.AvailabilityStatusRejected}, nil
	}
	return v16.ChangeAvailabilityResponse{Status: v16.AvailabilityStatusAccepted}, nil
}

func (cp *ChargePoint) handleChangeConfiguration(payload json.RawMessage) (interface{}, error) {
	req, err := decode[v16.ChangeConfigurationRequest](payload)
	if err != nil {
		return nil, err
	}
	switch cp.DeviceModel.Set(req.Key, req.Value) {
	case "Accepted":
		return v16.ChangeConfigurationResponse{Status: "Accepted"}, nil
	case "RebootRequired":
		return v16.ChangeConfigurationResponse{Status: "RebootRequired"}, nil
	case "Rejected":
		return v16.ChangeConfigurationResponse{Status: "Rejected"}, nil
	default:
		return v16.ChangeConfigurationResponse{Status: "NotSupported"}, nil
	}
}

func (cp *ChargePoint) handleGetConfiguration(payload json.RawMessage) (interface{}, error) {
	req, err := decode[v16.GetConfigurationRequest](payload)
	if err != nil {
		return nil, err
	}
	if len(req.Key) == 0 {
		resp := v16.GetConfigurationResponse{}
		for _, e := range cp.DeviceModel.GetAllForReport() {
			resp.ConfigurationKey = append(resp.ConfigurationKey, v16.KeyValue{
				Key: e.Key, Value: e.Value, Readonly: e.Mutability == "ReadOnly",
			})
		}
		return resp, nil
	}
	resp := v16.GetConfigurationResponse{}
	for _, key := range req.Key {
		v, ok := cp.DeviceModel.Get(key)
		if !ok {
			resp.UnknownKey = append(resp.UnknownKey, key)
			continue
		}
		resp.ConfigurationKey = append(resp.ConfigurationKey, v16.KeyValue{Key: key, Value: v})
	}
	return resp, nil
}

func (cp *ChargePoint) handleClearCache(payload json.RawMessage) (interface{}, error) {
	cp.LocalAuth = NewLocalAuth()
	return v16.ClearCacheResponse{Status: "Accepted"}, nil
}

func (cp *ChargePoint) handleDataTransfer(payload json.RawMessage) (interface{}, error) {
	req, err := decode[v16.DataTransferRequest](payload)
	if err != nil {
		return nil, err
	}
	cp.logger.Info("received data transfer", "vendorId", req.VendorId, "messageId", req.MessageId)
	return v16.DataTransferResponse{Status: "UnknownVendorId"}, nil
}

func (cp *ChargePoint) handleSetChargingProfile(payload json.RawMessage) (interface{}, error) {
	req, err := decode[v16.SetChargingProfileRequest](payload)
	if err != nil {
		return nil, err
	}
	return cp.SmartCharging.SetChargingProfile(req), nil
}

func (cp *ChargePoint) handleClearChargingProfile(payload json.RawMessage) (interface{}, error) {
	req, err := decode[v16.ClearChargingProfileRequest](payload)
	if err != nil {
		return nil, err
	}
	return cp.SmartCharging.ClearChargingProfile(req), nil
}

func (cp *ChargePoint) handleGetCompositeSchedule(payload json.RawMessage) (interface{}, error) {
	req, err := decode[v16.GetCompositeScheduleRequest](payload)
	if err != nil {
		return nil, err
	}
	return cp.SmartCharging.GetCompositeSchedule(req), nil
}

func (cp *ChargePoint) handleReserveNow(payload json.RawMessage) (interface{}, error) {
	req, err := decode[v16.ReserveNowRequest](payload)
	if err != nil {
		return nil, err
	}
	c, ok := cp.Connectors[req.ConnectorId]
	if !ok {
		return v16.ReserveNowResponse{Status: v16.ReservationStatus("Rejected")}, nil
	}
	if err := c.Reserve(req.ReservationId, req.IdTag, req.ParentIdTag, req.ExpiryDate.Time); err != nil {
		return v16.ReserveNowResponse{Status: v16.ReservationStatus("Occupied")}, nil
	}
	return v16.ReserveNowResponse{Status: v16.ReservationStatusAccepted}, nil
}

func (cp *ChargePoint) handleCancelReservation(payload json.RawMessage) (interface{}, error) {
	req, err := decode[v16.CancelReservationRequest](payload)
	if err != nil {
		return nil, err
	}
	for _, c := range cp.Connectors {
		if c.GetState() == connector.StateReserved {
			if err := c.CancelReservation(); err == nil {
				return v16.CancelReservationResponse{Status: v16.CancelReservationStatusAccepted}, nil
			}
		}
	}
	_ = req
	return v16.CancelReservationResponse{Status: v16.CancelReservationStatus("Rejected")}, nil
}

func (cp *ChargePoint) handleGetDiagnostics(payload json.RawMessage) (interface{}, error) {
	req, err := decode[v16.GetDiagnosticsRequest](payload)
	if err != nil {
		return nil, err
	}
	if cp.Files == nil {
		return v16.GetDiagnosticsResponse{}, nil
	}
	cp.Workers.Submit("upload-diagnostics", func() {
		cp.Queue.Enqueue(v16.ActionDiagnosticsStatusNotification, v16.DiagnosticsStatusNotificationRequest{Status: v16.DiagnosticsStatusUploading})
		filename, err := cp.Files.UploadDiagnostics(req.Location)
		status := v16.DiagnosticsStatusUploaded
		if err != nil {
			status = v16.DiagnosticsStatusUploadFailed
		}
		cp.Queue.Enqueue(v16.ActionDiagnosticsStatusNotification, v16.DiagnosticsStatusNotificationRequest{Status: status})
		_ = filename
	})
	return v16.GetDiagnosticsResponse{}, nil
}

func (cp *ChargePoint) handleUpdateFirmware(payload json.RawMessage) (interface{}, error) {
	req, err := decode[v16.UpdateFirmwareRequest](payload)
	if err != nil {
		return nil, err
	}
	if cp.Files == nil {
		return v16.UpdateFirmwareResponse{}, nil
	}
	cp.Workers.Submit("firmware-update", func() { cp.runFirmwareUpdate(req.Location, "") })
	return v16.UpdateFirmwareResponse{}, nil
}

func (cp *ChargePoint) handleSignedUpdateFirmware(payload json.RawMessage) (interface{}, error) {
	req, err := decode[v16.SignedUpdateFirmwareRequest](payload)
	if err != nil {
		return nil, err
	}
	if cp.Certs != nil {
		ok, err := cp.Certs.VerifyFirmwareSigningCert(req.Firmware.SigningCertificate)
		if err != nil || !ok {
			return v16.SignedUpdateFirmwareResponse{Status: v16.UpdateStatusFailed}, nil
		}
	}
	cp.Workers.Submit("firmware-update", func() { cp.runFirmwareUpdate(req.Firmware.Location, "") })
	return v16.SignedUpdateFirmwareResponse{Status: v16.UpdateStatusAccepted}, nil
}

func (cp *ChargePoint) runFirmwareUpdate(location, requestID string) {
	if cp.Files == nil {
		return
	}
	cp.Queue.Enqueue(v16.ActionFirmwareStatusNotification, v16.FirmwareStatusNotificationRequest{Status: v16.FirmwareStatusDownloading})
	if err := cp.Files.DownloadFirmware(location); err != nil {
		cp.Queue.Enqueue(v16.ActionFirmwareStatusNotification, v16.FirmwareStatusNotificationRequest{Status: v16.FirmwareStatusDownloadFailed})
		return
	}
	cp.Queue.Enqueue(v16.ActionFirmwareStatusNotification, v16.FirmwareStatusNotificationRequest{Status: v16.FirmwareStatusDownloaded})
	cp.Queue.Enqueue(v16.ActionFirmwareStatusNotification, v16.FirmwareStatusNotificationRequest{Status: v16.FirmwareStatusInstalling})
	if err := cp.Files.InstallFirmware(location); err != nil {
		cp.Queue.Enqueue(v16.ActionFirmwareStatusNotification, v16.FirmwareStatusNotificationRequest{Status: v16.FirmwareStatusInstallationFailed})
		return
	}
	cp.Queue.Enqueue(v16.ActionFirmwareStatusNotification, v16.FirmwareStatusNotificationRequest{Status: v16.FirmwareStatusInstalled})
}

func (cp *ChargePoint) handleGetLog(payload json.RawMessage) (interface{}, error) {
	req, err := decode[v16.GetLogRequest](payload)
	if err != nil {
		return nil, err
	}
	if cp.Files == nil {
		return v16.GetLogResponse{Status: v16.UploadLogStatusNotSupportedOperation}, nil
	}
	cp.Workers.Submit("upload-log", func() {
		filename, err := cp.Files.UploadLogs(req)
		status := v16.UploadLogStatusUploaded
		if err != nil {
			status = v16.UploadLogStatusUploadFailure
		}
		cp.Queue.Enqueue(v16.ActionLogStatusNotification, v16.LogStatusNotificationRequest{Status: status, RequestId: &req.RequestId})
		_ = filename
	})
	return v16.GetLogResponse{Status: v16.UploadLogStatusUploading}, nil
}

func (cp *ChargePoint) handleCertificateSigned(payload json.RawMessage) (interface{}, error) {
	req, err := decode[v16.CertificateSignedRequest](payload)
	if err != nil {
		return nil, err
	}
	if cp.Certs == nil {
		return v16.CertificateSignedResponse{Status: v16.CertificateSignedStatusRejected}, nil
	}
	if err := cp.Certs.WriteClientCert(req.CertificateChain); err != nil {
		return v16.CertificateSignedResponse{Status: v16.CertificateSignedStatusRejected}, nil
	}
	return v16.CertificateSignedResponse{Status: v16.CertificateSignedStatusAccepted}, nil
}

func (cp *ChargePoint) handleDeleteCertificate(payload json.RawMessage) (interface{}, error) {
	req, err := decode[v16.DeleteCertificateRequest](payload)
	if err != nil {
		return nil, err
	}
	if cp.Certs == nil {
		return v16.DeleteCertificateResponse{Status: v16.DeleteCertificateStatusNotFound}, nil
	}
	securityProfile, _ := cp.DeviceModel.GetInt("SecurityProfile")
	if err := cp.Certs.DeleteRoot(req.CertificateHashData.SerialNumber, securityProfile); err != nil {
		return v16.DeleteCertificateResponse{Status: v16.DeleteCertificateStatusNotFound}, nil
	}
	return v16.DeleteCertificateResponse{Status: v16.DeleteCertificateStatusAccepted}, nil
}

func (cp *ChargePoint) handleGetInstalledCertificateIds(payload json.RawMessage) (interface{}, error) {
	req, err := decode[v16.GetInstalledCertificateIdsRequest](payload)
	if err != nil {
		return nil, err
	}
	if cp.Certs == nil {
		return v16.GetInstalledCertificateIdsResponse{Status: v16.GetInstalledCertificateStatusNotFound}, nil
	}
	hashes, err := cp.Certs.GetRootHashes(req.CertificateType)
	if err != nil || len(hashes) == 0 {
		return v16.GetInstalledCertificateIdsResponse{Status: v16.GetInstalledCertificateStatusNotFound}, nil
	}
	return v16.GetInstalledCertificateIdsResponse{Status: v16.GetInstalledCertificateStatusAccepted, CertificateHashData: hashes}, nil
}

func (cp *ChargePoint) handleInstallCertificate(payload json.RawMessage) (interface{}, error) {
	req, err := decode[v16.InstallCertificateRequest](payload)
	if err != nil {
		return nil, err
	}
	if cp.Certs == nil {
		return v16.InstallCertificateResponse{Status: v16.CertificateStatusRejected}, nil
	}
	status, err := cp.Certs.InstallRoot(req.CertificateType, req.Certificate)
	if err != nil {
		return v16.InstallCertificateResponse{Status: v16.CertificateStatusRejected}, nil
	}
	return v16.InstallCertificateResponse{Status: status}, nil
}

func (cp *ChargePoint) handleGetLocalListVersion(payload json.RawMessage) (interface{}, error) {
	return v16.GetLocalListVersionResponse{ListVersion: cp.LocalAuth.ListVersion()}, nil
}

func (cp *ChargePoint) handleSendLocalList(payload json.RawMessage) (interface{}, error) {
	req, err := decode[v16.SendLocalListRequest](payload)
	if err != nil {
		return nil, err
	}
	return v16.SendLocalListResponse{Status: cp.LocalAuth.Update(req)}, nil
}

func (cp *ChargePoint) handleTriggerMessage(payload json.RawMessage) (interface{}, error) {
	req, err := decode[v16.TriggerMessageRequest](payload)
	if err != nil {
		return nil, err
	}
	status := cp.Dispatch.HandleTriggerMessage(req.RequestedMessage, req.ConnectorId)
	return v16.TriggerMessageResponse{Status: status}, nil
}

func (cp *ChargePoint) handleExtendedTriggerMessage(payload json.RawMessage) (interface{}, error) {
	req, err := decode[v16.ExtendedTriggerMessageRequest](payload)
	if err != nil {
		return nil, err
	}
	status := cp.Dispatch.HandleTriggerMessage(req.RequestedMessage, req.ConnectorId)
	return v16.ExtendedTriggerMessageResponse{Status: status}, nil
}
