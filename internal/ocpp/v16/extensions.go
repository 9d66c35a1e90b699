package v16

// Firmware management, diagnostics, local auth list, remote trigger,
// reservation and security-extension message payloads. Grounded on
// original_source/lib/ocpp1_6 where the distilled spec only names the
// action, not its wire shape.

// =========== GetDiagnostics ===========

type GetDiagnosticsRequest struct {
	Location      string    `json:"location" validate:"required"`
	Retries       *int      `json:"retries,omitempty"`
	RetryInterval *int      `json:"retryInterval,omitempty"`
	StartTime     *DateTime `json:"startTime,omitempty"`
	StopTime      *DateTime `json:"stopTime,omitempty"`
}

type GetDiagnosticsResponse struct {
	FileName string `json:"fileName,omitempty"`
}

type DiagnosticsStatusNotificationRequest struct {
	Status DiagnosticsStatus `json:"status" validate:"required"`
}

type DiagnosticsStatusNotificationResponse struct{}

// =========== UpdateFirmware ===========

type UpdateFirmwareRequest struct {
	Location      string   `json:"location" validate:"required"`
	Retries       *int     `json:"retries,omitempty"`
	RetrieveDate  DateTime `json:"retrieveDate" validate:"required"`
	RetryInterval *int     `json:"retryInterval,omitempty"`
}

type UpdateFirmwareResponse struct{}

type FirmwareStatusNotificationRequest struct {
	Status FirmwareStatus `json:"status" validate:"required"`
}

type FirmwareStatusNotificationResponse struct{}

// =========== SignedUpdateFirmware / SignedFirmwareStatusNotification ===========

type FirmwareSigned struct {
	Location           string    `json:"location" validate:"required"`
	RetrieveDateTime   DateTime  `json:"retrieveDateTime" validate:"required"`
	InstallDateTime    *DateTime `json:"installDateTime,omitempty"`
	SigningCertificate string    `json:"signingCertificate" validate:"required"`
	Signature          string    `json:"signature" validate:"required"`
}

type SignedUpdateFirmwareRequest struct {
	RequestId     int            `json:"requestId"`
	Retries       *int           `json:"retries,omitempty"`
	RetryInterval *int           `json:"retryInterval,omitempty"`
	Firmware      FirmwareSigned `json:"firmware" validate:"required"`
}

type SignedUpdateFirmwareResponse struct {
	Status UpdateStatus `json:"status"`
}

type SignedFirmwareStatusNotificationRequest struct {
	Status    FirmwareStatus `json:"status" validate:"required"`
	RequestId *int           `json:"requestId,omitempty"`
}

type SignedFirmwareStatusNotificationResponse struct{}

// =========== GetLog / LogStatusNotification ===========

type LogParameters struct {
	RemoteLocation  string    `json:"remoteLocation" validate:"required"`
	OldestTimestamp *DateTime `json:"oldestTimestamp,omitempty"`
	LatestTimestamp *DateTime `json:"latestTimestamp,omitempty"`
}

type GetLogRequest struct {
	LogType       string        `json:"logType" validate:"required"`
	RequestId     int           `json:"requestId"`
	Retries       *int          `json:"retries,omitempty"`
	RetryInterval *int          `json:"retryInterval,omitempty"`
	Log           LogParameters `json:"log" validate:"required"`
}

type GetLogResponse struct {
	Status   UploadLogStatus `json:"status"`
	Filename string          `json:"filename,omitempty"`
}

type LogStatusNotificationRequest struct {
	Status    UploadLogStatus `json:"status" validate:"required"`
	RequestId *int            `json:"requestId,omitempty"`
}

type LogStatusNotificationResponse struct{}

// =========== Certificate management ===========

type CertificateSignedRequest struct {
	CertificateChain string `json:"certificateChain" validate:"required"`
}

type CertificateSignedResponse struct {
	Status CertificateSignedStatus `json:"status"`
}

type DeleteCertificateRequest struct {
	CertificateHashData CertificateHashData `json:"certificateHashData" validate:"required"`
}

type CertificateHashData struct {
	HashAlgorithm  string `json:"hashAlgorithm" validate:"required"`
	IssuerNameHash string `json:"issuerNameHash" validate:"required"`
	IssuerKeyHash  string `json:"issuerKeyHash" validate:"required"`
	SerialNumber   string `json:"serialNumber" validate:"required"`
}

type DeleteCertificateResponse struct {
	Status DeleteCertificateStatus `json:"status"`
}

type GetInstalledCertificateIdsRequest struct {
	CertificateType string `json:"certificateType,omitempty"`
}

type GetInstalledCertificateIdsResponse struct {
	Status              GetInstalledCertificateStatus `json:"status"`
	CertificateHashData []CertificateHashData         `json:"certificateHashData,omitempty"`
}

type InstallCertificateRequest struct {
	CertificateType string `json:"certificateType" validate:"required"`
	Certificate     string `json:"certificate" validate:"required"`
}

type InstallCertificateResponse struct {
	Status CertificateStatus `json:"status"`
}

// =========== TriggerMessage / ExtendedTriggerMessage ===========

type TriggerMessageRequest struct {
	RequestedMessage MessageTrigger `json:"requestedMessage" validate:"required"`
	ConnectorId      *int           `json:"connectorId,omitempty"`
}

type TriggerMessageResponse struct {
	Status TriggerMessageStatus `json:"status"`
}

type ExtendedTriggerMessageRequest struct {
	RequestedMessage MessageTrigger `json:"requestedMessage" validate:"required"`
	ConnectorId      *int           `json:"connectorId,omitempty"`
}

type ExtendedTriggerMessageResponse struct {
	Status TriggerMessageStatus `json:"status"`
}

// =========== SecurityEventNotification ===========

type SecurityEventNotificationRequest struct {
	Type      SecurityEvent `json:"type" validate:"required"`
	Timestamp DateTime      `json:"timestamp" validate:"required"`
	TechInfo  string        `json:"techInfo,omitempty"`
}

type SecurityEventNotificationResponse struct{}

// =========== Local authorization list ===========

type AuthorizationData struct {
	IdTag     string     `json:"idTag" validate:"required,max=20"`
	IdTagInfo *IdTagInfo `json:"idTagInfo,omitempty"`
}

type UpdateTypeField = UpdateType

type SendLocalListRequest struct {
	ListVersion          int                 `json:"listVersion"`
	LocalAuthorizationList []AuthorizationData `json:"localAuthorizationList,omitempty"`
	UpdateType           UpdateType          `json:"updateType" validate:"required"`
}

type SendLocalListResponse struct {
	Status UpdateStatus `json:"status"`
}

type GetLocalListVersionRequest struct{}

type GetLocalListVersionResponse struct {
	ListVersion int `json:"listVersion"`
}
