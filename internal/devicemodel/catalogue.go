package devicemodel

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// catalogue is the compile-time set of OCPP 1.6 configuration keys this
// charge point knows about, one entry per key the way
// internal/ocpp/v201/devicemodel.go's initializeStandardComponents builds
// its component tree.
var catalogue = []entry{
	// --- Core, hot keys ---
	{key: "HeartbeatInterval", section: SectionCore, valueType: TypeInteger, mutability: ReadWrite, value: "86400", hotKey: true, validate: validateNonNegativeInt},
	{key: "MeterValueSampleInterval", section: SectionCore, valueType: TypeInteger, mutability: ReadWrite, value: "60", hotKey: true, validate: validateNonNegativeInt},
	{key: "ClockAlignedDataInterval", section: SectionCore, valueType: TypeInteger, mutability: ReadWrite, value: "900", validate: validateNonNegativeInt},
	{key: "ConnectionTimeOut", section: SectionCore, valueType: TypeInteger, mutability: ReadWrite, value: "60", validate: validateNonNegativeInt},
	{key: "NumberOfConnectors", section: SectionCore, valueType: TypeInteger, mutability: ReadOnly, value: "1"},
	{key: "ResetRetries", section: SectionCore, valueType: TypeInteger, mutability: ReadWrite, value: "3", validate: validateNonNegativeInt},
	{key: "GetConfigurationMaxKeys", section: SectionCore, valueType: TypeInteger, mutability: ReadOnly, value: "100"},
	{key: "SupportedFeatureProfiles", section: SectionCore, valueType: TypeCSL, mutability: ReadOnly, value: "Core,FirmwareManagement,LocalAuthListManagement,Reservation,SmartCharging,RemoteTrigger"},
	{key: "MeterValuesSampledData", section: SectionCore, valueType: TypeCSL, mutability: ReadWrite, value: "Energy.Active.Import.Register", validate: validateMeasurandCSL},
	{key: "MeterValuesAlignedData", section: SectionCore, valueType: TypeCSL, mutability: ReadWrite, value: "Energy.Active.Import.Register", validate: validateMeasurandCSL},
	{key: "AuthorizeRemoteTxRequests", section: SectionCore, valueType: TypeBoolean, mutability: ReadWrite, value: "true", validate: validateBool},
	{key: "StopTransactionOnEVSideDisconnect", section: SectionCore, valueType: TypeBoolean, mutability: ReadWrite, value: "true", validate: validateBool},
	{key: "StopTransactionOnInvalidId", section: SectionCore, valueType: TypeBoolean, mutability: ReadWrite, value: "true", validate: validateBool},
	{key: "UnlockConnectorOnEVSideDisconnect", section: SectionCore, valueType: TypeBoolean, mutability: ReadWrite, value: "true", validate: validateBool},
	{key: "AllowOfflineTxForUnknownId", section: SectionCore, valueType: TypeBoolean, mutability: ReadWrite, value: "false", validate: validateBool},
	{key: "LocalAuthorizeOffline", section: SectionCore, valueType: TypeBoolean, mutability: ReadWrite, value: "true", validate: validateBool},
	{key: "LocalPreAuthorize", section: SectionCore, valueType: TypeBoolean, mutability: ReadWrite, value: "false", validate: validateBool},
	{key: "AuthorizationCacheEnabled", section: SectionCore, valueType: TypeBoolean, mutability: ReadWrite, value: "true", validate: validateBool},
	{key: "TransactionMessageAttempts", section: SectionCore, valueType: TypeInteger, mutability: ReadWrite, value: "3", validate: validateNonNegativeInt},
	{key: "TransactionMessageRetryInterval", section: SectionCore, valueType: TypeInteger, mutability: ReadWrite, value: "60", validate: validateNonNegativeInt},
	{key: "BlinkRepeat", section: SectionCore, valueType: TypeInteger, mutability: ReadWrite, value: "0", validate: validateNonNegativeInt},
	{key: "LightIntensity", section: SectionCore, valueType: TypeInteger, mutability: ReadWrite, value: "100", validate: validateNonNegativeInt},
	{key: "MinimumStatusDuration", section: SectionCore, valueType: TypeInteger, mutability: ReadWrite, value: "0", validate: validateNonNegativeInt},

	// --- FirmwareManagement ---
	{key: "SupportedFileTransferProtocols", section: SectionFirmwareManagement, valueType: TypeCSL, mutability: ReadOnly, value: "FTP,HTTP,HTTPS"},

	// --- LocalAuthListManagement ---
	{key: "LocalAuthListEnabled", section: SectionLocalAuthListManagement, valueType: TypeBoolean, mutability: ReadWrite, value: "true", validate: validateBool},
	{key: "LocalAuthListMaxLength", section: SectionLocalAuthListManagement, valueType: TypeInteger, mutability: ReadOnly, value: "100"},
	{key: "SendLocalListMaxLength", section: SectionLocalAuthListManagement, valueType: TypeInteger, mutability: ReadOnly, value: "20"},

	// --- Reservation ---
	{key: "ReserveConnectorZeroSupported", section: SectionReservation, valueType: TypeBoolean, mutability: ReadOnly, value: "false"},

	// --- SmartCharging ---
	{key: "ChargeProfileMaxStackLevel", section: SectionSmartCharging, valueType: TypeInteger, mutability: ReadOnly, value: "8"},
	{key: "ChargingScheduleAllowedChargingRateUnit", section: SectionSmartCharging, valueType: TypeCSL, mutability: ReadOnly, value: "Current,Power"},
	{key: "ChargingScheduleMaxPeriods", section: SectionSmartCharging, valueType: TypeInteger, mutability: ReadOnly, value: "24"},
	{key: "MaxChargingProfilesInstalled", section: SectionSmartCharging, valueType: TypeInteger, mutability: ReadOnly, value: "10"},
	{key: "ConnectorSwitch3to1PhaseSupported", section: SectionSmartCharging, valueType: TypeBoolean, mutability: ReadOnly, value: "false"},
	{key: "DefaultLimitAmps", section: SectionSmartCharging, valueType: TypeInteger, mutability: ReadWrite, value: "6", validate: validateNonNegativeInt},
	{key: "DefaultLimitWatts", section: SectionSmartCharging, valueType: TypeInteger, mutability: ReadWrite, value: "1380", validate: validateNonNegativeInt},
	{key: "DefaultNumberPhases", section: SectionSmartCharging, valueType: TypeInteger, mutability: ReadWrite, value: "3", validate: validateNonNegativeInt},
	{key: "SupplyVoltage", section: SectionSmartCharging, valueType: TypeInteger, mutability: ReadWrite, value: "230", validate: validateNonNegativeInt},

	// --- Security ---
	{key: "AuthorizationKey", section: SectionSecurity, valueType: TypeString, mutability: WriteOnly, value: "", hotKey: true, validate: validateAuthorizationKey},
	{key: "SecurityProfile", section: SectionSecurity, valueType: TypeInteger, mutability: ReadWrite, value: "0", hotKey: true, validate: validateSecurityProfile},
	{key: "CpoName", section: SectionSecurity, valueType: TypeString, mutability: ReadWrite, value: ""},
	{key: "CertificateSignedMaxChainSize", section: SectionSecurity, valueType: TypeInteger, mutability: ReadOnly, value: "10000"},
	{key: "CertificateStoreMaxLength", section: SectionSecurity, valueType: TypeInteger, mutability: ReadOnly, value: "5"},
	{key: "DisableSecurityEventNotifications", section: SectionSecurity, valueType: TypeBoolean, mutability: ReadWrite, value: "false", validate: validateBool},
	{key: "AdditionalRootCertificateCheck", section: SectionSecurity, valueType: TypeBoolean, mutability: ReadOnly, value: "false"},

	// --- PnC ---
	{key: "ISO15118PnCEnabled", section: SectionPnC, valueType: TypeBoolean, mutability: ReadWrite, value: "false", validate: validateBool},

	// --- CostAndPrice ---
	{key: "CostAndPrice", section: SectionCostAndPrice, valueType: TypeJSON, mutability: ReadWrite, value: "{}", validate: validateCostAndPriceJSON},

	// --- Internal (always visible, this charge point's own identity) ---
	{key: "ChargePointId", section: SectionInternal, valueType: TypeString, mutability: ReadOnly, value: ""},
	{key: "ChargePointVendor", section: SectionInternal, valueType: TypeString, mutability: ReadOnly, value: ""},
	{key: "ChargePointModel", section: SectionInternal, valueType: TypeString, mutability: ReadOnly, value: ""},
}

func validateBool(raw string, _ *entry) (string, error) {
	switch raw {
	case "true", "false":
		return raw, nil
	default:
		return "", fmt.Errorf("boolean keys accept only true or false, got %q", raw)
	}
}

func validateNonNegativeInt(raw string, _ *entry) (string, error) {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return "", fmt.Errorf("expected a non-negative integer, got %q", raw)
	}
	return strconv.Itoa(n), nil
}

var validMeasurands = map[string]bool{
	"Current.Export": true, "Current.Import": true, "Current.Offered": true,
	"Energy.Active.Export.Register": true, "Energy.Active.Import.Register": true,
	"Energy.Reactive.Export.Register": true, "Energy.Reactive.Import.Register": true,
	"Energy.Active.Export.Interval": true, "Energy.Active.Import.Interval": true,
	"Energy.Reactive.Export.Interval": true, "Energy.Reactive.Import.Interval": true,
	"Frequency": true, "Power.Active.Export": true, "Power.Active.Import": true,
	"Power.Factor": true, "Power.Offered": true, "Power.Reactive.Export": true,
	"Power.Reactive.Import": true, "RPM": true, "SoC": true, "Temperature": true,
	"Voltage": true,
}

func validateMeasurandCSL(raw string, _ *entry) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	parts := strings.Split(raw, ",")
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if !validMeasurands[p] {
			return "", fmt.Errorf("unknown measurand %q", p)
		}
	}
	return strings.Join(parts, ","), nil
}

// validateAuthorizationKey implements the spec's constrained-string rule:
// the key must decode as hex of at least 8 bytes, or be a plain string of
// at least 8 characters. Grounded on internal/auth/service.go's
// sha256/hex idiom, reused here for the hex-decision rather than hashing.
func validateAuthorizationKey(raw string, _ *entry) (string, error) {
	if len(raw) >= 2 && len(raw)%2 == 0 {
		if decoded, err := hex.DecodeString(raw); err == nil && len(decoded) >= 8 {
			return raw, nil
		}
	}
	if len(raw) >= 8 {
		return raw, nil
	}
	return "", fmt.Errorf("AuthorizationKey must be at least 8 characters, or valid hex decoding to at least 8 bytes")
}

func validateSecurityProfile(raw string, _ *entry) (string, error) {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 || n > 3 {
		return "", fmt.Errorf("SecurityProfile must be 0, 1, 2 or 3")
	}
	return raw, nil
}

// costAndPrice is the structural shape validated for the CostAndPrice key,
// per spec.md's "structured JSON via schema" validation policy. Non-goals
// explicitly exclude real JSON-schema generation, so this hand-validates
// the known field set instead of pulling in a schema library.
type costAndPrice struct {
	Currency       string  `json:"currency"`
	PricePerKWh    float64 `json:"pricePerKWh"`
	PricePerMinute float64 `json:"pricePerMinute"`
	PricePerSession float64 `json:"pricePerSession"`
}

func validateCostAndPriceJSON(raw string, _ *entry) (string, error) {
	var v costAndPrice
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return "", fmt.Errorf("CostAndPrice must be valid JSON matching the expected schema: %w", err)
	}
	if v.Currency == "" {
		return "", fmt.Errorf("CostAndPrice.currency is required")
	}
	normalized, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(normalized), nil
}
