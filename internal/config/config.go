package config

import (
	"time"
)

// Config represents the charge point process's full configuration: what it
// boots as, what it dials, and where it persists state.
type Config struct {
	Logging       LoggingConfig       `mapstructure:"logging"`
	MongoDB       MongoDBConfig       `mapstructure:"mongodb"`
	CSMS          CSMSConfig          `mapstructure:"csms"`
	ChargePoint   ChargePointConfig   `mapstructure:"charge_point"`
	SmartCharging SmartChargingConfig `mapstructure:"smart_charging"`
	Security      SecurityConfig      `mapstructure:"security"`
	Application   ApplicationConfig   `mapstructure:"application"`
}

// ChargePointConfig seeds the device model's identity keys at startup
// (devicemodel.Model.Seed) and picks the feature profiles the dispatcher
// gates actions against.
type ChargePointConfig struct {
	StationID                string   `mapstructure:"station_id"`
	Vendor                   string   `mapstructure:"vendor"`
	Model                    string   `mapstructure:"model"`
	SerialNumber             string   `mapstructure:"serial_number"`
	FirmwareVersion          string   `mapstructure:"firmware_version"`
	NumberOfConnectors       int      `mapstructure:"number_of_connectors"`
	SupportedFeatureProfiles []string `mapstructure:"supported_feature_profiles"`
}

// SmartChargingConfig holds smart-charging bounds read from the config file.
// chargepoint.New does not read it: smartcharging.NewStore's bounds come
// from the device model's ChargeProfileMaxStackLevel, DefaultLimitAmps,
// DefaultLimitWatts, DefaultNumberPhases and SupplyVoltage keys.
type SmartChargingConfig struct {
	ChargeProfileMaxStackLevel int     `mapstructure:"charge_profile_max_stack_level"`
	DefaultLimitAmps           float64 `mapstructure:"default_limit_amps"`
	DefaultLimitWatts          float64 `mapstructure:"default_limit_watts"`
	DefaultNumberPhases        int     `mapstructure:"default_number_phases"`
	SupplyVoltage              float64 `mapstructure:"supply_voltage"`
}

// SecurityConfig holds the default security profile and PnC cert paths an
// EvseDriver/CertStore implementation is constructed from.
type SecurityConfig struct {
	SecurityProfile   int    `mapstructure:"security_profile"` // 0-3 per OCPP 1.6 security whitepaper
	CertificateDir    string `mapstructure:"certificate_dir"`
	ClientCertFile    string `mapstructure:"client_cert_file"`
	ClientKeyFile     string `mapstructure:"client_key_file"`
	CACertFile        string `mapstructure:"ca_cert_file"`
	AuthorizationKey  string `mapstructure:"authorization_key"` // hex, Basic-auth password for Security Profile 1/2
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json or text
	Output string `mapstructure:"output"` // stdout, stderr, or file path
}

// MongoDBConfig holds MongoDB connection configuration
type MongoDBConfig struct {
	URI               string                   `mapstructure:"uri"`
	Database          string                   `mapstructure:"database"`
	ConnectionTimeout time.Duration            `mapstructure:"connection_timeout"`
	MaxPoolSize       uint64                   `mapstructure:"max_pool_size"`
	Collections       MongoDBCollectionsConfig `mapstructure:"collections"`
	TimeSeries        MongoDBTimeSeriesConfig  `mapstructure:"timeseries"`
}

// MongoDBCollectionsConfig holds collection names
type MongoDBCollectionsConfig struct {
	Messages           string `mapstructure:"messages"`
	Transactions       string `mapstructure:"transactions"`
	MeterValues        string `mapstructure:"meter_values"`
	AuthorizationCache string `mapstructure:"authorization_cache"`
	LocalAuthList      string `mapstructure:"local_auth_list"`
	DeviceModel        string `mapstructure:"device_model"`
	ChargingProfiles   string `mapstructure:"charging_profiles"`
}

// MongoDBTimeSeriesConfig holds time-series configuration
type MongoDBTimeSeriesConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Granularity string `mapstructure:"granularity"` // seconds, minutes, hours
}

// CSMSConfig holds CSMS connection configuration
type CSMSConfig struct {
	URL                  string        `mapstructure:"url"`
	ConnectionTimeout    time.Duration `mapstructure:"connection_timeout"`
	HeartbeatInterval    time.Duration `mapstructure:"heartbeat_interval"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
	ReconnectBackoff     time.Duration `mapstructure:"reconnect_backoff"`
	TLS                  TLSCSMSConfig `mapstructure:"tls"`
}

// TLSCSMSConfig holds TLS configuration for the CSMS connection
type TLSCSMSConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	CACert             string `mapstructure:"ca_cert"`
	ClientCert         string `mapstructure:"client_cert"`
	ClientKey          string `mapstructure:"client_key"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
}

// ApplicationConfig holds process-level configuration shared by every
// charge point the process supervises (internal/fleet).
type ApplicationConfig struct {
	MaxChargePoints     int           `mapstructure:"max_charge_points"`
	CacheTTL            time.Duration `mapstructure:"cache_ttl"`
	DebugMode           bool          `mapstructure:"debug_mode"`
	MessageBufferSize   int           `mapstructure:"message_buffer_size"`
	BatchInsertInterval time.Duration `mapstructure:"batch_insert_interval"`
	// StateSyncInterval is how often internal/fleet snapshots the
	// AuthorizationCache, LocalAuthorizationList, device model and
	// installed charging profiles to MongoDB.
	StateSyncInterval time.Duration `mapstructure:"state_sync_interval"`
}
