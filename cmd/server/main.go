package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ruslanhut/ocpp-cp-core/internal/chargepoint"
	"github.com/ruslanhut/ocpp-cp-core/internal/config"
	"github.com/ruslanhut/ocpp-cp-core/internal/fleet"
	"github.com/ruslanhut/ocpp-cp-core/internal/logging"
	"github.com/ruslanhut/ocpp-cp-core/internal/ocpp/v16"
	"github.com/ruslanhut/ocpp-cp-core/internal/simulator"
	"github.com/ruslanhut/ocpp-cp-core/internal/storage"
	"github.com/ruslanhut/ocpp-cp-core/internal/transport"
)

const (
	appName    = "ocpp-cp-core"
	appVersion = "0.1.0"
)

func main() {
	configPath := flag.String("conf", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Printf("Error loading config: %v", err)
		os.Exit(1)
	}

	logger := initLogger(cfg)
	logger.Info("starting charge point",
		slog.String("version", appVersion),
		slog.String("app", appName),
		slog.String("stationId", cfg.ChargePoint.StationID),
	)

	ctx := context.Background()
	mongoClient, err := storage.NewMongoDBClient(ctx, &cfg.MongoDB, logger)
	if err != nil {
		logger.Error("failed to connect to MongoDB", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("MongoDB connection established")

	if err := mongoClient.HealthCheck(ctx); err != nil {
		logger.Warn("MongoDB health check failed", slog.String("error", err.Error()))
	}

	messageLogger := logging.NewMessageLogger(
		mongoClient,
		logger,
		logging.LoggerConfig{
			BufferSize:    cfg.Application.MessageBufferSize,
			BatchSize:     100,
			FlushInterval: cfg.Application.BatchInsertInterval,
		},
	)
	messageLogger.Start()
	logger.Info("message logger started")

	fleetManager := fleet.New(logger)
	fleetManager.EnablePersistence(fleet.Persistence{
		AuthCache:        storage.NewAuthorizationCacheRepository(mongoClient),
		LocalAuthList:    storage.NewLocalAuthListRepository(mongoClient),
		DeviceModel:      storage.NewDeviceModelRepository(mongoClient),
		ChargingProfiles: storage.NewChargingProfileRepository(mongoClient),
		SyncInterval:     cfg.Application.StateSyncInterval,
	})

	meterValueRepo := storage.NewMeterValueRepository(mongoClient)

	stopMeters, err := assembleChargePoint(fleetManager, cfg, logger, messageLogger, meterValueRepo)
	if err != nil {
		logger.Error("failed to assemble charge point", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := fleetManager.AutoStart(ctx); err != nil {
		logger.Error("failed to connect to CSMS", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("fleet started", slog.String("csms", cfg.CSMS.URL))

	syncCtx, stopSync := context.WithCancel(ctx)
	fleetManager.StartSync(syncCtx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	stopMeters()
	stopSync()

	shutdownFleetCtx, cancelFleet := context.WithTimeout(ctx, 30*time.Second)
	if err := fleetManager.Shutdown(shutdownFleetCtx); err != nil {
		logger.Error("error while stopping fleet", slog.String("error", err.Error()))
	}
	cancelFleet()

	if err := messageLogger.Shutdown(); err != nil {
		logger.Error("failed to shutdown message logger", slog.String("error", err.Error()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := mongoClient.Close(shutdownCtx); err != nil {
		logger.Error("failed to close MongoDB connection", slog.String("error", err.Error()))
	}

	logger.Info("charge point stopped")
}

// assembleChargePoint builds the one charge point identity this process owns
// (cfg.ChargePoint) with simulated collaborators, wires its wire traffic into
// messageLogger, and registers it with fleetManager for autostart. It
// returns a func to stop the background meter simulation on shutdown.
//
// A process that needs to run several identities under one fleet.Manager
// (the teacher's emulator ran many simulated stations this way) calls this
// once per identity with a distinct config.ChargePointConfig and station_id;
// today's config carries exactly one, so the fleet holds exactly one entry.
func assembleChargePoint(fleetManager *fleet.Manager, cfg *config.Config, logger *slog.Logger, messageLogger *logging.MessageLogger, meterValueRepo *storage.MeterValueRepository) (func(), error) {
	evse := simulator.NewEvse(logger)
	meter := simulator.NewMeter(evse)
	certs := simulator.Certs{}
	files := simulator.NewFiles(logger)

	cpConfig := chargepoint.Config{
		ChargePointVendor:        cfg.ChargePoint.Vendor,
		ChargePointModel:         cfg.ChargePoint.Model,
		FirmwareVersion:          cfg.ChargePoint.FirmwareVersion,
		NumberOfConnectors:       cfg.ChargePoint.NumberOfConnectors,
		SupportedFeatureProfiles: cfg.ChargePoint.SupportedFeatureProfiles,
		Link:                     buildTransportConfig(cfg),
	}

	stationID := cfg.ChargePoint.StationID
	cp := chargepoint.New(logger, cpConfig, evse, meter, certs, files)
	cp.Observer = func(direction string, raw []byte) {
		if err := messageLogger.LogMessage(stationID, direction, raw, "1.6"); err != nil {
			logger.Debug("failed to log message", slog.String("error", err.Error()))
		}
	}
	cp.OnMeterValues = func(req v16.MeterValuesRequest) {
		transactionID := 0
		if req.TransactionId != nil {
			transactionID = *req.TransactionId
		}
		docs := meterValuesToDocs(req)
		if err := meterValueRepo.Record(context.Background(), stationID, req.ConnectorId, transactionID, docs); err != nil {
			logger.Debug("failed to record meter values", slog.String("error", err.Error()))
		}
	}
	logger.Info("charge point assembled",
		slog.String("stationId", stationID),
		slog.Int("connectors", cfg.ChargePoint.NumberOfConnectors),
	)

	meterCtx, stopMeter := context.WithCancel(context.Background())
	connectorIDs := make([]int, 0, len(cp.Connectors))
	for id := range cp.Connectors {
		if id == 0 {
			continue
		}
		connectorIDs = append(connectorIDs, id)
	}
	go meter.Run(meterCtx, connectorIDs, 10*time.Second)

	fleetManager.Add(stationID, cp, true)

	return stopMeter, nil
}

// meterValuesToDocs flattens a MeterValues.req into one storage.MeterValue
// per SampledValue; station/connector/transaction tagging happens in
// MeterValueRepository.Record.
func meterValuesToDocs(req v16.MeterValuesRequest) []storage.MeterValue {
	docs := make([]storage.MeterValue, 0, len(req.MeterValue))
	for _, mv := range req.MeterValue {
		for _, sv := range mv.SampledValue {
			value, _ := strconv.ParseFloat(sv.Value, 64)
			docs = append(docs, storage.MeterValue{
				Timestamp: mv.Timestamp.Time,
				Value:     value,
				Unit:      string(sv.Unit),
				Context:   string(sv.Context),
				Format:    sv.Format,
				Location:  string(sv.Location),
				Metadata: storage.MeterValueMetadata{
					Measurand: string(sv.Measurand),
				},
			})
		}
	}
	return docs
}

// buildTransportConfig maps the CSMS/Security sections of config.Config onto
// transport.Config, the way internal/connection's old dialer was configured
// from ServerConfig before the connection layer moved to internal/transport.
func buildTransportConfig(cfg *config.Config) transport.Config {
	profile := transport.SecurityProfile(cfg.Security.SecurityProfile)

	tc := transport.Config{
		StationID:         cfg.ChargePoint.StationID,
		URL:               cfg.CSMS.URL,
		ProtocolVersion:   "1.6",
		Subprotocol:       "ocpp1.6",
		SecurityProfile:   profile,
		BasicAuthUsername: cfg.ChargePoint.StationID,
		BasicAuthPassword: cfg.Security.AuthorizationKey,

		TLSCACert:     cfg.Security.CACertFile,
		TLSClientCert: cfg.Security.ClientCertFile,
		TLSClientKey:  cfg.Security.ClientKeyFile,
		TLSSkipVerify: cfg.CSMS.TLS.InsecureSkipVerify,

		ConnectionTimeout:    cfg.CSMS.ConnectionTimeout,
		MaxReconnectAttempts: cfg.CSMS.MaxReconnectAttempts,
		ReconnectBackoff:     cfg.CSMS.ReconnectBackoff,
	}

	return tc
}

// initLogger initializes the structured logger using slog
func initLogger(cfg *config.Config) *slog.Logger {
	var logger *slog.Logger
	var logFile *os.File
	var err error

	if cfg.Logging.Output != "stdout" && cfg.Logging.Output != "" {
		logFile, err = os.OpenFile(cfg.Logging.Output, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			log.Fatal("error opening log file: ", err)
		}
		log.Printf("env: %s; log file: %s", cfg.Logging.Level, cfg.Logging.Output)
	}

	opts := &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}
	if cfg.Logging.Level == "info" {
		opts.Level = slog.LevelInfo
	}

	if logFile == nil {
		logger = slog.New(
			slog.NewTextHandler(os.Stdout, opts),
		)
	} else {
		logger = slog.New(
			slog.NewTextHandler(logFile, opts),
		)
	}

	return logger
}
