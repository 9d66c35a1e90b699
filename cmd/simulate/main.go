// Command simulate drives a scripted scenario against a single simulated
// charge point, using the same device model, transport and transaction
// components cmd/server runs, without standing a long-lived process up.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ruslanhut/ocpp-cp-core/internal/chargepoint"
	"github.com/ruslanhut/ocpp-cp-core/internal/config"
	"github.com/ruslanhut/ocpp-cp-core/internal/logging"
	"github.com/ruslanhut/ocpp-cp-core/internal/scenario"
	"github.com/ruslanhut/ocpp-cp-core/internal/simulator"
	"github.com/ruslanhut/ocpp-cp-core/internal/storage"
	"github.com/ruslanhut/ocpp-cp-core/internal/transport"
)

const builtinScenarioDir = "testdata/scenarios"

func main() {
	configPath := flag.String("conf", "", "path to config file")
	scenarioID := flag.String("scenario", "", "scenario id to run (required)")
	timeout := flag.Duration("timeout", 2*time.Minute, "maximum time to wait for the scenario to finish")
	flag.Parse()

	if *scenarioID == "" {
		log.Fatal("-scenario is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("error loading config: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mongoClient, err := storage.NewMongoDBClient(ctx, &cfg.MongoDB, logger)
	if err != nil {
		logger.Error("failed to connect to MongoDB", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer mongoClient.Close(context.Background())

	messageLogger := logging.NewMessageLogger(mongoClient, logger, logging.LoggerConfig{
		BufferSize:    cfg.Application.MessageBufferSize,
		BatchSize:     100,
		FlushInterval: cfg.Application.BatchInsertInterval,
	})
	messageLogger.Start()
	defer messageLogger.Shutdown()

	stationID := cfg.ChargePoint.StationID
	cp := chargepoint.New(
		logger,
		chargepoint.Config{
			ChargePointVendor:        cfg.ChargePoint.Vendor,
			ChargePointModel:         cfg.ChargePoint.Model,
			FirmwareVersion:          cfg.ChargePoint.FirmwareVersion,
			NumberOfConnectors:       cfg.ChargePoint.NumberOfConnectors,
			SupportedFeatureProfiles: cfg.ChargePoint.SupportedFeatureProfiles,
			Link:                     buildTransportConfig(cfg),
		},
		simulator.NewEvse(logger),
		simulator.NewMeter(simulator.NewEvse(logger)),
		simulator.Certs{},
		simulator.NewFiles(logger),
	)
	cp.Observer = func(direction string, raw []byte) {
		if err := messageLogger.LogMessage(stationID, direction, raw, "1.6"); err != nil {
			logger.Debug("failed to log message", slog.String("error", err.Error()))
		}
	}

	scenarioStorage, err := scenario.NewStorage(mongoClient.GetDatabase(), logger)
	if err != nil {
		logger.Error("failed to initialize scenario storage", slog.String("error", err.Error()))
		os.Exit(1)
	}

	scenarioLoader := scenario.NewLoader(scenarioStorage, logger)
	if err := scenarioLoader.LoadBuiltinScenarios(ctx, builtinScenarioDir); err != nil {
		logger.Warn("failed to load builtin scenarios", slog.String("error", err.Error()))
	}

	controller := scenario.NewChargePointController(cp)
	runner := scenario.NewRunner(scenarioStorage, controller, messageLogger, nil, logger)
	defer runner.Shutdown(context.Background())

	if err := cp.Start(); err != nil {
		logger.Error("failed to connect to CSMS", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer cp.Stop()

	execution, err := runner.StartScenario(ctx, *scenarioID, stationID)
	if err != nil {
		logger.Error("failed to start scenario", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("scenario started",
		slog.String("executionId", execution.ExecutionID),
		slog.String("scenarioId", *scenarioID),
		slog.String("stationId", stationID),
	)

	execution = waitForCompletion(runner, execution.ExecutionID, *timeout, logger)
	if execution.Status != scenario.ExecutionStatusCompleted {
		logger.Error("scenario did not complete",
			slog.String("status", string(execution.Status)),
			slog.String("error", execution.Error),
		)
		os.Exit(1)
	}
	logger.Info("scenario completed", slog.String("executionId", execution.ExecutionID))
}

// waitForCompletion polls the runner for executionID's terminal status. The
// runner drives steps on its own goroutine; polling here avoids adding a
// completion channel to an API that already reports status via storage.
func waitForCompletion(runner *scenario.Runner, executionID string, timeout time.Duration, logger *slog.Logger) *scenario.Execution {
	deadline := time.Now().Add(timeout)
	var last *scenario.Execution

	for time.Now().Before(deadline) {
		execution, err := runner.GetExecution(executionID)
		if err != nil {
			logger.Error("failed to poll execution", slog.String("error", err.Error()))
			os.Exit(1)
		}
		last = execution

		switch execution.Status {
		case scenario.ExecutionStatusCompleted, scenario.ExecutionStatusFailed, scenario.ExecutionStatusCancelled:
			return execution
		}
		time.Sleep(500 * time.Millisecond)
	}

	if last == nil {
		logger.Error("timed out before the execution record was ever readable")
		os.Exit(1)
	}
	last.Status = scenario.ExecutionStatusFailed
	last.Error = "timed out waiting for scenario to finish"
	return last
}

// buildTransportConfig mirrors cmd/server's mapping of the CSMS/Security
// config sections onto transport.Config.
func buildTransportConfig(cfg *config.Config) transport.Config {
	return transport.Config{
		StationID:         cfg.ChargePoint.StationID,
		URL:               cfg.CSMS.URL,
		ProtocolVersion:   "1.6",
		Subprotocol:       "ocpp1.6",
		SecurityProfile:   transport.SecurityProfile(cfg.Security.SecurityProfile),
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
}
