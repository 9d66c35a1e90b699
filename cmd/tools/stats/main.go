// Command stats prints aggregated OCPP message, transaction and error
// statistics from the MongoDB store, the way the teacher's admin-console
// analytics endpoints did, repointed at a CLI since this repository carries
// no admin HTTP surface.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/ruslanhut/ocpp-cp-core/internal/config"
	"github.com/ruslanhut/ocpp-cp-core/internal/storage"
)

func main() {
	configPath := flag.String("conf", "", "path to config file")
	stationID := flag.String("station", "", "restrict stats to this station id (default: all stations)")
	since := flag.Duration("since", 24*time.Hour, "how far back to aggregate")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("error loading config: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	mongoClient, err := storage.NewMongoDBClient(ctx, &cfg.MongoDB, logger)
	if err != nil {
		log.Fatalf("failed to connect to MongoDB: %v", err)
	}
	defer mongoClient.Close(context.Background())

	cutoff := time.Now().Add(-*since)

	messageStats, err := mongoClient.GetMessageStats(ctx, *stationID, cutoff)
	if err != nil {
		log.Fatalf("failed to compute message stats: %v", err)
	}

	transactionStats, err := mongoClient.GetTransactionStats(ctx, *stationID, cutoff)
	if err != nil {
		log.Fatalf("failed to compute transaction stats: %v", err)
	}

	errorStats, err := mongoClient.GetErrorStats(ctx, *stationID, cutoff)
	if err != nil {
		log.Fatalf("failed to compute error stats: %v", err)
	}

	report := struct {
		Since        time.Time                 `json:"since"`
		StationID    string                    `json:"stationId,omitempty"`
		Messages     *storage.MessageStats     `json:"messages"`
		Transactions *storage.TransactionStats `json:"transactions"`
		Errors       *storage.ErrorStats       `json:"errors"`
	}{
		Since:        cutoff,
		StationID:    *stationID,
		Messages:     messageStats,
		Transactions: transactionStats,
		Errors:       errorStats,
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		log.Fatalf("failed to marshal report: %v", err)
	}
	fmt.Println(string(out))
}
