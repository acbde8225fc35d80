// analysis-requeue publishes every verification record still in
// pending_analysis to the analysis topic. Use it after a Pub/Sub outage or
// when switching ANALYSIS_DISPATCH to pubsub with records in flight.
//
// Usage:
//
//	DB_*=... PUBSUB_PROJECT_ID=... go run ./cmd/analysis-requeue -older-than 15m
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/mmdatafocus/mrv_backend/config"
	"github.com/mmdatafocus/mrv_backend/models"
	"github.com/mmdatafocus/mrv_backend/workflow"
	"github.com/sirupsen/logrus"
)

func main() {
	olderThan := flag.Duration("older-than", 15*time.Minute, "Only records created before now minus this age.")
	batch := flag.Int("batch", 500, "Maximum records per sweep.")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}

	logger := config.GetLogger()
	sweeper := workflow.NewPendingAnalysisSweeper(models.NewGormStore(db), workflow.NewPubSubQueue(logger), logger, *olderThan)
	sweeper.BatchSize = *batch

	// records stay pending until analyzed, so one sweep per run; a second
	// pass would republish the same batch
	n, err := sweeper.SweepOnce(ctx)
	if err != nil {
		config.LogError(logger, "analysis-requeue", "main", "SweepOnce", *batch, err)
		os.Exit(1)
	}
	if n == *batch {
		fmt.Fprintf(os.Stderr, "published a full batch of %d; rerun after the workers catch up for the rest\n", n)
	}

	logger.WithFields(logrus.Fields{
		"field":     "analysis-requeue",
		"published": n,
	}).Info("analysis requeue finished")
}
