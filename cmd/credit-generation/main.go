// credit-generation runs the periodic carbon credit generation for every
// farmer (or one, with -farmer-id). Farmers without verified evidence in the
// window are skipped.
//
// Usage:
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/credit-generation -window-days 30
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mmdatafocus/mrv_backend/config"
	"github.com/mmdatafocus/mrv_backend/models"
	"github.com/mmdatafocus/mrv_backend/utils"
	"github.com/mmdatafocus/mrv_backend/workflow"
	"github.com/sirupsen/logrus"
)

func main() {
	farmerID := flag.Int("farmer-id", 0, "Optional: generate for one farmer only.")
	windowDays := flag.Int("window-days", workflow.DefaultCreditWindowDays, "Evidence window in days.")
	dryRun := flag.Bool("dry-run", false, "List the farmers that would be processed without writing credits.")
	flag.Parse()

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	// rollups lock through redis when it is configured; in-process otherwise
	if strings.TrimSpace(os.Getenv("REDIS_ADDRESS")) != "" {
		config.ConnectRedisWithRetry()
	}

	logger := config.GetLogger()
	store := models.NewGormStore(db)
	rollups := workflow.NewRollups(store, workflow.NewDefaultLocker("mrv_rollup"), logger)
	engine := workflow.NewCarbonCreditEngine(store, rollups, logger, config.PipelineSettings())

	systemCtx := utils.SetSkipOwnerScopeInContext(ctx)
	ids := []int{*farmerID}
	if *farmerID == 0 {
		var err error
		ids, err = store.ListFarmerIds(systemCtx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to list farmers: %v\n", err)
			os.Exit(1)
		}
	}

	var generated, skipped, failed int
	for _, id := range ids {
		farmer, err := store.GetFarmer(systemCtx, id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "farmer %d: %v\n", id, err)
			failed++
			continue
		}
		if *dryRun {
			fmt.Printf("would generate farmer=%d user=%d window=%dd\n", farmer.ID, farmer.UserId, *windowDays)
			continue
		}
		// act as the owning user so the ownership checks apply unchanged
		ownerCtx := utils.SetUserIdInContext(ctx, farmer.UserId)
		ownerCtx = utils.SetCorrelationIdInContext(ownerCtx, fmt.Sprintf("credit-generation-%d", farmer.ID))
		credits, err := engine.GenerateCredits(ownerCtx, farmer.ID, *windowDays)
		if errors.Is(err, models.ErrNoEvidence) {
			skipped++
			continue
		}
		if err != nil {
			config.LogError(logger, "credit-generation", "main", "GenerateCredits", farmer.ID, err)
			failed++
			continue
		}
		generated += len(credits)
	}

	logger.WithFields(logrus.Fields{
		"field":   "credit-generation",
		"farmers": len(ids),
		"credits": generated,
		"skipped": skipped,
		"failed":  failed,
		"window":  *windowDays,
		"dry_run": *dryRun,
	}).Info("credit generation finished")
	if failed > 0 {
		os.Exit(1)
	}
}
