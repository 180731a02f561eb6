// Package main provides the rebuild CLI: a standalone tool that replays the
// Brain's event log into a fresh DecisionRebuilder and reports the rebuilt
// approval-rate projection. Run out of the hot path, never by the live
// server process.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/brainhouse/capital-brain/internal/brain"
	"github.com/brainhouse/capital-brain/internal/eventstore"
	"github.com/brainhouse/capital-brain/internal/storage"
)

func main() {
	dsn := flag.String("db", "brain.db", "Path to the Brain's sqlite database")
	ring := flag.Int("ring", 50, "Number of recent decisions to retain in the rebuilt projection")
	reset := flag.Bool("reset", true, "Reset the rebuilder before replaying (false appends to an in-memory seed)")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	store, err := storage.Open(logger, *dsn)
	if err != nil {
		logger.Fatal("failed to open storage", zap.Error(err))
	}
	defer store.Close()

	events := eventstore.New(store.DB())
	rebuilder := brain.NewDecisionRebuilder(*ring)

	ctx := context.Background()
	if err := events.RebuildReadModels(ctx, rebuilder, *reset); err != nil {
		logger.Fatal("rebuild failed", zap.Error(err))
	}

	report := struct {
		ApprovalRates   map[string]string `json:"approvalRates"`
		RecentDecisions int               `json:"recentDecisionCount"`
	}{
		ApprovalRates: make(map[string]string),
	}
	for phase, rate := range rebuilder.ApprovalRates() {
		report.ApprovalRates[string(phase)] = rate.String()
	}
	report.RecentDecisions = len(rebuilder.RecentDecisions())

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		logger.Fatal("failed to marshal report", zap.Error(err))
	}
	fmt.Fprintln(os.Stdout, string(out))

	logger.Info("rebuild complete",
		zap.Int("phasesSeen", len(report.ApprovalRates)),
		zap.Int("recentDecisions", report.RecentDecisions),
	)
}
