// Package main analyzes a force capture offline: either a CSV export or a
// stored test fetched from PostgreSQL. The conditioning and analysis
// tunables are flags, so a recorded burn can be re-examined with different
// parameters than the server used.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"static-fire-lab/internal/analysis"
	"static-fire-lab/internal/conditioning"
	"static-fire-lab/internal/domain"
	"static-fire-lab/internal/reporting"
	pgstore "static-fire-lab/internal/storage/postgres"
)

func main() {
	input := flag.String("input", "", "CSV capture to analyze (time_ms,force_n,raw_value; header optional)")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string for --test-id")
	testID := flag.Int64("test-id", 0, "Stored test to re-analyze (requires --postgres-dsn)")
	mass := flag.Float64("mass", 0, "Propellant mass in kg; enables specific impulse")
	jsonOut := flag.Bool("json", false, "Emit the metric set as JSON instead of markdown")

	baselineSeconds := flag.Float64("baseline-seconds", 0.5, "Leading seconds averaged for the force baseline")
	sampleRate := flag.Float64("sample-rate", 80, "Nominal sample rate in Hz")
	smoothWindow := flag.Int("smooth-window", 11, "Savitzky-Golay window size (<=1 disables smoothing)")
	smoothOrder := flag.Int("smooth-order", 3, "Savitzky-Golay polynomial order")
	burnThreshold := flag.Float64("burn-threshold", 0.05, "Fraction of peak thrust bounding the burn window")
	catoSigma := flag.Float64("cato-sigma", 5, "Derivative spike threshold in standard deviations")

	flag.Parse()

	logger := log.New(os.Stderr, "[analyze] ", log.LstdFlags)

	if (*input == "") == (*testID == 0) {
		logger.Fatal("Exactly one of --input or --test-id is required")
	}

	record, err := loadRecord(*input, *postgresDSN, *testID, logger)
	if err != nil {
		logger.Fatalf("Load capture: %v", err)
	}
	if len(record.Samples) == 0 {
		logger.Fatal("Capture has no samples")
	}

	condCfg := conditioning.DefaultConfig()
	condCfg.BaselineDuration = *baselineSeconds
	condCfg.SampleRate = *sampleRate
	condCfg.SmoothWindow = *smoothWindow
	condCfg.SmoothPolyOrder = *smoothOrder

	anaCfg := analysis.DefaultConfig()
	anaCfg.BurnThreshold = *burnThreshold
	anaCfg.CatoSigma = *catoSigma

	cond := conditioning.Condition(record.Samples, condCfg)
	record.Result = analysis.Compute(cond, *mass, anaCfg)
	record.DurationMS = record.Samples.DurationMS()
	record.SampleCount = len(record.Samples)

	if *jsonOut {
		out, err := json.MarshalIndent(record.Result, "", "  ")
		if err != nil {
			logger.Fatalf("Encode result: %v", err)
		}
		fmt.Println(string(out))
		return
	}

	fmt.Print(reporting.RenderMarkdown(record, time.Now()))
}

// loadRecord reads the capture from a CSV file or from the tests table.
// CSV captures come back as an unsaved record labeled after the file.
func loadRecord(input, postgresDSN string, testID int64, logger *log.Logger) (*domain.TestRecord, error) {
	if input != "" {
		f, err := os.Open(input)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", input, err)
		}
		defer f.Close()

		series, err := reporting.ParseCSV(f)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", input, err)
		}
		return &domain.TestRecord{
			Label:   filepath.Base(input),
			Samples: series,
		}, nil
	}

	if postgresDSN == "" {
		return nil, fmt.Errorf("--postgres-dsn is required with --test-id")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	defer pool.Close()

	record, err := pgstore.NewTestStore(pool).GetByID(ctx, testID)
	if err != nil {
		return nil, fmt.Errorf("load test %d: %w", testID, err)
	}
	logger.Printf("Loaded test %d (%d samples)", testID, len(record.Samples))
	return record, nil
}
