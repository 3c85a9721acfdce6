// Command stageload loads staged denormalized order batches into the
// normalized warehouse model. It loads the config file, optionally
// initializes a metrics backend, and runs the chunked load for each requested
// batch id, one worker per batch.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"stageload/internal/config"
	"stageload/internal/loader"
	"stageload/internal/metrics"
	"stageload/internal/metrics/datadog"
	"stageload/internal/metrics/prompush"
	"stageload/internal/storage"

	// register the postgres backend with the storage factory.
	_ "stageload/internal/storage/postgres"
)

const defaultChunkSize = 5000

func main() {
	var (
		cfgPath           string
		batchFlg          string
		chunkSizeFlg      int
		metricsBackendFlg string
		pushGatewayURLFlg string
		datadogAddrFlg    string
		validate          bool
	)

	flag.StringVar(&cfgPath, "config", "configs/load.json", "load config JSON path")
	flag.StringVar(&batchFlg, "batch", "", "comma-separated batch ids (overrides load.batch_ids)")
	flag.IntVar(&chunkSizeFlg, "chunk-size", 0, "rows per chunk (overrides load.chunk_size)")
	flag.StringVar(&metricsBackendFlg, "metrics-backend", "none", "metrics backend to use (pushgateway, datadog, none)")
	flag.StringVar(&pushGatewayURLFlg, "pushgateway-url", "", "Pushgateway base URL (overrides env PUSHGATEWAY_URL)")
	flag.StringVar(&datadogAddrFlg, "datadog-addr", "", "DogStatsD address (overrides env DOGSTATSD_ADDR)")
	flag.BoolVar(&validate, "validate", false, "validate the configuration and exit")
	verbose := flag.Bool("v", false, "enable verbose logs")

	flag.Parse()

	// Local .env files supply DSNs and metrics endpoints in development.
	_ = godotenv.Load()

	f, err := os.Open(cfgPath)
	if err != nil {
		fatalf("open config: %v", err)
	}
	defer f.Close()

	var cfg config.Config
	if err := json.NewDecoder(f).Decode(&cfg); err != nil {
		fatalf("decode config: %v", err)
	}

	issues := config.Validate(cfg)
	hasError := false
	for _, iss := range issues {
		fmt.Fprintf(os.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
		if iss.Severity == config.SeverityError {
			hasError = true
		}
	}
	if hasError {
		log.Printf("configuration is invalid: %v", cfgPath)
		os.Exit(1)
	}
	if validate {
		log.Printf("configuration is valid: %v", cfgPath)
		os.Exit(0)
	}

	initMetrics(cfg.Job, metricsBackendFlg, pushGatewayURLFlg, datadogAddrFlg, *verbose)
	defer func() {
		if err := metrics.Flush(); err != nil {
			log.Printf("metrics: flush error: %v", err)
		}
	}()

	batchIDs := cfg.Load.BatchIDs
	if batchFlg != "" {
		batchIDs = splitBatches(batchFlg)
	}
	if len(batchIDs) == 0 {
		fatalf("no batch ids: set load.batch_ids or pass -batch")
	}

	chunkSize := pickInt(chunkSizeFlg, pickInt(cfg.Load.ChunkSize, getenvInt("STAGELOAD_CHUNK_SIZE", defaultChunkSize)))
	workers := pickInt(cfg.Load.Workers, getenvInt("STAGELOAD_WORKERS", 1))

	ctx := context.Background()
	start := time.Now()

	store, err := storage.New(ctx, storage.Config{
		Kind:         cfg.Storage.Kind,
		DSN:          cfg.Storage.DB.DSN,
		EnsureSchema: cfg.Storage.DB.EnsureSchema,
	})
	if err != nil {
		fatalf("init storage: %v", err)
	}
	defer store.Close()

	if *verbose {
		log.Printf("load: storage=%s batches=%d chunk_size=%d workers=%d",
			cfg.Storage.Kind, len(batchIDs), chunkSize, workers)
	}

	// One worker per batch id; chunks within a batch stay sequential inside
	// LoadBatch. A fatal batch fails the run's exit code but does not stop
	// the other batches.
	var failures atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(workers)
	for _, batchID := range batchIDs {
		g.Go(func() error {
			orch := &loader.Orchestrator{
				Store:     store,
				ChunkSize: chunkSize,
				Job:       cfg.Job,
			}
			sum, err := orch.LoadBatch(ctx, batchID)
			if err != nil {
				failures.Add(1)
				log.Printf("batch %s aborted: read=%d committed=%d failed=%d err=%v",
					batchID, sum.RowsRead, sum.RowsCommitted, sum.RowsFailed, err)
				return nil
			}
			log.Printf("batch %s: read=%d committed=%d failed=%d chunks=%d",
				batchID, sum.RowsRead, sum.RowsCommitted, sum.RowsFailed, sum.Chunks)
			return nil
		})
	}
	_ = g.Wait()

	if *verbose {
		log.Printf("completed in %s", time.Since(start).Truncate(time.Millisecond))
	}
	if failures.Load() > 0 {
		os.Exit(1)
	}
}

// initMetrics installs the selected metrics backend: flag → env → default.
func initMetrics(job, backendName, gwURL, ddAddr string, verbose bool) {
	if backendName == "" {
		backendName = os.Getenv("METRICS_BACKEND")
	}
	if job == "" {
		job = "stageload"
	}

	switch backendName {
	case "pushgateway":
		if gwURL == "" {
			gwURL = os.Getenv("PUSHGATEWAY_URL")
		}
		if gwURL == "" {
			gwURL = "http://localhost:9091"
		}
		b, err := prompush.NewBackend(job, gwURL)
		if err != nil {
			log.Printf("metrics: failed to init prom push backend: %v; using nop", err)
			return
		}
		log.Printf("metrics: url=%v, backend=%v, job_name=%v", gwURL, backendName, job)
		metrics.SetBackend(b)

	case "datadog":
		if ddAddr == "" {
			ddAddr = os.Getenv("DOGSTATSD_ADDR")
		}
		if ddAddr == "" {
			ddAddr = "127.0.0.1:8125"
		}
		b, err := datadog.NewBackend(datadog.Config{Addr: ddAddr, Namespace: "stageload."})
		if err != nil {
			log.Printf("metrics: failed to init datadog backend: %v; using nop", err)
			return
		}
		log.Printf("metrics: addr=%v, backend=%v, job_name=%v", ddAddr, backendName, job)
		metrics.SetBackend(b)

	case "", "none":
		if verbose {
			log.Printf("metrics: disabled (backend=%q)", backendName)
		}

	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", backendName)
	}
}

func splitBatches(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// pickInt returns v when positive, otherwise the fallback.
func pickInt(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

// getenvInt reads an integer environment override (12-factor style).
func getenvInt(key string, def int) int {
	if s := os.Getenv(key); s != "" {
		var n int
		if _, err := fmt.Sscanf(s, "%d", &n); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
