// ieubench drives a worker pool with an uneven workload and reports its
// throughput.
//
// Startup sequence:
//  1. Load .env (optional), then the JSON/YAML config file or defaults.
//  2. Resolve the worker count: -threads flag, config file, IEU_NUM_THREADS,
//     RAYON_NUM_THREADS, then detected CPUs.
//  3. Initialise logger, metrics and the Prometheus registry.
//  4. Start the pool and, if configured, the dashboard server.
//  5. Run the requested rounds and verify every index was processed.
//  6. If the dashboard is running, block until SIGINT or SIGTERM.
//  7. Stop the pool.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/mrvillage/ieu/config"
	"github.com/mrvillage/ieu/dashboard"
	"github.com/mrvillage/ieu/logger"
	"github.com/mrvillage/ieu/metrics"
	"github.com/mrvillage/ieu/worker"
)

func main() {
	// ── Flags ──────────────────────────────────────────────────────────────
	configFile := flag.String("config", "", "Path to JSON or YAML config file (optional; uses defaults if omitted)")
	envFile := flag.String("env", ".env", "Path to a dotenv file loaded before resolving the environment")
	items := flag.Int("n", 1_000_000, "Number of indices per round")
	rounds := flag.Int("rounds", 10, "Number of rounds to run")
	threads := flag.Int("threads", -1, "Worker count (overrides config and environment when >= 0)")
	chunk := flag.Int("chunk", 0, "Indices per claim (overrides config when > 0)")
	dashboardAddr := flag.String("dashboard", "", "Dashboard listen address, e.g. :9100 (overrides config)")
	logLevel := flag.String("log-level", "", "debug, info, warn, error or off (overrides config)")
	flag.Parse()

	log := logger.New(logger.LevelInfo)

	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		log.Warnf("could not load %q: %v", *envFile, err)
	}

	// ── Configuration ──────────────────────────────────────────────────────
	var cfg *config.Config
	if *configFile != "" {
		var err error
		cfg, err = config.LoadConfig(*configFile)
		if err != nil {
			log.Errorf("failed to load config: %v", err)
			os.Exit(1)
		}
		log.Infof("configuration loaded from %q", *configFile)
	} else {
		cfg = config.DefaultConfig()
	}
	if *threads >= 0 {
		cfg.NumThreads = threads
	}
	if *chunk > 0 {
		cfg.ChunkSize = *chunk
	}
	if *dashboardAddr != "" {
		cfg.DashboardAddr = *dashboardAddr
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		log.Errorf("invalid configuration: %v", err)
		os.Exit(1)
	}
	if *items < 0 || *rounds < 0 {
		log.Error("-n and -rounds must be non-negative")
		os.Exit(1)
	}
	log.SetLevel(cfg.Level())

	// ── Pool and metrics ───────────────────────────────────────────────────
	m := metrics.NewMetrics()
	wp := worker.NewWorkerPool(cfg.WorkerCount(),
		worker.WithName("ieubench"),
		worker.WithLogger(log),
		worker.WithMetrics(m),
	)
	log.Infof("worker pool %q started with %d workers", wp.Name(), wp.NumWorkers())
	if wp.NumWorkers() == 0 {
		log.Warn("pool has zero workers; rounds will complete without doing any work")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		metrics.NewCollector(cfg.MetricsNamespace, wp.Name(), wp.NumWorkers(), m),
		collectors.NewGoCollector(),
	)

	var dash *dashboard.Server
	if cfg.DashboardAddr != "" {
		dash = dashboard.New(m, reg, dashboard.PoolInfo{Name: wp.Name(), Workers: wp.NumWorkers()}, log)
		go func() {
			if err := dash.ListenAndServe(cfg.DashboardAddr); err != nil {
				log.Errorf("dashboard server error: %v", err)
			}
		}()
	}

	// ── Workload ───────────────────────────────────────────────────────────
	results := make([]uint32, *items)
	start := time.Now()
	for r := 0; r < *rounds; r++ {
		roundStart := time.Now()
		wp.ExecuteChunked(len(results), cfg.ChunkSize, func(lo, hi int) {
			for i := lo; i < hi; i++ {
				results[i] = collatzSteps(uint64(i) + 1)
			}
		})
		if missing := verify(results); missing >= 0 && wp.NumWorkers() > 0 {
			log.Errorf("round %d: index %d was not processed", r, missing)
			os.Exit(1)
		}
		log.Debugf("round %d: %d items in %v", r, len(results), time.Since(roundStart))
		clear(results)
	}
	elapsed := time.Since(start)

	s := m.Snapshot()
	log.Infof("done – rounds: %d | items: %d | panics: %d | elapsed: %v | items/s: %.0f",
		s.Rounds, s.Items, s.Panics, elapsed, float64(s.Items)/max(elapsed.Seconds(), 1e-9))

	// ── Graceful shutdown ──────────────────────────────────────────────────
	if dash != nil {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		log.Infof("dashboard on %s; press Ctrl-C to exit", cfg.DashboardAddr)
		sig := <-sigCh
		fmt.Println()
		log.Infof("received signal %s; shutting down", sig)
		dash.Close()
	}

	wp.Stop()
	log.Info("ieubench shut down cleanly")
}

// collatzSteps returns how many Collatz steps n takes to reach 1.  The cost
// varies wildly between neighbouring indices, which is what makes dynamic
// claiming worthwhile.
func collatzSteps(n uint64) uint32 {
	var steps uint32
	for n != 1 {
		if n%2 == 0 {
			n /= 2
		} else {
			n = 3*n + 1
		}
		steps++
	}
	return steps
}

// verify returns the first index that was left untouched, or -1.  Only index
// 0 (n=1) legitimately has zero steps.
func verify(results []uint32) int {
	for i := 1; i < len(results); i++ {
		if results[i] == 0 {
			return i
		}
	}
	return -1
}
