// Command apexd is the orchestration kernel daemon: it drives the
// Supervisor loop (PLAN -> CONSTRUCT -> INVOKE -> MONITOR -> INTEGRATE)
// for one project, issues periodic checkpoints, and exposes Prometheus
// metrics, per spec §4. Grounded on the teacher's cmd/cliaimonitor
// entrypoint -- flag parsing, base-path resolution, and
// fmt.Fprintf(os.Stderr, ...)+os.Exit(1) error handling -- generalized
// from a multi-agent dashboard server into a single-project daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nibzard/apex/internal/briefgen"
	"github.com/nibzard/apex/internal/briefing"
	"github.com/nibzard/apex/internal/bus"
	"github.com/nibzard/apex/internal/config"
	"github.com/nibzard/apex/internal/dispatch"
	"github.com/nibzard/apex/internal/orchestrator"
	"github.com/nibzard/apex/internal/planner"
	"github.com/nibzard/apex/internal/procmgr"
	"github.com/nibzard/apex/internal/recovery"
	"github.com/nibzard/apex/internal/store"
	"github.com/nibzard/apex/internal/telemetry"
)

// availableUtilities scans dir for *.py files and returns their base
// names -- the script names the Utility Dispatcher's rule table
// matches against (archivist.py, test_runner.py, ...), per spec §4.J.
// A missing or unreadable directory just yields no registered
// utilities, so every task falls back to a worker rather than
// apexd refusing to start.
func availableUtilities(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var scripts []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".py") {
			continue
		}
		scripts = append(scripts, e.Name())
	}
	return scripts
}

func main() {
	configPath := flag.String("config", "configs/apex.yaml", "Orchestration kernel configuration file")
	projectID := flag.String("project", "", "Project id to run or resume")
	goal := flag.String("goal", "", "Goal text for a new session (ignored when resuming an existing project)")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus /metrics listen address")
	mcpConfigPath := flag.String("mcp-config", "", "Path to the MCP config file handed to worker subprocesses")
	flag.Parse()

	if *projectID == "" {
		fmt.Fprintln(os.Stderr, "apexd: -project is required")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "apexd: load config: %v\n", err)
		os.Exit(1)
	}

	log := telemetry.NewLogger("APEXD")

	st, err := store.Open(cfg.Store.Path, store.Options{MaxBytes: cfg.Store.MaxBytes})
	if err != nil {
		fmt.Fprintf(os.Stderr, "apexd: open store %s: %v\n", cfg.Store.Path, err)
		os.Exit(1)
	}
	defer st.Close()

	reg := prometheus.NewRegistry()
	met := telemetry.NewMetrics(reg)
	errs := telemetry.NewErrorLog(st)
	bs := briefing.NewStore(st)
	pl := planner.New(st, bs, time.Now)
	gen := briefgen.New(st)
	disp := dispatch.New(st, availableUtilities(cfg.Process.UtilityScriptsDir))
	mgr := procmgr.New(st, cfg.Process, log, met)
	// SpawnBreaker wraps the Manager with a per-kind circuit breaker so
	// a run of consecutive spawn failures fails fast, per breaker.go.
	procs := procmgr.NewSpawnBreaker(mgr)

	b, err := bus.Start(bus.Config{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "apexd: start event bus: %v\n", err)
		os.Exit(1)
	}
	defer b.Close()
	mgr.OnExit = func(rec procmgr.Record) {
		if perr := b.PublishProcessExited(rec); perr != nil {
			log.Printf("publish process-exited event: %v", perr)
		}
	}

	o := orchestrator.New(st, bs, pl, gen, procs, disp, errs, cfg.Orchestrator, cfg.Process, cfg.MCP,
		nil, *mcpConfigPath, cfg.Store.Path, log, met)

	if resumed, rerr := o.Resume(*projectID); rerr != nil {
		fmt.Fprintf(os.Stderr, "apexd: resume project %s: %v\n", *projectID, rerr)
		os.Exit(1)
	} else if !resumed {
		if *goal == "" {
			fmt.Fprintln(os.Stderr, "apexd: -goal is required when starting a new project")
			os.Exit(1)
		}
		if _, serr := o.NewSession(*projectID, *goal); serr != nil {
			fmt.Fprintf(os.Stderr, "apexd: start session: %v\n", serr)
			os.Exit(1)
		}
		log.Printf("started new session for project %s", *projectID)
	} else {
		log.Printf("resumed project %s", *projectID)
	}

	rec := recovery.New(st, errs, met, log, cfg.Recovery)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		o.Stop()
		cancel()
	}()

	go rec.RunPeriodic(ctx, o)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: *metricsAddr, Handler: mux}
	go func() {
		if serr := srv.ListenAndServe(); serr != nil && serr != http.ErrServerClosed {
			log.Printf("metrics server: %v", serr)
		}
	}()

	log.Printf("running orchestration loop for project %s", *projectID)
	for {
		select {
		case <-ctx.Done():
			_ = srv.Shutdown(context.Background())
			return
		default:
		}

		done, rerr := o.RunCycle()
		if rerr != nil {
			log.Printf("cycle error: %v", rerr)
			if rec.RecordCycleFailure() {
				report, aerr := rec.AutoRecover(o)
				if aerr != nil {
					log.Printf("auto-recovery failed: %v", aerr)
				} else {
					log.Printf("auto-recovery outcome: %s (checkpoint %s)", report.Outcome, report.CheckpointID)
				}
			}
			continue
		}
		rec.RecordCycleSuccess()
		if done {
			log.Printf("project %s reached a terminal state", *projectID)
			_ = srv.Shutdown(context.Background())
			return
		}
		time.Sleep(time.Second)
	}
}
