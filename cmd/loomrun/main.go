// Command loomrun is the embeddable runtime's CLI entry point: load
// config, size the process to its container, start the scheduler over
// a loaded module, serve Prometheus metrics, and shut down cleanly on
// signal.
//
// Grounded on barn/cmd/barn/main.go's flag-then-config-then-start
// shape; the inspection subcommands that file carries (-verb-code,
// -obj-info, -eval, ...) exist only to poke at a loaded MOO database
// and have no counterpart here — see DESIGN.md's "Dropped / adapted
// teacher modules".
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/KimMachineGun/automemlimit/memlimit"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"

	"github.com/loomlang/loom/bytecode"
	"github.com/loomlang/loom/runtime"
	"github.com/loomlang/loom/telemetry"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML runtime config file (optional)")
	workers := flag.Int("workers", 0, "Override the configured worker count (0 = use config/default)")
	metricsAddr := flag.String("metrics-addr", ":9090", "Listen address for the /metrics endpoint (empty disables it)")
	development := flag.Bool("log-development", false, "Use zap's human-readable console log encoder instead of JSON")
	flag.Parse()

	cfg := runtime.Default()
	if *configPath != "" {
		loaded, err := runtime.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "loomrun: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *workers > 0 {
		cfg.Workers = *workers
	}
	if *development {
		cfg.LogDevelopment = true
	}

	if err := telemetry.Init(cfg.LogDevelopment, cfg.ZapLevel()); err != nil {
		fmt.Fprintf(os.Stderr, "loomrun: %v\n", err)
		os.Exit(1)
	}
	defer telemetry.Sync()
	log := telemetry.L()

	// Respect a container's CPU quota (GOMAXPROCS) and cgroup memory
	// limit (GOMEMLIMIT) rather than the host's full capacity (§10.5).
	if _, err := maxprocs.Set(maxprocs.Logger(log.Sugar().Infof)); err != nil {
		log.Warn("maxprocs: could not adjust GOMAXPROCS", zap.Error(err))
	}
	if cfg.GCThresholdBytes == 0 {
		if _, err := memlimit.SetGoMemLimitWithOpts(memlimit.WithRatio(0.9)); err != nil {
			log.Debug("automemlimit: no cgroup memory limit detected", zap.Error(err))
		}
	}

	module := demoModule()
	rt := runtime.New(cfg, module, nil)

	if *metricsAddr != "" && rt.Metrics != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(rt.Metrics, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: *metricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server exited", zap.Error(err))
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
		log.Info("metrics listening", zap.String("addr", *metricsAddr))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt.Start(ctx)
	taskID := rt.Spawn(0, nil)
	log.Info("spawned entry task", zap.Int64("task_id", int64(taskID)))

	if err := rt.Wait(); err != nil && err != context.Canceled {
		log.Error("runtime exited with error", zap.Error(err))
		os.Exit(1)
	}
}

// demoModule builds a single-function module (return 1 + 1) so loomrun
// has something to schedule out of the box; a real deployment replaces
// this with a module produced by a separate compiler, which is outside
// this runtime's scope (spec §1).
func demoModule() *bytecode.Module {
	code := bytecode.NewBuilder().PushI32(1).PushI32(1).AddI().Return().Build()
	return &bytecode.Module{
		Functions: []bytecode.Function{
			{Name: "main", ParamCount: 0, MinArgCount: 0, LocalCount: 0, Code: code},
		},
	}
}
