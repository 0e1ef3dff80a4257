// Copyright 2026 The lowmemd Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"

	"github.com/lowmemd/lowmemd/pkg/config"
	"github.com/lowmemd/lowmemd/pkg/diag"
	"github.com/lowmemd/lowmemd/pkg/governor"
	"github.com/lowmemd/lowmemd/pkg/metrics"
	"github.com/lowmemd/lowmemd/pkg/proc"
	"github.com/lowmemd/lowmemd/pkg/util/logutil"
)

const version = "0.1.0"

// normalTier is the zone tier an unconstrained allocation prefers.
const normalTier = 2

func main() {
	pflag.Usage = func() {
		fmt.Fprint(os.Stderr, "lowmemd is a memory-pressure-driven process-termination governor\n\nUsage:\n  lowmemd [flags]\n\nFlags:\n")
		pflag.PrintDefaults()
	}
	printVersion := pflag.BoolP("version", "V", false, "print lowmemd version")
	configPath := pflag.StringP("config", "c", "", "path to the toml config file")
	logLevel := pflag.StringP("log-level", "L", "", "log level override: debug, info, warn, error")
	pflag.Parse()

	if *printVersion {
		fmt.Println("lowmemd", version)
		return
	}

	cfg := config.NewConfig()
	if *configPath != "" {
		if err := cfg.Load(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "load config failed: %s\n", err.Error())
			os.Exit(1)
		}
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if err := cfg.Valid(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %s\n", err.Error())
		os.Exit(1)
	}
	config.StoreGlobalConfig(cfg)

	if err := logutil.InitLogger(logutil.NewLogConfig(
		cfg.Log.Level, cfg.Log.Format, cfg.Log.File, cfg.Log.DisableTimestamp)); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %s\n", err.Error())
		os.Exit(1)
	}
	logger := logutil.BgLogger()
	if _, err := maxprocs.Set(maxprocs.Logger(logger.Sugar().Infof)); err != nil {
		logger.Warn("set maxprocs failed", zap.Error(err))
	}

	if err := run(cfg, *configPath, logger); err != nil {
		logger.Error("lowmemd exited with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("lowmemd exited")
}

func run(cfg *config.Config, configPath string, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	policy, err := cfg.GovernorPolicy()
	if err != nil {
		return err
	}
	warnOversizedTable(policy, logger)

	host, err := proc.NewHost(cfg.ProcRoot)
	if err != nil {
		return err
	}

	var dispatcher diag.Dispatcher
	if cfg.HelperPath != "" {
		hd := diag.NewHelperDispatcher(cfg.HelperPath, 4)
		go hd.Run(ctx)
		dispatcher = hd
	}

	engine := governor.NewEngine(policy, host, host, dispatcher)

	metrics.RegisterMetrics(nil)
	if cfg.Status.ReportStatus {
		go serveStatus(ctx, cfg, logger)
	}

	go engine.RunTelemetry(ctx)

	pressureInterval, err := cfg.PressureInterval()
	if err != nil {
		return err
	}
	watcher := proc.NewPressureWatcher(cfg.ProcRoot+"/pressure/memory", pressureInterval, engine.OnPressureEvent)
	go watcher.Run(ctx)

	triggerInterval, err := cfg.TriggerInterval()
	if err != nil {
		return err
	}
	logger.Info("lowmemd started",
		zap.String("procRoot", cfg.ProcRoot),
		zap.Duration("triggerInterval", triggerInterval),
		zap.Bool("adaptive", policy.EnableAdaptive))

	// The reclaim trigger: lowmemd plays the dedicated background reclaimer,
	// so every tick runs one decision cycle against the preferred tier.
	ac := governor.AllocContext{
		HighestTier:       normalTier,
		BackgroundReclaim: true,
	}
	reclaimCtx := logutil.WithFields(ctx, zap.String("trigger", "ticker"))
	ticker := time.NewTicker(triggerInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			engine.Reclaim(reclaimCtx, ac)
		case <-hup:
			if configPath == "" {
				logger.Warn("SIGHUP received but no config file to reload")
				continue
			}
			if err := reloadConfig(configPath, engine); err != nil {
				logger.Error("config reload failed, keeping current config",
					zap.String("path", configPath), zap.Error(err))
				continue
			}
			logger.Info("config reloaded", zap.String("path", configPath))
		case <-ctx.Done():
			return nil
		}
	}
}

// reloadConfig re-reads the config file and swaps the policy into the running
// engine. The swap only happens after the whole file validates, so a bad edit
// never replaces a working policy.
func reloadConfig(path string, engine *governor.Engine) error {
	cfg := config.NewConfig()
	if err := cfg.Load(path); err != nil {
		return err
	}
	if err := cfg.Valid(); err != nil {
		return err
	}
	policy, err := cfg.GovernorPolicy()
	if err != nil {
		return err
	}
	if err := logutil.SetLevel(cfg.Log.Level); err != nil {
		return err
	}
	config.StoreGlobalConfig(cfg)
	engine.SetPolicy(policy)
	return nil
}

// warnOversizedTable flags threshold cutoffs that exceed physical memory;
// such a table would resolve on every invocation.
func warnOversizedTable(policy *governor.Policy, logger *zap.Logger) {
	totalKB, err := proc.TotalMemoryKB()
	if err != nil {
		logger.Warn("cannot read total memory", zap.Error(err))
		return
	}
	if last := policy.Table.LastMinFreeKB(); last > totalKB {
		logger.Warn("threshold cutoff exceeds total memory",
			zap.Int64("cutoffKB", last), zap.Int64("totalKB", totalKB))
	}
}

func serveStatus(ctx context.Context, cfg *config.Config, logger *zap.Logger) {
	addr := net.JoinHostPort(cfg.Status.StatusHost, strconv.Itoa(cfg.Status.StatusPort))
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/config", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "\t")
		if err := encoder.Encode(config.GetGlobalConfig()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("status server shutdown failed", zap.Error(err))
		}
	}()
	logger.Info("status server listening", zap.String("addr", addr))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Warn("status server failed", zap.Error(err))
	}
}
