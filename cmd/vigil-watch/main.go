/*************************************************************************
 * Copyright 2026 TITAN Softwork Solutions. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Command vigil-watch is the monitor's entrypoint: it loads configuration,
// wires the engine to its collaborators, starts kernel event tracing, and
// runs until a shutdown signal arrives (SPEC_FULL.md §9).
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/titan-softwork/vigil-go/internal/alert"
	"github.com/titan-softwork/vigil-go/internal/config"
	"github.com/titan-softwork/vigil-go/internal/engine"
	"github.com/titan-softwork/vigil-go/internal/etwsrc"
	"github.com/titan-softwork/vigil-go/internal/handles"
	"github.com/titan-softwork/vigil-go/internal/notify"
	"github.com/titan-softwork/vigil-go/internal/procimage"
	"github.com/titan-softwork/vigil-go/internal/trust"
	"github.com/titan-softwork/vigil-go/internal/vlog"
	"github.com/titan-softwork/vigil-go/utils"
	"github.com/titan-softwork/vigil-go/version"
)

var (
	configPath = flag.String("config", "config.ini", "Path to the monitor's INI configuration file")
	verbose    = flag.Bool("verbose", false, "Print every dispatched alert to stdout")
	ver        = flag.Bool("version", false, "Print version information and exit")
)

func init() {
	flag.StringVar(configPath, "c", "config.ini", "Shorthand for -config")
	flag.BoolVar(verbose, "v", false, "Shorthand for -verbose")
}

func main() {
	flag.Parse()
	if *ver {
		version.PrintVersion(os.Stdout)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	logDir := logDirFor(cfg, *configPath)
	if err := os.MkdirAll(logDir, 0750); err != nil {
		fmt.Fprintln(os.Stderr, "failed to create log directory:", err)
		os.Exit(1)
	}

	logger, err := vlog.NewFile(filepath.Join(logDir, "vigil-watch.log"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to open operational log:", err)
		os.Exit(1)
	}
	defer logger.Close()
	vlog.PrintOSInfo(logger)

	sink, err := alert.Open(logDir, cfg.JSONL, cfg.LogMaxMB, logger)
	if err != nil {
		logger.Error("failed to open alert sink", vlog.KVErr(err))
		os.Exit(1)
	}
	defer sink.Close()

	desktop := notify.New()
	sink.SetObserver(func(a alert.Alert) {
		if cfg.Toast {
			desktop.Notify(a)
		}
		if *verbose {
			fmt.Println(a.HumanLine())
		}
	})

	images := procimage.New()
	runID := uuid.NewString()
	eng := engine.New(cfg, runID, engine.Deps{
		Trust:   trust.New(),
		Images:  images,
		Procs:   images,
		Handles: handles.New(),
		Sink:    sink,
	})

	if err := eng.PreflightTrustedHandles(); err != nil {
		logger.Error("failed to enumerate processes for trusted-handle preflight", vlog.KVErr(err))
		os.Exit(1)
	}

	if !cfg.Quiet || *verbose {
		logger.Info("vigil-watch starting",
			vlog.KV("run_id", runID),
			vlog.KV("config", *configPath),
			vlog.KV("rules", len(cfg.Rules)),
		)
	}

	var reloader *config.Reloader
	if cfg.Reload {
		reloader, err = config.NewReloader(*configPath,
			func(next *config.Config) {
				eng.ReloadRules(next)
				logger.Info("config reloaded", vlog.KV("rules", len(next.Rules)))
			},
			func(rerr error) {
				logger.Warn("config reload failed, keeping previous rules", vlog.KVErr(rerr))
			},
		)
		if err != nil {
			logger.Warn("failed to start config watcher, hot reload disabled", vlog.KVErr(err))
		} else {
			defer reloader.Close()
		}
	}

	session, err := etwsrc.Start(eng)
	if err != nil {
		logger.Error("failed to start kernel event tracing", vlog.KVErr(err))
		os.Exit(1)
	}
	defer session.Close()

	if !cfg.Quiet || *verbose {
		logger.Info("vigil-watch running")
	}

	sig := <-utils.GetQuitChannel()
	logger.Info("shutting down", vlog.KV("signal", sig.String()))
}

// logDirFor resolves where the alert and operational logs live. cfg.LogFile,
// when set, names that directory directly; otherwise logs live next to the
// config file, mirroring paths.rs::log_dir's "beside the binary" default.
func logDirFor(cfg *config.Config, configPath string) string {
	if cfg.LogFile != "" {
		return cfg.LogFile
	}
	if dir := filepath.Dir(configPath); dir != "" {
		return dir
	}
	return "."
}
