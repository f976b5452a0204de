// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/frontier/pkg/logging"
	"github.com/AleutianAI/frontier/pkg/ux"
	"github.com/AleutianAI/frontier/services/enact/config"
	"github.com/AleutianAI/frontier/services/enact/store"
)

// app is the state shared by every subcommand of one invocation.
type app struct {
	out    io.Writer
	errOut io.Writer

	// Flag values, applied over the loaded configuration.
	configPath string
	logLevel   string
	logJSON    bool
	outputMode string
	storePath  string

	cfg     config.Config
	logger  *logging.Logger
	printer *ux.Printer
	store   *store.Store
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".enact", "config.yaml")
}

// execute runs one invocation with args and releases everything it
// opened, whether or not the command failed.
func execute(ctx context.Context, out, errOut io.Writer, args []string) error {
	root, a := newRootCmd(out, errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return errors.Join(err, a.teardown())
}

func newRootCmd(out, errOut io.Writer) (*cobra.Command, *app) {
	a := &app{out: out, errOut: errOut}

	root := &cobra.Command{
		Use:           "enact",
		Short:         "Run frontier graph primitives on simulated devices",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "config file (default ~/.enact/config.yaml when present)")
	pf.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.BoolVar(&a.logJSON, "log-json", false, "write logs as JSON")
	pf.StringVarP(&a.outputMode, "output", "o", "", "output mode: rich, plain, json (default auto)")
	pf.StringVar(&a.storePath, "store", "", "graph store directory")

	root.AddCommand(
		newRunCmd(a),
		newBenchCmd(a),
		newImportCmd(a),
		newGraphsCmd(a),
		newDevicesCmd(a),
		newConfigCmd(a),
	)
	return root, a
}

// setup loads configuration, applies flags and builds the logger and
// printer.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := a.loadConfig(cmd)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if cmd.Flags().Changed("log-json") {
		cfg.Log.JSON = a.logJSON
	}
	if a.storePath != "" {
		cfg.Store = config.StoreConfig{Path: a.storePath}
	}
	cfg.Telemetry.Output = a.errOut
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	a.cfg = cfg

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	a.logger = logging.New(logging.Config{
		Level:  level,
		LogDir: cfg.Log.Dir,
		JSON:   cfg.Log.JSON,
		Output: a.errOut,
	})

	mode, err := ux.ParseMode(a.outputMode)
	if err != nil {
		return err
	}
	if mode == "" {
		mode = ux.ModeJSON
		if f, ok := a.out.(*os.File); ok {
			mode = ux.DetectMode(f)
		}
	}
	a.printer = ux.NewPrinter(a.out, mode)
	return nil
}

func (a *app) loadConfig(cmd *cobra.Command) (config.Config, error) {
	if cmd.Flags().Changed("config") {
		return config.Load(a.configPath)
	}
	path := defaultConfigPath()
	if path == "" {
		return config.DefaultConfig(), nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return config.DefaultConfig(), nil
	}
	return config.Load(path)
}

func (a *app) teardown() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
		a.store = nil
	}
	if a.logger != nil {
		errs = append(errs, a.logger.Close())
		a.logger = nil
	}
	return errors.Join(errs...)
}

func (a *app) log() *slog.Logger { return a.logger.Slog() }

// openStore opens the configured store once per invocation.
func (a *app) openStore() (*store.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	scfg := store.DefaultConfig(a.cfg.Store.Path)
	if a.cfg.Store.InMemory {
		scfg = store.InMemoryConfig()
	}
	scfg.Logger = a.log().With(slog.String("component", "store"))
	s, err := store.Open(scfg)
	if err != nil {
		return nil, err
	}
	a.store = s
	return s, nil
}
