// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates the enact YAML configuration and
// turns it into device, problem and enactor options.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/frontier/services/enact/device"
	"github.com/AleutianAI/frontier/services/enact/enactor"
	"github.com/AleutianAI/frontier/services/enact/frontier"
	"github.com/AleutianAI/frontier/services/enact/partition"
	"github.com/AleutianAI/frontier/services/enact/policy"
	"github.com/AleutianAI/frontier/services/enact/primitives"
	"github.com/AleutianAI/frontier/services/enact/telemetry"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("capability", validateCapability)
}

// validateCapability accepts an empty string or "major.minor".
func validateCapability(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" {
		return true
	}
	_, err := device.ParseCapability(s)
	return err == nil
}

// DevicesConfig describes the simulated devices to open.
type DevicesConfig struct {
	// Count opens ordinals 0..Count-1 when Indices is empty.
	Count int `yaml:"count" validate:"gte=1,lte=64"`

	// Indices lists explicit device ordinals. Overrides Count.
	Indices []int `yaml:"indices,omitempty" validate:"unique,dive,gte=0"`

	MemoryBytes int64  `yaml:"memory_bytes" validate:"gte=0"`
	PinnedBytes int64  `yaml:"pinned_bytes" validate:"gte=0"`
	Workers     int    `yaml:"workers" validate:"gte=0"`
	Capability  string `yaml:"capability,omitempty" validate:"capability"`
	MaxGridSize int    `yaml:"max_grid_size" validate:"gte=0"`
	Debug       bool   `yaml:"debug"`
}

// PartitionConfig selects the multi-device partitioner.
type PartitionConfig struct {
	Method string  `yaml:"method" validate:"oneof=random biasrandom cluster"`
	Seed   uint64  `yaml:"seed"`
	Factor float64 `yaml:"factor" validate:"gte=0,lte=1"`
}

// QueueConfig sizes frontier queues and exchange inboxes.
type QueueConfig struct {
	SizingFactor      float64 `yaml:"sizing_factor" validate:"gt=0"`
	InboxSizingFactor float64 `yaml:"inbox_sizing_factor" validate:"gt=0"`
	Overflow          string  `yaml:"overflow" validate:"oneof=fail grow"`
}

// EnactorConfig controls the iteration loop.
type EnactorConfig struct {
	Signal        string `yaml:"signal" validate:"oneof=poll block"`
	Strategy      string `yaml:"strategy" validate:"oneof=thread lb auto"`
	GridLimit     int    `yaml:"grid_limit" validate:"gte=0"`
	Instrument    bool   `yaml:"instrument"`
	Dedup         bool   `yaml:"dedup"`
	MaxIterations int    `yaml:"max_iterations" validate:"gte=0"`
}

// StoreConfig locates the graph store.
type StoreConfig struct {
	Path     string `yaml:"path" validate:"required_without=InMemory"`
	InMemory bool   `yaml:"in_memory"`
}

// LogConfig controls the CLI logger.
type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `yaml:"json"`
	Dir   string `yaml:"dir,omitempty"`
}

// Config is the root configuration document.
type Config struct {
	Devices   DevicesConfig    `yaml:"devices"`
	Partition PartitionConfig  `yaml:"partition"`
	Queue     QueueConfig      `yaml:"queue"`
	Enactor   EnactorConfig    `yaml:"enactor"`
	Store     StoreConfig      `yaml:"store"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	Log       LogConfig        `yaml:"log"`

	// Timeout bounds a whole run. Zero means no limit.
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
}

// DefaultConfig returns a single-device configuration with the store
// under ~/.enact.
func DefaultConfig() Config {
	storePath := ".enact/store"
	if home, err := os.UserHomeDir(); err == nil {
		storePath = filepath.Join(home, ".enact", "store")
	}
	return Config{
		Devices:   DevicesConfig{Count: 1},
		Partition: PartitionConfig{Method: string(partition.Random), Factor: 0.5},
		Queue: QueueConfig{
			SizingFactor:      1.0,
			InboxSizingFactor: 1.0,
			Overflow:          string(frontier.OverflowFail),
		},
		Enactor: EnactorConfig{
			Signal:   string(enactor.SignalBlock),
			Strategy: string(policy.Adaptive),
		},
		Store:     StoreConfig{Path: storePath},
		Telemetry: telemetry.DefaultConfig(),
		Log:       LogConfig{Level: "info"},
	}
}

// Load reads path over DefaultConfig and validates the result. Fields
// missing from the file keep their defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Write stores cfg as YAML at path, creating parent directories.
func (c Config) Write(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

// Validate checks struct tags and returns one error per failed field.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) {
		return err
	}
	errs := make([]error, 0, len(fields))
	for _, f := range fields {
		errs = append(errs, fmt.Errorf("%s: failed %q (value %v)", f.Namespace(), f.Tag(), f.Value()))
	}
	return errors.Join(errs...)
}

// Ordinals returns the device ordinals to open.
func (c Config) Ordinals() []int {
	if len(c.Devices.Indices) > 0 {
		return c.Devices.Indices
	}
	out := make([]int, c.Devices.Count)
	for i := range out {
		out[i] = i
	}
	return out
}

// OpenDevices opens every configured device. The returned func closes
// them; on error nothing is left open.
func (c Config) OpenDevices(logger *slog.Logger) ([]*device.Device, func(), error) {
	var capability device.Capability
	if c.Devices.Capability != "" {
		var err error
		if capability, err = device.ParseCapability(c.Devices.Capability); err != nil {
			return nil, nil, err
		}
	}
	var devs []*device.Device
	closeAll := func() {
		for _, d := range devs {
			d.Close()
		}
	}
	for _, ord := range c.Ordinals() {
		d, err := device.Open(device.Config{
			Ordinal:     ord,
			MemoryBytes: c.Devices.MemoryBytes,
			PinnedBytes: c.Devices.PinnedBytes,
			SMCount:     c.Devices.Workers,
			MaxGridSize: c.Devices.MaxGridSize,
			Capability:  capability,
			Debug:       c.Devices.Debug,
			Logger:      logger,
		})
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("open device %d: %w", ord, err)
		}
		devs = append(devs, d)
	}
	return devs, closeAll, nil
}

// PrimitiveOptions builds algorithm options over devs.
func (c Config) PrimitiveOptions(devs []*device.Device, logger *slog.Logger) primitives.Options {
	return primitives.Options{
		Devices: devs,
		Partition: partition.Options{
			Method: partition.Method(c.Partition.Method),
			Seed:   c.Partition.Seed,
			Factor: c.Partition.Factor,
		},
		QueueSizingFactor: c.Queue.SizingFactor,
		Enactor: enactor.Options{
			Signal:            enactor.SignalKind(c.Enactor.Signal),
			Overflow:          frontier.OverflowPolicy(c.Queue.Overflow),
			Strategy:          policy.Strategy(c.Enactor.Strategy),
			GridLimit:         c.Enactor.GridLimit,
			Instrument:        c.Enactor.Instrument,
			Dedup:             c.Enactor.Dedup,
			InboxSizingFactor: c.Queue.InboxSizingFactor,
			MaxIterations:     c.Enactor.MaxIterations,
			Logger:            logger,
		},
		Logger: logger,
	}
}
