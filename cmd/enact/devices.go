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
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/frontier/pkg/ux"
	"github.com/AleutianAI/frontier/services/enact/config"
	"github.com/AleutianAI/frontier/services/enact/device"
	"github.com/AleutianAI/frontier/services/enact/policy"
)

// deviceInfo pairs a device's properties with the policy it would run.
type deviceInfo struct {
	device.Properties
	Policy    string `json:"policy,omitempty"`
	Supported bool   `json:"supported"`
}

func kernelCell(k policy.Kernel) string {
	return fmt.Sprintf("%dx%d", k.BlockSize, k.Occupancy)
}

func newDevicesCmd(a *app) *cobra.Command {
	var showPolicies bool
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "Show configured devices and their kernel policies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if showPolicies {
				return a.printPolicies()
			}
			devs, release, err := a.cfg.OpenDevices(a.log())
			if err != nil {
				return err
			}
			defer release()

			infos := make([]deviceInfo, 0, len(devs))
			for _, d := range devs {
				info := deviceInfo{Properties: d.Properties()}
				if p, err := policy.Select(info.Capability); err == nil {
					info.Policy = p.String()
					info.Supported = true
				}
				infos = append(infos, info)
			}
			if a.printer.Mode() == ux.ModeJSON {
				return a.printer.JSON(infos)
			}
			t := ux.Table{Headers: []string{"ordinal", "name", "capability", "workers", "max grid", "memory", "policy"}}
			for _, i := range infos {
				pol := i.Policy
				if !i.Supported {
					pol = "unsupported"
				}
				t.Rows = append(t.Rows, []string{
					strconv.Itoa(i.Ordinal),
					i.Name,
					i.Capability.String(),
					strconv.Itoa(i.SMCount),
					strconv.Itoa(i.MaxGridSize),
					fmt.Sprintf("%d MiB", i.MemoryBytes>>20),
					pol,
				})
			}
			fmt.Fprintln(a.out, a.printer.RenderTable(t))
			return nil
		},
	}
	cmd.Flags().BoolVar(&showPolicies, "policies", false, "list the kernel policy table instead")
	return cmd
}

func (a *app) printPolicies() error {
	entries := policy.Entries()
	if a.printer.Mode() == ux.ModeJSON {
		return a.printer.JSON(entries)
	}
	t := ux.Table{
		Title:   "block size x occupancy",
		Headers: []string{"min capability", "advance", "filter", "scan"},
	}
	for _, p := range entries {
		t.Rows = append(t.Rows, []string{
			p.Capability.String(),
			kernelCell(p.Advance),
			kernelCell(p.Filter),
			kernelCell(p.Scan),
		})
	}
	fmt.Fprintln(a.out, a.printer.RenderTable(t))
	return nil
}

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the configuration file",
	}
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			data, err := yaml.Marshal(a.cfg)
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			_, err = a.out.Write(data)
			return err
		},
	}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			path := defaultConfigPath()
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				return fmt.Errorf("no home directory; give a path")
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s exists; use --force to overwrite", path)
			}
			if err := config.DefaultConfig().Write(path); err != nil {
				return err
			}
			a.printer.Success("wrote %s", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cmd.AddCommand(show, initCmd)
	return cmd
}
