// Copyright 2025 Nova Authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"encoding/json"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/novaide/nova/internal/errors"
	"github.com/novaide/nova/internal/ui"
	"github.com/novaide/nova/pkg/config"
)

// runConfig executes the 'config' CLI command: show the effective
// configuration, or create a fresh one with --init.
func runConfig(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	initialize := fs.Bool("init", false, "Write a default .nova/config.yaml in the current directory")
	force := fs.Bool("force", false, "Overwrite an existing configuration with --init")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: nova config [options]

Description:
  Without options, print the effective configuration (file values plus
  environment overrides). With --init, write a default configuration
  to .nova/config.yaml in the current directory.

Options:
`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if *initialize {
		runConfigInit(*force, globals)
		return
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		errors.FatalError(err, globals.JSON)
	}

	if globals.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(cfg)
		return
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		errors.FatalError(errors.NewInternalError(
			"Cannot encode configuration",
			"YAML marshaling failed unexpectedly",
			"This is a bug. Please report it with your configuration details",
			err,
		), globals.JSON)
	}
	os.Stdout.Write(data)
}

func runConfigInit(force bool, globals GlobalFlags) {
	cwd, err := os.Getwd()
	if err != nil {
		errors.FatalError(errors.NewInternalError(
			"Cannot access working directory",
			"Failed to determine current directory path",
			"Check system permissions and try again",
			err,
		), globals.JSON)
	}

	path := config.ConfigPath(cwd)
	if _, err := os.Stat(path); err == nil && !force {
		errors.FatalError(errors.NewConfigError(
			"Configuration already exists",
			fmt.Sprintf("%s already exists", path),
			"Pass --force to overwrite it",
			nil,
		), globals.JSON)
	}

	if err := config.SaveConfig(config.DefaultConfig(), path); err != nil {
		errors.FatalError(err, globals.JSON)
	}
	if !globals.Quiet {
		_, _ = ui.Success.Printf("Wrote %s\n", path)
	}
}
