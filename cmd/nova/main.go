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

// Package main implements the nova CLI for inspecting and maintaining a
// Nova workspace.
//
// Usage:
//
//	nova status [--json]        Show workspace and cache status
//	nova gc [--dry-run]         Reclaim disk space from old project caches
//	nova cache <pack|install|verify>
//	nova watch                  Watch the workspace and reindex on change
package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/novaide/nova/internal/ui"
)

// Version information (set via ldflags during build)
var (
	version = "dev"     // Version string
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// GlobalFlags holds the global CLI flags that apply to all commands.
type GlobalFlags struct {
	JSON    bool // Output in JSON format (for applicable commands)
	NoColor bool // Disable color output
	Verbose int  // Verbosity level: 0=normal, 1=-v (info), 2=-vv (debug)
	Quiet   bool // Suppress non-essential output (progress, info messages)
}

func main() {
	var (
		showVersion = flag.BoolP("version", "V", false, "Show version and exit")
		configPath  = flag.StringP("config", "c", "", "Path to .nova/config.yaml (default: discovered upward from cwd)")
		jsonOutput  = flag.Bool("json", false, "Output in JSON format (for applicable commands)")
		noColor     = flag.Bool("no-color", false, "Disable color output")
		verbose     = flag.CountP("verbose", "v", "Increase verbosity (-v for info, -vv for debug)")
		quiet       = flag.BoolP("quiet", "q", false, "Suppress non-essential output (progress, info messages)")
	)

	// Stop parsing at the first non-flag argument (the command name) so
	// subcommand-specific flags like "gc --dry-run" reach the subcommand
	// handlers instead of being rejected by the global parser.
	flag.SetInterspersed(false)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `Nova - incremental analysis for Java workspaces

Usage:
  nova <command> [options]

Commands:
  status        Show workspace configuration and project cache status
  gc            Reclaim disk space from old project caches
  cache         Pack, install, or verify cache package archives
  watch         Watch the workspace and reindex on change
  config        Show or initialize the workspace configuration

Global Options:
  --json            Output in JSON format (for applicable commands)
  --no-color        Disable color output (respects NO_COLOR env var)
  -v, --verbose     Increase verbosity (-v for info, -vv for debug)
  -q, --quiet       Suppress non-essential output (progress, info messages)
  -c, --config      Path to .nova/config.yaml
  -V, --version     Show version and exit

Examples:
  nova status                        Show workspace status
  nova status --json                 Output as JSON
  nova gc --dry-run                  Preview which caches GC would delete
  nova cache pack --full DIR out.tar.zst  Pack a project cache directory
  nova watch                         Watch sources and reindex on change

Data Storage:
  Project caches live under the global cache root
  (default: ~/.nova/cache, override with NOVA_CACHE_DIR)

For detailed command help: nova <command> --help

`)
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("nova version %s\n", version)
		fmt.Printf("commit: %s\n", commit)
		fmt.Printf("built: %s\n", date)
		os.Exit(0)
	}

	if os.Getenv("NO_COLOR") != "" {
		*noColor = true
	}

	if *quiet && *verbose > 0 {
		fmt.Fprintf(os.Stderr, "Error: cannot use --quiet and --verbose together\n")
		os.Exit(1)
	}

	// JSON mode auto-enables quiet to prevent progress bars corrupting
	// JSON output.
	if *jsonOutput {
		*quiet = true
	}

	globals := GlobalFlags{
		JSON:    *jsonOutput,
		NoColor: *noColor,
		Verbose: *verbose,
		Quiet:   *quiet,
	}

	ui.InitColors(globals.NoColor)

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "status":
		runStatus(cmdArgs, *configPath, globals)
	case "gc":
		runGC(cmdArgs, *configPath, globals)
	case "cache":
		runCache(cmdArgs, *configPath, globals)
	case "watch":
		runWatch(cmdArgs, *configPath, globals)
	case "config":
		runConfig(cmdArgs, *configPath, globals)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(1)
	}
}
