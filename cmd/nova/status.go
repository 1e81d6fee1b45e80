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
	"time"

	flag "github.com/spf13/pflag"

	"github.com/novaide/nova/internal/errors"
	"github.com/novaide/nova/internal/ui"
	"github.com/novaide/nova/pkg/cachegc"
	"github.com/novaide/nova/pkg/config"
)

// StatusResult represents the workspace status for JSON output.
type StatusResult struct {
	CacheRoot       string            `json:"cache_root"`
	SourceRoots     []string          `json:"source_roots"`
	ProjectCaches   int               `json:"project_caches"`
	TotalCacheBytes uint64            `json:"total_cache_bytes"`
	Caches          []ProjectCacheRow `json:"caches,omitempty"`
	Timestamp       time.Time         `json:"timestamp"`
}

// ProjectCacheRow is one project cache directory in the status listing.
type ProjectCacheRow struct {
	Name              string `json:"name"`
	SizeBytes         uint64 `json:"size_bytes"`
	LastUpdatedMillis int64  `json:"last_updated_millis"`
	NovaVersion       string `json:"nova_version,omitempty"`
	SchemaVersion     uint32 `json:"schema_version,omitempty"`
}

// runStatus executes the 'status' CLI command: it shows the effective
// configuration and enumerates the on-disk project caches.
func runStatus(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: nova status [options]

Description:
  Display the workspace configuration and the state of the global
  project cache directory: how many project caches exist, their sizes,
  and when each was last updated.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # Show human-readable status
  nova status

  # Output as JSON for programmatic use
  nova status --json

  # Extract the total cache size
  nova status --json | jq '.total_cache_bytes'

`)
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		// A workspace without config still has a cache root worth showing.
		cfg = config.DefaultConfig()
	}

	root, err := cfg.CacheRoot()
	if err != nil {
		errors.FatalError(err, globals.JSON)
	}

	caches, err := cachegc.EnumerateProjectCaches(root)
	if err != nil {
		errors.FatalError(errors.NewPermissionError(
			"Cannot enumerate project caches",
			fmt.Sprintf("Failed to read the cache root %s", root),
			"Check directory permissions, or set NOVA_CACHE_DIR to a readable location",
			err,
		), globals.JSON)
	}

	result := &StatusResult{
		CacheRoot:   root,
		SourceRoots: cfg.Workspace.SourceRoots,
		Timestamp:   time.Now(),
	}
	for _, c := range caches {
		result.ProjectCaches++
		result.TotalCacheBytes += c.SizeBytes
		result.Caches = append(result.Caches, ProjectCacheRow{
			Name:              c.Name,
			SizeBytes:         c.SizeBytes,
			LastUpdatedMillis: c.LastUpdatedMillis,
			NovaVersion:       c.NovaVersion,
			SchemaVersion:     c.SchemaVersion,
		})
	}

	if globals.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(result)
		return
	}

	printStatus(result)
}

func printStatus(result *StatusResult) {
	_, _ = ui.Info.Println("Nova Workspace Status")
	fmt.Printf("  Cache root:     %s\n", result.CacheRoot)
	fmt.Printf("  Source roots:   %v\n", result.SourceRoots)
	fmt.Printf("  Project caches: %d (%s)\n", result.ProjectCaches, formatBytes(result.TotalCacheBytes))

	if len(result.Caches) == 0 {
		fmt.Println()
		_, _ = ui.Warn.Println("No project caches found. Run 'nova watch' in a workspace to populate one.")
		return
	}

	fmt.Println()
	for _, c := range result.Caches {
		age := "unknown age"
		if c.LastUpdatedMillis > 0 {
			age = time.Since(time.UnixMilli(c.LastUpdatedMillis)).Round(time.Minute).String() + " old"
		}
		fmt.Printf("  %-24s %10s  %s\n", c.Name, formatBytes(c.SizeBytes), age)
	}
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
