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

// runGC executes the 'gc' CLI command: it applies the configured cache GC
// policy to the global cache root.
func runGC(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("gc", flag.ExitOnError)
	dryRun := fs.Bool("dry-run", false, "Show what would be deleted without deleting anything")
	maxTotal := fs.Uint64("max-total-bytes", 0, "Override the configured total-size budget")
	maxAgeMs := fs.Int64("max-age-ms", 0, "Override the configured maximum cache age")
	keepLatest := fs.Int("keep-latest", -1, "Override how many newest caches are always kept")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: nova gc [options]

Description:
  Reclaim disk space from per-project caches under the global cache
  root. The newest caches are always protected; the shared deps/
  directory is never a deletion candidate.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # Apply the configured policy
  nova gc

  # Preview deletions without removing anything
  nova gc --dry-run

  # One-off tighter budget
  nova gc --max-total-bytes 1073741824

`)
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		cfg = config.DefaultConfig()
	}

	policy := cachegc.CacheGcPolicy{
		MaxTotalBytes: cfg.GC.MaxTotalBytes,
		MaxAgeMs:      cfg.GC.MaxAgeMs,
		KeepLatestN:   cfg.GC.KeepLatestN,
	}
	if *maxTotal > 0 {
		policy.MaxTotalBytes = *maxTotal
	}
	if *maxAgeMs > 0 {
		policy.MaxAgeMs = *maxAgeMs
	}
	if *keepLatest >= 0 {
		policy.KeepLatestN = *keepLatest
	}

	root, err := cfg.CacheRoot()
	if err != nil {
		errors.FatalError(err, globals.JSON)
	}

	if *dryRun {
		runGCDryRun(root, policy, globals)
		return
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

	report := cachegc.CacheGcReport{}
	for _, c := range caches {
		report.BeforeTotalBytes += c.SizeBytes
	}
	report.AfterTotalBytes = report.BeforeTotalBytes

	victims := cachegc.PlanGc(caches, policy, time.Now().UnixMilli())
	bar := NewProgressBar(NewProgressConfig(globals), int64(len(victims)), "Deleting project caches")
	for _, v := range victims {
		if err := cachegc.DeleteProjectCache(root, v); err != nil {
			report.Failed = append(report.Failed, cachegc.CacheGcFailure{Cache: v.Name, Error: err.Error()})
		} else {
			report.Deleted = append(report.Deleted, v.Name)
			report.DeletedCaches++
			report.DeletedBytes += v.SizeBytes
			report.AfterTotalBytes -= v.SizeBytes
		}
		_ = bar.Add(1)
	}
	_ = bar.Finish()

	if globals.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(report)
		return
	}

	printGCReport(report)
}

func runGCDryRun(root string, policy cachegc.CacheGcPolicy, globals GlobalFlags) {
	caches, err := cachegc.EnumerateProjectCaches(root)
	if err != nil {
		errors.FatalError(errors.NewPermissionError(
			"Cannot enumerate project caches",
			fmt.Sprintf("Failed to read the cache root %s", root),
			"Check directory permissions, or set NOVA_CACHE_DIR to a readable location",
			err,
		), globals.JSON)
	}

	victims := cachegc.PlanGc(caches, policy, time.Now().UnixMilli())

	if globals.JSON {
		names := make([]string, 0, len(victims))
		var bytes uint64
		for _, v := range victims {
			names = append(names, v.Name)
			bytes += v.SizeBytes
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(map[string]any{
			"would_delete":       names,
			"would_delete_bytes": bytes,
		})
		return
	}

	if len(victims) == 0 {
		_, _ = ui.Success.Println("Nothing to delete: cache is within policy.")
		return
	}
	_, _ = ui.Warn.Printf("Would delete %d project cache(s):\n", len(victims))
	for _, v := range victims {
		fmt.Printf("  %-24s %10s\n", v.Name, formatBytes(v.SizeBytes))
	}
}

func printGCReport(report cachegc.CacheGcReport) {
	_, _ = ui.Info.Println("Cache GC complete")
	fmt.Printf("  Before:  %s\n", formatBytes(report.BeforeTotalBytes))
	fmt.Printf("  After:   %s\n", formatBytes(report.AfterTotalBytes))
	fmt.Printf("  Deleted: %d cache(s), %s\n", report.DeletedCaches, formatBytes(report.DeletedBytes))
	for _, name := range report.Deleted {
		fmt.Printf("    - %s\n", name)
	}
	for _, f := range report.Failed {
		_, _ = ui.Warn.Printf("    failed: %s (%s)\n", f.Cache, f.Error)
	}
}
