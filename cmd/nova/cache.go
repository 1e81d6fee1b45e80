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
	"path/filepath"

	flag "github.com/spf13/pflag"

	"github.com/novaide/nova/internal/errors"
	"github.com/novaide/nova/internal/ui"
	"github.com/novaide/nova/pkg/artifactcache"
	"github.com/novaide/nova/pkg/config"
)

// runCache dispatches the 'cache' subcommands: pack, install, verify.
func runCache(args []string, configPath string, globals GlobalFlags) {
	if len(args) == 0 {
		cacheUsage()
		os.Exit(1)
	}
	switch args[0] {
	case "pack":
		runCachePack(args[1:], globals)
	case "install":
		runCacheInstall(args[1:], configPath, globals)
	case "verify":
		runCacheVerify(args[1:], configPath, globals)
	default:
		fmt.Fprintf(os.Stderr, "Unknown cache subcommand: %s\n", args[0])
		cacheUsage()
		os.Exit(1)
	}
}

func cacheUsage() {
	fmt.Fprintf(os.Stderr, `Usage: nova cache <subcommand> [options]

Subcommands:
  pack <cache-dir> <out.tar.zst>    Archive a project cache directory
  install <archive> <project-hash>  Install an archive under the cache root
  verify <project-hash>             Re-check an installed cache's checksums

Examples:
  nova cache pack ~/.nova/cache/a1b2c3 bundle.tar.zst
  nova cache pack --full ~/.nova/cache/a1b2c3 bundle.tar.zst
  nova cache install bundle.tar.zst a1b2c3
  nova cache verify a1b2c3

`)
}

func runCachePack(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("cache pack", flag.ExitOnError)
	full := fs.Bool("full", false, "Include queries/ and ast/ subtrees in the package")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() != 2 {
		cacheUsage()
		os.Exit(1)
	}
	cacheDir, dest := fs.Arg(0), fs.Arg(1)

	if err := artifactcache.WritePackage(cacheDir, dest, *full); err != nil {
		errors.FatalError(errors.NewPermissionError(
			"Cannot pack project cache",
			fmt.Sprintf("Failed to archive %s into %s", cacheDir, dest),
			"Check that the cache directory contains metadata.json and the output path is writable",
			err,
		), globals.JSON)
	}

	if !globals.Quiet {
		_, _ = ui.Success.Printf("Packed %s -> %s\n", cacheDir, dest)
	}
}

func runCacheInstall(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("cache install", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() != 2 {
		cacheUsage()
		os.Exit(1)
	}
	archive, projectHash := fs.Arg(0), fs.Arg(1)

	dest, err := projectCacheDir(configPath, projectHash)
	if err != nil {
		errors.FatalError(err, globals.JSON)
	}

	report, err := artifactcache.InstallPackage(archive, dest)
	if err != nil {
		errors.FatalError(errors.NewConfigError(
			"Cannot install cache package",
			fmt.Sprintf("Failed to install %s into %s", archive, dest),
			"Verify the archive is intact; a checksum mismatch means it was truncated or tampered with",
			err,
		), globals.JSON)
	}

	if globals.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(report)
		return
	}
	_, _ = ui.Success.Printf("Installed %d entries into %s", report.Entries, dest)
	if report.SampledEntries > 0 {
		fmt.Printf(" (%d sampled post-install)", report.SampledEntries)
	}
	fmt.Println()
}

func runCacheVerify(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("cache verify", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() != 1 {
		cacheUsage()
		os.Exit(1)
	}

	dir, err := projectCacheDir(configPath, fs.Arg(0))
	if err != nil {
		errors.FatalError(err, globals.JSON)
	}

	mismatches, err := artifactcache.VerifyPackageDir(dir)
	if err != nil {
		errors.FatalError(errors.NewNotFoundError(
			"Cannot verify project cache",
			fmt.Sprintf("Failed to read checksums from %s", dir),
			"The cache may predate checksum manifests; reinstall it from a package",
			err,
		), globals.JSON)
	}

	if globals.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(map[string]any{"ok": len(mismatches) == 0, "mismatches": mismatches})
		if len(mismatches) > 0 {
			os.Exit(1)
		}
		return
	}

	if len(mismatches) == 0 {
		_, _ = ui.Success.Println("All entries verified.")
		return
	}
	_, _ = ui.Error.Printf("%d entries failed verification:\n", len(mismatches))
	for _, m := range mismatches {
		fmt.Printf("  %s\n", m)
	}
	os.Exit(1)
}

// projectCacheDir resolves <cache_root>/<project_hash>, rejecting hashes
// that would escape the cache root.
func projectCacheDir(configPath, projectHash string) (string, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		cfg = config.DefaultConfig()
	}
	root, err := cfg.CacheRoot()
	if err != nil {
		return "", err
	}
	if projectHash != filepath.Base(projectHash) || projectHash == "." || projectHash == ".." {
		return "", errors.NewConfigError(
			"Invalid project hash",
			fmt.Sprintf("'%s' is not a valid project cache name", projectHash),
			"Use the directory name printed by 'nova status'",
			nil,
		)
	}
	return filepath.Join(root, projectHash), nil
}
