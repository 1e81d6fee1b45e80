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
	"io"
	"log/slog"
	"os"

	"github.com/schollz/progressbar/v3"
)

// ProgressConfig controls whether progress bars are rendered at all.
type ProgressConfig struct {
	Enabled bool
}

// NewProgressConfig derives progress settings from the global flags:
// quiet (and therefore JSON) output suppresses bars entirely.
func NewProgressConfig(globals GlobalFlags) ProgressConfig {
	return ProgressConfig{Enabled: !globals.Quiet}
}

// NewProgressBar creates a progress bar over total units, or a silent one
// when progress output is disabled.
func NewProgressBar(cfg ProgressConfig, total int64, description string) *progressbar.ProgressBar {
	out := io.Writer(os.Stderr)
	if !cfg.Enabled {
		out = io.Discard
	}
	return progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}

// newLogger builds the CLI's slog logger at a level derived from the
// verbosity flags.
func newLogger(globals GlobalFlags) *slog.Logger {
	logLevel := slog.LevelWarn
	if globals.Verbose >= 1 {
		logLevel = slog.LevelInfo
	}
	if globals.Verbose >= 2 {
		logLevel = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
}
