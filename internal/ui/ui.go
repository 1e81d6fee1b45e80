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

// Package ui provides terminal color helpers for the nova CLI.
package ui

import (
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

var (
	// Info renders status lines.
	Info = color.New(color.FgCyan)
	// Success renders completed operations.
	Success = color.New(color.FgGreen)
	// Warn renders non-fatal problems.
	Warn = color.New(color.FgYellow)
	// Error renders sanitized failure messages.
	Error = color.New(color.FgRed, color.Bold)
)

// InitColors configures whether color.Color instances emit ANSI escapes.
// noColor forces color off; otherwise color is enabled only when stdout is
// a TTY and NO_COLOR is unset, matching common CLI conventions.
func InitColors(noColor bool) {
	if noColor || os.Getenv("NO_COLOR") != "" {
		color.NoColor = true
		return
	}
	color.NoColor = !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd())
}
