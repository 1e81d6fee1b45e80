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

// Package errors provides a structured, user-facing error used by the
// config and CLI layers: a short title, a longer detail, an actionable
// suggestion, and an optional wrapped cause.
package errors

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/novaide/nova/pkg/sanitize"
)

// Kind classifies a UserError for callers that branch on it (see
// pkg/sanitize for how error strings derived from these are redacted
// before crossing a trust boundary).
type Kind string

const (
	KindConfig     Kind = "config"
	KindPermission Kind = "permission"
	KindInternal   Kind = "internal"
	KindNotFound   Kind = "not_found"
)

// UserError is an error meant to be read by a human operator: it separates
// "what went wrong" (Title/Detail) from "what to do about it" (Suggestion).
type UserError struct {
	Kind       Kind
	Title      string
	Detail     string
	Suggestion string
	Cause      error
}

func (e *UserError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%s): %v", e.Title, e.Detail, e.Suggestion, e.Cause)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Title, e.Detail, e.Suggestion)
}

func (e *UserError) Unwrap() error {
	return e.Cause
}

func newError(kind Kind, title, detail, suggestion string, cause error) *UserError {
	return &UserError{Kind: kind, Title: title, Detail: detail, Suggestion: suggestion, Cause: cause}
}

// NewConfigError reports a problem loading, parsing, or validating
// configuration.
func NewConfigError(title, detail, suggestion string, cause error) *UserError {
	return newError(KindConfig, title, detail, suggestion, cause)
}

// NewPermissionError reports a filesystem permission failure.
func NewPermissionError(title, detail, suggestion string, cause error) *UserError {
	return newError(KindPermission, title, detail, suggestion, cause)
}

// NewInternalError reports a bug: something that should be impossible given
// the program's own invariants.
func NewInternalError(title, detail, suggestion string, cause error) *UserError {
	return newError(KindInternal, title, detail, suggestion, cause)
}

// NewNotFoundError reports a missing resource (file, cache entry, project).
func NewNotFoundError(title, detail, suggestion string, cause error) *UserError {
	return newError(KindNotFound, title, detail, suggestion, cause)
}

// FatalError prints err and exits with status 1. Messages are sanitized
// before they reach the terminal; with jsonOutput set the error is emitted
// as a JSON object on stdout so machine consumers get structure instead of
// prose.
func FatalError(err error, jsonOutput bool) {
	var ue *UserError
	if u, ok := err.(*UserError); ok {
		ue = u
	} else {
		ue = NewInternalError("Unexpected error", sanitize.Chain(err), "", nil)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		_ = enc.Encode(map[string]any{
			"error": map[string]string{
				"kind":       string(ue.Kind),
				"title":      ue.Title,
				"detail":     sanitize.Error(ue.Detail),
				"suggestion": ue.Suggestion,
			},
		})
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "Error: %s\n", ue.Title)
	if ue.Detail != "" {
		fmt.Fprintf(os.Stderr, "  %s\n", sanitize.Error(ue.Detail))
	}
	if ue.Cause != nil {
		fmt.Fprintf(os.Stderr, "  cause: %s\n", sanitize.Chain(ue.Cause))
	}
	if ue.Suggestion != "" {
		fmt.Fprintf(os.Stderr, "  hint: %s\n", ue.Suggestion)
	}
	os.Exit(1)
}
