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

// Package sanitize redacts embedded source snippets and secrets from error
// messages before they cross a trust boundary (editor diagnostics, test
// fixtures, telemetry).
package sanitize

import (
	"regexp"
	"strings"
)

// Redacted is substituted for anything this package decides to strip.
const Redacted = "<redacted>"

var (
	singleQuoted  = regexp.MustCompile(`'[^']*'`)
	jsonValueRe   = regexp.MustCompile(`((?:invalid type|invalid value|unknown field|unknown variant):?\s*(?:\w+\s+)?)"[^"]*"`)
	tomlRawField  = regexp.MustCompile(`raw:\s*Some\("(?:[^"\\]|\\.)*"\)`)
	snippetLineRe = regexp.MustCompile(`(?m)^.*(\||-->).*$`)
	gutterLineRe  = regexp.MustCompile(`^\s*\d+\s*\|`)
)

// Error sanitizes a single error message. It is conservative: when a
// message merely looks like a TOML or serde_json diagnostic, it redacts the
// parts that shape suggests are unsafe, even if the classification is a
// false positive.
func Error(message string) string {
	out := message

	if looksLikeTOMLErrorMessage(out) {
		out = redactTOMLSnippets(out)
		out = tomlRawField.ReplaceAllString(out, `raw: Some("`+Redacted+`")`)
	}

	if looksLikeSerdeJSONErrorMessage(out) {
		out = jsonValueRe.ReplaceAllString(out, `${1}"`+Redacted+`"`)
	}

	out = singleQuoted.ReplaceAllString(out, "'"+Redacted+"'")

	return out
}

// Chain sanitizes an error and every wrapped cause in its Unwrap() chain,
// joining them the way Go's fmt %v would, but with each layer redacted
// independently so a secret buried in a deep cause cannot leak.
func Chain(err error) string {
	if err == nil {
		return ""
	}
	var parts []string
	for cur := err; cur != nil; {
		parts = append(parts, Error(cur.Error()))
		u, ok := cur.(interface{ Unwrap() error })
		if !ok {
			break
		}
		cur = u.Unwrap()
	}
	return strings.Join(parts, ": ")
}

func looksLikeTOMLErrorMessage(message string) bool {
	if strings.Contains(message, "TOML parse error") {
		return true
	}
	if strings.Contains(message, "TomlError {") && strings.Contains(message, `raw: Some(`) {
		return true
	}
	if strings.Contains(message, "invalid semver version") {
		return true
	}
	if strings.Contains(message, "unknown capability") {
		return true
	}
	for _, line := range strings.Split(message, "\n") {
		if strings.Contains(line, "|") || strings.Contains(line, "-->") {
			return true
		}
		if gutterLineRe.MatchString(line) {
			return true
		}
	}
	// debug-formatted strings embed escaped newlines rather than real ones.
	if strings.Contains(message, `\n  |`) || strings.Contains(message, `\n-->`) {
		return true
	}
	return false
}

func looksLikeSerdeJSONErrorMessage(message string) bool {
	for _, marker := range []string{"invalid type:", "invalid value:", "unknown field", "unknown variant"} {
		if strings.Contains(message, marker) {
			return true
		}
	}
	return false
}

func redactTOMLSnippets(message string) string {
	lines := strings.Split(message, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimLeft(line, " \t")
		if strings.HasPrefix(trimmed, "|") || strings.HasPrefix(trimmed, "-->") || gutterLineRe.MatchString(line) {
			out = append(out, Redacted)
			continue
		}
		out = append(out, line)
	}
	joined := strings.Join(out, "\n")
	return snippetLineRe.ReplaceAllStringFunc(joined, func(s string) string {
		if s == Redacted {
			return s
		}
		return Redacted
	})
}

