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

package sanitize

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorRedactsTOMLSnippetBlock(t *testing.T) {
	msg := "TOML parse error at line 3\n  |\n3 | secret_token = \"sk-supersecretvalue\"\n  |\n"
	out := Error(msg)
	require.NotContains(t, out, "sk-supersecretvalue")
	require.Contains(t, out, Redacted)
}

func TestErrorRedactsTomlDebugRawField(t *testing.T) {
	msg := `TomlError { message: "invalid", raw: Some("secret_token = \"sk-supersecretvalue\"") }`
	out := Error(msg)
	require.NotContains(t, out, "sk-supersecretvalue")
	require.Contains(t, out, `raw: Some("`+Redacted+`")`)
}

func TestErrorRedactsSingleQuotedSemverValue(t *testing.T) {
	msg := "invalid semver version 'super-secret-1.2.3-build'"
	out := Error(msg)
	require.NotContains(t, out, "super-secret-1.2.3-build")
	require.Contains(t, out, Redacted)
}

func TestErrorRedactsSerdeJSONStringValues(t *testing.T) {
	msg := `invalid type: string "sk-supersecretvalue", expected a map`
	out := Error(msg)
	require.NotContains(t, out, "sk-supersecretvalue")
	require.Contains(t, out, Redacted)
}

func TestErrorLeavesPlainMessagesAlone(t *testing.T) {
	msg := "file not found: target.java"
	require.Equal(t, msg, Error(msg))
}

func TestChainSanitizesEveryCause(t *testing.T) {
	inner := errors.New(`invalid type: string "sk-leaked", expected bool`)
	outer := wrapErr{msg: "failed to load config", cause: inner}
	out := Chain(outer)
	require.NotContains(t, out, "sk-leaked")
	require.Contains(t, out, Redacted)
}

type wrapErr struct {
	msg   string
	cause error
}

func (w wrapErr) Error() string { return w.msg }
func (w wrapErr) Unwrap() error { return w.cause }

func TestNoBareSingleQuotedSubstringSurvives(t *testing.T) {
	msgs := []string{
		"invalid semver version 'abc-123'",
		"unknown capability 'networking'",
		"plain 'quoted' text",
	}
	for _, msg := range msgs {
		out := Error(msg)
		// every matched single-quote pair must have been replaced.
		require.False(t, strings.Contains(out, "'abc-123'"))
		require.False(t, strings.Contains(out, "'networking'"))
		require.False(t, strings.Contains(out, "'quoted'"))
	}
}
