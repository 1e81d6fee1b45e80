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

package artifactcache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/novaide/nova/pkg/fingerprint"
)

func inputs(content string) map[string]fingerprint.Fingerprint {
	return map[string]fingerprint.Fingerprint{"Main.java": fingerprint.Of([]byte(content))}
}

func TestPersistentCacheRoundtrip(t *testing.T) {
	dir := t.TempDir()
	c := New("type_of", dir)

	c.Insert("type_of", 1, `["Main.java"]`, inputs("v1"), []byte("answer:42"), 1000)

	v, ok := c.Get("type_of", 1, `["Main.java"]`, inputs("v1"))
	require.True(t, ok)
	require.Equal(t, []byte("answer:42"), v)

	// drop in-memory state, force a disk read.
	c2 := New("type_of", dir)
	v2, ok2 := c2.Get("type_of", 1, `["Main.java"]`, inputs("v1"))
	require.True(t, ok2)
	require.Equal(t, []byte("answer:42"), v2)
}

func TestCacheSchemaVersionMismatchIsMiss(t *testing.T) {
	dir := t.TempDir()
	c := New("type_of", dir)
	c.Insert("type_of", 1, `["Main.java"]`, inputs("v1"), []byte("answer:42"), 1000)

	// mutate the persisted envelope's cache-schema-version byte in place.
	files, err := filepath.Glob(filepath.Join(dir, "type_of", "*.bin"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	data[0] = 0xff // corrupt cache-schema-version (first 4 LE bytes)
	require.NoError(t, os.WriteFile(files[0], data, 0o600))

	c2 := New("type_of", dir)
	_, ok := c2.Get("type_of", 1, `["Main.java"]`, inputs("v1"))
	require.False(t, ok)
}

func TestQuerySchemaVersionMismatchIsMiss(t *testing.T) {
	dir := t.TempDir()
	c := New("type_of", dir)
	c.Insert("type_of", 1, `["Main.java"]`, inputs("v1"), []byte("answer:42"), 1000)

	c2 := New("type_of", dir)
	_, ok := c2.Get("type_of", 2, `["Main.java"]`, inputs("v1"))
	require.False(t, ok, "different query schema version must produce a different cache key and therefore miss")
}

func TestInputFingerprintDriftIsMiss(t *testing.T) {
	dir := t.TempDir()
	c := New("type_of", dir)
	c.Insert("type_of", 1, `["Main.java"]`, inputs("v1"), []byte("answer:42"), 1000)

	c2 := New("type_of", dir)
	_, ok := c2.Get("type_of", 1, `["Main.java"]`, inputs("v2"))
	require.False(t, ok)
}

func TestCorruptionIsMiss(t *testing.T) {
	dir := t.TempDir()
	c := New("type_of", dir)
	c.Insert("type_of", 1, `["Main.java"]`, inputs("v1"), []byte("answer:42"), 1000)

	files, err := filepath.Glob(filepath.Join(dir, "type_of", "*.bin"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.NoError(t, os.WriteFile(files[0], []byte("not an envelope"), 0o600))

	c2 := New("type_of", dir)
	_, ok := c2.Get("type_of", 1, `["Main.java"]`, inputs("v1"))
	require.False(t, ok)
}
