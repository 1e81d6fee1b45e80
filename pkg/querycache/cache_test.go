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

package querycache

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/novaide/nova/pkg/memory"
)

func TestInsertThenGetReturnsValue(t *testing.T) {
	c := New("test")
	c.Insert("k1", []byte("v1"))
	v, ok := c.Get("k1")
	require.True(t, ok)
	require.Equal(t, []byte("v1"), v)
}

func TestGetMissReturnsFalse(t *testing.T) {
	c := New("test")
	_, ok := c.Get("missing")
	require.False(t, ok)
}

func TestEvictionSafetyValuesStayValidAfterEviction(t *testing.T) {
	c := New("test")
	c.Insert("k1", []byte("v1"))
	got, ok := c.Get("k1")
	require.True(t, ok)
	gotCopy := append([]byte(nil), got...)

	c.Evict(memory.EvictionRequest{Pressure: memory.Critical, TargetBytes: 0})

	require.True(t, bytes.Equal(gotCopy, []byte("v1")), "previously obtained value must remain byte-equal after eviction")
}

// The spill backing is what keeps every
// previously-hot key reachable once both in-memory tiers are under their
// post-eviction budgets.
func TestMemoryPressureDemotionKeepsEntriesGettable(t *testing.T) {
	c := NewWithDisk("test", newMemDisk())
	var totalBytes int64
	entryBytes := int64(len("value-padding-000"))
	n := 10
	for i := 0; i < n; i++ {
		v := []byte(fmt.Sprintf("value-padding-%03d", i))
		c.Insert(fmt.Sprintf("k%d", i), v)
		totalBytes += int64(len(v))
	}
	require.Equal(t, totalBytes, entryBytes*int64(n))

	res := c.Evict(memory.EvictionRequest{Pressure: memory.Medium, TargetBytes: totalBytes / 2})
	require.Equal(t, totalBytes, res.BeforeBytes)

	hotBytes := c.hot.bytes
	warmBytes := c.warm.bytes
	require.LessOrEqual(t, hotBytes, totalBytes/10+entryBytes) // ~20% of target, slack for one entry granularity
	require.LessOrEqual(t, warmBytes, (4*totalBytes)/10+entryBytes)

	for i := 0; i < n; i++ {
		_, ok := c.Get(fmt.Sprintf("k%d", i))
		require.True(t, ok, "every previously-hot key must still be gettable (possibly from warm)")
	}
}

type memDisk struct {
	data map[string][]byte
}

func newMemDisk() *memDisk { return &memDisk{data: make(map[string][]byte)} }

func (d *memDisk) Load(key string) ([]byte, bool) {
	v, ok := d.data[key]
	return v, ok
}

func (d *memDisk) Store(key string, value []byte) error {
	d.data[key] = append([]byte(nil), value...)
	return nil
}

func TestFlushToDiskPersistsWarmEntries(t *testing.T) {
	disk := newMemDisk()
	c := NewWithDisk("test", disk)
	c.warm.insert("k1", []byte("warm-value"))

	c.FlushToDisk()

	v, ok := disk.Load("k1")
	require.True(t, ok)
	require.Equal(t, []byte("warm-value"), v)
}

func TestGetFallsThroughToDiskOnMiss(t *testing.T) {
	disk := newMemDisk()
	disk.data["k1"] = []byte("from-disk")
	c := NewWithDisk("test", disk)

	v, ok := c.Get("k1")
	require.True(t, ok)
	require.Equal(t, []byte("from-disk"), v)

	_, hotHit := c.hot.get("k1")
	require.True(t, hotHit, "disk hit must populate hot tier")
}
