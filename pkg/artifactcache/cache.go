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

// Package artifactcache implements the persistent, versioned
// derived-artifact cache: a disk-backed
// layer over pkg/querycache, keyed by fingerprints over
// (query-name, schema-version, args, input fingerprints), with strict
// version/schema/fingerprint gating on read.
package artifactcache

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/novaide/nova/pkg/fingerprint"
	"github.com/novaide/nova/pkg/querycache"
)

// NovaVersion is embedded into every persisted envelope and compared on
// read; a mismatch is always a miss.
const NovaVersion = "0.1.0"

// CacheSchemaVersion is the on-disk envelope schema version, independent of
// any individual query's own schema version.
const CacheSchemaVersion uint32 = 1

// Cache is a persistent derived-artifact cache: an in-memory two-tier
// querycache.Cache fronting a per-query-name directory tree of envelope
// files under root.
type Cache struct {
	memory *querycache.Cache
	root   string // <cache_root>/<project_hash>/queries
}

// New constructs a Cache rooted at queriesDir (typically
// "<project_cache_dir>/queries"), with an in-memory tier backed by disk
// reads/writes through that same directory.
func New(name, queriesDir string) *Cache {
	c := &Cache{root: queriesDir}
	c.memory = querycache.NewWithDisk(name, c)
	return c
}

// Memory exposes the underlying in-memory cache so callers can register it
// with a memory.Manager as an evictor.
func (c *Cache) Memory() *querycache.Cache { return c.memory }

// Get implements the read path: hot/warm, then disk envelope,
// validating cache-schema-version, nova-version, and key-fingerprint.
func (c *Cache) Get(queryName string, querySchemaVersion uint32, args string, inputFingerprints map[string]fingerprint.Fingerprint) ([]byte, bool) {
	key := fingerprint.CacheKey(fingerprint.CacheKeyInputs{
		QueryName:         queryName,
		QuerySchemaVer:    querySchemaVersion,
		Args:              args,
		InputFingerprints: inputFingerprints,
	})
	return c.memory.Get(cacheMapKey(queryName, key))
}

// Insert writes into the in-memory tier and best-effort persists an
// envelope to disk via an atomic temp-file-then-rename.
func (c *Cache) Insert(queryName string, querySchemaVersion uint32, args string, inputFingerprints map[string]fingerprint.Fingerprint, value []byte, savedAtMillis uint64) {
	key := fingerprint.CacheKey(fingerprint.CacheKeyInputs{
		QueryName:         queryName,
		QuerySchemaVer:    querySchemaVersion,
		Args:              args,
		InputFingerprints: inputFingerprints,
	})
	mapKey := cacheMapKey(queryName, key)
	c.memory.Insert(mapKey, value)

	env := fingerprint.Envelope{
		CacheSchemaVersion: CacheSchemaVersion,
		NovaVersion:        NovaVersion,
		SavedAtMillis:      savedAtMillis,
		QueryName:          queryName,
		KeyFingerprint:     key,
		Payload:            value,
	}
	dir := filepath.Join(c.root, queryName)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return
	}
	final := filepath.Join(dir, key.String()+".bin")
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, fingerprint.Encode(env), 0o600); err != nil {
		return
	}
	_ = os.Rename(tmp, final)
}

// --- querycache.DiskBacking ---

// Load implements querycache.DiskBacking. It reads
// queries/<query_name>/<key>.bin and validates the envelope; any decode
// failure, schema mismatch, or version mismatch is a miss; the file is
// never mutated on a failed read.
func (c *Cache) Load(mapKey string) ([]byte, bool) {
	path := c.pathFor(mapKey)
	data, err := os.ReadFile(path) //nolint:gosec // path is derived from a fingerprint, not user input
	if err != nil {
		return nil, false
	}
	env, err := fingerprint.Decode(data)
	if err != nil {
		return nil, false
	}
	if env.CacheSchemaVersion != CacheSchemaVersion {
		return nil, false
	}
	if env.NovaVersion != NovaVersion {
		return nil, false
	}
	wantKey, queryName := splitMapKey(mapKey)
	if env.QueryName != queryName {
		return nil, false
	}
	if env.KeyFingerprint.String() != wantKey {
		return nil, false
	}
	return env.Payload, true
}

// Store implements querycache.DiskBacking with an atomic write: temp file
// in the same directory, then rename into place.
func (c *Cache) Store(mapKey string, value []byte) error {
	queryName, key := mapKeyParts(mapKey)
	dir := filepath.Join(c.root, queryName)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	env := fingerprint.Envelope{
		CacheSchemaVersion: CacheSchemaVersion,
		NovaVersion:        NovaVersion,
		QueryName:          queryName,
		Payload:            value,
	}
	if fp, err := fingerprint.ParseFingerprint(key); err == nil {
		env.KeyFingerprint = fp
	}
	data := fingerprint.Encode(env)

	final := filepath.Join(dir, key+".bin")
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, final)
}

func (c *Cache) pathFor(mapKey string) string {
	queryName, key := mapKeyParts(mapKey)
	return filepath.Join(c.root, queryName, key+".bin")
}

// cacheMapKey joins query name and key fingerprint into the single string
// key the in-memory tiers index on.
func cacheMapKey(queryName string, key fingerprint.Fingerprint) string {
	return fmt.Sprintf("%s\x00%s", queryName, key.String())
}

func mapKeyParts(mapKey string) (queryName, key string) {
	for i := 0; i < len(mapKey); i++ {
		if mapKey[i] == 0 {
			return mapKey[:i], mapKey[i+1:]
		}
	}
	return "", mapKey
}

func splitMapKey(mapKey string) (key, queryName string) {
	qn, k := mapKeyParts(mapKey)
	return k, qn
}
