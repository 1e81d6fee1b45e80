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

// Package fingerprint provides stable content/metadata digests and the
// little-endian, fixed-width on-disk framing used by the query and
// derived-artifact caches.
package fingerprint

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"
)

// Fingerprint is an opaque, fixed-width digest with a stable string form.
type Fingerprint [sha256.Size]byte

// String renders the fingerprint as lowercase hex.
func (f Fingerprint) String() string {
	return fmt.Sprintf("%x", [sha256.Size]byte(f))
}

// IsZero reports whether f is the zero fingerprint.
func (f Fingerprint) IsZero() bool {
	return f == Fingerprint{}
}

// ParseFingerprint parses the hex string form produced by String.
func ParseFingerprint(s string) (Fingerprint, error) {
	var out Fingerprint
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	if len(b) != len(out) {
		return out, fmt.Errorf("fingerprint: expected %d bytes, got %d", len(out), len(b))
	}
	copy(out[:], b)
	return out, nil
}

// Of computes a content fingerprint over raw bytes.
func Of(data []byte) Fingerprint {
	return sha256.Sum256(data)
}

// OfFile computes a content fingerprint over a file's bytes.
func OfFile(path string) (Fingerprint, error) {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled workspace path
	if err != nil {
		return Fingerprint{}, err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return Fingerprint{}, err
	}
	var out Fingerprint
	copy(out[:], h.Sum(nil))
	return out, nil
}

// Stat is the subset of file metadata used for metadata fingerprints. It is
// deliberately narrow so callers can populate it from any os.FileInfo-like
// source, including the in-memory testkit filesystem.
type Stat struct {
	Size    int64
	ModTime int64 // unix nanos
	Inode   uint64
	Mode    uint32
}

// OfMetadata computes a metadata fingerprint. Equality implies, with high
// probability, content equality when mtime resolution is adequate. It is
// not a substitute for a content fingerprint when exactness is required.
func OfMetadata(st Stat) Fingerprint {
	var buf [24]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(st.Size))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(st.ModTime))
	binary.LittleEndian.PutUint64(buf[16:24], st.Inode)
	h := sha256.New()
	h.Write(buf[:])
	var mode [4]byte
	binary.LittleEndian.PutUint32(mode[:], st.Mode)
	h.Write(mode[:])
	var out Fingerprint
	copy(out[:], h.Sum(nil))
	return out
}

// CacheKeyInputs groups the fields that compose a CacheKey fingerprint.
type CacheKeyInputs struct {
	QueryName         string
	QuerySchemaVer    uint32
	Args              string            // canonicalized argument representation
	InputFingerprints map[string]Fingerprint
}

// CacheKey computes the composite fingerprint over
// (query-name, schema-version, canonicalized-args, sorted input fingerprints).
// Two CacheKeyInputs produce equal keys iff every field is equal
// element-wise.
func CacheKey(in CacheKeyInputs) Fingerprint {
	h := sha256.New()
	writeLenPrefixed(h, []byte(in.QueryName))
	var ver [4]byte
	binary.LittleEndian.PutUint32(ver[:], in.QuerySchemaVer)
	h.Write(ver[:])
	writeLenPrefixed(h, []byte(in.Args))

	names := make([]string, 0, len(in.InputFingerprints))
	for name := range in.InputFingerprints {
		names = append(names, name)
	}
	sort.Strings(names)
	var count [4]byte
	binary.LittleEndian.PutUint32(count[:], uint32(len(names)))
	h.Write(count[:])
	for _, name := range names {
		writeLenPrefixed(h, []byte(name))
		fp := in.InputFingerprints[name]
		h.Write(fp[:])
	}

	var out Fingerprint
	copy(out[:], h.Sum(nil))
	return out
}

func writeLenPrefixed(h io.Writer, b []byte) {
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(b)))
	h.Write(n[:])
	h.Write(b)
}
