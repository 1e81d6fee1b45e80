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

package fingerprint

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// maxFieldLen bounds every length-prefixed field on decode; a length
// exceeding this (or the remaining buffer) marks the file as corrupt.
const maxFieldLen = 64 << 20 // 64MiB

// ErrCorrupt is returned by Decode whenever the envelope cannot be trusted.
// Callers must treat it as a cache miss, never propagate it as a failure.
var ErrCorrupt = errors.New("fingerprint: corrupt cache envelope")

// Envelope is the on-disk framing for a persisted derived-artifact cache
// entry: (cache-schema-version, nova-version, saved-at-millis, query-name,
// key-fingerprint, payload).
type Envelope struct {
	CacheSchemaVersion uint32
	NovaVersion        string
	SavedAtMillis      uint64
	QueryName          string
	KeyFingerprint     Fingerprint
	Payload            []byte
}

// Encode serializes the envelope using little-endian fixed-width integers
// and length-prefixed UTF-8 strings / byte payloads.
func Encode(e Envelope) []byte {
	var buf bytes.Buffer
	var u32 [4]byte
	var u64 [8]byte

	binary.LittleEndian.PutUint32(u32[:], e.CacheSchemaVersion)
	buf.Write(u32[:])

	putLenPrefixed(&buf, []byte(e.NovaVersion))

	binary.LittleEndian.PutUint64(u64[:], e.SavedAtMillis)
	buf.Write(u64[:])

	putLenPrefixed(&buf, []byte(e.QueryName))
	buf.Write(e.KeyFingerprint[:])
	putLenPrefixed(&buf, e.Payload)

	return buf.Bytes()
}

// Decode parses an envelope. Any length, UTF-8, or bounds violation returns
// ErrCorrupt; decoders never panic on untrusted input.
func Decode(data []byte) (Envelope, error) {
	r := bytes.NewReader(data)
	var e Envelope

	var u32 [4]byte
	if _, err := io.ReadFull(r, u32[:]); err != nil {
		return e, fmt.Errorf("%w: schema version: %v", ErrCorrupt, err)
	}
	e.CacheSchemaVersion = binary.LittleEndian.Uint32(u32[:])

	novaVersion, err := getLenPrefixed(r)
	if err != nil {
		return e, err
	}
	if !utf8.Valid(novaVersion) {
		return e, fmt.Errorf("%w: nova version is not valid UTF-8", ErrCorrupt)
	}
	e.NovaVersion = string(novaVersion)

	var u64 [8]byte
	if _, err := io.ReadFull(r, u64[:]); err != nil {
		return e, fmt.Errorf("%w: saved-at: %v", ErrCorrupt, err)
	}
	e.SavedAtMillis = binary.LittleEndian.Uint64(u64[:])

	queryName, err := getLenPrefixed(r)
	if err != nil {
		return e, err
	}
	if !utf8.Valid(queryName) {
		return e, fmt.Errorf("%w: query name is not valid UTF-8", ErrCorrupt)
	}
	e.QueryName = string(queryName)

	if _, err := io.ReadFull(r, e.KeyFingerprint[:]); err != nil {
		return e, fmt.Errorf("%w: key fingerprint: %v", ErrCorrupt, err)
	}

	payload, err := getLenPrefixed(r)
	if err != nil {
		return e, err
	}
	e.Payload = payload

	if r.Len() != 0 {
		return e, fmt.Errorf("%w: trailing bytes", ErrCorrupt)
	}

	return e, nil
}

func putLenPrefixed(buf *bytes.Buffer, b []byte) {
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(b)))
	buf.Write(n[:])
	buf.Write(b)
}

func getLenPrefixed(r *bytes.Reader) ([]byte, error) {
	var n [4]byte
	if _, err := io.ReadFull(r, n[:]); err != nil {
		return nil, fmt.Errorf("%w: length prefix: %v", ErrCorrupt, err)
	}
	length := binary.LittleEndian.Uint32(n[:])
	if length > maxFieldLen || int(length) > r.Len() {
		return nil, fmt.Errorf("%w: field length %d exceeds bound or remaining buffer", ErrCorrupt, length)
	}
	out := make([]byte, length)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("%w: field body: %v", ErrCorrupt, err)
	}
	return out, nil
}
