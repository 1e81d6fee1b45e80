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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOfIsDeterministic(t *testing.T) {
	a := Of([]byte("hello"))
	b := Of([]byte("hello"))
	require.Equal(t, a, b)

	c := Of([]byte("hello!"))
	require.NotEqual(t, a, c)
}

func TestCacheKeyEquivalence(t *testing.T) {
	base := CacheKeyInputs{
		QueryName:      "type_of",
		QuerySchemaVer: 1,
		Args:           `["Main.java"]`,
		InputFingerprints: map[string]Fingerprint{
			"Main.java": Of([]byte("v1")),
		},
	}
	other := base
	other.InputFingerprints = map[string]Fingerprint{
		"Main.java": Of([]byte("v1")),
	}

	require.Equal(t, CacheKey(base), CacheKey(other))

	changed := base
	changed.InputFingerprints = map[string]Fingerprint{
		"Main.java": Of([]byte("v2")),
	}
	require.NotEqual(t, CacheKey(base), CacheKey(changed))

	versionBumped := base
	versionBumped.QuerySchemaVer = 2
	require.NotEqual(t, CacheKey(base), CacheKey(versionBumped))
}

func TestCacheKeyMapOrderIndependence(t *testing.T) {
	in1 := CacheKeyInputs{
		QueryName:      "q",
		QuerySchemaVer: 1,
		InputFingerprints: map[string]Fingerprint{
			"a.java": Of([]byte("a")),
			"b.java": Of([]byte("b")),
		},
	}
	in2 := CacheKeyInputs{
		QueryName:      "q",
		QuerySchemaVer: 1,
		InputFingerprints: map[string]Fingerprint{
			"b.java": Of([]byte("b")),
			"a.java": Of([]byte("a")),
		},
	}
	require.Equal(t, CacheKey(in1), CacheKey(in2))
}

func TestEnvelopeRoundtrip(t *testing.T) {
	env := Envelope{
		CacheSchemaVersion: 3,
		NovaVersion:        "0.1.0",
		SavedAtMillis:      1234567890,
		QueryName:          "type_of",
		KeyFingerprint:     Of([]byte("key")),
		Payload:            []byte("answer:42"),
	}
	data := Encode(env)
	decoded, err := Decode(data)
	require.NoError(t, err)
	require.Equal(t, env, decoded)
}

func TestEnvelopeDecodeCorruptIsMiss(t *testing.T) {
	env := Envelope{
		CacheSchemaVersion: 1,
		NovaVersion:        "0.1.0",
		SavedAtMillis:      1,
		QueryName:          "q",
		KeyFingerprint:     Of([]byte("k")),
		Payload:            []byte("v"),
	}
	data := Encode(env)

	truncated := data[:len(data)-3]
	_, err := Decode(truncated)
	require.ErrorIs(t, err, ErrCorrupt)

	data[4] = 0xff
	data[5] = 0xff
	data[6] = 0xff
	data[7] = 0x7f
	_, err = Decode(data)
	require.ErrorIs(t, err, ErrCorrupt)
}
