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
	"archive/tar"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"
)

func writeCacheDir(t *testing.T, full bool) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "metadata.json"), []byte(`{"schema_version":1}`), 0o600))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "indexes"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "indexes", "symbols.idx"), []byte("symbols"), 0o600))
	if full {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "queries", "type_of"), 0o750))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "queries", "type_of", "abc.bin"), []byte("payload"), 0o600))
	}
	return dir
}

func TestPackageRoundtrip(t *testing.T) {
	src := writeCacheDir(t, true)
	work := t.TempDir()
	archive := filepath.Join(work, "cache.tar.zst")
	dest := filepath.Join(work, "installed")

	require.NoError(t, WritePackage(src, archive, true))

	report, err := InstallPackage(archive, dest)
	require.NoError(t, err)
	require.Equal(t, 3, report.Entries)
	require.Equal(t, 3, report.VerifiedEntries)

	got, err := os.ReadFile(filepath.Join(dest, "indexes", "symbols.idx"))
	require.NoError(t, err)
	require.Equal(t, []byte("symbols"), got)
	got, err = os.ReadFile(filepath.Join(dest, "queries", "type_of", "abc.bin"))
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), got)

	_, err = os.Lstat(dest + ".old")
	require.True(t, os.IsNotExist(err), "old installation must be removed on success")

	mismatches, err := VerifyPackageDir(dest)
	require.NoError(t, err)
	require.Empty(t, mismatches)
}

func TestNonFullPackageExcludesQueries(t *testing.T) {
	src := writeCacheDir(t, true)
	work := t.TempDir()
	archive := filepath.Join(work, "cache.tar.zst")
	dest := filepath.Join(work, "installed")

	require.NoError(t, WritePackage(src, archive, false))
	report, err := InstallPackage(archive, dest)
	require.NoError(t, err)
	require.Equal(t, 2, report.Entries)

	_, err = os.Lstat(filepath.Join(dest, "queries"))
	require.True(t, os.IsNotExist(err))
}

func TestInstallReplacesExistingDestination(t *testing.T) {
	src := writeCacheDir(t, false)
	work := t.TempDir()
	archive := filepath.Join(work, "cache.tar.zst")
	dest := filepath.Join(work, "installed")

	require.NoError(t, os.MkdirAll(dest, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dest, "stale.txt"), []byte("stale"), 0o600))

	require.NoError(t, WritePackage(src, archive, false))
	_, err := InstallPackage(archive, dest)
	require.NoError(t, err)

	_, err = os.Lstat(filepath.Join(dest, "stale.txt"))
	require.True(t, os.IsNotExist(err), "previous installation contents must be fully replaced")
	_, err = os.Lstat(filepath.Join(dest, "metadata.json"))
	require.NoError(t, err)
}

func TestInstallRejectsChecksumMismatch(t *testing.T) {
	work := t.TempDir()
	archive := filepath.Join(work, "cache.tar.zst")
	dest := filepath.Join(work, "installed")

	// Build an archive by hand whose checksums.json disagrees with the
	// payload it describes.
	f, err := os.Create(archive)
	require.NoError(t, err)
	zw, err := zstd.NewWriter(f)
	require.NoError(t, err)
	tw := tar.NewWriter(zw)

	manifest, err := json.Marshal(map[string]string{
		"metadata.json": "0000000000000000000000000000000000000000000000000000000000000000",
	})
	require.NoError(t, err)
	require.NoError(t, writeTarBytes(tw, ChecksumsFileName, manifest))
	require.NoError(t, writeTarBytes(tw, "metadata.json", []byte(`{"schema_version":1}`)))
	require.NoError(t, tw.Close())
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	_, err = InstallPackage(archive, dest)
	require.Error(t, err)
	require.Contains(t, err.Error(), "checksum mismatch")

	_, err = os.Lstat(dest)
	require.True(t, os.IsNotExist(err), "a failed install must not create the destination")
}

func TestInstallRejectsPathTraversal(t *testing.T) {
	work := t.TempDir()
	archive := filepath.Join(work, "cache.tar.zst")

	f, err := os.Create(archive)
	require.NoError(t, err)
	zw, err := zstd.NewWriter(f)
	require.NoError(t, err)
	tw := tar.NewWriter(zw)
	require.NoError(t, writeTarBytes(tw, "../escape.txt", []byte("nope")))
	require.NoError(t, tw.Close())
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	_, err = InstallPackage(archive, filepath.Join(work, "installed"))
	require.Error(t, err)

	_, err = os.Lstat(filepath.Join(work, "escape.txt"))
	require.True(t, os.IsNotExist(err))
}

func TestInstallSampledVerification(t *testing.T) {
	src := writeCacheDir(t, true)
	work := t.TempDir()
	archive := filepath.Join(work, "cache.tar.zst")
	dest := filepath.Join(work, "installed")

	require.NoError(t, WritePackage(src, archive, true))
	t.Setenv(VerifySampleEnv, "2")

	report, err := InstallPackage(archive, dest)
	require.NoError(t, err)
	require.Equal(t, 2, report.SampledEntries)
}

func TestWritePackageRequiresMetadata(t *testing.T) {
	dir := t.TempDir() // no metadata.json
	err := WritePackage(dir, filepath.Join(t.TempDir(), "cache.tar.zst"), false)
	require.Error(t, err)
}
