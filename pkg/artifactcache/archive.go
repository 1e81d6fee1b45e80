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
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/novaide/nova/pkg/fingerprint"
)

// ChecksumsFileName is the top-level manifest inside a cache package
// mapping archive paths to content fingerprints.
const ChecksumsFileName = "checksums.json"

// VerifySampleEnv, when set to a positive integer n, enables a sampled
// full-content re-verification of n installed entries after a package has
// been renamed into place.
const VerifySampleEnv = "NOVA_CACHE_PACKAGE_VERIFY_SAMPLE"

// maxArchiveEntryBytes bounds a single entry a reader is willing to
// extract; anything larger is treated as a corrupt package.
const maxArchiveEntryBytes = 1 << 31

// fullPackageSubtrees are included only when packing with full=true.
var fullPackageSubtrees = []string{"queries", "ast"}

// InstallReport summarizes one InstallPackage run.
type InstallReport struct {
	Entries         int
	VerifiedEntries int
	SampledEntries  int
}

// WritePackage archives a project cache directory into a .tar.zst at dest.
// The archive always carries checksums.json, metadata.json, the optional
// metadata.bin, and the indexes/ tree; full packages add queries/ and
// ast/.
func WritePackage(cacheDir, dest string, full bool) error {
	entries, err := collectPackageEntries(cacheDir, full)
	if err != nil {
		return err
	}

	checksums := make(map[string]string, len(entries))
	for _, rel := range entries {
		fp, err := fingerprint.OfFile(filepath.Join(cacheDir, filepath.FromSlash(rel)))
		if err != nil {
			return fmt.Errorf("artifactcache: fingerprint %s: %w", rel, err)
		}
		checksums[rel] = fp.String()
	}
	manifest, err := json.MarshalIndent(checksums, "", "  ")
	if err != nil {
		return err
	}

	tmp := dest + ".tmp"
	f, err := os.Create(tmp) //nolint:gosec // dest is an operator-supplied output path
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
		_ = os.Remove(tmp)
	}()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return err
	}
	tw := tar.NewWriter(zw)

	if err := writeTarBytes(tw, ChecksumsFileName, manifest); err != nil {
		return err
	}
	for _, rel := range entries {
		if err := writeTarFile(tw, cacheDir, rel); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, dest)
}

// InstallPackage extracts a cache package next to dest, verifies every
// entry against checksums.json, then atomically swaps it into place. The
// previous installation is kept as <dest>.old until the swap succeeds.
// With NOVA_CACHE_PACKAGE_VERIFY_SAMPLE=<n> set, up to n entries are
// re-read from the final destination and re-fingerprinted after the swap.
func InstallPackage(archivePath, dest string) (InstallReport, error) {
	report := InstallReport{}

	staging := fmt.Sprintf("%s.install-%d", dest, os.Getpid())
	if err := os.MkdirAll(staging, 0o750); err != nil {
		return report, err
	}
	defer func() { _ = os.RemoveAll(staging) }()

	if err := extractArchive(archivePath, staging); err != nil {
		return report, err
	}

	checksums, err := readChecksums(staging)
	if err != nil {
		return report, err
	}
	report.Entries = len(checksums)

	mismatches, err := verifyChecksums(staging, checksums)
	if err != nil {
		return report, err
	}
	if len(mismatches) > 0 {
		return report, fmt.Errorf("artifactcache: checksum mismatch in %d entr%s (first: %s)",
			len(mismatches), plural(len(mismatches), "y", "ies"), mismatches[0])
	}
	report.VerifiedEntries = len(checksums)

	old := dest + ".old"
	hadOld := false
	if _, err := os.Lstat(dest); err == nil {
		_ = os.RemoveAll(old)
		if err := os.Rename(dest, old); err != nil {
			return report, err
		}
		hadOld = true
	}
	if err := os.Rename(staging, dest); err != nil {
		if hadOld {
			_ = os.Rename(old, dest)
		}
		return report, err
	}
	if hadOld {
		_ = os.RemoveAll(old)
	}

	if n := sampleCount(); n > 0 {
		sampled, err := verifySample(dest, checksums, n)
		if err != nil {
			return report, err
		}
		report.SampledEntries = sampled
	}

	return report, nil
}

// VerifyPackageDir re-fingerprints every entry listed in an installed
// package's checksums.json and returns the archive paths that no longer
// match.
func VerifyPackageDir(dir string) ([]string, error) {
	checksums, err := readChecksums(dir)
	if err != nil {
		return nil, err
	}
	return verifyChecksums(dir, checksums)
}

func collectPackageEntries(cacheDir string, full bool) ([]string, error) {
	var out []string

	appendFile := func(rel string) error {
		st, err := os.Lstat(filepath.Join(cacheDir, filepath.FromSlash(rel)))
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if st.Mode().IsRegular() {
			out = append(out, rel)
		}
		return nil
	}
	appendTree := func(sub string) error {
		root := filepath.Join(cacheDir, sub)
		return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				return err
			}
			if d.IsDir() || !d.Type().IsRegular() {
				return nil
			}
			rel, err := filepath.Rel(cacheDir, p)
			if err != nil {
				return err
			}
			out = append(out, filepath.ToSlash(rel))
			return nil
		})
	}

	if err := appendFile("metadata.json"); err != nil {
		return nil, err
	}
	if err := appendFile("metadata.bin"); err != nil {
		return nil, err
	}
	if err := appendTree("indexes"); err != nil {
		return nil, err
	}
	if full {
		for _, sub := range fullPackageSubtrees {
			if err := appendTree(sub); err != nil {
				return nil, err
			}
		}
	}

	sort.Strings(out)
	if !contains(out, "metadata.json") {
		return nil, fmt.Errorf("artifactcache: %s has no metadata.json, refusing to pack", cacheDir)
	}
	return out, nil
}

func contains(xs []string, want string) bool {
	for _, x := range xs {
		if x == want {
			return true
		}
	}
	return false
}

func writeTarBytes(tw *tar.Writer, name string, data []byte) error {
	hdr := &tar.Header{
		Name: name,
		Mode: 0o644,
		Size: int64(len(data)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := tw.Write(data)
	return err
}

func writeTarFile(tw *tar.Writer, cacheDir, rel string) error {
	full := filepath.Join(cacheDir, filepath.FromSlash(rel))
	st, err := os.Lstat(full)
	if err != nil {
		return err
	}
	hdr := &tar.Header{
		Name:    rel,
		Mode:    0o644,
		Size:    st.Size(),
		ModTime: st.ModTime(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	f, err := os.Open(full) //nolint:gosec // rel comes from our own directory walk
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	_, err = io.Copy(tw, f)
	return err
}

func extractArchive(archivePath, dest string) error {
	f, err := os.Open(archivePath) //nolint:gosec // operator-supplied archive path
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		rel, err := safeArchivePath(hdr.Name)
		if err != nil {
			return err
		}
		if hdr.Size > maxArchiveEntryBytes {
			return fmt.Errorf("artifactcache: entry %s exceeds the per-entry size bound", rel)
		}
		target := filepath.Join(dest, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
			return err
		}
		out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600) //nolint:gosec // target validated by safeArchivePath
		if err != nil {
			return err
		}
		if _, err := io.CopyN(out, tr, hdr.Size); err != nil && err != io.EOF {
			_ = out.Close()
			return err
		}
		if err := out.Close(); err != nil {
			return err
		}
	}
}

// safeArchivePath rejects absolute paths and parent-directory traversal in
// archive entry names.
func safeArchivePath(name string) (string, error) {
	clean := path.Clean(name)
	if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("artifactcache: archive entry %q escapes the install directory", name)
	}
	return clean, nil
}

func readChecksums(dir string) (map[string]fingerprint.Fingerprint, error) {
	data, err := os.ReadFile(filepath.Join(dir, ChecksumsFileName)) //nolint:gosec
	if err != nil {
		return nil, err
	}
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("artifactcache: corrupt %s: %w", ChecksumsFileName, err)
	}
	out := make(map[string]fingerprint.Fingerprint, len(raw))
	for rel, s := range raw {
		fp, err := fingerprint.ParseFingerprint(s)
		if err != nil {
			return nil, fmt.Errorf("artifactcache: corrupt fingerprint for %s: %w", rel, err)
		}
		out[rel] = fp
	}
	return out, nil
}

func verifyChecksums(dir string, checksums map[string]fingerprint.Fingerprint) ([]string, error) {
	rels := make([]string, 0, len(checksums))
	for rel := range checksums {
		rels = append(rels, rel)
	}
	sort.Strings(rels)

	var mismatches []string
	for _, rel := range rels {
		got, err := fingerprint.OfFile(filepath.Join(dir, filepath.FromSlash(rel)))
		if err != nil || got != checksums[rel] {
			mismatches = append(mismatches, rel)
		}
	}
	return mismatches, nil
}

// verifySample re-reads up to n entries evenly spread across the sorted
// entry list, so repeated installs exercise a stable, reproducible subset.
func verifySample(dir string, checksums map[string]fingerprint.Fingerprint, n int) (int, error) {
	rels := make([]string, 0, len(checksums))
	for rel := range checksums {
		rels = append(rels, rel)
	}
	sort.Strings(rels)
	if n > len(rels) {
		n = len(rels)
	}
	if n == 0 {
		return 0, nil
	}

	step := len(rels) / n
	if step == 0 {
		step = 1
	}
	verified := 0
	for i := 0; i < len(rels) && verified < n; i += step {
		rel := rels[i]
		got, err := fingerprint.OfFile(filepath.Join(dir, filepath.FromSlash(rel)))
		if err != nil {
			return verified, fmt.Errorf("artifactcache: sampled verify of %s: %w", rel, err)
		}
		if got != checksums[rel] {
			return verified, fmt.Errorf("artifactcache: sampled verify of %s: content changed after install", rel)
		}
		verified++
	}
	return verified, nil
}

func sampleCount() int {
	v := os.Getenv(VerifySampleEnv)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
