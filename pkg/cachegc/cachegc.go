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

// Package cachegc enumerates on-disk project caches and reclaims space
// from the oldest/stalest ones under an age and total-size budget, while
// always protecting the newest N caches.
package cachegc

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// CacheMetadataSummary is the minimal information every project cache
// directory records about itself, used to drive GC decisions without
// opening the full cache.
type CacheMetadataSummary struct {
	SchemaVersion     uint32 `json:"schema_version"`
	NovaVersion       string `json:"nova_version"`
	LastUpdatedMillis int64  `json:"last_updated_millis"`
}

// ProjectCacheInfo describes one on-disk project cache directory.
type ProjectCacheInfo struct {
	Name              string
	Path              string
	SizeBytes         uint64
	LastUpdatedMillis int64 // 0 when unknown
	NovaVersion       string
	SchemaVersion     uint32
}

// CacheGcPolicy controls how aggressively GcProjectCaches reclaims space.
// A zero value for MaxTotalBytes or MaxAgeMs disables that criterion.
type CacheGcPolicy struct {
	MaxTotalBytes uint64
	MaxAgeMs      int64
	KeepLatestN   int
}

// CacheGcFailure records one cache directory GC could not delete.
type CacheGcFailure struct {
	Cache string
	Error string
}

// CacheGcReport summarizes one GcProjectCaches run.
type CacheGcReport struct {
	BeforeTotalBytes uint64
	AfterTotalBytes  uint64
	DeletedBytes     uint64
	DeletedCaches    int
	Deleted          []string
	Failed           []CacheGcFailure
}

const depsDirName = "deps"

// CacheRoot returns the default cache root, honoring NOVA_CACHE_DIR.
func CacheRoot() (string, error) {
	if v := os.Getenv("NOVA_CACHE_DIR"); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".nova", "cache"), nil
}

// EnumerateProjectCaches lists every project cache directory under root,
// except the shared "deps" directory, sorted by name for determinism.
// Metadata is read without following symlinks and falls back through
// metadata.bin (reserved for a future binary format, currently treated the
// same as the JSON form) -> metadata.json -> perf.json's mtime -> the
// directory's own mtime.
func EnumerateProjectCaches(root string) ([]ProjectCacheInfo, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []ProjectCacheInfo
	for _, e := range entries {
		if e.Name() == depsDirName {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.Mode().IsDir() {
			continue
		}
		path := filepath.Join(root, e.Name())
		size, err := dirSizeBytesNofollow(path)
		if err != nil {
			continue
		}
		summary, lastUpdated := readMetadataSummary(path, info)
		out = append(out, ProjectCacheInfo{
			Name:              e.Name(),
			Path:              path,
			SizeBytes:         size,
			LastUpdatedMillis: lastUpdated,
			NovaVersion:       summary.NovaVersion,
			SchemaVersion:     summary.SchemaVersion,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func readMetadataSummary(dir string, dirInfo os.FileInfo) (CacheMetadataSummary, int64) {
	for _, name := range []string{"metadata.bin", "metadata.json"} {
		p := filepath.Join(dir, name)
		if st, err := os.Lstat(p); err == nil && st.Mode().IsRegular() {
			if data, err := os.ReadFile(p); err == nil { //nolint:gosec
				var summary CacheMetadataSummary
				if json.Unmarshal(data, &summary) == nil && summary.LastUpdatedMillis != 0 {
					return summary, summary.LastUpdatedMillis
				}
			}
		}
	}

	perfPath := filepath.Join(dir, "perf.json")
	if st, err := os.Lstat(perfPath); err == nil && st.Mode().IsRegular() {
		return CacheMetadataSummary{}, st.ModTime().UnixMilli()
	}

	return CacheMetadataSummary{}, dirInfo.ModTime().UnixMilli()
}

// GcProjectCaches deletes project caches under policy, always protecting
// the KeepLatestN newest (tie-broken by name), then deleting stale caches
// (older than MaxAgeMs, oldest first) if MaxAgeMs is set, then deleting
// remaining unprotected caches oldest-first until total size is at or
// below MaxTotalBytes.
func GcProjectCaches(root string, policy CacheGcPolicy, nowMillis int64) (CacheGcReport, error) {
	caches, err := EnumerateProjectCaches(root)
	if err != nil {
		return CacheGcReport{}, err
	}

	report := CacheGcReport{}
	var total uint64
	for _, c := range caches {
		total = saturatingAdd(total, c.SizeBytes)
	}
	report.BeforeTotalBytes = total
	report.AfterTotalBytes = total

	sort.Slice(caches, func(i, j int) bool {
		if caches[i].LastUpdatedMillis != caches[j].LastUpdatedMillis {
			return caches[i].LastUpdatedMillis > caches[j].LastUpdatedMillis
		}
		return caches[i].Name < caches[j].Name
	})

	protected := make(map[string]bool)
	for i := 0; i < len(caches) && i < policy.KeepLatestN; i++ {
		protected[caches[i].Name] = true
	}

	remaining := make([]ProjectCacheInfo, 0, len(caches))
	for _, c := range caches {
		if protected[c.Name] {
			continue
		}
		remaining = append(remaining, c)
	}

	deleteOne := func(c ProjectCacheInfo) {
		if err := deleteCacheDir(root, c.Path); err != nil {
			report.Failed = append(report.Failed, CacheGcFailure{Cache: c.Name, Error: err.Error()})
			return
		}
		report.Deleted = append(report.Deleted, c.Name)
		report.DeletedCaches++
		report.DeletedBytes = saturatingAdd(report.DeletedBytes, c.SizeBytes)
		report.AfterTotalBytes = saturatingSub(report.AfterTotalBytes, c.SizeBytes)
	}

	sort.Slice(remaining, func(i, j int) bool {
		return remaining[i].LastUpdatedMillis < remaining[j].LastUpdatedMillis
	})

	var stillRemaining []ProjectCacheInfo
	if policy.MaxAgeMs > 0 {
		for _, c := range remaining {
			if isStale(c, policy.MaxAgeMs, nowMillis) {
				deleteOne(c)
			} else {
				stillRemaining = append(stillRemaining, c)
			}
		}
	} else {
		stillRemaining = remaining
	}

	// Oldest-first among what's left until under the total budget.
	sort.Slice(stillRemaining, func(i, j int) bool {
		return stillRemaining[i].LastUpdatedMillis < stillRemaining[j].LastUpdatedMillis
	})
	if policy.MaxTotalBytes > 0 {
		for _, c := range stillRemaining {
			if report.AfterTotalBytes <= policy.MaxTotalBytes {
				break
			}
			deleteOne(c)
		}
	}

	return report, nil
}

// DeleteProjectCache removes one enumerated cache directory with the same
// safety rules a full GC run applies: the path must lie under root, and
// symlinks are never followed. Callers driving a PlanGc result one
// deletion at a time (e.g. for progress display) use this instead of
// GcProjectCaches.
func DeleteProjectCache(root string, c ProjectCacheInfo) error {
	return deleteCacheDir(root, c.Path)
}

// PlanGc returns the caches a GcProjectCaches run with the same inputs
// would delete, in deletion order, without touching the filesystem. Used
// for dry-run previews; the real run can still diverge when an individual
// deletion fails.
func PlanGc(caches []ProjectCacheInfo, policy CacheGcPolicy, nowMillis int64) []ProjectCacheInfo {
	sorted := append([]ProjectCacheInfo(nil), caches...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].LastUpdatedMillis != sorted[j].LastUpdatedMillis {
			return sorted[i].LastUpdatedMillis > sorted[j].LastUpdatedMillis
		}
		return sorted[i].Name < sorted[j].Name
	})

	var total uint64
	for _, c := range sorted {
		total = saturatingAdd(total, c.SizeBytes)
	}

	protected := make(map[string]bool)
	for i := 0; i < len(sorted) && i < policy.KeepLatestN; i++ {
		protected[sorted[i].Name] = true
	}

	var victims []ProjectCacheInfo
	var remaining []ProjectCacheInfo
	for i := len(sorted) - 1; i >= 0; i-- {
		c := sorted[i]
		if protected[c.Name] {
			continue
		}
		if policy.MaxAgeMs > 0 && isStale(c, policy.MaxAgeMs, nowMillis) {
			victims = append(victims, c)
			total = saturatingSub(total, c.SizeBytes)
			continue
		}
		remaining = append(remaining, c)
	}

	sort.Slice(remaining, func(i, j int) bool {
		return remaining[i].LastUpdatedMillis < remaining[j].LastUpdatedMillis
	})
	if policy.MaxTotalBytes > 0 {
		for _, c := range remaining {
			if total <= policy.MaxTotalBytes {
				break
			}
			victims = append(victims, c)
			total = saturatingSub(total, c.SizeBytes)
		}
	}
	return victims
}

// isStale reports whether a cache has not been updated within maxAgeMs. A
// cache with no recorded timestamp is always treated as stale.
func isStale(c ProjectCacheInfo, maxAgeMs, nowMillis int64) bool {
	if c.LastUpdatedMillis == 0 {
		return true
	}
	return nowMillis-c.LastUpdatedMillis > maxAgeMs
}

func saturatingAdd(a, b uint64) uint64 {
	sum := a + b
	if sum < a {
		return ^uint64(0)
	}
	return sum
}

func saturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

// deleteCacheDir removes a project cache directory. It first validates
// path is lexically under root (defense against a malformed entry name
// escaping the cache root), then, for a symlinked cache dir, removes the
// link directly; otherwise it renames the directory to a unique sibling
// name before recursively removing it, so a concurrent reader that already
// opened a file inside never has files vanish out from under it mid-walk.
// If the rename fails (e.g. cross-device), it falls back to an in-place
// removal.
func deleteCacheDir(root, path string) error {
	if err := validateUnderRoot(root, path); err != nil {
		return err
	}

	st, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if st.Mode()&os.ModeSymlink != 0 {
		return os.Remove(path)
	}

	staging, err := uniqueSiblingPath(path)
	if err == nil {
		if renameErr := os.Rename(path, staging); renameErr == nil {
			return removeDirAllNofollow(staging)
		}
	}
	return removeDirAllNofollow(path)
}

func validateUnderRoot(root, path string) error {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return err
	}
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return fmt.Errorf("cachegc: %q escapes root %q", path, root)
	}
	return nil
}

func uniqueSiblingPath(path string) (string, error) {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	pid := os.Getpid()
	now := time.Now().UnixNano()
	for attempt := 0; attempt < 1000; attempt++ {
		candidate := filepath.Join(dir, fmt.Sprintf(".%s.gc-%d-%d-%d", base, pid, now, attempt))
		if _, err := os.Lstat(candidate); os.IsNotExist(err) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("cachegc: could not allocate a unique sibling for %q", path)
}

func dirSizeBytesNofollow(path string) (uint64, error) {
	var total uint64
	entries, err := os.ReadDir(path)
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		full := filepath.Join(path, e.Name())
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.Mode()&os.ModeSymlink != 0 {
			continue
		}
		if info.IsDir() {
			sub, err := dirSizeBytesNofollow(full)
			if err == nil {
				total = saturatingAdd(total, sub)
			}
			continue
		}
		total = saturatingAdd(total, uint64(info.Size()))
	}
	return total, nil
}

func removeDirAllNofollow(path string) error {
	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		full := filepath.Join(path, e.Name())
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.Mode()&os.ModeSymlink != 0 {
			if rmErr := os.Remove(full); rmErr != nil {
				return rmErr
			}
			continue
		}
		if info.IsDir() {
			if rmErr := removeDirAllNofollow(full); rmErr != nil {
				return rmErr
			}
			continue
		}
		if rmErr := os.Remove(full); rmErr != nil {
			return rmErr
		}
	}
	return os.Remove(path)
}
