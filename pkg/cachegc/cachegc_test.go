// Copyright 2025 Nova Authors
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package cachegc

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCache(t *testing.T, root, name string, lastUpdated int64, sizeBytes int) {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o750))

	summary := CacheMetadataSummary{SchemaVersion: 1, NovaVersion: "0.1.0", LastUpdatedMillis: lastUpdated}
	data, err := json.Marshal(summary)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "metadata.json"), data, 0o600))

	if sizeBytes > 0 {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "blob.bin"), make([]byte, sizeBytes), 0o600))
	}
}

func TestEnumerateProjectCachesSkipsDepsAndReadsMetadata(t *testing.T) {
	root := t.TempDir()
	writeCache(t, root, "proj-a", 1000, 10)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "deps"), 0o750))

	caches, err := EnumerateProjectCaches(root)
	require.NoError(t, err)
	require.Len(t, caches, 1)
	assert.Equal(t, "proj-a", caches[0].Name)
	assert.EqualValues(t, 1000, caches[0].LastUpdatedMillis)
}

func TestGcProjectCachesKeepsNewestProtected(t *testing.T) {
	root := t.TempDir()
	writeCache(t, root, "oldest", 100, 1000)
	writeCache(t, root, "middle", 200, 1000)
	writeCache(t, root, "newest", 300, 1000)

	report, err := GcProjectCaches(root, CacheGcPolicy{KeepLatestN: 1, MaxTotalBytes: 1}, 1000)
	require.NoError(t, err)

	assert.NotContains(t, report.Deleted, "newest")
	assert.Contains(t, report.Deleted, "oldest")
	assert.Contains(t, report.Deleted, "middle")
	assert.Equal(t, 2, report.DeletedCaches)

	remaining, err := EnumerateProjectCaches(root)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "newest", remaining[0].Name)
}

func TestGcProjectCachesDeletesStaleByAge(t *testing.T) {
	root := t.TempDir()
	writeCache(t, root, "old", 1, 10)
	writeCache(t, root, "fresh", 9000, 10)

	report, err := GcProjectCaches(root, CacheGcPolicy{MaxAgeMs: 5000}, 10000)
	require.NoError(t, err)
	assert.Contains(t, report.Deleted, "old")
	assert.NotContains(t, report.Deleted, "fresh")
}

func TestGcProjectCachesNoPolicyDeletesNothing(t *testing.T) {
	root := t.TempDir()
	writeCache(t, root, "a", 100, 10)

	report, err := GcProjectCaches(root, CacheGcPolicy{}, 1000)
	require.NoError(t, err)
	assert.Empty(t, report.Deleted)
}

// Five equal-size caches, a budget that fits two, keep-latest two: only
// the newest two survive.
func TestGcKeepsNewestUnderBudget(t *testing.T) {
	root := t.TempDir()
	names := []string{"old1", "old2", "old3", "new", "newest"}
	for i, name := range names {
		writeCache(t, root, name, int64((i+1)*100), 4096)
	}

	caches, err := EnumerateProjectCaches(root)
	require.NoError(t, err)
	one := caches[0].SizeBytes

	report, err := GcProjectCaches(root, CacheGcPolicy{MaxTotalBytes: 2 * one, KeepLatestN: 2}, 1000)
	require.NoError(t, err)
	assert.Equal(t, 3, report.DeletedCaches)

	remaining, err := EnumerateProjectCaches(root)
	require.NoError(t, err)
	var left []string
	for _, c := range remaining {
		left = append(left, c.Name)
	}
	assert.ElementsMatch(t, []string{"new", "newest"}, left)

	var deletedSize uint64
	for _, c := range caches {
		for _, d := range report.Deleted {
			if c.Name == d {
				deletedSize += c.SizeBytes
			}
		}
	}
	assert.Equal(t, deletedSize, report.DeletedBytes)
}

func TestPlanGcMatchesGcRun(t *testing.T) {
	root := t.TempDir()
	writeCache(t, root, "oldest", 100, 1000)
	writeCache(t, root, "middle", 200, 1000)
	writeCache(t, root, "newest", 300, 1000)

	caches, err := EnumerateProjectCaches(root)
	require.NoError(t, err)

	policy := CacheGcPolicy{KeepLatestN: 1, MaxTotalBytes: 1}
	victims := PlanGc(caches, policy, 1000)

	var planned []string
	for _, v := range victims {
		planned = append(planned, v.Name)
	}

	report, err := GcProjectCaches(root, policy, 1000)
	require.NoError(t, err)
	assert.ElementsMatch(t, planned, report.Deleted)
}

func TestDeleteProjectCacheRejectsEscapingPath(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()

	err := DeleteProjectCache(root, ProjectCacheInfo{Name: "evil", Path: outside})
	require.Error(t, err)
	_, statErr := os.Stat(outside)
	require.NoError(t, statErr, "a path outside the root must never be deleted")
}
