// Copyright 2025 Nova Authors
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package loader

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novaide/nova/pkg/inputs"
	"github.com/novaide/nova/pkg/vfs"
)

type diskReader struct{}

func (diskReader) Read(path string) ([]byte, error) { return os.ReadFile(path) } //nolint:gosec

type fakeDefinitions struct{}

func (fakeDefinitions) BinaryNames(path string) ([]string, error) {
	base := filepath.Base(path)
	name := base[:len(base)-len(".java")]
	return []string{"com.example." + name}, nil
}

func writeJava(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte("class "+name), 0o600))
	return p
}

func TestLoadAssignsStableProjectIdsAndScansFiles(t *testing.T) {
	root := t.TempDir()
	writeJava(t, root, "A.java")
	writeJava(t, root, "B.java")

	db := inputs.NewDb()
	vfsReg := vfs.NewRegistry()
	l := New(root, db, vfsReg, diskReader{}, fakeDefinitions{})

	modules := []WorkspaceModule{
		{ModuleID: "m1", Name: "m1", SourceRoots: []string{root}},
	}
	result, err := l.Load(context.Background(), modules, nil)
	require.NoError(t, err)
	require.Len(t, result.Projects, 1)
	assert.Equal(t, 2, result.ScannedFiles)

	project := result.Projects[0]
	files := db.ProjectFiles(project)
	assert.Len(t, files, 2)

	classIDs := db.ProjectClassIds(project)
	assert.Contains(t, classIDs, "com.example.A")
	assert.Contains(t, classIDs, "com.example.B")

	// The builtin JDK seed is part of every project's class-id union even
	// though no classpath index exists yet.
	assert.Contains(t, classIDs, "java.lang.Object")
	assert.Contains(t, classIDs, "java.lang.String")

	// Reloading the same module set must reuse the same ProjectId.
	result2, err := l.Load(context.Background(), modules, nil)
	require.NoError(t, err)
	assert.Equal(t, project, result2.Projects[0])
}

func TestLoadDeepestRootWinsOnOverlap(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "generated")
	require.NoError(t, os.MkdirAll(nested, 0o750))
	writeJava(t, nested, "Gen.java")

	db := inputs.NewDb()
	vfsReg := vfs.NewRegistry()
	l := New(root, db, vfsReg, diskReader{}, fakeDefinitions{})

	modules := []WorkspaceModule{
		{ModuleID: "outer", Name: "outer", SourceRoots: []string{root}},
		{ModuleID: "inner", Name: "inner", SourceRoots: []string{nested}},
	}
	result, err := l.Load(context.Background(), modules, nil)
	require.NoError(t, err)

	// Exactly one project should own the generated file: the one with the
	// more specific (longer) source root.
	var ownerFiles int
	for _, p := range result.Projects {
		ownerFiles += len(db.ProjectFiles(p))
	}
	assert.Equal(t, 1, ownerFiles)

	innerProject, ok := l.ProjectIDFor("inner")
	require.True(t, ok)
	assert.Len(t, db.ProjectFiles(innerProject), 1)
}

func TestLoadRebuildsClasspathOnlyWhenSpecChanges(t *testing.T) {
	root := t.TempDir()
	db := inputs.NewDb()
	vfsReg := vfs.NewRegistry()
	l := New(root, db, vfsReg, diskReader{}, fakeDefinitions{})

	modules := []WorkspaceModule{
		{ModuleID: "m1", Name: "m1", SourceRoots: []string{root}, ClasspathSpec: ClasspathSpec{Classpath: []string{"a.jar"}}},
	}
	result, err := l.Load(context.Background(), modules, nil)
	require.NoError(t, err)
	assert.Len(t, result.RebuiltClasspaths, 1)

	result2, err := l.Load(context.Background(), modules, nil)
	require.NoError(t, err)
	assert.Empty(t, result2.RebuiltClasspaths)

	modules[0].ClasspathSpec.Classpath = []string{"a.jar", "b.jar"}
	result3, err := l.Load(context.Background(), modules, nil)
	require.NoError(t, err)
	assert.Len(t, result3.RebuiltClasspaths, 1)
}

func TestHashChangeDetectorReportsChangedAndRemoved(t *testing.T) {
	det := NewHashChangeDetector()

	changed := det.Changed(map[string][]byte{"A.java": []byte("v1")})
	assert.True(t, changed["A.java"])

	changed = det.Changed(map[string][]byte{"A.java": []byte("v1")})
	assert.False(t, changed["A.java"])

	changed = det.Changed(map[string][]byte{"A.java": []byte("v2")})
	assert.True(t, changed["A.java"])

	changed = det.Changed(map[string][]byte{})
	assert.True(t, changed["A.java"])
}
