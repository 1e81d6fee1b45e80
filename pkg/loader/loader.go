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

// Package loader turns a build system's
// module graph into stable ProjectId/SourceRootId/ClassId assignments,
// scans source roots for files, and publishes the result into pkg/inputs.
//
// Parsing Java source to discover the binary names a file declares is
// not this package's job: the loader instead asks a narrow
// DefinitionSource seam for that information, the same way it treats
// classpath jar introspection as an externally supplied input.
package loader

import (
	"context"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/novaide/nova/pkg/ids"
	"github.com/novaide/nova/pkg/inputs"
	"github.com/novaide/nova/pkg/vfs"
)

// BuiltinJDKBinaryNames is the seed of java.lang core types every
// compilation unit references implicitly. It is unioned into every
// project's class-id space at load time so these names resolve to stable
// ids even before any JDK classpath index has been built.
var BuiltinJDKBinaryNames = []string{
	"java.lang.AutoCloseable",
	"java.lang.Boolean",
	"java.lang.Byte",
	"java.lang.CharSequence",
	"java.lang.Character",
	"java.lang.Class",
	"java.lang.Cloneable",
	"java.lang.Comparable",
	"java.lang.Deprecated",
	"java.lang.Double",
	"java.lang.Enum",
	"java.lang.Error",
	"java.lang.Exception",
	"java.lang.Float",
	"java.lang.FunctionalInterface",
	"java.lang.Integer",
	"java.lang.Iterable",
	"java.lang.Long",
	"java.lang.Math",
	"java.lang.Number",
	"java.lang.Object",
	"java.lang.Override",
	"java.lang.Record",
	"java.lang.Runnable",
	"java.lang.RuntimeException",
	"java.lang.SafeVarargs",
	"java.lang.Short",
	"java.lang.String",
	"java.lang.StringBuilder",
	"java.lang.SuppressWarnings",
	"java.lang.System",
	"java.lang.Thread",
	"java.lang.Throwable",
	"java.lang.Void",
	"java.lang.annotation.Annotation",
}

// ClasspathSpec is the subset of module configuration that determines
// whether a project's resolved classpath needs to be rebuilt. Two specs
// that compare equal mean the existing classpath index can be reused.
type ClasspathSpec struct {
	Classpath     []string
	ModulePath    []string
	TargetRelease string
}

func (a ClasspathSpec) equal(b ClasspathSpec) bool {
	if a.TargetRelease != b.TargetRelease {
		return false
	}
	return stringSliceEqual(a.Classpath, b.Classpath) && stringSliceEqual(a.ModulePath, b.ModulePath)
}

func stringSliceEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// WorkspaceModule is one build-module as reported by a build system
// integration (Maven/Gradle/Bazel adapters all converge on this shape
// before reaching the loader).
type WorkspaceModule struct {
	ModuleID             string
	Name                 string
	LanguageLevel        string
	SourceRoots          []string
	GeneratedSourceRoots []string
	ClasspathSpec        ClasspathSpec
	// ClasspathBinaryNames is the set of JVM binary names visible on this
	// module's resolved classpath, as discovered by whatever jar-indexing
	// component produced the classpath (out of scope here, same as source
	// parsing).
	ClasspathBinaryNames []string
}

// DefinitionSource discovers the JVM binary names a source file declares.
// The loader treats it as an opaque capability so that plugging in a real
// Java parser never requires touching loader logic.
type DefinitionSource interface {
	BinaryNames(path string) ([]string, error)
}

// FileReader is the narrow disk/overlay read seam the loader uses to
// refresh file_text for new or changed files.
type FileReader interface {
	Read(path string) ([]byte, error)
}

// WorkspaceLoadError wraps a failure encountered while loading a module.
type WorkspaceLoadError struct {
	ModuleID string
	Err      error
}

func (e *WorkspaceLoadError) Error() string {
	return "load module " + e.ModuleID + ": " + e.Err.Error()
}

func (e *WorkspaceLoadError) Unwrap() error { return e.Err }

// LoadResult summarizes one Load call.
type LoadResult struct {
	Projects          []ids.ProjectId
	RebuiltClasspaths []ids.ProjectId
	ScannedFiles      int
}

// WorkspaceLoader owns the project/source-root/class id assignments for a
// workspace and keeps pkg/inputs in sync with the build system's module
// graph.
type WorkspaceLoader struct {
	workspaceRoot string
	db            *inputs.Db
	vfsReg        *vfs.Registry
	reader        FileReader
	definitions   DefinitionSource

	moduleToProject *ids.Registry[string, ids.ProjectId]
	sourceRootIDs   *ids.Registry[string, ids.SourceRootId]

	classpathSpecs map[ids.ProjectId]ClasspathSpec
	classIDsByProj map[ids.ProjectId]*ids.Registry[string, ids.ClassId]
}

// New constructs a WorkspaceLoader and seeds db's JDK index with the
// builtin binary names.
func New(workspaceRoot string, db *inputs.Db, vfsReg *vfs.Registry, reader FileReader, defs DefinitionSource) *WorkspaceLoader {
	db.SetJDKIndex(BuiltinJDKBinaryNames)
	return &WorkspaceLoader{
		workspaceRoot:   workspaceRoot,
		db:              db,
		vfsReg:          vfsReg,
		reader:          reader,
		definitions:     defs,
		moduleToProject: ids.NewRegistry[string, ids.ProjectId](),
		sourceRootIDs:   ids.NewRegistry[string, ids.SourceRootId](),
		classpathSpecs:  make(map[ids.ProjectId]ClasspathSpec),
		classIDsByProj:  make(map[ids.ProjectId]*ids.Registry[string, ids.ClassId]),
	}
}

// WorkspaceRoot returns the workspace root path.
func (l *WorkspaceLoader) WorkspaceRoot() string { return l.workspaceRoot }

// ProjectIDFor returns the stable ProjectId for a build-module id, if one
// has been assigned.
func (l *WorkspaceLoader) ProjectIDFor(moduleID string) (ids.ProjectId, bool) {
	return l.moduleToProject.Lookup(moduleID)
}

// Load processes the full module set: it assigns stable ids, rebuilds
// classpath indexes whose spec changed, scans source roots (deepest-owning
// root wins on overlap), refreshes file_text for new or changed files,
// marks disappeared files absent without reusing their ids, and recomputes
// each project's binary-name -> ClassId map.
//
// changedFiles, when non-nil, restricts content refresh to files known to
// have changed plus any file seen for the first time; when nil every
// scanned file's content is refreshed.
func (l *WorkspaceLoader) Load(ctx context.Context, modules []WorkspaceModule, changedFiles map[string]bool) (LoadResult, error) {
	sorted := append([]WorkspaceModule(nil), modules...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ModuleID < sorted[j].ModuleID })

	result := LoadResult{}
	type ownedRoot struct {
		root    string
		project ids.ProjectId
	}
	var roots []ownedRoot

	for _, m := range sorted {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		project, _ := l.moduleToProject.IDFor(m.ModuleID)
		result.Projects = append(result.Projects, project)

		l.db.SetProjectConfig(project, inputs.ProjectConfig{
			Name:          m.Name,
			LanguageLevel: m.LanguageLevel,
			SourceRoots:   m.SourceRoots,
			TargetRelease: m.ClasspathSpec.TargetRelease,
		})

		prev, had := l.classpathSpecs[project]
		if !had || !prev.equal(m.ClasspathSpec) {
			l.classpathSpecs[project] = m.ClasspathSpec
			l.db.SetClasspathIndex(project, classpathEntries(m.ClasspathSpec))
			result.RebuiltClasspaths = append(result.RebuiltClasspaths, project)
		}

		for _, r := range m.SourceRoots {
			roots = append(roots, ownedRoot{root: filepath.Clean(r), project: project})
			l.sourceRootIDs.IDFor(r)
		}
		for _, r := range m.GeneratedSourceRoots {
			roots = append(roots, ownedRoot{root: filepath.Clean(r), project: project})
			l.sourceRootIDs.IDFor(r)
		}
	}

	// Deepest (longest path) root wins ownership of a file reachable
	// through more than one module's roots.
	sort.Slice(roots, func(i, j int) bool { return len(roots[i].root) > len(roots[j].root) })

	scannedByProject := make(map[ids.ProjectId][]vfs.FileId)
	seenPaths := make(map[string]bool)

	for _, rt := range roots {
		files, err := scanJavaFiles(rt.root)
		if err != nil {
			continue
		}
		for _, path := range files {
			if seenPaths[path] {
				continue // already claimed by a more specific root
			}
			seenPaths[path] = true

			id := l.vfsReg.FileID(path)
			scannedByProject[rt.project] = append(scannedByProject[rt.project], id)
			result.ScannedFiles++

			isNew := !l.db.FileExists(id)
			changed := changedFiles == nil || changedFiles[path]
			l.db.SetFileExists(id, true)
			if isNew || changed {
				if text, err := l.reader.Read(path); err == nil {
					l.db.SetFileText(id, text)
				}
			}
		}
	}

	for _, m := range sorted {
		project, _ := l.moduleToProject.Lookup(m.ModuleID)
		for _, prevID := range l.db.ProjectFiles(project) {
			if path, ok := l.vfsReg.PathFor(prevID); ok && !seenPaths[path] {
				l.db.SetFileExists(prevID, false)
			}
		}
		l.db.SetProjectFiles(project, scannedByProject[project])
	}

	for _, m := range sorted {
		project, _ := l.moduleToProject.Lookup(m.ModuleID)
		if err := l.applyProjectClassIDs(project, m); err != nil {
			return result, &WorkspaceLoadError{ModuleID: m.ModuleID, Err: err}
		}
	}

	return result, nil
}

func (l *WorkspaceLoader) applyProjectClassIDs(project ids.ProjectId, m WorkspaceModule) error {
	reg, ok := l.classIDsByProj[project]
	if !ok {
		reg = ids.NewRegistry[string, ids.ClassId]()
		l.classIDsByProj[project] = reg
	}

	nameSet := make(map[string]struct{})
	for _, fileID := range l.db.ProjectFiles(project) {
		path, ok := l.vfsReg.PathFor(fileID)
		if !ok {
			continue
		}
		names, err := l.definitions.BinaryNames(path)
		if err != nil {
			continue
		}
		for _, n := range names {
			nameSet[n] = struct{}{}
		}
	}
	for _, n := range m.ClasspathBinaryNames {
		if strings.HasPrefix(n, "java.") {
			continue
		}
		nameSet[n] = struct{}{}
	}
	for _, n := range l.db.JDKIndex() {
		nameSet[n] = struct{}{}
	}

	names := make([]string, 0, len(nameSet))
	for n := range nameSet {
		names = append(names, n)
	}
	sort.Strings(names)

	byName := make(map[string]ids.ClassId, len(names))
	for _, n := range names {
		id, _ := reg.IDFor(n)
		byName[n] = id
	}
	l.db.SetProjectClassIds(project, byName)
	return nil
}

func classpathEntries(spec ClasspathSpec) []inputs.ClasspathEntry {
	out := make([]inputs.ClasspathEntry, 0, len(spec.Classpath)+len(spec.ModulePath))
	for _, p := range spec.Classpath {
		out = append(out, inputs.ClasspathEntry{Path: p, IsJDK: isJDKPath(p)})
	}
	for _, p := range spec.ModulePath {
		out = append(out, inputs.ClasspathEntry{Path: p, IsJDK: isJDKPath(p)})
	}
	return out
}

func isJDKPath(p string) bool {
	return strings.Contains(p, "jmods") || strings.Contains(p, "jrt-fs.jar")
}

func scanJavaFiles(root string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // a missing/unreadable root just yields no files
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".java") {
			out = append(out, filepath.Clean(path))
		}
		return nil
	})
	sort.Strings(out)
	return out, err
}
