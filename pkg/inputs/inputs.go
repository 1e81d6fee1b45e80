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

// Package inputs holds the leaf input tables that every derived query reads
// from: file text/existence, project membership, project configuration,
// classpath indexes and class-id maps. Every write replaces a whole table
// value atomically so a concurrent reader never observes a half-updated
// table.
package inputs

import (
	"sort"
	"sync"

	"github.com/novaide/nova/pkg/ids"
	"github.com/novaide/nova/pkg/vfs"
)

// ProjectConfig is the subset of build-module configuration that downstream
// queries (classpath resolution, language-level-dependent analysis) depend
// on.
type ProjectConfig struct {
	Name          string
	LanguageLevel string
	SourceRoots   []string
	TargetRelease string
}

// ClasspathEntry is one resolved classpath element.
type ClasspathEntry struct {
	Path  string
	IsJDK bool
}

// Db holds the full set of leaf input tables for one workspace. All
// exported setters replace an entire table value; readers always observe a
// self-consistent snapshot of whichever table they read; cross-table
// consistency (e.g. every file in file_project also appears in that
// project's project_files) is the loader's responsibility to establish
// before publishing.
type Db struct {
	mu sync.RWMutex

	fileText   map[vfs.FileId][]byte
	fileExists map[vfs.FileId]bool

	fileProject    map[vfs.FileId]ids.ProjectId
	projectFiles   map[ids.ProjectId][]vfs.FileId
	projectConfig  map[ids.ProjectId]ProjectConfig
	classpathIndex map[ids.ProjectId][]ClasspathEntry
	projectClassID map[ids.ProjectId]map[string]ids.ClassId

	jdkIndex []string
}

// NewDb constructs an empty input database.
func NewDb() *Db {
	return &Db{
		fileText:       make(map[vfs.FileId][]byte),
		fileExists:     make(map[vfs.FileId]bool),
		fileProject:    make(map[vfs.FileId]ids.ProjectId),
		projectFiles:   make(map[ids.ProjectId][]vfs.FileId),
		projectConfig:  make(map[ids.ProjectId]ProjectConfig),
		classpathIndex: make(map[ids.ProjectId][]ClasspathEntry),
		projectClassID: make(map[ids.ProjectId]map[string]ids.ClassId),
	}
}

// SetFileText atomically replaces the text recorded for id.
func (d *Db) SetFileText(id vfs.FileId, text []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fileText[id] = text
}

// FileText returns the recorded text for id, if any.
func (d *Db) FileText(id vfs.FileId) ([]byte, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.fileText[id]
	return t, ok
}

// SetFileExists atomically records whether id currently exists on disk or
// in an overlay. A file whose existence flips to false keeps its FileId
// (the vfs.Registry never reuses ids) but is dropped from future scans.
func (d *Db) SetFileExists(id vfs.FileId, exists bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fileExists[id] = exists
}

// FileExists reports the last recorded existence for id.
func (d *Db) FileExists(id vfs.FileId) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.fileExists[id]
}

// SetProjectFiles atomically replaces the full scanned file-set for
// project, and maintains the fileProject reverse index. The caller must
// pass the complete set: files owned by project that have dropped out are
// *not* inferred, they must simply be absent from the slice.
func (d *Db) SetProjectFiles(project ids.ProjectId, files []vfs.FileId) {
	sorted := append([]vfs.FileId(nil), files...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	d.mu.Lock()
	defer d.mu.Unlock()

	if old, ok := d.projectFiles[project]; ok {
		for _, f := range old {
			if d.fileProject[f] == project {
				delete(d.fileProject, f)
			}
		}
	}
	d.projectFiles[project] = sorted
	for _, f := range sorted {
		d.fileProject[f] = project
	}
}

// ProjectFiles returns the sorted file set owned by project.
func (d *Db) ProjectFiles(project ids.ProjectId) []vfs.FileId {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]vfs.FileId(nil), d.projectFiles[project]...)
}

// FileProject returns the owning project for a file, if scanned.
func (d *Db) FileProject(file vfs.FileId) (ids.ProjectId, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.fileProject[file]
	return p, ok
}

// SetProjectConfig atomically replaces project's configuration.
func (d *Db) SetProjectConfig(project ids.ProjectId, cfg ProjectConfig) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.projectConfig[project] = cfg
}

// ProjectConfig returns project's recorded configuration.
func (d *Db) ProjectConfig(project ids.ProjectId) (ProjectConfig, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	cfg, ok := d.projectConfig[project]
	return cfg, ok
}

// SetClasspathIndex atomically replaces project's resolved classpath.
func (d *Db) SetClasspathIndex(project ids.ProjectId, entries []ClasspathEntry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.classpathIndex[project] = append([]ClasspathEntry(nil), entries...)
}

// ClasspathIndex returns project's resolved classpath.
func (d *Db) ClasspathIndex(project ids.ProjectId) []ClasspathEntry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]ClasspathEntry(nil), d.classpathIndex[project]...)
}

// SetProjectClassIds atomically replaces the full binary-name -> ClassId map
// for project. Callers compute this as the union of source-derived binary
// names, non-JDK classpath binary names and the builtin JDK seed.
func (d *Db) SetProjectClassIds(project ids.ProjectId, byName map[string]ids.ClassId) {
	cp := make(map[string]ids.ClassId, len(byName))
	for k, v := range byName {
		cp[k] = v
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.projectClassID[project] = cp
}

// ProjectClassIds returns project's binary-name -> ClassId map.
func (d *Db) ProjectClassIds(project ids.ProjectId) map[string]ids.ClassId {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]ids.ClassId, len(d.projectClassID[project]))
	for k, v := range d.projectClassID[project] {
		out[k] = v
	}
	return out
}

// SetJDKIndex atomically replaces the global builtin-JDK binary name seed.
func (d *Db) SetJDKIndex(names []string) {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jdkIndex = sorted
}

// JDKIndex returns the global builtin-JDK binary name seed.
func (d *Db) JDKIndex() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.jdkIndex...)
}
