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

// Package vfs provides the FileId registry (stable,
// monotonic, rename-aware path identity) and an editor overlay filesystem
// where open-buffer text always wins over what's on disk.
package vfs

import (
	"os"
	"path/filepath"
	"sync"
)

// FileId is a process-local, monotonically allocated integer. Once a path
// has an id the id is stable for the process lifetime; renaming a path
// transfers its id to the new path; a deleted path's id is never reused.
type FileId uint32

// Registry maps canonical paths to stable FileIds.
type Registry struct {
	mu        sync.Mutex
	next      uint32
	pathToID  map[string]FileId
	idToPath  map[FileId]string
}

// NewRegistry constructs an empty FileId registry.
func NewRegistry() *Registry {
	return &Registry{
		pathToID: make(map[string]FileId),
		idToPath: make(map[FileId]string),
	}
}

// FileID returns the stable id for path, allocating one on first lookup.
func (r *Registry) FileID(path string) FileId {
	path = normalize(path)
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fileIDLocked(path)
}

func (r *Registry) fileIDLocked(path string) FileId {
	if id, ok := r.pathToID[path]; ok {
		return id
	}
	id := FileId(r.next)
	r.next++
	r.pathToID[path] = id
	r.idToPath[id] = path
	return id
}

// RenamePath transfers from's id (allocating one if from was never seen) to
// to, and returns it. The old path is dropped from the forward map so a
// later re-creation at the old path allocates a fresh id (no reuse).
func (r *Registry) RenamePath(from, to string) FileId {
	from, to = normalize(from), normalize(to)
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.fileIDLocked(from)
	delete(r.pathToID, from)
	r.pathToID[to] = id
	r.idToPath[id] = to
	return id
}

// PathFor returns the current path for id, if known.
func (r *Registry) PathFor(id FileId) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.idToPath[id]
	return p, ok
}

// AllFileIDs returns every id ever allocated, sorted ascending. Growth is
// monotonic: a deleted path's id remains in this set forever.
func (r *Registry) AllFileIDs() []FileId {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]FileId, 0, len(r.idToPath))
	for id := range r.idToPath {
		out = append(out, id)
	}
	sortFileIDs(out)
	return out
}

func sortFileIDs(ids []FileId) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
}

func normalize(path string) string {
	return filepath.Clean(path)
}

// LocalFS reads bytes straight from disk. It is the narrow seam pkg/testkit
// replaces with an in-memory implementation for deterministic tests.
type LocalFS interface {
	ReadFile(path string) ([]byte, error)
}

// OSFs is the real, disk-backed LocalFS.
type OSFs struct{}

// ReadFile implements LocalFS.
func (OSFs) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path) //nolint:gosec // path is caller-controlled workspace path
}

// Overlay layers editor-owned, in-memory text over a LocalFS. While a path
// is "open" its overlay text always wins over disk; closing it reverts to
// disk.
type Overlay struct {
	disk LocalFS

	mu    sync.Mutex
	texts map[string][]byte
}

// NewOverlay wraps disk with an (initially empty) overlay.
func NewOverlay(disk LocalFS) *Overlay {
	return &Overlay{disk: disk, texts: make(map[string][]byte)}
}

// Open sets (or replaces) the editor-owned text for path, making reads of
// that path return text instead of disk contents until Close is called.
func (o *Overlay) Open(path string, text []byte) {
	path = normalize(path)
	o.mu.Lock()
	defer o.mu.Unlock()
	o.texts[path] = text
}

// Close reverts path to disk-backed reads.
func (o *Overlay) Close(path string) {
	path = normalize(path)
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.texts, path)
}

// IsOpen reports whether path currently has overlay-owned text.
func (o *Overlay) IsOpen(path string) bool {
	path = normalize(path)
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.texts[path]
	return ok
}

// Read returns the overlay text if path is open, otherwise reads through to
// disk. Overlay reads always win.
func (o *Overlay) Read(path string) ([]byte, error) {
	path = normalize(path)
	o.mu.Lock()
	text, ok := o.texts[path]
	o.mu.Unlock()
	if ok {
		return text, nil
	}
	return o.disk.ReadFile(path)
}
