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

// Package ids defines the process-local, monotonically allocated identities
// shared by the loader and the incremental DB inputs: ProjectId, SourceRootId
// and ClassId. FileId lives in pkg/vfs since it is allocated by the VFS
// overlay, not the loader.
package ids

import "sync"

// ProjectId identifies a build-module (Maven module, Gradle subproject,
// Bazel target set) stably across reloads. The mapping from build-module id
// to ProjectId is persistent: modules that disappear temporarily retain
// their id but are excluded from the active set.
type ProjectId uint32

// SourceRootId identifies a (project, source-root-path) pair.
type SourceRootId uint32

// ClassId identifies a (ProjectId, binary-name) pair, monotonic and
// non-reusable.
type ClassId uint32

// Registry allocates monotonic, non-reusable uint32 ids keyed by a
// comparable key. It underlies ProjectId/SourceRootId/ClassId allocation in
// pkg/loader; a FileId registry with rename semantics lives separately in
// pkg/vfs because renaming requires remapping the key, not just allocating.
type Registry[K comparable, V ~uint32] struct {
	mu   sync.Mutex
	next uint32
	ids  map[K]V
}

// NewRegistry constructs an empty monotonic registry.
func NewRegistry[K comparable, V ~uint32]() *Registry[K, V] {
	return &Registry[K, V]{ids: make(map[K]V)}
}

// IDFor returns the existing id for key, or allocates and stores a new one.
// The second return value reports whether the id was newly allocated.
func (r *Registry[K, V]) IDFor(key K) (V, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.ids[key]; ok {
		return id, false
	}
	id := V(r.next)
	r.next++
	r.ids[key] = id
	return id, true
}

// Lookup returns the id for key without allocating.
func (r *Registry[K, V]) Lookup(key K) (V, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.ids[key]
	return id, ok
}

// Len returns the number of allocated ids.
func (r *Registry[K, V]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ids)
}
