// Copyright 2025 Nova Authors
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package inputs

import (
	"context"

	"github.com/novaide/nova/pkg/vfs"
)

// DefaultIndexChunkSize matches the chunk size the original workspace
// indexer used to avoid blocking the worker thread on very large reloads.
const DefaultIndexChunkSize = 64

// Indexer drives a full or incremental re-scan of a set of files in bounded
// chunks, so a large reindex yields between chunks instead of holding a
// single long critical section.
type Indexer struct {
	ChunkSize int

	IndexedChunks    int
	DiagnosticChunks int
	Reloads          int
}

// NewIndexer constructs an Indexer with the default chunk size.
func NewIndexer() *Indexer {
	return &Indexer{ChunkSize: DefaultIndexChunkSize}
}

// IndexFn processes one chunk of files, e.g. refreshing file_text/
// file_exists and re-running downstream diagnostics for them.
type IndexFn func(ctx context.Context, chunk []vfs.FileId) error

// Reindex splits files into ChunkSize-sized chunks and calls fn once per
// chunk, returning the number of chunks processed before ctx was cancelled
// or fn returned an error. Each call to Reindex counts as one reload.
func (ix *Indexer) Reindex(ctx context.Context, files []vfs.FileId, fn IndexFn) (int, error) {
	if ix.ChunkSize <= 0 {
		ix.ChunkSize = DefaultIndexChunkSize
	}
	ix.Reloads++

	chunks := 0
	for start := 0; start < len(files); start += ix.ChunkSize {
		end := start + ix.ChunkSize
		if end > len(files) {
			end = len(files)
		}
		select {
		case <-ctx.Done():
			return chunks, ctx.Err()
		default:
		}
		if err := fn(ctx, files[start:end]); err != nil {
			return chunks, err
		}
		chunks++
		ix.IndexedChunks++
	}
	return chunks, nil
}
