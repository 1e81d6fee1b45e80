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

package main

import (
	"context"
	"fmt"
	iofs "io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/novaide/nova/internal/errors"
	"github.com/novaide/nova/internal/ui"
	"github.com/novaide/nova/pkg/artifactcache"
	"github.com/novaide/nova/pkg/config"
	"github.com/novaide/nova/pkg/fingerprint"
	"github.com/novaide/nova/pkg/inputs"
	"github.com/novaide/nova/pkg/loader"
	"github.com/novaide/nova/pkg/memory"
	"github.com/novaide/nova/pkg/orchestrator"
	"github.com/novaide/nova/pkg/vfs"
	"github.com/novaide/nova/pkg/watch"
)

// runWatch executes the 'watch' CLI command: it loads the workspace once,
// then keeps the incremental inputs current as files change, serializing
// full reloads through the orchestrator.
func runWatch(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: nova watch

Description:
  Watch the configured source roots and build files. Source edits
  update the incremental inputs directly; build-file changes trigger a
  serialized workspace reload and reindex. Runs until interrupted.

`)
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		errors.FatalError(err, globals.JSON)
	}

	cwd, err := os.Getwd()
	if err != nil {
		errors.FatalError(errors.NewInternalError(
			"Cannot access working directory",
			"Failed to determine current directory path",
			"Check system permissions and try again",
			err,
		), globals.JSON)
	}
	// Anchor on the directory owning the discovered .nova config so
	// running from a subdirectory watches the whole workspace.
	root := config.FindWorkspaceRoot(cwd)

	logger := newLogger(globals)
	session, err := newWatchSession(cfg, root, logger)
	if err != nil {
		errors.FatalError(err, globals.JSON)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !globals.Quiet {
		_, _ = ui.Info.Printf("Watching %s (ctrl-c to stop)\n", root)
	}
	if err := session.run(ctx); err != nil && ctx.Err() == nil {
		errors.FatalError(errors.NewInternalError(
			"Watcher terminated unexpectedly",
			"The filesystem watcher stopped delivering events",
			"Re-run 'nova watch'; if this persists, check inotify limits",
			err,
		), globals.JSON)
	}
}

// watchSession ties the watcher, incremental inputs, loader, and
// orchestrator together for one workspace.
type watchSession struct {
	cfg     *config.Config
	root    string
	log     *slog.Logger
	vfsReg  *vfs.Registry
	overlay *vfs.Overlay
	db      *inputs.Db
	loader  *loader.WorkspaceLoader
	orch    *orchestrator.Orchestrator
	memMgr  *memory.Manager
	queries *artifactcache.Cache

	defs *loader.HeuristicDefinitionSource

	mu         sync.Mutex
	lastReload time.Time
}

func newWatchSession(cfg *config.Config, root string, logger *slog.Logger) (*watchSession, error) {
	cacheRoot, err := cfg.CacheRoot()
	if err != nil {
		return nil, err
	}

	s := &watchSession{
		cfg:     cfg,
		root:    root,
		log:     logger,
		vfsReg:  vfs.NewRegistry(),
		overlay: vfs.NewOverlay(vfs.OSFs{}),
		db:      inputs.NewDb(),
		memMgr:  memory.NewManager(cfg.Memory.BudgetBytes),
	}

	projectHash := fingerprint.Of([]byte(root)).String()[:16]
	queriesDir := filepath.Join(cacheRoot, projectHash, "queries")
	s.queries = artifactcache.New("QueryCache", queriesDir)
	s.queries.Memory().Register(s.memMgr, 0)

	s.defs = loader.NewHeuristicDefinitionSource(s.overlay)
	s.loader = loader.New(root, s.db, s.vfsReg, s.overlay, s.defs)
	s.orch = orchestrator.New(reloadExecutor{session: s})
	return s, nil
}

// modules returns the degenerate single-module model: build-system graph
// extraction is an external collaborator, so the watch command roots one
// module at the workspace root.
func (s *watchSession) modules() []loader.WorkspaceModule {
	abs := func(paths []string) []string {
		out := make([]string, 0, len(paths))
		for _, p := range paths {
			if !filepath.IsAbs(p) {
				p = filepath.Join(s.root, p)
			}
			out = append(out, filepath.Clean(p))
		}
		return out
	}
	return []loader.WorkspaceModule{{
		ModuleID:             "workspace:" + s.root,
		Name:                 filepath.Base(s.root),
		SourceRoots:          abs(s.cfg.Workspace.SourceRoots),
		GeneratedSourceRoots: abs(s.cfg.Workspace.GeneratedSourceRoots),
	}}
}

func (s *watchSession) run(ctx context.Context) error {
	defer s.orch.Stop()

	// Initial load before watching so the first source batches land on
	// populated inputs.
	s.orch.Enqueue(orchestrator.BuildRequest{
		Targets:     []string{s.root},
		Description: "initial workspace load",
	})

	mods := s.modules()
	catCfg := watch.DefaultCategorizeConfig(mods[0].SourceRoots, mods[0].GeneratedSourceRoots)
	w, err := watch.NewWatcher(catCfg, s, s.log)
	if err != nil {
		return err
	}

	// fsnotify does not recurse; register the workspace root (build
	// files) and every directory under the source roots. Per-directory
	// registration failures are reported and skipped, they never tear
	// down the watch.
	s.addRecursive(w, s.root, false)
	for _, sr := range mods[0].SourceRoots {
		s.addRecursive(w, sr, true)
	}
	for _, sr := range mods[0].GeneratedSourceRoots {
		s.addRecursive(w, sr, true)
	}

	return w.Run(ctx)
}

func (s *watchSession) addRecursive(w *watch.Watcher, dir string, recurse bool) {
	if !recurse {
		if err := w.Add(dir); err != nil {
			s.log.Warn("watch.add_failed", "dir", dir, "err", err)
		}
		return
	}
	_ = filepath.WalkDir(dir, func(path string, d iofs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // unreadable subtrees are skipped, not fatal
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.Add(path); err != nil {
			s.log.Warn("watch.add_failed", "dir", path, "err", err)
		}
		return nil
	})
}

// --- watch.Sink ---

// OnBatch applies a debounced batch: source batches update the inputs
// directly; build batches go through the orchestrator, subject to the
// minimum reload interval guard.
func (s *watchSession) OnBatch(b watch.Batch) {
	switch b.Category {
	case watch.Build:
		s.maybeEnqueueReload(len(b.Events))
	case watch.Source:
		s.applySourceEvents(b.Events)
	}
}

// OnError surfaces watcher errors without terminating the watch.
func (s *watchSession) OnError(err error) {
	s.log.Warn("watch.error", "err", err)
}

func (s *watchSession) maybeEnqueueReload(events int) {
	minInterval := time.Duration(s.cfg.Watch.MinReloadIntervalMs) * time.Millisecond

	s.mu.Lock()
	since := time.Since(s.lastReload)
	if since < minInterval {
		s.mu.Unlock()
		s.log.Debug("watch.reload_suppressed", "since_ms", since.Milliseconds())
		return
	}
	s.lastReload = time.Now()
	s.mu.Unlock()

	id := s.orch.Enqueue(orchestrator.BuildRequest{
		Targets:     []string{s.root},
		Description: fmt.Sprintf("build files changed (%d events)", events),
	})
	s.log.Info("watch.reload_enqueued", "build_id", id, "events", events)
}

func (s *watchSession) applySourceEvents(events []watch.NormalizedEvent) {
	for _, ev := range events {
		switch ev.Kind {
		case watch.Created, watch.Modified:
			id := s.vfsReg.FileID(ev.Path)
			if text, err := s.overlay.Read(ev.Path); err == nil {
				s.db.SetFileText(id, text)
				s.db.SetFileExists(id, true)
			} else {
				s.db.SetFileExists(id, false)
			}
		case watch.Deleted:
			id := s.vfsReg.FileID(ev.Path)
			s.db.SetFileExists(id, false)
		case watch.Moved:
			id := s.vfsReg.RenamePath(ev.From, ev.To)
			if text, err := s.overlay.Read(ev.To); err == nil {
				s.db.SetFileText(id, text)
				s.db.SetFileExists(id, true)
			}
		}
	}
	s.log.Debug("watch.source_applied", "events", len(events))
}

// reloadExecutor runs a full workspace reload and chunked reindex on the
// orchestrator's worker.
type reloadExecutor struct {
	session *watchSession
}

func (e reloadExecutor) Compile(ctx context.Context, req orchestrator.BuildRequest) error {
	s := e.session
	result, err := s.loader.Load(ctx, s.modules(), nil)
	if err != nil {
		return err
	}

	indexer := inputs.NewIndexer()
	var files []vfs.FileId
	for _, p := range result.Projects {
		files = append(files, s.db.ProjectFiles(p)...)
	}
	chunks, err := indexer.Reindex(ctx, files, func(ctx context.Context, chunk []vfs.FileId) error {
		for _, id := range chunk {
			e.indexFile(id)
		}
		return nil
	})
	if err != nil {
		return err
	}

	// A reload is the natural point to shed cache memory grown during
	// indexing; under budget this is a no-op.
	s.memMgr.RunEviction()

	s.log.Info("reload.complete",
		"projects", len(result.Projects),
		"scanned_files", result.ScannedFiles,
		"rebuilt_classpaths", len(result.RebuiltClasspaths),
		"reindex_chunks", chunks,
	)
	return nil
}

// declaredSymbolsQuery caches the binary names a file declares, keyed by
// the file's content fingerprint: an unchanged file is a cache hit across
// reloads and process restarts.
const (
	declaredSymbolsQuery         = "declared_symbols"
	declaredSymbolsSchemaVersion = uint32(1)
)

func (e reloadExecutor) indexFile(id vfs.FileId) {
	s := e.session
	path, ok := s.vfsReg.PathFor(id)
	if !ok || !s.db.FileExists(id) {
		return
	}
	text, ok := s.db.FileText(id)
	if !ok {
		return
	}
	fps := map[string]fingerprint.Fingerprint{path: fingerprint.Of(text)}

	if _, hit := s.queries.Get(declaredSymbolsQuery, declaredSymbolsSchemaVersion, path, fps); hit {
		return
	}
	names, err := s.defs.BinaryNames(path)
	if err != nil {
		return
	}
	payload := []byte(strings.Join(names, "\n"))
	s.queries.Insert(declaredSymbolsQuery, declaredSymbolsSchemaVersion, path, fps, payload, uint64(time.Now().UnixMilli()))
}
