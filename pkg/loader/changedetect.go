// Copyright 2025 Nova Authors
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package loader

import (
	"bufio"
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/novaide/nova/pkg/fingerprint"
)

// emptyTreeSHA is git's well-known hash of the empty tree, used as the base
// ref when no prior commit is available (e.g. the very first scan).
const emptyTreeSHA = "4b825dc642cb6eb9a060e54bf8d69288fbee4904"

// GitChangeDetector lists changed paths between two refs using the local
// git binary (name-status diff, empty-tree fallback for the base), feeding
// the loader's changedFiles set.
type GitChangeDetector struct {
	RepoPath string
}

// Changed returns the set of paths that differ between baseSHA and
// headSHA. An empty baseSHA diffs against the empty tree, i.e. reports
// every path as changed.
func (g GitChangeDetector) Changed(ctx context.Context, baseSHA, headSHA string) (map[string]bool, error) {
	base := baseSHA
	if base == "" {
		base = emptyTreeSHA
	}
	head := headSHA
	if head == "" {
		head = "HEAD"
	}

	cmd := exec.CommandContext(ctx, "git", "diff", "--name-status", "-M", base, head) //nolint:gosec // refs are caller-controlled
	cmd.Dir = g.RepoPath
	out, err := cmd.Output()
	if err != nil {
		return nil, err
	}

	changed := make(map[string]bool)
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		fields := strings.Split(scanner.Text(), "\t")
		if len(fields) < 2 {
			continue
		}
		status := fields[0]
		switch {
		case strings.HasPrefix(status, "R") && len(fields) >= 3:
			changed[fields[1]] = true
			changed[fields[2]] = true
		default:
			changed[fields[1]] = true
		}
	}
	return changed, scanner.Err()
}

// HashChangeDetector falls back to content-fingerprint comparison when git
// is unavailable (e.g. the workspace is not a git checkout). It is less
// precise (it cannot distinguish a rename from a delete+create) but is
// always available.
type HashChangeDetector struct {
	previous map[string]fingerprint.Fingerprint
}

// NewHashChangeDetector constructs a detector with no prior snapshot, so
// the first Changed call reports every path as changed.
func NewHashChangeDetector() *HashChangeDetector {
	return &HashChangeDetector{previous: make(map[string]fingerprint.Fingerprint)}
}

// Changed compares current path->content fingerprints against the last
// snapshot taken, returns the changed set, and replaces the snapshot.
func (h *HashChangeDetector) Changed(current map[string][]byte) map[string]bool {
	changed := make(map[string]bool)
	next := make(map[string]fingerprint.Fingerprint, len(current))

	for path, data := range current {
		fp := fingerprint.Of(data)
		next[path] = fp
		if prev, ok := h.previous[path]; !ok || prev != fp {
			changed[path] = true
		}
	}
	for path := range h.previous {
		if _, ok := current[path]; !ok {
			changed[path] = true
		}
	}

	h.previous = next
	return changed
}
