// Copyright 2025 KrakLabs
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
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package differential scopes verification to what actually changed: it
// prefers asking the local VCS what's different since a base reference,
// falls back to comparing content hashes against a recorded baseline when
// there's no repository (or no resolvable commit), and extends the raw
// changed-file set to its dependents via the dependency graph.
package differential

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/kraklabs/elenchus/pkg/graph"
)

// Method identifies how a DiffResult was produced.
type Method string

const (
	MethodGit    Method = "git"
	MethodHash   Method = "hash"
	MethodHybrid Method = "hybrid"
)

// ChangeStatus mirrors model.ChangeStatus; kept local to avoid a forward
// import (model doesn't need to know about differential).
type ChangeStatus string

const (
	StatusAdded     ChangeStatus = "added"
	StatusModified  ChangeStatus = "modified"
	StatusDeleted   ChangeStatus = "deleted"
	StatusRenamed   ChangeStatus = "renamed"
	StatusUnchanged ChangeStatus = "unchanged"
)

const maxHunkLines = 100

// ChangedFile is one file entry in a DiffResult.
type ChangedFile struct {
	Path      string       `json:"path"`
	Status    ChangeStatus `json:"status"`
	Hunks     string       `json:"hunks,omitempty"`
	Truncated bool         `json:"truncated,omitempty"`
}

// DiffResult is the outcome of a differential scan.
type DiffResult struct {
	Method       Method        `json:"method"`
	BaseRef      string        `json:"baseRef"`
	ChangedFiles []ChangedFile `json:"changedFiles"`
	Summary      string        `json:"summary"`
}

//go:generate mockgen -source=differential.go -destination=mock_gitrunner_test.go -package=differential

// GitRunner executes git commands in a repository root. Implementations
// must be safe to wrap with a circuit breaker (Run may be called
// concurrently across sessions once a breaker trips).
type GitRunner interface {
	Run(ctx context.Context, args ...string) (string, error)
	RepoPath() string
}

// GitExecutor is the default GitRunner, shelling out to the system git
// binary with a bounded output buffer.
type GitExecutor struct {
	repoPath string
}

const maxGitOutputBytes = 10 << 20 // 10 MiB, per the bounded-output-buffer requirement

// NewGitExecutor discovers the repository root containing startPath.
func NewGitExecutor(startPath string) (*GitExecutor, error) {
	if startPath == "" {
		return nil, fmt.Errorf("startPath cannot be empty")
	}
	absPath, err := filepath.Abs(startPath)
	if err != nil {
		return nil, fmt.Errorf("resolve absolute path: %w", err)
	}
	cmd := exec.Command("git", "rev-parse", "--git-dir")
	cmd.Dir = absPath
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("not a git repository: %w", err)
	}
	gitDir := strings.TrimSpace(string(output))
	if gitDir == "" {
		return nil, fmt.Errorf("could not determine git repository root")
	}
	if !filepath.IsAbs(gitDir) {
		gitDir = filepath.Join(absPath, gitDir)
	}
	repoPath := absPath
	if filepath.Base(gitDir) == ".git" {
		repoPath = filepath.Dir(gitDir)
	}
	return &GitExecutor{repoPath: repoPath}, nil
}

func (g *GitExecutor) RepoPath() string { return g.repoPath }

func (g *GitExecutor) Run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.repoPath
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &limitedWriter{buf: &stdout, limit: maxGitOutputBytes}
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("git command timed out or canceled: %w", ctx.Err())
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("git %s failed: %s", args[0], msg)
		}
		return "", fmt.Errorf("git %s failed: %w", args[0], err)
	}
	return stdout.String(), nil
}

// limitedWriter caps how many bytes are buffered from a subprocess,
// failing fast instead of letting a runaway git process exhaust memory.
type limitedWriter struct {
	buf   *bytes.Buffer
	limit int
	n     int
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	if w.n+len(p) > w.limit {
		return 0, fmt.Errorf("output exceeded %d byte limit", w.limit)
	}
	w.n += len(p)
	return w.buf.Write(p)
}

// Scanner produces DiffResults, preferring a GitRunner and falling back to
// hash comparison against a baseline map. VCS invocation goes through a
// circuit breaker so a hung or repeatedly-failing git binary degrades to
// the hash path instead of blocking every session indefinitely.
type Scanner struct {
	runner  GitRunner
	breaker *gobreaker.CircuitBreaker
}

// NewScanner builds a Scanner. runner may be nil, in which case every
// scan uses the hash method.
func NewScanner(runner GitRunner) *Scanner {
	st := gobreaker.Settings{
		Name:        "git-vcs",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
	return &Scanner{runner: runner, breaker: gobreaker.NewCircuitBreaker(st)}
}

// HashBaseline maps a relative path to its last-known content hash.
type HashBaseline map[string]string

// Scan produces a DiffResult for baseRef against the current working
// tree. currentHashes is the live content-hash map (path -> sha256 hex)
// that the hash fallback compares against baseline when git is
// unavailable or fails.
func (s *Scanner) Scan(ctx context.Context, baseRef string, currentHashes, baseline HashBaseline) (*DiffResult, error) {
	if s.runner != nil {
		if result, err := s.scanGit(ctx, baseRef); err == nil {
			return result, nil
		}
	}
	return s.scanHash(baseRef, currentHashes, baseline), nil
}

func (s *Scanner) scanGit(ctx context.Context, baseRef string) (*DiffResult, error) {
	if _, err := s.breakerRun(ctx, "rev-parse", "--verify", baseRef); err != nil {
		return nil, err
	}

	out, err := s.breakerRun(ctx, "diff", "--name-status", baseRef, "--")
	if err != nil {
		return nil, err
	}

	var changed []ChangedFile
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		status := gitStatusToChangeStatus(fields[0])
		path := fields[len(fields)-1]
		cf := ChangedFile{Path: path, Status: status}
		changed = append(changed, cf)
	}

	for i := range changed {
		hunks, truncated, err := s.fetchHunks(ctx, baseRef, changed[i].Path)
		if err == nil {
			changed[i].Hunks = hunks
			changed[i].Truncated = truncated
		}
	}

	return &DiffResult{
		Method:       MethodGit,
		BaseRef:      baseRef,
		ChangedFiles: changed,
		Summary:      summarize(MethodGit, changed),
	}, nil
}

func (s *Scanner) fetchHunks(ctx context.Context, baseRef, path string) (string, bool, error) {
	out, err := s.breakerRun(ctx, "diff", "-U0", baseRef, "--", path)
	if err != nil {
		return "", false, err
	}
	lines := strings.Split(out, "\n")
	if len(lines) > maxHunkLines {
		return strings.Join(lines[:maxHunkLines], "\n"), true, nil
	}
	return out, false, nil
}

func (s *Scanner) breakerRun(ctx context.Context, args ...string) (string, error) {
	result, err := s.breaker.Execute(func() (interface{}, error) {
		return s.runner.Run(ctx, args...)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func gitStatusToChangeStatus(code string) ChangeStatus {
	switch {
	case code == "A":
		return StatusAdded
	case code == "D":
		return StatusDeleted
	case strings.HasPrefix(code, "R"):
		return StatusRenamed
	case code == "M":
		return StatusModified
	default:
		return StatusModified
	}
}

func (s *Scanner) scanHash(baseRef string, current, baseline HashBaseline) *DiffResult {
	var changed []ChangedFile
	seen := make(map[string]bool, len(current))
	for path, hash := range current {
		seen[path] = true
		oldHash, existed := baseline[path]
		switch {
		case !existed:
			changed = append(changed, ChangedFile{Path: path, Status: StatusAdded})
		case oldHash != hash:
			changed = append(changed, ChangedFile{Path: path, Status: StatusModified})
		}
	}
	for path := range baseline {
		if !seen[path] {
			changed = append(changed, ChangedFile{Path: path, Status: StatusDeleted})
		}
	}
	return &DiffResult{
		Method:       MethodHash,
		BaseRef:      baseRef,
		ChangedFiles: changed,
		Summary:      summarize(MethodHash, changed),
	}
}

func summarize(method Method, changed []ChangedFile) string {
	var added, modified, deleted, renamed int
	for _, c := range changed {
		switch c.Status {
		case StatusAdded:
			added++
		case StatusModified:
			modified++
		case StatusDeleted:
			deleted++
		case StatusRenamed:
			renamed++
		}
	}
	return fmt.Sprintf("%s diff: %d added, %d modified, %d deleted, %d renamed",
		method, added, modified, deleted, renamed)
}

// AffectedClosure extends a changed-file set to its transitive dependents
// up to maxDepth hops, using the dependency graph.
func AffectedClosure(g *graph.Graph, changed []ChangedFile, maxDepth int) map[string]int {
	seeds := make([]string, 0, len(changed))
	for _, c := range changed {
		if c.Status != StatusDeleted {
			seeds = append(seeds, c.Path)
		}
	}
	return g.AffectedSet(seeds, maxDepth)
}

// HashFile computes the sha256 hex digest of content, the fingerprint
// used throughout the hash-based diff and baseline paths.
func HashFile(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
