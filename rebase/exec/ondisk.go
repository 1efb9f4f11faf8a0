// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package exec

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/zeta-scm/branchless/modules/plumbing"
	"github.com/zeta-scm/branchless/rebase/plan"
)

// rebaseDirName is the state directory OnDiskExecutor maintains inside the
// repo root, named after the teacher's own REBASE-MD convention
// (pkg/zeta/worktree_rebase.go) generalized to a directory so the todo
// script and its sidecars live alongside it rather than as one flat file.
const rebaseDirName = "rebase-merge"

// ErrRebaseInProgress is returned by Start when rebaseDirName already
// exists: spec.md §4.7's "no rebase already in progress" precondition.
var ErrRebaseInProgress = errors.New("rebase/exec: a rebase is already in progress")

// ErrNoRebaseInProgress is returned by Continue/Abort when no state
// directory exists to resume.
var ErrNoRebaseInProgress = errors.New("rebase/exec: no rebase in progress")

// Metadata is the sidecar TOML file accompanying the todo script, grounded
// on the teacher's RebaseMD struct (pkg/zeta/worktree_rebase.go): enough to
// resume after a conflict stops progress partway through the script.
type Metadata struct {
	Onto          plumbing.Id            `toml:"ONTO"`
	OrigHead      plumbing.Id            `toml:"ORIG_HEAD"`
	HeadName      plumbing.ReferenceName `toml:"HEAD_NAME"`
	Stopped       plumbing.Id            `toml:"STOPPED"`
	Interactive   bool                   `toml:"INTERACTIVE"`
	KeepRedundant bool                   `toml:"KEEP_REDUNDANT_COMMITS"`
	CdateIsAdate  bool                   `toml:"CDATE_IS_ADATE,omitempty"`
}

// OnDiskExecutor serializes a Plan as a rebase-todo script the host VCS's
// own rebase machinery steps through one command at a time, pausing on
// conflicts instead of aborting the whole run (spec.md §4.7). It shells out
// to that machinery via Driver rather than reimplementing merges itself:
// unlike MemoryExecutor it needs a working copy, which RepoOps (by design)
// does not expose.
type OnDiskExecutor struct {
	// RepoRoot is the working copy root the rebase-merge state directory is
	// created under.
	RepoRoot string

	// Driver is the external command invoked to advance the rebase one
	// step (e.g. the host VCS's own "rebase --continue" equivalent). Its
	// exit code is propagated verbatim (spec.md §4.7).
	Driver func(ctx context.Context, args ...string) error
}

func (e OnDiskExecutor) stateDir() string {
	return filepath.Join(e.RepoRoot, rebaseDirName)
}

// Start writes the todo script and sidecar metadata for p, checking spec.md
// §4.7's preconditions first: no rebase already in progress, and HEAD
// detached (the caller is responsible for detaching it and for checking
// for uncommitted changes via its own working-copy status call, neither of
// which RepoOps exposes).
func (e OnDiskExecutor) Start(ctx context.Context, repo plumbing.RepoOps, p *plan.Plan, interactive bool) error {
	for _, c := range p.Commands {
		if _, ok := c.(plan.Replace); ok {
			return fmt.Errorf("%w: Replace has no on-disk equivalent", ErrUnsupportedOnDisk)
		}
	}
	dir := e.stateDir()
	if _, err := os.Stat(dir); err == nil {
		return ErrRebaseInProgress
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("rebase/exec: stat %s: %w", dir, err)
	}

	headName, headOid, err := repo.Head(ctx)
	if err != nil {
		return fmt.Errorf("rebase/exec: resolve HEAD: %w", err)
	}
	if headName.IsBranch() {
		return fmt.Errorf("rebase/exec: HEAD must be detached before an on-disk rebase starts (currently on %s)", headName)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("rebase/exec: create %s: %w", dir, err)
	}

	script := Serialize(p)
	if err := os.WriteFile(filepath.Join(dir, "git-rebase-todo"), []byte(script), 0o644); err != nil {
		return fmt.Errorf("rebase/exec: write todo script: %w", err)
	}

	md := Metadata{
		Onto:          p.FirstDestOid,
		OrigHead:      headOid,
		HeadName:      headName,
		Interactive:   interactive,
		KeepRedundant: false,
	}
	if err := writeMetadata(dir, &md); err != nil {
		return err
	}

	for name, content := range map[string]string{
		"onto":                   p.FirstDestOid.String(),
		"head":                   headOid.String(),
		"head-name":              headName.String(),
		"orig-head":              headOid.String(),
		"end":                    fmt.Sprintf("%d", len(p.Commands)),
		"keep_redundant_commits": "",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			return fmt.Errorf("rebase/exec: write %s: %w", name, err)
		}
	}
	if !interactive {
		if err := os.Remove(filepath.Join(dir, "interactive")); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("rebase/exec: remove interactive marker: %w", err)
		}
	} else if err := os.WriteFile(filepath.Join(dir, "interactive"), nil, 0o644); err != nil {
		return fmt.Errorf("rebase/exec: write interactive marker: %w", err)
	}

	return e.runDriver(ctx, "start")
}

// Continue resumes a paused on-disk rebase: spec.md §4.7's Replace command
// has no on-disk equivalent the teacher's rebase machinery understands (it
// can relocate a commit onto new parents, but cannot substitute a different
// object for one already picked without amending history out of band), so a
// todo script containing one is rejected up front rather than failing
// confusingly mid-run.
func (e OnDiskExecutor) Continue(ctx context.Context, p *plan.Plan) (*Metadata, error) {
	dir := e.stateDir()
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, ErrNoRebaseInProgress
	} else if err != nil {
		return nil, fmt.Errorf("rebase/exec: stat %s: %w", dir, err)
	}
	for _, c := range p.Commands {
		if _, ok := c.(plan.Replace); ok {
			return nil, fmt.Errorf("%w: Replace has no on-disk equivalent", ErrUnsupportedOnDisk)
		}
	}
	md, err := readMetadata(dir)
	if err != nil {
		return nil, err
	}
	if err := e.runDriver(ctx, "continue"); err != nil {
		return md, err
	}
	return md, nil
}

// Abort discards a paused on-disk rebase's state directory.
func (e OnDiskExecutor) Abort(ctx context.Context) error {
	dir := e.stateDir()
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return ErrNoRebaseInProgress
	}
	if err := e.runDriver(ctx, "abort"); err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

// ErrUnsupportedOnDisk mirrors ErrUnsupportedInMemory for the on-disk
// executor's own restriction (Replace only, see Continue's doc comment).
var ErrUnsupportedOnDisk = errors.New("rebase/exec: command unsupported by on-disk executor")

func (e OnDiskExecutor) runDriver(ctx context.Context, verb string) error {
	if e.Driver == nil {
		return nil
	}
	if err := e.Driver(ctx, "rebase", "--"+verb); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("rebase/exec: driver exited with code %d: %w", exitErr.ExitCode(), err)
		}
		return fmt.Errorf("rebase/exec: run driver: %w", err)
	}
	return nil
}

func writeMetadata(dir string, md *Metadata) error {
	f, err := os.Create(filepath.Join(dir, "REBASE-MD"))
	if err != nil {
		return fmt.Errorf("rebase/exec: create REBASE-MD: %w", err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(md); err != nil {
		return fmt.Errorf("rebase/exec: encode REBASE-MD: %w", err)
	}
	return nil
}

func readMetadata(dir string) (*Metadata, error) {
	var md Metadata
	if _, err := toml.DecodeFile(filepath.Join(dir, "REBASE-MD"), &md); err != nil {
		return nil, fmt.Errorf("rebase/exec: read REBASE-MD: %w", err)
	}
	return &md, nil
}

// Serialize renders p as a rebase-todo script in the host VCS's own format
// (spec.md §4.7): one instruction per line, labels and resets by name,
// merges carrying their recorded commit id via -C so the original message
// and authorship are preserved.
func Serialize(p *plan.Plan) string {
	var b strings.Builder
	for _, c := range p.Commands {
		switch v := c.(type) {
		case plan.CreateLabel:
			fmt.Fprintf(&b, "label %s\n", v.Name)
		case plan.Reset:
			fmt.Fprintf(&b, "reset %s\n", v.Target.String())
		case plan.Pick:
			fmt.Fprintf(&b, "pick %s\n", v.Orig.String())
			for _, fixup := range v.Apply[1:] {
				fmt.Fprintf(&b, "fixup %s\n", fixup.String())
			}
		case plan.Merge:
			parents := make([]string, len(v.Parents))
			for i, d := range v.Parents {
				parents[i] = d.String()
			}
			fmt.Fprintf(&b, "merge -C %s %s\n", v.Oid.String(), strings.Join(parents, " "))
		case plan.Replace:
			parents := make([]string, len(v.Parents))
			for i, d := range v.Parents {
				parents[i] = d.String()
			}
			fmt.Fprintf(&b, "replace %s %s %s\n", v.Oid.String(), v.Replacement.String(), strings.Join(parents, " "))
		case plan.Break:
			b.WriteString("break\n")
		case plan.RegisterExtraPostRewriteHook:
			b.WriteString("exec hook-register-extra-post-rewrite-hook\n")
		case plan.DetectEmptyCommit:
			fmt.Fprintf(&b, "exec hook-detect-empty-commit %s\n", v.Oid.String())
		case plan.SkipUpstreamAppliedCommit:
			fmt.Fprintf(&b, "exec hook-skip-upstream-applied-commit %s\n", v.Oid.String())
		}
	}
	return b.String()
}

// ParseScript re-reads a rebase-todo script back into lines, for tests and
// for the Driver's own use reading back what OnDiskExecutor wrote.
func ParseScript(script string) []string {
	var lines []string
	sc := bufio.NewScanner(strings.NewReader(script))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}
