// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package exec

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zeta-scm/branchless/modules/plumbing"
	"github.com/zeta-scm/branchless/modules/plumbing/faketest"
	"github.com/zeta-scm/branchless/rebase/plan"
)

// samplePlan mirrors what rebase/plan.Build actually emits: Commands[0] is
// always the Reset to FirstDestOid (builder.go's findRoots/Build loop), not
// a separately-tracked field.
func samplePlan() *plan.Plan {
	a := plumbing.Id{1}
	b := plumbing.Id{2}
	c := plumbing.Id{3}
	return &plan.Plan{
		FirstDestOid: a,
		Commands: []plan.Command{
			plan.Reset{Target: plan.OidDestination{Oid: a}},
			plan.CreateLabel{Name: "onto"},
			plan.Pick{Orig: b, Apply: []plumbing.Id{b, c}},
			plan.Merge{Oid: c, Parents: []plan.Destination{plan.LabelDestination{Name: "onto"}, plan.OidDestination{Oid: b}}},
		},
	}
}

func TestSerializeRendersOneLinePerCommand(t *testing.T) {
	p := samplePlan()
	lines := ParseScript(Serialize(p))

	require.Equal(t, "reset "+p.FirstDestOid.String(), lines[0])
	require.Contains(t, lines[1], "label onto")
	require.Contains(t, lines[2], "pick")
	require.Contains(t, lines[3], "fixup")
	require.Contains(t, lines[4], "merge -C")
}

// TestSerializeDoesNotDuplicateLeadingReset guards against reintroducing a
// manual "reset FirstDestOid" prepend alongside Commands[0]'s own Reset
// (spec.md §6: one command per line, syntactic forms exactly as emitted by
// the plan builder).
func TestSerializeDoesNotDuplicateLeadingReset(t *testing.T) {
	p := samplePlan()
	lines := ParseScript(Serialize(p))

	resetCount := 0
	for _, line := range lines {
		if strings.HasPrefix(line, "reset ") {
			resetCount++
		}
	}
	require.Equal(t, 1, resetCount)
}

func TestStartWritesTodoScriptAndRejectsWhenInProgress(t *testing.T) {
	dir := t.TempDir()
	repo := faketest.New()
	a := repo.AddCommit(nil, map[string]string{"f": "1"}, "A")
	repo.DetachHead(context.Background(), a)

	p := &plan.Plan{FirstDestOid: a}
	executor := OnDiskExecutor{RepoRoot: dir}

	err := executor.Start(context.Background(), repo, p, false)
	require.NoError(t, err)

	todoPath := filepath.Join(dir, rebaseDirName, "git-rebase-todo")
	_, err = os.Stat(todoPath)
	require.NoError(t, err)

	mdPath := filepath.Join(dir, rebaseDirName, "REBASE-MD")
	_, err = os.Stat(mdPath)
	require.NoError(t, err)

	err = executor.Start(context.Background(), repo, p, false)
	require.ErrorIs(t, err, ErrRebaseInProgress)
}

func TestStartRejectsAttachedHead(t *testing.T) {
	dir := t.TempDir()
	repo := faketest.New()
	a := repo.AddCommit(nil, map[string]string{"f": "1"}, "A")
	repo.SetRef(plumbing.NewBranchReferenceName("main"), plumbing.NonZero(a))
	repo.SetHeadBranch(plumbing.NewBranchReferenceName("main"))

	executor := OnDiskExecutor{RepoRoot: dir}
	err := executor.Start(context.Background(), repo, &plan.Plan{FirstDestOid: a}, false)
	require.Error(t, err)
}

func TestContinueRejectsReplaceCommand(t *testing.T) {
	dir := t.TempDir()
	repo := faketest.New()
	a := repo.AddCommit(nil, map[string]string{"f": "1"}, "A")
	repo.DetachHead(context.Background(), a)

	executor := OnDiskExecutor{RepoRoot: dir}
	require.NoError(t, executor.Start(context.Background(), repo, &plan.Plan{FirstDestOid: a}, false))

	p := &plan.Plan{
		FirstDestOid: a,
		Commands:     []plan.Command{plan.Replace{Oid: a, Replacement: a}},
	}
	_, err := executor.Continue(context.Background(), p)
	require.ErrorIs(t, err, ErrUnsupportedOnDisk)
}

func TestContinueWithoutRebaseInProgressFails(t *testing.T) {
	executor := OnDiskExecutor{RepoRoot: t.TempDir()}
	_, err := executor.Continue(context.Background(), &plan.Plan{})
	require.ErrorIs(t, err, ErrNoRebaseInProgress)
}

func TestDriverExitCodePropagated(t *testing.T) {
	dir := t.TempDir()
	repo := faketest.New()
	a := repo.AddCommit(nil, map[string]string{"f": "1"}, "A")
	repo.DetachHead(context.Background(), a)

	executor := OnDiskExecutor{
		RepoRoot: dir,
		Driver: func(ctx context.Context, args ...string) error {
			cmd := exec.Command("sh", "-c", "exit 7")
			return cmd.Run()
		},
	}
	err := executor.Start(context.Background(), repo, &plan.Plan{FirstDestOid: a}, false)
	require.Error(t, err)
}
