// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/zeta-scm/branchless/modules/effects"
	"github.com/zeta-scm/branchless/modules/eventlog"
	"github.com/zeta-scm/branchless/modules/plumbing"
	"github.com/zeta-scm/branchless/rebase/constraint"
	"github.com/zeta-scm/branchless/rebase/exec"
	"github.com/zeta-scm/branchless/rebase/plan"
	"github.com/zeta-scm/branchless/store"
)

// Rebase moves a branch's unique commits onto a new base entirely in
// memory, following the teacher's command_rebase.go shape (Args/Onto flags,
// a single Run(g *Globals) error method) but driving rebase/constraint,
// rebase/plan, and rebase/exec against the demo RepoOps instead of a real
// worktree (spec.md §4.4-§4.6).
type Rebase struct {
	Args   []string `arg:"" optional:"" help:"Branch to rebase (defaults to the current branch)"`
	Onto   string   `name:"onto" help:"Rebase onto the given revision (default: the configured main branch)" placeholder:"<revision>"`
	Force  bool     `name:"force" help:"Allow rewriting commits already reachable from the main branch"`
	DryRun bool     `name:"dry-run" help:"Print the rebase plan instead of executing it"`
}

func (c *Rebase) Run(g *Globals) error {
	ctx := context.Background()

	cfg, err := g.loadConfig()
	if err != nil {
		return fmt.Errorf("command: load config: %w", err)
	}
	onto := c.Onto
	if onto == "" {
		onto = cfg.Core.MainBranchName
	}
	force := c.Force || cfg.Core.ForceRewritePublicCommits

	st, err := g.openStore()
	if err != nil {
		return fmt.Errorf("command: open event store: %w", err)
	}
	defer st.Close() // nolint

	repo, err := newDemoRepo(ctx, st)
	if err != nil {
		return fmt.Errorf("command: seed repo: %w", err)
	}

	branchRev := "HEAD"
	if len(c.Args) > 0 {
		branchRev = c.Args[0]
	}
	branchOid, err := repo.Resolve(ctx, branchRev)
	if err != nil {
		return fmt.Errorf("command: resolve %s: %w", branchRev, err)
	}
	ontoOid, err := repo.Resolve(ctx, onto)
	if err != nil {
		return fmt.Errorf("command: resolve %s: %w", onto, err)
	}

	bases, err := repo.MergeBase(ctx, branchOid, ontoOid)
	if err != nil {
		return fmt.Errorf("command: compute merge base: %w", err)
	}
	if len(bases) == 0 {
		return fmt.Errorf("command: %s and %s share no history", branchRev, onto)
	}
	root, members, err := firstParentRange(ctx, repo, bases[0], branchOid)
	if err != nil {
		return err
	}
	if len(members) == 0 {
		fmt.Fprintln(os.Stdout, "Nothing to rebase: already up to date with onto.")
		return nil
	}
	allowed := make(map[plumbing.Id]struct{}, len(members))
	for _, id := range members {
		allowed[id] = struct{}{}
	}

	cachedRepo, err := store.NewCachingRepoOps(repo, 1<<20)
	if err != nil {
		return fmt.Errorf("command: build touched-paths cache: %w", err)
	}
	defer cachedRepo.Close()

	graph, err := constraint.Build(ctx, cachedRepo, []constraint.Constraint{
		constraint.MoveSubtree{Child: root, Parents: []plumbing.Id{ontoOid}},
	}, constraint.Options{
		AllowedCommits:            allowed,
		ForceRewritePublicCommits: force,
	})
	if err != nil {
		return fmt.Errorf("command: build constraint graph: %w", err)
	}

	p, err := plan.Build(ctx, cachedRepo, graph, plan.BuildOptions{DetectDuplicateCommitsViaPatchID: true})
	if err != nil {
		return fmt.Errorf("command: build rebase plan: %w", err)
	}
	if p == nil {
		fmt.Fprintln(os.Stdout, "Nothing to rebase.")
		return nil
	}

	if c.DryRun {
		for _, line := range p.Describe() {
			fmt.Fprintln(os.Stdout, line)
		}
		return nil
	}

	eff := effects.NewRootEffects(os.Stdout, os.Stderr)
	result, err := exec.MemoryExecutor{}.Execute(ctx, p, repo, eff)
	if err != nil {
		if result != nil && result.BranchMoveErr != nil {
			fmt.Fprintln(os.Stderr, "warning: move_branches stopped early; the reference graph may be in a mixed state")
		}
		return fmt.Errorf("command: execute rebase plan: %w", err)
	}

	now := time.Now().UTC()
	tx, err := st.MakeTransactionId(ctx, float64(now.UnixNano())/1e9, "rebase")
	if err != nil {
		return fmt.Errorf("command: allocate transaction: %w", err)
	}
	var events []eventlog.Event
	for orig, replacement := range result.Rewritten {
		events = append(events, eventlog.NewRewriteEvent(now, tx, plumbing.NonZero(orig), plumbing.NonZero(replacement)))
	}
	for _, mv := range result.BranchMoves {
		events = append(events, eventlog.NewRefUpdateEvent(now, tx, mv.Name, plumbing.NonZero(mv.Old), plumbing.NonZero(mv.New), "rebase"))
	}
	if len(events) > 0 {
		if err := st.AddEvents(ctx, events); err != nil {
			return fmt.Errorf("command: record rebase events: %w", err)
		}
	}

	for _, mv := range result.BranchMoves {
		fmt.Fprintf(os.Stdout, "%s: %s -> %s\n", mv.Name, mv.Old.Short(), mv.New.Short())
	}
	return nil
}

// firstParentRange walks tip back along first-parent links until it reaches
// base, returning the commit nearest base (the subtree root a MoveSubtree
// constraint reparents) and every commit in between, base exclusive. This
// only follows first-parent, matching a plain (non --rebase-merges) rebase.
func firstParentRange(ctx context.Context, repo plumbing.RepoOps, base, tip plumbing.Id) (root plumbing.Id, members []plumbing.Id, err error) {
	cur := tip
	for {
		if cur == base {
			return root, members, nil
		}
		ci, err := repo.Commit(ctx, cur)
		if err != nil {
			return plumbing.ZeroId, nil, fmt.Errorf("command: resolving %s: %w", cur.Short(), err)
		}
		members = append(members, cur)
		root = cur
		if len(ci.Parents) == 0 {
			return root, members, nil
		}
		cur = ci.Parents[0]
	}
}
