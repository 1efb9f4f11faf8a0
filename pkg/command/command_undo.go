// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"context"
	"fmt"
	"os"

	"github.com/zeta-scm/branchless/replayer"
	"github.com/zeta-scm/branchless/undo"
)

// Undo previews or applies the inverse of everything recorded since a
// target point in the event log (spec.md §4.8), following the same
// Args/flag/Run(g *Globals) shape as Rebase.
type Undo struct {
	Steps  int  `name:"steps" help:"Number of transactions to undo" default:"1"`
	DryRun bool `name:"dry-run" help:"Print what would be undone instead of applying it"`
}

func (c *Undo) Run(g *Globals) error {
	if c.Steps <= 0 {
		diev("--steps must be positive.")
		return ErrArgRequired
	}
	ctx := context.Background()

	st, err := g.openStore()
	if err != nil {
		return fmt.Errorf("command: open event store: %w", err)
	}
	defer st.Close() // nolint

	repo, err := newDemoRepo(ctx, st)
	if err != nil {
		return fmt.Errorf("command: seed repo: %w", err)
	}

	rawEvents, err := st.GetEvents(ctx)
	if err != nil {
		return fmt.Errorf("command: read event log: %w", err)
	}
	r := replayer.New(rawEvents)

	current := r.MakeCursor(len(rawEvents))
	target := r.AdvanceCursorByTransaction(current, -c.Steps)

	plan, err := (undo.Synthesizer{}).Plan(ctx, r, repo, target)
	if err != nil {
		return fmt.Errorf("command: synthesize undo plan: %w", err)
	}
	if len(plan.Actions) == 0 {
		fmt.Fprintln(os.Stdout, "Nothing to undo.")
		return nil
	}

	for _, line := range plan.Describe() {
		fmt.Fprintln(os.Stdout, line)
	}
	if c.DryRun {
		return nil
	}

	if err := plan.Apply(ctx, repo, st); err != nil {
		return fmt.Errorf("command: apply undo plan: %w", err)
	}
	return nil
}
