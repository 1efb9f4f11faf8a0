// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package plan builds a RebasePlan — a flat, depth-first ordered command
// sequence — from a refined constraint graph (spec.md §4.5).
package plan

import "github.com/zeta-scm/branchless/modules/plumbing"

// Destination is either a concrete commit id or a label created earlier in
// the same plan (spec.md §3: "every referenced label is created before
// use").
type Destination interface {
	isDestination()
	String() string
}

type OidDestination struct {
	Oid plumbing.Id
}

func (OidDestination) isDestination()   {}
func (d OidDestination) String() string { return d.Oid.String() }

type LabelDestination struct {
	Name string
}

func (LabelDestination) isDestination()   {}
func (d LabelDestination) String() string { return "label:" + d.Name }

// Command is the closed set of rebase-plan steps (spec.md §3).
type Command interface {
	isCommand()
}

type CreateLabel struct {
	Name string
}

func (CreateLabel) isCommand() {}

type Reset struct {
	Target Destination
}

func (Reset) isCommand() {}

// Pick cherry-picks Orig, applying the commits in Apply (Orig followed by
// any fixups folded into it) as one resulting commit.
type Pick struct {
	Orig  plumbing.Id
	Apply []plumbing.Id
}

func (Pick) isCommand() {}

// Merge recreates a merge commit, resetting onto its first parent first.
type Merge struct {
	Oid     plumbing.Id
	Parents []Destination
}

func (Merge) isCommand() {}

// Replace substitutes Oid with Replacement, re-parented onto Parents.
type Replace struct {
	Oid         plumbing.Id
	Replacement plumbing.Id
	Parents     []Destination
}

func (Replace) isCommand() {}

type Break struct{}

func (Break) isCommand() {}

type RegisterExtraPostRewriteHook struct{}

func (RegisterExtraPostRewriteHook) isCommand() {}

type DetectEmptyCommit struct {
	Oid plumbing.Id
}

func (DetectEmptyCommit) isCommand() {}

type SkipUpstreamAppliedCommit struct {
	Oid plumbing.Id
}

func (SkipUpstreamAppliedCommit) isCommand() {}

// Plan is the builder's output: Commands, whose first entry is the Reset to
// FirstDestOid (spec.md §3).
type Plan struct {
	FirstDestOid plumbing.Id
	Commands     []Command
}

// Describe renders a human-readable "would do" preview independent of
// execution, restoring the original implementation's dry-run preview
// (supplemented feature, SPEC_FULL §9).
func (p *Plan) Describe() []string {
	lines := make([]string, 0, len(p.Commands)+1)
	lines = append(lines, "reset to "+p.FirstDestOid.Short())
	for _, c := range p.Commands {
		lines = append(lines, describeCommand(c))
	}
	return lines
}

func describeCommand(c Command) string {
	switch v := c.(type) {
	case CreateLabel:
		return "label " + v.Name
	case Reset:
		return "reset " + v.Target.String()
	case Pick:
		return "pick " + v.Orig.Short() + " (apply " + idsShort(v.Apply) + ")"
	case Merge:
		return "merge " + v.Oid.Short() + " with " + destsShort(v.Parents)
	case Replace:
		return "replace " + v.Oid.Short() + " -> " + v.Replacement.Short()
	case Break:
		return "break"
	case RegisterExtraPostRewriteHook:
		return "exec hook-register-extra-post-rewrite-hook"
	case DetectEmptyCommit:
		return "exec hook-detect-empty-commit " + v.Oid.Short()
	case SkipUpstreamAppliedCommit:
		return "skip " + v.Oid.Short() + " (already applied upstream)"
	default:
		return "?"
	}
}

func idsShort(ids []plumbing.Id) string {
	out := ""
	for i, id := range ids {
		if i > 0 {
			out += ","
		}
		out += id.Short()
	}
	return out
}

func destsShort(ds []Destination) string {
	out := ""
	for i, d := range ds {
		if i > 0 {
			out += ","
		}
		out += d.String()
	}
	return out
}
