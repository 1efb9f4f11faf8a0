// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"context"

	"github.com/zeta-scm/branchless/modules/eventlog"
	"github.com/zeta-scm/branchless/modules/plumbing"
	"github.com/zeta-scm/branchless/modules/plumbing/faketest"
	"github.com/zeta-scm/branchless/store"
)

// newDemoRepo seeds a small, fixed commit chain standing in for the real
// BLAKE3-addressed object store this repo never opens (RepoOps is the
// abstract seam to that store, out of scope per spec.md §1). Commit content
// is deterministic, so every invocation reconstructs the same ids; the
// sqlite event log in st is the one piece of state that genuinely persists
// across runs, so obsolete/unobsolete markers recorded by a previous
// invocation are replayed on top of the fresh seed. Reference positions are
// not replayed this way: a rewritten commit from a prior run doesn't survive
// process exit without a real object store behind it, so moving a ref to an
// id this seed never produced would only misrepresent history.
func newDemoRepo(ctx context.Context, st *store.Store) (*faketest.Repo, error) {
	repo := faketest.New()
	a := repo.AddCommit(nil, map[string]string{"README": "a"}, "Initial commit")
	b := repo.AddCommit([]plumbing.Id{a}, map[string]string{"README": "ab"}, "Add feature groundwork")
	c := repo.AddCommit([]plumbing.Id{b}, map[string]string{"README": "abc"}, "Flesh out feature")
	d := repo.AddCommit([]plumbing.Id{c}, map[string]string{"README": "abcd"}, "Polish feature")

	repo.SetRef(repo.MainBranch(), plumbing.NonZero(a))
	feature := plumbing.NewBranchReferenceName("feature")
	repo.SetRef(feature, plumbing.NonZero(d))
	repo.SetHeadBranch(feature)

	events, err := st.GetEvents(ctx)
	if err != nil {
		return nil, err
	}
	for _, e := range events {
		switch ev := e.(type) {
		case *eventlog.ObsoleteEvent:
			repo.SetObsolete(ev.Oid, true)
		case *eventlog.UnobsoleteEvent:
			repo.SetObsolete(ev.Oid, false)
		}
	}
	return repo, nil
}
