// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zeta-scm/branchless/modules/plumbing"
	"github.com/zeta-scm/branchless/modules/plumbing/faketest"
)

// countingRepo wraps a RepoOps, counting TouchedPaths calls so the test can
// assert the cache actually avoids recomputation.
type countingRepo struct {
	plumbing.RepoOps
	touchedPathsCalls int
}

func (c *countingRepo) TouchedPaths(ctx context.Context, id plumbing.Id) ([]string, error) {
	c.touchedPathsCalls++
	return c.RepoOps.TouchedPaths(ctx, id)
}

func TestCachingRepoOpsMemoizesTouchedPaths(t *testing.T) {
	repo := faketest.New()
	a := repo.AddCommit(nil, map[string]string{"f": "1"}, "A")
	b := repo.AddCommit([]plumbing.Id{a}, map[string]string{"f": "2"}, "B")

	counting := &countingRepo{RepoOps: repo}
	cached, err := NewCachingRepoOps(counting, 1<<20)
	require.NoError(t, err)
	defer cached.Close()

	ctx := context.Background()
	first, err := cached.TouchedPaths(ctx, b)
	require.NoError(t, err)
	require.Equal(t, []string{"f"}, first)
	require.Equal(t, 1, counting.touchedPathsCalls)

	second, err := cached.TouchedPaths(ctx, b)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, counting.touchedPathsCalls, "second lookup should hit the cache, not recompute")

	_, err = cached.TouchedPaths(ctx, a)
	require.NoError(t, err)
	require.Equal(t, 2, counting.touchedPathsCalls)
}
