// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/zeta-scm/branchless/modules/plumbing"
)

// CachingRepoOps wraps a RepoOps, memoizing TouchedPaths behind a
// ristretto.Cache (grounded on the teacher's pkg/serve/odb.cacheDB) so the
// plan builder's upstream-patch-id dedup pass (rebase/plan's
// upstreamPatchIds, spec.md §4.5 S5) doesn't recompute the same commit's
// touched paths every time it's compared against a different upstream
// candidate. ristretto.Cache's Get/Set are safe for concurrent use by
// construction, matching this repo's worker-pool concurrency model
// (spec.md §5).
type CachingRepoOps struct {
	plumbing.RepoOps
	cache *ristretto.Cache[plumbing.Id, []string]
}

// NewCachingRepoOps wraps repo. maxCost bounds the cache's approximate
// memory budget (each entry costs its path count plus one); ristretto evicts by cost
// once it's exceeded.
func NewCachingRepoOps(repo plumbing.RepoOps, maxCost int64) (*CachingRepoOps, error) {
	c, err := ristretto.NewCache(&ristretto.Config[plumbing.Id, []string]{
		NumCounters: maxCost * 10,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("store: initialize touched-paths cache: %w", err)
	}
	return &CachingRepoOps{RepoOps: repo, cache: c}, nil
}

func (c *CachingRepoOps) TouchedPaths(ctx context.Context, id plumbing.Id) ([]string, error) {
	if paths, ok := c.cache.Get(id); ok {
		return paths, nil
	}
	paths, err := c.RepoOps.TouchedPaths(ctx, id)
	if err != nil {
		return nil, err
	}
	c.cache.Set(id, paths, int64(len(paths))+1)
	c.cache.Wait()
	return paths, nil
}

// Close releases the underlying cache's background goroutines.
func (c *CachingRepoOps) Close() {
	c.cache.Close()
}
