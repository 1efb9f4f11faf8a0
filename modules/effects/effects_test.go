// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package effects

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStartOperationWritesThroughOutputStream(t *testing.T) {
	root, out, _ := NewTestEffects()
	child, h := root.StartOperation("RebaseCommits")
	child.OutputStream().Println("picking", "abc123")
	h.Close()

	require.Contains(t, out.String(), "picking abc123")
}

func TestHandleCloseMarksSuccessByDefault(t *testing.T) {
	root, _, _ := NewTestEffects()
	child, h := root.StartOperation("Rebase")
	h.Close()

	key := child.key()
	n := root.t.nodes[key]
	require.Equal(t, Success, n.icon)
	require.Empty(t, n.activeStarts)
}

func TestHandleFailOverridesDefaultSuccess(t *testing.T) {
	root, _, _ := NewTestEffects()
	child, h := root.StartOperation("Rebase")
	h.Fail()
	h.Close()

	n := root.t.nodes[child.key()]
	require.Equal(t, Failure, n.icon)
}

// TestConcurrentReentryWaitsForLastActiveStart exercises spec.md §4.1's rule
// that elapsed time for a path is only recorded once every concurrent
// active start at that path has popped.
func TestConcurrentReentryWaitsForLastActiveStart(t *testing.T) {
	root, _, _ := NewTestEffects()
	child1, h1 := root.StartOperation("Fetch")
	_, h2 := root.StartOperation("Fetch")

	n := root.t.nodes[child1.key()]
	require.Len(t, n.activeStarts, 2)

	h1.Close()
	require.Len(t, n.activeStarts, 1)
	require.Equal(t, InProgress, n.icon, "icon must not flip to Success while a concurrent start is still active")

	h2.Close()
	require.Empty(t, n.activeStarts)
	require.Equal(t, Success, n.icon)
}

func TestSuppressedEffectsDiscardsOutput(t *testing.T) {
	root := NewSuppressedEffects()
	child, h := root.StartOperation("Quiet")
	child.OutputStream().Println("nobody sees this")
	h.Close()
	require.False(t, root.t.visible)
}

func TestNestedOperationsBuildDistinctPaths(t *testing.T) {
	root, _, _ := NewTestEffects()
	outer, hOuter := root.StartOperation("Rebase")
	inner, hInner := outer.StartOperation("Pick")
	hInner.Close()
	hOuter.Close()

	require.True(t, strings.HasSuffix(inner.key(), "Rebase/Pick"))
	require.NotEqual(t, outer.key(), inner.key())
}
