// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package plumbing

import "strings"

const (
	refHeadPrefix       = "refs/heads/"
	refTagPrefix        = "refs/tags/"
	refRemotePrefix     = "refs/remotes/"
	refBranchlessPrefix = "refs/branchless/"
)

const (
	HEAD ReferenceName = "HEAD"
)

// ReferenceName is a possibly-not-valid-text byte string naming a reference.
// Represented as string for convenience; callers that need byte-exactness
// for non-UTF8 names should treat it as a raw byte container, not assume it
// round-trips through anything that normalizes Unicode.
type ReferenceName string

func NewBranchReferenceName(short string) ReferenceName {
	return ReferenceName(refHeadPrefix + short)
}

func (r ReferenceName) String() string { return string(r) }

func (r ReferenceName) IsBranch() bool {
	return strings.HasPrefix(string(r), refHeadPrefix)
}

func (r ReferenceName) BranchName() string {
	return strings.TrimPrefix(string(r), refHeadPrefix)
}

func (r ReferenceName) IsTag() bool {
	return strings.HasPrefix(string(r), refTagPrefix)
}

func (r ReferenceName) IsRemote() bool {
	return strings.HasPrefix(string(r), refRemotePrefix)
}

// IsGCRef reports whether r is an internal garbage-collection ref that the
// replayer must ignore entirely (spec §3: prefix "refs/branchless/").
func (r ReferenceName) IsGCRef() bool {
	return strings.HasPrefix(string(r), refBranchlessPrefix)
}

// alwaysIgnoredPseudoRefs are always-ignored pseudo-refs the replayer drops
// updates to, regardless of category (spec §3, §6).
var alwaysIgnoredPseudoRefs = map[ReferenceName]struct{}{
	"ORIG_HEAD":        {},
	"CHERRY_PICK_HEAD": {},
	"REBASE_HEAD":      {},
	"CHERRY_PICK":      {},
	"FETCH_HEAD":       {},
}

// IsIgnoredPseudoRef reports whether r is one of the fixed pseudo-ref set the
// replayer ignores, or a GC ref. HEAD itself is NOT ignored: HEAD updates are
// how the replayer tracks the current commit.
func (r ReferenceName) IsIgnoredPseudoRef() bool {
	if r.IsGCRef() {
		return true
	}
	_, ignored := alwaysIgnoredPseudoRefs[r]
	return ignored
}

func (r ReferenceName) IsPseudo() bool {
	if r == HEAD {
		return true
	}
	_, ignored := alwaysIgnoredPseudoRefs[r]
	return ignored
}

// Short returns a branch/tag's unqualified name, or the name unchanged if it
// isn't under a recognized namespace.
func (r ReferenceName) Short() string {
	switch {
	case r.IsBranch():
		return r.BranchName()
	case r.IsTag():
		return strings.TrimPrefix(string(r), refTagPrefix)
	case r.IsRemote():
		return strings.TrimPrefix(string(r), refRemotePrefix)
	default:
		return string(r)
	}
}
