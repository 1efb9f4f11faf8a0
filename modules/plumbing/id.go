// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package plumbing holds the small, dependency-free types that the rest of
// this repository shares with the host VCS: commit identifiers, reference
// names, and the RepoOps seam used to reach the real object/reference store.
package plumbing

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/zeebo/blake3"
)

const (
	IdSize    = 32
	IdHexSize = IdSize * 2
)

// Id is an opaque content-addressed commit identifier (BLAKE3 digest).
type Id [IdSize]byte

// ZeroId is the distinguished all-zero Id used only in reference-update
// old/new positions to denote absence.
var ZeroId Id

func NewId(s string) Id {
	b, _ := hex.DecodeString(s)
	var id Id
	copy(id[:], b)
	return id
}

func NewIdEx(s string) (Id, error) {
	if len(s) != IdHexSize {
		return ZeroId, fmt.Errorf("plumbing: %q is not a valid id", s)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return ZeroId, fmt.Errorf("plumbing: %q is not a valid id: %w", s, err)
	}
	var id Id
	copy(id[:], b)
	return id, nil
}

func (id Id) IsZero() bool {
	return id == ZeroId
}

func (id Id) String() string {
	return hex.EncodeToString(id[:])
}

func (id Id) Short() string {
	s := id.String()
	if len(s) < 8 {
		return s
	}
	return s[:8]
}

func (id Id) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *Id) UnmarshalText(text []byte) error {
	b, err := hex.DecodeString(string(text))
	if err != nil {
		return err
	}
	copy(id[:], b)
	return nil
}

func (id Id) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

func (id *Id) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	copy(id[:], decoded)
	return nil
}

// IdSlice attaches sort.Interface to []Id, sorting in increasing order; used
// wherever plan construction needs deterministic output (root ordering,
// self-check diffs).
type IdSlice []Id

func (p IdSlice) Len() int           { return len(p) }
func (p IdSlice) Less(i, j int) bool { return bytes.Compare(p[i][:], p[j][:]) < 0 }
func (p IdSlice) Swap(i, j int)      { p[i], p[j] = p[j], p[i] }

func SortIds(ids []Id) {
	sort.Sort(IdSlice(ids))
}

// MaybeZeroId is the Go realization of the MaybeZeroId = NonZero(Id) | Zero
// mapping used wherever a reference can transition into or out of existence.
type MaybeZeroId struct {
	id     Id
	isZero bool
}

func NonZero(id Id) MaybeZeroId {
	if id.IsZero() {
		return MaybeZeroId{isZero: true}
	}
	return MaybeZeroId{id: id}
}

func ZeroMaybe() MaybeZeroId {
	return MaybeZeroId{isZero: true}
}

func (m MaybeZeroId) IsZero() bool {
	return m.isZero
}

// Id returns the wrapped identifier. Callers must check IsZero first; Id
// panics on a zero value so a missing check fails loudly instead of silently
// handing out the zero id as if it were a real one.
func (m MaybeZeroId) Id() Id {
	if m.isZero {
		panic("plumbing: MaybeZeroId.Id() called on a zero value")
	}
	return m.id
}

// IdOrZero returns the wrapped id, or ZeroId if this value is zero. Useful at
// the edges (row encoding) where the zero sentinel is the natural encoding.
func (m MaybeZeroId) IdOrZero() Id {
	if m.isZero {
		return ZeroId
	}
	return m.id
}

func (m MaybeZeroId) String() string {
	if m.isZero {
		return ZeroId.String()
	}
	return m.id.String()
}

func (m MaybeZeroId) Equal(o MaybeZeroId) bool {
	if m.isZero || o.isZero {
		return m.isZero == o.isZero
	}
	return m.id == o.id
}

// Hasher incrementally computes an Id from content, mirroring the host VCS's
// own BLAKE3 object hashing.
type Hasher struct {
	h *blake3.Hasher
}

func NewHasher() Hasher {
	return Hasher{h: blake3.New()}
}

func (h Hasher) Write(p []byte) (int, error) {
	return h.h.Write(p)
}

func (h Hasher) Sum() (id Id) {
	copy(id[:], h.h.Sum(nil))
	return
}
