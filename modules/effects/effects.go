// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package effects maintains the hierarchical tree of in-flight operations
// that every long-running algorithm in this repository reports progress
// through (spec.md §4.1): display message, icon state, concurrent-reentry
// elapsed-time accounting, and optional (position, length) metering,
// rendered via the teacher's own multi-bar library
// (github.com/vbauerster/mpb/v8, used for concurrent transfer progress in
// pkg/zeta/transfer.go) when a terminal is attached.
package effects

import (
	"bytes"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/term"
)

// IconState is an operation node's current display icon (spec.md §4.1).
type IconState int

const (
	InProgress IconState = iota
	Success
	Warning
	Failure
)

func (s IconState) String() string {
	switch s {
	case Success:
		return "done"
	case Warning:
		return "warn"
	case Failure:
		return "fail"
	default:
		return "..."
	}
}

// Progress is the optional (position, length) pair a metered operation
// reports, rendered as a determinate bar (spec.md §4.1).
type Progress struct {
	Position int
	Length   int
}

// opNode is one entry in the tree, keyed by the joined path of operation
// types from the root down to it.
type opNode struct {
	message      string
	icon         IconState
	activeStarts []time.Time
	elapsed      time.Duration
	progress     *Progress
	bar          *mpb.Bar
}

// quietPeriod is how long an operation must run before it earns a visible
// bar, so operations that finish instantly never flicker (spec.md §4.1).
const quietPeriod = 250 * time.Millisecond

// tick is the repaint cadence of the single background worker (spec.md
// §4.1). mpb's own WithAutoRefresh goroutine does the actual repainting;
// this repo's tick only exists to detect root shutdown, see tree.watch.
const tick = 100 * time.Millisecond

// tree is the state shared by a root Effects and every scope descending
// from it: the node map, the output streams, and (when visible) the mpb
// progress container and its shutdown signal.
type tree struct {
	mu    sync.Mutex
	nodes map[string]*opNode

	out    *OutputStream
	errOut *ErrorStream

	bars    *mpb.Progress
	visible bool

	rootStarted time.Time
	closed      atomic.Bool
	done        chan struct{}
	closeOnce   sync.Once
}

// Effects is a scope in the operation tree: the root returned by
// NewRootEffects/NewSuppressedEffects/NewTestEffects, or a child returned by
// StartOperation. path is this scope's key into the shared tree.
type Effects struct {
	t    *tree
	path []string
}

// Handle is returned alongside a child Effects by StartOperation. Dropping
// it (calling Close) records elapsed wall time for that scope's path
// (spec.md §4.1): if multiple concurrent entries exist at the same path,
// only the earliest surviving start contributes, and elapsed only advances
// once the last active start is popped.
type Handle struct {
	t      *tree
	path   []string
	start  time.Time
	closed bool
}

func newTree(out, errOut io.Writer, bars *mpb.Progress) *tree {
	t := &tree{
		nodes:       make(map[string]*opNode),
		bars:        bars,
		visible:     bars != nil,
		rootStarted: time.Now(),
		done:        make(chan struct{}),
	}
	t.out = newOutputStream(out, t)
	t.errOut = newErrorStream(errOut, t)
	if t.visible {
		go t.watch()
	}
	return t
}

// NewRootEffects creates the real root: a progress tree rendered to w (and
// errors to errW) when w is an attached terminal, otherwise output flushes
// directly with no bars — same gate the teacher applies in
// pkg/zeta/transfer.go before drawing a multi-bar container.
func NewRootEffects(w, errW *os.File) *Effects {
	if term.IsTerminal(int(w.Fd())) {
		bars := mpb.New(mpb.WithOutput(w), mpb.WithAutoRefresh())
		return &Effects{t: newTree(w, errW, bars)}
	}
	return &Effects{t: newTree(w, errW, nil)}
}

// NewSuppressedEffects discards all output and never renders a progress
// tree (spec.md §4.1's "suppressed" destination).
func NewSuppressedEffects() *Effects {
	return &Effects{t: newTree(io.Discard, io.Discard, nil)}
}

// NewTestEffects returns a root backed by in-memory buffers instead of a
// terminal, for tests that want to assert on rendered lines without one
// (spec.md §4.1's "test buffer" destination).
func NewTestEffects() (*Effects, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	return &Effects{t: newTree(&out, &errOut, nil)}, &out, &errOut
}

func (e *Effects) key() string { return strings.Join(e.path, "/") }

// StartOperation pushes an active start-time at a child path (this scope's
// path plus opType) and returns that child Effects plus a Handle whose
// Close records the elapsed time (spec.md §4.1). Re-entering the same path
// while it is still visible continues counting from its prior total: the
// node is looked up, not recreated.
func (e *Effects) StartOperation(opType string) (*Effects, *Handle) {
	childPath := append(append([]string(nil), e.path...), opType)
	child := &Effects{t: e.t, path: childPath}
	key := child.key()
	now := time.Now()

	e.t.mu.Lock()
	n, ok := e.t.nodes[key]
	if !ok {
		n = &opNode{message: opType}
		e.t.nodes[key] = n
	}
	n.icon = InProgress
	n.activeStarts = append(n.activeStarts, now)
	e.t.mu.Unlock()

	return child, &Handle{t: e.t, path: childPath, start: now}
}

// SetProgress reports a metered (position, length) pair for this handle's
// operation. When the tree is visible and enough wall-clock has passed
// (quietPeriod), a determinate mpb bar is created lazily and updated.
func (h *Handle) SetProgress(position, length int) {
	key := strings.Join(h.path, "/")
	h.t.mu.Lock()
	defer h.t.mu.Unlock()
	n, ok := h.t.nodes[key]
	if !ok {
		return
	}
	n.progress = &Progress{Position: position, Length: length}
	if h.t.bars == nil {
		return
	}
	if n.bar == nil && time.Since(h.start) >= quietPeriod {
		label := h.path[len(h.path)-1]
		n.bar = h.t.bars.New(int64(length),
			mpb.BarStyle(),
			mpb.PrependDecorators(decor.Name(label, decor.WCSyncSpaceR)),
			mpb.AppendDecorators(decor.CountersNoUnit("%d / %d")),
		)
	}
	if n.bar != nil {
		n.bar.SetCurrent(int64(position))
	}
}

// Fail marks this handle's operation icon Failure once its last active
// start pops, instead of the default Success.
func (h *Handle) Fail() { h.setIcon(Failure) }

// Warn marks this handle's operation icon Warning once its last active
// start pops.
func (h *Handle) Warn() { h.setIcon(Warning) }

func (h *Handle) setIcon(s IconState) {
	h.t.mu.Lock()
	defer h.t.mu.Unlock()
	if n, ok := h.t.nodes[strings.Join(h.path, "/")]; ok {
		n.icon = s
	}
}

// Close pops this handle's active start-time; the earliest surviving
// concurrent start at the path contributes elapsed wall time only once the
// last active start at that path is popped (spec.md §4.1). Closing the
// root-level handle (path length 1, i.e. the outermost StartOperation under
// the root) signals the background worker to stop: Go has no general weak
// reference before go1.24's experimental `weak` package, and this repo
// targets the teacher's go1.23, so "weak reference to root" is realized as
// this atomic-flag-plus-channel pair instead (DESIGN.md).
func (h *Handle) Close() {
	if h.closed {
		return
	}
	h.closed = true
	key := strings.Join(h.path, "/")

	h.t.mu.Lock()
	n, ok := h.t.nodes[key]
	if ok {
		n.activeStarts = popStart(n.activeStarts, h.start)
		if len(n.activeStarts) == 0 {
			n.elapsed += time.Since(h.start)
			if n.icon == InProgress {
				n.icon = Success
			}
			if n.bar != nil {
				n.bar.Abort(false)
				n.bar = nil
			}
		}
	}
	h.t.mu.Unlock()

	if len(h.path) == 1 {
		h.t.closeOnce.Do(func() {
			h.t.closed.Store(true)
			close(h.t.done)
			if h.t.bars != nil {
				h.t.bars.Wait()
			}
		})
	}
}

func popStart(starts []time.Time, target time.Time) []time.Time {
	for i, s := range starts {
		if s.Equal(target) {
			return append(starts[:i], starts[i+1:]...)
		}
	}
	return starts
}

// watch is the single background worker, created lazily per root (spec.md
// §4.1): it exists only to observe root shutdown, since mpb's own
// WithAutoRefresh goroutine already repaints registered bars at a fixed
// cadence (the teacher relies on that directly rather than hand-rolling a
// second ticker, see pkg/zeta/transfer.go's directMultiTransfer).
func (t *tree) watch() {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
		}
	}
}

// OutputStream returns this scope's output stream (spec.md §4.1): normal
// program output. Writes go straight to the stream's own writer; they are
// not routed through the progress bars, even while the tree is visible.
func (e *Effects) OutputStream() *OutputStream { return e.t.out }

// ErrorStream returns this scope's error stream.
func (e *Effects) ErrorStream() *ErrorStream { return e.t.errOut }
