// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package effects

import (
	"bufio"
	"fmt"
	"io"
	"sync"
)

// OutputStream is the normal-output side of a tree (spec.md §4.1). Every
// Println/Printf call flushes the bufio.Writer before returning, whether or
// not the text ends in a newline, so each call reaches the underlying
// writer in one piece.
type OutputStream struct {
	mu sync.Mutex
	w  *bufio.Writer
	t  *tree
}

func newOutputStream(w io.Writer, t *tree) *OutputStream {
	return &OutputStream{w: bufio.NewWriter(w), t: t}
}

// Println writes a line and flushes immediately.
func (s *OutputStream) Println(args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.w, args...)
	s.w.Flush()
}

// Printf writes a formatted line (format should end in "\n") and flushes.
func (s *OutputStream) Printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, format, args...)
	s.w.Flush()
}

// ErrorStream is the error/warning side of a tree, kept distinct from
// OutputStream so callers can redirect diagnostics independently of normal
// output (spec.md §4.1).
type ErrorStream struct {
	mu sync.Mutex
	w  *bufio.Writer
	t  *tree
}

func newErrorStream(w io.Writer, t *tree) *ErrorStream {
	return &ErrorStream{w: bufio.NewWriter(w), t: t}
}

func (s *ErrorStream) Println(args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.w, args...)
	s.w.Flush()
}

func (s *ErrorStream) Printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, format, args...)
	s.w.Flush()
}
