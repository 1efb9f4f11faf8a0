// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package command wires rebase and undo into a kong-parsed CLI (SPEC_FULL
// §9: "a minimal cmd/branchless wiring two operations"), following the
// teacher's pkg/command.Globals/Run(g *Globals) error shape.
package command

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeta-scm/branchless/modules/config"
	"github.com/zeta-scm/branchless/store"
)

// Globals carries the flags shared by every subcommand.
type Globals struct {
	Verbose  bool   `short:"V" name:"verbose" help:"Make the operation more talkative"`
	StoreDir string `name:"store" help:"Directory holding the branchless.sqlite3 event log" default:"."`
}

func (g *Globals) DbgPrint(format string, args ...any) {
	if !g.Verbose {
		return
	}
	message := strings.TrimSuffix(fmt.Sprintf(format, args...), "\n")
	var buffer bytes.Buffer
	for _, s := range strings.Split(message, "\n") {
		_, _ = buffer.WriteString("* ")
		_, _ = buffer.WriteString(s)
		_, _ = buffer.WriteString("\n")
	}
	_, _ = os.Stderr.Write(buffer.Bytes())
}

func (g *Globals) openStore() (*store.Store, error) {
	return store.Open(filepath.Join(g.StoreDir, "branchless.sqlite3"))
}

// loadConfig resolves this invocation's Config from StoreDir, the closest
// thing this demo CLI has to a repo root (see modules/config.Load).
func (g *Globals) loadConfig() (*config.Config, error) {
	return config.Load(g.StoreDir)
}

// Debuger lets shared helpers accept either Globals or a test double.
type Debuger interface {
	DbgPrint(format string, args ...any)
}

var (
	// ErrFlagsIncompatible is returned when a command is given two flags
	// that cannot both apply (e.g. --abort and --continue together).
	ErrFlagsIncompatible = errors.New("flags incompatible")
	// ErrArgRequired is returned when a required positional argument is
	// missing.
	ErrArgRequired = errors.New("arg required")
)

func diev(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
}
