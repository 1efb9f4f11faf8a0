// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"

	"github.com/alecthomas/kong"

	"github.com/zeta-scm/branchless/pkg/command"
)

// App is the minimal cmd/branchless wiring (SPEC_FULL §9): two operations,
// rebase and undo, parsed through kong the same way the teacher's cmd/zeta
// wires its (much larger) command set.
type App struct {
	command.Globals
	Rebase command.Rebase `cmd:"rebase" help:"Reapply a branch's commits on top of another base"`
	Undo   command.Undo   `cmd:"undo" help:"Undo the last N transactions recorded in the event log"`
}

func main() {
	var app App
	ctx := kong.Parse(&app,
		kong.Name("branchless"),
		kong.Description("Rebases commits and undoes recorded operations"),
		kong.UsageOnError(),
	)
	err := ctx.Run(&app.Globals)
	if err == nil {
		return
	}
	os.Exit(1)
}
