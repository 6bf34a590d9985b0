// Command vagdiag is the CLI shell over the diagnostic toolkit: flash,
// read, wakeup, pin and test subcommands sharing one root command's
// persistent device/platform flags (SPEC_FULL §6). Grounded on
// keskad-loco's main.go (a bare cobra Execute() call forwarding
// os.Args[1:], no extra wiring at the entrypoint).
package main

import (
	"os"

	"github.com/volvotools/vagdiag/cmd/vagdiag/cmd"
)

func main() {
	if err := cmd.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
