// Command rollctl is the operator-facing client for rollerd's control
// channel: one cobra subcommand per rollcmd_* verb, each of which opens
// a fresh connection, sends a request, and prints the daemon's reply.
package main

import (
	"fmt"
	"os"

	"rollerd/cmd/rollctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "rollctl: %v\n", err)
		os.Exit(1)
	}
}
