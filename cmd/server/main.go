// Command claude-line serves the voice UI and relays spoken commands to the
// claude CLI running in a project directory.
package main

import "os"

// Build information injected via ldflags at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
