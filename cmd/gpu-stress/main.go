/*
PURPOSE:
  Entry point for the gpu-stress binary.
  Builds the CLI root command and executes it.

REQUIREMENTS:
  User-specified:
  - Single binary entry point.
  - Non-zero exit status when the run cannot start (bad arguments, no device).

  Implementation-discovered:
  - Interrupts are handled inside the run command, not here, so a partial
    report can still be printed before the process exits.

ARCHITECTURE INTEGRATION:
  - Calls: internal/cli.Execute()
  - Depends on: internal/cli package

ERROR HANDLING:
  - Explicit error check on Execute(); exit code 1 on failure.

IMPLEMENTATION RULES:
  - Keep main() minimal. All logic belongs in internal/ packages.
  - Do not use global variables for state here.

USAGE:
  go build -o gpu-stress ./cmd/gpu-stress
  ./gpu-stress [duration_per_test] [flags]

RELATED FILES:
  - internal/cli/root.go - The actual root command definition.
*/

package main

import (
	"fmt"
	"os"

	"github.com/daryltucker/gpu-stress/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
