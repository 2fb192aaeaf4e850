// rfctl is the operator CLI for the rfplane control plane: card
// discovery, metadata, streaming, and frequency hopping.
package main

import (
	"os"

	"github.com/fieldwave/rfplane/cmd/rfctl/cmd"
	"github.com/fieldwave/rfplane/pkg/clierror"
)

func main() {
	if err := cmd.Execute(); err != nil {
		ce := clierror.FromError(err)
		clierror.PrintError(ce, cmd.OutputFormat())
		os.Exit(ce.ExitCode)
	}
}
