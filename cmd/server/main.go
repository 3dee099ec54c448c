// Command server runs the development scoring server on its own, for a
// machine that never runs the referee terminal.
package main

import (
	"os"

	"github.com/tkd-scorelink/referee/internal/cli"
)

func main() {
	cmd := cli.NewServeCmd()
	cmd.Use = "tkd-scoreserver"
	cmd.Version = cli.Version
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
