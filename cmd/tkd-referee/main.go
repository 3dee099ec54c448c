package main

import (
	"os"

	"github.com/tkd-scorelink/referee/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
