package main

import (
	"os"

	"github.com/helixsec/fusion/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
