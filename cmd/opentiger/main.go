package main

import (
	"os"

	"github.com/Andyyyy64/opentiger/cmd/opentiger/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
