package main

import (
	"os"

	"github.com/fieldops/rove/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
