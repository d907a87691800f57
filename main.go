package main

import (
	"os"

	"github.com/minerops/stratum-counter/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
