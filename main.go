package main

import (
	"os"

	"github.com/pi-runtime/agentteams/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
