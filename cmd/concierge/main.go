package main

import (
	"os"

	"github.com/soyeahso/concierge/internal/cli"
	"github.com/tillberg/autorestart"
)

func main() {
	// Restart when the binary changes on disk.
	if os.Getenv("CONCIERGE_AUTORESTART") == "1" {
		go autorestart.RestartOnChange()
	}

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
