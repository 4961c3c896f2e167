// Package main provides the broker server executable with HTTP API and background worker.
package main

import (
	"os"

	"github.com/coregx/broker/cmd/broker-server/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
