// Package main is the entry point for the price-watch server.
package main

import (
	"os"

	"github.com/donaldgifford/price-watch/cmd/price-watch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
