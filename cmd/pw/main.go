// Package main is the entry point for the pw CLI client.
package main

import (
	"github.com/donaldgifford/price-watch/cmd/pw/cmd"
)

func main() {
	cmd.Execute()
}
