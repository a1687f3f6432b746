// Command lens runs the Lightning liquidity learning service.
package main

import (
	"os"

	"lightning-lens/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
