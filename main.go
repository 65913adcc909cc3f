// Package main is the entry point for the floodgate mitigation engine.
package main

import (
	"fmt"
	"os"

	"firestige.xyz/floodgate/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
