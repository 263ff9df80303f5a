package main

import (
	"fmt"
	"os"

	"chordd/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "chordd: %v\n", err)
		os.Exit(1)
	}
}
