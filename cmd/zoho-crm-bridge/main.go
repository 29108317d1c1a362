// Package main is the entry point for zoho-crm-bridge.
package main

import (
	"fmt"
	"os"

	"zoho-crm-bridge/internal/cli"
)

func main() {
	cli.Init()

	if err := cli.RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
