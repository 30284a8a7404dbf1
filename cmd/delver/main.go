// Package main is the delver CLI: an open-web research pipeline engine that
// turns a query and a report template into a sourced research report.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "delver",
	Short: "Open-web research pipeline engine",
	Long:  "Delver runs research jobs through a Search, Crawl, Analyze, Generate pipeline and serves the results over HTTP.",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
