// Package main provides the recap ops CLI for operating and debugging the
// media recap pipeline.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd is the main Cobra command for the recap CLI.
var rootCmd = &cobra.Command{
	Use:   "recap",
	Short: "Operate and debug the media recap pipeline",
	Long: `Recap is the operations CLI for the media recap pipeline.

submit emulates an upload notification against the live stack: it fingerprints
an S3 object from its ETag and walks the same claim/dispatch path the queue
consumer does. status reads a job record and its transition history. run
executes the whole pipeline locally against in-memory stores, which is the
primary debugging tool.

Examples:
  recap submit --bucket media-recap-prod --key uploads/standup.mp4
  recap status job-0123456789abcdef0123456789abcdef
  recap run ./standup.mp4 --out ./recap-out`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
