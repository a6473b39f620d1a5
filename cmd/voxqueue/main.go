// Command voxqueue runs the transcription job service: an HTTP API,
// a single-worker job processor, and an optional dropzone folder watcher.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "voxqueue",
	Short: "voxqueue transcription job service",
	Long:  `voxqueue accepts audio transcription jobs over HTTP, runs them through a fetch/extract/transcribe/render pipeline, and notifies a webhook on completion.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
