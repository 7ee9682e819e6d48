// Package main provides the voicecheck CLI, a client for the voice detection API.
//
// Usage:
//
//	voicecheck [flags] detect FILE...
//
// The API key is read from --api-key or the SIREN_API_KEY environment variable.
package main

import (
	"fmt"
	"os"

	"github.com/eincosmos/sirenvoice/cmd/voicecheck/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
