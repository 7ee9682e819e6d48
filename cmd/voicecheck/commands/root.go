package commands

import (
	"os"
	"time"

	"github.com/spf13/cobra"
)

const defaultURL = "http://localhost:8000/api/voice-detection"

var (
	// Global flags
	apiURL  string
	apiKey  string
	timeout time.Duration
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "voicecheck",
	Short: "Voice detection API client",
	Long: `voicecheck - submits recordings to the voice detection service and
prints whether each one sounds human or AI generated.

Examples:
  # Check a single file
  voicecheck detect sample.mp3

  # Check a directory of Hindi clips four at a time
  voicecheck detect --language Hindi --concurrency 4 clips/*.mp3
`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiURL, "url", defaultURL, "detection endpoint URL")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("SIREN_API_KEY"), "API key (default $SIREN_API_KEY)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 60*time.Second, "per-request timeout")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(detectCmd)
}
