package commands

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/eincosmos/sirenvoice/internal/server"
)

var (
	language    string
	audioFormat string
	concurrency int
)

var detectCmd = &cobra.Command{
	Use:   "detect FILE...",
	Short: "Classify recordings as HUMAN or AI_GENERATED",
	Long: `Base64-encode each file and submit it to the detection endpoint.

One line is printed per file, in argument order:
  <file>  <classification>  <confidence>

Examples:
  voicecheck detect sample.mp3
  voicecheck detect --language Tamil --concurrency 8 *.mp3`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := detectOptions{
			URL:         apiURL,
			APIKey:      apiKey,
			Language:    language,
			AudioFormat: audioFormat,
			Concurrency: concurrency,
			Timeout:     timeout,
		}

		if opts.APIKey == "" {
			printVerbose(cmd, "No API key set, requests will likely be rejected")
		}

		results := detectFiles(cmd.Context(), &http.Client{}, opts, args)
		return printResults(cmd.OutOrStdout(), results)
	},
}

func init() {
	detectCmd.Flags().StringVarP(&language, "language", "l", "English", "spoken language of the recordings")
	detectCmd.Flags().StringVar(&audioFormat, "format", "mp3", "audio container format")
	detectCmd.Flags().IntVarP(&concurrency, "concurrency", "n", 4, "maximum requests in flight")
}

// detectOptions contains the request parameters shared by every file
type detectOptions struct {
	URL         string
	APIKey      string
	Language    string
	AudioFormat string
	Concurrency int
	Timeout     time.Duration
}

// detectResult is the outcome for one file
type detectResult struct {
	File     string
	Response *server.DetectionResponse
	Err      error
}

// detectFiles submits every file with at most opts.Concurrency requests in
// flight. Results keep the order of files; one failure does not stop the rest.
func detectFiles(ctx context.Context, client *http.Client, opts detectOptions, files []string) []detectResult {
	if ctx == nil {
		ctx = context.Background()
	}

	results := make([]detectResult, len(files))

	g, gctx := errgroup.WithContext(ctx)
	if opts.Concurrency > 0 {
		g.SetLimit(opts.Concurrency)
	}

	for i, file := range files {
		g.Go(func() error {
			resp, err := submit(gctx, client, opts, file)
			results[i] = detectResult{File: file, Response: resp, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// submit posts one file and decodes the verdict
func submit(ctx context.Context, client *http.Client, opts detectOptions, path string) (*server.DetectionResponse, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	body, err := json.Marshal(server.DetectionRequest{
		Language:    opts.Language,
		AudioFormat: opts.AudioFormat,
		AudioBase64: base64.StdEncoding.EncodeToString(data),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, opts.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if opts.APIKey != "" {
		req.Header.Set("x-api-key", opts.APIKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var envelope server.ErrorResponse
		if json.Unmarshal(raw, &envelope) == nil && envelope.Message != "" {
			return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, envelope.Message)
		}
		return nil, fmt.Errorf("server returned %d", resp.StatusCode)
	}

	var verdict server.DetectionResponse
	if err := json.Unmarshal(raw, &verdict); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &verdict, nil
}

// printResults writes one line per file and reports how many failed
func printResults(w io.Writer, results []detectResult) error {
	width := 0
	for _, r := range results {
		if n := len(filepath.Base(r.File)); n > width {
			width = n
		}
	}

	failed := 0
	for _, r := range results {
		name := filepath.Base(r.File)
		pad := strings.Repeat(" ", width-len(name))
		if r.Err != nil {
			failed++
			fmt.Fprintf(w, "%s%s  ERROR  %v\n", name, pad, r.Err)
			continue
		}
		fmt.Fprintf(w, "%s%s  %s  %.2f\n", name, pad, r.Response.Classification, r.Response.ConfidenceScore)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(results))
	}
	return nil
}

// printVerbose prints to stderr when --verbose is set
func printVerbose(cmd *cobra.Command, format string, args ...any) {
	if verbose {
		fmt.Fprintf(cmd.ErrOrStderr(), format+"\n", args...)
	}
}
