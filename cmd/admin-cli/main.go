package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"
)

var (
	// Global flags.
	coordinatorURL string
	timeout        time.Duration
	requestID      string

	// Command-specific flags.
	pendingOnly bool
)

var rootCmd = &cobra.Command{
	Use:   "admin-cli",
	Short: "Chainlink CCV Coordinator Admin CLI",
	Long: `A command-line interface for operating a Chainlink CCV Coordinator.

This tool reads component health and message or batch state, and triggers
batch closing and anchoring out of schedule.`,
	Example: `  # Show component health
  admin-cli status

  # Close the open batch now
  admin-cli batch-now --url http://coordinator:8080

  # Close the open batch and anchor it immediately
  admin-cli fast-anchor

  # Inspect a message and a batch
  admin-cli message 3f1c0e8e-0f5c-4d5e-a3f0-6c1a3cbe2d10
  admin-cli batch 42`,
	SilenceUsage: true,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show coordinator readiness and component health",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runGet("/health/ready")
	},
}

var batchNowCmd = &cobra.Command{
	Use:   "batch-now",
	Short: "Close the open batch and print it once sealed",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPost("/v1/batches")
	},
}

var fastAnchorCmd = &cobra.Command{
	Use:   "fast-anchor",
	Short: "Close the open batch and anchor it before returning",
	Long: `Close the open batch and submit its root to the anchor service.

With no pending receipts the most recent batch without an anchor is anchored
instead. The printed batch carries its anchor status: a submitted batch is
not final until its block height is confirmed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPost("/v1/batches/fast-anchor")
	},
}

var messageCmd = &cobra.Command{
	Use:   "message [message-id]",
	Short: "Show a message and its attestations, or list pending messages",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 || pendingOnly {
			return runGet("/v1/messages?state=pending")
		}
		return runGet("/v1/messages/" + args[0])
	},
}

var batchCmd = &cobra.Command{
	Use:   "batch <sequence>",
	Short: "Show a batch and re-verify its root",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		seq, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid batch sequence '%s': %w", args[0], err)
		}
		if err := runGet(fmt.Sprintf("/v1/batches/%d", seq)); err != nil {
			return err
		}
		return runGet(fmt.Sprintf("/v1/batches/%d/verify", seq))
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&coordinatorURL, "url", envOr("COORDINATOR_URL", "http://localhost:8080"), "Coordinator HTTP URL")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")
	rootCmd.PersistentFlags().StringVar(&requestID, "request-id", "", "Request id sent as X-Request-ID")

	messageCmd.Flags().BoolVar(&pendingOnly, "pending", false, "List pending messages")

	rootCmd.AddCommand(statusCmd, batchNowCmd, fastAnchorCmd, messageCmd, batchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func newClient() *resty.Client {
	client := resty.New().
		SetBaseURL(coordinatorURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	if requestID != "" {
		client.SetHeader("X-Request-ID", requestID)
	}
	return client
}

func runGet(path string) error {
	resp, err := newClient().R().Get(path)
	return printResponse(resp, err)
}

func runPost(path string) error {
	resp, err := newClient().R().SetHeader("Content-Type", "application/json").Post(path)
	return printResponse(resp, err)
}

// printResponse pretty prints the body. Error statuses are printed as well and reported as a failure.
func printResponse(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("request to coordinator failed: %w", err)
	}

	var out bytes.Buffer
	if indentErr := json.Indent(&out, resp.Body(), "", "  "); indentErr != nil {
		out.Reset()
		out.Write(resp.Body())
	}
	if _, err := fmt.Fprintln(os.Stdout, out.String()); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("coordinator returned %s", resp.Status())
	}
	return nil
}
