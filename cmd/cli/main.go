package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// apiClient calls the xledger HTTP API.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func (c *apiClient) do(ctx context.Context, method, path string, body any, headers map[string]string) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.baseURL, "/")+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}

func newRootCmd() *cobra.Command {
	client := &apiClient{}
	var timeout time.Duration

	rootCmd := &cobra.Command{
		Use:           "xledger-cli",
		Short:         "xledger CLI tool",
		Long:          `A command line interface for the xledger cross-ledger transfer API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			client.http = &http.Client{Timeout: timeout}
		},
	}

	rootCmd.PersistentFlags().StringVar(&client.baseURL, "url", "http://localhost:8080", "Base URL of the xledger API")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "Request timeout")

	transferCmd := &cobra.Command{
		Use:   "transfer",
		Short: "Transfer operations",
	}
	transferCmd.AddCommand(
		transferCreateCmd(client),
		transferStatusCmd(client),
		transferListCmd(client),
		transferExpireCmd(client),
		transferEventsCmd(client),
	)

	eventCmd := &cobra.Command{
		Use:   "event",
		Short: "Ledger event operations",
	}
	eventCmd.AddCommand(eventDeliverCmd(client))

	rootCmd.AddCommand(transferCmd, eventCmd)
	return rootCmd
}

func transferCreateCmd(client *apiClient) *cobra.Command {
	var (
		req            createTransferRequest
		idempotencyKey string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Start a cross-ledger transfer",
		RunE: func(cmd *cobra.Command, args []string) error {
			headers := map[string]string{}
			if idempotencyKey != "" {
				headers["Idempotency-Key"] = idempotencyKey
			}
			data, err := client.do(cmd.Context(), http.MethodPost, "/api/v1/transfers", req, headers)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	}

	cmd.Flags().StringVar(&req.ID, "id", "", "Transfer id (generated when empty)")
	cmd.Flags().StringVar(&req.RuleID, "rule", "", "Conversion rule id")
	cmd.Flags().StringVar(&req.SourceAccount, "from", "", "Source account on the source chain")
	cmd.Flags().StringVar(&req.DestinationAccount, "to", "", "Destination account on the destination chain")
	cmd.Flags().StringVar(&req.Amount, "amount", "", "Amount in source units")
	cmd.Flags().StringVar(&idempotencyKey, "idempotency-key", "", "Idempotency key for safe retries")
	for _, name := range []string{"rule", "from", "to", "amount"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

// createTransferRequest mirrors the API request body.
type createTransferRequest struct {
	ID                 string `json:"id,omitempty"`
	RuleID             string `json:"rule_id"`
	SourceAccount      string `json:"source_account"`
	DestinationAccount string `json:"destination_account"`
	Amount             string `json:"amount"`
}

func transferStatusCmd(client *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "status <id>",
		Short: "Show the progress of a transfer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := client.do(cmd.Context(), http.MethodGet, "/api/v1/transfers/"+url.PathEscape(args[0]), nil, nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	}
}

func transferListCmd(client *apiClient) *cobra.Command {
	var (
		chain, rule, leg, state, outcome string
		inFlight                         bool
		limit, offset                    int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List transfers",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			for key, v := range map[string]string{"chain": chain, "rule": rule, "leg": leg, "state": state, "outcome": outcome} {
				if v != "" {
					q.Set(key, v)
				}
			}
			if inFlight {
				q.Set("in_flight", "true")
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			if offset > 0 {
				q.Set("offset", strconv.Itoa(offset))
			}

			path := "/api/v1/transfers"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}
			data, err := client.do(cmd.Context(), http.MethodGet, path, nil, nil)
			if err != nil {
				return err
			}

			var page struct {
				Transfers []struct {
					ID       string `json:"id"`
					RuleID   string `json:"rule_id"`
					Progress string `json:"progress"`
					Outcome  string `json:"outcome"`
				} `json:"transfers"`
			}
			if err := json.Unmarshal(data, &page); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-28s %-16s %-28s %s\n", "ID", "RULE", "PROGRESS", "OUTCOME")
			for _, t := range page.Transfers {
				fmt.Fprintf(out, "%-28s %-16s %-28s %s\n", truncate(t.ID, 28), truncate(t.RuleID, 16), t.Progress, t.Outcome)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&chain, "chain", "", "Only transfers touching this chain")
	cmd.Flags().StringVar(&rule, "rule", "", "Only transfers of this rule")
	cmd.Flags().StringVar(&leg, "leg", "", "Only transfers at this leg")
	cmd.Flags().StringVar(&state, "state", "", "Only transfers whose leg is in this state")
	cmd.Flags().StringVar(&outcome, "outcome", "", "Only transfers with this outcome")
	cmd.Flags().BoolVar(&inFlight, "in-flight", false, "Only transfers still in flight")
	cmd.Flags().IntVar(&limit, "limit", 0, "Page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "Page offset")
	return cmd
}

func transferExpireCmd(client *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "expire <id>",
		Short: "Fail the pending leg of a transfer as expired",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/v1/transfers/" + url.PathEscape(args[0]) + "/expire"
			data, err := client.do(cmd.Context(), http.MethodPost, path, nil, nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	}
}

func transferEventsCmd(client *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "events <id>",
		Short: "Show the outcome events recorded for a transfer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/v1/transfers/" + url.PathEscape(args[0]) + "/events"
			data, err := client.do(cmd.Context(), http.MethodGet, path, nil, nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	}
}

func eventDeliverCmd(client *apiClient) *cobra.Command {
	var chainID, ref, payload string

	cmd := &cobra.Command{
		Use:   "deliver",
		Short: "Deliver a ledger event to the coordinator",
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{"chain_id": chainID, "event_ref": ref}
			if payload != "" {
				var p map[string]any
				if err := json.Unmarshal([]byte(payload), &p); err != nil {
					return fmt.Errorf("payload: %w", err)
				}
				body["payload"] = p
			}

			data, err := client.do(cmd.Context(), http.MethodPost, "/api/v1/events", body, nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	}

	cmd.Flags().StringVar(&chainID, "chain", "", "Chain the event comes from")
	cmd.Flags().StringVar(&ref, "ref", "", "Event reference (ledger transaction id)")
	cmd.Flags().StringVar(&payload, "payload", "", `Event payload as JSON, e.g. '{"status":200}'`)
	_ = cmd.MarkFlagRequired("chain")
	_ = cmd.MarkFlagRequired("ref")
	return cmd
}

func printJSON(w io.Writer, data []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, bytes.TrimSpace(data), "", "  "); err != nil {
		_, err = w.Write(data)
		return err
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
