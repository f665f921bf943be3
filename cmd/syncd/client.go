package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
)

const clientTimeout = 30 * time.Second

// apiClient is the operator side of the loopback API.
type apiClient struct {
	base string
	http *http.Client
}

func clientFor(cmd *cobra.Command) *apiClient {
	addr, _ := cmd.Flags().GetString("addr")
	return &apiClient{base: "http://" + addr, http: &http.Client{Timeout: clientTimeout}}
}

func (c *apiClient) call(ctx context.Context, method, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("daemon unreachable at %s: %w", c.base, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		if msg := gjson.GetBytes(body, "error").String(); msg != "" {
			return nil, fmt.Errorf("%s %s: %s", method, path, msg)
		}
		return nil, fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	return body, nil
}

func printJSON(cmd *cobra.Command, body []byte) {
	if len(body) == 0 {
		return
	}
	fmt.Fprint(cmd.OutOrStdout(), string(pretty.Pretty(body)))
}

func newStatusCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show connectivity and the pending queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := clientFor(cmd)
			conn, err := c.call(cmd.Context(), http.MethodGet, "/api/v1/connectivity")
			if err != nil {
				return err
			}
			queue, err := c.call(cmd.Context(), http.MethodGet, "/api/v1/queue")
			if err != nil {
				return err
			}
			if asJSON {
				printJSON(cmd, conn)
				printJSON(cmd, queue)
				return nil
			}

			cs := gjson.ParseBytes(conn)
			qs := gjson.ParseBytes(queue)
			state := "offline"
			if cs.Get("connected").Bool() {
				state = "online"
			}
			if cs.Get("offline_mode").Bool() {
				state += " (offline mode)"
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "connectivity: %s via %s, quality %s\n",
				state, cs.Get("transport").String(), cs.Get("quality").String())
			fmt.Fprintf(out, "queue:        %s (%d in flight, %d high priority, capacity %d)\n",
				qs.Get("summary").String(), qs.Get("in_flight_items").Int(),
				qs.Get("high_priority_count").Int(), qs.Get("capacity").Int())
			if oldest := qs.Get("oldest_enqueued_at"); oldest.Exists() {
				fmt.Fprintf(out, "oldest:       %s\n", oldest.String())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print raw JSON")
	return cmd
}

func newSyncCmd() *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Drain the queue now",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := clientFor(cmd).call(cmd.Context(), http.MethodPost,
				"/api/v1/sync?wait="+strconv.FormatBool(wait))
			if err != nil {
				return err
			}
			if !wait {
				fmt.Fprintln(cmd.OutOrStdout(), "sync requested")
				return nil
			}
			printJSON(cmd, body)
			return nil
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for the drain and print its result")
	return cmd
}

func newErrorsCmd() *cobra.Command {
	var (
		recent        int
		clearResolved bool
	)
	cmd := &cobra.Command{
		Use:   "errors",
		Short: "Show error journal statistics and recent records",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := clientFor(cmd)
			if clearResolved {
				body, err := c.call(cmd.Context(), http.MethodDelete, "/api/v1/errors/resolved")
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cleared %d resolved records\n", gjson.GetBytes(body, "cleared").Int())
				return nil
			}

			q := url.Values{}
			q.Set("recent", strconv.Itoa(recent))
			body, err := c.call(cmd.Context(), http.MethodGet, "/api/v1/errors?"+q.Encode())
			if err != nil {
				return err
			}
			printJSON(cmd, body)
			return nil
		},
	}
	cmd.Flags().IntVar(&recent, "recent", 10, "Number of recent records to show")
	cmd.Flags().BoolVar(&clearResolved, "clear-resolved", false, "Delete every resolved record instead")
	return cmd
}

func newResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <error-id>",
		Short: "Mark an error record resolved",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := clientFor(cmd).call(cmd.Context(), http.MethodPost,
				"/api/v1/errors/"+url.PathEscape(args[0])+"/resolve"); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "resolved %s\n", args[0])
			return nil
		},
	}
}
