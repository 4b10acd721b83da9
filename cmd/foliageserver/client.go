package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// apiClient talks to a running foliageserver.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(base string) *apiClient {
	return &apiClient{base: base, http: &http.Client{Timeout: 10 * time.Second}}
}

// do sends body (when non-nil) as JSON and returns the raw response body.
// Non 2xx responses become errors carrying the server's message.
func (c *apiClient) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(data)))
	}
	return data, nil
}

type usageResponse struct {
	UsageBytes uint64 `json:"usage_bytes"`
	Status     string `json:"status"`
}

type historySample struct {
	At         time.Time `json:"at"`
	UsageBytes uint64    `json:"usage_bytes"`
	Live       int       `json:"live"`
}

type ackResponse struct {
	Status string `json:"status"`
	Tag    string `json:"tag"`
}

func NewUsageCommand(opts *RootOptions) *cobra.Command {
	var history bool

	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show tracked memory usage of a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient(opts.serverURL())
			out := cmd.OutOrStdout()
			p := message.NewPrinter(language.English)

			path := "/memory_stats"
			if history {
				path = "/memory_stats/history"
			}
			data, err := client.do(cmd.Context(), http.MethodGet, path, nil)
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				_, err := out.Write(data)
				return err
			}

			if !history {
				var usage usageResponse
				if err := json.Unmarshal(data, &usage); err != nil {
					return fmt.Errorf("decode usage: %w", err)
				}
				p.Fprintf(out, "%s: %d bytes in use\n", usage.Status, usage.UsageBytes)
				return nil
			}

			var samples []historySample
			if err := json.Unmarshal(data, &samples); err != nil {
				return fmt.Errorf("decode history: %w", err)
			}
			for _, s := range samples {
				p.Fprintf(out, "%s  %d bytes  %d live\n", s.At.Local().Format("15:04:05.000"), s.UsageBytes, s.Live)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&history, "history", false, "print the recent usage samples instead of the current value")
	return cmd
}

// paintBody mirrors the /paint request body.
type paintBody struct {
	X                 float64 `json:"x"`
	Y                 float64 `json:"y"`
	Z                 float64 `json:"z"`
	Radius            float64 `json:"radius"`
	Density           int     `json:"density"`
	MaxSlopeAngle     float64 `json:"maxSlopeAngle"`
	ClusteringEnabled bool    `json:"clusteringEnabled"`
	Tag               string  `json:"tag,omitempty"`
}

func NewPaintCommand(opts *RootOptions) *cobra.Command {
	body := paintBody{}

	cmd := &cobra.Command{
		Use:   "paint",
		Short: "Queue a paint stroke on a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newAPIClient(opts.serverURL()).do(cmd.Context(), http.MethodPost, "/paint", body)
			if err != nil {
				return err
			}
			return printAck(cmd, opts, data, "paint")
		},
	}

	cmd.Flags().Float64Var(&body.X, "x", 0, "brush centre x")
	cmd.Flags().Float64Var(&body.Y, "y", 0, "brush centre y")
	cmd.Flags().Float64Var(&body.Z, "z", 0, "brush centre height; the ground probe spans 1000 units either side")
	cmd.Flags().Float64VarP(&body.Radius, "radius", "r", 500, "brush radius")
	cmd.Flags().IntVarP(&body.Density, "density", "n", 10, "placement attempts")
	cmd.Flags().Float64Var(&body.MaxSlopeAngle, "max-slope", 45, "steepest accepted ground in degrees")
	cmd.Flags().BoolVar(&body.ClusteringEnabled, "cluster", false, "bias placements towards the previous one")
	cmd.Flags().StringVar(&body.Tag, "tag", "", "tag for the stroke's instances (generated when empty)")
	return cmd
}

func NewClearCommand(opts *RootOptions) *cobra.Command {
	var tag string

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove instances by tag, or all instances without --tag",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/clear"
			if tag != "" {
				path += "?tag=" + url.QueryEscape(tag)
			}
			data, err := newAPIClient(opts.serverURL()).do(cmd.Context(), http.MethodPost, path, nil)
			if err != nil {
				return err
			}
			return printAck(cmd, opts, data, "clear")
		},
	}

	cmd.Flags().StringVar(&tag, "tag", "", "tag to remove")
	return cmd
}

func NewUndoCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "undo",
		Short: "Remove the most recent stroke",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newAPIClient(opts.serverURL()).do(cmd.Context(), http.MethodPost, "/undo", nil)
			if err != nil {
				return err
			}
			return printAck(cmd, opts, data, "undo")
		},
	}
}

func printAck(cmd *cobra.Command, opts *RootOptions, data []byte, what string) error {
	out := cmd.OutOrStdout()
	if opts.Format == "json" {
		_, err := out.Write(data)
		return err
	}
	var ack ackResponse
	if err := json.Unmarshal(data, &ack); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if ack.Tag != "" {
		fmt.Fprintf(out, "%s %s (tag %s)\n", what, ack.Status, ack.Tag)
	} else {
		fmt.Fprintf(out, "%s %s\n", what, ack.Status)
	}
	return nil
}
