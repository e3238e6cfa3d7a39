package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/go-resty/resty/v2"
	"github.com/hearth-social/backend/internal/presence"
	"github.com/hearth-social/backend/internal/util"
	"github.com/hearth-social/backend/internal/websocket"
	"github.com/spf13/cobra"
)

var (
	bold   = color.New(color.Bold)
	online = color.New(color.FgGreen)
	faint  = color.New(color.FgHiBlack)
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show socket hub counters of a running server (admin)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStats()
	},
}

var presenceCmd = &cobra.Command{
	Use:   "presence <user-id>...",
	Short: "Show whether users are online",
	Args:  cobra.RangeArgs(1, 100),
	RunE: func(cmd *cobra.Command, args []string) error {
		return showPresence(args)
	},
}

func init() {
	rootCmd.AddCommand(presenceCmd)
}

// apiClient returns a resty client for the configured server
func apiClient() (*resty.Client, error) {
	token := authToken
	if token == "" {
		token = os.Getenv("HEARTH_TOKEN")
	}
	if token == "" {
		return nil, fmt.Errorf("HEARTH_TOKEN environment variable not set")
	}

	return resty.New().
		SetBaseURL(apiURL).
		SetTimeout(10*time.Second).
		SetHeader("User-Agent", "Hearth-CLI").
		SetAuthToken(token).
		SetError(&util.ErrorResponse{}), nil
}

func checkResponse(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if resp.IsError() {
		if apiErr, ok := resp.Error().(*util.ErrorResponse); ok && apiErr.Message != "" {
			return fmt.Errorf("[%d] %s: %s", resp.StatusCode(), apiErr.Code, apiErr.Message)
		}
		return fmt.Errorf("[%d] %s", resp.StatusCode(), resp.String())
	}
	return nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func showStats() error {
	client, err := apiClient()
	if err != nil {
		return err
	}

	var body struct {
		Socket    websocket.Stats `json:"socket"`
		Timestamp time.Time       `json:"timestamp"`
	}
	if err := checkResponse(client.R().SetResult(&body).Get("/api/v1/ws/stats")); err != nil {
		return err
	}

	if output == "json" {
		return printJSON(body)
	}
	bold.Println("Socket hub")
	fmt.Printf("  Connections: %d\n", body.Socket.Connections)
	fmt.Printf("  Rooms:       %d\n", body.Socket.Rooms)
	fmt.Printf("  Queued:      %d\n", body.Socket.Queued)
	faint.Printf("  as of %s\n", body.Timestamp.Local().Format(time.RFC1123))
	return nil
}

func showPresence(userIDs []string) error {
	client, err := apiClient()
	if err != nil {
		return err
	}

	var body struct {
		Presence []presence.Status `json:"presence"`
	}
	resp, err := client.R().
		SetBody(map[string][]string{"user_ids": userIDs}).
		SetResult(&body).
		Post("/api/v1/presence")
	if err := checkResponse(resp, err); err != nil {
		return err
	}

	if output == "json" {
		return printJSON(body.Presence)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "USER\tSTATUS\tLAST SEEN")
	for _, s := range body.Presence {
		status := faint.Sprint("offline")
		if s.Online {
			status = online.Sprint("online")
		}
		lastSeen := "-"
		if s.LastSeen != nil {
			lastSeen = s.LastSeen.Local().Format(time.RFC1123)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", s.UserID, status, lastSeen)
	}
	return w.Flush()
}
