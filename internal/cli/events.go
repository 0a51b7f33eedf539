package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcoot/outlier/internal/api/middleware"
	"github.com/mcoot/outlier/internal/model"
	"github.com/mcoot/outlier/internal/sessionclient"
)

func newEventsCmd() *cobra.Command {
	var sessionID string

	cmd := sessionCommand(&cobra.Command{
		Use:   "events",
		Short: "Stream raw SSE events from a session",
		Long: `Connect to the session's SSE endpoint and print events as they arrive.

Events:
  - connected: the stream is open
  - session: the session as you are allowed to see it
  - removed: you are no longer a participant, the stream ends

Without --session the current session is streamed as your participant.
Press Ctrl+C to disconnect.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			caller := model.Credentials{SessionID: model.SessionID(sessionID)}
			if creds, ok := player.Identity(); ok && (caller.SessionID == "" || caller.SessionID == creds.SessionID) {
				caller = creds
			}
			if caller.SessionID == "" {
				return sessionclient.ErrNoActiveSession
			}
			return streamEvents(cmd.Context(), cmd.OutOrStdout(), caller, cfg.Output == OutputJSON)
		},
	})

	cmd.Flags().StringVar(&sessionID, "session", "", "Session ID to observe instead of the current one")

	return cmd
}

// SSEEvent represents a parsed SSE event
type SSEEvent struct {
	Time  time.Time `json:"time"`
	Event string    `json:"event"`
	Data  string    `json:"data"`
}

func streamEvents(ctx context.Context, w io.Writer, caller model.Credentials, jsonOutput bool) error {
	url := strings.TrimSuffix(cfg.ServerURL, "/") + sessionPath(caller.SessionID, "/events")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if caller.Token != "" {
		req.Header.Set(middleware.TokenHeader, string(caller.Token))
	}

	httpClient := &http.Client{
		Timeout: 0, // No timeout for SSE
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	if !jsonOutput {
		fmt.Fprintf(w, "Connected to session %s\n", caller.SessionID)
	}

	err = readEvents(resp.Body, func(event, data string) {
		printEvent(w, event, data, jsonOutput)
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("stream error: %w", err)
	}

	if !jsonOutput {
		fmt.Fprintln(w, "Disconnected")
	}
	return nil
}

// readEvents parses an SSE stream, calling handle for each complete event.
// Comments and retry hints are skipped.
func readEvents(r io.Reader, handle func(event, data string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var currentEvent string
	var dataLines []string

	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case strings.HasPrefix(line, "event: "):
			currentEvent = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			dataLines = append(dataLines, strings.TrimPrefix(line, "data: "))
		case line == "":
			// End of event
			if currentEvent != "" {
				handle(currentEvent, strings.Join(dataLines, "\n"))
			}
			currentEvent = ""
			dataLines = nil
		}
	}
	return scanner.Err()
}

func printEvent(w io.Writer, event, data string, jsonOutput bool) {
	now := time.Now()

	if jsonOutput {
		evt := SSEEvent{
			Time:  now,
			Event: event,
			Data:  data,
		}
		jsonData, _ := json.Marshal(evt)
		fmt.Fprintln(w, string(jsonData))
	} else {
		timestamp := now.Format("2006-01-02 15:04:05")
		// Truncate data if it's too long for display
		displayData := data
		if len(displayData) > 100 {
			displayData = displayData[:100] + "..."
		}
		displayData = strings.ReplaceAll(displayData, "\n", " ")
		fmt.Fprintf(w, "[%s] %s: %s\n", timestamp, event, displayData)
	}
}
