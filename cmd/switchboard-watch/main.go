// ABOUTME: Terminal client for switchboard sessions over the HTTP API
// ABOUTME: Sends chat commands with NDJSON streaming and follows progress feeds via SSE

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/switchboard/internal/client"
	"github.com/2389/switchboard/internal/command"
)

// Version is set by goreleaser at build time.
var version = "dev"

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: switchboard-watch <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  send [flags] <message...>   Send a chat command and stream the reply")
		fmt.Println("  watch [flags]               Follow a session's progress feed")
		fmt.Println("  version                     Print the version")
		fmt.Println()
		fmt.Println("Defaults come from " + getConfigPath() + " when present; flags override.")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := loadConfig(getConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	switch os.Args[1] {
	case "send":
		err = runSend(ctx, cfg, os.Args[2:])
	case "watch":
		err = runWatch(ctx, cfg, os.Args[2:])
	case "version":
		fmt.Printf("switchboard-watch %s\n", version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// chatRequest is the JSON body sent to POST /api/chat.
type chatRequest struct {
	Message     string `json:"message"`
	SessionID   string `json:"session_id,omitempty"`
	WorkspaceID string `json:"workspace_id,omitempty"`
	Stream      bool   `json:"stream"`
}

// streamLine is one NDJSON line of a streaming chat response. The fields
// populated depend on Type: start, chunk, complete, or error.
type streamLine struct {
	Type          string `json:"type"`
	CommandID     string `json:"command_id"`
	SessionID     string `json:"session_id"`
	QueuePosition int    `json:"queue_position"`
	Sequence      uint64 `json:"sequence"`
	Text          string `json:"text"`
	Message       string `json:"message"`
}

func runSend(ctx context.Context, cfg *Config, args []string) error {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	server := fs.String("server", cfg.serverURL(), "Server URL")
	session := fs.String("session", cfg.SessionID, "Session ID (empty creates a new session)")
	workspace := fs.String("workspace", "", "Workspace ID")
	if err := fs.Parse(args); err != nil {
		return err
	}

	message := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if message == "" {
		return fmt.Errorf("message is required: switchboard-watch send [flags] <message...>")
	}

	reqBody := chatRequest{
		Message:     message,
		SessionID:   *session,
		WorkspaceID: *workspace,
		Stream:      true,
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/api/chat", strings.TrimRight(*server, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Try to read error from body
		if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
			var errResp map[string]string
			if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil {
				if msg, ok := errResp["error"]; ok {
					return fmt.Errorf("%s", msg)
				}
			}
		}
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	return streamReply(resp)
}

// streamReply prints a streaming chat response line by line. A stream that
// ends without a terminal line was cut short, cancellation included.
func streamReply(resp *http.Response) error {
	gray := color.New(color.FgHiBlack)
	red := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)

	scanner := bufio.NewScanner(resp.Body)
	sawTerminal := false
	sessionID := ""

	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}

		var line streamLine
		if err := json.Unmarshal(raw, &line); err != nil {
			return fmt.Errorf("parsing stream line: %w", err)
		}

		switch line.Type {
		case "start":
			sessionID = line.SessionID
			gray.Printf("▸ command %s (queue position %d)\n\n", line.CommandID, line.QueuePosition)
		case "chunk":
			fmt.Print(line.Text)
		case "complete":
			sawTerminal = true
			fmt.Println()
			gray.Printf("\nsession: %s\n", line.SessionID)
		case "error":
			sawTerminal = true
			fmt.Println()
			red.Printf("\n[error] %s\n", line.Message)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading stream: %w", err)
	}

	if !sawTerminal {
		yellow.Println("\n[stream closed before completion]")
		if sessionID != "" {
			gray.Printf("session: %s\n", sessionID)
		}
	}
	return nil
}

func runWatch(ctx context.Context, cfg *Config, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	server := fs.String("server", cfg.serverURL(), "Server URL")
	session := fs.String("session", cfg.SessionID, "Session ID to follow")
	baseDelay := fs.Duration("base-delay", cfg.baseDelay(), "Reconnect base delay")
	maxAttempts := fs.Int("max-attempts", cfg.maxAttempts(), "Reconnect attempts before giving up")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *session == "" {
		return fmt.Errorf("-session is required (or set session_id in %s)", getConfigPath())
	}

	gray := color.New(color.FgHiBlack)
	gray.Printf("watching session %s on %s\n", *session, *server)

	transport := &client.SSETransport{
		BaseURL: *server,
		Client:  &http.Client{},
	}

	printer := newEventPrinter()
	sub := client.New(transport, *session, client.Options{
		BaseDelay:     *baseDelay,
		MaxAttempts:   *maxAttempts,
		OnEvent:       printer.print,
		OnStateChange: printState,
	})

	err := sub.Run(ctx)
	printTasks(sub.Tasks())

	switch {
	case errors.Is(err, context.Canceled):
		fmt.Println("\nGoodbye!")
		return nil
	case errors.Is(err, client.ErrReconnectExhausted):
		return fmt.Errorf("connection lost: %w", err)
	default:
		return err
	}
}

// printState announces connection state changes as they happen.
func printState(s client.State) {
	switch s {
	case client.StateConnected:
		color.New(color.FgGreen).Println("· connected")
	case client.StateReconnecting:
		color.New(color.FgYellow).Println("· connection dropped, reconnecting")
	case client.StateFailed:
		color.New(color.FgRed).Println("· gave up reconnecting")
	}
}

// eventPrinter renders progress events, printing a header whenever the feed
// switches to a new command.
type eventPrinter struct {
	lastCommand string

	cyan   *color.Color
	gray   *color.Color
	green  *color.Color
	yellow *color.Color
	red    *color.Color
}

func newEventPrinter() *eventPrinter {
	return &eventPrinter{
		cyan:   color.New(color.FgCyan),
		gray:   color.New(color.FgHiBlack),
		green:  color.New(color.FgGreen),
		yellow: color.New(color.FgYellow),
		red:    color.New(color.FgRed),
	}
}

func (p *eventPrinter) print(ev *command.ProgressEvent) {
	if ev.CommandID != p.lastCommand {
		p.lastCommand = ev.CommandID
		p.gray.Printf("\ncommand %s\n", ev.CommandID)
	}

	switch ev.Type {
	case command.EventStepStart:
		if ev.TotalSteps > 0 {
			p.cyan.Printf("▸ step %d/%d\n", ev.StepIndex+1, ev.TotalSteps)
		} else {
			p.cyan.Printf("▸ step %d\n", ev.StepIndex+1)
		}
	case command.EventThinking:
		if text, ok := ev.Payload["text"].(string); ok {
			p.gray.Printf("  [thinking] %s\n", truncate(text, 80))
		}
	case command.EventToolExecution:
		if tool, ok := ev.Payload["tool"].(string); ok {
			p.yellow.Printf("  [tool] %s\n", tool)
		}
	case command.EventTokenUsage:
		// Too noisy for the feed; totals show up in the task summary.
	case command.EventStepComplete:
		p.green.Printf("  ✓ step %d done\n", ev.StepIndex+1)
	case command.EventError:
		if msg, ok := ev.Payload["message"].(string); ok {
			p.red.Printf("  [error] %s\n", msg)
		} else {
			p.red.Println("  [error]")
		}
	case command.EventCommandCancelled:
		p.yellow.Println("  [cancelled]")
	}
}

// printTasks prints the folded task summary for the last observed command.
func printTasks(tasks []client.Task) {
	if len(tasks) == 0 {
		return
	}

	gray := color.New(color.FgHiBlack)
	fmt.Println()
	gray.Println("tasks:")
	for _, t := range tasks {
		var glyph string
		switch t.Status {
		case client.TaskDone:
			glyph = color.GreenString("✓")
		case client.TaskErrored:
			glyph = color.RedString("✗")
		default:
			glyph = color.YellowString("…")
		}

		detail := ""
		switch {
		case t.Error != "":
			detail = t.Error
		case t.Tool != "":
			detail = "tool: " + t.Tool
		case t.Thought != "":
			detail = truncate(t.Thought, 60)
		}
		if t.InputTokens > 0 || t.OutputTokens > 0 {
			detail += fmt.Sprintf(" (tokens %d in / %d out)", t.InputTokens, t.OutputTokens)
		}

		fmt.Printf("  %s step %d %s\n", glyph, t.StepIndex+1, strings.TrimSpace(detail))
	}
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
