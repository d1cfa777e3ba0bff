package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// Command line flags
var (
	// Commands
	showStatus    = flag.Bool("status", false, "Show daemon status")
	inferFile     = flag.String("infer", "", "Run inference on a context JSON file (use - for stdin)")
	feedbackRule  = flag.Int64("feedback", 0, "Send feedback for the given rule ID")
	listRules     = flag.Bool("rules", false, "List all rules")
	createFile    = flag.String("create-rule", "", "Create a rule from a JSON file (use - for stdin)")
	deactivateID  = flag.Int64("deactivate", 0, "Deactivate the given rule ID")
	ingestFile    = flag.String("ingest", "", "Ingest calendar events from a JSON file (use - for stdin)")
	showHistory   = flag.Bool("history", false, "Show the feedback history")
	showAnalytics = flag.Bool("analytics", false, "Show per-rule acceptance statistics")
	version       = flag.Bool("version", false, "Show version information")

	// Feedback options
	outcome     = flag.String("outcome", "accept", "Feedback outcome (accept|reject)")
	leadTime    = flag.Int("lead-time", 15, "Chosen lead time in minutes for feedback")
	contextFile = flag.String("context", "", "Context snapshot JSON file for feedback (use - for stdin)")

	// Query options
	historyLimit = flag.Int("limit", 50, "Maximum history entries to fetch")
	search       = flag.String("search", "", "Override schedule search for inference (true|false)")

	// Connection options
	host    = flag.String("host", "localhost", "Daemon host")
	port    = flag.Int("port", 8090, "Daemon API port")
	authKey = flag.String("auth", "", "API key")
	timeout = flag.Duration("timeout", 30*time.Second, "Request timeout")
	pretty  = flag.Bool("pretty", true, "Pretty-print JSON responses")
)

const (
	AppName    = "suggestctl"
	AppVersion = "1.0.0"
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("%s version %s\n", AppName, AppVersion)
		os.Exit(0)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client := &client{
		base: fmt.Sprintf("http://%s:%d", *host, *port),
		http: &http.Client{Timeout: *timeout},
		auth: *authKey,
	}

	var err error
	switch {
	case *showStatus:
		err = client.get(ctx, "/api/status")
	case *inferFile != "":
		err = handleInfer(ctx, client)
	case *feedbackRule != 0:
		err = handleFeedback(ctx, client)
	case *listRules:
		err = client.get(ctx, "/api/rules")
	case *createFile != "":
		err = handleCreateRule(ctx, client)
	case *deactivateID != 0:
		err = client.post(ctx, "/api/rules/deactivate", map[string]interface{}{"id": *deactivateID})
	case *ingestFile != "":
		err = handleIngest(ctx, client)
	case *showHistory:
		err = client.get(ctx, fmt.Sprintf("/api/history?limit=%d", *historyLimit))
	case *showAnalytics:
		err = client.get(ctx, "/api/analytics/rules")
	default:
		showUsage()
		return
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func handleInfer(ctx context.Context, c *client) error {
	body, err := readInput(*inferFile)
	if err != nil {
		return err
	}

	path := "/api/infer"
	if *search != "" {
		path += "?search=" + *search
	}
	return c.postRaw(ctx, path, body)
}

func handleFeedback(ctx context.Context, c *client) error {
	if *outcome != "accept" && *outcome != "reject" {
		return fmt.Errorf("outcome must be accept or reject, got %q", *outcome)
	}
	if *contextFile == "" {
		return fmt.Errorf("feedback requires a context snapshot, pass -context <file>")
	}
	snapshot, err := readInput(*contextFile)
	if err != nil {
		return err
	}
	return c.post(ctx, "/api/feedback", map[string]interface{}{
		"rule_id":          *feedbackRule,
		"outcome":          *outcome,
		"chosen_lead_time": *leadTime,
		"context_snapshot": json.RawMessage(snapshot),
	})
}

func handleCreateRule(ctx context.Context, c *client) error {
	body, err := readInput(*createFile)
	if err != nil {
		return err
	}
	return c.postRaw(ctx, "/api/rules", body)
}

func handleIngest(ctx context.Context, c *client) error {
	body, err := readInput(*ingestFile)
	if err != nil {
		return err
	}

	// Accept either a bare event array or a wrapped {"events": [...]} object
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		wrapped, err := json.Marshal(map[string]json.RawMessage{"events": trimmed})
		if err != nil {
			return err
		}
		body = wrapped
	}
	return c.postRaw(ctx, "/api/calendar/ingest", body)
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

type client struct {
	base string
	http *http.Client
	auth string
}

func (c *client) get(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *client) post(ctx context.Context, path string, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, path, data)
}

func (c *client) postRaw(ctx context.Context, path string, body []byte) error {
	return c.do(ctx, http.MethodPost, path, body)
}

func (c *client) do(ctx context.Context, method, path string, body []byte) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.auth != "" {
		req.Header.Set("X-API-Key", c.auth)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (%d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}

	printJSON(data)
	return nil
}

func printJSON(data []byte) {
	if !*pretty {
		fmt.Println(strings.TrimSpace(string(data)))
		return
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		fmt.Println(strings.TrimSpace(string(data)))
		return
	}
	fmt.Println(buf.String())
}

func showUsage() {
	fmt.Printf("%s - control client for the suggestd daemon\n\n", AppName)
	fmt.Println("Usage:")
	fmt.Printf("  %s -status\n", AppName)
	fmt.Printf("  %s -infer context.json [-search true|false]\n", AppName)
	fmt.Printf("  %s -feedback <rule-id> -context context.json -outcome accept|reject [-lead-time 15]\n", AppName)
	fmt.Printf("  %s -rules\n", AppName)
	fmt.Printf("  %s -create-rule rule.json\n", AppName)
	fmt.Printf("  %s -deactivate <rule-id>\n", AppName)
	fmt.Printf("  %s -ingest events.json\n", AppName)
	fmt.Printf("  %s -history [-limit 50]\n", AppName)
	fmt.Printf("  %s -analytics\n", AppName)
	fmt.Println("\nConnection flags: -host, -port, -auth, -timeout")
	flag.PrintDefaults()
}
