// Command harvest-mcp exposes the harvest HTTP API as MCP tools over stdio.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// runRequest mirrors the harvest API request model.
type runRequest struct {
	URL      string `json:"url"`
	Strategy string `json:"strategy,omitempty"`
	Timeout  int    `json:"timeout,omitempty"`
	MaxAge   int    `json:"max_age,omitempty"`
}

// runResponse mirrors the harvest API response model.
type runResponse struct {
	Success  bool   `json:"success"`
	ID       string `json:"id"`
	Strategy string `json:"strategy"`
	Result   *struct {
		Test     string `json:"test"`
		Status   string `json:"status"`
		Message  string `json:"message"`
		Subtests []struct {
			Name    string `json:"name"`
			Status  string `json:"status"`
			Message string `json:"message"`
		} `json:"subtests"`
	} `json:"result"`
	Timing struct {
		TotalMs int64 `json:"total_ms"`
	} `json:"timing"`
	CacheStatus string `json:"cache_status"`
	Error       *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func main() {
	apiURL := os.Getenv("HARVEST_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8080"
	}
	// Empty when the API runs without auth.
	apiKey := os.Getenv("HARVEST_API_KEY")

	s := newServer(apiURL, apiKey)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func newServer(apiURL, apiKey string) *server.MCPServer {
	s := server.NewMCPServer(
		"harvest",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	runTool := mcp.NewTool("run_testharness",
		mcp.WithDescription("Load a testharness.js test page in a browser and return the harness status and every subtest result."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The URL of the test page"),
		),
		mcp.WithString("strategy",
			mcp.Description("How results are read: 'callback' (default, after the completion callbacks), 'direct' (window.__results__) or 'dom' (results node text)"),
			mcp.Enum("callback", "direct", "dom"),
		),
		mcp.WithNumber("timeout",
			mcp.Description("Test timeout in seconds (default: the server's HARVEST_TEST_TIMEOUT, max: 300)"),
		),
		mcp.WithNumber("max_age",
			mcp.Description("Accept a cached result up to this many milliseconds old"),
		),
	)
	s.AddTool(runTool, handleRun(apiURL, apiKey))
	return s
}

func handleRun(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 330 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, err := request.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError("url is required"), nil
		}

		reqBody := runRequest{
			URL:      url,
			Strategy: request.GetString("strategy", ""),
			Timeout:  request.GetInt("timeout", 0),
			MaxAge:   request.GetInt("max_age", 0),
		}

		respBody, err := apiPost(ctx, client, apiURL, apiKey, "/api/v1/run", reqBody)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("run request failed: %v", err)), nil
		}

		var runResp runResponse
		if err := json.Unmarshal(respBody, &runResp); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse response: %v", err)), nil
		}

		if !runResp.Success {
			errMsg := "run failed"
			if runResp.Error != nil {
				errMsg = fmt.Sprintf("[%s] %s", runResp.Error.Code, runResp.Error.Message)
			}
			return mcp.NewToolResultError(errMsg), nil
		}

		return mcp.NewToolResultText(formatResult(&runResp)), nil
	}
}

func formatResult(r *runResponse) string {
	var sb strings.Builder
	if r.Result == nil {
		return "no result"
	}
	res := r.Result
	fmt.Fprintf(&sb, "%s: %s", res.Test, res.Status)
	if res.Message != "" {
		fmt.Fprintf(&sb, " (%s)", res.Message)
	}
	fmt.Fprintf(&sb, "\nStrategy: %s, %d ms", r.Strategy, r.Timing.TotalMs)
	if r.CacheStatus != "" {
		fmt.Fprintf(&sb, ", cache %s", r.CacheStatus)
	}
	sb.WriteString("\n\n")

	counts := map[string]int{}
	for _, st := range res.Subtests {
		counts[st.Status]++
		fmt.Fprintf(&sb, "[%s] %s", st.Status, st.Name)
		if st.Message != "" {
			fmt.Fprintf(&sb, ": %s", st.Message)
		}
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "\n---\n%d subtests: %d PASS, %d FAIL, %d TIMEOUT, %d NOTRUN",
		len(res.Subtests), counts["PASS"], counts["FAIL"], counts["TIMEOUT"], counts["NOTRUN"])
	return sb.String()
}

// apiPost sends a POST request to the harvest API and returns the response body.
func apiPost(ctx context.Context, client *http.Client, apiURL, apiKey, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}
