// Package granola talks to the Granola MCP endpoint: a minimal JSON-RPC 2.0
// client speaking the Model Context Protocol's initialize, tools/list, and
// tools/call methods, plus the heuristics for picking usable tools out of an
// operator-defined catalog.
package granola

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kuitang/project-os/internal/errs"
	"github.com/kuitang/project-os/internal/obs"
)

const (
	protocolVersion = "2024-11-05"
	clientName      = "project-os"
	clientVersion   = "1.0.0"

	// Remote servers may answer with either framing, so both must be
	// acceptable or conforming servers respond 406.
	acceptHeader = "application/json, text/event-stream"

	maxResponseBytes = 10 << 20
)

// Client is a JSON-RPC client for one MCP endpoint. Tokens are passed per
// call because they vary by user.
type Client struct {
	endpoint   string
	httpClient *http.Client
	nextID     atomic.Int64
}

func NewClient(endpoint string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{endpoint: endpoint, httpClient: httpClient}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

// post issues one JSON-RPC call and returns the raw result payload.
func (c *Client) post(ctx context.Context, token, method string, params any) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "encode JSON-RPC request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "build MCP request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", acceptHeader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, fmt.Sprintf("MCP endpoint unreachable: %v", err), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, "read MCP response", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, errs.New(errs.Unauthenticated,
			"Granola MCP rejected the request (401). Sign in to Granola via OAuth from the connections page, or configure a static bearer token as a fallback.")
	case resp.StatusCode == http.StatusNotAcceptable:
		return nil, errs.New(errs.NotAcceptable,
			"Granola MCP rejected the request (406): the server requires 'Accept: application/json, text/event-stream'.")
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, errs.Upstream(errs.Unavailable, "MCP "+method, resp.StatusCode, body)
	}

	var message rpcResponse
	if isEventStream(resp.Header.Get("Content-Type")) {
		message, err = pickSSEMessage(ctx, body, id)
		if err != nil {
			return nil, err
		}
	} else {
		if err := json.Unmarshal(body, &message); err != nil {
			return nil, errs.New(errs.Protocol, "invalid JSON response")
		}
	}

	if message.Error != nil {
		return nil, errs.Newf(errs.Protocol, "MCP %s failed: %s", method, message.Error.Message)
	}
	return message.Result, nil
}

func isEventStream(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "text/event-stream")
}

// pickSSEMessage scans data: lines for JSON-RPC messages. It prefers the one
// echoing the request id; some servers do not echo ids faithfully, so the
// last valid message serves as a fallback.
func pickSSEMessage(ctx context.Context, body []byte, wantID int64) (rpcResponse, error) {
	wantRaw := strconv.FormatInt(wantID, 10)

	var last rpcResponse
	found := false
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), maxResponseBytes)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		var msg rpcResponse
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			continue
		}
		if msg.Result == nil && msg.Error == nil {
			continue
		}
		if string(bytes.TrimSpace(msg.ID)) == wantRaw {
			return msg, nil
		}
		last = msg
		found = true
	}
	if !found {
		return rpcResponse{}, errs.New(errs.Protocol, "no valid JSON-RPC message in SSE response")
	}
	obs.From(ctx).Warn("sse_id_fallback", "want_id", wantID, "got_id", string(last.ID))
	return last, nil
}

// EnsureInitialized performs the MCP initialize handshake and discards the
// result; it exists to confirm reachability before tools calls.
func (c *Client) EnsureInitialized(ctx context.Context, token string) error {
	_, err := c.post(ctx, token, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    clientName,
			"version": clientVersion,
		},
	})
	return err
}

// ListTools returns the names in the remote tool catalog, empty when the
// result carries none.
func (c *Client) ListTools(ctx context.Context, token string) ([]string, error) {
	result, err := c.post(ctx, token, "tools/list", map[string]any{})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, errs.New(errs.Protocol, "invalid JSON response")
	}

	names := make([]string, 0, len(parsed.Tools))
	for _, tool := range parsed.Tools {
		if tool.Name != "" {
			names = append(names, tool.Name)
		}
	}
	return names, nil
}

// CallTool invokes one named tool and returns the raw result payload.
func (c *Client) CallTool(ctx context.Context, token, name string, arguments map[string]any) (json.RawMessage, error) {
	return c.post(ctx, token, "tools/call", map[string]any{
		"name":      name,
		"arguments": arguments,
	})
}
