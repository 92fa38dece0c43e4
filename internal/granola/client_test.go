package granola

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/kuitang/project-os/internal/errs"
	"github.com/kuitang/project-os/internal/obs"
)

// fakeMCPServer replays a scripted body with a chosen content type and
// records the last request.
type fakeMCPServer struct {
	server *httptest.Server

	status      int
	contentType string
	body        string

	lastAuth   string
	lastAccept string
	lastBody   []byte
}

func newFakeMCPServer(t *testing.T) *fakeMCPServer {
	t.Helper()
	f := &fakeMCPServer{status: http.StatusOK, contentType: "application/json"}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.lastAuth = r.Header.Get("Authorization")
		f.lastAccept = r.Header.Get("Accept")
		f.lastBody, _ = io.ReadAll(r.Body)

		w.Header().Set("Content-Type", f.contentType)
		w.WriteHeader(f.status)
		w.Write([]byte(f.body))
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeMCPServer) client() *Client {
	return NewClient(f.server.URL, f.server.Client())
}

func TestClientPost_PlainJSON(t *testing.T) {
	t.Parallel()
	f := newFakeMCPServer(t)
	f.body = `{"jsonrpc":"2.0","id":1,"result":{"tools":[{"name":"search_meetings"},{"name":"other"}]}}`

	names, err := f.client().ListTools(context.Background(), "bearer-tok")
	if err != nil {
		t.Fatalf("ListTools failed: %v", err)
	}
	if len(names) != 2 || names[0] != "search_meetings" {
		t.Fatalf("tool names: %v", names)
	}
	if f.lastAuth != "Bearer bearer-tok" {
		t.Fatalf("Authorization = %q", f.lastAuth)
	}
	if f.lastAccept != "application/json, text/event-stream" {
		t.Fatalf("Accept = %q", f.lastAccept)
	}
}

func TestClientPost_NoAuthHeaderWithoutToken(t *testing.T) {
	t.Parallel()
	f := newFakeMCPServer(t)
	f.body = `{"jsonrpc":"2.0","id":1,"result":{}}`

	if err := f.client().EnsureInitialized(context.Background(), ""); err != nil {
		t.Fatalf("EnsureInitialized failed: %v", err)
	}
	if f.lastAuth != "" {
		t.Fatalf("Authorization sent without a token: %q", f.lastAuth)
	}
}

func TestClientPost_SSEPrefersMatchingID(t *testing.T) {
	t.Parallel()
	f := newFakeMCPServer(t)
	f.contentType = "text/event-stream"
	// First event has the wrong id; the second matches request id 1.
	f.body = strings.Join([]string{
		`data: {"jsonrpc":"2.0","id":99,"result":{"tools":[{"name":"wrong"}]}}`,
		"",
		`data: {"jsonrpc":"2.0","id":1,"result":{"tools":[{"name":"right"}]}}`,
		"",
	}, "\n")

	names, err := f.client().ListTools(context.Background(), "")
	if err != nil {
		t.Fatalf("ListTools failed: %v", err)
	}
	if len(names) != 1 || names[0] != "right" {
		t.Fatalf("expected the id-matched event, got %v", names)
	}
}

// syncBuffer collects log output from concurrently running tests.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestClientPost_SSEFallsBackToLastValidMessage(t *testing.T) {
	// Not parallel: swaps the global log output to assert the fallback is
	// reported.
	logs := &syncBuffer{}
	restore := obs.SetOutputForTests(logs)
	defer restore()

	f := newFakeMCPServer(t)
	f.contentType = "text/event-stream"
	f.body = strings.Join([]string{
		`event: message`,
		`data: not json at all`,
		`data: {"jsonrpc":"2.0","id":50,"result":{"tools":[{"name":"first"}]}}`,
		`data: {"jsonrpc":"2.0","id":51,"result":{"tools":[{"name":"last"}]}}`,
		`data: {"jsonrpc":"2.0","id":52,"method":"notifications/progress"}`,
	}, "\n")

	names, err := f.client().ListTools(context.Background(), "")
	if err != nil {
		t.Fatalf("ListTools failed: %v", err)
	}
	if len(names) != 1 || names[0] != "last" {
		t.Fatalf("expected fallback to the last valid message, got %v", names)
	}
	if !strings.Contains(logs.String(), "sse_id_fallback") {
		t.Fatal("taking the fallback path must log sse_id_fallback")
	}
}

func TestClientPost_SSEWithoutCandidatesIsProtocolError(t *testing.T) {
	t.Parallel()
	f := newFakeMCPServer(t)
	f.contentType = "text/event-stream"
	f.body = "event: ping\ndata: not json\n\n"

	_, err := f.client().ListTools(context.Background(), "")
	if errs.CodeOf(err) != errs.Protocol {
		t.Fatalf("code = %v, want protocol; err: %v", errs.CodeOf(err), err)
	}
	if !strings.Contains(err.Error(), "no valid JSON-RPC message in SSE response") {
		t.Fatalf("message: %v", err)
	}
}

func TestClientPost_InvalidJSONIsProtocolError(t *testing.T) {
	t.Parallel()
	f := newFakeMCPServer(t)
	f.body = "<html>not json</html>"

	_, err := f.client().ListTools(context.Background(), "")
	if errs.CodeOf(err) != errs.Protocol {
		t.Fatalf("code = %v, want protocol", errs.CodeOf(err))
	}
	if !strings.Contains(err.Error(), "invalid JSON response") {
		t.Fatalf("message: %v", err)
	}
}

func TestClientPost_StatusTaxonomy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		status      int
		wantCode    errs.Code
		wantMention string
	}{
		{"401 authentication", http.StatusUnauthorized, errs.Unauthenticated, "OAuth"},
		{"401 mentions bearer fallback", http.StatusUnauthorized, errs.Unauthenticated, "bearer token"},
		{"406 accept hint", http.StatusNotAcceptable, errs.NotAcceptable, "Accept"},
		{"500 transport", http.StatusInternalServerError, errs.Unavailable, "500"},
		{"503 transport", http.StatusServiceUnavailable, errs.Unavailable, "503"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFakeMCPServer(t)
			f.status = tt.status
			f.body = "upstream says no"

			err := f.client().EnsureInitialized(context.Background(), "")
			if errs.CodeOf(err) != tt.wantCode {
				t.Fatalf("code = %v, want %v; err: %v", errs.CodeOf(err), tt.wantCode, err)
			}
			if !strings.Contains(err.Error(), tt.wantMention) {
				t.Fatalf("message %q does not mention %q", err.Error(), tt.wantMention)
			}
		})
	}
}

func TestClientPost_JSONRPCErrorSurfaced(t *testing.T) {
	t.Parallel()
	f := newFakeMCPServer(t)
	f.body = `{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"method not found"}}`

	err := f.client().EnsureInitialized(context.Background(), "")
	if errs.CodeOf(err) != errs.Protocol {
		t.Fatalf("code = %v, want protocol", errs.CodeOf(err))
	}
	if !strings.Contains(err.Error(), "method not found") {
		t.Fatalf("message: %v", err)
	}
}

func TestClientPost_UnreachableEndpoint(t *testing.T) {
	t.Parallel()
	c := NewClient("http://127.0.0.1:1/mcp", nil)
	err := c.EnsureInitialized(context.Background(), "")
	if errs.CodeOf(err) != errs.Unavailable {
		t.Fatalf("code = %v, want unavailable; err: %v", errs.CodeOf(err), err)
	}
}
