// Package mcp exposes this application's own meetings and projects as an
// MCP endpoint, so agent clients can pull imported transcripts back out.
package mcp

import (
	"net/http"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kuitang/project-os/internal/auth"
	"github.com/kuitang/project-os/internal/obs"
	"github.com/kuitang/project-os/internal/projects"
	"github.com/kuitang/project-os/internal/transcripts"
)

// Server hosts the MCP endpoint over the Streamable HTTP transport.
// Bearer credentials are login session IDs validated per request.
type Server struct {
	mcpServer   *mcp.Server
	httpHandler http.Handler
	sessions    *auth.SessionService
}

// NewServer builds the MCP server and registers the tool catalog.
func NewServer(projectsSvc *projects.Service, transcriptsSvc *transcripts.Service, sessions *auth.SessionService) *Server {
	handler := newToolHandler(projectsSvc, transcriptsSvc)

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    "project-os",
			Version: "1.0.0",
		},
		nil,
	)
	for _, tool := range toolDefinitions() {
		mcp.AddTool(mcpServer, tool, handler.handlerFor(tool.Name))
	}

	// JSONResponse keeps responses plain JSON for clients without SSE
	// support. Stateless because each request authenticates itself, so the
	// initialize handshake carries no session to keep.
	httpHandler := mcp.NewStreamableHTTPHandler(
		func(r *http.Request) *mcp.Server { return mcpServer },
		&mcp.StreamableHTTPOptions{
			JSONResponse: true,
			Stateless:    true,
		},
	)

	return &Server{
		mcpServer:   mcpServer,
		httpHandler: httpHandler,
		sessions:    sessions,
	}
}

// ServeHTTP gates the endpoint behind a bearer session credential and
// delegates to the SDK transport.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Mcp-Session-Id, Last-Event-ID, Authorization")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	if r.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Max-Age", "86400")
		w.WriteHeader(http.StatusNoContent)
		return
	}

	userID := s.authenticate(r)
	if userID == "" {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		http.Error(w, "Unauthorized: a valid bearer credential is required", http.StatusUnauthorized)
		return
	}

	ctx := auth.WithUserID(r.Context(), userID)
	ctx = obs.WithUserID(ctx, userID)
	s.httpHandler.ServeHTTP(w, r.WithContext(ctx))
}

func (s *Server) authenticate(r *http.Request) string {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return ""
	}
	userID, err := s.sessions.Validate(r.Context(), token)
	if err != nil {
		obs.From(r.Context()).Warn("mcp_auth_failed", "error", err)
		return ""
	}
	return userID
}
