package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kuitang/project-os/internal/auth"
	"github.com/kuitang/project-os/internal/projects"
	"github.com/kuitang/project-os/internal/transcripts"
)

type toolHandler struct {
	projects    *projects.Service
	transcripts *transcripts.Service
}

func newToolHandler(projectsSvc *projects.Service, transcriptsSvc *transcripts.Service) *toolHandler {
	return &toolHandler{projects: projectsSvc, transcripts: transcriptsSvc}
}

func (h *toolHandler) handlerFor(name string) func(ctx context.Context, req *mcp.CallToolRequest, args map[string]any) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, args map[string]any) (*mcp.CallToolResult, any, error) {
		result, err := h.handleToolCall(ctx, name, args)
		return result, nil, err
	}
}

func (h *toolHandler) handleToolCall(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	userID := auth.GetUserID(ctx)
	if userID == "" {
		return toolError("no authenticated user on this request"), nil
	}

	switch name {
	case "list_projects":
		return h.handleListProjects(ctx, userID)
	case "list_meetings":
		return h.handleListMeetings(ctx, userID, args)
	case "get_meeting_transcript":
		return h.handleGetMeetingTranscript(ctx, userID, args)
	default:
		return toolError(fmt.Sprintf("unknown tool: %s", name)), nil
	}
}

func (h *toolHandler) handleListProjects(ctx context.Context, userID string) (*mcp.CallToolResult, error) {
	list, err := h.projects.List(ctx, userID)
	if err != nil {
		return toolError("failed to list projects: " + err.Error()), nil
	}
	if list == nil {
		list = []projects.Project{}
	}
	return toolText(marshalToolJSON(map[string]any{"projects": list})), nil
}

func (h *toolHandler) handleListMeetings(ctx context.Context, userID string, args map[string]any) (*mcp.CallToolResult, error) {
	projectID, _ := args["project_id"].(string)

	meetings, err := h.transcripts.ListMeetings(ctx, userID, projectID)
	if err != nil {
		return toolError("failed to list meetings: " + err.Error()), nil
	}

	type meetingSummary struct {
		ID         string `json:"id"`
		ProjectID  string `json:"project_id,omitempty"`
		Title      string `json:"title"`
		Summary    string `json:"summary,omitempty"`
		ImportedAt string `json:"imported_at"`
	}
	summaries := make([]meetingSummary, 0, len(meetings))
	for _, meeting := range meetings {
		summaries = append(summaries, meetingSummary{
			ID:         meeting.ID,
			ProjectID:  meeting.ProjectID,
			Title:      meeting.Title,
			Summary:    meeting.Summary,
			ImportedAt: meeting.ImportedAt.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}
	return toolText(marshalToolJSON(map[string]any{"meetings": summaries})), nil
}

func (h *toolHandler) handleGetMeetingTranscript(ctx context.Context, userID string, args map[string]any) (*mcp.CallToolResult, error) {
	meetingID, ok := args["meeting_id"].(string)
	if !ok || meetingID == "" {
		return toolError("meeting_id must be a non-empty string"), nil
	}

	meeting, err := h.transcripts.GetMeeting(ctx, userID, meetingID)
	if err != nil {
		return toolError("failed to fetch meeting: " + err.Error()), nil
	}
	if meeting == nil {
		return toolError("meeting not found: " + meetingID), nil
	}

	items, err := h.transcripts.ActionItems(ctx, userID, meetingID)
	if err != nil {
		return toolError("failed to fetch action items: " + err.Error()), nil
	}
	if items == nil {
		items = []transcripts.ActionItem{}
	}

	return toolText(marshalToolJSON(map[string]any{
		"meeting":      meeting,
		"action_items": items,
	})), nil
}

func toolText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func toolError(message string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: message}},
		IsError: true,
	}
}

func marshalToolJSON(value any) string {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal response","detail":%q}`, err.Error())
	}
	return string(data)
}
