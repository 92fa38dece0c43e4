package mcp

import "github.com/modelcontextprotocol/go-sdk/mcp"

// toolDefinitions returns the tool catalog this endpoint exposes.
func toolDefinitions() []*mcp.Tool {
	return []*mcp.Tool{
		{
			Name:        "list_projects",
			Description: "List the current user's projects with id, name, and description. Use get-style tools with the returned ids.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		{
			Name:        "list_meetings",
			Description: "List imported meetings with id, title, summary, and import time, newest first. Pass project_id to filter to one project.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"project_id": map[string]any{
						"type":        "string",
						"description": "Optional project id to filter by.",
					},
				},
			},
		},
		{
			Name:        "get_meeting_transcript",
			Description: "Fetch one imported meeting's full transcript, summary, and extracted action items by meeting id.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"meeting_id": map[string]any{
						"type":        "string",
						"description": "The meeting id from list_meetings.",
					},
				},
				"required": []string{"meeting_id"},
			},
		},
	}
}
