package granola

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/kuitang/project-os/internal/errs"
	"github.com/kuitang/project-os/internal/logutil"
	"github.com/kuitang/project-os/internal/obs"
)

// DefaultTranscriptTitle is used when the remote document carries no title.
const DefaultTranscriptTitle = "Meeting transcript"

// Document is one meeting reference from the remote catalog.
type Document struct {
	ID        string `json:"id"`
	Title     string `json:"title,omitempty"`
	Type      string `json:"type,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// Transcript is one fetched meeting transcript.
type Transcript struct {
	Title     string `json:"title"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// ListDocuments runs the full handshake, picks a list tool, and normalizes
// whatever shape the operator's tool returns into documents. Malformed tool
// output reads as an empty list rather than an error.
func (c *Client) ListDocuments(ctx context.Context, token, preferredTool string) ([]Document, error) {
	if err := c.EnsureInitialized(ctx, token); err != nil {
		return nil, err
	}
	names, err := c.ListTools(ctx, token)
	if err != nil {
		return nil, err
	}

	tool := PickListTool(names, preferredTool)
	if tool == "" {
		return nil, errs.Newf(errs.FailedPrecondition,
			"no suitable tool found for listing meetings, available: %s", strings.Join(names, ", "))
	}

	result, err := c.CallTool(ctx, token, tool, listToolArguments(tool))
	if err != nil {
		return nil, err
	}

	text, ok := firstTextContent(result)
	if !ok {
		return nil, errs.Newf(errs.Protocol, "tool %s returned no text content", tool)
	}
	if !gjson.Valid(text) {
		obs.From(ctx).Warn("list_tool_output_unparsable", "tool", tool, "body", logutil.TruncateForLog(text, 200))
		return []Document{}, nil
	}
	return normalizeDocuments(gjson.Parse(text)), nil
}

// GetTranscript fetches one transcript by document id.
func (c *Client) GetTranscript(ctx context.Context, token, documentID string) (*Transcript, error) {
	if err := c.EnsureInitialized(ctx, token); err != nil {
		return nil, err
	}
	names, err := c.ListTools(ctx, token)
	if err != nil {
		return nil, err
	}

	tool := PickTranscriptTool(names)
	if tool == "" {
		return nil, errs.Newf(errs.FailedPrecondition,
			"no suitable tool found for fetching a transcript, available: %s", strings.Join(names, ", "))
	}

	result, err := c.CallTool(ctx, token, tool, transcriptToolArguments(tool, documentID))
	if err != nil {
		return nil, err
	}

	text, ok := firstTextContent(result)
	if !ok {
		return nil, errs.Newf(errs.Protocol, "tool %s returned no text content", tool)
	}
	if !gjson.Valid(text) {
		return nil, errs.Newf(errs.Protocol, "tool %s returned unparsable content", tool)
	}

	parsed := gjson.Parse(text)
	if errField := parsed.Get("error"); errField.Exists() {
		return nil, errs.Newf(errs.Protocol, "transcript fetch failed: %s", errField.String())
	}

	transcript := &Transcript{
		Title:     firstString(parsed, "title", "name"),
		Content:   firstString(parsed, "content", "transcript", "text"),
		CreatedAt: firstString(parsed, "created_at", "createdAt"),
		UpdatedAt: firstString(parsed, "updated_at", "updatedAt"),
	}
	if strings.TrimSpace(transcript.Title) == "" {
		transcript.Title = DefaultTranscriptTitle
	}
	return transcript, nil
}

// firstTextContent extracts the text of the first content block with type
// "text" from a tools/call result.
func firstTextContent(result json.RawMessage) (string, bool) {
	blocks := gjson.GetBytes(result, "content")
	if !blocks.IsArray() {
		return "", false
	}
	for _, block := range blocks.Array() {
		if block.Get("type").String() == "text" {
			return block.Get("text").String(), true
		}
	}
	return "", false
}

// normalizeDocuments accepts a bare array or an object wrapping the array
// under a handful of conventional keys.
func normalizeDocuments(parsed gjson.Result) []Document {
	items := parsed
	if !items.IsArray() {
		for _, key := range []string{"documents", "transcripts", "meetings", "results"} {
			if candidate := parsed.Get(key); candidate.IsArray() {
				items = candidate
				break
			}
		}
	}
	if !items.IsArray() {
		return []Document{}
	}

	docs := make([]Document, 0, len(items.Array()))
	for _, item := range items.Array() {
		doc := Document{
			ID:        firstString(item, "id", "meeting_id", "document_id"),
			Title:     firstString(item, "title", "name", "subject"),
			Type:      item.Get("type").String(),
			CreatedAt: firstString(item, "created_at", "createdAt"),
			UpdatedAt: firstString(item, "updated_at", "updatedAt"),
		}
		if doc.ID == "" {
			continue
		}
		docs = append(docs, doc)
	}
	return docs
}

// firstString returns the first present key, first-present-wins.
func firstString(item gjson.Result, keys ...string) string {
	for _, key := range keys {
		if value := item.Get(key); value.Exists() {
			return value.String()
		}
	}
	return ""
}
