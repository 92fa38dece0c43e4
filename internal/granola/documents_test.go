package granola

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kuitang/project-os/internal/errs"
)

// scriptedMCPServer answers the full initialize / tools/list / tools/call
// sequence, with the catalog and the tools/call payload scripted per test.
type scriptedMCPServer struct {
	server *httptest.Server

	toolNames  []string
	callResult string // JSON for the tools/call result field

	lastToolName string
	lastToolArgs map[string]any
}

func newScriptedMCPServer(t *testing.T, toolNames []string, callResult string) *scriptedMCPServer {
	t.Helper()
	s := &scriptedMCPServer{toolNames: toolNames, callResult: callResult}
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     int64  `json:"id"`
			Method string `json:"method"`
			Params struct {
				Name      string         `json:"name"`
				Arguments map[string]any `json:"arguments"`
			} `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		var result string
		switch req.Method {
		case "initialize":
			result = `{"protocolVersion":"2024-11-05"}`
		case "tools/list":
			names := make([]string, 0, len(s.toolNames))
			for _, name := range s.toolNames {
				names = append(names, fmt.Sprintf(`{"name":%q}`, name))
			}
			result = `{"tools":[` + strings.Join(names, ",") + `]}`
		case "tools/call":
			s.lastToolName = req.Params.Name
			s.lastToolArgs = req.Params.Arguments
			result = s.callResult
		default:
			http.Error(w, "unknown method", http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":%s}`, req.ID, result)
	}))
	t.Cleanup(s.server.Close)
	return s
}

func (s *scriptedMCPServer) client() *Client {
	return NewClient(s.server.URL, s.server.Client())
}

// textContentResult wraps a payload string as a tools/call text content block.
func textContentResult(t *testing.T, payload string) string {
	t.Helper()
	encoded, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("encode payload: %v", err)
	}
	return `{"content":[{"type":"text","text":` + string(encoded) + `}]}`
}

func TestListDocuments_BareArray(t *testing.T) {
	t.Parallel()
	s := newScriptedMCPServer(t, []string{"search_meetings"},
		textContentResult(t, `[{"id":"m1","title":"Standup"},{"meeting_id":"m2","name":"Retro"},{"document_id":"m3","subject":"1:1"}]`))

	docs, err := s.client().ListDocuments(context.Background(), "tok", "")
	if err != nil {
		t.Fatalf("ListDocuments failed: %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("got %d documents: %+v", len(docs), docs)
	}
	if docs[0].ID != "m1" || docs[0].Title != "Standup" {
		t.Fatalf("doc 0: %+v", docs[0])
	}
	if docs[1].ID != "m2" || docs[1].Title != "Retro" {
		t.Fatalf("meeting_id/name aliases not honored: %+v", docs[1])
	}
	if docs[2].ID != "m3" || docs[2].Title != "1:1" {
		t.Fatalf("document_id/subject aliases not honored: %+v", docs[2])
	}

	if s.lastToolName != "search_meetings" {
		t.Fatalf("called tool %q", s.lastToolName)
	}
	if s.lastToolArgs["query"] != "" || s.lastToolArgs["limit"] != float64(100) {
		t.Fatalf("search_meetings arguments: %v", s.lastToolArgs)
	}
}

func TestListDocuments_WrappedKeys(t *testing.T) {
	t.Parallel()
	for _, key := range []string{"documents", "transcripts", "meetings", "results"} {
		t.Run(key, func(t *testing.T) {
			t.Parallel()
			s := newScriptedMCPServer(t, []string{"list_meetings"},
				textContentResult(t, fmt.Sprintf(`{%q:[{"id":"m1","title":"Weekly"}]}`, key)))

			docs, err := s.client().ListDocuments(context.Background(), "tok", "")
			if err != nil {
				t.Fatalf("ListDocuments failed: %v", err)
			}
			if len(docs) != 1 || docs[0].ID != "m1" {
				t.Fatalf("documents under %q: %+v", key, docs)
			}
		})
	}
}

func TestListDocuments_MalformedContentIsEmptyList(t *testing.T) {
	t.Parallel()
	s := newScriptedMCPServer(t, []string{"list_meetings"},
		textContentResult(t, "this is prose, not JSON"))

	docs, err := s.client().ListDocuments(context.Background(), "tok", "")
	if err != nil {
		t.Fatalf("malformed content should not error: %v", err)
	}
	if len(docs) != 0 {
		t.Fatalf("expected empty list, got %+v", docs)
	}
}

func TestListDocuments_PreferredToolWins(t *testing.T) {
	t.Parallel()
	s := newScriptedMCPServer(t, []string{"search_meetings", "operator_tool"},
		textContentResult(t, `[]`))

	if _, err := s.client().ListDocuments(context.Background(), "tok", "operator_tool"); err != nil {
		t.Fatalf("ListDocuments failed: %v", err)
	}
	if s.lastToolName != "operator_tool" {
		t.Fatalf("called tool %q, want operator_tool", s.lastToolName)
	}
	if len(s.lastToolArgs) != 0 {
		t.Fatalf("unknown tool should get empty arguments: %v", s.lastToolArgs)
	}
}

func TestListDocuments_NoSuitableToolNamesCatalog(t *testing.T) {
	t.Parallel()
	s := newScriptedMCPServer(t, []string{"frobnicate", "defrag"}, "")

	_, err := s.client().ListDocuments(context.Background(), "tok", "")
	if errs.CodeOf(err) != errs.FailedPrecondition {
		t.Fatalf("code = %v, want failed_precondition; err: %v", errs.CodeOf(err), err)
	}
	for _, name := range []string{"frobnicate", "defrag"} {
		if !strings.Contains(err.Error(), name) {
			t.Fatalf("message %q omits available tool %q", err.Error(), name)
		}
	}
}

func TestGetTranscript_TitleDefaults(t *testing.T) {
	t.Parallel()
	s := newScriptedMCPServer(t, []string{"get_granola_transcript"},
		textContentResult(t, `{"content":"Alice: hi\nBob: hello"}`))

	transcript, err := s.client().GetTranscript(context.Background(), "tok", "m1")
	if err != nil {
		t.Fatalf("GetTranscript failed: %v", err)
	}
	if transcript.Title != DefaultTranscriptTitle {
		t.Fatalf("title = %q, want %q", transcript.Title, DefaultTranscriptTitle)
	}
	if !strings.Contains(transcript.Content, "Alice: hi") {
		t.Fatalf("content = %q", transcript.Content)
	}
	if s.lastToolArgs["id"] != "m1" {
		t.Fatalf("get_granola_transcript arguments: %v", s.lastToolArgs)
	}
}

func TestGetTranscript_MeetingToolUsesMeetingID(t *testing.T) {
	t.Parallel()
	s := newScriptedMCPServer(t, []string{"get_meeting_transcript"},
		textContentResult(t, `{"title":"Planning","transcript":"notes"}`))

	transcript, err := s.client().GetTranscript(context.Background(), "tok", "m2")
	if err != nil {
		t.Fatalf("GetTranscript failed: %v", err)
	}
	if transcript.Title != "Planning" || transcript.Content != "notes" {
		t.Fatalf("transcript: %+v", transcript)
	}
	if s.lastToolArgs["meeting_id"] != "m2" {
		t.Fatalf("get_meeting_transcript arguments: %v", s.lastToolArgs)
	}
}

func TestGetTranscript_ErrorFieldIsProtocolError(t *testing.T) {
	t.Parallel()
	s := newScriptedMCPServer(t, []string{"get_granola_transcript"},
		textContentResult(t, `{"error":"document not found"}`))

	_, err := s.client().GetTranscript(context.Background(), "tok", "missing")
	if errs.CodeOf(err) != errs.Protocol {
		t.Fatalf("code = %v, want protocol", errs.CodeOf(err))
	}
	if !strings.Contains(err.Error(), "document not found") {
		t.Fatalf("message: %v", err)
	}
}

func TestGetTranscript_NoContentBlockIsProtocolError(t *testing.T) {
	t.Parallel()
	s := newScriptedMCPServer(t, []string{"get_granola_transcript"}, `{"content":[]}`)

	_, err := s.client().GetTranscript(context.Background(), "tok", "m1")
	if errs.CodeOf(err) != errs.Protocol {
		t.Fatalf("code = %v, want protocol; err: %v", errs.CodeOf(err), err)
	}
}

func TestGetTranscript_MalformedContentIsProtocolError(t *testing.T) {
	t.Parallel()
	s := newScriptedMCPServer(t, []string{"get_granola_transcript"},
		textContentResult(t, "prose, not JSON"))

	_, err := s.client().GetTranscript(context.Background(), "tok", "m1")
	if errs.CodeOf(err) != errs.Protocol {
		t.Fatalf("code = %v, want protocol; err: %v", errs.CodeOf(err), err)
	}
}
