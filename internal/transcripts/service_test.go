package transcripts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kuitang/project-os/internal/errs"
	"github.com/kuitang/project-os/internal/granola"
	"github.com/kuitang/project-os/internal/testdb"
)

type tokenFunc func(ctx context.Context, userID string) string

func (f tokenFunc) AccessToken(ctx context.Context, userID string) string { return f(ctx, userID) }

func noToken() TokenSource {
	return tokenFunc(func(context.Context, string) string { return "" })
}

// fakeTranscriptServer answers the MCP handshake and serves one transcript
// document.
type fakeTranscriptServer struct {
	server   *httptest.Server
	title    string
	content  string
	lastAuth string
}

func newFakeTranscriptServer(t *testing.T, title, content string) *fakeTranscriptServer {
	t.Helper()
	f := &fakeTranscriptServer{title: title, content: content}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.lastAuth = r.Header.Get("Authorization")
		var req struct {
			ID     int64  `json:"id"`
			Method string `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		var result string
		switch req.Method {
		case "initialize":
			result = `{}`
		case "tools/list":
			result = `{"tools":[{"name":"get_granola_transcript"}]}`
		case "tools/call":
			payload, _ := json.Marshal(map[string]string{"title": f.title, "content": f.content})
			text, _ := json.Marshal(string(payload))
			result = `{"content":[{"type":"text","text":` + string(text) + `}]}`
		default:
			http.Error(w, "unknown method", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":%s}`, req.ID, result)
	}))
	t.Cleanup(f.server.Close)
	return f
}

func newServiceForTest(t *testing.T, f *fakeTranscriptServer, tokens TokenSource, staticToken string) *Service {
	t.Helper()
	mcp := granola.NewClient(f.server.URL, f.server.Client())
	return NewService(testdb.New(t), mcp, tokens, staticToken, nil, nil)
}

func TestImport_CreatesMeetingAndActionItems(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFakeTranscriptServer(t, "Planning",
		"Intro chatter\n- Follow up with client\nTODO: update roadmap")
	svc := newServiceForTest(t, f, noToken(), "static-token")

	meeting, err := svc.Import(ctx, "user-1", "proj-1", "doc-1")
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if meeting.Title != "Planning" || meeting.SourceID != "doc-1" || meeting.ProjectID != "proj-1" {
		t.Fatalf("meeting: %+v", meeting)
	}
	if f.lastAuth != "Bearer static-token" {
		t.Fatalf("static token not used: %q", f.lastAuth)
	}

	items, err := svc.ActionItems(ctx, "user-1", meeting.ID)
	if err != nil {
		t.Fatalf("ActionItems failed: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("got %d action items: %+v", len(items), items)
	}
	if items[1].Text != "Follow up with client" || items[2].Text != "update roadmap" {
		t.Fatalf("items: %+v", items)
	}
}

func TestImport_ReimportOverwrites(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFakeTranscriptServer(t, "First title", "- old item")
	svc := newServiceForTest(t, f, noToken(), "static-token")

	first, err := svc.Import(ctx, "user-1", "", "doc-1")
	if err != nil {
		t.Fatalf("first Import failed: %v", err)
	}

	f.title = "Second title"
	f.content = "- new item one\n- new item two"
	second, err := svc.Import(ctx, "user-1", "", "doc-1")
	if err != nil {
		t.Fatalf("second Import failed: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("re-import created a new meeting: %s vs %s", second.ID, first.ID)
	}

	meetings, err := svc.ListMeetings(ctx, "user-1", "")
	if err != nil {
		t.Fatalf("ListMeetings failed: %v", err)
	}
	if len(meetings) != 1 || meetings[0].Title != "Second title" {
		t.Fatalf("meetings after re-import: %+v", meetings)
	}

	items, err := svc.ActionItems(ctx, "user-1", first.ID)
	if err != nil {
		t.Fatalf("ActionItems failed: %v", err)
	}
	if len(items) != 2 || items[0].Text != "new item one" {
		t.Fatalf("action items not replaced: %+v", items)
	}
}

func TestImport_NoTokenAnywhere(t *testing.T) {
	t.Parallel()
	f := newFakeTranscriptServer(t, "t", "c")
	svc := newServiceForTest(t, f, noToken(), "")

	_, err := svc.Import(context.Background(), "user-1", "", "doc-1")
	if errs.CodeOf(err) != errs.Unauthenticated {
		t.Fatalf("code = %v, want unauthenticated; err: %v", errs.CodeOf(err), err)
	}
}

func TestImport_UserTokenPreferredOverStatic(t *testing.T) {
	t.Parallel()
	f := newFakeTranscriptServer(t, "t", "content here")
	userTokens := tokenFunc(func(_ context.Context, userID string) string {
		if userID == "user-1" {
			return "user-oauth-token"
		}
		return ""
	})
	svc := newServiceForTest(t, f, userTokens, "static-token")

	if _, err := svc.Import(context.Background(), "user-1", "", "doc-1"); err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if f.lastAuth != "Bearer user-oauth-token" {
		t.Fatalf("Authorization = %q, want the user's OAuth token", f.lastAuth)
	}
}

type stubSummarizer struct {
	summary string
	err     error
}

func (s *stubSummarizer) Summarize(context.Context, string, string) (string, error) {
	return s.summary, s.err
}

type stubArchiver struct {
	key string
	err error
}

func (a *stubArchiver) Archive(context.Context, string, string, string) (string, error) {
	return a.key, a.err
}

func TestImport_SummaryAndArchivePersisted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFakeTranscriptServer(t, "Planning", "- item")
	mcp := granola.NewClient(f.server.URL, f.server.Client())
	svc := NewService(testdb.New(t), mcp, noToken(), "static-token",
		&stubArchiver{key: "transcripts/user-1/m.txt"}, &stubSummarizer{summary: "short summary"})

	meeting, err := svc.Import(ctx, "user-1", "", "doc-1")
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if meeting.Summary != "short summary" || meeting.ArchiveKey != "transcripts/user-1/m.txt" {
		t.Fatalf("best-effort fields: %+v", meeting)
	}

	stored, err := svc.GetMeeting(ctx, "user-1", meeting.ID)
	if err != nil || stored == nil {
		t.Fatalf("GetMeeting: meeting=%v err=%v", stored, err)
	}
	if stored.Summary != "short summary" || stored.ArchiveKey != "transcripts/user-1/m.txt" {
		t.Fatalf("persisted fields: %+v", stored)
	}
}

func TestImport_BestEffortFailuresDoNotFailImport(t *testing.T) {
	t.Parallel()
	f := newFakeTranscriptServer(t, "Planning", "- item")
	mcp := granola.NewClient(f.server.URL, f.server.Client())
	svc := NewService(testdb.New(t), mcp, noToken(), "static-token",
		&stubArchiver{err: errors.New("bucket down")}, &stubSummarizer{err: errors.New("model down")})

	meeting, err := svc.Import(context.Background(), "user-1", "", "doc-1")
	if err != nil {
		t.Fatalf("Import should survive archive/summarize failures: %v", err)
	}
	if meeting.Summary != "" || meeting.ArchiveKey != "" {
		t.Fatalf("failed best-effort steps left fields set: %+v", meeting)
	}
}

func TestMeetingOwnership(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFakeTranscriptServer(t, "Planning", "- item")
	svc := newServiceForTest(t, f, noToken(), "static-token")

	meeting, err := svc.Import(ctx, "user-1", "", "doc-1")
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}

	other, err := svc.GetMeeting(ctx, "user-2", meeting.ID)
	if err != nil {
		t.Fatalf("GetMeeting failed: %v", err)
	}
	if other != nil {
		t.Fatal("another user can read the meeting")
	}

	items, err := svc.ActionItems(ctx, "user-2", meeting.ID)
	if err != nil {
		t.Fatalf("ActionItems failed: %v", err)
	}
	if len(items) != 0 {
		t.Fatal("another user can read the action items")
	}
}

func TestSetActionItemDone(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFakeTranscriptServer(t, "Planning", "- item one\n- item two")
	svc := newServiceForTest(t, f, noToken(), "static-token")

	meeting, err := svc.Import(ctx, "user-1", "", "doc-1")
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	items, err := svc.ActionItems(ctx, "user-1", meeting.ID)
	if err != nil || len(items) != 2 {
		t.Fatalf("ActionItems: %v err=%v", items, err)
	}

	if err := svc.SetActionItemDone(ctx, "user-1", items[0].ID, true); err != nil {
		t.Fatalf("SetActionItemDone failed: %v", err)
	}
	items, _ = svc.ActionItems(ctx, "user-1", meeting.ID)
	if !items[0].Done || items[1].Done {
		t.Fatalf("done flags: %+v", items)
	}

	if err := svc.SetActionItemDone(ctx, "user-2", items[0].ID, false); errs.CodeOf(err) != errs.NotFound {
		t.Fatalf("cross-user toggle: %v", err)
	}
	if err := svc.SetActionItemDone(ctx, "user-1", "ghost", true); errs.CodeOf(err) != errs.NotFound {
		t.Fatalf("missing item toggle: %v", err)
	}
}
