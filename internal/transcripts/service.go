package transcripts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kuitang/project-os/internal/db"
	"github.com/kuitang/project-os/internal/errs"
	"github.com/kuitang/project-os/internal/granola"
	"github.com/kuitang/project-os/internal/obs"
)

// SourceGranola marks meetings imported from the Granola MCP endpoint.
const SourceGranola = "granola"

// Meeting is an imported transcript row.
type Meeting struct {
	ID         string    `json:"id"`
	UserID     string    `json:"-"`
	ProjectID  string    `json:"project_id,omitempty"`
	Source     string    `json:"source"`
	SourceID   string    `json:"source_id"`
	Title      string    `json:"title"`
	Transcript string    `json:"transcript"`
	Summary    string    `json:"summary,omitempty"`
	ArchiveKey string    `json:"archive_key,omitempty"`
	ImportedAt time.Time `json:"imported_at"`
}

// ActionItem is one extracted action-item row.
type ActionItem struct {
	ID        string `json:"id"`
	MeetingID string `json:"meeting_id"`
	Position  int    `json:"position"`
	Text      string `json:"text"`
	Done      bool   `json:"done"`
}

// TokenSource yields the Granola access token for a user, "" when the user
// is not connected.
type TokenSource interface {
	AccessToken(ctx context.Context, userID string) string
}

// Archiver persists a raw transcript copy out of band and returns its key.
type Archiver interface {
	Archive(ctx context.Context, userID, meetingID, transcript string) (string, error)
}

// Summarizer produces a short summary of a transcript.
type Summarizer interface {
	Summarize(ctx context.Context, title, transcript string) (string, error)
}

// Service imports transcripts from the MCP endpoint into local meeting rows.
// Archive and summarize steps are best-effort: their failure never fails an
// import.
type Service struct {
	db          *db.DB
	mcp         *granola.Client
	tokens      TokenSource
	staticToken string
	archive     Archiver
	summarize   Summarizer
	now         func() time.Time
}

// NewService creates the import service. archive and summarize may be nil.
func NewService(database *db.DB, mcp *granola.Client, tokens TokenSource, staticToken string, archive Archiver, summarize Summarizer) *Service {
	return &Service{
		db:          database,
		mcp:         mcp,
		tokens:      tokens,
		staticToken: staticToken,
		archive:     archive,
		summarize:   summarize,
		now:         time.Now,
	}
}

// token resolves the MCP bearer token: the user's OAuth token first, then
// the deployment's static fallback.
func (s *Service) token(ctx context.Context, userID string) (string, error) {
	if tok := s.tokens.AccessToken(ctx, userID); tok != "" {
		return tok, nil
	}
	if s.staticToken != "" {
		return s.staticToken, nil
	}
	return "", errs.New(errs.Unauthenticated,
		"Granola is not connected. Connect your account from the connections page, or configure a static bearer token.")
}

// ListRemote lists meetings available on the remote MCP endpoint.
func (s *Service) ListRemote(ctx context.Context, userID, preferredTool string) ([]granola.Document, error) {
	tok, err := s.token(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.mcp.ListDocuments(ctx, tok, preferredTool)
}

// Import fetches one transcript, extracts action items, and upserts the
// meeting. Re-importing the same document overwrites rather than duplicates.
func (s *Service) Import(ctx context.Context, userID, projectID, documentID string) (*Meeting, error) {
	tok, err := s.token(ctx, userID)
	if err != nil {
		return nil, err
	}

	transcript, err := s.mcp.GetTranscript(ctx, tok, documentID)
	if err != nil {
		return nil, err
	}
	items := ParseActionItems(transcript.Content)

	meeting := &Meeting{
		UserID:     userID,
		ProjectID:  projectID,
		Source:     SourceGranola,
		SourceID:   documentID,
		Title:      transcript.Title,
		Transcript: transcript.Content,
		ImportedAt: s.now(),
	}

	err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
		var existingID string
		err := tx.QueryRowContext(ctx,
			"SELECT id FROM meetings WHERE user_id = ? AND source = ? AND source_id = ?",
			userID, SourceGranola, documentID).Scan(&existingID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			meeting.ID = uuid.NewString()
			_, err = tx.ExecContext(ctx,
				`INSERT INTO meetings (id, user_id, project_id, source, source_id, title, transcript, imported_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				meeting.ID, userID, projectID, SourceGranola, documentID,
				meeting.Title, meeting.Transcript, meeting.ImportedAt.Unix())
			if err != nil {
				return fmt.Errorf("insert meeting: %w", err)
			}
		case err != nil:
			return fmt.Errorf("look up meeting: %w", err)
		default:
			meeting.ID = existingID
			_, err = tx.ExecContext(ctx,
				`UPDATE meetings SET project_id = ?, title = ?, transcript = ?, imported_at = ? WHERE id = ?`,
				projectID, meeting.Title, meeting.Transcript, meeting.ImportedAt.Unix(), existingID)
			if err != nil {
				return fmt.Errorf("update meeting: %w", err)
			}
		}

		if _, err := tx.ExecContext(ctx,
			"DELETE FROM action_items WHERE meeting_id = ?", meeting.ID); err != nil {
			return fmt.Errorf("clear action items: %w", err)
		}
		for position, text := range items {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO action_items (id, meeting_id, user_id, position, text, created_at)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				uuid.NewString(), meeting.ID, userID, position, text, s.now().Unix()); err != nil {
				return fmt.Errorf("insert action item: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "persist imported meeting", err)
	}

	log := obs.From(obs.WithUserID(ctx, userID))

	if s.summarize != nil && transcript.Content != "" {
		summary, err := s.summarize.Summarize(ctx, meeting.Title, transcript.Content)
		if err != nil {
			log.Warn("summarize_failed", "meeting_id", meeting.ID, "error", err)
		} else if summary != "" {
			if _, err := s.db.SQL().ExecContext(ctx,
				"UPDATE meetings SET summary = ? WHERE id = ?", summary, meeting.ID); err != nil {
				log.Warn("summary_persist_failed", "meeting_id", meeting.ID, "error", err)
			} else {
				meeting.Summary = summary
			}
		}
	}

	if s.archive != nil {
		key, err := s.archive.Archive(ctx, userID, meeting.ID, transcript.Content)
		if err != nil {
			log.Warn("archive_failed", "meeting_id", meeting.ID, "error", err)
		} else if key != "" {
			if _, err := s.db.SQL().ExecContext(ctx,
				"UPDATE meetings SET archive_key = ? WHERE id = ?", key, meeting.ID); err != nil {
				log.Warn("archive_key_persist_failed", "meeting_id", meeting.ID, "error", err)
			} else {
				meeting.ArchiveKey = key
			}
		}
	}

	return meeting, nil
}

// ListMeetings returns a user's imported meetings, newest first. projectID
// filters when non-empty.
func (s *Service) ListMeetings(ctx context.Context, userID, projectID string) ([]Meeting, error) {
	query := `SELECT id, user_id, project_id, source, source_id, title, transcript, summary, archive_key, imported_at
	          FROM meetings WHERE user_id = ?`
	args := []any{userID}
	if projectID != "" {
		query += " AND project_id = ?"
		args = append(args, projectID)
	}
	query += " ORDER BY imported_at DESC, id"

	rows, err := s.db.SQL().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list meetings: %w", err)
	}
	defer rows.Close()

	var meetings []Meeting
	for rows.Next() {
		meeting, err := scanMeeting(rows)
		if err != nil {
			return nil, err
		}
		meetings = append(meetings, *meeting)
	}
	return meetings, rows.Err()
}

// GetMeeting returns one meeting owned by the user, or (nil, nil) when
// missing.
func (s *Service) GetMeeting(ctx context.Context, userID, meetingID string) (*Meeting, error) {
	rows, err := s.db.SQL().QueryContext(ctx,
		`SELECT id, user_id, project_id, source, source_id, title, transcript, summary, archive_key, imported_at
		 FROM meetings WHERE user_id = ? AND id = ?`, userID, meetingID)
	if err != nil {
		return nil, fmt.Errorf("get meeting: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanMeeting(rows)
}

// ActionItems returns the extracted items for a meeting in extraction order.
func (s *Service) ActionItems(ctx context.Context, userID, meetingID string) ([]ActionItem, error) {
	rows, err := s.db.SQL().QueryContext(ctx,
		`SELECT id, meeting_id, position, text, done FROM action_items
		 WHERE user_id = ? AND meeting_id = ? ORDER BY position`, userID, meetingID)
	if err != nil {
		return nil, fmt.Errorf("list action items: %w", err)
	}
	defer rows.Close()

	var items []ActionItem
	for rows.Next() {
		var item ActionItem
		var done int
		if err := rows.Scan(&item.ID, &item.MeetingID, &item.Position, &item.Text, &done); err != nil {
			return nil, fmt.Errorf("scan action item: %w", err)
		}
		item.Done = done != 0
		items = append(items, item)
	}
	return items, rows.Err()
}

// SetActionItemDone toggles completion on one action item.
func (s *Service) SetActionItemDone(ctx context.Context, userID, itemID string, done bool) error {
	doneInt := 0
	if done {
		doneInt = 1
	}
	result, err := s.db.SQL().ExecContext(ctx,
		"UPDATE action_items SET done = ? WHERE user_id = ? AND id = ?", doneInt, userID, itemID)
	if err != nil {
		return fmt.Errorf("update action item: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return errs.New(errs.NotFound, "action item not found")
	}
	return nil
}

func scanMeeting(rows *sql.Rows) (*Meeting, error) {
	var meeting Meeting
	var importedAt int64
	if err := rows.Scan(&meeting.ID, &meeting.UserID, &meeting.ProjectID, &meeting.Source,
		&meeting.SourceID, &meeting.Title, &meeting.Transcript, &meeting.Summary,
		&meeting.ArchiveKey, &importedAt); err != nil {
		return nil, fmt.Errorf("scan meeting: %w", err)
	}
	meeting.ImportedAt = time.Unix(importedAt, 0)
	return &meeting, nil
}
