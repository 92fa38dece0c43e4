package oauth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/kuitang/project-os/internal/db"
	"github.com/kuitang/project-os/internal/errs"
	"github.com/kuitang/project-os/internal/obs"
)

// PendingTTL bounds how long an in-flight authorization stays redeemable,
// matching typical authorization-code lifetimes.
const PendingTTL = 10 * time.Minute

// PendingAuthorization is a one-shot record binding an OAuth state token to
// the flow that created it.
type PendingAuthorization struct {
	State        string
	CodeVerifier string
	UserID       string
	Provider     string
	ReturnPath   string
	CreatedAt    time.Time
}

// PendingStore persists pending authorizations.
type PendingStore struct {
	db  *db.DB
	now func() time.Time
}

// NewPendingStore creates a PendingStore over the application database.
func NewPendingStore(d *db.DB) *PendingStore {
	return &PendingStore{db: d, now: time.Now}
}

// Store inserts a new pending authorization.
func (s *PendingStore) Store(ctx context.Context, p PendingAuthorization) error {
	_, err := s.db.SQL().ExecContext(ctx,
		`INSERT INTO pending_authorizations (state, code_verifier, user_id, provider, return_path, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		p.State, p.CodeVerifier, p.UserID, p.Provider, p.ReturnPath, s.now().Unix(),
	)
	if err != nil {
		return errs.Wrap(errs.Internal, "could not save pending authorization", err)
	}
	return nil
}

// Consume atomically reads and deletes the record matching state. Returns
// ok=false for unknown, replayed, or expired states; expiry is enforced
// lazily here so abandoned flows cannot be redeemed late even before the
// sweeper runs.
func (s *PendingStore) Consume(ctx context.Context, state string) (PendingAuthorization, bool, error) {
	var (
		pending PendingAuthorization
		found   bool
	)
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		var createdAt int64
		row := tx.QueryRowContext(ctx,
			`SELECT state, code_verifier, user_id, provider, return_path, created_at
			 FROM pending_authorizations WHERE state = ?`, state)
		scanErr := row.Scan(&pending.State, &pending.CodeVerifier, &pending.UserID,
			&pending.Provider, &pending.ReturnPath, &createdAt)
		if errors.Is(scanErr, sql.ErrNoRows) {
			return nil
		}
		if scanErr != nil {
			return scanErr
		}
		if _, delErr := tx.ExecContext(ctx,
			`DELETE FROM pending_authorizations WHERE state = ?`, state); delErr != nil {
			return delErr
		}
		pending.CreatedAt = time.Unix(createdAt, 0)
		found = s.now().Sub(pending.CreatedAt) <= PendingTTL
		return nil
	})
	if err != nil {
		return PendingAuthorization{}, false, errs.Wrap(errs.Internal, "could not consume pending authorization", err)
	}
	if !found {
		return PendingAuthorization{}, false, nil
	}
	return pending, true, nil
}

// DeleteExpired removes pending authorizations older than PendingTTL and
// returns how many were swept.
func (s *PendingStore) DeleteExpired(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-PendingTTL).Unix()
	res, err := s.db.SQL().ExecContext(ctx,
		`DELETE FROM pending_authorizations WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, errs.Wrap(errs.Internal, "could not sweep pending authorizations", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// StartSweeper runs DeleteExpired on an interval until ctx is done.
func (s *PendingStore) StartSweeper(ctx context.Context, interval time.Duration) {
	log := obs.Pkg("oauth")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.DeleteExpired(ctx)
			if err != nil {
				log.Warn("pending_sweep_failed", "error", err)
				continue
			}
			if n > 0 {
				log.Debug("pending_sweep", "deleted", n)
			}
		}
	}
}
