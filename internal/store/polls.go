package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"roomsync/internal/models"
)

// SavePollSnapshot replaces the stored poll list of a scope in a single
// transaction.
func (s *Store) SavePollSnapshot(scope string, polls []models.Poll, syncedAt time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("saving poll snapshot: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM poll_snapshot_meta WHERE scope = ?`, scope); err != nil {
		return fmt.Errorf("clearing poll snapshot: %w", err)
	}
	if _, err := tx.Exec(`INSERT INTO poll_snapshot_meta (scope, synced_at) VALUES (?, ?)`,
		scope, formatSQLiteTime(syncedAt)); err != nil {
		return fmt.Errorf("writing snapshot meta: %w", err)
	}

	pollStmt, err := tx.Prepare(`INSERT INTO poll_snapshots (scope, poll_id, meeting_id, position, question, created_at, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing poll insert: %w", err)
	}
	defer pollStmt.Close()

	optStmt, err := tx.Prepare(`INSERT INTO poll_snapshot_options (scope, poll_id, option_id, position, text, vote_count)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing option insert: %w", err)
	}
	defer optStmt.Close()

	for i, p := range polls {
		if _, err := pollStmt.Exec(scope, p.ID, p.MeetingID, i, p.Question, formatSQLiteTime(p.CreatedAt), p.IsActive); err != nil {
			return fmt.Errorf("writing poll %d: %w", p.ID, err)
		}
		for j, o := range p.Options {
			if _, err := optStmt.Exec(scope, p.ID, o.ID, j, o.Text, max(o.VoteCount, 0)); err != nil {
				return fmt.Errorf("writing option %d of poll %d: %w", o.ID, p.ID, err)
			}
		}
	}
	return tx.Commit()
}

// LoadPollSnapshot returns the stored list in its original order and the
// time it was confirmed. A scope that was never saved yields
// models.ErrNotFound.
func (s *Store) LoadPollSnapshot(scope string) ([]models.Poll, time.Time, error) {
	var syncedRaw string
	err := s.db.QueryRow(`SELECT synced_at FROM poll_snapshot_meta WHERE scope = ?`, scope).Scan(&syncedRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, fmt.Errorf("poll snapshot %q: %w", scope, models.ErrNotFound)
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("loading snapshot meta: %w", err)
	}
	syncedAt, err := parseSQLiteTime(syncedRaw)
	if err != nil {
		return nil, time.Time{}, err
	}

	rows, err := s.db.Query(`SELECT poll_id, meeting_id, question, created_at, is_active FROM poll_snapshots
		WHERE scope = ? ORDER BY position`, scope)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("loading polls: %w", err)
	}
	defer rows.Close()

	polls := []models.Poll{}
	index := make(map[int64]int)
	for rows.Next() {
		p := models.Poll{Options: []models.PollOption{}}
		var createdRaw string
		if err := rows.Scan(&p.ID, &p.MeetingID, &p.Question, &createdRaw, &p.IsActive); err != nil {
			return nil, time.Time{}, err
		}
		if p.CreatedAt, err = parseSQLiteTime(createdRaw); err != nil {
			return nil, time.Time{}, err
		}
		index[p.ID] = len(polls)
		polls = append(polls, p)
	}
	if err := rows.Err(); err != nil {
		return nil, time.Time{}, err
	}

	optRows, err := s.db.Query(`SELECT poll_id, option_id, text, vote_count FROM poll_snapshot_options
		WHERE scope = ? ORDER BY poll_id, position`, scope)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("loading poll options: %w", err)
	}
	defer optRows.Close()

	for optRows.Next() {
		var o models.PollOption
		if err := optRows.Scan(&o.PollID, &o.ID, &o.Text, &o.VoteCount); err != nil {
			return nil, time.Time{}, err
		}
		if i, ok := index[o.PollID]; ok {
			polls[i].Options = append(polls[i].Options, o)
		}
	}
	return polls, syncedAt, optRows.Err()
}

func (s *Store) DeletePollSnapshot(scope string) error {
	if _, err := s.db.Exec(`DELETE FROM poll_snapshot_meta WHERE scope = ?`, scope); err != nil {
		return fmt.Errorf("deleting poll snapshot: %w", err)
	}
	return nil
}
