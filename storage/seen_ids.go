package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// The mesh can deliver the same frame more than once when a message travels
// multiple paths, and our own broadcasts may echo back from another node.
// seen_message_ids is a sliding window of recently handled IDs that lets the
// relay drop those re-deliveries before they reach the store or the feed.

// InsertSeenID marks a mesh message ID as handled. Marking an ID that is
// already present refreshes its received_at, keeping IDs that are still
// circulating inside the retention window.
func (s *Store) InsertSeenID(messageID string, receivedAt int64) error {
	if messageID == "" {
		return errors.New("message_id is required")
	}
	if receivedAt == 0 {
		receivedAt = nowUnixMilli()
	}

	_, err := s.db.Exec(
		`INSERT INTO seen_message_ids (message_id, received_at)
		VALUES (?, ?)
		ON CONFLICT(message_id) DO UPDATE SET received_at = excluded.received_at`,
		messageID,
		receivedAt,
	)
	if err != nil {
		return fmt.Errorf("mark message ID %q seen: %w", messageID, err)
	}

	return nil
}

// HasSeenID reports whether an inbound frame's message ID was already handled.
func (s *Store) HasSeenID(messageID string) (bool, error) {
	if messageID == "" {
		return false, errors.New("message_id is required")
	}

	var one int
	err := s.db.QueryRow(
		`SELECT 1 FROM seen_message_ids WHERE message_id = ?`,
		messageID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("look up seen message ID %q: %w", messageID, err)
	}

	return true, nil
}

// PruneSeenIDs drops dedup rows received before cutoff and reports how many
// were removed. Callers derive cutoff from DefaultSeenIDRetention; a frame
// older than that re-appearing on the mesh is treated as new.
func (s *Store) PruneSeenIDs(cutoff int64) (int64, error) {
	if cutoff <= 0 {
		return 0, errors.New("cutoff timestamp must be > 0")
	}

	res, err := s.db.Exec(`DELETE FROM seen_message_ids WHERE received_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune seen message IDs: %w", err)
	}

	pruned, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("read rows affected for seen ID prune: %w", err)
	}

	return pruned, nil
}
