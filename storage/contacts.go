package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// UpsertContact inserts a contact or refreshes its name and last-seen time.
//
// An empty name never overwrites a previously known one.
func (s *Store) UpsertContact(contact Contact) error {
	if contact.NodeID == "" {
		return errors.New("node_id is required")
	}

	isActive := 0
	if contact.IsActive {
		isActive = 1
	}

	_, err := s.db.Exec(
		`INSERT INTO contacts (node_id, name, last_seen, is_active)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(node_id) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE contacts.name END,
			last_seen = COALESCE(excluded.last_seen, contacts.last_seen),
			is_active = excluded.is_active`,
		contact.NodeID,
		contact.Name,
		nullInt64(contact.LastSeen),
		isActive,
	)
	if err != nil {
		return fmt.Errorf("upsert contact %q: %w", contact.NodeID, err)
	}

	return nil
}

// TouchContactLastSeen updates a contact's last-seen timestamp, inserting the
// contact as active when it is not yet known.
func (s *Store) TouchContactLastSeen(nodeID string, seenAt int64) error {
	if nodeID == "" {
		return errors.New("node_id is required")
	}
	if seenAt == 0 {
		seenAt = nowUnixMilli()
	}

	_, err := s.db.Exec(
		`INSERT INTO contacts (node_id, name, last_seen, is_active)
		VALUES (?, '', ?, 1)
		ON CONFLICT(node_id) DO UPDATE SET
			last_seen = excluded.last_seen`,
		nodeID,
		seenAt,
	)
	if err != nil {
		return fmt.Errorf("touch contact %q: %w", nodeID, err)
	}

	return nil
}

// GetContact fetches a contact by node ID.
func (s *Store) GetContact(nodeID string) (*Contact, error) {
	if nodeID == "" {
		return nil, errors.New("node_id is required")
	}

	row := s.db.QueryRow(
		`SELECT node_id, name, last_seen, is_active
		FROM contacts
		WHERE node_id = ?`,
		nodeID,
	)

	contact, err := scanContact(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get contact %q: %w", nodeID, err)
	}

	return contact, nil
}

// ListActiveContacts returns active contacts sorted by name, then node ID.
func (s *Store) ListActiveContacts() ([]Contact, error) {
	rows, err := s.db.Query(
		`SELECT node_id, name, last_seen, is_active
		FROM contacts
		WHERE is_active = 1
		ORDER BY name ASC, node_id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list active contacts: %w", err)
	}
	defer rows.Close()

	contacts := make([]Contact, 0)
	for rows.Next() {
		contact, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contact row: %w", err)
		}
		contacts = append(contacts, *contact)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contact rows: %w", err)
	}

	return contacts, nil
}

// SetContactActive marks a contact active or inactive.
func (s *Store) SetContactActive(nodeID string, active bool) error {
	if nodeID == "" {
		return errors.New("node_id is required")
	}

	isActive := 0
	if active {
		isActive = 1
	}

	res, err := s.db.Exec(
		`UPDATE contacts SET is_active = ? WHERE node_id = ?`,
		isActive,
		nodeID,
	)
	if err != nil {
		return fmt.Errorf("set contact active %q: %w", nodeID, err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for set contact active %q: %w", nodeID, err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// CountContacts returns the total number of contacts, active or not.
func (s *Store) CountContacts() (int, error) {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM contacts`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count contacts: %w", err)
	}
	return count, nil
}

func scanContact(row scanner) (*Contact, error) {
	var (
		contact  Contact
		lastSeen sql.NullInt64
		isActive int
	)

	if err := row.Scan(
		&contact.NodeID,
		&contact.Name,
		&lastSeen,
		&isActive,
	); err != nil {
		return nil, err
	}

	contact.LastSeen = int64Ptr(lastSeen)
	contact.IsActive = isActive == 1

	return &contact, nil
}
