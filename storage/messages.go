package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// SaveMessage inserts a new message row.
//
// Returns ErrDuplicateMessage when the message ID is already stored, which
// happens when the mesh re-delivers a frame over an alternate path.
func (s *Store) SaveMessage(message Message) error {
	if message.MessageID == "" {
		return errors.New("message_id is required")
	}
	if strings.TrimSpace(message.Content) == "" {
		return errors.New("content is required")
	}
	if message.SenderNode == "" {
		return errors.New("sender_node is required")
	}
	if message.IsPublic && message.ReceiverNode != nil {
		return errors.New("public message cannot have a receiver_node")
	}
	if !message.IsPublic && (message.ReceiverNode == nil || *message.ReceiverNode == "") {
		return errors.New("private message requires a receiver_node")
	}
	if message.Timestamp == 0 {
		message.Timestamp = nowUnixMilli()
	}

	path := message.Path
	if path == nil {
		path = []string{}
	}
	rawPath, err := json.Marshal(path)
	if err != nil {
		return fmt.Errorf("encode message path: %w", err)
	}

	isPublic := 0
	if message.IsPublic {
		isPublic = 1
	}

	res, err := s.db.Exec(
		`INSERT INTO messages (
			message_id,
			content,
			sender_node,
			receiver_node,
			message_path,
			is_public,
			timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO NOTHING`,
		message.MessageID,
		message.Content,
		message.SenderNode,
		nullString(message.ReceiverNode),
		string(rawPath),
		isPublic,
		message.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert message %q: %w", message.MessageID, err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for insert message %q: %w", message.MessageID, err)
	}
	if rowsAffected == 0 {
		return ErrDuplicateMessage
	}

	return nil
}

// ListMessages returns one page of messages ordered newest first, plus the
// total row count.
func (s *Store) ListMessages(page, perPage int) ([]Message, int, error) {
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		perPage = 25
	}

	total, err := s.CountMessages()
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.db.Query(
		`SELECT
			message_id,
			content,
			sender_node,
			receiver_node,
			message_path,
			is_public,
			timestamp
		FROM messages
		ORDER BY timestamp DESC, message_id DESC
		LIMIT ? OFFSET ?`,
		perPage,
		(page-1)*perPage,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list messages page %d: %w", page, err)
	}
	defer rows.Close()

	messages := make([]Message, 0)
	for rows.Next() {
		message, err := scanStoredMessage(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan message row: %w", err)
		}
		messages = append(messages, *message)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate message rows: %w", err)
	}

	return messages, total, nil
}

// GetMessageByID fetches one message by message ID.
func (s *Store) GetMessageByID(messageID string) (*Message, error) {
	if messageID == "" {
		return nil, errors.New("message_id is required")
	}

	row := s.db.QueryRow(
		`SELECT
			message_id,
			content,
			sender_node,
			receiver_node,
			message_path,
			is_public,
			timestamp
		FROM messages
		WHERE message_id = ?`,
		messageID,
	)

	message, err := scanStoredMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get message %q: %w", messageID, err)
	}
	return message, nil
}

// LatestMessage returns the newest stored message, or ErrNotFound when the
// table is empty.
func (s *Store) LatestMessage() (*Message, error) {
	row := s.db.QueryRow(
		`SELECT
			message_id,
			content,
			sender_node,
			receiver_node,
			message_path,
			is_public,
			timestamp
		FROM messages
		ORDER BY timestamp DESC, message_id DESC
		LIMIT 1`,
	)

	message, err := scanStoredMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get latest message: %w", err)
	}
	return message, nil
}

// CountMessages returns the total number of stored messages.
func (s *Store) CountMessages() (int, error) {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}

func scanStoredMessage(row scanner) (*Message, error) {
	var (
		message      Message
		receiverNode sql.NullString
		rawPath      string
		isPublic     int
	)

	if err := row.Scan(
		&message.MessageID,
		&message.Content,
		&message.SenderNode,
		&receiverNode,
		&rawPath,
		&isPublic,
		&message.Timestamp,
	); err != nil {
		return nil, err
	}

	message.ReceiverNode = stringPtr(receiverNode)
	message.IsPublic = isPublic == 1
	if rawPath != "" {
		if err := json.Unmarshal([]byte(rawPath), &message.Path); err != nil {
			return nil, fmt.Errorf("decode message path: %w", err)
		}
	}
	if message.Path == nil {
		message.Path = []string{}
	}

	return &message, nil
}
