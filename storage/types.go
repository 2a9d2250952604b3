package storage

import (
	"database/sql"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates a requested row does not exist.
	ErrNotFound = errors.New("storage: record not found")
	// ErrDuplicateMessage indicates a message ID already stored.
	ErrDuplicateMessage = errors.New("storage: duplicate message")
)

// Message is the SQLite representation of one mesh message.
//
// ReceiverNode is nil exactly when IsPublic is true; SaveMessage enforces
// this, so rows never violate it.
type Message struct {
	MessageID    string
	Content      string
	SenderNode   string
	ReceiverNode *string
	Path         []string
	IsPublic     bool
	Timestamp    int64
}

// Contact is the SQLite representation of a known mesh node.
type Contact struct {
	NodeID   string
	Name     string
	LastSeen *int64
	IsActive bool
}

type scanner interface {
	Scan(dest ...any) error
}

func nullString(ptr *string) sql.NullString {
	if ptr == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *ptr, Valid: true}
}

func nullInt64(ptr *int64) sql.NullInt64 {
	if ptr == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *ptr, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func int64Ptr(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	v := ni.Int64
	return &v
}

func nowUnixMilli() int64 {
	return time.Now().UnixMilli()
}
