package models

import "time"

// Message represents one mesh message, local or received over the radio.
type Message struct {
	MessageID    string    `json:"id"`
	Content      string    `json:"content"`
	SenderNode   string    `json:"sender_node"`
	ReceiverNode *string   `json:"receiver_node"`
	Path         []string  `json:"message_path"`
	IsPublic     bool      `json:"is_public"`
	Timestamp    time.Time `json:"timestamp"`
}

// MessagePage is one page of stored messages, newest first.
type MessagePage struct {
	Messages []Message `json:"messages"`
	HasNext  bool      `json:"has_next"`
	HasPrev  bool      `json:"has_prev"`
	Total    int       `json:"total"`
}
