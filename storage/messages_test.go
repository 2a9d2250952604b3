package storage

import (
	"errors"
	"fmt"
	"testing"
)

func TestSaveMessageValidation(t *testing.T) {
	store := newTestStore(t)

	if err := store.SaveMessage(Message{
		MessageID:  "msg-1",
		Content:    "   ",
		SenderNode: "node-a",
		IsPublic:   true,
	}); err == nil {
		t.Fatalf("expected blank content to be rejected")
	}

	if err := store.SaveMessage(Message{
		MessageID:    "msg-2",
		Content:      "hello",
		SenderNode:   "node-a",
		IsPublic:     true,
		ReceiverNode: strPtr("node-b"),
	}); err == nil {
		t.Fatalf("expected public message with receiver to be rejected")
	}

	if err := store.SaveMessage(Message{
		MessageID:  "msg-3",
		Content:    "hello",
		SenderNode: "node-a",
		IsPublic:   false,
	}); err == nil {
		t.Fatalf("expected private message without receiver to be rejected")
	}
}

func TestSaveMessageDuplicate(t *testing.T) {
	store := newTestStore(t)

	mustSavePublic(t, store, "msg-dup", "node-a", "first delivery", 1_000)

	err := store.SaveMessage(Message{
		MessageID:  "msg-dup",
		Content:    "second delivery over another path",
		SenderNode: "node-a",
		IsPublic:   true,
		Timestamp:  2_000,
	})
	if !errors.Is(err, ErrDuplicateMessage) {
		t.Fatalf("expected ErrDuplicateMessage, got %v", err)
	}

	stored, err := store.GetMessageByID("msg-dup")
	if err != nil {
		t.Fatalf("get message: %v", err)
	}
	if stored.Content != "first delivery" {
		t.Fatalf("expected first delivery to win, got %q", stored.Content)
	}
}

func TestListMessagesPagination(t *testing.T) {
	store := newTestStore(t)

	base := nowUnixMilli()
	for i := 0; i < 30; i++ {
		mustSavePublic(t, store, messageID(i), "node-a", "message", base+int64(i))
	}

	firstPage, total, err := store.ListMessages(1, 25)
	if err != nil {
		t.Fatalf("list first page: %v", err)
	}
	if total != 30 {
		t.Fatalf("expected total 30, got %d", total)
	}
	if len(firstPage) != 25 {
		t.Fatalf("expected 25 messages on first page, got %d", len(firstPage))
	}
	if firstPage[0].MessageID != messageID(29) {
		t.Fatalf("expected newest message first, got %q", firstPage[0].MessageID)
	}
	if firstPage[24].MessageID != messageID(5) {
		t.Fatalf("expected page boundary at %q, got %q", messageID(5), firstPage[24].MessageID)
	}

	secondPage, _, err := store.ListMessages(2, 25)
	if err != nil {
		t.Fatalf("list second page: %v", err)
	}
	if len(secondPage) != 5 {
		t.Fatalf("expected 5 messages on second page, got %d", len(secondPage))
	}
	if secondPage[0].MessageID != messageID(4) {
		t.Fatalf("expected second page to start at %q, got %q", messageID(4), secondPage[0].MessageID)
	}
}

func TestMessageRoundTripFields(t *testing.T) {
	store := newTestStore(t)

	if err := store.SaveMessage(Message{
		MessageID:    "msg-private",
		Content:      "direct hello",
		SenderNode:   "node-a",
		ReceiverNode: strPtr("node-b"),
		Path:         []string{"node-a", "relay-1", "node-b"},
		IsPublic:     false,
		Timestamp:    42_000,
	}); err != nil {
		t.Fatalf("save private message: %v", err)
	}

	stored, err := store.GetMessageByID("msg-private")
	if err != nil {
		t.Fatalf("get message: %v", err)
	}
	if stored.IsPublic {
		t.Fatalf("expected private message")
	}
	if stored.ReceiverNode == nil || *stored.ReceiverNode != "node-b" {
		t.Fatalf("expected receiver node-b, got %v", stored.ReceiverNode)
	}
	if len(stored.Path) != 3 || stored.Path[1] != "relay-1" {
		t.Fatalf("expected path to survive round trip, got %v", stored.Path)
	}
	if stored.Timestamp != 42_000 {
		t.Fatalf("expected timestamp 42000, got %d", stored.Timestamp)
	}
}

func TestLatestMessage(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.LatestMessage(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on empty table, got %v", err)
	}

	mustSavePublic(t, store, "msg-old", "node-a", "old", 1_000)
	mustSavePublic(t, store, "msg-new", "node-b", "new", 2_000)

	latest, err := store.LatestMessage()
	if err != nil {
		t.Fatalf("latest message: %v", err)
	}
	if latest.MessageID != "msg-new" {
		t.Fatalf("expected msg-new, got %q", latest.MessageID)
	}

	count, err := store.CountMessages()
	if err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 messages, got %d", count)
	}
}

func messageID(i int) string {
	return fmt.Sprintf("msg-%02d", i)
}
