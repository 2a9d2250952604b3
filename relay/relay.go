// Package relay bridges the radio link with storage and the live feed: every
// message, local or received over the mesh, passes through it exactly once.
package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"meshweb/device"
	"meshweb/models"
	"meshweb/storage"
)

var (
	// ErrEmptyContent indicates a submission with no usable message text.
	ErrEmptyContent = errors.New("relay: message content is empty")
	// ErrMissingReceiver indicates a private submission without a receiver.
	ErrMissingReceiver = errors.New("relay: private message requires a receiver")
	// ErrUnknownReceiver indicates a receiver node that is not a known contact.
	ErrUnknownReceiver = errors.New("relay: receiver is not a known contact")
)

// DeviceLink is the slice of device.Link the relay depends on.
type DeviceLink interface {
	Events() <-chan device.Event
	SendDirect(ctx context.Context, receiver, content string) (*device.SendResult, error)
	SendBroadcast(ctx context.Context, content string) (*device.SendResult, error)
	NodeID() string
}

// Store is the slice of storage.Store the relay depends on.
type Store interface {
	SaveMessage(message storage.Message) error
	GetContact(nodeID string) (*storage.Contact, error)
	UpsertContact(contact storage.Contact) error
	TouchContactLastSeen(nodeID string, seenAt int64) error
	HasSeenID(messageID string) (bool, error)
	InsertSeenID(messageID string, receivedAt int64) error
}

// Publisher is the slice of feed.Hub the relay depends on.
type Publisher interface {
	Publish(message models.Message)
}

// Relay owns the single code path from message to stored row to feed event.
type Relay struct {
	link   DeviceLink
	store  Store
	feed   Publisher
	logger zerolog.Logger
}

// New builds a relay over the given link, store, and feed.
func New(link DeviceLink, store Store, feed Publisher, logger zerolog.Logger) *Relay {
	return &Relay{
		link:   link,
		store:  store,
		feed:   feed,
		logger: logger.With().Str("component", "relay").Logger(),
	}
}

// Submit sends a message over the radio, persists it, and publishes it to the
// feed. A nil receiver means broadcast. The message is only stored after the
// device accepts it.
func (r *Relay) Submit(ctx context.Context, content string, receiver *string) (*models.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}
	if receiver != nil {
		if strings.TrimSpace(*receiver) == "" {
			return nil, ErrMissingReceiver
		}
		// A receiver the radio has never announced cannot be routed to;
		// reject it here instead of burning a device round trip.
		if _, err := r.store.GetContact(*receiver); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrUnknownReceiver, *receiver)
			}
			return nil, fmt.Errorf("look up receiver %q: %w", *receiver, err)
		}
	}

	var (
		result *device.SendResult
		err    error
	)
	if receiver == nil {
		result, err = r.link.SendBroadcast(ctx, content)
	} else {
		result, err = r.link.SendDirect(ctx, *receiver, content)
	}
	if err != nil {
		return nil, fmt.Errorf("device send: %w", err)
	}

	messageID := result.MessageID
	if messageID == "" {
		messageID = uuid.NewString()
	}
	sender := result.Sender
	if sender == "" {
		sender = r.link.NodeID()
	}
	timestamp := result.Timestamp
	if timestamp == 0 {
		timestamp = time.Now().UnixMilli()
	}

	stored := storage.Message{
		MessageID:    messageID,
		Content:      content,
		SenderNode:   sender,
		ReceiverNode: receiver,
		Path:         result.Path,
		IsPublic:     receiver == nil,
		Timestamp:    timestamp,
	}
	if err := r.store.SaveMessage(stored); err != nil {
		return nil, fmt.Errorf("store sent message: %w", err)
	}

	// The mesh may echo our own frame back over another path; remember the
	// ID so the inbound pump skips it.
	if err := r.store.InsertSeenID(messageID, timestamp); err != nil {
		r.logger.Warn().Err(err).Str("message_id", messageID).Msg("record seen ID failed")
	}

	message := ToModel(stored)
	r.feed.Publish(message)
	return &message, nil
}

// Run consumes device events until the context is canceled or the link's
// event channel closes. Individual bad events are logged and dropped.
func (r *Relay) Run(ctx context.Context) {
	for {
		select {
		case event, ok := <-r.link.Events():
			if !ok {
				return
			}
			r.handleEvent(event)
		case <-ctx.Done():
			return
		}
	}
}

func (r *Relay) handleEvent(event device.Event) {
	switch event.Type {
	case device.TypeContactSeen:
		now := time.Now().UnixMilli()
		err := r.store.UpsertContact(storage.Contact{
			NodeID:   event.NodeID,
			Name:     event.NodeName,
			LastSeen: &now,
			IsActive: true,
		})
		if err != nil {
			r.logger.Warn().Err(err).Str("node_id", event.NodeID).Msg("contact upsert failed")
		}

	case device.TypeContactMsgRecv, device.TypeChannelMsgRecv:
		r.handleInboundMessage(event)

	default:
		r.logger.Warn().Str("type", event.Type).Msg("unexpected device event")
	}
}

func (r *Relay) handleInboundMessage(event device.Event) {
	if strings.TrimSpace(event.Content) == "" {
		r.logger.Warn().Str("from", event.FromID).Msg("dropping empty inbound message")
		return
	}
	if event.FromID == "" {
		r.logger.Warn().Msg("dropping inbound message without sender")
		return
	}

	messageID := event.MessageID
	if messageID == "" {
		// Old firmware omits message IDs; without one there is nothing
		// to dedup on.
		messageID = uuid.NewString()
	} else {
		seen, err := r.store.HasSeenID(messageID)
		if err != nil {
			r.logger.Warn().Err(err).Str("message_id", messageID).Msg("seen ID lookup failed")
		} else if seen {
			r.logger.Debug().Str("message_id", messageID).Msg("skipping re-delivered frame")
			return
		}
	}

	var receiver *string
	if event.Type == device.TypeContactMsgRecv && event.ToID != "" {
		toID := event.ToID
		receiver = &toID
	}

	timestamp := event.Timestamp
	if timestamp == 0 {
		timestamp = time.Now().UnixMilli()
	}

	stored := storage.Message{
		MessageID:    messageID,
		Content:      event.Content,
		SenderNode:   event.FromID,
		ReceiverNode: receiver,
		Path:         event.Path,
		IsPublic:     receiver == nil,
		Timestamp:    timestamp,
	}
	if err := r.store.SaveMessage(stored); err != nil {
		if errors.Is(err, storage.ErrDuplicateMessage) {
			r.logger.Debug().Str("message_id", messageID).Msg("message already stored")
		} else {
			r.logger.Error().Err(err).Str("message_id", messageID).Msg("store inbound message failed")
		}
		return
	}

	if err := r.store.InsertSeenID(messageID, timestamp); err != nil {
		r.logger.Warn().Err(err).Str("message_id", messageID).Msg("record seen ID failed")
	}
	if err := r.store.TouchContactLastSeen(event.FromID, timestamp); err != nil {
		r.logger.Warn().Err(err).Str("node_id", event.FromID).Msg("contact touch failed")
	}

	r.feed.Publish(ToModel(stored))
}

// ToModel converts a stored message row to its API representation.
func ToModel(message storage.Message) models.Message {
	path := message.Path
	if path == nil {
		path = []string{}
	}
	return models.Message{
		MessageID:    message.MessageID,
		Content:      message.Content,
		SenderNode:   message.SenderNode,
		ReceiverNode: message.ReceiverNode,
		Path:         path,
		IsPublic:     message.IsPublic,
		Timestamp:    time.UnixMilli(message.Timestamp).UTC(),
	}
}
