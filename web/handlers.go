package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"meshweb/device"
	"meshweb/models"
	"meshweb/relay"
	"meshweb/storage"
)

// Error codes returned in the "code" field of error responses.
const (
	CodeValidationFailed  = "validation_failed"
	CodeDeviceUnreachable = "device_unreachable"
	CodeNoRoute           = "no_route"
	CodeInternal          = "internal"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type submitRequest struct {
	Content      string  `json:"content"`
	ReceiverNode *string `json:"receiver_node"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}

func (s *Server) handleSubmitMessage(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "invalid request body")
		return
	}

	message, err := s.submitter.Submit(r.Context(), req.Content, req.ReceiverNode)
	if err != nil {
		s.writeSubmitError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, message)
}

func (s *Server) writeSubmitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, relay.ErrEmptyContent):
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "message content must not be empty")
	case errors.Is(err, relay.ErrMissingReceiver):
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "private message requires a receiver node")
	case errors.Is(err, relay.ErrUnknownReceiver):
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "receiver is not a known contact")
	case device.IsNoRoute(err):
		writeError(w, http.StatusBadGateway, CodeNoRoute, "no route to receiver node")
	case device.IsNotReady(err):
		writeError(w, http.StatusServiceUnavailable, CodeDeviceUnreachable, "radio device is not connected")
	default:
		s.logger.Error().Err(err).Msg("message submit failed")
		writeError(w, http.StatusInternalServerError, CodeInternal, "internal error")
	}
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	page := 1
	if raw := r.URL.Query().Get("page"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, CodeValidationFailed, "page must be a positive integer")
			return
		}
		page = parsed
	}

	rows, total, err := s.store.ListMessages(page, MessagesPerPage)
	if err != nil {
		s.logger.Error().Err(err).Int("page", page).Msg("list messages failed")
		writeError(w, http.StatusInternalServerError, CodeInternal, "internal error")
		return
	}

	messages := make([]models.Message, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, relay.ToModel(row))
	}

	writeJSON(w, http.StatusOK, models.MessagePage{
		Messages: messages,
		HasNext:  page*MessagesPerPage < total,
		HasPrev:  page > 1,
		Total:    total,
	})
}

func (s *Server) handleListContacts(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.ListActiveContacts()
	if err != nil {
		s.logger.Error().Err(err).Msg("list contacts failed")
		writeError(w, http.StatusInternalServerError, CodeInternal, "internal error")
		return
	}

	contacts := make([]models.Contact, 0, len(rows))
	for _, row := range rows {
		contacts = append(contacts, contactToModel(row))
	}
	writeJSON(w, http.StatusOK, contacts)
}

func contactToModel(contact storage.Contact) models.Contact {
	var lastSeen *time.Time
	if contact.LastSeen != nil {
		seen := time.UnixMilli(*contact.LastSeen).UTC()
		lastSeen = &seen
	}
	return models.Contact{
		NodeID:   contact.NodeID,
		Name:     contact.Name,
		LastSeen: lastSeen,
		IsActive: contact.IsActive,
	}
}

type statusResponse struct {
	Service  serviceStatus  `json:"service"`
	Database databaseStatus `json:"database"`
}

type serviceStatus struct {
	NodeID string `json:"node_id"`
	device.Status
}

type databaseStatus struct {
	MessageCount  int        `json:"message_count"`
	ContactCount  int        `json:"contact_count"`
	LatestMessage *time.Time `json:"latest_message"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	linkStatus := s.link.Status()

	messageCount, err := s.store.CountMessages()
	if err != nil {
		s.logger.Error().Err(err).Msg("count messages failed")
		writeError(w, http.StatusInternalServerError, CodeInternal, "internal error")
		return
	}
	contactCount, err := s.store.CountContacts()
	if err != nil {
		s.logger.Error().Err(err).Msg("count contacts failed")
		writeError(w, http.StatusInternalServerError, CodeInternal, "internal error")
		return
	}

	var latest *time.Time
	latestRow, err := s.store.LatestMessage()
	switch {
	case err == nil:
		ts := time.UnixMilli(latestRow.Timestamp).UTC()
		latest = &ts
	case errors.Is(err, storage.ErrNotFound):
		// Empty store, latest stays null.
	default:
		s.logger.Error().Err(err).Msg("latest message lookup failed")
		writeError(w, http.StatusInternalServerError, CodeInternal, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Service: serviceStatus{
			NodeID: s.link.NodeID(),
			Status: linkStatus,
		},
		Database: databaseStatus{
			MessageCount:  messageCount,
			ContactCount:  contactCount,
			LatestMessage: latest,
		},
	})
}
