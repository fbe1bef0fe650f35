package handler

import (
	"net/http"
	"time"

	"github.com/xueqianLu/ledgerctl/internal/devnet"
)

// MessagesHandler serves /api/v1/topics/{id}/messages.
type MessagesHandler struct {
	ledger *devnet.Ledger
}

// NewMessagesHandler creates a new MessagesHandler.
func NewMessagesHandler(l *devnet.Ledger) *MessagesHandler {
	return &MessagesHandler{ledger: l}
}

// ServeHTTP implements the http.Handler interface.
func (h *MessagesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	topicID := r.PathValue("id")
	msgs, ok := h.ledger.Messages(topicID)
	if !ok {
		writeError(w, http.StatusNotFound, "topic not found")
		return
	}
	page := topicMessagesPage{Messages: make([]TopicMessage, 0, len(msgs))}
	for _, m := range msgs {
		page.Messages = append(page.Messages, TopicMessage{
			TopicID:            m.TopicID,
			SequenceNumber:     m.SequenceNumber,
			Message:            m.Payload,
			ConsensusTimestamp: m.Consensus.Format(time.RFC3339Nano),
		})
	}
	writeJSON(w, http.StatusOK, page)
}
