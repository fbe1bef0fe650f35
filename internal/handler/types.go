package handler

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse represents a standard error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// receiptNotFound is the body of a receipt lookup for an unknown transaction.
type receiptNotFound struct {
	Status string `json:"status"`
}

// TopicMessage is one entry of the mirror topic messages listing.
type TopicMessage struct {
	TopicID            string `json:"topic_id"`
	SequenceNumber     uint64 `json:"sequence_number"`
	Message            []byte `json:"message"`
	ConsensusTimestamp string `json:"consensus_timestamp"`
}

type topicMessagesPage struct {
	Messages []TopicMessage `json:"messages"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
