package handler

import (
	"encoding/json"
	"net/http"

	"github.com/xueqianLu/ledgerctl/internal/devnet"
	"github.com/xueqianLu/ledgerctl/internal/ledger"
)

// SubmitHandler accepts signed transactions.
type SubmitHandler struct {
	ledger *devnet.Ledger
}

// NewSubmitHandler creates a new SubmitHandler.
func NewSubmitHandler(l *devnet.Ledger) *SubmitHandler {
	return &SubmitHandler{ledger: l}
}

// ServeHTTP implements the http.Handler interface. The precheck result is
// always reported in the body; only undecodable requests get a 4xx.
func (h *SubmitHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	defer r.Body.Close()

	var tx ledger.Transaction
	if err := json.NewDecoder(r.Body).Decode(&tx); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, h.ledger.Submit(&tx))
}

// ReceiptHandler serves receipts by transaction id.
type ReceiptHandler struct {
	ledger *devnet.Ledger
}

// NewReceiptHandler creates a new ReceiptHandler.
func NewReceiptHandler(l *devnet.Ledger) *ReceiptHandler {
	return &ReceiptHandler{ledger: l}
}

// ServeHTTP implements the http.Handler interface.
func (h *ReceiptHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, err := ledger.ParseTransactionID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	receipt, ok := h.ledger.Receipt(id.String())
	if !ok {
		writeJSON(w, http.StatusNotFound, receiptNotFound{Status: string(ledger.StatusReceiptNotFound)})
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}
