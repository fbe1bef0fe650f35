package handler

import (
	"net/http"
	"strconv"

	"github.com/xueqianLu/ledgerctl/internal/devnet"
	"github.com/xueqianLu/ledgerctl/internal/mirror"
)

// AccountsHandler serves the mirror account routes.
type AccountsHandler struct {
	ledger *devnet.Ledger
}

// NewAccountsHandler creates a new AccountsHandler.
func NewAccountsHandler(l *devnet.Ledger) *AccountsHandler {
	return &AccountsHandler{ledger: l}
}

func toMirror(v devnet.AccountView) mirror.Account {
	return mirror.Account{
		Account: v.ID,
		Key:     &mirror.Key{Type: v.Key.Algorithm, Key: v.Key.PublicKey},
		Balance: mirror.Balance{Balance: int64(v.Balance)},
		Memo:    v.Memo,
	}
}

// List handles /api/v1/accounts?account.publickey=<hex>&limit=<n>.
func (h *AccountsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pub := q.Get("account.publickey")
	if pub == "" {
		writeError(w, http.StatusBadRequest, "account.publickey is required")
		return
	}
	limit := 25
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	views := h.ledger.AccountsByKey(pub)
	if len(views) > limit {
		views = views[:limit]
	}
	out := struct {
		Accounts []mirror.Account `json:"accounts"`
	}{Accounts: make([]mirror.Account, 0, len(views))}
	for _, v := range views {
		out.Accounts = append(out.Accounts, toMirror(v))
	}
	writeJSON(w, http.StatusOK, out)
}

// Get handles /api/v1/accounts/{id}.
func (h *AccountsHandler) Get(w http.ResponseWriter, r *http.Request) {
	v, ok := h.ledger.Account(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "account not found")
		return
	}
	w.Header().Set("Cache-Control", "max-age=1")
	writeJSON(w, http.StatusOK, toMirror(v))
}
