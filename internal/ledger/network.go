package ledger

import (
	"context"

	"github.com/cockroachdb/errors"
)

// Receipt is the consensus outcome of a transaction. Entity ids are set for
// the kinds that create one.
type Receipt struct {
	Status              Status `json:"status"`
	AccountID           string `json:"accountId,omitempty"`
	TokenID             string `json:"tokenId,omitempty"`
	TopicID             string `json:"topicId,omitempty"`
	ContractID          string `json:"contractId,omitempty"`
	TopicSequenceNumber uint64 `json:"topicSequenceNumber,omitempty"`
}

// SubmitResponse is the precheck answer of the node a transaction was sent to.
type SubmitResponse struct {
	TransactionID TransactionID `json:"transactionId"`
	NodeAccountID string        `json:"nodeAccountId"`
	Status        Status        `json:"status"`
}

// Network is the two-phase submit/receipt protocol. Transport failures are
// returned as errors; ledger outcomes are returned as statuses.
type Network interface {
	Submit(ctx context.Context, tx *Transaction) (SubmitResponse, error)
	Receipt(ctx context.Context, id TransactionID) (*Receipt, error)
}

// IsPermanent reports whether a transport error is a definitive refusal,
// such as a rejected API key, that resending the same request cannot change.
// Errors opt in by implementing Permanent() bool.
func IsPermanent(err error) bool {
	var p interface{ Permanent() bool }
	return errors.As(err, &p) && p.Permanent()
}
