// Package ledger holds the transaction model shared by the executor, the
// gateway client and the development network.
package ledger

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/xueqianLu/ledgerctl/internal/errs"
)

// DefaultMaxFee is applied when a transaction is built without a fee.
const DefaultMaxFee uint64 = 200_000_000

// SignaturePair is one signer's contribution to a transaction.
type SignaturePair struct {
	PublicKey string        `json:"publicKey"`
	Algorithm string        `json:"algorithm"`
	Signature hexutil.Bytes `json:"signature"`
}

// Transaction is a ledger operation plus the envelope the network needs to
// accept it. It moves from built to frozen to signed; signatures are kept in
// the order they were attached.
type Transaction struct {
	Kind          Kind            `json:"kind"`
	ID            TransactionID   `json:"transactionId"`
	NodeAccountID string          `json:"nodeAccountId"`
	MaxFee        uint64          `json:"maxFee"`
	Memo          string          `json:"memo,omitempty"`
	Body          json.RawMessage `json:"body"`
	Signatures    []SignaturePair `json:"signatures,omitempty"`
}

// New builds an unfrozen transaction around body.
func New(body Body) (*Transaction, error) {
	if body == nil {
		return nil, errs.Validation("transaction body is required")
	}
	if err := body.Validate(); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, errs.Validation("encode %s body: %v", body.Kind(), err)
	}
	return &Transaction{Kind: body.Kind(), MaxFee: DefaultMaxFee, Body: raw}, nil
}

// DecodeBody returns the typed body.
func (t *Transaction) DecodeBody() (Body, error) {
	var b Body
	switch t.Kind {
	case KindAccountCreate:
		var v AccountCreate
		if err := json.Unmarshal(t.Body, &v); err != nil {
			return nil, errs.Validation("decode %s body: %v", t.Kind, err)
		}
		b = v
	case KindTransfer:
		var v CryptoTransfer
		if err := json.Unmarshal(t.Body, &v); err != nil {
			return nil, errs.Validation("decode %s body: %v", t.Kind, err)
		}
		b = v
	case KindTokenCreate:
		var v TokenCreate
		if err := json.Unmarshal(t.Body, &v); err != nil {
			return nil, errs.Validation("decode %s body: %v", t.Kind, err)
		}
		b = v
	case KindTopicCreate:
		var v TopicCreate
		if err := json.Unmarshal(t.Body, &v); err != nil {
			return nil, errs.Validation("decode %s body: %v", t.Kind, err)
		}
		b = v
	case KindTopicMessage:
		var v TopicMessage
		if err := json.Unmarshal(t.Body, &v); err != nil {
			return nil, errs.Validation("decode %s body: %v", t.Kind, err)
		}
		b = v
	case KindContractCreate:
		var v ContractCreate
		if err := json.Unmarshal(t.Body, &v); err != nil {
			return nil, errs.Validation("decode %s body: %v", t.Kind, err)
		}
		b = v
	default:
		return nil, errs.Validation("unknown transaction kind %q", t.Kind)
	}
	return b, b.Validate()
}

// IsFrozen reports whether the envelope is complete enough to sign.
func (t *Transaction) IsFrozen() bool {
	return !t.ID.IsZero() && t.NodeAccountID != ""
}

func (t *Transaction) IsSigned() bool {
	return len(t.Signatures) > 0
}

// Freeze fills in the transaction id and node when they are absent. It
// refuses a transaction that already carries signatures.
func (t *Transaction) Freeze(payer, node string, validStart time.Time) error {
	if t.IsSigned() {
		return errs.State("transaction is already signed")
	}
	if t.ID.IsZero() {
		if !IsEntityID(payer) {
			return errs.Validation("invalid payer account %q", payer)
		}
		t.ID = TransactionID{AccountID: payer, ValidStart: validStart.UTC()}
	}
	if t.NodeAccountID == "" {
		if !IsEntityID(node) {
			return errs.Validation("invalid node account %q", node)
		}
		t.NodeAccountID = node
	}
	if t.MaxFee == 0 {
		t.MaxFee = DefaultMaxFee
	}
	return nil
}

// Regenerate moves the valid start and drops the signatures so the
// transaction can be signed and submitted again under a new id.
func (t *Transaction) Regenerate(validStart time.Time) {
	t.ID.ValidStart = validStart.UTC()
	t.Signatures = nil
}

type canonicalBody struct {
	Kind          string
	Payer         string
	ValidStartSec uint64
	ValidStartNs  uint64
	Node          string
	MaxFee        uint64
	Memo          string
	Body          []byte
}

// BodyBytes returns the canonical bytes every signer signs. Signatures are
// not part of them.
func (t *Transaction) BodyBytes() ([]byte, error) {
	if !t.IsFrozen() {
		return nil, errs.State("transaction is not frozen")
	}
	return rlp.EncodeToBytes(canonicalBody{
		Kind:          string(t.Kind),
		Payer:         t.ID.AccountID,
		ValidStartSec: uint64(t.ID.ValidStart.Unix()),
		ValidStartNs:  uint64(t.ID.ValidStart.Nanosecond()),
		Node:          t.NodeAccountID,
		MaxFee:        t.MaxFee,
		Memo:          t.Memo,
		Body:          t.Body,
	})
}

// AddSignature appends a signature pair.
func (t *Transaction) AddSignature(publicKey, algorithm string, sig []byte) {
	t.Signatures = append(t.Signatures, SignaturePair{
		PublicKey: strings.ToLower(publicKey),
		Algorithm: algorithm,
		Signature: sig,
	})
}

// SignedBy reports whether publicKey contributed a signature.
func (t *Transaction) SignedBy(publicKey string) bool {
	publicKey = strings.ToLower(publicKey)
	for _, s := range t.Signatures {
		if s.PublicKey == publicKey {
			return true
		}
	}
	return false
}
