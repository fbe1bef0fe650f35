package ledger

import (
	"math"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/xueqianLu/ledgerctl/internal/errs"
)

// Kind selects the operation a transaction performs.
type Kind string

const (
	KindAccountCreate  Kind = "ACCOUNT_CREATE"
	KindTransfer       Kind = "TRANSFER"
	KindTokenCreate    Kind = "TOKEN_CREATE"
	KindTopicCreate    Kind = "TOPIC_CREATE"
	KindTopicMessage   Kind = "TOPIC_MESSAGE_SUBMIT"
	KindContractCreate Kind = "CONTRACT_CREATE"
)

// MaxMessageSize bounds a single topic message.
const MaxMessageSize = 1024

// Key is a public key attached to an entity.
type Key struct {
	Algorithm string `json:"algorithm"`
	PublicKey string `json:"publicKey"`
}

func (k Key) validate(field string) error {
	switch k.Algorithm {
	case "ECDSA", "ED25519":
	default:
		return errs.Validation("%s: unsupported key algorithm %q", field, k.Algorithm)
	}
	if k.PublicKey == "" {
		return errs.Validation("%s: public key is required", field)
	}
	if _, err := hexutil.Decode("0x" + strings.TrimPrefix(k.PublicKey, "0x")); err != nil {
		return errs.Validation("%s: public key is not hex", field)
	}
	return nil
}

func validateOptionalKey(k *Key, field string) error {
	if k == nil {
		return nil
	}
	return k.validate(field)
}

// Body is the kind-specific part of a transaction.
type Body interface {
	Kind() Kind
	Validate() error
}

type AccountCreate struct {
	Key            Key    `json:"key"`
	InitialBalance uint64 `json:"initialBalance"`
	Memo           string `json:"memo,omitempty"`
}

func (AccountCreate) Kind() Kind { return KindAccountCreate }

func (b AccountCreate) Validate() error {
	return b.Key.validate("key")
}

// Transfer moves Amount into (positive) or out of (negative) AccountID.
type Transfer struct {
	AccountID string `json:"accountId"`
	Amount    int64  `json:"amount"`
}

type CryptoTransfer struct {
	Transfers []Transfer `json:"transfers"`
}

func (CryptoTransfer) Kind() Kind { return KindTransfer }

func (b CryptoTransfer) Validate() error {
	if len(b.Transfers) < 2 {
		return errs.Validation("a transfer needs at least a sender and a receiver")
	}
	var sum int64
	seen := make(map[string]bool, len(b.Transfers))
	for _, t := range b.Transfers {
		if !IsEntityID(t.AccountID) {
			return errs.Validation("invalid account id %q in transfer", t.AccountID)
		}
		if seen[t.AccountID] {
			return errs.Validation("account %s appears more than once in transfer", t.AccountID)
		}
		seen[t.AccountID] = true
		if t.Amount == 0 {
			return errs.Validation("transfer amount for %s is zero", t.AccountID)
		}
		if t.Amount == math.MinInt64 {
			return errs.Validation("transfer amount for %s is out of range", t.AccountID)
		}
		if (t.Amount > 0 && sum > math.MaxInt64-t.Amount) || (t.Amount < 0 && sum < math.MinInt64-t.Amount) {
			return errs.Validation("transfer amounts overflow")
		}
		sum += t.Amount
	}
	if sum != 0 {
		return errs.Validation("transfer amounts do not balance (sum %d)", sum)
	}
	return nil
}

// NewTransfer builds a two-party transfer of amount from one account to another.
func NewTransfer(from, to string, amount int64) CryptoTransfer {
	return CryptoTransfer{Transfers: []Transfer{
		{AccountID: from, Amount: -amount},
		{AccountID: to, Amount: amount},
	}}
}

type TokenCreate struct {
	Name          string `json:"name"`
	Symbol        string `json:"symbol"`
	Decimals      uint32 `json:"decimals"`
	InitialSupply uint64 `json:"initialSupply"`
	Treasury      string `json:"treasury"`
	AdminKey      *Key   `json:"adminKey,omitempty"`
	SupplyKey     *Key   `json:"supplyKey,omitempty"`
}

func (TokenCreate) Kind() Kind { return KindTokenCreate }

func (b TokenCreate) Validate() error {
	if strings.TrimSpace(b.Name) == "" || strings.TrimSpace(b.Symbol) == "" {
		return errs.Validation("token name and symbol are required")
	}
	if !IsEntityID(b.Treasury) {
		return errs.Validation("invalid treasury account %q", b.Treasury)
	}
	if err := validateOptionalKey(b.AdminKey, "admin key"); err != nil {
		return err
	}
	return validateOptionalKey(b.SupplyKey, "supply key")
}

type TopicCreate struct {
	Memo      string `json:"memo,omitempty"`
	AdminKey  *Key   `json:"adminKey,omitempty"`
	SubmitKey *Key   `json:"submitKey,omitempty"`
}

func (TopicCreate) Kind() Kind { return KindTopicCreate }

func (b TopicCreate) Validate() error {
	if err := validateOptionalKey(b.AdminKey, "admin key"); err != nil {
		return err
	}
	return validateOptionalKey(b.SubmitKey, "submit key")
}

type TopicMessage struct {
	TopicID string        `json:"topicId"`
	Message hexutil.Bytes `json:"message"`
}

func (TopicMessage) Kind() Kind { return KindTopicMessage }

func (b TopicMessage) Validate() error {
	if !IsEntityID(b.TopicID) {
		return errs.Validation("invalid topic id %q", b.TopicID)
	}
	if len(b.Message) == 0 {
		return errs.Validation("topic message is empty")
	}
	if len(b.Message) > MaxMessageSize {
		return errs.Validation("topic message is %d bytes, limit is %d", len(b.Message), MaxMessageSize)
	}
	return nil
}

type ContractCreate struct {
	Bytecode       hexutil.Bytes `json:"bytecode"`
	Gas            uint64        `json:"gas"`
	InitialBalance uint64        `json:"initialBalance,omitempty"`
	AdminKey       *Key          `json:"adminKey,omitempty"`
}

func (ContractCreate) Kind() Kind { return KindContractCreate }

func (b ContractCreate) Validate() error {
	if len(b.Bytecode) == 0 {
		return errs.Validation("contract bytecode is empty")
	}
	if b.Gas == 0 {
		return errs.Validation("contract gas must be positive")
	}
	return validateOptionalKey(b.AdminKey, "admin key")
}
