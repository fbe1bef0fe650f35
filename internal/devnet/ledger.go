// Package devnet is an in-memory ledger for local development. It accepts
// the same signed transactions a real gateway does, checks their signatures
// against account keys and applies them synchronously.
package devnet

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xueqianLu/ledgerctl/internal/ledger"
	"github.com/xueqianLu/ledgerctl/internal/signer"
)

type Config struct {
	NodeAccountID   string
	TreasuryAccount string
	TreasuryKey     ledger.Key
	InitialBalance  uint64
	TransactionFee  uint64
	ValidDuration   time.Duration
	// FirstEntityNum is the number given to the first created entity.
	FirstEntityNum uint64
}

func (c *Config) setDefaults() {
	if c.NodeAccountID == "" {
		c.NodeAccountID = "0.0.3"
	}
	if c.TreasuryAccount == "" {
		c.TreasuryAccount = "0.0.2"
	}
	if c.TransactionFee == 0 {
		c.TransactionFee = 100_000
	}
	if c.ValidDuration == 0 {
		c.ValidDuration = 3 * time.Minute
	}
	if c.FirstEntityNum == 0 {
		c.FirstEntityNum = 1001
	}
}

// AccountView is an account as the mirror routes expose it.
type AccountView struct {
	ID      string
	Key     ledger.Key
	Balance uint64
	Memo    string
}

// Message is one submitted topic message.
type Message struct {
	TopicID        string
	SequenceNumber uint64
	Payload        []byte
	Consensus      time.Time
}

type account struct {
	key     ledger.Key
	balance uint64
	memo    string
}

type token struct {
	body     ledger.TokenCreate
	balances map[string]uint64
}

type topic struct {
	body     ledger.TopicCreate
	messages []Message
}

type contract struct {
	body    ledger.ContractCreate
	balance uint64
}

// Ledger holds all devnet state behind one mutex.
type Ledger struct {
	mu        sync.Mutex
	cfg       Config
	nextNum   uint64
	accounts  map[string]*account
	tokens    map[string]*token
	topics    map[string]*topic
	contracts map[string]*contract
	receipts  map[string]ledger.Receipt
	log       *zap.Logger
	now       func() time.Time
}

func New(cfg Config, log *zap.Logger) *Ledger {
	cfg.setDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	l := &Ledger{
		cfg:       cfg,
		nextNum:   cfg.FirstEntityNum,
		accounts:  make(map[string]*account),
		tokens:    make(map[string]*token),
		topics:    make(map[string]*topic),
		contracts: make(map[string]*contract),
		receipts:  make(map[string]ledger.Receipt),
		log:       log.Named("devnet"),
		now:       time.Now,
	}
	l.accounts[cfg.TreasuryAccount] = &account{key: normalizeKey(cfg.TreasuryKey), balance: cfg.InitialBalance, memo: "treasury"}
	return l
}

func (l *Ledger) NodeAccountID() string { return l.cfg.NodeAccountID }

func normalizeKey(k ledger.Key) ledger.Key {
	k.PublicKey = strings.ToLower(strings.TrimPrefix(k.PublicKey, "0x"))
	return k
}

func (l *Ledger) newEntityID() string {
	id := fmt.Sprintf("0.0.%d", l.nextNum)
	l.nextNum++
	return id
}

// Submit runs precheck and, when it passes, applies the transaction and
// records its receipt.
func (l *Ledger) Submit(tx *ledger.Transaction) ledger.SubmitResponse {
	l.mu.Lock()
	defer l.mu.Unlock()

	resp := ledger.SubmitResponse{TransactionID: tx.ID, NodeAccountID: l.cfg.NodeAccountID}
	status, signed, body := l.precheck(tx)
	resp.Status = status
	if status != ledger.StatusOK {
		l.log.Info("precheck failed", zap.String("transactionId", tx.ID.String()), zap.String("status", string(status)))
		return resp
	}

	receipt := l.apply(tx, body, signed)
	l.receipts[tx.ID.String()] = receipt
	l.log.Info("transaction applied",
		zap.String("transactionId", tx.ID.String()),
		zap.String("kind", string(tx.Kind)),
		zap.String("status", string(receipt.Status)),
	)
	return resp
}

// Receipt returns the receipt recorded for id.
func (l *Ledger) Receipt(id string) (ledger.Receipt, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.receipts[id]
	return r, ok
}

type signerSet map[string]bool

func (s signerSet) has(k *ledger.Key) bool {
	return k != nil && s[strings.ToLower(k.PublicKey)]
}

func (l *Ledger) precheck(tx *ledger.Transaction) (ledger.Status, signerSet, ledger.Body) {
	if !tx.IsFrozen() || tx.NodeAccountID != l.cfg.NodeAccountID {
		return ledger.StatusInvalidTransactionBody, nil, nil
	}
	body, err := tx.DecodeBody()
	if err != nil {
		return ledger.StatusInvalidTransactionBody, nil, nil
	}
	if _, seen := l.receipts[tx.ID.String()]; seen {
		return ledger.StatusDuplicateTransaction, nil, nil
	}
	if start := tx.ID.ValidStart; l.now().Sub(start) > l.cfg.ValidDuration || start.Sub(l.now()) > l.cfg.ValidDuration {
		return ledger.StatusTransactionExpired, nil, nil
	}
	payer, ok := l.accounts[tx.ID.AccountID]
	if !ok {
		return ledger.StatusInvalidAccountID, nil, nil
	}

	bodyBytes, err := tx.BodyBytes()
	if err != nil {
		return ledger.StatusInvalidTransactionBody, nil, nil
	}
	signed := make(signerSet, len(tx.Signatures))
	for _, pair := range tx.Signatures {
		if !signer.Verify(signer.Algorithm(pair.Algorithm), strings.ToLower(pair.PublicKey), bodyBytes, pair.Signature) {
			return ledger.StatusInvalidSignature, nil, nil
		}
		signed[strings.ToLower(pair.PublicKey)] = true
	}
	if !signed.has(&payer.key) {
		return ledger.StatusInvalidSignature, nil, nil
	}
	if payer.balance < l.cfg.TransactionFee {
		return ledger.StatusInsufficientPayerBalance, nil, nil
	}
	return ledger.StatusOK, signed, body
}

func (l *Ledger) apply(tx *ledger.Transaction, body ledger.Body, signed signerSet) ledger.Receipt {
	payer := l.accounts[tx.ID.AccountID]
	payer.balance -= l.cfg.TransactionFee

	switch b := body.(type) {
	case ledger.AccountCreate:
		if payer.balance < b.InitialBalance {
			return ledger.Receipt{Status: ledger.StatusInsufficientPayerBalance}
		}
		payer.balance -= b.InitialBalance
		id := l.newEntityID()
		l.accounts[id] = &account{key: normalizeKey(b.Key), balance: b.InitialBalance, memo: b.Memo}
		return ledger.Receipt{Status: ledger.StatusSuccess, AccountID: id}

	case ledger.CryptoTransfer:
		// Validate guarantees each account appears once, so every entry is
		// that account's whole change.
		for _, t := range b.Transfers {
			acc, ok := l.accounts[t.AccountID]
			if !ok {
				return ledger.Receipt{Status: ledger.StatusInvalidAccountID}
			}
			if t.Amount < 0 {
				if !signed.has(&acc.key) {
					return ledger.Receipt{Status: ledger.StatusInvalidSignature}
				}
				if acc.balance < uint64(-t.Amount) {
					return ledger.Receipt{Status: ledger.StatusInsufficientAccountBalance}
				}
			} else if acc.balance > math.MaxUint64-uint64(t.Amount) {
				return ledger.Receipt{Status: ledger.StatusInvalidAccountAmounts}
			}
		}
		for _, t := range b.Transfers {
			acc := l.accounts[t.AccountID]
			if t.Amount < 0 {
				acc.balance -= uint64(-t.Amount)
			} else {
				acc.balance += uint64(t.Amount)
			}
		}
		return ledger.Receipt{Status: ledger.StatusSuccess}

	case ledger.TokenCreate:
		treasury, ok := l.accounts[b.Treasury]
		if !ok {
			return ledger.Receipt{Status: ledger.StatusInvalidAccountID}
		}
		if !signed.has(&treasury.key) || (b.AdminKey != nil && !signed.has(b.AdminKey)) {
			return ledger.Receipt{Status: ledger.StatusInvalidSignature}
		}
		id := l.newEntityID()
		l.tokens[id] = &token{body: b, balances: map[string]uint64{b.Treasury: b.InitialSupply}}
		return ledger.Receipt{Status: ledger.StatusSuccess, TokenID: id}

	case ledger.TopicCreate:
		if b.AdminKey != nil && !signed.has(b.AdminKey) {
			return ledger.Receipt{Status: ledger.StatusInvalidSignature}
		}
		id := l.newEntityID()
		l.topics[id] = &topic{body: b}
		return ledger.Receipt{Status: ledger.StatusSuccess, TopicID: id}

	case ledger.TopicMessage:
		tp, ok := l.topics[b.TopicID]
		if !ok {
			return ledger.Receipt{Status: ledger.StatusInvalidTopicID}
		}
		if tp.body.SubmitKey != nil && !signed.has(tp.body.SubmitKey) {
			return ledger.Receipt{Status: ledger.StatusInvalidSignature}
		}
		seq := uint64(len(tp.messages)) + 1
		tp.messages = append(tp.messages, Message{
			TopicID:        b.TopicID,
			SequenceNumber: seq,
			Payload:        append([]byte(nil), b.Message...),
			Consensus:      l.now().UTC(),
		})
		return ledger.Receipt{Status: ledger.StatusSuccess, TopicSequenceNumber: seq}

	case ledger.ContractCreate:
		if b.AdminKey != nil && !signed.has(b.AdminKey) {
			return ledger.Receipt{Status: ledger.StatusInvalidSignature}
		}
		if payer.balance < b.InitialBalance {
			return ledger.Receipt{Status: ledger.StatusInsufficientPayerBalance}
		}
		payer.balance -= b.InitialBalance
		id := l.newEntityID()
		l.contracts[id] = &contract{body: b, balance: b.InitialBalance}
		return ledger.Receipt{Status: ledger.StatusSuccess, ContractID: id}
	}
	return ledger.Receipt{Status: ledger.StatusInvalidTransactionBody}
}

// Account returns a snapshot of one account.
func (l *Ledger) Account(id string) (AccountView, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[id]
	if !ok {
		return AccountView{}, false
	}
	return AccountView{ID: id, Key: acc.key, Balance: acc.balance, Memo: acc.memo}, true
}

// AccountsByKey returns the accounts whose key is publicKey, lowest id first.
func (l *Ledger) AccountsByKey(publicKey string) []AccountView {
	publicKey = strings.ToLower(strings.TrimPrefix(publicKey, "0x"))
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []AccountView
	for id, acc := range l.accounts {
		if acc.key.PublicKey == publicKey {
			out = append(out, AccountView{ID: id, Key: acc.key, Balance: acc.balance, Memo: acc.memo})
		}
	}
	sort.Slice(out, func(i, j int) bool { return entityLess(out[i].ID, out[j].ID) })
	return out
}

// TokenBalance returns the balance of tokenID held by accountID.
func (l *Ledger) TokenBalance(tokenID, accountID string) (uint64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tk, ok := l.tokens[tokenID]
	if !ok {
		return 0, false
	}
	return tk.balances[accountID], true
}

// Messages returns the messages submitted to topicID in order.
func (l *Ledger) Messages(topicID string) ([]Message, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tp, ok := l.topics[topicID]
	if !ok {
		return nil, false
	}
	return append([]Message(nil), tp.messages...), true
}

func entityLess(a, b string) bool {
	ea, errA := ledger.ParseEntityID(a)
	eb, errB := ledger.ParseEntityID(b)
	if errA != nil || errB != nil {
		return a < b
	}
	if ea.Shard != eb.Shard {
		return ea.Shard < eb.Shard
	}
	if ea.Realm != eb.Realm {
		return ea.Realm < eb.Realm
	}
	return ea.Num < eb.Num
}
