// Package execute signs transactions with stored credentials, submits them
// and turns the network's answer into a TransactionResult.
package execute

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/xueqianLu/ledgerctl/internal/errs"
	"github.com/xueqianLu/ledgerctl/internal/ledger"
	"github.com/xueqianLu/ledgerctl/internal/signer"
)

// Keys is the part of the key manager the executor needs.
type Keys interface {
	Get(ctx context.Context, keyRefID string) (signer.Credential, error)
	Sign(ctx context.Context, keyRefID string, payload []byte) ([]byte, error)
}

// Operator is the account that pays for transactions by default.
type Operator struct {
	AccountID string
	KeyRefID  string
}

// TransactionResult is the uniform outcome of an execution. Ledger failures
// are reported here with Success=false, never as errors.
type TransactionResult struct {
	Success       bool            `json:"success"`
	TransactionID string          `json:"transactionId,omitempty"`
	Status        ledger.Status   `json:"status,omitempty"`
	Receipt       *ledger.Receipt `json:"receipt,omitempty"`
	AccountID     string          `json:"accountId,omitempty"`
	TokenID       string          `json:"tokenId,omitempty"`
	TopicID       string          `json:"topicId,omitempty"`
	ContractID    string          `json:"contractId,omitempty"`
	Attempts      int             `json:"attempts"`
	ErrorMessage  string          `json:"errorMessage,omitempty"`
}

type Config struct {
	Network       ledger.Network
	Keys          Keys
	Operator      Operator
	NodeAccountID string
	Policy        Policy
	Logger        *zap.Logger
}

type Executor struct {
	network  ledger.Network
	keys     Keys
	operator Operator
	node     string
	policy   Policy
	log      *zap.Logger
	now      func() time.Time
}

func New(cfg Config) (*Executor, error) {
	if cfg.Network == nil || cfg.Keys == nil {
		return nil, errs.Validation("executor needs a network and a key manager")
	}
	if !ledger.IsEntityID(cfg.NodeAccountID) {
		return nil, errs.Validation("invalid node account id %q", cfg.NodeAccountID)
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{
		network:  cfg.Network,
		keys:     cfg.Keys,
		operator: cfg.Operator,
		node:     cfg.NodeAccountID,
		policy:   cfg.Policy,
		log:      log.Named("execute"),
		now:      time.Now,
	}, nil
}

// Operator returns the configured paying account.
func (e *Executor) Operator() Operator { return e.operator }

// SignAndExecute signs tx with the operator key only.
func (e *Executor) SignAndExecute(ctx context.Context, tx *ledger.Transaction) (TransactionResult, error) {
	if e.operator.KeyRefID == "" {
		return TransactionResult{}, errs.WithHint(
			errs.State("no operator key configured"),
			"set networks.<name>.operator.key_ref_id or operator.private_key",
		)
	}
	return e.SignAndExecuteWith(ctx, tx, []string{e.operator.KeyRefID})
}

// SignAndExecuteWith signs tx with every keyRefID in order, submits it and
// waits for the receipt. Errors are returned for misuse and for signing
// failures; everything the ledger reports comes back in the result.
func (e *Executor) SignAndExecuteWith(ctx context.Context, tx *ledger.Transaction, keyRefIDs []string) (TransactionResult, error) {
	if tx == nil {
		return TransactionResult{}, errs.Validation("transaction is nil")
	}
	if len(keyRefIDs) == 0 {
		return TransactionResult{}, errs.Validation("at least one signing key is required")
	}
	if tx.IsSigned() {
		return TransactionResult{}, errs.State("transaction %s is already signed", tx.ID)
	}
	if tx.ID.IsZero() && e.operator.AccountID == "" {
		return TransactionResult{}, errs.WithHint(
			errs.State("no operator account configured to pay for the transaction"),
			"set networks.<name>.operator.account_id",
		)
	}
	if err := tx.Freeze(e.operator.AccountID, e.node, e.now()); err != nil {
		return TransactionResult{}, err
	}

	schedule := e.policy.schedule()
	maxAttempts := e.policy.MaxRetries + 1
	var res TransactionResult
	// sent is set once an attempt under the current id may have reached the
	// network without us learning its fate.
	sent := false
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if !tx.IsSigned() {
			if err := e.sign(ctx, tx, keyRefIDs); err != nil {
				return TransactionResult{}, err
			}
		}

		var out attemptOutcome
		res, out = e.attempt(ctx, tx, sent)
		res.Attempts = attempt
		if out.outcome != ledger.OutcomeRetryable {
			return res, nil
		}
		sent = sent || out.maybeSent

		delay := schedule.NextBackOff()
		if attempt == maxAttempts || delay == backoff.Stop {
			break
		}
		e.log.Warn("retrying transaction",
			zap.String("transactionId", res.TransactionID),
			zap.Int("attempt", attempt),
			zap.Int("maxRetries", e.policy.MaxRetries),
			zap.String("status", string(res.Status)),
			zap.String("reason", res.ErrorMessage),
			zap.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			res.ErrorMessage = fmt.Sprintf("cancelled while waiting to retry: %v", ctx.Err())
			return res, nil
		case <-time.After(delay):
		}
		if out.regenerate {
			tx.Regenerate(e.now())
			sent = false
		}
	}

	res.ErrorMessage = fmt.Sprintf("giving up after %d attempts: %s", res.Attempts, res.ErrorMessage)
	e.log.Warn("transaction retries exhausted",
		zap.String("transactionId", res.TransactionID),
		zap.Int("attempts", res.Attempts),
		zap.String("status", string(res.Status)),
	)
	return res, nil
}

func (e *Executor) sign(ctx context.Context, tx *ledger.Transaction, keyRefIDs []string) error {
	body, err := tx.BodyBytes()
	if err != nil {
		return err
	}
	for _, ref := range keyRefIDs {
		cred, err := e.keys.Get(ctx, ref)
		if err != nil {
			return errors.Wrapf(err, "resolve signing key %s", ref)
		}
		if tx.SignedBy(cred.PublicKey) {
			e.log.Debug("skipping duplicate signer", zap.String("keyRefId", ref))
			continue
		}
		sig, err := e.keys.Sign(ctx, ref, body)
		if err != nil {
			return errors.Wrapf(err, "sign transaction %s with %s", tx.ID, ref)
		}
		tx.AddSignature(cred.PublicKey, string(cred.Algorithm), sig)
	}
	e.log.Debug("transaction signed",
		zap.String("transactionId", tx.ID.String()),
		zap.Int("signatures", len(tx.Signatures)),
	)
	return nil
}

type attemptOutcome struct {
	outcome    ledger.Outcome
	regenerate bool
	// maybeSent is set when the network may hold the transaction although
	// the attempt could not confirm it.
	maybeSent bool
}

// attempt runs one submit and poll cycle. resent tells it an earlier attempt
// under the same id may already have been accepted.
func (e *Executor) attempt(ctx context.Context, tx *ledger.Transaction, resent bool) (TransactionResult, attemptOutcome) {
	res := TransactionResult{TransactionID: tx.ID.String()}

	subCtx, cancel := context.WithTimeout(ctx, e.policy.AttemptTimeout)
	resp, err := e.network.Submit(subCtx, tx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			res.ErrorMessage = fmt.Sprintf("submit cancelled: %v", ctx.Err())
			return res, attemptOutcome{outcome: ledger.OutcomeFatal}
		}
		res.ErrorMessage = fmt.Sprintf("submit failed: %v", err)
		if ledger.IsPermanent(err) {
			e.log.Info("transaction refused by gateway",
				zap.String("transactionId", res.TransactionID),
				zap.Error(err),
			)
			return res, attemptOutcome{outcome: ledger.OutcomeFatal}
		}
		return res, attemptOutcome{outcome: ledger.OutcomeRetryable, maybeSent: true}
	}
	res.Status = resp.Status
	switch ledger.Classify(resp.Status) {
	case ledger.OutcomeSuccess:
	case ledger.OutcomeFatal:
		if resent && resp.Status == ledger.StatusDuplicateTransaction {
			e.log.Info("transaction already submitted, waiting for its receipt",
				zap.String("transactionId", res.TransactionID),
			)
			break
		}
		res.ErrorMessage = fmt.Sprintf("precheck failed: %s", resp.Status)
		e.log.Info("transaction rejected at precheck",
			zap.String("transactionId", res.TransactionID),
			zap.String("status", string(resp.Status)),
		)
		return res, attemptOutcome{outcome: ledger.OutcomeFatal}
	default:
		res.ErrorMessage = fmt.Sprintf("precheck returned %s", resp.Status)
		return res, attemptOutcome{outcome: ledger.OutcomeRetryable}
	}

	receipt, err := e.poll(ctx, tx.ID)
	if err != nil {
		res.ErrorMessage = err.Error()
		if ctx.Err() != nil || ledger.IsPermanent(err) {
			return res, attemptOutcome{outcome: ledger.OutcomeFatal}
		}
		return res, attemptOutcome{outcome: ledger.OutcomeRetryable, maybeSent: true}
	}
	res.Status = receipt.Status
	res.Receipt = receipt
	switch out := ledger.Classify(receipt.Status); out {
	case ledger.OutcomeSuccess:
		res.Success = true
		res.AccountID = receipt.AccountID
		res.TokenID = receipt.TokenID
		res.TopicID = receipt.TopicID
		res.ContractID = receipt.ContractID
		e.log.Info("transaction succeeded",
			zap.String("transactionId", res.TransactionID),
			zap.String("kind", string(tx.Kind)),
		)
		return res, attemptOutcome{outcome: out}
	case ledger.OutcomeRetryable:
		res.ErrorMessage = fmt.Sprintf("receipt status %s", receipt.Status)
		return res, attemptOutcome{outcome: out, regenerate: true}
	default:
		res.ErrorMessage = fmt.Sprintf("transaction failed with status %s", receipt.Status)
		e.log.Info("transaction failed",
			zap.String("transactionId", res.TransactionID),
			zap.String("status", string(receipt.Status)),
		)
		return res, attemptOutcome{outcome: ledger.OutcomeFatal}
	}
}

// poll queries the receipt until it leaves the pending states or the poll
// budget runs out.
func (e *Executor) poll(ctx context.Context, id ledger.TransactionID) (*ledger.Receipt, error) {
	var last string
	for i := 1; i <= e.policy.PollAttempts; i++ {
		qctx, cancel := context.WithTimeout(ctx, e.policy.AttemptTimeout)
		receipt, err := e.network.Receipt(qctx, id)
		cancel()
		switch {
		case ledger.IsPermanent(err):
			return nil, fmt.Errorf("receipt query refused: %w", err)
		case err != nil:
			last = err.Error()
			e.log.Debug("receipt query failed", zap.String("transactionId", id.String()), zap.Int("poll", i), zap.Error(err))
		case receipt == nil:
			last = string(ledger.StatusReceiptNotFound)
		case ledger.Classify(receipt.Status) == ledger.OutcomePending:
			last = string(receipt.Status)
		default:
			return receipt, nil
		}
		if i == e.policy.PollAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("receipt polling cancelled: %w", ctx.Err())
		case <-time.After(e.policy.PollInterval):
		}
	}
	return nil, fmt.Errorf("receipt for %s not available after %d polls (last: %s)", id, e.policy.PollAttempts, last)
}
