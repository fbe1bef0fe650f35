package execute

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xueqianLu/ledgerctl/internal/errs"
	"github.com/xueqianLu/ledgerctl/internal/ledger"
	"github.com/xueqianLu/ledgerctl/internal/signer"
	"github.com/xueqianLu/ledgerctl/pkg/client"
)

// fakeNetwork replays scripted precheck and receipt statuses. The last entry
// of each script repeats.
type fakeNetwork struct {
	mu        sync.Mutex
	prechecks []ledger.Status
	receipts  []ledger.Receipt
	submitErr error
	// submitErrs fails individual submits by call index; nil entries pass.
	submitErrs []error
	receiptErr error
	submitted  []ledger.Transaction
	polls     int
}

func scripted[T any](list []T, i int) T {
	if i >= len(list) {
		return list[len(list)-1]
	}
	return list[i]
}

func (f *fakeNetwork) Submit(_ context.Context, tx *ledger.Transaction) (ledger.SubmitResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *tx
	cp.Signatures = append([]ledger.SignaturePair(nil), tx.Signatures...)
	f.submitted = append(f.submitted, cp)
	if f.submitErr != nil {
		return ledger.SubmitResponse{}, f.submitErr
	}
	if i := len(f.submitted) - 1; i < len(f.submitErrs) && f.submitErrs[i] != nil {
		return ledger.SubmitResponse{}, f.submitErrs[i]
	}
	status := ledger.StatusOK
	if len(f.prechecks) > 0 {
		status = scripted(f.prechecks, len(f.submitted)-1)
	}
	return ledger.SubmitResponse{TransactionID: tx.ID, NodeAccountID: tx.NodeAccountID, Status: status}, nil
}

func (f *fakeNetwork) Receipt(_ context.Context, _ ledger.TransactionID) (*ledger.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.receiptErr != nil {
		f.polls++
		return nil, f.receiptErr
	}
	r := ledger.Receipt{Status: ledger.StatusSuccess}
	if len(f.receipts) > 0 {
		r = scripted(f.receipts, f.polls)
	}
	f.polls++
	return &r, nil
}

func fastPolicy() Policy {
	return Policy{
		MaxRetries:     3,
		RetryDelay:     time.Millisecond,
		Backoff:        BackoffConstant,
		PollAttempts:   3,
		PollInterval:   time.Millisecond,
		AttemptTimeout: time.Second,
	}
}

type fixture struct {
	km       *signer.KeyManager
	operator signer.Credential
	net      *fakeNetwork
	logs     *observer.ObservedLogs
	exec     *Executor
}

func newFixture(t *testing.T, net *fakeNetwork, policy Policy) *fixture {
	t.Helper()
	local, err := signer.NewLocalBackend(t.TempDir(), nil)
	require.NoError(t, err)
	km, err := signer.NewKeyManager(signer.NewMemoryIndex(), nil, local)
	require.NoError(t, err)
	op, err := km.Generate(context.Background(), signer.AlgED25519, signer.BackendLocal, nil)
	require.NoError(t, err)

	core, logs := observer.New(zapcore.DebugLevel)
	exec, err := New(Config{
		Network:       net,
		Keys:          km,
		Operator:      Operator{AccountID: "0.0.2", KeyRefID: op.KeyRefID},
		NodeAccountID: "0.0.3",
		Policy:        policy,
		Logger:        zap.New(core),
	})
	require.NoError(t, err)
	return &fixture{km: km, operator: op, net: net, logs: logs, exec: exec}
}

func transferTx(t *testing.T) *ledger.Transaction {
	t.Helper()
	tx, err := ledger.New(ledger.NewTransfer("0.0.1001", "0.0.1002", 5))
	require.NoError(t, err)
	return tx
}

func TestSignAndExecuteWith_SignaturesInOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakeNetwork{}, fastPolicy())
	second, err := f.km.Generate(ctx, signer.AlgECDSA, signer.BackendLocal, nil)
	require.NoError(t, err)

	res, err := f.exec.SignAndExecuteWith(ctx, transferTx(t), []string{f.operator.KeyRefID, second.KeyRefID})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.Attempts)

	require.Len(t, f.net.submitted, 1)
	sent := f.net.submitted[0]
	require.Len(t, sent.Signatures, 2)
	assert.Equal(t, f.operator.PublicKey, sent.Signatures[0].PublicKey)
	assert.Equal(t, second.PublicKey, sent.Signatures[1].PublicKey)

	body, err := sent.BodyBytes()
	require.NoError(t, err)
	for _, pair := range sent.Signatures {
		assert.True(t, signer.Verify(signer.Algorithm(pair.Algorithm), pair.PublicKey, body, pair.Signature))
	}
}

func TestSignAndExecute_ExactRetryCount(t *testing.T) {
	net := &fakeNetwork{prechecks: []ledger.Status{ledger.StatusBusy}}
	f := newFixture(t, net, fastPolicy())

	res, err := f.exec.SignAndExecute(context.Background(), transferTx(t))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 4, res.Attempts)
	assert.Len(t, net.submitted, 4)
	assert.Equal(t, 3, f.logs.FilterMessage("retrying transaction").Len())
	assert.Contains(t, res.ErrorMessage, "giving up after 4 attempts")

	// a precheck rejection never reaches the receipt phase
	assert.Zero(t, net.polls)
}

func TestSignAndExecute_InsufficientBalanceIsFatal(t *testing.T) {
	net := &fakeNetwork{receipts: []ledger.Receipt{{Status: ledger.StatusInsufficientPayerBalance}}}
	f := newFixture(t, net, fastPolicy())

	res, err := f.exec.SignAndExecute(context.Background(), transferTx(t))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, ledger.StatusInsufficientPayerBalance, res.Status)
	assert.Equal(t, 1, res.Attempts)
	assert.Len(t, net.submitted, 1)
	assert.Zero(t, f.logs.FilterMessage("retrying transaction").Len())
}

func TestSignAndExecute_PollsThroughPendingStatuses(t *testing.T) {
	net := &fakeNetwork{receipts: []ledger.Receipt{
		{Status: ledger.StatusUnknown},
		{Status: ledger.StatusReceiptNotFound},
		{Status: ledger.StatusSuccess, AccountID: "0.0.1001"},
	}}
	f := newFixture(t, net, fastPolicy())

	tx, err := ledger.New(ledger.AccountCreate{Key: ledger.Key{Algorithm: "ED25519", PublicKey: f.operator.PublicKey}})
	require.NoError(t, err)
	res, err := f.exec.SignAndExecute(context.Background(), tx)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "0.0.1001", res.AccountID)
	assert.Equal(t, 3, net.polls)
	assert.Equal(t, 1, res.Attempts)
}

func TestSignAndExecute_RetryableReceiptRegeneratesID(t *testing.T) {
	net := &fakeNetwork{receipts: []ledger.Receipt{
		{Status: ledger.StatusPlatformNotCreated},
		{Status: ledger.StatusSuccess},
	}}
	f := newFixture(t, net, fastPolicy())

	res, err := f.exec.SignAndExecute(context.Background(), transferTx(t))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.Attempts)
	require.Len(t, net.submitted, 2)
	assert.NotEqual(t, net.submitted[0].ID, net.submitted[1].ID)
	assert.Len(t, net.submitted[1].Signatures, 1)
}

func TestSignAndExecute_PollBudgetExhaustedIsRetryable(t *testing.T) {
	net := &fakeNetwork{receipts: []ledger.Receipt{{Status: ledger.StatusUnknown}}}
	p := fastPolicy()
	p.MaxRetries = 1
	p.PollAttempts = 2
	f := newFixture(t, net, p)

	res, err := f.exec.SignAndExecute(context.Background(), transferTx(t))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 4, net.polls)
	require.Len(t, net.submitted, 2)
	assert.Equal(t, net.submitted[0].ID, net.submitted[1].ID, "an unanswered transaction is resent under the same id")
}

func TestSignAndExecute_TransportErrorsAreRetried(t *testing.T) {
	net := &fakeNetwork{submitErr: fmt.Errorf("connection refused")}
	p := fastPolicy()
	p.MaxRetries = 2
	f := newFixture(t, net, p)

	res, err := f.exec.SignAndExecute(context.Background(), transferTx(t))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Len(t, net.submitted, 3)
	assert.Contains(t, res.ErrorMessage, "connection refused")
}

func TestSignAndExecute_DuplicateAfterLostSubmitPollsReceipt(t *testing.T) {
	net := &fakeNetwork{
		submitErrs: []error{context.DeadlineExceeded},
		prechecks:  []ledger.Status{ledger.StatusOK, ledger.StatusDuplicateTransaction},
		receipts:   []ledger.Receipt{{Status: ledger.StatusSuccess}},
	}
	f := newFixture(t, net, fastPolicy())

	res, err := f.exec.SignAndExecute(context.Background(), transferTx(t))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, ledger.StatusSuccess, res.Status)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 1, net.polls)
	require.Len(t, net.submitted, 2)
	assert.Equal(t, net.submitted[0].ID, net.submitted[1].ID)
}

func TestSignAndExecute_DuplicateOnFirstSubmitIsFatal(t *testing.T) {
	net := &fakeNetwork{prechecks: []ledger.Status{ledger.StatusDuplicateTransaction}}
	f := newFixture(t, net, fastPolicy())

	res, err := f.exec.SignAndExecute(context.Background(), transferTx(t))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, ledger.StatusDuplicateTransaction, res.Status)
	assert.Equal(t, 1, res.Attempts)
	assert.Zero(t, net.polls)
}

func TestSignAndExecute_GatewayRefusals(t *testing.T) {
	tests := []struct {
		name     string
		code     int
		attempts int
	}{
		{"unauthorized", 401, 1},
		{"bad request", 400, 1},
		{"request timeout", 408, 4},
		{"rate limited", 429, 4},
		{"server error", 502, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			net := &fakeNetwork{submitErr: &client.StatusError{StatusCode: tt.code, Body: "nope"}}
			f := newFixture(t, net, fastPolicy())

			res, err := f.exec.SignAndExecute(context.Background(), transferTx(t))
			require.NoError(t, err)
			assert.False(t, res.Success)
			assert.Len(t, net.submitted, tt.attempts)
			assert.Contains(t, res.ErrorMessage, fmt.Sprintf("status %d", tt.code))
		})
	}
}

func TestSignAndExecute_ReceiptRefusalIsFatal(t *testing.T) {
	net := &fakeNetwork{receiptErr: &client.StatusError{StatusCode: 401, Body: "invalid signature"}}
	f := newFixture(t, net, fastPolicy())

	res, err := f.exec.SignAndExecute(context.Background(), transferTx(t))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1, net.polls)
	assert.Contains(t, res.ErrorMessage, "receipt query refused")
}

// runWithin fails the test when fn does not return in time.
func runWithin(t *testing.T, d time.Duration, fn func() (TransactionResult, error)) (TransactionResult, error) {
	t.Helper()
	type outcome struct {
		res TransactionResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := fn()
		done <- outcome{res, err}
	}()
	select {
	case o := <-done:
		return o.res, o.err
	case <-time.After(d):
		t.Fatal("executor did not return after cancellation")
		return TransactionResult{}, nil
	}
}

func TestSignAndExecute_CancelWhileWaitingToRetry(t *testing.T) {
	net := &fakeNetwork{prechecks: []ledger.Status{ledger.StatusBusy}}
	p := fastPolicy()
	p.RetryDelay = time.Hour
	f := newFixture(t, net, p)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	res, err := runWithin(t, 5*time.Second, func() (TransactionResult, error) {
		return f.exec.SignAndExecute(ctx, transferTx(t))
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 1, res.Attempts)
	assert.Contains(t, res.ErrorMessage, "cancelled while waiting to retry")
}

func TestSignAndExecute_CancelWhilePolling(t *testing.T) {
	net := &fakeNetwork{receipts: []ledger.Receipt{{Status: ledger.StatusUnknown}}}
	p := fastPolicy()
	p.PollAttempts = 5
	p.PollInterval = time.Hour
	f := newFixture(t, net, p)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	res, err := runWithin(t, 5*time.Second, func() (TransactionResult, error) {
		return f.exec.SignAndExecute(ctx, transferTx(t))
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1, net.polls)
	assert.Contains(t, res.ErrorMessage, "receipt polling cancelled")
	assert.Zero(t, f.logs.FilterMessage("retrying transaction").Len())
}

func TestSignAndExecute_Misuse(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakeNetwork{}, fastPolicy())

	_, err := f.exec.SignAndExecute(ctx, nil)
	assert.True(t, errors.Is(err, errs.ErrValidation))

	_, err = f.exec.SignAndExecuteWith(ctx, transferTx(t), nil)
	assert.True(t, errors.Is(err, errs.ErrValidation))

	signed := transferTx(t)
	require.NoError(t, signed.Freeze("0.0.2", "0.0.3", time.Now()))
	signed.AddSignature("aa", "ED25519", []byte{1})
	_, err = f.exec.SignAndExecute(ctx, signed)
	assert.True(t, errors.Is(err, errs.ErrState))

	_, err = f.exec.SignAndExecuteWith(ctx, transferTx(t), []string{"kr_00000000000000000000000000000000"})
	assert.True(t, errors.Is(err, errs.ErrNotFound))
	assert.Empty(t, f.net.submitted)

	noOp, err := New(Config{Network: f.net, Keys: f.km, NodeAccountID: "0.0.3", Policy: fastPolicy()})
	require.NoError(t, err)
	_, err = noOp.SignAndExecute(ctx, transferTx(t))
	assert.True(t, errors.Is(err, errs.ErrState))
	_, err = noOp.SignAndExecuteWith(ctx, transferTx(t), []string{f.operator.KeyRefID})
	assert.True(t, errors.Is(err, errs.ErrState))
}

func TestPolicySchedule(t *testing.T) {
	p := Policy{MaxRetries: 3, RetryDelay: 10 * time.Millisecond, Backoff: BackoffExponential}
	s := p.schedule()
	assert.Equal(t, 10*time.Millisecond, s.NextBackOff())
	assert.Equal(t, 20*time.Millisecond, s.NextBackOff())
	assert.Equal(t, 40*time.Millisecond, s.NextBackOff())
	assert.Equal(t, backoff.Stop, s.NextBackOff())

	p.Backoff = BackoffConstant
	s = p.schedule()
	assert.Equal(t, 10*time.Millisecond, s.NextBackOff())
	assert.Equal(t, 10*time.Millisecond, s.NextBackOff())

	p.Backoff = "linear"
	assert.True(t, errors.Is(p.Validate(), errs.ErrValidation))
}
