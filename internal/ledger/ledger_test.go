package ledger

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xueqianLu/ledgerctl/internal/errs"
)

func TestParseEntityID(t *testing.T) {
	id, err := ParseEntityID("0.0.1001")
	require.NoError(t, err)
	assert.Equal(t, EntityID{Num: 1001}, id)
	assert.Equal(t, "0.0.1001", id.String())

	for _, bad := range []string{"", "0.0", "0.0.x", "a.b.c", "0.0.1.2", " 0.0.1"} {
		_, err := ParseEntityID(bad)
		assert.True(t, errors.Is(err, errs.ErrValidation), bad)
	}
}

func TestTransactionIDText(t *testing.T) {
	id := TransactionID{AccountID: "0.0.2", ValidStart: time.Unix(1700000000, 123).UTC()}
	assert.Equal(t, "0.0.2@1700000000.000000123", id.String())

	parsed, err := ParseTransactionID(id.String())
	require.NoError(t, err)
	assert.True(t, id.ValidStart.Equal(parsed.ValidStart))
	assert.Equal(t, id.AccountID, parsed.AccountID)

	_, err = ParseTransactionID("0.0.2-1700000000")
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	cases := map[Status]Outcome{
		StatusSuccess:                    OutcomeSuccess,
		StatusOK:                         OutcomeSuccess,
		StatusUnknown:                    OutcomePending,
		StatusReceiptNotFound:            OutcomePending,
		StatusBusy:                       OutcomeRetryable,
		StatusPlatformNotCreated:         OutcomeRetryable,
		StatusThrottledAtConsensus:       OutcomeRetryable,
		StatusInsufficientPayerBalance:   OutcomeFatal,
		StatusInsufficientAccountBalance: OutcomeFatal,
		StatusInvalidSignature:           OutcomeFatal,
		Status("SOMETHING_NEW"):          OutcomeFatal,
	}
	for status, want := range cases {
		assert.Equal(t, want, Classify(status), status)
	}
}

func frozenTransfer(t *testing.T) *Transaction {
	t.Helper()
	tx, err := New(NewTransfer("0.0.1001", "0.0.1002", 10))
	require.NoError(t, err)
	require.NoError(t, tx.Freeze("0.0.2", "0.0.3", time.Unix(1700000000, 0)))
	return tx
}

func TestBodyBytesExcludeSignatures(t *testing.T) {
	tx := frozenTransfer(t)
	before, err := tx.BodyBytes()
	require.NoError(t, err)

	tx.AddSignature("AB", "ED25519", []byte{1, 2, 3})
	after, err := tx.BodyBytes()
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.True(t, tx.SignedBy("ab"))

	tx.Memo = "changed"
	changed, err := tx.BodyBytes()
	require.NoError(t, err)
	assert.NotEqual(t, before, changed)
}

func TestFreeze(t *testing.T) {
	tx, err := New(TopicCreate{Memo: "news"})
	require.NoError(t, err)

	_, err = tx.BodyBytes()
	assert.True(t, errors.Is(err, errs.ErrState))

	err = tx.Freeze("", "0.0.3", time.Now())
	assert.True(t, errors.Is(err, errs.ErrValidation))

	require.NoError(t, tx.Freeze("0.0.2", "0.0.3", time.Unix(1, 0)))
	first := tx.ID

	// an existing id is kept
	require.NoError(t, tx.Freeze("0.0.9", "0.0.4", time.Unix(2, 0)))
	assert.Equal(t, first, tx.ID)
	assert.Equal(t, "0.0.3", tx.NodeAccountID)

	tx.AddSignature("aa", "ECDSA", []byte{1})
	err = tx.Freeze("0.0.2", "0.0.3", time.Now())
	assert.True(t, errors.Is(err, errs.ErrState))

	tx.Regenerate(time.Unix(5, 0))
	assert.False(t, tx.IsSigned())
	assert.Equal(t, int64(5), tx.ID.ValidStart.Unix())
}

func TestBodyValidation(t *testing.T) {
	_, err := New(CryptoTransfer{Transfers: []Transfer{{AccountID: "0.0.1", Amount: -5}, {AccountID: "0.0.2", Amount: 4}}})
	assert.True(t, errors.Is(err, errs.ErrValidation))

	_, err = New(TokenCreate{Name: "Gold", Symbol: "GLD", Treasury: "treasury"})
	assert.True(t, errors.Is(err, errs.ErrValidation))

	_, err = New(AccountCreate{Key: Key{Algorithm: "RSA", PublicKey: "aa"}})
	assert.True(t, errors.Is(err, errs.ErrValidation))

	_, err = New(TopicMessage{TopicID: "0.0.5", Message: make([]byte, MaxMessageSize+1)})
	assert.True(t, errors.Is(err, errs.ErrValidation))

	_, err = New(nil)
	assert.True(t, errors.Is(err, errs.ErrValidation))
}

func TestCryptoTransferValidate(t *testing.T) {
	tests := []struct {
		name      string
		transfers []Transfer
		wantErr   string
	}{
		{"balanced", []Transfer{{"0.0.1", -800}, {"0.0.2", 800}}, ""},
		{"repeated debit", []Transfer{{"0.0.1", -400}, {"0.0.1", -400}, {"0.0.2", 800}}, "more than once"},
		{"repeated credit", []Transfer{{"0.0.1", -800}, {"0.0.2", 400}, {"0.0.2", 400}}, "more than once"},
		{"min amount", []Transfer{{"0.0.1", math.MinInt64}, {"0.0.2", math.MaxInt64}, {"0.0.3", 1}}, "out of range"},
		{"overflowing credits", []Transfer{{"0.0.1", math.MaxInt64}, {"0.0.2", math.MaxInt64}, {"0.0.3", -2}}, "overflow"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CryptoTransfer{Transfers: tt.transfers}.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, errs.ErrValidation))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestTransactionJSONRoundTrip(t *testing.T) {
	tx := frozenTransfer(t)
	tx.AddSignature("aa", "ED25519", []byte{9, 9})

	raw, err := json.Marshal(tx)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"transactionId":"0.0.2@1700000000.000000000"`)

	var decoded Transaction
	require.NoError(t, json.Unmarshal(raw, &decoded))
	want, err := tx.BodyBytes()
	require.NoError(t, err)
	got, err := decoded.BodyBytes()
	require.NoError(t, err)
	assert.Equal(t, want, got)

	body, err := decoded.DecodeBody()
	require.NoError(t, err)
	transfer, ok := body.(CryptoTransfer)
	require.True(t, ok)
	assert.Equal(t, int64(10), transfer.Transfers[1].Amount)
}
