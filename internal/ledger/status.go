package ledger

// Status is a network response or receipt code.
type Status string

const (
	StatusOK                         Status = "OK"
	StatusSuccess                    Status = "SUCCESS"
	StatusUnknown                    Status = "UNKNOWN"
	StatusReceiptNotFound            Status = "RECEIPT_NOT_FOUND"
	StatusBusy                       Status = "BUSY"
	StatusPlatformNotCreated         Status = "PLATFORM_TRANSACTION_NOT_CREATED"
	StatusThrottledAtConsensus       Status = "THROTTLED_AT_CONSENSUS"
	StatusInvalidSignature           Status = "INVALID_SIGNATURE"
	StatusInsufficientPayerBalance   Status = "INSUFFICIENT_PAYER_BALANCE"
	StatusInsufficientAccountBalance Status = "INSUFFICIENT_ACCOUNT_BALANCE"
	StatusInvalidAccountID           Status = "INVALID_ACCOUNT_ID"
	StatusInvalidTopicID             Status = "INVALID_TOPIC_ID"
	StatusInvalidTransactionBody     Status = "INVALID_TRANSACTION_BODY"
	StatusInvalidAccountAmounts      Status = "INVALID_ACCOUNT_AMOUNTS"
	StatusDuplicateTransaction       Status = "DUPLICATE_TRANSACTION"
	StatusTransactionExpired         Status = "TRANSACTION_EXPIRED"
)

// Outcome is the execution-level meaning of a Status.
type Outcome int

const (
	OutcomeFatal Outcome = iota
	OutcomeSuccess
	OutcomePending
	OutcomeRetryable
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomePending:
		return "pending"
	case OutcomeRetryable:
		return "retryable"
	default:
		return "fatal"
	}
}

// Classify maps a status to its outcome. Anything not listed is fatal.
func Classify(s Status) Outcome {
	switch s {
	case StatusOK, StatusSuccess:
		return OutcomeSuccess
	case StatusUnknown, StatusReceiptNotFound:
		return OutcomePending
	case StatusBusy, StatusPlatformNotCreated, StatusThrottledAtConsensus:
		return OutcomeRetryable
	default:
		return OutcomeFatal
	}
}
