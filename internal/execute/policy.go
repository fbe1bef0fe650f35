package execute

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/xueqianLu/ledgerctl/internal/errs"
)

const (
	BackoffConstant    = "constant"
	BackoffExponential = "exponential"
)

// Policy bounds how long a transaction is retried and polled.
type Policy struct {
	MaxRetries     int
	RetryDelay     time.Duration
	Backoff        string
	MaxDelay       time.Duration
	PollAttempts   int
	PollInterval   time.Duration
	AttemptTimeout time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:     3,
		RetryDelay:     500 * time.Millisecond,
		Backoff:        BackoffExponential,
		MaxDelay:       8 * time.Second,
		PollAttempts:   10,
		PollInterval:   500 * time.Millisecond,
		AttemptTimeout: 10 * time.Second,
	}
}

func (p Policy) Validate() error {
	if p.MaxRetries < 0 {
		return errs.Validation("max retries must not be negative")
	}
	if p.PollAttempts < 1 {
		return errs.Validation("poll attempts must be at least 1")
	}
	if p.AttemptTimeout <= 0 {
		return errs.Validation("attempt timeout must be positive")
	}
	switch p.Backoff {
	case BackoffConstant, BackoffExponential:
	default:
		return errs.Validation("unknown backoff %q, expected %s or %s", p.Backoff, BackoffConstant, BackoffExponential)
	}
	return nil
}

// schedule returns the delay sequence between attempts. It stops after
// MaxRetries delays.
func (p Policy) schedule() backoff.BackOff {
	var b backoff.BackOff
	if p.Backoff == BackoffExponential {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = p.RetryDelay
		eb.RandomizationFactor = 0
		eb.Multiplier = 2
		if p.MaxDelay > 0 {
			eb.MaxInterval = p.MaxDelay
		}
		eb.MaxElapsedTime = 0
		eb.Reset()
		b = eb
	} else {
		b = backoff.NewConstantBackOff(p.RetryDelay)
	}
	return backoff.WithMaxRetries(b, uint64(p.MaxRetries))
}
