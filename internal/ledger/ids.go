package ledger

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/xueqianLu/ledgerctl/internal/errs"
)

var entityPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

// IsEntityID reports whether s has the shard.realm.num form.
func IsEntityID(s string) bool {
	return entityPattern.MatchString(s)
}

// EntityID is a parsed shard.realm.num identifier.
type EntityID struct {
	Shard, Realm, Num uint64
}

func ParseEntityID(s string) (EntityID, error) {
	if !IsEntityID(s) {
		return EntityID{}, errs.Validation("invalid entity id %q, expected shard.realm.num", s)
	}
	parts := strings.Split(s, ".")
	var out [3]uint64
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return EntityID{}, errs.Validation("invalid entity id %q: %v", s, err)
		}
		out[i] = n
	}
	return EntityID{Shard: out[0], Realm: out[1], Num: out[2]}, nil
}

func (e EntityID) String() string {
	return fmt.Sprintf("%d.%d.%d", e.Shard, e.Realm, e.Num)
}

// TransactionID names a transaction by its payer and the instant it becomes
// valid. It renders as "0.0.2@1700000000.000000123".
type TransactionID struct {
	AccountID  string
	ValidStart time.Time
}

func (id TransactionID) IsZero() bool {
	return id.AccountID == "" && id.ValidStart.IsZero()
}

func (id TransactionID) String() string {
	if id.IsZero() {
		return ""
	}
	return fmt.Sprintf("%s@%d.%09d", id.AccountID, id.ValidStart.Unix(), id.ValidStart.Nanosecond())
}

func ParseTransactionID(s string) (TransactionID, error) {
	account, start, ok := strings.Cut(s, "@")
	if !ok || !IsEntityID(account) {
		return TransactionID{}, errs.Validation("invalid transaction id %q", s)
	}
	secs, nanos, ok := strings.Cut(start, ".")
	if !ok {
		return TransactionID{}, errs.Validation("invalid transaction id %q", s)
	}
	sec, err := strconv.ParseInt(secs, 10, 64)
	if err != nil {
		return TransactionID{}, errs.Validation("invalid transaction id %q", s)
	}
	nsec, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil || nsec < 0 || nsec >= int64(time.Second) {
		return TransactionID{}, errs.Validation("invalid transaction id %q", s)
	}
	return TransactionID{AccountID: account, ValidStart: time.Unix(sec, nsec).UTC()}, nil
}

func (id TransactionID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *TransactionID) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*id = TransactionID{}
		return nil
	}
	parsed, err := ParseTransactionID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
