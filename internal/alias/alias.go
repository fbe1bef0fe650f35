// Package alias maps human-readable names to ledger entity ids.
//
// The credential resolver consumes the Directory contract; persistence lives
// in the store packages.
package alias

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/xueqianLu/ledgerctl/internal/errs"
)

// Type is the kind of entity an alias points to.
type Type string

const (
	TypeAccount  Type = "account"
	TypeToken    Type = "token"
	TypeTopic    Type = "topic"
	TypeContract Type = "contract"
	TypeKey      Type = "key"
)

// ParseType validates a user-supplied type name.
func ParseType(s string) (Type, error) {
	switch t := Type(strings.ToLower(strings.TrimSpace(s))); t {
	case TypeAccount, TypeToken, TypeTopic, TypeContract, TypeKey:
		return t, nil
	}
	return "", errs.Validation("unknown alias type %q", s)
}

// Record is one alias entry. PublicKey and KeyRefID are optional.
type Record struct {
	Alias     string    `json:"alias"`
	Type      Type      `json:"type"`
	Network   string    `json:"network"`
	EntityID  string    `json:"entityId"`
	PublicKey string    `json:"publicKey,omitempty"`
	KeyRefID  string    `json:"keyRefId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Filter narrows List. Empty fields match everything.
type Filter struct {
	Network string
	Type    Type
}

// Directory is the alias resolution contract.
type Directory interface {
	// Resolve returns the record for alias on network, or nil when absent.
	// An empty typ matches any type.
	Resolve(ctx context.Context, alias string, typ Type, network string) (*Record, error)

	// Register adds rec. It fails with an ErrState-marked error when the
	// alias is already taken on that network.
	Register(ctx context.Context, rec Record) error

	// Remove deletes alias on network; ErrNotFound-marked when absent.
	Remove(ctx context.Context, alias, network string) error

	// AvailableOrThrow returns an ErrState-marked error when alias is taken.
	AvailableOrThrow(ctx context.Context, alias, network string) error

	List(ctx context.Context, filter Filter) ([]Record, error)

	// ByKeyRef returns the records on network that reference keyRefID.
	ByKeyRef(ctx context.Context, keyRefID, network string) ([]Record, error)
}

var namePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_.-]{0,63}$`)

// IsValidName reports whether s has alias syntax.
func IsValidName(s string) bool {
	return namePattern.MatchString(s)
}

// Validate checks a record before it is registered.
func (r Record) Validate() error {
	if !IsValidName(r.Alias) {
		return errs.WithHint(
			errs.Validation("invalid alias %q", r.Alias),
			"aliases start with a letter and contain letters, digits, '.', '_' or '-'",
		)
	}
	if _, err := ParseType(string(r.Type)); err != nil {
		return err
	}
	if r.Network == "" {
		return errs.Validation("alias %q has no network", r.Alias)
	}
	if r.EntityID == "" && r.Type != TypeKey {
		return errs.Validation("alias %q has no entity id", r.Alias)
	}
	return nil
}
