package alias

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xueqianLu/ledgerctl/internal/errs"
)

type key struct{ network, alias string }

// Memory is an in-process Directory.
type Memory struct {
	mu   sync.RWMutex
	data map[key]Record
	now  func() time.Time
}

func NewMemory() *Memory {
	return &Memory{data: make(map[key]Record), now: time.Now}
}

func (m *Memory) Resolve(_ context.Context, alias string, typ Type, network string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.data[key{network, alias}]
	if !ok || (typ != "" && r.Type != typ) {
		return nil, nil
	}
	return &r, nil
}

func (m *Memory) Register(_ context.Context, rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key{rec.Network, rec.Alias}
	if _, ok := m.data[k]; ok {
		return errs.State("alias %q is already registered on %s", rec.Alias, rec.Network)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = m.now().UTC()
	}
	m.data[k] = rec
	return nil
}

func (m *Memory) Remove(_ context.Context, alias, network string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key{network, alias}
	if _, ok := m.data[k]; !ok {
		return errs.NotFound("alias %q not found on %s", alias, network)
	}
	delete(m.data, k)
	return nil
}

func (m *Memory) AvailableOrThrow(_ context.Context, alias, network string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.data[key{network, alias}]; ok {
		return errs.State("alias %q is already registered on %s", alias, network)
	}
	return nil
}

func (m *Memory) List(_ context.Context, filter Filter) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Record
	for _, r := range m.data {
		if filter.Network != "" && r.Network != filter.Network {
			continue
		}
		if filter.Type != "" && r.Type != filter.Type {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Network != out[j].Network {
			return out[i].Network < out[j].Network
		}
		return out[i].Alias < out[j].Alias
	})
	return out, nil
}

func (m *Memory) ByKeyRef(ctx context.Context, keyRefID, network string) ([]Record, error) {
	all, err := m.List(ctx, Filter{Network: network})
	if err != nil {
		return nil, err
	}
	var out []Record
	for _, r := range all {
		if r.KeyRefID == keyRefID {
			out = append(out, r)
		}
	}
	return out, nil
}

var _ Directory = (*Memory)(nil)

// KeyRefReferences lists the aliases on any network that reference keyRefID,
// as network/alias.
func (m *Memory) KeyRefReferences(ctx context.Context, keyRefID string) ([]string, error) {
	all, err := m.List(ctx, Filter{})
	if err != nil {
		return nil, err
	}
	var out []string
	for _, r := range all {
		if r.KeyRefID == keyRefID {
			out = append(out, r.Network+"/"+r.Alias)
		}
	}
	return out, nil
}
