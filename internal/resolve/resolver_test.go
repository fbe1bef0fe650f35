package resolve

import (
	"context"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xueqianLu/ledgerctl/internal/alias"
	"github.com/xueqianLu/ledgerctl/internal/errs"
	"github.com/xueqianLu/ledgerctl/internal/signer"
)

const (
	network = "testnet"
	edSeed  = "9d61b19deffd5a60ba844af492ec2cc44449c5697b326919703bac031cae7f60"
	edPub   = "d75a980182b10ab7d54bfed3c964073a0ee172f3daa62325af021a68f707511a"
	edDER   = "302e020100300506032b657004220420" + edSeed
)

type fakeMirror struct {
	byKey   map[string]string
	keyOf   map[string]string
	lookups int
}

func (m *fakeMirror) AccountByPublicKey(_ context.Context, pub string) (string, error) {
	m.lookups++
	if id, ok := m.byKey[strings.ToLower(pub)]; ok {
		return id, nil
	}
	return "", errs.NotFound("no account for key")
}

func (m *fakeMirror) AccountKey(_ context.Context, accountID string) (string, error) {
	if k, ok := m.keyOf[accountID]; ok {
		return k, nil
	}
	return "", errs.NotFound("account %s not found", accountID)
}

type fixture struct {
	km      *signer.KeyManager
	aliases *alias.Memory
	mirror  *fakeMirror
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	local, err := signer.NewLocalBackend(t.TempDir(), nil)
	require.NoError(t, err)
	km, err := signer.NewKeyManager(signer.NewMemoryIndex(), nil, local)
	require.NoError(t, err)
	return &fixture{
		km:      km,
		aliases: alias.NewMemory(),
		mirror:  &fakeMirror{byKey: map[string]string{}, keyOf: map[string]string{}},
	}
}

func (f *fixture) resolver(cfg Config) *Resolver {
	return New(f.km, f.aliases, f.mirror, cfg, nil)
}

func TestGetOrInitKey_RawPair(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.resolver(Config{})

	input := "0.0.9999:" + strings.Repeat("deadbeef", 8)
	got, err := r.GetOrInitKey(ctx, input, Options{Backend: signer.BackendLocal, Labels: []string{"token:admin"}, Network: network})
	require.NoError(t, err)
	assert.Equal(t, "0.0.9999", got.AccountID)
	assert.Equal(t, signer.AlgECDSA, got.Algorithm)
	assert.NotEmpty(t, got.KeyRefID)
	assert.NotEmpty(t, got.PublicKey)

	cred, err := f.km.Get(ctx, got.KeyRefID)
	require.NoError(t, err)
	assert.True(t, cred.HasLabel("token:admin"))
	assert.Equal(t, cred.PublicKey, got.PublicKey)

	again, err := r.GetOrInitKey(ctx, input, Options{Network: network})
	require.NoError(t, err)
	assert.Equal(t, got.KeyRefID, again.KeyRefID, "importing the same key twice reuses the credential")
}

func TestGetOrInitKey_TreasuryAlias(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cred, err := f.km.Generate(ctx, signer.AlgED25519, signer.BackendLocal, nil)
	require.NoError(t, err)
	require.NoError(t, f.aliases.Register(ctx, alias.Record{
		Alias: "treasury", Type: alias.TypeAccount, Network: network, EntityID: "0.0.100", KeyRefID: cred.KeyRefID,
	}))

	r := f.resolver(Config{})
	got, err := r.GetOrInitKey(ctx, "treasury", Options{Network: network})
	require.NoError(t, err)
	assert.Equal(t, "0.0.100", got.AccountID)
	assert.Equal(t, cred.KeyRefID, got.KeyRefID)

	// stable across calls
	again, err := r.GetOrInitKey(ctx, "treasury", Options{Network: network})
	require.NoError(t, err)
	assert.Equal(t, got, again)

	_, err = r.GetOrInitKey(ctx, "treasury", Options{Network: "mainnet"})
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}

func TestGetOrInitKey_Errors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.aliases.Register(ctx, alias.Record{
		Alias: "watcher", Type: alias.TypeAccount, Network: network, EntityID: "0.0.7",
	}))
	r := f.resolver(Config{})

	cases := []struct {
		input string
		want  error
	}{
		{"", errs.ErrValidation},
		{"treasury:" + strings.Repeat("ab", 32), errs.ErrValidation},
		{"0.0.1:xyz", errs.ErrValidation},
		{"0.0.1:cafe", errs.ErrValidation},
		{"ghost", errs.ErrNotFound},
		{"kr_00000000000000000000000000000000", errs.ErrNotFound},
		{"watcher", errs.ErrState},
		{"!!", errs.ErrValidation},
	}
	for _, tc := range cases {
		_, err := r.GetOrInitKey(ctx, tc.input, Options{Network: network})
		assert.True(t, errors.Is(err, tc.want), "%q: %v", tc.input, err)
	}

	creds, err := f.km.List(ctx, signer.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, creds, "failed resolutions must not store anything")
}

func TestGetOrInitKey_KeyRefWinsOverAlias(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	mine, err := f.km.Generate(ctx, signer.AlgECDSA, signer.BackendLocal, nil)
	require.NoError(t, err)
	other, err := f.km.Generate(ctx, signer.AlgECDSA, signer.BackendLocal, nil)
	require.NoError(t, err)

	// an alias spelled exactly like the keyRefId
	require.NoError(t, f.aliases.Register(ctx, alias.Record{
		Alias: mine.KeyRefID, Type: alias.TypeAccount, Network: network, EntityID: "0.0.555", KeyRefID: other.KeyRefID,
	}))

	got, err := f.resolver(Config{}).GetOrInitKey(ctx, mine.KeyRefID, Options{Network: network})
	require.NoError(t, err)
	assert.Equal(t, mine.KeyRefID, got.KeyRefID)
	assert.Equal(t, mine.PublicKey, got.PublicKey)
}

func TestGetOrInitKey_KeyRefAccount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cred, err := f.km.Store(ctx, edSeed, signer.AlgED25519, signer.BackendLocal, nil)
	require.NoError(t, err)
	r := f.resolver(Config{})

	// mirror knows the key
	f.mirror.byKey[edPub] = "0.0.4242"
	got, err := r.GetOrInitKey(ctx, cred.KeyRefID, Options{Network: network})
	require.NoError(t, err)
	assert.Equal(t, "0.0.4242", got.AccountID)

	// an account alias referencing the key takes precedence over the mirror
	require.NoError(t, f.aliases.Register(ctx, alias.Record{
		Alias: "ops", Type: alias.TypeAccount, Network: network, EntityID: "0.0.77", KeyRefID: cred.KeyRefID,
	}))
	lookups := f.mirror.lookups
	got, err = r.GetOrInitKey(ctx, cred.KeyRefID, Options{Network: network})
	require.NoError(t, err)
	assert.Equal(t, "0.0.77", got.AccountID)
	assert.Equal(t, lookups, f.mirror.lookups)
}

func TestGetOrInitKey_BareDERKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.mirror.byKey[edPub] = "0.0.1500"

	got, err := f.resolver(Config{DefaultAlgorithm: signer.AlgECDSA}).GetOrInitKey(ctx, edDER, Options{Network: network})
	require.NoError(t, err)
	assert.Equal(t, signer.AlgED25519, got.Algorithm)
	assert.Equal(t, edPub, got.PublicKey)
	assert.Equal(t, "0.0.1500", got.AccountID)

	// no mirror account: the key resolves without one
	f.mirror.byKey = map[string]string{}
	got, err = f.resolver(Config{}).GetOrInitKey(ctx, "0x"+strings.Repeat("11", 32), Options{Network: network})
	require.NoError(t, err)
	assert.Empty(t, got.AccountID)
	assert.True(t, errors.Is(got.RequireAccount(), errs.ErrState))
}

func TestGetOrInitKey_VerifyAccountKeys(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.mirror.keyOf["0.0.1001"] = strings.Repeat("00", 32)
	r := f.resolver(Config{VerifyAccountKeys: true})

	_, err := r.GetOrInitKey(ctx, "0.0.1001:"+edDER, Options{Network: network})
	assert.True(t, errors.Is(err, errs.ErrValidation))
	creds, err := f.km.List(ctx, signer.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, creds)

	f.mirror.keyOf["0.0.1001"] = strings.ToUpper(edPub)
	got, err := r.GetOrInitKey(ctx, "0.0.1001:"+edDER, Options{Network: network})
	require.NoError(t, err)
	assert.Equal(t, "0.0.1001", got.AccountID)
}

func TestGetOrInitKeyWithFallback(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	stored, err := f.km.Generate(ctx, signer.AlgECDSA, signer.BackendLocal, nil)
	require.NoError(t, err)

	r := f.resolver(Config{Operators: map[string]Operator{
		network:      {AccountID: "0.0.2", PrivateKey: edDER},
		"previewnet": {AccountID: "0.0.3", KeyRefID: stored.KeyRefID},
	}})

	got, err := r.GetOrInitKeyWithFallback(ctx, "", Options{Network: network})
	require.NoError(t, err)
	assert.Equal(t, "0.0.2", got.AccountID)
	assert.Equal(t, edPub, got.PublicKey)

	got, err = r.GetOrInitKeyWithFallback(ctx, "  ", Options{Network: "previewnet"})
	require.NoError(t, err)
	assert.Equal(t, "0.0.3", got.AccountID)
	assert.Equal(t, stored.KeyRefID, got.KeyRefID)

	_, err = r.GetOrInitKeyWithFallback(ctx, "", Options{Network: "mainnet"})
	assert.True(t, errors.Is(err, errs.ErrState))

	// explicit input wins over the operator
	got, err = r.GetOrInitKeyWithFallback(ctx, stored.KeyRefID, Options{Network: network})
	require.NoError(t, err)
	assert.Equal(t, stored.KeyRefID, got.KeyRefID)
}
