package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xueqianLu/ledgerctl/internal/alias"
	"github.com/xueqianLu/ledgerctl/internal/errs"
	"github.com/xueqianLu/ledgerctl/internal/signer"
)

func makeCredential(id string, created time.Time) signer.Credential {
	return signer.Credential{
		KeyRefID:  id,
		Algorithm: signer.AlgED25519,
		PublicKey: "d75a980182b10ab7d54bfed3c964073a0ee172f3daa62325af021a68f707511a",
		Backend:   signer.BackendLocal,
		Handle:    "0123456789abcdef0123456789abcdef",
		Labels:    []string{"token:admin"},
		CreatedAt: created,
	}
}

func TestCredentialRepo_PutGet(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCredentialRepo(db)
	ctx := context.Background()

	created := time.Date(2024, 5, 1, 12, 0, 0, 123, time.UTC)
	want := makeCredential("kr_00000000000000000000000000000001", created)
	require.NoError(t, repo.Put(ctx, want))

	got, err := repo.Get(ctx, want.KeyRefID)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	err = repo.Put(ctx, want)
	assert.True(t, errors.Is(err, errs.ErrState))
}

func TestCredentialRepo_DeleteAndNotFound(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCredentialRepo(db)
	ctx := context.Background()

	cred := makeCredential("kr_00000000000000000000000000000002", time.Now())
	require.NoError(t, repo.Put(ctx, cred))
	require.NoError(t, repo.Delete(ctx, cred.KeyRefID))

	_, err := repo.Get(ctx, cred.KeyRefID)
	assert.True(t, errors.Is(err, errs.ErrNotFound))
	assert.True(t, errors.Is(repo.Delete(ctx, cred.KeyRefID), errs.ErrNotFound))
}

func TestCredentialRepo_ListOrdered(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCredentialRepo(db)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Put(ctx, makeCredential("kr_bbbbbbbbbbbbbbbb", base.Add(time.Hour))))
	require.NoError(t, repo.Put(ctx, makeCredential("kr_aaaaaaaaaaaaaaaa", base)))

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "kr_aaaaaaaaaaaaaaaa", list[0].KeyRefID)
	assert.Equal(t, "kr_bbbbbbbbbbbbbbbb", list[1].KeyRefID)
}

// The key manager over the sqlite index refuses to remove keys that an alias
// still references.
func TestKeyManagerOverSQLite(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	local, err := signer.NewLocalBackend(filepath.Join(t.TempDir(), "keys"), nil)
	require.NoError(t, err)
	km, err := signer.NewKeyManager(NewCredentialRepo(db), nil, local)
	require.NoError(t, err)
	aliases := NewAliasRepo(db)
	km.SetReferenceChecker(aliases)

	cred, err := km.Generate(ctx, signer.AlgECDSA, signer.BackendLocal, []string{"token:supply"})
	require.NoError(t, err)
	require.NoError(t, aliases.Register(ctx, alias.Record{
		Alias: "supply", Type: alias.TypeKey, Network: "testnet", KeyRefID: cred.KeyRefID,
	}))

	err = km.Remove(ctx, cred.KeyRefID)
	assert.True(t, errors.Is(err, errs.ErrState))

	require.NoError(t, aliases.Remove(ctx, "supply", "testnet"))
	require.NoError(t, km.Remove(ctx, cred.KeyRefID))
	_, err = km.PublicKey(ctx, cred.KeyRefID)
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}
