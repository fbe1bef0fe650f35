package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xueqianLu/ledgerctl/internal/alias"
	"github.com/xueqianLu/ledgerctl/internal/errs"
)

func TestAliasRepo_RegisterResolve(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAliasRepo(db)
	ctx := context.Background()

	rec := alias.Record{Alias: "treasury", Type: alias.TypeAccount, Network: "testnet", EntityID: "0.0.100", KeyRefID: "kr_0123456789abcdef"}
	require.NoError(t, repo.Register(ctx, rec))

	got, err := repo.Resolve(ctx, "treasury", alias.TypeAccount, "testnet")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "0.0.100", got.EntityID)
	assert.Equal(t, "kr_0123456789abcdef", got.KeyRefID)

	got, err = repo.Resolve(ctx, "treasury", alias.TypeTopic, "testnet")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = repo.Resolve(ctx, "nobody", "", "testnet")
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.True(t, errors.Is(repo.Register(ctx, rec), errs.ErrState))
	assert.True(t, errors.Is(repo.AvailableOrThrow(ctx, "treasury", "testnet"), errs.ErrState))
	assert.NoError(t, repo.AvailableOrThrow(ctx, "treasury", "mainnet"))

	rec.Alias = "9lives"
	assert.True(t, errors.Is(repo.Register(ctx, rec), errs.ErrValidation))
}

func TestAliasRepo_ListAndReferences(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAliasRepo(db)
	ctx := context.Background()

	require.NoError(t, repo.Register(ctx, alias.Record{Alias: "ops", Type: alias.TypeAccount, Network: "testnet", EntityID: "0.0.2", KeyRefID: "kr_aaaaaaaaaaaaaaaa"}))
	require.NoError(t, repo.Register(ctx, alias.Record{Alias: "gold", Type: alias.TypeToken, Network: "testnet", EntityID: "0.0.9"}))
	require.NoError(t, repo.Register(ctx, alias.Record{Alias: "ops", Type: alias.TypeAccount, Network: "mainnet", EntityID: "0.0.8", KeyRefID: "kr_aaaaaaaaaaaaaaaa"}))

	testnet, err := repo.List(ctx, alias.Filter{Network: "testnet"})
	require.NoError(t, err)
	require.Len(t, testnet, 2)
	assert.Equal(t, "gold", testnet[0].Alias)

	tokens, err := repo.List(ctx, alias.Filter{Type: alias.TypeToken})
	require.NoError(t, err)
	assert.Len(t, tokens, 1)

	byKey, err := repo.ByKeyRef(ctx, "kr_aaaaaaaaaaaaaaaa", "mainnet")
	require.NoError(t, err)
	require.Len(t, byKey, 1)
	assert.Equal(t, "0.0.8", byKey[0].EntityID)

	refs, err := repo.KeyRefReferences(ctx, "kr_aaaaaaaaaaaaaaaa")
	require.NoError(t, err)
	assert.Equal(t, []string{"mainnet/ops", "testnet/ops"}, refs)

	require.NoError(t, repo.Remove(ctx, "ops", "mainnet"))
	assert.True(t, errors.Is(repo.Remove(ctx, "ops", "mainnet"), errs.ErrNotFound))
}

func TestOpen_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "ledgerctl.db")
	ctx := context.Background()

	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, NewAliasRepo(db).Register(ctx, alias.Record{Alias: "ops", Type: alias.TypeAccount, Network: "testnet", EntityID: "0.0.2"}))
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()
	got, err := NewAliasRepo(db).Resolve(ctx, "ops", "", "testnet")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "0.0.2", got.EntityID)
}
