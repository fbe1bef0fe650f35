package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xueqianLu/ledgerctl/internal/devnet"
	"github.com/xueqianLu/ledgerctl/internal/errs"
	"github.com/xueqianLu/ledgerctl/internal/ledger"
	"github.com/xueqianLu/ledgerctl/internal/middleware"
	"github.com/xueqianLu/ledgerctl/internal/server"
	"github.com/xueqianLu/ledgerctl/internal/signer"
)

const operatorKey = "9d61b19deffd5a60ba844af492ec2cc44449c5697b326919703bac031cae7f60"

type env struct {
	t       *testing.T
	cfgPath string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("LEDGERCTL_HOME", dir)
	t.Chdir(dir)

	pub, alg, err := signer.DerivePublicKey(operatorKey, signer.AlgED25519)
	require.NoError(t, err)
	l := devnet.New(devnet.Config{
		TreasuryKey:    ledger.Key{Algorithm: string(alg), PublicKey: pub},
		InitialBalance: 1_000_000_000,
	}, nil)
	srv := httptest.NewServer(server.Routes(l, middleware.NewAuthMiddleware("k", "s", nil)))
	t.Cleanup(srv.Close)

	cfg := fmt.Sprintf(`
network: devnet
networks:
  devnet:
    gateway_url: %[1]s
    mirror_url: %[1]s
    api_key: k
    api_secret: s
    node_account_id: 0.0.3
    operator:
      account_id: 0.0.2
      private_key: %[2]s
key_manager:
  local:
    key_dir: %[3]s
state:
  driver: sqlite
  path: %[4]s
execution:
  retry_delay: 1ms
  poll_interval: 1ms
resolver:
  default_algorithm: ED25519
mirror:
  rate_per_second: 0
`, srv.URL, operatorKey, filepath.Join(dir, "keys"), filepath.Join(dir, "state.db"))
	path := filepath.Join(dir, "ledgerctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return &env{t: t, cfgPath: path}
}

func (e *env) run(args ...string) (map[string]interface{}, error) {
	e.t.Helper()
	var out bytes.Buffer
	err := Execute(context.Background(), append([]string{"--config", e.cfgPath, "--json"}, args...), &out)
	if out.Len() == 0 {
		return nil, err
	}
	var doc map[string]interface{}
	require.NoError(e.t, json.Unmarshal(out.Bytes(), &doc), out.String())
	return doc, err
}

func (e *env) runList(args ...string) []map[string]interface{} {
	e.t.Helper()
	var out bytes.Buffer
	require.NoError(e.t, Execute(context.Background(), append([]string{"--config", e.cfgPath, "--json"}, args...), &out))
	var docs []map[string]interface{}
	require.NoError(e.t, json.Unmarshal(out.Bytes(), &docs), out.String())
	return docs
}

func result(doc map[string]interface{}) map[string]interface{} {
	r, _ := doc["result"].(map[string]interface{})
	return r
}

func TestCLI_AccountLifecycle(t *testing.T) {
	e := newEnv(t)

	doc, err := e.run("account", "create", "--alias", "alice", "--balance", "5000")
	require.NoError(t, err)
	assert.Equal(t, true, result(doc)["success"])
	assert.Equal(t, "0.0.1001", result(doc)["accountId"])
	aliceKey, _ := doc["keyRefId"].(string)
	require.True(t, signer.IsKeyRefID(aliceKey), aliceKey)

	doc, err = e.run("transfer", "--from", "alice", "--to", "0.0.2", "--amount", "100")
	require.NoError(t, err)
	assert.Equal(t, true, result(doc)["success"])
	assert.Equal(t, "0.0.1001", doc["from"])

	doc, err = e.run("account", "view", "alice")
	require.NoError(t, err)
	assert.Equal(t, "0.0.1001", doc["account"])
	assert.EqualValues(t, 4900, doc["balance"].(map[string]interface{})["balance"])

	aliases := e.runList("alias", "list", "--type", "account")
	require.Len(t, aliases, 1)
	assert.Equal(t, "alice", aliases[0]["alias"])
	assert.Equal(t, aliceKey, aliases[0]["keyRefId"])

	keys := e.runList("keys", "list", "--label", labelAccountKey)
	require.Len(t, keys, 1)
	assert.Equal(t, aliceKey, keys[0]["keyRefId"])

	// the alias still references the key
	_, err = e.run("keys", "remove", aliceKey)
	assert.True(t, errors.Is(err, errs.ErrState), "got %v", err)

	_, err = e.run("alias", "remove", "alice")
	require.NoError(t, err)
	_, err = e.run("keys", "remove", aliceKey)
	require.NoError(t, err)
	_, err = e.run("keys", "public-key", aliceKey)
	assert.Equal(t, 3, errs.ExitCode(err))
}

func TestCLI_TopicWithSubmitKey(t *testing.T) {
	e := newEnv(t)

	doc, err := e.run("keys", "generate", "--algorithm", "ECDSA", "--label", "topic:submit")
	require.NoError(t, err)
	submitKey, _ := doc["keyRefId"].(string)
	require.NotEmpty(t, submitKey)

	doc, err = e.run("topic", "create", "--alias", "news", "--submit-key", submitKey)
	require.NoError(t, err)
	topicID, _ := result(doc)["topicId"].(string)
	require.NotEmpty(t, topicID)

	// the submit key comes from the alias
	doc, err = e.run("topic", "submit", "news", "hello")
	require.NoError(t, err)
	assert.Equal(t, "1", doc["sequence"])

	// without it the ledger rejects the message
	doc, err = e.run("topic", "submit", topicID, "hello")
	assert.True(t, errors.Is(err, errs.ErrFatal), "got %v", err)
	assert.Equal(t, false, result(doc)["success"])
	assert.Equal(t, string(ledger.StatusInvalidSignature), result(doc)["status"])
}

func TestCLI_TokenAndContract(t *testing.T) {
	e := newEnv(t)

	doc, err := e.run("keys", "generate", "--label", "token:admin")
	require.NoError(t, err)
	admin, _ := doc["keyRefId"].(string)

	doc, err = e.run("token", "create", "--name", "Gold", "--symbol", "GLD", "--supply", "1000", "--admin-key", admin, "--alias", "gold")
	require.NoError(t, err)
	assert.Equal(t, true, result(doc)["success"])
	assert.NotEmpty(t, result(doc)["tokenId"])
	assert.Equal(t, "0.0.2", doc["treasury"])

	code := filepath.Join(t.TempDir(), "contract.hex")
	require.NoError(t, os.WriteFile(code, []byte("6080604052\n"), 0o600))
	doc, err = e.run("contract", "create", "--bytecode-file", code, "--admin-key", admin)
	require.NoError(t, err)
	assert.NotEmpty(t, result(doc)["contractId"])
}

func TestCLI_KeysImportReusesCredential(t *testing.T) {
	e := newEnv(t)

	first, err := e.run("keys", "import", "0.0.2:"+operatorKey)
	require.NoError(t, err)
	assert.Equal(t, "0.0.2", first["accountId"])

	// a bare key finds its account through the mirror
	second, err := e.run("keys", "import", operatorKey, "--alias", "treasury")
	require.NoError(t, err)
	assert.Equal(t, first["keyRefId"], second["keyRefId"])
	assert.Equal(t, "0.0.2", second["accountId"])

	doc, err := e.run("account", "create", "--key", "treasury")
	require.NoError(t, err)
	assert.Equal(t, first["keyRefId"], doc["keyRefId"])
}

func TestCLI_Errors(t *testing.T) {
	e := newEnv(t)

	tests := []struct {
		name string
		args []string
		code int
	}{
		{"unknown alias", []string{"transfer", "--to", "bob", "--amount", "1"}, 3},
		{"self transfer", []string{"transfer", "--to", "0.0.2", "--amount", "1"}, 2},
		{"bad amount", []string{"transfer", "--to", "0.0.5", "--amount", "0"}, 2},
		{"malformed pair", []string{"keys", "import", "alice:deadbeef"}, 2},
		{"unknown network", []string{"--network", "mainnet", "keys", "list"}, 2},
		{"ledger rejection", []string{"transfer", "--to", "0.0.4040", "--amount", "1"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.run(tt.args...)
			require.Error(t, err)
			assert.Equal(t, tt.code, errs.ExitCode(err), "got %v", err)
		})
	}
}

func TestPrintError(t *testing.T) {
	var buf bytes.Buffer
	PrintError(&buf, errs.WithHint(errs.NotFound("alias %q not found", "bob"), "list known aliases"))
	out := buf.String()
	assert.True(t, strings.Contains(out, `alias "bob" not found`), out)
	assert.Contains(t, out, "list known aliases")
}
