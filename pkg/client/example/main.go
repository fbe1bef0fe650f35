package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/xueqianLu/ledgerctl/internal/execute"
	"github.com/xueqianLu/ledgerctl/internal/ledger"
	"github.com/xueqianLu/ledgerctl/internal/signer"
	"github.com/xueqianLu/ledgerctl/pkg/client"
)

const (
	baseURL   = "http://localhost:5551"
	apiKey    = ""
	apiSecret = ""
)

// Run against `ledgerctl devnet serve` with TREASURY_KEY set to the devnet
// treasury private key.
func main() {
	ctx := context.Background()
	c := client.NewClient(baseURL, apiKey, apiSecret)

	// 1. Health Check
	fmt.Println("1. Performing Health Check...")
	health, err := c.Health(ctx)
	if err != nil {
		log.Fatalf("Health check failed: %v", err)
	}
	fmt.Printf("   Health status: %s\n", health)

	// 2. Import the treasury key into a throwaway key store
	dir, err := os.MkdirTemp("", "ledgerctl-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)
	local, err := signer.NewLocalBackend(dir, nil)
	if err != nil {
		log.Fatal(err)
	}
	km, err := signer.NewKeyManager(signer.NewMemoryIndex(), nil, local)
	if err != nil {
		log.Fatal(err)
	}
	treasury, err := km.Store(ctx, os.Getenv("TREASURY_KEY"), signer.AlgED25519, signer.BackendLocal, nil)
	if err != nil {
		log.Fatalf("Failed to import treasury key: %v", err)
	}
	fmt.Printf("2. Treasury key %s (%s)\n", treasury.KeyRefID, treasury.PublicKey)

	// 3. Create an account for a fresh key
	alice, err := km.Generate(ctx, signer.AlgECDSA, signer.BackendLocal, nil)
	if err != nil {
		log.Fatal(err)
	}
	exec, err := execute.New(execute.Config{
		Network:       c,
		Keys:          km,
		Operator:      execute.Operator{AccountID: "0.0.2", KeyRefID: treasury.KeyRefID},
		NodeAccountID: "0.0.3",
		Policy:        execute.DefaultPolicy(),
	})
	if err != nil {
		log.Fatal(err)
	}
	tx, err := ledger.New(ledger.AccountCreate{
		Key:            ledger.Key{Algorithm: string(alice.Algorithm), PublicKey: alice.PublicKey},
		InitialBalance: 100_000_000,
	})
	if err != nil {
		log.Fatal(err)
	}
	res, err := exec.SignAndExecute(ctx, tx)
	if err != nil {
		log.Fatalf("Account create failed: %v", err)
	}
	if !res.Success {
		log.Fatalf("Account create rejected: %s %s", res.Status, res.ErrorMessage)
	}
	fmt.Printf("3. Created account %s in %s\n", res.AccountID, res.TransactionID)

	// 4. Send some back, signed by both the payer and the sender
	transfer, err := ledger.New(ledger.NewTransfer(res.AccountID, "0.0.2", 1_000))
	if err != nil {
		log.Fatal(err)
	}
	res, err = exec.SignAndExecuteWith(ctx, transfer, []string{treasury.KeyRefID, alice.KeyRefID})
	if err != nil {
		log.Fatalf("Transfer failed: %v", err)
	}
	fmt.Printf("4. Transfer %s: %s\n", res.TransactionID, res.Status)
}
