// Command seed registers a demo owner with an API key and funded accounts.
//
//	go run ./cmd/seed -first Asha -last Rao -accounts 2 -balance 5000
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/shopspring/decimal"

	"github.com/chatrapathi4/bluebank/internal/adapter/storage"
	"github.com/chatrapathi4/bluebank/internal/core/config"
	"github.com/chatrapathi4/bluebank/internal/core/domain"
	"github.com/chatrapathi4/bluebank/internal/core/onboarding"
	"github.com/chatrapathi4/bluebank/internal/core/transfer"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	first := flag.String("first", "Demo", "owner first name")
	last := flag.String("last", "User", "owner last name")
	accounts := flag.Int("accounts", 2, "accounts to open")
	balance := flag.String("balance", "1000", "opening deposit per account")
	ifsc := flag.String("ifsc", onboarding.DefaultIFSC, "branch code for new accounts")
	flag.Parse()

	opening, err := decimal.NewFromString(*balance)
	if err != nil {
		slog.Error("❌ Invalid -balance", "value", *balance, "error", err)
		os.Exit(2)
	}

	cfg := config.LoadConfig()
	if cfg.Storage == config.StorageMemory {
		slog.Error("❌ Seeding needs a persistent store; unset STORAGE=memory")
		os.Exit(2)
	}

	ctx := context.Background()
	backend, err := storage.Open(ctx, storage.Options{
		Kind:        cfg.Storage,
		DatabaseURL: cfg.DatabaseURL,
		LockTimeout: cfg.LockTimeout,
		AutoMigrate: cfg.AutoMigrate,
	})
	if err != nil {
		slog.Error("❌ Storage initialization failed", "error", err)
		os.Exit(1)
	}
	defer backend.Close()

	if err := seed(ctx, backend, *first, *last, *accounts, opening, *ifsc, cfg); err != nil {
		slog.Error("❌ Seeding failed", "error", err)
		backend.Close()
		os.Exit(1)
	}
}

func seed(ctx context.Context, backend *storage.Backend, first, last string, accounts int, opening decimal.Decimal, ifsc string, cfg *config.Config) error {
	o := onboarding.New(backend.Directory)
	engine := transfer.NewEngine(backend.Store, transfer.Config{
		Limit:             cfg.TransferLimit,
		LockTimeout:       cfg.LockTimeout,
		IdempotencyTTL:    cfg.IdempotencyTTL,
		ReferenceAttempts: cfg.ReferenceAttempts,
	})

	owner, key, err := o.Register(ctx, first, last)
	if err != nil {
		return err
	}
	fmt.Printf("user_id=%d\napi_key=%s\n", owner, key)

	for i := 0; i < accounts; i++ {
		acc, err := o.OpenAccount(ctx, owner, ifsc)
		if err != nil {
			return err
		}
		funded := decimal.Zero
		if opening.IsPositive() {
			if _, err := engine.Deposit(ctx, owner, transfer.PostingRequest{
				AccountID:   acc.ID,
				Amount:      opening,
				Description: "Opening deposit",
			}); err != nil {
				return fmt.Errorf("fund account %s: %w", acc.AccountNumber, err)
			}
			funded = opening
		}
		fmt.Printf("account_id=%d account_number=%s balance=%s\n", acc.ID, acc.AccountNumber, domain.FormatAmount(funded))
	}
	return nil
}
