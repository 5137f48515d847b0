// Package onboarding registers account owners, issues their API keys and
// opens accounts with collision-checked account numbers.
package onboarding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/chatrapathi4/bluebank/internal/core/domain"
	"github.com/chatrapathi4/bluebank/internal/core/security"
)

// DefaultIFSC is the branch code given to accounts opened without one.
const DefaultIFSC = "BLUE0000001"

const accountNumberAttempts = 5

type Onboarder struct {
	dir       domain.Directory
	newNumber func() (string, error)
}

func New(dir domain.Directory) *Onboarder {
	return &Onboarder{dir: dir, newNumber: domain.NewAccountNumber}
}

// Register creates an owner and returns the principal with a fresh API key.
// The key is only ever available here.
func (o *Onboarder) Register(ctx context.Context, firstName, lastName string) (domain.Principal, string, error) {
	p, err := o.dir.CreateUser(ctx, firstName, lastName)
	if err != nil {
		return 0, "", err
	}
	key, err := o.IssueKey(ctx, p)
	if err != nil {
		return 0, "", err
	}
	return p, key, nil
}

func (o *Onboarder) IssueKey(ctx context.Context, p domain.Principal) (string, error) {
	realKey, keyHash, err := security.GenerateAPIKey()
	if err != nil {
		return "", err
	}
	if err := o.dir.SaveAPIKey(ctx, p, keyHash, security.DisplayPrefix(realKey)); err != nil {
		return "", err
	}
	slog.Info("🔑 API key issued", "user_id", p, "prefix", security.DisplayPrefix(realKey))
	return realKey, nil
}

// OpenAccount opens an ACTIVE zero-balance account, drawing a new number
// whenever the store reports one already taken.
func (o *Onboarder) OpenAccount(ctx context.Context, p domain.Principal, ifsc string) (*domain.Account, error) {
	if ifsc == "" {
		ifsc = DefaultIFSC
	}
	for attempt := 1; attempt <= accountNumberAttempts; attempt++ {
		number, err := o.newNumber()
		if err != nil {
			return nil, err
		}
		acc, err := o.dir.CreateAccount(ctx, p, number, ifsc)
		if errors.Is(err, domain.ErrDuplicateAccountNumber) {
			slog.Warn("Account number collision, regenerating", "attempt", attempt)
			continue
		}
		if err != nil {
			return nil, err
		}
		slog.Info("🏦 Account opened", "user_id", p, "account_number", acc.AccountNumber)
		return acc, nil
	}
	return nil, fmt.Errorf("open account for user %d: %w", p, domain.ErrDuplicateAccountNumber)
}
