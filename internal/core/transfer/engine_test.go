package transfer

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatrapathi4/bluebank/internal/adapter/cache"
	"github.com/chatrapathi4/bluebank/internal/adapter/storage"
	"github.com/chatrapathi4/bluebank/internal/core/domain"
	"github.com/chatrapathi4/bluebank/internal/core/notifications"
)

type fixture struct {
	store  *storage.MemoryStore
	engine *Engine
	owner  domain.Principal
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	store := storage.NewMemoryStore()
	owner, err := store.CreateUser(context.Background(), "Asha", "Rao")
	require.NoError(t, err)
	return &fixture{
		store:  store,
		engine: NewEngine(store, DefaultConfig(), opts...),
		owner:  owner,
	}
}

func amt(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// open creates an account for owner funded with balance.
func (f *fixture) open(t *testing.T, owner domain.Principal, balance string) *domain.Account {
	t.Helper()
	ctx := context.Background()
	number, err := domain.NewAccountNumber()
	require.NoError(t, err)
	acc, err := f.store.CreateAccount(ctx, owner, number, "BLUE0000001")
	require.NoError(t, err)
	if b := amt(balance); b.IsPositive() {
		_, err := f.engine.Deposit(ctx, owner, PostingRequest{AccountID: acc.ID, Amount: b, Description: "opening"})
		require.NoError(t, err)
	}
	return acc
}

func (f *fixture) balance(t *testing.T, acc *domain.Account) decimal.Decimal {
	t.Helper()
	locked, err := f.store.Accounts().LockForUpdate(context.Background(), acc.ID)
	require.NoError(t, err)
	return locked[acc.ID].Balance
}

func (f *fixture) rows(t *testing.T, acc *domain.Account, kind domain.TransactionType) []*domain.Transaction {
	t.Helper()
	all, err := f.store.Ledger().ListForAccounts(context.Background(), []int64{acc.ID}, time.Time{})
	require.NoError(t, err)
	var out []*domain.Transaction
	for _, tx := range all {
		if tx.Type == kind {
			out = append(out, tx)
		}
	}
	return out
}

func TestTransfer_External(t *testing.T) {
	f := newFixture(t)
	src := f.open(t, f.owner, "500")

	res, err := f.engine.Transfer(context.Background(), f.owner, Request{
		FromAccountID:   src.ID,
		ToAccountNumber: "999999999999",
		ToIFSCCode:      "HDFC0000123",
		BeneficiaryName: "Ravi Kumar",
		Amount:          amt("200"),
		Description:     "rent",
	})
	require.NoError(t, err)

	assert.Equal(t, External, res.TransferType)
	assert.True(t, res.RemainingBalance.Equal(amt("300")))
	assert.Nil(t, res.BeneficiaryNewBalance)
	assert.Empty(t, res.BeneficiaryAccount)
	assert.Len(t, res.ReferenceNumber, 12)
	assert.True(t, f.balance(t, src).Equal(amt("300")))

	transfers := f.rows(t, src, domain.TypeTransfer)
	require.Len(t, transfers, 1)
	tx := transfers[0]
	assert.Equal(t, domain.StatusCompleted, tx.Status)
	assert.Nil(t, tx.ToAccountID)
	assert.Equal(t, "999999999999", tx.ToAccountNumber)
	assert.NotNil(t, tx.ProcessedAt)
}

func TestTransfer_Internal(t *testing.T) {
	f := newFixture(t)
	other, err := f.store.CreateUser(context.Background(), "Meera", "Iyer")
	require.NoError(t, err)
	a := f.open(t, f.owner, "500")
	b := f.open(t, other, "100")

	res, err := f.engine.Transfer(context.Background(), f.owner, Request{
		FromAccountID:   a.ID,
		ToAccountNumber: b.AccountNumber,
		Amount:          amt("200"),
		Description:     "dinner",
	})
	require.NoError(t, err)

	assert.Equal(t, Internal, res.TransferType)
	assert.True(t, res.RemainingBalance.Equal(amt("300")))
	require.NotNil(t, res.BeneficiaryNewBalance)
	assert.True(t, res.BeneficiaryNewBalance.Equal(amt("300")))
	assert.Equal(t, b.AccountNumber, res.BeneficiaryAccount)
	assert.True(t, f.balance(t, a).Equal(amt("300")))
	assert.True(t, f.balance(t, b).Equal(amt("300")))

	debits := f.rows(t, a, domain.TypeTransfer)
	require.Len(t, debits, 1)
	require.NotNil(t, debits[0].ToAccountID)
	assert.Equal(t, b.ID, *debits[0].ToAccountID)
	assert.Equal(t, domain.StatusCompleted, debits[0].Status)

	credits := f.rows(t, b, domain.TypeDeposit)
	var mirror *domain.Transaction
	for _, c := range credits {
		if c.ReferenceNumber == domain.MirrorReference(res.ReferenceNumber) {
			mirror = c
		}
	}
	require.NotNil(t, mirror, "mirror credit row")
	assert.Equal(t, domain.StatusCompleted, mirror.Status)
	assert.True(t, mirror.Amount.Equal(amt("200")))
	require.NotNil(t, mirror.ToAccountID)
	assert.Equal(t, a.ID, *mirror.ToAccountID)
	assert.Equal(t, a.AccountNumber, mirror.ToAccountNumber)
	assert.Equal(t, "Asha Rao", mirror.BeneficiaryName)
	assert.Equal(t, "Credit from "+a.AccountNumber+" - dinner", mirror.Description)
}

func TestTransfer_InsufficientFunds(t *testing.T) {
	f := newFixture(t)
	src := f.open(t, f.owner, "50")

	_, err := f.engine.Transfer(context.Background(), f.owner, Request{
		FromAccountID: src.ID, ToAccountNumber: "123", BeneficiaryName: "X", Amount: amt("100"),
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.True(t, f.balance(t, src).Equal(amt("50")))
	assert.Empty(t, f.rows(t, src, domain.TypeTransfer))
}

func TestTransfer_LimitCheckedBeforeStore(t *testing.T) {
	// A nil store panics on any access.
	e := NewEngine(nil, DefaultConfig())

	_, err := e.Transfer(context.Background(), 1, Request{FromAccountID: 1, ToAccountNumber: "x", Amount: amt("2000000")})
	assert.ErrorIs(t, err, domain.ErrAmountExceedsLimit)

	_, err = e.Transfer(context.Background(), 1, Request{FromAccountID: 1, ToAccountNumber: "x", Amount: amt("0")})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = e.Transfer(context.Background(), 1, Request{FromAccountID: 1, ToAccountNumber: "x", Amount: amt("1.005")})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestTransfer_InvalidSource(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := f.open(t, f.owner, "500")
	stranger, err := f.store.CreateUser(ctx, "Nobody", "Else")
	require.NoError(t, err)

	req := Request{FromAccountID: src.ID, ToAccountNumber: "123", BeneficiaryName: "X", Amount: amt("10")}

	t.Run("frozen", func(t *testing.T) {
		require.NoError(t, f.store.SetAccountStatus(ctx, src.ID, domain.AccountFrozen))
		t.Cleanup(func() { _ = f.store.SetAccountStatus(ctx, src.ID, domain.AccountActive) })

		_, err := f.engine.Transfer(ctx, f.owner, req)
		assert.ErrorIs(t, err, domain.ErrInvalidSourceAccount)
	})

	t.Run("not owned", func(t *testing.T) {
		_, err := f.engine.Transfer(ctx, stranger, req)
		assert.ErrorIs(t, err, domain.ErrInvalidSourceAccount)
	})

	t.Run("missing", func(t *testing.T) {
		bad := req
		bad.FromAccountID = 9999
		_, err := f.engine.Transfer(ctx, f.owner, bad)
		assert.ErrorIs(t, err, domain.ErrInvalidSourceAccount)
	})

	assert.True(t, f.balance(t, src).Equal(amt("500")))
}

func TestTransfer_SameAccount(t *testing.T) {
	f := newFixture(t)
	src := f.open(t, f.owner, "500")

	_, err := f.engine.Transfer(context.Background(), f.owner, Request{
		FromAccountID: src.ID, ToAccountNumber: src.AccountNumber, Amount: amt("10"),
	})
	assert.ErrorIs(t, err, domain.ErrSameAccount)
}

func TestTransfer_ExternalNeedsBeneficiary(t *testing.T) {
	f := newFixture(t)
	src := f.open(t, f.owner, "500")

	_, err := f.engine.Transfer(context.Background(), f.owner, Request{
		FromAccountID: src.ID, ToAccountNumber: "777", BeneficiaryName: "  ", Amount: amt("10"),
	})
	assert.ErrorIs(t, err, domain.ErrBeneficiaryRequired)
	assert.True(t, f.balance(t, src).Equal(amt("500")))
	assert.Empty(t, f.rows(t, src, domain.TypeTransfer))
}

func TestTransfer_FrozenDestinationIsExternal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.open(t, f.owner, "500")
	b := f.open(t, f.owner, "0")
	require.NoError(t, f.store.SetAccountStatus(ctx, b.ID, domain.AccountFrozen))

	res, err := f.engine.Transfer(ctx, f.owner, Request{
		FromAccountID: a.ID, ToAccountNumber: b.AccountNumber, BeneficiaryName: "Self", Amount: amt("100"),
	})
	require.NoError(t, err)
	assert.Equal(t, External, res.TransferType)
	assert.True(t, f.balance(t, b).IsZero())
}

func TestTransfer_Conservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.open(t, f.owner, "1000")
	b := f.open(t, f.owner, "1000")

	for i := 0; i < 10; i++ {
		from, to := a, b
		if i%2 == 1 {
			from, to = b, a
		}
		_, err := f.engine.Transfer(ctx, f.owner, Request{
			FromAccountID: from.ID, ToAccountNumber: to.AccountNumber, Amount: amt("123.45"),
		})
		require.NoError(t, err)
	}
	total := f.balance(t, a).Add(f.balance(t, b))
	assert.True(t, total.Equal(amt("2000")), "total=%s", total)
}

func TestTransfer_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	f := newFixture(t)
	src := f.open(t, f.owner, "100")
	dst := f.open(t, f.owner, "0")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.engine.Transfer(context.Background(), f.owner, Request{
				FromAccountID: src.ID, ToAccountNumber: dst.AccountNumber, Amount: amt("80"),
			})
		}(i)
	}
	wg.Wait()

	var ok, rejected int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case assert.ErrorIs(t, err, domain.ErrInsufficientFunds):
			rejected++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, rejected)
	assert.True(t, f.balance(t, src).Equal(amt("20")))
	assert.True(t, f.balance(t, dst).Equal(amt("80")))
}

func TestTransfer_ReferencesUnique(t *testing.T) {
	f := newFixture(t)
	a := f.open(t, f.owner, "1000")
	b := f.open(t, f.owner, "0")

	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		res, err := f.engine.Transfer(context.Background(), f.owner, Request{
			FromAccountID: a.ID, ToAccountNumber: b.AccountNumber, Amount: amt("1"),
		})
		require.NoError(t, err)
		assert.False(t, seen[res.ReferenceNumber])
		seen[res.ReferenceNumber] = true
	}
}

// sequence yields the queued references, then random ones.
func sequence(refs ...string) func() (string, error) {
	var mu sync.Mutex
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(refs) == 0 {
			return domain.NewReferenceNumber()
		}
		ref := refs[0]
		refs = refs[1:]
		return ref, nil
	}
}

func TestTransfer_RegeneratesCollidingReference(t *testing.T) {
	f := newFixture(t, WithReferenceGenerator(sequence("AAAAAAAAAAAA", "AAAAAAAAAAAA", "BBBBBBBBBBBB")))
	src := f.open(t, f.owner, "500") // consumes AAAAAAAAAAAA

	res, err := f.engine.Transfer(context.Background(), f.owner, Request{
		FromAccountID: src.ID, ToAccountNumber: "555", BeneficiaryName: "X", Amount: amt("10"),
	})
	require.NoError(t, err)
	assert.Equal(t, "BBBBBBBBBBBB", res.ReferenceNumber)
}

func TestTransfer_ReferenceExhaustion(t *testing.T) {
	f := newFixture(t, WithReferenceGenerator(func() (string, error) { return "ZZZZZZZZZZZZ", nil }))
	src := f.open(t, f.owner, "500")

	_, err := f.engine.Transfer(context.Background(), f.owner, Request{
		FromAccountID: src.ID, ToAccountNumber: "555", BeneficiaryName: "X", Amount: amt("10"),
	})
	assert.ErrorIs(t, err, domain.ErrReferenceGenerationExhausted)
	assert.True(t, f.balance(t, src).Equal(amt("500")))
}

func TestTransfer_TimesOutWaitingForLock(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	owner, err := store.CreateUser(ctx, "Asha", "Rao")
	require.NoError(t, err)
	number, err := domain.NewAccountNumber()
	require.NoError(t, err)
	src, err := store.CreateAccount(ctx, owner, number, "BLUE0000001")
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.LockTimeout = 50 * time.Millisecond
	e := NewEngine(store, cfg)

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = store.Atomically(ctx, func(domain.UnitOfWork) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	_, err = e.Transfer(ctx, owner, Request{FromAccountID: src.ID, ToAccountNumber: "1", BeneficiaryName: "X", Amount: amt("1")})
	assert.ErrorIs(t, err, domain.ErrTimeout)
	assert.Equal(t, "timeout", domain.ErrorCode(err))
}

func TestTransfer_IdempotentReplay(t *testing.T) {
	f := newFixture(t)
	src := f.open(t, f.owner, "500")
	req := Request{
		FromAccountID: src.ID, ToAccountNumber: "555", BeneficiaryName: "X",
		Amount: amt("100"), IdempotencyKey: "retry-1",
	}

	first, err := f.engine.Transfer(context.Background(), f.owner, req)
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := f.engine.Transfer(context.Background(), f.owner, req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.TransactionID, second.TransactionID)
	assert.Equal(t, first.ReferenceNumber, second.ReferenceNumber)
	assert.True(t, first.RemainingBalance.Equal(second.RemainingBalance))

	assert.True(t, f.balance(t, src).Equal(amt("400")))
	assert.Len(t, f.rows(t, src, domain.TypeTransfer), 1)

	t.Run("different request", func(t *testing.T) {
		changed := req
		changed.Amount = amt("99")
		_, err := f.engine.Transfer(context.Background(), f.owner, changed)
		assert.ErrorIs(t, err, domain.ErrIdempotencyMismatch)
	})

	t.Run("keys are per principal", func(t *testing.T) {
		other, err := f.store.CreateUser(context.Background(), "Meera", "Iyer")
		require.NoError(t, err)
		acc := f.open(t, other, "100")
		res, err := f.engine.Transfer(context.Background(), other, Request{
			FromAccountID: acc.ID, ToAccountNumber: "555", BeneficiaryName: "X",
			Amount: amt("10"), IdempotencyKey: "retry-1",
		})
		require.NoError(t, err)
		assert.False(t, res.Replayed)
	})
}

func TestTransfer_IdempotencyKeyExpires(t *testing.T) {
	now := time.Now()
	f := newFixture(t, WithClock(func() time.Time { return now }))
	src := f.open(t, f.owner, "500")
	req := Request{FromAccountID: src.ID, ToAccountNumber: "555", BeneficiaryName: "X", Amount: amt("100"), IdempotencyKey: "k"}

	_, err := f.engine.Transfer(context.Background(), f.owner, req)
	require.NoError(t, err)

	now = now.Add(25 * time.Hour)
	res, err := f.engine.Transfer(context.Background(), f.owner, req)
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.True(t, f.balance(t, src).Equal(amt("300")))
}

func TestTransfer_ReplayFromCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	f := newFixture(t, WithCache(cache.NewIdempotencyCache(rdb, 24*time.Hour)))
	src := f.open(t, f.owner, "500")
	req := Request{FromAccountID: src.ID, ToAccountNumber: "555", BeneficiaryName: "X", Amount: amt("100"), IdempotencyKey: "cached"}

	first, err := f.engine.Transfer(context.Background(), f.owner, req)
	require.NoError(t, err)
	assert.True(t, mr.Exists("idempotency:1:cached"))

	second, err := f.engine.Transfer(context.Background(), f.owner, req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.TransactionID, second.TransactionID)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (p *recordingPublisher) Publish(_ context.Context, evt notifications.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func TestTransfer_PublishesAfterCommit(t *testing.T) {
	pub := &recordingPublisher{}
	f := newFixture(t, WithPublisher(pub))
	a := f.open(t, f.owner, "500")
	b := f.open(t, f.owner, "0")

	res, err := f.engine.Transfer(context.Background(), f.owner, Request{
		FromAccountID: a.ID, ToAccountNumber: b.AccountNumber, Amount: amt("25.50"),
	})
	require.NoError(t, err)

	_, err = f.engine.Transfer(context.Background(), f.owner, Request{
		FromAccountID: a.ID, ToAccountNumber: b.AccountNumber, Amount: amt("9999"),
	})
	require.Error(t, err)

	require.Len(t, pub.events, 2) // opening deposit + transfer
	evt := pub.events[1]
	assert.Equal(t, notifications.EventTransferCompleted, evt.Type)
	assert.Equal(t, res.ReferenceNumber, evt.ReferenceNumber)
	assert.Equal(t, "25.50", evt.Amount)
	assert.Equal(t, "474.50", evt.BalanceAfter)
	assert.Equal(t, "Internal", evt.TransferType)
}

func TestDepositWithdraw(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.open(t, f.owner, "0")

	dep, err := f.engine.Deposit(ctx, f.owner, PostingRequest{AccountID: acc.ID, Amount: amt("150.25"), Description: "cash"})
	require.NoError(t, err)
	assert.True(t, dep.Balance.Equal(amt("150.25")))
	assert.Equal(t, "DEPOSIT", dep.Type)

	wd, err := f.engine.Withdraw(ctx, f.owner, PostingRequest{AccountID: acc.ID, Amount: amt("50.25")})
	require.NoError(t, err)
	assert.True(t, wd.Balance.Equal(amt("100")))

	_, err = f.engine.Withdraw(ctx, f.owner, PostingRequest{AccountID: acc.ID, Amount: amt("100.01")})
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.True(t, f.balance(t, acc).Equal(amt("100")))

	withdrawals := f.rows(t, acc, domain.TypeWithdrawal)
	require.Len(t, withdrawals, 1)
	assert.Equal(t, domain.StatusCompleted, withdrawals[0].Status)
}

func TestDeposit_IdempotentReplay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.open(t, f.owner, "0")
	req := PostingRequest{AccountID: acc.ID, Amount: amt("10"), IdempotencyKey: "dep-1"}

	first, err := f.engine.Deposit(ctx, f.owner, req)
	require.NoError(t, err)
	second, err := f.engine.Deposit(ctx, f.owner, req)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.TransactionID, second.TransactionID)
	assert.True(t, f.balance(t, acc).Equal(amt("10")))

	// Same key for a withdrawal is a different request.
	_, err = f.engine.Withdraw(ctx, f.owner, req)
	assert.ErrorIs(t, err, domain.ErrIdempotencyMismatch)
}

func TestResult_JSON(t *testing.T) {
	credited := amt("300")
	body, err := json.Marshal(Result{
		ReferenceNumber:       "ABCDEFGHIJKL",
		Amount:                amt("200"),
		RemainingBalance:      amt("300"),
		TransferType:          Internal,
		BeneficiaryNewBalance: &credited,
		BeneficiaryAccount:    "501001234567",
		Replayed:              true,
	})
	require.NoError(t, err)

	var back Result
	require.NoError(t, json.Unmarshal(body, &back))
	assert.False(t, back.Replayed)
	assert.Equal(t, Internal, back.TransferType)
	assert.True(t, back.BeneficiaryNewBalance.Equal(credited))
	assert.NotContains(t, string(body), "Replayed")
}

// parkedStore holds the first unit of work at the door until released, so a
// second request can commit underneath it.
type parkedStore struct {
	domain.Store
	once    sync.Once
	arrived chan struct{}
	release chan struct{}
}

func newParkedStore(s domain.Store) *parkedStore {
	return &parkedStore{Store: s, arrived: make(chan struct{}), release: make(chan struct{})}
}

func (s *parkedStore) Atomically(ctx context.Context, fn func(domain.UnitOfWork) error) error {
	first := false
	s.once.Do(func() { first = true })
	if first {
		close(s.arrived)
		select {
		case <-s.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.Store.Atomically(ctx, fn)
}

func TestTransfer_SameKeyInFlightReplaysWinner(t *testing.T) {
	f := newFixture(t)
	src := f.open(t, f.owner, "100")
	parked := newParkedStore(f.store)
	engine := NewEngine(parked, DefaultConfig())
	req := Request{
		FromAccountID: src.ID, ToAccountNumber: "555", BeneficiaryName: "X",
		Amount: amt("80"), IdempotencyKey: "retry",
	}

	type outcome struct {
		res *Result
		err error
	}
	late := make(chan outcome, 1)
	go func() {
		res, err := engine.Transfer(context.Background(), f.owner, req)
		late <- outcome{res, err}
	}()
	<-parked.arrived

	// The late request already passed the balance check against 100.
	first, err := engine.Transfer(context.Background(), f.owner, req)
	require.NoError(t, err)
	close(parked.release)

	got := <-late
	require.NoError(t, got.err)
	assert.True(t, got.res.Replayed)
	assert.Equal(t, first.TransactionID, got.res.TransactionID)
	assert.Equal(t, first.ReferenceNumber, got.res.ReferenceNumber)

	assert.True(t, f.balance(t, src).Equal(amt("20")))
	assert.Len(t, f.rows(t, src, domain.TypeTransfer), 1)
}

func TestTransfer_SameKeyInFlightDifferentRequest(t *testing.T) {
	f := newFixture(t)
	src := f.open(t, f.owner, "100")
	parked := newParkedStore(f.store)
	engine := NewEngine(parked, DefaultConfig())
	req := Request{
		FromAccountID: src.ID, ToAccountNumber: "555", BeneficiaryName: "X",
		Amount: amt("80"), IdempotencyKey: "retry",
	}

	late := make(chan error, 1)
	go func() {
		changed := req
		changed.Amount = amt("90")
		_, err := engine.Transfer(context.Background(), f.owner, changed)
		late <- err
	}()
	<-parked.arrived

	_, err := engine.Transfer(context.Background(), f.owner, req)
	require.NoError(t, err)
	close(parked.release)

	assert.ErrorIs(t, <-late, domain.ErrIdempotencyMismatch)
	assert.True(t, f.balance(t, src).Equal(amt("20")))
}

func TestWithdraw_SameKeyInFlightReplaysWinner(t *testing.T) {
	f := newFixture(t)
	acc := f.open(t, f.owner, "100")
	parked := newParkedStore(f.store)
	engine := NewEngine(parked, DefaultConfig())
	req := PostingRequest{AccountID: acc.ID, Amount: amt("80"), IdempotencyKey: "wd-retry"}

	type outcome struct {
		res *PostingResult
		err error
	}
	late := make(chan outcome, 1)
	go func() {
		res, err := engine.Withdraw(context.Background(), f.owner, req)
		late <- outcome{res, err}
	}()
	<-parked.arrived

	first, err := engine.Withdraw(context.Background(), f.owner, req)
	require.NoError(t, err)
	close(parked.release)

	got := <-late
	require.NoError(t, got.err)
	assert.True(t, got.res.Replayed)
	assert.Equal(t, first.TransactionID, got.res.TransactionID)
	assert.True(t, f.balance(t, acc).Equal(amt("20")))
	assert.Len(t, f.rows(t, acc, domain.TypeWithdrawal), 1)
}
