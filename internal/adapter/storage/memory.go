package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/chatrapathi4/bluebank/internal/core/domain"
)

// MemoryStore keeps the whole ledger in process. A single slot semaphore
// serialises every unit of work, so row locks are implicit; writes made by
// a failed unit are undone in reverse order.
type MemoryStore struct {
	sem chan struct{}
	st  *memState
}

type memUser struct {
	firstName, lastName string
}

type idemKey struct {
	owner domain.Principal
	key   string
}

type memState struct {
	nextUserID    int64
	nextAccountID int64
	users         map[domain.Principal]memUser
	apiKeys       map[string]domain.Principal
	accounts      map[int64]*domain.Account
	byNumber      map[string]int64
	txns          map[uuid.UUID]*domain.Transaction
	refs          map[string]uuid.UUID
	order         []uuid.UUID
	idem          map[idemKey]*domain.IdempotencyRecord
	now           func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sem: make(chan struct{}, 1),
		st: &memState{
			users:    make(map[domain.Principal]memUser),
			apiKeys:  make(map[string]domain.Principal),
			accounts: make(map[int64]*domain.Account),
			byNumber: make(map[string]int64),
			txns:     make(map[uuid.UUID]*domain.Transaction),
			refs:     make(map[string]uuid.UUID),
			idem:     make(map[idemKey]*domain.IdempotencyRecord),
			now:      time.Now,
		},
	}
}

func (s *MemoryStore) acquire(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", domain.ErrTimeout, ctx.Err())
	}
}

func (s *MemoryStore) release() { <-s.sem }

// Atomically runs fn while holding the store exclusively.
func (s *MemoryStore) Atomically(ctx context.Context, fn func(uow domain.UnitOfWork) error) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	u := &memUnit{st: s.st}
	u.exec = u.inline
	if err := fn(u); err != nil {
		u.rollback()
		return err
	}
	return nil
}

// auto runs a single call as its own unit of work.
func (s *MemoryStore) auto(ctx context.Context, fn func(u *memUnit) error) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	u := &memUnit{st: s.st}
	if err := fn(u); err != nil {
		u.rollback()
		return err
	}
	return nil
}

func (s *MemoryStore) unit() *memUnit { return &memUnit{st: s.st, exec: s.auto} }

func (s *MemoryStore) Accounts() domain.AccountStore        { return memAccounts{s.unit()} }
func (s *MemoryStore) Ledger() domain.Ledger                { return memLedger{s.unit()} }
func (s *MemoryStore) Idempotency() domain.IdempotencyStore { return memIdempotency{s.unit()} }

// SetAccountStatus changes an account's status. Account administration is
// not part of the engine, so only the in-memory store offers it.
func (s *MemoryStore) SetAccountStatus(ctx context.Context, id int64, status domain.AccountStatus) error {
	return s.auto(ctx, func(u *memUnit) error {
		acc, ok := u.st.accounts[id]
		if !ok {
			return domain.ErrAccountNotFound
		}
		acc.Status = status
		return nil
	})
}

// memUnit is one unit of work. exec either runs inline (inside Atomically)
// or acquires the store for the duration of a single call.
type memUnit struct {
	st   *memState
	undo []func()
	exec func(ctx context.Context, fn func(u *memUnit) error) error
}

func (u *memUnit) inline(ctx context.Context, fn func(u *memUnit) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrTimeout, err)
	}
	return fn(u)
}

func (u *memUnit) onRollback(f func()) { u.undo = append(u.undo, f) }

func (u *memUnit) rollback() {
	for i := len(u.undo) - 1; i >= 0; i-- {
		u.undo[i]()
	}
	u.undo = nil
}

func (u *memUnit) Accounts() domain.AccountStore        { return memAccounts{u} }
func (u *memUnit) Ledger() domain.Ledger                { return memLedger{u} }
func (u *memUnit) Idempotency() domain.IdempotencyStore { return memIdempotency{u} }

func (st *memState) snapshot(acc *domain.Account) *domain.Account {
	cp := *acc
	if user, ok := st.users[acc.OwnerID]; ok {
		cp.OwnerName = strings.TrimSpace(user.firstName + " " + user.lastName)
	}
	return &cp
}

type memAccounts struct{ u *memUnit }

func (a memAccounts) GetActiveAccountOwnedBy(ctx context.Context, accountID int64, owner domain.Principal) (*domain.Account, error) {
	var out *domain.Account
	err := a.u.exec(ctx, func(u *memUnit) error {
		acc, ok := u.st.accounts[accountID]
		if !ok || acc.OwnerID != owner || !acc.IsActive() {
			return domain.ErrAccountNotFound
		}
		out = u.st.snapshot(acc)
		return nil
	})
	return out, err
}

func (a memAccounts) FindByAccountNumber(ctx context.Context, number string) (*domain.Account, error) {
	var out *domain.Account
	err := a.u.exec(ctx, func(u *memUnit) error {
		id, ok := u.st.byNumber[number]
		if !ok || !u.st.accounts[id].IsActive() {
			return domain.ErrAccountNotFound
		}
		out = u.st.snapshot(u.st.accounts[id])
		return nil
	})
	return out, err
}

func (a memAccounts) LockForUpdate(ctx context.Context, ids ...int64) (map[int64]*domain.Account, error) {
	out := make(map[int64]*domain.Account, len(ids))
	err := a.u.exec(ctx, func(u *memUnit) error {
		for _, id := range ids {
			if acc, ok := u.st.accounts[id]; ok {
				out[id] = u.st.snapshot(acc)
			}
		}
		return nil
	})
	return out, err
}

func (a memAccounts) AdjustBalance(ctx context.Context, accountID int64, delta, floor decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := a.u.exec(ctx, func(u *memUnit) error {
		acc, ok := u.st.accounts[accountID]
		if !ok {
			return domain.ErrAccountNotFound
		}
		next := acc.Balance.Add(delta)
		if next.LessThan(floor) {
			return domain.ErrInsufficientFunds
		}
		prev, prevUpdated := acc.Balance, acc.UpdatedAt
		acc.Balance = next
		acc.UpdatedAt = u.st.now()
		u.onRollback(func() {
			acc.Balance = prev
			acc.UpdatedAt = prevUpdated
		})
		balance = next
		return nil
	})
	return balance, err
}

type memLedger struct{ u *memUnit }

func (l memLedger) Insert(ctx context.Context, tx *domain.Transaction) error {
	return l.u.exec(ctx, func(u *memUnit) error {
		if tx.Status != domain.StatusPending {
			return fmt.Errorf("insert %s record: %w", tx.Status, domain.ErrInvalidStatusTransition)
		}
		if _, ok := u.st.refs[tx.ReferenceNumber]; ok {
			return domain.ErrDuplicateReference
		}
		if _, ok := u.st.txns[tx.ID]; ok {
			return fmt.Errorf("transaction %s already exists", tx.ID)
		}
		if _, ok := u.st.accounts[tx.FromAccountID]; !ok {
			return domain.ErrAccountNotFound
		}
		cp := *tx
		u.st.txns[tx.ID] = &cp
		u.st.refs[tx.ReferenceNumber] = tx.ID
		u.st.order = append(u.st.order, tx.ID)
		u.onRollback(func() {
			delete(u.st.txns, cp.ID)
			delete(u.st.refs, cp.ReferenceNumber)
			u.st.order = u.st.order[:len(u.st.order)-1]
		})
		return nil
	})
}

func (l memLedger) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	var out *domain.Transaction
	err := l.u.exec(ctx, func(u *memUnit) error {
		tx, ok := u.st.txns[id]
		if !ok {
			return domain.ErrTransactionNotFound
		}
		cp := *tx
		out = &cp
		return nil
	})
	return out, err
}

func (l memLedger) ListForAccounts(ctx context.Context, accountIDs []int64, since time.Time) ([]*domain.Transaction, error) {
	wanted := make(map[int64]bool, len(accountIDs))
	for _, id := range accountIDs {
		wanted[id] = true
	}

	var out []*domain.Transaction
	err := l.u.exec(ctx, func(u *memUnit) error {
		for i := len(u.st.order) - 1; i >= 0; i-- {
			tx := u.st.txns[u.st.order[i]]
			if wanted[tx.FromAccountID] && !tx.CreatedAt.Before(since) {
				cp := *tx
				out = append(out, &cp)
			}
		}
		return nil
	})
	// Insertion order already approximates creation order; the stable sort
	// keeps it for equal timestamps.
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, err
}

func (l memLedger) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.TransactionStatus, processedAt time.Time) error {
	return l.u.exec(ctx, func(u *memUnit) error {
		tx, ok := u.st.txns[id]
		if !ok {
			return domain.ErrTransactionNotFound
		}
		if !tx.Status.CanTransition(status) {
			return fmt.Errorf("%s -> %s: %w", tx.Status, status, domain.ErrInvalidStatusTransition)
		}
		at := processedAt
		tx.Status = status
		tx.ProcessedAt = &at
		u.onRollback(func() {
			tx.Status = domain.StatusPending
			tx.ProcessedAt = nil
		})
		return nil
	})
}

type memIdempotency struct{ u *memUnit }

func (m memIdempotency) Find(ctx context.Context, owner domain.Principal, key string, notBefore time.Time) (*domain.IdempotencyRecord, error) {
	var out *domain.IdempotencyRecord
	err := m.u.exec(ctx, func(u *memUnit) error {
		rec, ok := u.st.idem[idemKey{owner, key}]
		if !ok || rec.CreatedAt.Before(notBefore) {
			return domain.ErrIdempotencyKeyNotFound
		}
		cp := *rec
		out = &cp
		return nil
	})
	return out, err
}

func (m memIdempotency) Save(ctx context.Context, rec *domain.IdempotencyRecord, expiredBefore time.Time) error {
	return m.u.exec(ctx, func(u *memUnit) error {
		k := idemKey{rec.Owner, rec.Key}
		prev, ok := u.st.idem[k]
		if ok && !prev.CreatedAt.Before(expiredBefore) {
			return domain.ErrIdempotencyKeyExists
		}
		cp := *rec
		u.st.idem[k] = &cp
		u.onRollback(func() {
			if ok {
				u.st.idem[k] = prev
				return
			}
			delete(u.st.idem, k)
		})
		return nil
	})
}

func (m memIdempotency) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	var n int64
	err := m.u.exec(ctx, func(u *memUnit) error {
		for k, rec := range u.st.idem {
			if rec.CreatedAt.Before(before) {
				delete(u.st.idem, k)
				n++
			}
		}
		return nil
	})
	return n, err
}

func (s *MemoryStore) CreateUser(ctx context.Context, firstName, lastName string) (domain.Principal, error) {
	var id domain.Principal
	err := s.auto(ctx, func(u *memUnit) error {
		u.st.nextUserID++
		id = domain.Principal(u.st.nextUserID)
		u.st.users[id] = memUser{firstName: firstName, lastName: lastName}
		return nil
	})
	return id, err
}

func (s *MemoryStore) SaveAPIKey(ctx context.Context, owner domain.Principal, keyHash, keyPrefix string) error {
	return s.auto(ctx, func(u *memUnit) error {
		if _, ok := u.st.users[owner]; !ok {
			return fmt.Errorf("failed to save api key: unknown user %d", owner)
		}
		u.st.apiKeys[keyHash] = owner
		return nil
	})
}

func (s *MemoryStore) PrincipalForKey(ctx context.Context, keyHash string) (domain.Principal, error) {
	var p domain.Principal
	err := s.auto(ctx, func(u *memUnit) error {
		owner, ok := u.st.apiKeys[keyHash]
		if !ok {
			return domain.ErrAPIKeyNotFound
		}
		p = owner
		return nil
	})
	return p, err
}

func (s *MemoryStore) CreateAccount(ctx context.Context, owner domain.Principal, number, ifsc string) (*domain.Account, error) {
	var out *domain.Account
	err := s.auto(ctx, func(u *memUnit) error {
		if _, ok := u.st.users[owner]; !ok {
			return fmt.Errorf("failed to create account: unknown user %d", owner)
		}
		if _, ok := u.st.byNumber[number]; ok {
			return domain.ErrDuplicateAccountNumber
		}
		u.st.nextAccountID++
		now := u.st.now()
		acc := &domain.Account{
			ID:            u.st.nextAccountID,
			AccountNumber: number,
			OwnerID:       owner,
			Balance:       decimal.Zero,
			Status:        domain.AccountActive,
			IFSCCode:      ifsc,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		u.st.accounts[acc.ID] = acc
		u.st.byNumber[number] = acc.ID
		out = u.st.snapshot(acc)
		return nil
	})
	return out, err
}

var (
	_ domain.Store     = (*MemoryStore)(nil)
	_ domain.Directory = (*MemoryStore)(nil)
)
