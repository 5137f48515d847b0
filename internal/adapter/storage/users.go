package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/chatrapathi4/bluebank/internal/core/domain"
)

// UserRepository owns users, their API keys and account opening.
type UserRepository struct {
	db       DBTX
	accounts *AccountRepository
}

func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db, accounts: NewAccountRepository(db)}
}

func (r *UserRepository) CreateUser(ctx context.Context, firstName, lastName string) (domain.Principal, error) {
	var id int64
	err := r.db.QueryRow(ctx,
		`INSERT INTO users (first_name, last_name) VALUES ($1, $2) RETURNING id`,
		firstName, lastName).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create user: %w", err)
	}
	return domain.Principal(id), nil
}

// SaveAPIKey stores the hashed key for the user
func (r *UserRepository) SaveAPIKey(ctx context.Context, owner domain.Principal, keyHash, keyPrefix string) error {
	query := `INSERT INTO api_keys (user_id, key_hash, key_prefix) VALUES ($1, $2, $3)`

	if _, err := r.db.Exec(ctx, query, int64(owner), keyHash, keyPrefix); err != nil {
		return fmt.Errorf("failed to save api key: %w", err)
	}
	return nil
}

func (r *UserRepository) PrincipalForKey(ctx context.Context, keyHash string) (domain.Principal, error) {
	var id int64
	err := r.db.QueryRow(ctx, `SELECT user_id FROM api_keys WHERE key_hash = $1`, keyHash).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrAPIKeyNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to resolve api key: %w", err)
	}
	return domain.Principal(id), nil
}

func (r *UserRepository) CreateAccount(ctx context.Context, owner domain.Principal, number, ifsc string) (*domain.Account, error) {
	return r.accounts.CreateAccount(ctx, owner, number, ifsc)
}

var _ domain.Directory = (*UserRepository)(nil)
