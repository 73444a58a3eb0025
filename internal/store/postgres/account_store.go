package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/maqzone/livebid/internal/domain"
)

// AccountStore reads the users table maintained by the registration service.
type AccountStore struct {
	pool *pgxpool.Pool
}

// NewAccountStore creates an AccountStore backed by pool.
func NewAccountStore(pool *pgxpool.Pool) *AccountStore {
	return &AccountStore{pool: pool}
}

func (s *AccountStore) GetByID(ctx context.Context, id int64) (domain.Account, error) {
	var (
		a      domain.Account
		status string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, status, must_change_password FROM users WHERE id = $1`, id,
	).Scan(&a.ID, &a.Email, &status, &a.MustChangePassword)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Account{}, domain.ErrNotFound
		}
		return domain.Account{}, fmt.Errorf("postgres: get account %d: %w", id, err)
	}
	a.Status = domain.AccountStatus(status)
	return a, nil
}

var _ domain.AccountStore = (*AccountStore)(nil)
