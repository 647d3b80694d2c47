package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/akazantsev/walletd/internal/core/models"
)

var (
	// ErrNotFound - кошелек с таким id не существует
	ErrNotFound = errors.New("wallet not found")
	// ErrBusy - не удалось дождаться блокировки кошелька
	ErrBusy = errors.New("wallet lock timeout")
)

// MutateFunc computes a new balance from the current one. Returning an
// error rejects the mutation: nothing is written and the error is
// propagated to the caller unchanged.
type MutateFunc func(balance decimal.Decimal) (decimal.Decimal, error)

// WalletRepository owns the authoritative balance of every wallet.
// Mutate is the only way to change a balance: it runs fn against the
// current balance under exclusive access for that wallet id and persists
// the result before releasing exclusivity. Wallets never block each other.
type WalletRepository interface {
	Create(ctx context.Context, initialBalance decimal.Decimal) (*models.Wallet, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Wallet, error)
	Mutate(ctx context.Context, id uuid.UUID, fn MutateFunc) (decimal.Decimal, error)
}
