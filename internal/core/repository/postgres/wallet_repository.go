package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/akazantsev/walletd/internal/core/logger"
	"github.com/akazantsev/walletd/internal/core/models"
	"github.com/akazantsev/walletd/internal/core/repository"
)

// 55P03 - lock_not_available, returned when lock_timeout expires
const pgLockNotAvailable = "55P03"

const defaultLockTimeout = 3 * time.Second

type postgresWalletRepo struct {
	db          *sqlx.DB
	log         logger.Logger
	lockTimeout time.Duration
}

func NewPostgresWalletRepo(db *sqlx.DB, log logger.Logger, lockTimeout time.Duration) repository.WalletRepository {
	if lockTimeout <= 0 {
		lockTimeout = defaultLockTimeout
	}
	return &postgresWalletRepo{
		db:          db,
		log:         log,
		lockTimeout: lockTimeout,
	}
}

func (r *postgresWalletRepo) Create(ctx context.Context, initialBalance decimal.Decimal) (*models.Wallet, error) {
	wallet := models.Wallet{
		ID:      uuid.New(),
		Balance: initialBalance,
	}

	const query = `INSERT INTO wallets (id, balance, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		RETURNING created_at, updated_at`

	row := r.db.QueryRowxContext(ctx, query, wallet.ID, wallet.Balance)
	if err := row.Scan(&wallet.CreatedAt, &wallet.UpdatedAt); err != nil {
		r.log.Error("Error creating wallet", logger.ErrorField("error", err))
		return nil, fmt.Errorf("create wallet: %w", err)
	}

	return &wallet, nil
}

func (r *postgresWalletRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Wallet, error) {
	var wallet models.Wallet
	query := `SELECT id, balance, created_at, updated_at FROM wallets WHERE id = $1`
	err := r.db.GetContext(ctx, &wallet, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", repository.ErrNotFound, id)
		}
		return nil, fmt.Errorf("error getting wallet: %w", err)
	}

	return &wallet, nil
}

// Mutate reads the balance under a row lock, applies fn and persists the
// result in the same transaction. An error from fn rolls everything back
// and propagates unchanged.
func (r *postgresWalletRepo) Mutate(ctx context.Context, id uuid.UUID, fn repository.MutateFunc) (decimal.Decimal, error) {
	var isCommitted bool
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		r.log.Error("Error beginning transaction",
			logger.ErrorField("error", err))
		return decimal.Zero, fmt.Errorf("error beginning transaction: %w", err)
	}

	defer func() {
		if err != nil && !isCommitted {
			if rbErr := tx.Rollback(); rbErr != nil {
				r.log.Error("Transaction rollback failed",
					logger.ErrorField("error", rbErr))
				err = fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
			} else {
				r.log.Warn("Transaction rolled back",
					logger.ErrorField("error", err))
			}
		}
	}()

	var newBalance decimal.Decimal
	newBalance, err = r.mutateInTx(ctx, tx, id, fn)
	if err != nil {
		return decimal.Zero, err
	}

	if err = tx.Commit(); err != nil {
		r.log.Error("Error committing transaction",
			logger.ErrorField("error", err))
		return decimal.Zero, fmt.Errorf("commit failed: %w", err)
	}

	isCommitted = true
	return newBalance, nil
}

func (r *postgresWalletRepo) mutateInTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, fn repository.MutateFunc) (decimal.Decimal, error) {
	lockTimeoutQuery := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())
	if _, err := tx.ExecContext(ctx, lockTimeoutQuery); err != nil {
		return decimal.Zero, fmt.Errorf("set lock timeout: %w", err)
	}

	var current decimal.Decimal
	const selectQuery = `SELECT balance FROM wallets WHERE id = $1 FOR UPDATE`
	if err := tx.GetContext(ctx, &current, selectQuery, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, fmt.Errorf("%w: %s", repository.ErrNotFound, id)
		}
		if isLockTimeout(err) {
			r.log.Warn("Wallet row lock timed out",
				logger.StringField("wallet_id", id.String()))
			return decimal.Zero, fmt.Errorf("%w: %s", repository.ErrBusy, id)
		}
		return decimal.Zero, fmt.Errorf("select balance for update: %w", err)
	}

	newBalance, err := fn(current)
	if err != nil {
		return decimal.Zero, err
	}

	const updateQuery = `UPDATE wallets SET balance = $1, updated_at = NOW() WHERE id = $2`
	if _, err := tx.ExecContext(ctx, updateQuery, newBalance, id); err != nil {
		return decimal.Zero, fmt.Errorf("update balance: %w", err)
	}

	return newBalance, nil
}

func isLockTimeout(err error) bool {
	var pgErr *pq.Error
	if errors.As(err, &pgErr) {
		return string(pgErr.Code) == pgLockNotAvailable
	}
	return false
}
