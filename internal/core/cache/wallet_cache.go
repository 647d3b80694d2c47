package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/akazantsev/walletd/internal/core/logger"
	"github.com/akazantsev/walletd/internal/core/models"
	"github.com/akazantsev/walletd/internal/core/repository"
)

const defaultTTL = 30 * time.Second

// CachedWalletRepo decorates a WalletRepository with a Redis
// read-through cache for balances. Mutations always go to the inner
// store: a cached balance is never fed into Mutate, only refreshed from
// its committed result. Cache failures degrade to the inner store.
type CachedWalletRepo struct {
	inner repository.WalletRepository
	rdb   *redis.Client
	log   logger.Logger
	ttl   time.Duration
}

func NewCachedWalletRepo(inner repository.WalletRepository, rdb *redis.Client, log logger.Logger, ttl time.Duration) *CachedWalletRepo {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &CachedWalletRepo{inner: inner, rdb: rdb, log: log, ttl: ttl}
}

func (c *CachedWalletRepo) Create(ctx context.Context, initialBalance decimal.Decimal) (*models.Wallet, error) {
	wallet, err := c.inner.Create(ctx, initialBalance)
	if err != nil {
		return nil, err
	}
	c.store(ctx, wallet.ID, wallet.Balance)
	return wallet, nil
}

func (c *CachedWalletRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Wallet, error) {
	cached, err := c.rdb.Get(ctx, balanceKey(id)).Result()
	if err == nil {
		balance, parseErr := decimal.NewFromString(cached)
		if parseErr == nil {
			return &models.Wallet{ID: id, Balance: balance}, nil
		}
		c.log.Warn("Unparseable cached balance, falling through",
			logger.StringField("wallet_id", id.String()),
			logger.StringField("value", cached))
	} else if !errors.Is(err, redis.Nil) {
		c.log.Warn("Balance cache read failed",
			logger.StringField("wallet_id", id.String()),
			logger.ErrorField("error", err))
	}

	wallet, err := c.inner.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.store(ctx, wallet.ID, wallet.Balance)
	return wallet, nil
}

func (c *CachedWalletRepo) Mutate(ctx context.Context, id uuid.UUID, fn repository.MutateFunc) (decimal.Decimal, error) {
	newBalance, err := c.inner.Mutate(ctx, id, fn)
	if err != nil {
		return decimal.Zero, err
	}
	c.store(ctx, id, newBalance)
	return newBalance, nil
}

func (c *CachedWalletRepo) store(ctx context.Context, id uuid.UUID, balance decimal.Decimal) {
	err := c.rdb.Set(ctx, balanceKey(id), balance.StringFixedBank(models.BalanceScale), c.ttl).Err()
	if err != nil {
		c.log.Warn("Balance cache write failed",
			logger.StringField("wallet_id", id.String()),
			logger.ErrorField("error", err))
	}
}

func balanceKey(id uuid.UUID) string {
	return fmt.Sprintf("wallet:balance:%s", id)
}

var _ repository.WalletRepository = (*CachedWalletRepo)(nil)
