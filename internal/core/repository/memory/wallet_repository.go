package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/akazantsev/walletd/internal/core/models"
	"github.com/akazantsev/walletd/internal/core/repository"
)

const defaultLockTimeout = 3 * time.Second

// walletEntry holds one wallet together with its private lock. The lock
// is a one-slot channel so acquisition can be raced against the caller's
// context and a timeout.
type walletEntry struct {
	lock   chan struct{}
	wallet models.Wallet
}

// MemoryWalletRepo is an in-memory implementation of
// repository.WalletRepository. Every wallet carries its own lock, so
// mutations on different wallets never serialize against each other.
type MemoryWalletRepo struct {
	mu          sync.RWMutex
	wallets     map[uuid.UUID]*walletEntry
	lockTimeout time.Duration
}

func NewMemoryWalletRepo(lockTimeout time.Duration) *MemoryWalletRepo {
	if lockTimeout <= 0 {
		lockTimeout = defaultLockTimeout
	}
	return &MemoryWalletRepo{
		wallets:     make(map[uuid.UUID]*walletEntry),
		lockTimeout: lockTimeout,
	}
}

func (m *MemoryWalletRepo) Create(ctx context.Context, initialBalance decimal.Decimal) (*models.Wallet, error) {
	now := time.Now().UTC()
	wallet := models.Wallet{
		ID:        uuid.New(),
		Balance:   initialBalance,
		CreatedAt: now,
		UpdatedAt: now,
	}

	entry := &walletEntry{
		lock:   make(chan struct{}, 1),
		wallet: wallet,
	}

	m.mu.Lock()
	m.wallets[wallet.ID] = entry
	m.mu.Unlock()

	return &wallet, nil
}

func (m *MemoryWalletRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Wallet, error) {
	entry, err := m.entry(id)
	if err != nil {
		return nil, err
	}

	if err := m.acquire(ctx, entry); err != nil {
		return nil, err
	}
	defer m.release(entry)

	wallet := entry.wallet
	return &wallet, nil
}

// Mutate runs fn against the current balance while holding the wallet's
// lock and persists the result before releasing it. An error from fn
// leaves the wallet untouched and propagates unchanged.
func (m *MemoryWalletRepo) Mutate(ctx context.Context, id uuid.UUID, fn repository.MutateFunc) (decimal.Decimal, error) {
	entry, err := m.entry(id)
	if err != nil {
		return decimal.Zero, err
	}

	if err := m.acquire(ctx, entry); err != nil {
		return decimal.Zero, err
	}
	defer m.release(entry)

	newBalance, err := fn(entry.wallet.Balance)
	if err != nil {
		return decimal.Zero, err
	}

	entry.wallet.Balance = newBalance
	entry.wallet.UpdatedAt = time.Now().UTC()

	return newBalance, nil
}

func (m *MemoryWalletRepo) entry(id uuid.UUID) (*walletEntry, error) {
	m.mu.RLock()
	entry, ok := m.wallets[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", repository.ErrNotFound, id)
	}
	return entry, nil
}

func (m *MemoryWalletRepo) acquire(ctx context.Context, entry *walletEntry) error {
	timer := time.NewTimer(m.lockTimeout)
	defer timer.Stop()

	select {
	case entry.lock <- struct{}{}:
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: waited %s", repository.ErrBusy, m.lockTimeout)
	case <-ctx.Done():
		return fmt.Errorf("acquire wallet lock: %w", ctx.Err())
	}
}

func (m *MemoryWalletRepo) release(entry *walletEntry) {
	<-entry.lock
}

// Compile-time check: MemoryWalletRepo implements WalletRepository.
var _ repository.WalletRepository = (*MemoryWalletRepo)(nil)
