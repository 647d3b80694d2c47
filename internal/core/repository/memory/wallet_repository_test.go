package memory_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akazantsev/walletd/internal/core/repository"
	"github.com/akazantsev/walletd/internal/core/repository/memory"
)

func TestCreateAndGet(t *testing.T) {
	repo := memory.NewMemoryWalletRepo(0)
	ctx := context.Background()

	wallet, err := repo.Create(ctx, decimal.RequireFromString("100.00"))
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, wallet.ID)

	got, err := repo.GetByID(ctx, wallet.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.RequireFromString("100.00")))

	// повторное чтение без мутаций возвращает тот же баланс
	again, err := repo.GetByID(ctx, wallet.ID)
	require.NoError(t, err)
	assert.True(t, again.Balance.Equal(got.Balance))
}

func TestGetNotFound(t *testing.T) {
	repo := memory.NewMemoryWalletRepo(0)

	_, err := repo.GetByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestMutateNotFoundDoesNotInvokeFn(t *testing.T) {
	repo := memory.NewMemoryWalletRepo(0)

	invoked := false
	_, err := repo.Mutate(context.Background(), uuid.New(), func(balance decimal.Decimal) (decimal.Decimal, error) {
		invoked = true
		return balance, nil
	})
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.False(t, invoked)
}

func TestMutateRejectionLeavesBalanceUnchanged(t *testing.T) {
	repo := memory.NewMemoryWalletRepo(0)
	ctx := context.Background()

	wallet, err := repo.Create(ctx, decimal.RequireFromString("10.00"))
	require.NoError(t, err)

	rejection := assert.AnError
	_, err = repo.Mutate(ctx, wallet.ID, func(balance decimal.Decimal) (decimal.Decimal, error) {
		return decimal.Zero, rejection
	})
	assert.ErrorIs(t, err, rejection)

	got, err := repo.GetByID(ctx, wallet.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.RequireFromString("10.00")))
}

func TestConcurrentDeposits(t *testing.T) {
	repo := memory.NewMemoryWalletRepo(10 * time.Second)
	ctx := context.Background()

	wallet, err := repo.Create(ctx, decimal.Zero)
	require.NoError(t, err)

	const goroutines = 100
	amount := decimal.RequireFromString("1.00")

	var wg sync.WaitGroup
	wg.Add(goroutines)
	errCh := make(chan error, goroutines)

	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			_, err := repo.Mutate(ctx, wallet.ID, func(balance decimal.Decimal) (decimal.Decimal, error) {
				return balance.Add(amount), nil
			})
			errCh <- err
		}()
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		require.NoError(t, err)
	}

	got, err := repo.GetByID(ctx, wallet.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.RequireFromString("100.00")),
		"expected 100.00, got %s", got.Balance)
}

func TestWalletsDoNotBlockEachOther(t *testing.T) {
	repo := memory.NewMemoryWalletRepo(5 * time.Second)
	ctx := context.Background()

	first, err := repo.Create(ctx, decimal.Zero)
	require.NoError(t, err)
	second, err := repo.Create(ctx, decimal.Zero)
	require.NoError(t, err)

	holding := make(chan struct{})
	releaseFirst := make(chan struct{})
	go func() {
		repo.Mutate(ctx, first.ID, func(balance decimal.Decimal) (decimal.Decimal, error) {
			close(holding)
			<-releaseFirst
			return balance, nil
		})
	}()
	<-holding
	defer close(releaseFirst)

	done := make(chan error, 1)
	go func() {
		_, err := repo.Mutate(ctx, second.ID, func(balance decimal.Decimal) (decimal.Decimal, error) {
			return balance.Add(decimal.New(1, 0)), nil
		})
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("mutation on unrelated wallet blocked by locked wallet")
	}
}

func TestMutateLockTimeoutReturnsBusy(t *testing.T) {
	repo := memory.NewMemoryWalletRepo(50 * time.Millisecond)
	ctx := context.Background()

	wallet, err := repo.Create(ctx, decimal.Zero)
	require.NoError(t, err)

	holding := make(chan struct{})
	release := make(chan struct{})
	go func() {
		repo.Mutate(ctx, wallet.ID, func(balance decimal.Decimal) (decimal.Decimal, error) {
			close(holding)
			<-release
			return balance, nil
		})
	}()
	<-holding
	defer close(release)

	_, err = repo.Mutate(ctx, wallet.ID, func(balance decimal.Decimal) (decimal.Decimal, error) {
		return balance, nil
	})
	assert.ErrorIs(t, err, repository.ErrBusy)
}

func TestMutateCancelledContext(t *testing.T) {
	repo := memory.NewMemoryWalletRepo(5 * time.Second)

	wallet, err := repo.Create(context.Background(), decimal.Zero)
	require.NoError(t, err)

	holding := make(chan struct{})
	release := make(chan struct{})
	go func() {
		repo.Mutate(context.Background(), wallet.ID, func(balance decimal.Decimal) (decimal.Decimal, error) {
			close(holding)
			<-release
			return balance, nil
		})
	}()
	<-holding
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = repo.Mutate(ctx, wallet.ID, func(balance decimal.Decimal) (decimal.Decimal, error) {
		return balance.Add(decimal.New(1, 0)), nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}
