package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/akazantsev/walletd/internal/core/events"
	"github.com/akazantsev/walletd/internal/core/logger"
	"github.com/akazantsev/walletd/internal/core/metrics"
	"github.com/akazantsev/walletd/internal/core/models"
	"github.com/akazantsev/walletd/internal/core/repository"
)

// DefaultMaxBalance caps the balance magnitude at 18 integer digits,
// matching the NUMERIC(20,2) column.
var DefaultMaxBalance = decimal.New(1, 18)

type WalletUsecase interface {
	CreateWallet(ctx context.Context, initialBalance decimal.Decimal) (*models.Wallet, error)
	GetBalance(ctx context.Context, id uuid.UUID) (decimal.Decimal, error)
	OperateWallet(ctx context.Context, op models.WalletOperation) (decimal.Decimal, error)
}

type walletUsecase struct {
	repo       repository.WalletRepository
	log        logger.Logger
	metrics    metrics.Recorder
	publisher  events.Publisher
	maxBalance decimal.Decimal
}

func NewWalletUsecase(repo repository.WalletRepository, log logger.Logger, opts ...Option) WalletUsecase {
	uc := &walletUsecase{
		repo:       repo,
		log:        log,
		metrics:    metrics.NoopMetrics{},
		publisher:  events.NoopPublisher{},
		maxBalance: DefaultMaxBalance,
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

type Option func(*walletUsecase)

func WithMetrics(m metrics.Recorder) Option {
	return func(uc *walletUsecase) { uc.metrics = m }
}

func WithPublisher(p events.Publisher) Option {
	return func(uc *walletUsecase) { uc.publisher = p }
}

func WithMaxBalance(max decimal.Decimal) Option {
	return func(uc *walletUsecase) { uc.maxBalance = max }
}

func (uc *walletUsecase) CreateWallet(ctx context.Context, initialBalance decimal.Decimal) (*models.Wallet, error) {
	if initialBalance.IsNegative() || !representable(initialBalance) {
		uc.log.Warn("Invalid initial balance",
			logger.StringField("balance", initialBalance.String()))
		return nil, ErrInvalidAmount
	}

	wallet, err := uc.repo.Create(ctx, initialBalance)
	if err != nil {
		return nil, fmt.Errorf("create wallet: %w", err)
	}

	uc.log.Info("Wallet created",
		logger.StringField("wallet_id", wallet.ID.String()),
		logger.StringField("balance", wallet.Balance.StringFixedBank(models.BalanceScale)))

	return wallet, nil
}

func (uc *walletUsecase) GetBalance(ctx context.Context, id uuid.UUID) (decimal.Decimal, error) {
	wallet, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return decimal.Zero, uc.mapStoreError(err, "get wallet")
	}
	return wallet.Balance, nil
}

// OperateWallet applies one deposit or withdraw. The balance rule runs
// inside a single store mutation, so concurrent operations on the same
// wallet always compute against the latest committed balance.
func (uc *walletUsecase) OperateWallet(ctx context.Context, op models.WalletOperation) (decimal.Decimal, error) {
	uc.logStart(op)
	started := time.Now()

	if err := uc.validateOperation(op); err != nil {
		uc.metrics.ObserveOperation(string(op.OperationType), "rejected", time.Since(started))
		return decimal.Zero, err
	}

	newBalance, err := uc.repo.Mutate(ctx, op.WalletID, func(current decimal.Decimal) (decimal.Decimal, error) {
		return uc.applyOperation(op, current)
	})
	if err != nil {
		uc.metrics.ObserveOperation(string(op.OperationType), resultLabel(err), time.Since(started))
		return decimal.Zero, uc.mapStoreError(err, "operate wallet")
	}

	uc.metrics.ObserveOperation(string(op.OperationType), "success", time.Since(started))
	uc.publishBalanceChanged(op, newBalance)

	return newBalance, nil
}

func (uc *walletUsecase) logStart(op models.WalletOperation) {
	uc.log.Info("Starting operation",
		logger.StringField("wallet_id", op.WalletID.String()),
		logger.StringField("type", string(op.OperationType)),
		logger.StringField("amount", op.DecimalAmount.String()))
}

// validateOperation rejects bad requests before the store is touched.
func (uc *walletUsecase) validateOperation(op models.WalletOperation) error {
	switch op.OperationType {
	case models.OperationDeposit, models.OperationWithdraw:
	default:
		uc.log.Warn("Unknown operation type",
			logger.StringField("operation_type", string(op.OperationType)))
		return ErrInvalidOperationType
	}

	if !op.DecimalAmount.IsPositive() || !representable(op.DecimalAmount) {
		uc.log.Warn("Invalid amount",
			logger.StringField("amount", op.DecimalAmount.String()))
		return ErrInvalidAmount
	}

	return nil
}

func (uc *walletUsecase) applyOperation(op models.WalletOperation, current decimal.Decimal) (decimal.Decimal, error) {
	switch op.OperationType {
	case models.OperationDeposit:
		newBalance := current.Add(op.DecimalAmount)
		if newBalance.GreaterThan(uc.maxBalance) {
			uc.log.Warn("Balance limit exceeded",
				logger.StringField("wallet_id", op.WalletID.String()),
				logger.StringField("balance", current.String()),
				logger.StringField("amount", op.DecimalAmount.String()))
			return decimal.Zero, ErrBalanceLimit
		}
		return newBalance, nil
	case models.OperationWithdraw:
		if current.LessThan(op.DecimalAmount) {
			uc.log.Warn("Insufficient funds",
				logger.StringField("balance", current.String()),
				logger.StringField("requested", op.DecimalAmount.String()))
			return decimal.Zero, ErrInsufficientFunds
		}
		return current.Sub(op.DecimalAmount), nil
	default:
		return decimal.Zero, ErrInvalidOperationType
	}
}

func (uc *walletUsecase) mapStoreError(err error, context string) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return ErrWalletNotFound
	case errors.Is(err, repository.ErrBusy):
		return ErrWalletBusy
	case isBusinessError(err):
		return err
	default:
		return fmt.Errorf("%s: %w", context, err)
	}
}

func (uc *walletUsecase) publishBalanceChanged(op models.WalletOperation, newBalance decimal.Decimal) {
	event := events.BalanceChanged{
		WalletID:      op.WalletID,
		OperationType: string(op.OperationType),
		Amount:        op.DecimalAmount,
		NewBalance:    newBalance,
		OccurredAt:    time.Now().UTC(),
	}
	if err := uc.publisher.PublishBalanceChanged(event); err != nil {
		uc.log.Error("Failed to publish balance changed event",
			logger.StringField("wallet_id", op.WalletID.String()),
			logger.ErrorField("error", err))
	}
}

// representable reports whether d fits the balance scale of 2 fraction
// digits exactly.
func representable(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(models.BalanceScale))
}

func isBusinessError(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidOperationType) ||
		errors.Is(err, ErrBalanceLimit)
}

func resultLabel(err error) string {
	switch {
	case isBusinessError(err), errors.Is(err, repository.ErrNotFound):
		return "rejected"
	case errors.Is(err, repository.ErrBusy):
		return "busy"
	default:
		return "error"
	}
}
