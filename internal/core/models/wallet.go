package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BalanceScale is the number of fraction digits a balance carries.
// The wallets table stores NUMERIC(20,2), so amounts with a finer
// scale are not representable.
const BalanceScale = 2

// Wallet is the balance-bearing entity, keyed by UUID.
type Wallet struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	Balance   decimal.Decimal `json:"balance" db:"balance"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// OperationType определяет тип операции с кошельком
type OperationType string

const (
	// OperationDeposit - пополнение кошелька
	OperationDeposit OperationType = "DEPOSIT"
	// OperationWithdraw - снятие средств с кошелька
	OperationWithdraw OperationType = "WITHDRAW"
)

// WalletOperation представляет запрос на операцию с кошельком
type WalletOperation struct {
	WalletID      uuid.UUID       `json:"walletId"`
	OperationType OperationType   `json:"operationType"`
	Amount        string          `json:"amount"`
	DecimalAmount decimal.Decimal `json:"-"`
}
