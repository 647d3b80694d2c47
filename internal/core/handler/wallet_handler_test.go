package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akazantsev/walletd/internal/core/handler"
	"github.com/akazantsev/walletd/internal/core/logger"
	"github.com/akazantsev/walletd/internal/core/models"
	"github.com/akazantsev/walletd/internal/core/usecase"
)

type stubUsecase struct {
	createFn  func(ctx context.Context, initialBalance decimal.Decimal) (*models.Wallet, error)
	getFn     func(ctx context.Context, id uuid.UUID) (decimal.Decimal, error)
	operateFn func(ctx context.Context, op models.WalletOperation) (decimal.Decimal, error)
}

func (s *stubUsecase) CreateWallet(ctx context.Context, initialBalance decimal.Decimal) (*models.Wallet, error) {
	return s.createFn(ctx, initialBalance)
}

func (s *stubUsecase) GetBalance(ctx context.Context, id uuid.UUID) (decimal.Decimal, error) {
	return s.getFn(ctx, id)
}

func (s *stubUsecase) OperateWallet(ctx context.Context, op models.WalletOperation) (decimal.Decimal, error) {
	return s.operateFn(ctx, op)
}

func newTestRouter(uc usecase.WalletUsecase) *mux.Router {
	router := mux.NewRouter()
	handler.NewWalletHandler(uc, logger.NewNopLogger()).RegisterRoutes(router)
	return router
}

func doJSON(t *testing.T, router *mux.Router, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCreateWallet(t *testing.T) {
	walletID := uuid.New()
	uc := &stubUsecase{
		createFn: func(ctx context.Context, initialBalance decimal.Decimal) (*models.Wallet, error) {
			assert.Equal(t, "100.00", initialBalance.StringFixedBank(2))
			return &models.Wallet{ID: walletID, Balance: initialBalance}, nil
		},
	}

	rec := doJSON(t, newTestRouter(uc), http.MethodPost, "/api/v1/wallets",
		map[string]string{"balance": "100.00"})

	require.Equal(t, http.StatusCreated, rec.Code)

	var resp handler.WalletResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, walletID, resp.ID)
	assert.Equal(t, "100.00", resp.Balance)
}

func TestCreateWalletDefaultsToZeroBalance(t *testing.T) {
	uc := &stubUsecase{
		createFn: func(ctx context.Context, initialBalance decimal.Decimal) (*models.Wallet, error) {
			assert.True(t, initialBalance.IsZero())
			return &models.Wallet{ID: uuid.New(), Balance: initialBalance}, nil
		},
	}

	rec := doJSON(t, newTestRouter(uc), http.MethodPost, "/api/v1/wallets", map[string]string{})
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestCreateWalletInvalidBalance(t *testing.T) {
	uc := &stubUsecase{
		createFn: func(ctx context.Context, initialBalance decimal.Decimal) (*models.Wallet, error) {
			t.Fatal("usecase must not be called")
			return nil, nil
		},
	}

	rec := doJSON(t, newTestRouter(uc), http.MethodPost, "/api/v1/wallets",
		map[string]string{"balance": "-5.00"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestGetBalance(t *testing.T) {
	walletID := uuid.New()
	uc := &stubUsecase{
		getFn: func(ctx context.Context, id uuid.UUID) (decimal.Decimal, error) {
			assert.Equal(t, walletID, id)
			return decimal.RequireFromString("42.50"), nil
		},
	}

	rec := doJSON(t, newTestRouter(uc), http.MethodGet, "/api/v1/wallets/"+walletID.String(), nil)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp handler.BalanceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "42.50", resp.Balance)
}

func TestGetBalanceNotFound(t *testing.T) {
	uc := &stubUsecase{
		getFn: func(ctx context.Context, id uuid.UUID) (decimal.Decimal, error) {
			return decimal.Zero, usecase.ErrWalletNotFound
		},
	}

	rec := doJSON(t, newTestRouter(uc), http.MethodGet, "/api/v1/wallets/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetBalanceMalformedID(t *testing.T) {
	uc := &stubUsecase{
		getFn: func(ctx context.Context, id uuid.UUID) (decimal.Decimal, error) {
			t.Fatal("usecase must not be called")
			return decimal.Zero, nil
		},
	}

	rec := doJSON(t, newTestRouter(uc), http.MethodGet, "/api/v1/wallets/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func operationPath(id uuid.UUID) string {
	return fmt.Sprintf("/api/v1/wallets/%s/operation", id)
}

func TestProcessWalletOperation(t *testing.T) {
	walletID := uuid.New()
	uc := &stubUsecase{
		operateFn: func(ctx context.Context, op models.WalletOperation) (decimal.Decimal, error) {
			assert.Equal(t, walletID, op.WalletID)
			assert.Equal(t, models.OperationDeposit, op.OperationType)
			assert.Equal(t, "50.00", op.DecimalAmount.StringFixedBank(2))
			return decimal.RequireFromString("150.00"), nil
		},
	}

	rec := doJSON(t, newTestRouter(uc), http.MethodPost, operationPath(walletID),
		map[string]string{"operationType": "DEPOSIT", "amount": "50.00"})

	require.Equal(t, http.StatusOK, rec.Code)

	var resp handler.BalanceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "150.00", resp.Balance)
}

func TestProcessWalletOperationLowercaseType(t *testing.T) {
	uc := &stubUsecase{
		operateFn: func(ctx context.Context, op models.WalletOperation) (decimal.Decimal, error) {
			assert.Equal(t, models.OperationWithdraw, op.OperationType)
			return decimal.RequireFromString("5.00"), nil
		},
	}

	rec := doJSON(t, newTestRouter(uc), http.MethodPost, operationPath(uuid.New()),
		map[string]string{"operationType": "withdraw", "amount": "5.00"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProcessWalletOperationStatusMapping(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		expected int
	}{
		{"not found", usecase.ErrWalletNotFound, http.StatusNotFound},
		{"insufficient funds", usecase.ErrInsufficientFunds, http.StatusConflict},
		{"invalid amount", usecase.ErrInvalidAmount, http.StatusUnprocessableEntity},
		{"balance limit", usecase.ErrBalanceLimit, http.StatusUnprocessableEntity},
		{"busy", usecase.ErrWalletBusy, http.StatusServiceUnavailable},
		{"storage failure", assert.AnError, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			uc := &stubUsecase{
				operateFn: func(ctx context.Context, op models.WalletOperation) (decimal.Decimal, error) {
					return decimal.Zero, tc.err
				},
			}

			rec := doJSON(t, newTestRouter(uc), http.MethodPost, operationPath(uuid.New()),
				map[string]string{"operationType": "WITHDRAW", "amount": "20.00"})
			assert.Equal(t, tc.expected, rec.Code)

			var resp handler.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestProcessWalletOperationInvalidAmounts(t *testing.T) {
	uc := &stubUsecase{
		operateFn: func(ctx context.Context, op models.WalletOperation) (decimal.Decimal, error) {
			t.Fatal("usecase must not be called")
			return decimal.Zero, nil
		},
	}
	router := newTestRouter(uc)

	for _, amount := range []string{"0", "-5.00", "abc", "1.2345"} {
		rec := doJSON(t, router, http.MethodPost, operationPath(uuid.New()),
			map[string]string{"operationType": "DEPOSIT", "amount": amount})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, "amount %q", amount)
	}
}

func TestProcessWalletOperationUnknownType(t *testing.T) {
	uc := &stubUsecase{
		operateFn: func(ctx context.Context, op models.WalletOperation) (decimal.Decimal, error) {
			t.Fatal("usecase must not be called")
			return decimal.Zero, nil
		},
	}

	rec := doJSON(t, newTestRouter(uc), http.MethodPost, operationPath(uuid.New()),
		map[string]string{"operationType": "TRANSFER", "amount": "5.00"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestProcessWalletOperationMalformedBody(t *testing.T) {
	uc := &stubUsecase{
		operateFn: func(ctx context.Context, op models.WalletOperation) (decimal.Decimal, error) {
			t.Fatal("usecase must not be called")
			return decimal.Zero, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, operationPath(uuid.New()),
		bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	newTestRouter(uc).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
