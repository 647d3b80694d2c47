package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/akazantsev/walletd/internal/core/logger"
	"github.com/akazantsev/walletd/internal/core/models"
	"github.com/akazantsev/walletd/internal/core/usecase"
)

type WalletHandler struct {
	usecase usecase.WalletUsecase
	log     logger.Logger
}

type CreateWalletRequest struct {
	Balance string `json:"balance"`
}

type WalletResponse struct {
	ID      uuid.UUID `json:"id"`
	Balance string    `json:"balance"`
}

type BalanceResponse struct {
	Balance string `json:"balance"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

var amountRegexp = regexp.MustCompile(`^\s*\d{1,18}([.,]\d{1,2})?\s*$`)

func NewWalletHandler(usecase usecase.WalletUsecase, log logger.Logger) *WalletHandler {
	return &WalletHandler{usecase: usecase, log: log}
}

func (h *WalletHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/v1/wallets", h.CreateWallet).Methods("POST")
	router.HandleFunc("/api/v1/wallets/{wallet_id}", h.GetBalance).Methods("GET")
	router.HandleFunc("/api/v1/wallets/{wallet_id}/operation", h.ProcessWalletOperation).Methods("POST")
}

func (h *WalletHandler) CreateWallet(w http.ResponseWriter, r *http.Request) {
	var req CreateWalletRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Warn("Failed to decode request body", logger.ErrorField("error", err))
		respondWithError(w, http.StatusBadRequest, "invalid request payload")
		return
	}

	// Баланс при создании необязателен, по умолчанию 0.00
	initialBalance := decimal.Zero
	if strings.TrimSpace(req.Balance) != "" {
		parsed, err := h.parseBalance(req.Balance)
		if err != nil {
			h.log.Warn("Invalid initial balance", logger.StringField("balance", req.Balance))
			respondWithError(w, http.StatusUnprocessableEntity, "invalid initial balance")
			return
		}
		initialBalance = parsed
	}

	wallet, err := h.usecase.CreateWallet(r.Context(), initialBalance)
	if err != nil {
		if errors.Is(err, usecase.ErrInvalidAmount) {
			respondWithError(w, http.StatusUnprocessableEntity, "invalid initial balance")
			return
		}
		h.log.Error("Failed to create wallet", logger.ErrorField("error", err))
		respondWithError(w, http.StatusInternalServerError, "failed to create wallet")
		return
	}

	respondWithJSON(w, http.StatusCreated, WalletResponse{
		ID:      wallet.ID,
		Balance: wallet.Balance.StringFixedBank(models.BalanceScale),
	})
}

func (h *WalletHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	walletID, err := h.walletIDFromPath(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	balance, err := h.usecase.GetBalance(r.Context(), walletID)
	if err != nil {
		if errors.Is(err, usecase.ErrWalletNotFound) {
			h.log.Warn("Wallet not found", logger.StringField("wallet_id", walletID.String()))
			respondWithError(w, http.StatusNotFound, "wallet not found")
			return
		}
		h.log.Error("Failed to get balance",
			logger.StringField("wallet_id", walletID.String()),
			logger.ErrorField("error", err))
		respondWithError(w, http.StatusInternalServerError, "failed to get balance")
		return
	}

	respondWithJSON(w, http.StatusOK, BalanceResponse{
		Balance: balance.StringFixedBank(models.BalanceScale),
	})
}

func (h *WalletHandler) ProcessWalletOperation(w http.ResponseWriter, r *http.Request) {
	walletID, err := h.walletIDFromPath(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	operation, err := h.decodeOperation(w, r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	operation.WalletID = walletID

	if validationErr := h.validateOperation(operation); validationErr != nil {
		h.log.Warn(validationErr.Message, validationErr.Fields...)
		respondWithError(w, http.StatusUnprocessableEntity, validationErr.Message)
		return
	}

	amountDec, err := h.parseAmount(operation.Amount)
	if err != nil {
		h.log.Warn("Invalid amount", logger.StringField("amount", operation.Amount), logger.ErrorField("error", err))
		respondWithError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	operation.DecimalAmount = amountDec

	newBalance, err := h.executeWalletOperation(r.Context(), operation)
	if err != nil {
		h.handleOperationError(w, operation, err)
		return
	}

	h.logSuccess(operation, newBalance)
	respondWithJSON(w, http.StatusOK, BalanceResponse{
		Balance: newBalance.StringFixedBank(models.BalanceScale),
	})
}

type ValidationError struct {
	Message string
	Fields  []logger.Field
}

func (h *WalletHandler) walletIDFromPath(r *http.Request) (uuid.UUID, error) {
	raw := mux.Vars(r)["wallet_id"]
	walletID, err := uuid.Parse(raw)
	if err != nil {
		h.log.Warn("Invalid wallet id", logger.StringField("wallet_id", raw))
		return uuid.Nil, fmt.Errorf("invalid wallet id")
	}
	return walletID, nil
}

func (h *WalletHandler) decodeOperation(w http.ResponseWriter, r *http.Request) (*models.WalletOperation, error) {
	var operation models.WalletOperation
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&operation); err != nil {
		h.log.Warn("Failed to decode request body", logger.ErrorField("error", err))
		return nil, fmt.Errorf("invalid request payload")
	}
	defer r.Body.Close()
	return &operation, nil
}

// validateOperation выполняет базовую валидацию полей операции
func (h *WalletHandler) validateOperation(operation *models.WalletOperation) *ValidationError {
	operation.OperationType = models.OperationType(
		strings.ToUpper(string(operation.OperationType)),
	)

	switch operation.OperationType {
	case models.OperationDeposit, models.OperationWithdraw:
		return nil
	default:
		return &ValidationError{
			Message: "Invalid operation type",
			Fields: []logger.Field{
				logger.StringField("operation_type", string(operation.OperationType)),
			},
		}
	}
}

// parseAmount обрабатывает и валидирует сумму операции
func (h *WalletHandler) parseAmount(amountStr string) (decimal.Decimal, error) {
	amount, err := h.parseBalance(amountStr)
	if err != nil {
		return decimal.Zero, err
	}

	if amount.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("amount must be positive")
	}

	return amount, nil
}

// parseBalance допускает ноль: начальный баланс кошелька может быть 0.00
func (h *WalletHandler) parseBalance(amountStr string) (decimal.Decimal, error) {
	cleaned := strings.ReplaceAll(strings.ReplaceAll(amountStr, " ", ""), ",", ".")

	if !amountRegexp.MatchString(cleaned) {
		return decimal.Zero, fmt.Errorf("invalid amount format: %s", cleaned)
	}

	amount, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("could not parse amount: %v", err)
	}

	return amount, nil
}

func (h *WalletHandler) executeWalletOperation(ctx context.Context, op *models.WalletOperation) (decimal.Decimal, error) {
	return h.usecase.OperateWallet(ctx, *op)
}

func (h *WalletHandler) handleOperationError(w http.ResponseWriter, op *models.WalletOperation, err error) {
	switch {
	case errors.Is(err, usecase.ErrWalletNotFound):
		h.log.Warn("Wallet not found", logger.StringField("wallet_id", op.WalletID.String()))
		respondWithError(w, http.StatusNotFound, "wallet not found")
	case errors.Is(err, usecase.ErrInsufficientFunds):
		h.log.Warn("Insufficient funds",
			logger.StringField("wallet_id", op.WalletID.String()),
			logger.StringField("amount", op.DecimalAmount.String()),
		)
		respondWithError(w, http.StatusConflict, "insufficient funds")
	case errors.Is(err, usecase.ErrInvalidAmount):
		h.log.Warn("Invalid amount", logger.StringField("amount", op.DecimalAmount.String()))
		respondWithError(w, http.StatusUnprocessableEntity, "invalid amount")
	case errors.Is(err, usecase.ErrInvalidOperationType):
		respondWithError(w, http.StatusUnprocessableEntity, "invalid operation type")
	case errors.Is(err, usecase.ErrBalanceLimit):
		respondWithError(w, http.StatusUnprocessableEntity, "balance limit exceeded")
	case errors.Is(err, usecase.ErrWalletBusy):
		h.log.Warn("Wallet is busy", logger.StringField("wallet_id", op.WalletID.String()))
		respondWithError(w, http.StatusServiceUnavailable, "wallet is busy, try again")
	default:
		h.log.Error("Failed to process operation",
			logger.StringField("wallet_id", op.WalletID.String()),
			logger.StringField("amount", op.DecimalAmount.String()),
			logger.ErrorField("error", err),
		)
		respondWithError(w, http.StatusInternalServerError, "failed to process operation")
	}
}

func (h *WalletHandler) logSuccess(op *models.WalletOperation, newBalance decimal.Decimal) {
	h.log.Info("Wallet operation successful",
		logger.StringField("wallet_id", op.WalletID.String()),
		logger.StringField("operation_type", string(op.OperationType)),
		logger.StringField("amount", op.DecimalAmount.String()),
		logger.StringField("new_balance", newBalance.StringFixedBank(models.BalanceScale)),
	)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, ErrorResponse{Error: message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"Internal Server Error"}`)) // Fallback response
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
