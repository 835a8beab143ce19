// internal/api/handler/ledger.go
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"house-ledger/internal/api/types"
	"house-ledger/internal/domain"
	"house-ledger/internal/service"
	"house-ledger/internal/util" // For custom errors
)

// DefaultTimeout bounds a request when no timeout is configured.
const DefaultTimeout = 10 * time.Second

// Options tunes gateway behaviour.
type Options struct {
	FaucetAmount       decimal.Decimal
	FaucetDegradedMode bool
	// ExposeErrors adds the raw error as "detail" to error bodies. Never set in production.
	ExposeErrors bool
}

// LedgerHandler handles HTTP requests for balance reads and mutations.
type LedgerHandler struct {
	service   service.LedgerService
	addresses domain.AddressValidator
	opts      Options
	logger    *zap.Logger
}

// NewLedgerHandler creates a new LedgerHandler.
func NewLedgerHandler(svc service.LedgerService, addresses domain.AddressValidator, opts Options, logger *zap.Logger) *LedgerHandler {
	if !domain.ValidAmount(opts.FaucetAmount) {
		opts.FaucetAmount = decimal.NewFromInt(1000)
	}
	if logger == nil {
		logger = util.GetLogger()
	}
	return &LedgerHandler{
		service:   svc,
		addresses: addresses,
		opts:      opts,
		logger:    logger,
	}
}

// Helper function to send JSON responses.
func (h *LedgerHandler) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("Failed to marshal JSON response", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(response)
}

// Helper function to send error responses.
func (h *LedgerHandler) respondWithError(w http.ResponseWriter, err error) {
	statusCode := http.StatusInternalServerError
	message := "Internal server error"

	switch {
	case util.IsError(err, util.ErrInvalidAddress):
		statusCode = http.StatusBadRequest
		message = util.ErrInvalidAddress.Error()
	case util.IsError(err, util.ErrInvalidAmount):
		statusCode = http.StatusBadRequest
		message = util.ErrInvalidAmount.Error()
	case util.IsError(err, util.ErrInvalidInput):
		statusCode = http.StatusBadRequest
		message = err.Error() // Names the offending fields
	case util.IsError(err, util.ErrInsufficientBalance):
		statusCode = http.StatusPaymentRequired // 402 Payment Required
		message = "Insufficient balance"
	case util.IsError(err, util.ErrDuplicatePayout):
		statusCode = http.StatusConflict
		message = util.ErrDuplicatePayout.Error()
	case util.IsError(err, util.ErrServiceUnavailable):
		statusCode = http.StatusServiceUnavailable
		message = "Ledger temporarily unavailable, retry later"
		h.logger.Error("Ledger store unavailable", zap.Error(err))
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		statusCode = http.StatusGatewayTimeout
		message = "Request timed out; outcome unknown, re-query balance before retrying"
		h.logger.Warn("Ledger request did not complete", zap.Error(err))
	default:
		h.logger.Error("Unhandled service error", zap.Error(err))
	}

	body := map[string]string{"error": message}
	if h.opts.ExposeErrors && statusCode >= http.StatusInternalServerError {
		body["detail"] = err.Error()
	}
	h.respondWithJSON(w, statusCode, body)
}

func (h *LedgerHandler) decode(r *http.Request, dest interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		return fmt.Errorf("%w: malformed JSON body", util.ErrInvalidInput)
	}
	return nil
}

// asNumber renders a decimal as a JSON number without losing precision.
func asNumber(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}

// GetBalance handles the read balance request.
// GET /balances/{address}
func (h *LedgerHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	address, err := h.addresses.Normalize(chi.URLParam(r, "address"))
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	balance, err := h.service.GetBalance(r.Context(), address)
	if err != nil {
		if util.IsError(err, util.ErrNotFound) {
			h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
				"address":   address,
				"balance":   asNumber(decimal.Zero),
				"updatedAt": nil,
				"tier":      domain.TierFree,
			})
			return
		}
		h.respondWithError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"address":   address,
		"balance":   asNumber(balance.Balance),
		"updatedAt": balance.UpdatedAt.UTC().Format(time.RFC3339Nano),
		"tier":      domain.TierFor(balance.Balance),
	})
}

// GetHistory handles the audit log request.
// GET /balances/{address}/history
func (h *LedgerHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	address, err := h.addresses.Normalize(chi.URLParam(r, "address"))
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	// Parse query parameters for pagination
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = 10 // Default limit
	}
	if limit > 100 {
		limit = 100
	}
	offset, err := strconv.Atoi(r.URL.Query().Get("offset"))
	if err != nil || offset < 0 {
		offset = 0 // Default offset
	}

	entries, total, err := h.service.GetAuditLog(r.Context(), address, limit, offset)
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, types.PaginatedResponse[domain.AuditLogEntry]{
		Data:       entries,
		Limit:      limit,
		Offset:     offset,
		TotalCount: total,
	})
}

// Reconcile replays the audit log of an address against its balance.
// GET /balances/{address}/reconcile
func (h *LedgerHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	address, err := h.addresses.Normalize(chi.URLParam(r, "address"))
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	report, err := h.service.Reconcile(r.Context(), address)
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	if !report.Consistent() {
		h.respondWithJSON(w, http.StatusConflict, map[string]interface{}{
			"consistent": false,
			"error":      util.ErrReconciliationMismatch.Error(),
			"report":     report,
		})
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"consistent": true,
		"report":     report,
	})
}

// FaucetRequest represents the request body for a faucet grant.
type FaucetRequest struct {
	Address string           `json:"address"`
	Amount  *decimal.Decimal `json:"amount"` // Optional, defaults to the configured grant
}

// Faucet handles the faucet grant request.
// POST /faucet
func (h *LedgerHandler) Faucet(w http.ResponseWriter, r *http.Request) {
	var req FaucetRequest
	if err := h.decode(r, &req); err != nil {
		h.respondWithError(w, err)
		return
	}

	address, err := h.addresses.Normalize(req.Address)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	amount := h.opts.FaucetAmount
	if req.Amount != nil {
		amount = *req.Amount
	}
	if !domain.ValidAmount(amount) {
		h.respondWithError(w, util.ErrInvalidAmount)
		return
	}

	result, err := h.service.Credit(r.Context(), address, amount, domain.OperationFaucet, "")
	if err != nil {
		if h.opts.FaucetDegradedMode && util.IsError(err, util.ErrServiceUnavailable) {
			h.logger.Warn("Faucet grant simulated while ledger store is unavailable",
				zap.String("user_address", address),
				zap.String("amount", amount.String()),
				zap.Error(err))
			h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
				"success":   true,
				"amount":    asNumber(amount),
				"confirmed": false,
				"simulated": true,
				"warning":   "ledger unavailable: grant was not recorded and the balance is unchanged",
			})
			return
		}
		h.respondWithError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"newBalance": asNumber(result.NewBalance()),
		"amount":     asNumber(amount),
		"confirmed":  true,
	})
}

// BetRequest is the body shared by payout, win and bet requests.
type BetRequest struct {
	Address string           `json:"address"`
	Amount  *decimal.Decimal `json:"amount"`
	BetID   string           `json:"betId"`
}

// Payout handles the payout credit request. All three fields are required.
// POST /payouts
func (h *LedgerHandler) Payout(w http.ResponseWriter, r *http.Request) {
	var req BetRequest
	if err := h.decode(r, &req); err != nil {
		h.respondWithError(w, err)
		return
	}
	if req.Address == "" || req.Amount == nil || req.BetID == "" {
		h.respondWithError(w, fmt.Errorf("%w: address, amount and betId are required", util.ErrInvalidInput))
		return
	}

	address, err := h.addresses.Normalize(req.Address)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	if !domain.ValidAmount(*req.Amount) {
		h.respondWithError(w, util.ErrInvalidAmount)
		return
	}

	result, err := h.service.CreditForPayout(r.Context(), address, *req.Amount, req.BetID)
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"newBalance": asNumber(result.NewBalance()),
	})
}

// Win handles the win credit request. With a betId the credit is applied at
// most once per bet.
// POST /wins
func (h *LedgerHandler) Win(w http.ResponseWriter, r *http.Request) {
	var req BetRequest
	if err := h.decode(r, &req); err != nil {
		h.respondWithError(w, err)
		return
	}
	if req.Address == "" || req.Amount == nil {
		h.respondWithError(w, fmt.Errorf("%w: address and amount are required", util.ErrInvalidInput))
		return
	}

	address, err := h.addresses.Normalize(req.Address)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	if !domain.ValidAmount(*req.Amount) {
		h.respondWithError(w, util.ErrInvalidAmount)
		return
	}

	var result *domain.MutationResult
	if req.BetID != "" {
		result, err = h.service.CreditForPayout(r.Context(), address, *req.Amount, req.BetID)
	} else {
		result, err = h.service.Credit(r.Context(), address, *req.Amount, domain.OperationBetWon, "")
	}
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"newBalance": asNumber(result.NewBalance()),
		"winAmount":  asNumber(*req.Amount),
	})
}

// PlaceBet handles the bet placement debit.
// POST /bets
func (h *LedgerHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	var req BetRequest
	if err := h.decode(r, &req); err != nil {
		h.respondWithError(w, err)
		return
	}
	h.mutate(w, r, req.Address, req.Amount, domain.OperationBetPlaced, req.BetID)
}

// TreasuryRequest represents the request body for deposits and withdrawals.
type TreasuryRequest struct {
	Address   string           `json:"address"`
	Amount    *decimal.Decimal `json:"amount"`
	Reference string           `json:"reference"` // e.g. on-chain transaction hash
}

// Deposit handles a treasury deposit.
// POST /deposits
func (h *LedgerHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req TreasuryRequest
	if err := h.decode(r, &req); err != nil {
		h.respondWithError(w, err)
		return
	}
	h.mutate(w, r, req.Address, req.Amount, domain.OperationDeposit, req.Reference)
}

// Withdraw handles a treasury withdrawal.
// POST /withdrawals
func (h *LedgerHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req TreasuryRequest
	if err := h.decode(r, &req); err != nil {
		h.respondWithError(w, err)
		return
	}
	h.mutate(w, r, req.Address, req.Amount, domain.OperationWithdrawal, req.Reference)
}

func (h *LedgerHandler) mutate(w http.ResponseWriter, r *http.Request, rawAddress string, amount *decimal.Decimal, opType domain.OperationType, correlatingID string) {
	if rawAddress == "" || amount == nil {
		h.respondWithError(w, fmt.Errorf("%w: address and amount are required", util.ErrInvalidInput))
		return
	}
	address, err := h.addresses.Normalize(rawAddress)
	if err != nil {
		h.respondWithError(w, err)
		return
	}
	if !domain.ValidAmount(*amount) {
		h.respondWithError(w, util.ErrInvalidAmount)
		return
	}

	var result *domain.MutationResult
	if opType.IsDebit() {
		result, err = h.service.Debit(r.Context(), address, *amount, opType, correlatingID)
	} else {
		result, err = h.service.Credit(r.Context(), address, *amount, opType, correlatingID)
	}
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"newBalance": asNumber(result.NewBalance()),
	})
}
