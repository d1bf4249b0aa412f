package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"app/internal/api/v1/dto"
	"app/internal/middleware"
	"app/internal/model"
	"app/internal/repository"
	"app/internal/service"

	"github.com/go-playground/validator/v10"
)

// CreditHandler handles the account-facing credit endpoints.
type CreditHandler struct {
	creditService service.CreditService
	validate      *validator.Validate
}

// NewCreditHandler creates a new CreditHandler
func NewCreditHandler(creditService service.CreditService, validate *validator.Validate) *CreditHandler {
	return &CreditHandler{creditService: creditService, validate: validate}
}

// RegisterRoutes mounts credit routes
func (h *CreditHandler) RegisterRoutes(mux *http.ServeMux, authMw func(http.Handler) http.Handler) {
	mux.Handle("/credits/consume", authMw(http.HandlerFunc(h.consume)))
	mux.Handle("/credits/balance", authMw(http.HandlerFunc(h.getBalance)))
	mux.Handle("/credits/ledger", authMw(http.HandlerFunc(h.listLedger)))
	mux.Handle("/credits/init", authMw(http.HandlerFunc(h.initAccount)))
}

// writeServiceError maps engine errors onto HTTP status codes. Unknown errors
// are storage failures; the client should retry with the same idempotency key.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, service.ErrInsufficientCredits):
		http.Error(w, "Insufficient credits", http.StatusPaymentRequired)
	case errors.Is(err, service.ErrSubscriptionIneligible):
		http.Error(w, "Subscription is not in good standing", http.StatusForbidden)
	case errors.Is(err, repository.ErrAccountNotFound):
		http.Error(w, "Account not found", http.StatusNotFound)
	case errors.Is(err, repository.ErrIdempotencyKeyConflict):
		http.Error(w, "Idempotency key already used by another account", http.StatusConflict)
	default:
		http.Error(w, "Temporary failure, retry with the same idempotency key", http.StatusInternalServerError)
	}
}

// consume godoc
// @Summary Consume credits
// @Description Spends credits for one generation attempt. Replays of an already-honored idempotency key return the original outcome without charging again.
// @Tags credits
// @Accept json
// @Produce json
// @Param request body dto.ConsumeRequestDTO true "Consumption request"
// @Success 200 {object} dto.ConsumeResponseDTO
// @Failure 400 {string} string "Invalid JSON payload or validation failed"
// @Failure 401 {string} string "Unauthorized"
// @Failure 402 {string} string "Insufficient credits"
// @Failure 403 {string} string "Subscription is not in good standing"
// @Failure 404 {string} string "Account not found"
// @Failure 409 {string} string "Idempotency key already used by another account"
// @Failure 500 {string} string "Temporary failure"
// @Router /credits/consume [post]
func (h *CreditHandler) consume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	accountID, ok := middleware.AccountFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized: account not found in context", http.StatusUnauthorized)
		return
	}
	var req dto.ConsumeRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON payload: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		http.Error(w, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.creditService.Consume(r.Context(), accountID, req.IdempotencyKey, req.Amount)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	resp := dto.ConsumeResponseDTO{
		Consumed:        result.Consumed,
		AlreadyConsumed: result.AlreadyConsumed,
		Source:          string(result.Source),
		MonthlyUsed:     result.MonthlyUsed,
		AddonBalance:    result.AddonBalance,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// getBalance godoc
// @Summary Get credit balance
// @Description Returns the authenticated account's credit standing across both pools.
// @Tags credits
// @Produce json
// @Success 200 {object} dto.BalanceResponseDTO
// @Failure 401 {string} string "Unauthorized"
// @Failure 404 {string} string "Account not found"
// @Failure 500 {string} string "Temporary failure"
// @Router /credits/balance [get]
func (h *CreditHandler) getBalance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	accountID, ok := middleware.AccountFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized: account not found in context", http.StatusUnauthorized)
		return
	}
	balance, err := h.creditService.GetBalance(r.Context(), accountID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(balanceToDTO(balance))
}

// listLedger godoc
// @Summary List ledger entries
// @Description Returns a page of the account's audit trail, newest first. Supports limit and offset query parameters.
// @Tags credits
// @Produce json
// @Param limit query int false "Page size (default 50, max 200)"
// @Param offset query int false "Page offset"
// @Success 200 {object} dto.LedgerPageDTO
// @Failure 401 {string} string "Unauthorized"
// @Failure 404 {string} string "Account not found"
// @Failure 500 {string} string "Temporary failure"
// @Router /credits/ledger [get]
func (h *CreditHandler) listLedger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	accountID, ok := middleware.AccountFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized: account not found in context", http.StatusUnauthorized)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	entries, err := h.creditService.ListLedger(r.Context(), accountID, limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	page := dto.LedgerPageDTO{
		Entries: make([]dto.LedgerEntryDTO, 0, len(entries)),
		Limit:   limit,
		Offset:  offset,
	}
	for _, e := range entries {
		page.Entries = append(page.Entries, dto.LedgerEntryDTO{
			ID:             e.ID,
			Amount:         e.Amount,
			Reason:         string(e.Reason),
			Source:         string(e.Source),
			IdempotencyKey: e.IdempotencyKey,
			MonthlyUsed:    e.MonthlyUsed,
			AddonBalance:   e.AddonBalance,
			CreatedAt:      e.CreatedAt,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(page)
}

// initAccount godoc
// @Summary Initialize credit balance
// @Description Creates the account's balance record with the free-tier grant. Safe to call repeatedly.
// @Tags credits
// @Accept json
// @Produce json
// @Param request body dto.InitAccountRequestDTO false "Initialization request"
// @Success 200 {object} dto.BalanceResponseDTO
// @Failure 400 {string} string "Invalid JSON payload or validation failed"
// @Failure 401 {string} string "Unauthorized"
// @Failure 500 {string} string "Temporary failure"
// @Router /credits/init [post]
func (h *CreditHandler) initAccount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	accountID, ok := middleware.AccountFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized: account not found in context", http.StatusUnauthorized)
		return
	}
	var req dto.InitAccountRequestDTO
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid JSON payload: "+err.Error(), http.StatusBadRequest)
			return
		}
		if err := h.validate.Struct(&req); err != nil {
			http.Error(w, "Validation failed: "+err.Error(), http.StatusBadRequest)
			return
		}
	}
	if err := h.creditService.InitializeAccount(r.Context(), accountID, req.PlanKey); err != nil {
		writeServiceError(w, err)
		return
	}
	balance, err := h.creditService.GetBalance(r.Context(), accountID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(balanceToDTO(balance))
}

func balanceToDTO(b *model.CreditBalance) dto.BalanceResponseDTO {
	return dto.BalanceResponseDTO{
		AccountID:          b.AccountID,
		PlanKey:            b.PlanKey,
		SubscriptionStatus: string(b.SubscriptionStatus),
		MonthlyLimit:       b.MonthlyLimit,
		MonthlyUsed:        b.MonthlyUsed,
		MonthlyRemaining:   b.MonthlyRemaining(),
		AddonBalance:       b.AddonBalance,
		AddonRemaining:     b.AddonBalance,
		TotalRemaining:     b.TotalRemaining(),
		CanGenerate:        b.CanGenerate(),
		PeriodStart:        b.PeriodStart,
		PeriodEnd:          b.PeriodEnd,
	}
}
