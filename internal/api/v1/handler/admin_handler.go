package handler

import (
	"encoding/json"
	"net/http"

	"app/internal/api/v1/dto"
	"app/internal/middleware"
	"app/internal/model"
	"app/internal/service"

	"github.com/go-playground/validator/v10"
)

// AdminHandler handles the privileged credit surface.
type AdminHandler struct {
	creditService service.CreditService
	exportService *service.ExportService
	exportBucket  string
	validate      *validator.Validate
}

// NewAdminHandler creates a new AdminHandler. exportService may be nil when
// object storage is not configured.
func NewAdminHandler(creditService service.CreditService, exportService *service.ExportService, exportBucket string, validate *validator.Validate) *AdminHandler {
	return &AdminHandler{
		creditService: creditService,
		exportService: exportService,
		exportBucket:  exportBucket,
		validate:      validate,
	}
}

// RegisterRoutes mounts admin routes behind the auth and admin middlewares.
func (h *AdminHandler) RegisterRoutes(mux *http.ServeMux, authMw func(http.Handler) http.Handler) {
	mux.Handle("/admin/credits/adjust", authMw(middleware.AdminMiddleware(http.HandlerFunc(h.adjust))))
	mux.Handle("/admin/credits/export", authMw(middleware.AdminMiddleware(http.HandlerFunc(h.export))))
}

// adjust godoc
// @Summary Adjust addon balance
// @Description Credits or debits an account's addon balance directly. Debits floor the balance at zero; the ledger records the effective delta.
// @Tags admin
// @Accept json
// @Produce json
// @Param request body dto.AdjustRequestDTO true "Adjustment request"
// @Success 200 {object} dto.AdjustResponseDTO
// @Failure 400 {string} string "Invalid JSON payload or validation failed"
// @Failure 401 {string} string "Unauthorized"
// @Failure 403 {string} string "Admin role required"
// @Failure 404 {string} string "Account not found"
// @Failure 500 {string} string "Temporary failure"
// @Router /admin/credits/adjust [post]
func (h *AdminHandler) adjust(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	adminID, ok := middleware.AccountFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized: account not found in context", http.StatusUnauthorized)
		return
	}
	var req dto.AdjustRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON payload: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		http.Error(w, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.creditService.Adjust(r.Context(), service.AdjustParams{
		AccountID:      req.AccountID,
		Amount:         req.Amount,
		Reason:         model.LedgerReason(req.Reason),
		AdjustedBy:     adminID,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	// This surface sits behind the admin role middleware, so every
	// adjustment it produces is admin-made.
	resp := dto.AdjustResponseDTO{
		NewAddonBalance: result.NewAddonBalance,
		AdjustedBy:      result.AdjustedBy,
		AdjustedByAdmin: true,
		AlreadyApplied:  result.AlreadyApplied,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// export godoc
// @Summary Export ledger history
// @Description Writes an account's full ledger history to object storage as CSV and returns the object key.
// @Tags admin
// @Accept json
// @Produce json
// @Param request body dto.ExportRequestDTO true "Export request"
// @Success 200 {object} dto.ExportResponseDTO
// @Failure 400 {string} string "Invalid JSON payload or validation failed"
// @Failure 401 {string} string "Unauthorized"
// @Failure 403 {string} string "Admin role required"
// @Failure 404 {string} string "Account not found"
// @Failure 500 {string} string "Temporary failure"
// @Failure 503 {string} string "Export storage not configured"
// @Router /admin/credits/export [post]
func (h *AdminHandler) export(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.exportService == nil {
		http.Error(w, "Export storage not configured", http.StatusServiceUnavailable)
		return
	}
	var req dto.ExportRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON payload: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		http.Error(w, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}

	key, err := h.exportService.ExportLedger(r.Context(), req.AccountID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	resp := dto.ExportResponseDTO{Bucket: h.exportBucket, ObjectKey: key}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
