package handler

import (
	"encoding/json"
	"net/http"

	"app/internal/api/v1/dto"
	"app/internal/middleware"
	"app/internal/service"

	"github.com/go-playground/validator/v10"
)

// GenerationHandler handles credit-gated generation requests.
type GenerationHandler struct {
	generationService *service.GenerationService
	validate          *validator.Validate
}

// NewGenerationHandler creates a new GenerationHandler
func NewGenerationHandler(generationService *service.GenerationService, validate *validator.Validate) *GenerationHandler {
	return &GenerationHandler{generationService: generationService, validate: validate}
}

// RegisterRoutes mounts generation routes
func (h *GenerationHandler) RegisterRoutes(mux *http.ServeMux, authMw func(http.Handler) http.Handler) {
	mux.Handle("/generations", authMw(http.HandlerFunc(h.generate)))
}

// generate godoc
// @Summary Run a gated generation
// @Description Consumes one credit and runs the prompt through the generation provider. Provider failures refund the credit.
// @Tags generations
// @Accept json
// @Produce json
// @Param request body dto.GenerateRequestDTO true "Generation request"
// @Success 200 {object} dto.GenerateResponseDTO
// @Failure 400 {string} string "Invalid JSON payload or validation failed"
// @Failure 401 {string} string "Unauthorized"
// @Failure 402 {string} string "Insufficient credits"
// @Failure 403 {string} string "Subscription is not in good standing"
// @Failure 404 {string} string "Account not found"
// @Failure 500 {string} string "Generation failed"
// @Router /generations [post]
func (h *GenerationHandler) generate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	accountID, ok := middleware.AccountFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized: account not found in context", http.StatusUnauthorized)
		return
	}
	var req dto.GenerateRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON payload: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		http.Error(w, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.generationService.Generate(r.Context(), accountID, req.IdempotencyKey, req.Prompt)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	resp := dto.GenerateResponseDTO{
		Text:            result.Text,
		Consumed:        result.Consume.Consumed,
		AlreadyConsumed: result.Consume.AlreadyConsumed,
		Source:          string(result.Consume.Source),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
