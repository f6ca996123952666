package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/cato-pipeline/internal/console/service"
	"github.com/xela07ax/cato-pipeline/internal/domain"
	"github.com/xela07ax/cato-pipeline/internal/infra/auth"
)

type EscalationHandler struct {
	service *service.EscalationService
}

func NewEscalationHandler(s *service.EscalationService) *EscalationHandler {
	return &EscalationHandler{service: s}
}

// List возвращает очередь эскалаций на ревью
// GET /v1/escalations?tenant_id=...&status=PENDING
func (h *EscalationHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	status := strings.ToUpper(r.URL.Query().Get("status"))
	if status == "" {
		status = string(domain.EscalationPending) // Дефолт для удобства админки
	}

	list, err := h.service.List(r.Context(), tenantID, domain.EscalationStatus(status))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(list)
}

func (h *EscalationHandler) GetDetails(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	esc, err := h.service.Get(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if esc == nil {
		http.Error(w, "escalation not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(esc)
}

type DecideRequest struct {
	Decision string `json:"decision"` // APPROVED | REJECTED | MODIFIED
	Response string `json:"response,omitempty"`
}

func (h *EscalationHandler) Decide(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req DecideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	reviewerID := auth.UserIDFrom(r.Context())
	if reviewerID == "" {
		http.Error(w, "reviewer_id is required", http.StatusBadRequest)
		return
	}

	decision := domain.EscalationDecision(strings.ToUpper(req.Decision))
	err := h.service.Decide(r.Context(), id, decision, req.Response, reviewerID)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyProcessed) || errors.Is(err, domain.ErrInvalidTransition) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
