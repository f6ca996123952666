package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/cato-pipeline/internal/console/service"
	"github.com/xela07ax/cato-pipeline/internal/domain"
	"github.com/xela07ax/cato-pipeline/internal/infra/auth"
)

type PolicyHandler struct {
	service *service.PolicyService
}

func NewPolicyHandler(s *service.PolicyService) *PolicyHandler {
	return &PolicyHandler{service: s}
}

// Get возвращает действующую политику тенанта (дефолты, если не настроена)
// GET /v1/policies/{tenantID}
func (h *PolicyHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	pol, err := h.service.Get(r.Context(), tenantID)
	if err != nil {
		http.Error(w, "Failed to fetch tenant policy", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(pol)
}

// Upsert подменяет снапшот политики тенанта
// PUT /v1/policies/{tenantID}
func (h *PolicyHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	var pol domain.TenantPolicy
	if err := json.NewDecoder(r.Body).Decode(&pol); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	pol.TenantID = chi.URLParam(r, "tenantID")

	if err := h.service.Upsert(r.Context(), &pol, auth.UserIDFrom(r.Context())); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
