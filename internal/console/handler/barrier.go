package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/cato-pipeline/internal/console/service"
	"github.com/xela07ax/cato-pipeline/internal/domain"
	"github.com/xela07ax/cato-pipeline/internal/infra/auth"
)

type BarrierHandler struct {
	service *service.BarrierService
}

func NewBarrierHandler(s *service.BarrierService) *BarrierHandler {
	return &BarrierHandler{service: s}
}

// List возвращает определения барьеров
// GET /v1/barriers?tenant_id=...
func (h *BarrierHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")

	barriers, err := h.service.List(r.Context(), tenantID)
	if err != nil {
		http.Error(w, "Failed to fetch barriers", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(barriers)
}

func (h *BarrierHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	b, err := h.service.Get(r.Context(), id)
	if err != nil {
		http.Error(w, "Failed to fetch barrier", http.StatusInternalServerError)
		return
	}
	if b == nil {
		http.Error(w, "barrier not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(b)
}

func (h *BarrierHandler) Create(w http.ResponseWriter, r *http.Request) {
	var b domain.BarrierDefinition
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.service.Create(r.Context(), &b, auth.UserIDFrom(r.Context())); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(b)
}

func (h *BarrierHandler) Update(w http.ResponseWriter, r *http.Request) {
	var b domain.BarrierDefinition
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	b.ID = chi.URLParam(r, "id")

	if err := h.service.Update(r.Context(), &b, auth.UserIDFrom(r.Context())); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *BarrierHandler) Activate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

func (h *BarrierHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *BarrierHandler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	id := chi.URLParam(r, "id")

	if err := h.service.SetActive(r.Context(), id, active, auth.UserIDFrom(r.Context())); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
