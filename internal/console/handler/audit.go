package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/xela07ax/cato-pipeline/internal/console/service"
)

type AuditHandler struct {
	service *service.AuditService
}

func NewAuditHandler(s *service.AuditService) *AuditHandler {
	return &AuditHandler{service: s}
}

// GetLogs возвращает срез аудит-цепочки тенанта
// GET /v1/audit?tenant_id=...&from=1&to=100
func (h *AuditHandler) GetLogs(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		http.Error(w, "tenant_id is required", http.StatusBadRequest)
		return
	}
	from, to := seqRange(r)

	entries, err := h.service.FetchRange(r.Context(), tenantID, from, to)
	if err != nil {
		http.Error(w, "Failed to fetch audit entries", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

// Verify пересчитывает хэш-цепочку по диапазону
// GET /v1/audit/verify?tenant_id=...&from=1&to=100
func (h *AuditHandler) Verify(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		http.Error(w, "tenant_id is required", http.StatusBadRequest)
		return
	}
	from, to := seqRange(r)

	result, err := h.service.Verify(r.Context(), tenantID, from, to)
	if err != nil {
		http.Error(w, "Failed to verify audit chain", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

func seqRange(r *http.Request) (int64, int64) {
	from, _ := strconv.ParseInt(r.URL.Query().Get("from"), 10, 64)
	to, _ := strconv.ParseInt(r.URL.Query().Get("to"), 10, 64)
	if from < 1 {
		from = 1
	}
	return from, to
}
