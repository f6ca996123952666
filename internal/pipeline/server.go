package pipeline

/*
Файл server.go — HTTP-поверхность Data Plane.
Два эндпоинта: горячий /v1/evaluate и out-of-band /v1/veto для сенсоров.
Сигнал вето дополнительно публикуется в Redis, чтобы его увидели
остальные инстансы пайплайна.
*/

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/cato-pipeline/internal/domain"
	"github.com/xela07ax/cato-pipeline/internal/infra"
	"go.uber.org/zap"
)

type Server struct {
	orch   *Orchestrator
	rdb    *redis.Client
	logger *zap.Logger
}

func NewServer(orch *Orchestrator, rdb *redis.Client, logger *zap.Logger) *Server {
	return &Server{
		orch:   orch,
		rdb:    rdb,
		logger: logger.Named("http"),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(tracingMiddleware)

	r.Post("/v1/evaluate", s.handleEvaluate)
	r.Post("/v1/veto", s.handleRaiseVeto)
	r.Get("/health", s.handleHealth)

	return r
}

// Тип для ключа в контексте (избегаем коллизий)
type ctxKey string

const traceIDKey ctxKey = "trace_id"

// tracingMiddleware присваивает Trace-ID каждому запросу
func tracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get("X-Trace-ID")
		if traceID == "" {
			traceID = uuid.New().String()
		}
		ctx := context.WithValue(r.Context(), traceIDKey, traceID)
		w.Header().Set("X-Trace-ID", traceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractTraceID(ctx context.Context) string {
	if id, ok := ctx.Value(traceIDKey).(string); ok {
		return id
	}
	return ""
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TenantID == "" || req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id and session_id are required")
		return
	}
	if req.TraceID == "" {
		req.TraceID = extractTraceID(r.Context())
	}

	result := s.orch.EvaluateAction(r.Context(), req)

	status := http.StatusOK
	if result.SystemError {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, result)
}

func (s *Server) handleRaiseVeto(w http.ResponseWriter, r *http.Request) {
	var signal domain.VetoSignal
	if err := json.NewDecoder(r.Body).Decode(&signal); err != nil {
		writeError(w, http.StatusBadRequest, "invalid veto signal")
		return
	}
	if signal.SessionID == "" || signal.Severity == "" {
		writeError(w, http.StatusBadRequest, "session_id and severity are required")
		return
	}
	// Фиксируем время до публикации: идентичность сигнала должна совпасть
	// локально и у подписчиков
	if signal.Timestamp.IsZero() {
		signal.Timestamp = time.Now()
	}

	s.orch.RaiseVeto(signal)

	// Транслируем сигнал остальным инстансам. Локально он уже применен,
	// поэтому сбой публикации не отменяет вето.
	payload, err := json.Marshal(signal)
	if err == nil {
		if err := s.rdb.Publish(r.Context(), infra.RedisChanVetoSignals, payload).Err(); err != nil {
			s.logger.Error("veto broadcast failed", zap.Error(err))
		}
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
