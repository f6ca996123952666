package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/xela07ax/cato-pipeline/internal/console/handler"
	"github.com/xela07ax/cato-pipeline/internal/infra"
	"github.com/xela07ax/cato-pipeline/internal/infra/auth"
	"go.uber.org/zap"
)

type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger
	cfg    *infra.Config

	// Интерфейс для проверки токенов (RS256)
	// Реализуется через embedding BaseValidator в AuthService
	authValidator auth.TokenValidator

	// Обработчики бизнес-доменов
	authHandler       *handler.AuthHandler       // /auth/token
	barrierHandler    *handler.BarrierHandler    // /v1/barriers (CBF definitions)
	policyHandler     *handler.PolicyHandler     // /v1/policies (tenant policies)
	escalationHandler *handler.EscalationHandler // /v1/escalations (HITL)
	dashHandler       *handler.DashboardHandler  // /api/v1/dashboard
	auditHandler      *handler.AuditHandler      // /v1/audit (Merkle chain)
}

// NewConsoleServer инициализирует сервер админки со всеми зависимостями
func NewConsoleServer(
	cfg *infra.Config,
	logger *zap.Logger,
	validator auth.TokenValidator,
	authH *handler.AuthHandler,
	barrierH *handler.BarrierHandler,
	policyH *handler.PolicyHandler,
	escalationH *handler.EscalationHandler,
	dashH *handler.DashboardHandler,
	auditH *handler.AuditHandler,
) *ConsoleServer {
	s := &ConsoleServer{
		router:            chi.NewRouter(),
		logger:            logger.Named("console-api"),
		cfg:               cfg,
		authValidator:     validator,
		authHandler:       authH,
		barrierHandler:    barrierH,
		policyHandler:     policyH,
		escalationHandler: escalationH,
		dashHandler:       dashH,
		auditHandler:      auditH,
	}

	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ (Открыты для всех) ---
	r.Group(func(r chi.Router) {
		// Логин должен быть доступен без токена
		r.Post("/auth/token", s.authHandler.Login)

		// Healthcheck для мониторинга
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (Требуют RS256 токен) ---
	r.Group(func(r chi.Router) {
		// Подключаем универсальный Middleware только для этой группы
		r.Use(auth.NewMiddleware(s.authValidator, s.logger))

		// Dashboard & Stats
		r.Get("/api/v1/dashboard/stats", s.dashHandler.GetStats)

		// Управление барьерами (Control Barrier Functions)
		r.Route("/v1/barriers", func(r chi.Router) {
			r.Get("/", s.barrierHandler.List)    // Определения барьеров тенанта
			r.Post("/", s.barrierHandler.Create) // Новый барьер (версия 1, active)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.barrierHandler.Get)
				r.Put("/", s.barrierHandler.Update)                // Редактирование порогов/типа
				r.Post("/activate", s.barrierHandler.Activate)     // Включение в горячий набор
				r.Post("/deactivate", s.barrierHandler.Deactivate) // Вывод из горячего набора
			})
		})

		// Политики тенантов (пороги губернатора, livelock, entropy-режим)
		r.Route("/v1/policies", func(r chi.Router) {
			r.Get("/{tenantID}", s.policyHandler.Get)    // Действующая политика (или дефолты)
			r.Put("/{tenantID}", s.policyHandler.Upsert) // Новый снапшот, версия +1
		})

		// Human-in-the-loop (Escalations)
		r.Route("/v1/escalations", func(r chi.Router) {
			r.Get("/", s.escalationHandler.List) // Очередь эскалаций на ревью
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.escalationHandler.GetDetails)
				r.Post("/decide", s.escalationHandler.Decide) // Approve/Reject/Modify + Redis Publish
			})
		})

		// Аудит и верификация цепочки (Observability)
		r.Get("/v1/audit", s.auditHandler.GetLogs)
		r.Get("/v1/audit/verify", s.auditHandler.Verify)
	})
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
