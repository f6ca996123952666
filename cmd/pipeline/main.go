package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/cato-pipeline/internal/auditchain"
	"github.com/xela07ax/cato-pipeline/internal/barrier"
	"github.com/xela07ax/cato-pipeline/internal/domain"
	"github.com/xela07ax/cato-pipeline/internal/fracture"
	"github.com/xela07ax/cato-pipeline/internal/governor"
	"github.com/xela07ax/cato-pipeline/internal/infra"
	"github.com/xela07ax/cato-pipeline/internal/pipeline"
	"github.com/xela07ax/cato-pipeline/internal/recovery"
	"github.com/xela07ax/cato-pipeline/internal/repository/postgres"
	"github.com/xela07ax/cato-pipeline/internal/sampler"
	"github.com/xela07ax/cato-pipeline/internal/veto"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func main() {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	// Контекст для управления жизненным циклом фоновых горутин
	// При завершении main() или срабатывании SIGTERM, cancel() остановит слушателей
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Инфраструктура и ресурсы
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	repo, err := postgres.NewRepo(appCtx, cfg.Database)
	if err != nil {
		logger.Fatal("postgres init failed", zap.Error(err))
	}
	defer repo.Close()

	pingCtx, pingCancel := context.WithTimeout(appCtx, 5*time.Second)
	if err := repo.Ping(pingCtx); err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}
	pingCancel()

	// 3. Аудит-цепочка (без нее нет разрешений)
	chain := auditchain.NewChain(repo, logger)

	// 4. L1-кэши: холодная загрузка из Postgres + инвалидация по Redis Pub/Sub
	barriers := barrier.NewMemoSet(repo, rdb, logger)
	if err := barriers.Refresh(appCtx); err != nil {
		logger.Fatal("failed to load barrier definitions", zap.Error(err))
	}
	go barriers.StartListener(appCtx)

	policies := pipeline.NewPolicyCache(repo, rdb, logger)
	if err := policies.Refresh(appCtx); err != nil {
		logger.Fatal("failed to load tenant policies", zap.Error(err))
	}
	go policies.StartListener(appCtx)

	vetoes := veto.NewMonitor(logger)
	go vetoes.StartListener(appCtx, rdb)

	// 5. Сэмплер для энтропийных проверок: gRPC если адрес задан, иначе мок
	var smp sampler.Sampler
	if cfg.Pipeline.SamplerAddr != "" {
		conn, err := grpc.Dial(cfg.Pipeline.SamplerAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			logger.Fatal("failed to connect to sampler", zap.Error(err))
		}
		defer conn.Close()
		// Оборачиваем в Reliability (Rate Limit, Circuit Breaker, Retries)
		smp = sampler.NewReliabilityWrapper(sampler.NewGRPCSampler(conn), sampler.Settings{
			CBMaxRequests: cfg.Pipeline.CBMaxRequests,
			CBInterval:    cfg.Pipeline.CBInterval,
			CBTimeout:     cfg.Pipeline.CBTimeout,
		})
	} else {
		logger.Warn("sampler_addr is empty, using mock sampler")
		smp = &sampler.MockSampler{}
	}

	// Метрики
	reg := prometheus.NewRegistry()
	metrics := pipeline.NewMetrics(reg)

	// 6. Fracture: воркер дотягивает ASYNC-энтропию до оркестратора
	// Замыкание через указатель: воркер стартует до сборки оркестратора
	var orch *pipeline.Orchestrator
	worker := fracture.NewWorker(smp, func(ctx context.Context, job fracture.Job, check domain.FractureCheck) {
		orch.HandleEntropyResult(ctx, job, check)
	}, cfg.Pipeline.EntropyQueueSize, cfg.Pipeline.EntropyJobTimeout, metrics.EntropyQueueFill, logger)
	worker.Start()
	detector := fracture.NewDetector(smp, worker, logger)

	recoveryMgr := recovery.NewManager(repo, logger)
	recoveryMgr.StartExpiryJanitor(appCtx, time.Minute)

	gov := governor.New(governor.ExponentialDecay{})
	engine := barrier.NewEngine(logger)

	// Эфемерное состояние сессий: на выселении чистим зависимые кэши
	sessions := pipeline.NewSessionStore(cfg.Pipeline.SessionTTL, func(sessionID string) {
		vetoes.ForgetSession(sessionID)
		engine.ForgetSession(sessionID)
	}, logger)
	sessions.StartJanitor(appCtx, time.Minute)

	// 7. Сборка ядра
	orch = pipeline.NewOrchestrator(
		gov, engine, barriers, vetoes, detector, recoveryMgr,
		chain, sessions, policies, metrics, cfg.Pipeline, logger,
	)

	// Вердикты ревьюеров (HITL) прилетают из консоли через Redis
	go orch.StartEscalationListener(appCtx, rdb)

	// Финализация плиток аудит-цепочки + якорение корней в Redis
	tiles := auditchain.NewTileBuilder(chain, repo, auditchain.NewRedisAnchorer(rdb), auditchain.NewRedisSweepLock(rdb), cfg.Pipeline.TileSize, logger)
	tiles.Start(appCtx, cfg.Pipeline.AnchorInterval)

	// Экспортируем метрики для Prometheus
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		addr := fmt.Sprintf(":%d", cfg.Server.MetricsPort)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	// 8. HTTP Server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      pipeline.NewServer(orch, rdb, logger).Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 9. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("safety pipeline started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop // Ждем сигнал
	logger.Info("safety pipeline stopping...")

	// Даем 5 секунд на завершение запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	// Дренируем очередь энтропии: поздние результаты еще лягут в аудит
	worker.Stop()
	cancel()
	logger.Info("safety pipeline exited properly")
}
