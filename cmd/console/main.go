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

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/cato-pipeline/internal/auditchain"
	"github.com/xela07ax/cato-pipeline/internal/console/handler"
	"github.com/xela07ax/cato-pipeline/internal/console/server"
	"github.com/xela07ax/cato-pipeline/internal/console/service"
	"github.com/xela07ax/cato-pipeline/internal/infra"
	"github.com/xela07ax/cato-pipeline/internal/infra/auth"
	"github.com/xela07ax/cato-pipeline/internal/repository/postgres"
	"go.uber.org/zap"
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

	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Ресурсы
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

	// 3. Криптография: RS256 требует обе половины ключа на стороне консоли
	pubKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("invalid RSA public key", zap.Error(err))
	}
	privKey, err := auth.ParseRSAPrivateKey(cfg.Auth.PrivateKey)
	if err != nil {
		logger.Fatal("invalid RSA private key", zap.Error(err))
	}
	validator := auth.NewBaseValidator(pubKey)

	chain := auditchain.NewChain(repo, logger)

	// 4. Инициализация слоев (Dependency Injection)
	authService := service.NewAuthService(repo, validator, privKey, cfg.Auth.TokenTTL)
	barrierService := service.NewBarrierService(repo, chain, rdb, logger)
	policyService := service.NewPolicyService(repo, chain, rdb, logger)
	escalationService := service.NewEscalationService(repo, chain, rdb, logger)
	auditService := service.NewAuditService(repo, chain)

	srv := server.NewConsoleServer(
		cfg,
		logger,
		authService, // AuthService встраивает BaseValidator и валидирует токены
		handler.NewAuthHandler(authService),
		handler.NewBarrierHandler(barrierService),
		handler.NewPolicyHandler(policyService),
		handler.NewEscalationHandler(escalationService),
		handler.NewDashboardHandler(repo),
		handler.NewAuditHandler(auditService),
	)

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 5. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("console API started", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop
	logger.Info("console API stopping...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	logger.Info("console API exited properly")
}
