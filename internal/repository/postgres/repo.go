package postgres

/*
Пакет postgres — единственный слой доступа к долговременному хранилищу.
Один пул pgx на процесс; все репозитории — методы на общем Repo.
*/

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xela07ax/cato-pipeline/internal/infra"
)

type Repo struct {
	pool *pgxpool.Pool
}

// NewRepo создает пул соединений. Доступность базы проверяется в main через Ping.
func NewRepo(ctx context.Context, dbCfg infra.DatabaseConfig) (*Repo, error) {
	cfg, err := poolConfig(dbCfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	return &Repo{pool: pool}, nil
}

// poolConfig применяет лимиты пула из конфигурации поверх строки подключения
func poolConfig(dbCfg infra.DatabaseConfig) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(dbCfg.URL)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if dbCfg.MaxConns > 0 {
		cfg.MaxConns = dbCfg.MaxConns
	}
	if dbCfg.MinConns > 0 {
		cfg.MinConns = dbCfg.MinConns
	}
	cfg.MaxConnLifetime = 5 * time.Minute
	return cfg, nil
}

// Ping проверяет доступность базы при старте
func (r *Repo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *Repo) Close() {
	r.pool.Close()
}
