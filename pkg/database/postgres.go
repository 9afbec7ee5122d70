package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"rfp-smart-go/pkg/log"
)

// OpenPostgres 创建 pgx 连接池，并执行 schema 中的建表语句。
// 每个新连接都会注册 vector 类型。
func OpenPostgres(ctx context.Context, dsn string, schema []string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}

	// 扩展需先于类型注册创建
	boot, err := pgx.ConnectConfig(ctx, cfg.ConnConfig.Copy())
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	for _, stmt := range schema {
		if _, err := boot.Exec(ctx, stmt); err != nil {
			_ = boot.Close(ctx)
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	_ = boot.Close(ctx)

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	log.Info("Postgres (pgvector) connected successfully")
	return pool, nil
}
