package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB 数据库连接池封装
type DB struct {
	Pool *pgxpool.Pool
}

// New 创建数据库连接
func New(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	// 连接池配置
	config.MaxConns = 10
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	// 测试连接
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close 关闭连接池
func (db *DB) Close() {
	db.Pool.Close()
}

// Migrate 执行数据库迁移
func (db *DB) Migrate(ctx context.Context) error {
	migrations := []string{
		migrationCreateTrackingSessions,
		migrationCreateSpeedLimitEvents,
	}

	for _, m := range migrations {
		if _, err := db.Pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	return nil
}

// 数据库迁移 SQL
// 只持久化会话元数据与限速事件，原始定位点不落库
const migrationCreateTrackingSessions = `
CREATE TABLE IF NOT EXISTS tracking_sessions (
    id UUID PRIMARY KEY,
    mode VARCHAR(20) NOT NULL,
    background_on BOOLEAN NOT NULL DEFAULT FALSE,
    interval_ms BIGINT NOT NULL,
    started_at TIMESTAMP WITH TIME ZONE NOT NULL,
    ended_at TIMESTAMP WITH TIME ZONE,
    accepted_fixes BIGINT NOT NULL DEFAULT 0,
    dropped_fixes BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_tracking_sessions_started_at ON tracking_sessions(started_at);
`

const migrationCreateSpeedLimitEvents = `
CREATE TABLE IF NOT EXISTS speed_limit_events (
    id BIGSERIAL PRIMARY KEY,
    session_id UUID NOT NULL REFERENCES tracking_sessions(id),
    kind VARCHAR(20) NOT NULL,
    limit_kph INT NOT NULL DEFAULT 0,
    segment_id VARCHAR(64) NOT NULL,
    latitude DOUBLE PRECISION NOT NULL,
    longitude DOUBLE PRECISION NOT NULL,
    occurred_at TIMESTAMP WITH TIME ZONE NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_speed_limit_events_session_id ON speed_limit_events(session_id);
CREATE INDEX IF NOT EXISTS idx_speed_limit_events_occurred_at ON speed_limit_events(occurred_at);
`
