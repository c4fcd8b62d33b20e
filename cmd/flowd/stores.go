package main

import (
	"context"
	"fmt"

	"options-flow/internal/config"
	"options-flow/internal/storage"
	chstore "options-flow/internal/storage/clickhouse"
	"options-flow/internal/storage/memory"
	pgstore "options-flow/internal/storage/postgres"
	redisstore "options-flow/internal/storage/redis"
)

// stores holds the configured storage backends.
type stores struct {
	trades  storage.TradeStore
	buckets storage.BucketStore
	closers []func()
}

func (s *stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// openStores connects the trade and bucket stores selected in cfg.
// Backends that share a connection reuse it.
func openStores(ctx context.Context, cfg config.StorageConfig) (*stores, error) {
	s := &stores{}
	var pool *pgstore.Pool

	postgresPool := func() (*pgstore.Pool, error) {
		if pool != nil {
			return pool, nil
		}
		p, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		pool = p
		s.closers = append(s.closers, p.Close)
		return p, nil
	}

	switch cfg.Trades {
	case config.BackendPostgres:
		p, err := postgresPool()
		if err != nil {
			s.Close()
			return nil, err
		}
		s.trades = pgstore.NewTradeStore(p)
	case config.BackendClickhouse:
		conn, err := chstore.NewConn(ctx, cfg.ClickhouseDSN)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("connect to clickhouse: %w", err)
		}
		s.closers = append(s.closers, func() { conn.Close() })
		s.trades = chstore.NewTradeStore(conn)
	default:
		s.trades = memory.NewTradeStore()
	}

	switch cfg.Buckets {
	case config.BackendPostgres:
		p, err := postgresPool()
		if err != nil {
			s.Close()
			return nil, err
		}
		s.buckets = pgstore.NewBucketStore(p)
	case config.BackendRedis:
		client, err := redisstore.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.closers = append(s.closers, func() { client.Close() })
		s.buckets = redisstore.NewBucketStore(client, cfg.RedisPrefix)
	default:
		s.buckets = memory.NewBucketStore()
	}

	return s, nil
}
