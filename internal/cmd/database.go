package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/sakirkocak/teknokul-duel/internal/dbconfig"
)

// setupDatabase opens the duel store: duels, answers, stats, profiles.
func setupDatabase() (*sql.DB, error) {
	cfg := dbconfig.NewConfigFromEnv()

	database, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}

	if err := database.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Database).
		Msg("connected to duel store")
	return database, nil
}

// setupQuestionsPool opens the question content store. It usually lives in a
// separate database from the duel store; QUESTIONS_DB_* variables override
// the DB_* defaults.
func setupQuestionsPool(ctx context.Context) (*pgxpool.Pool, error) {
	cfg := dbconfig.NewQuestionsConfigFromEnv()

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse questions DSN: %w", err)
	}
	poolConfig.MaxConns = int32(getEnvAsInt("QUESTIONS_DB_MAX_CONNS", 4))

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create questions pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping questions database: %w", err)
	}

	log.Info().
		Str("host", cfg.Host).
		Str("database", cfg.Database).
		Msg("connected to question content store")
	return pool, nil
}
