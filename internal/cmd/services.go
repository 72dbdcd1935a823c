package main

import (
	"context"
	"database/sql"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/sakirkocak/teknokul-duel/clients/questionindex"
	"github.com/sakirkocak/teknokul-duel/internal/duel"
	dueldb "github.com/sakirkocak/teknokul-duel/internal/duel/db"
	"github.com/sakirkocak/teknokul-duel/internal/gateway"
	"github.com/sakirkocak/teknokul-duel/internal/provisioner"
	"github.com/sakirkocak/teknokul-duel/internal/questionstore"
	"github.com/sakirkocak/teknokul-duel/internal/realtime"
)

type Services struct {
	Duel        *duel.App
	Provisioner *provisioner.Provisioner
	Gateway     *gateway.Service
}

func setupServices(ctx context.Context, config *Config, database *sql.DB, questionsPool *pgxpool.Pool, nc *nats.Conn) *Services {
	// Wire up dependency injection chain
	// Database layer → Repository layer → App layer → Gateway layer

	// Duel store
	queries := dueldb.New(database)
	duelRepo := duel.NewRepository(queries, database)
	duelApp := duel.NewApp(duelRepo)

	// Question sourcing: search index when configured, content store always
	var index provisioner.Source
	if url := getEnv("QUESTION_INDEX_URL", ""); url != "" {
		index = questionindex.NewClient(url, getEnv("QUESTION_INDEX_API_KEY", ""))
		log.Info().Str("url", url).Msg("question index enabled")
	} else {
		log.Info().Msg("no question index configured, sourcing from content store only")
	}
	contentStore := questionstore.NewStore(questionsPool)

	// Provisioning leases and rate limits, shared across the fleet
	leases := setupLeaseStore(ctx, nc, config)

	prov := provisioner.NewProvisioner(duelRepo, index, contentStore, leases, nil)

	// Gateway: WebSocket bridge plus REST surface
	gatewayConfig := gateway.DefaultConfig()
	gatewayConfig.ConnectionConfig.PingInterval = time.Duration(config.Gateway.PingIntervalSeconds) * time.Second
	gatewayConfig.ConnectionConfig.ReadTimeout = time.Duration(config.Gateway.ReadTimeoutSeconds) * time.Second
	gatewayService := gateway.NewService(gatewayConfig, nc, prov, duelApp, duelApp)

	return &Services{
		Duel:        duelApp,
		Provisioner: prov,
		Gateway:     gatewayService,
	}
}

// setupLeaseStore prefers the JetStream-backed store so leases hold across
// instances. Without JetStream the process-local store still guards a
// single-instance deployment.
func setupLeaseStore(ctx context.Context, nc *nats.Conn, config *Config) realtime.LeaseStore {
	js, err := jetstream.New(nc)
	if err == nil {
		store, kvErr := realtime.NewKVLeaseStore(ctx, js, "duel-leases", config.rateWindow())
		if kvErr == nil {
			log.Info().Msg("using JetStream lease store")
			return store
		}
		err = kvErr
	}
	log.Warn().Err(err).Msg("JetStream unavailable, falling back to in-memory lease store")
	return realtime.NewMemoryLeaseStore(config.rateWindow(), nil)
}
