package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/competition/internal/api"
	"example.com/competition/internal/auth"
	"example.com/competition/internal/config"
	"example.com/competition/internal/domain"
	"example.com/competition/internal/notify"
	"example.com/competition/internal/outbox"
	persistence "example.com/competition/internal/persistence/postgres"
	"example.com/competition/internal/realtime"
	"example.com/competition/internal/scheduler"
	httptransport "example.com/competition/internal/transport/http"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	users := persistence.NewUserRepository(pool)
	challenges := persistence.NewChallengeRepository(pool)
	battles := persistence.NewBattleRepository(pool)

	producer := outbox.NewKafkaProducer(outbox.ProducerConfig{
		Brokers:      cfg.KafkaBrokers,
		BatchTimeout: cfg.KafkaBatchTimeout,
		WriteTimeout: cfg.KafkaWriteTimeout,
	})
	defer producer.Close()

	dispatcher := outbox.NewDispatcher(pool, producer, cfg.OutboxPollInterval, cfg.OutboxBatchSize)
	go dispatcher.Start(ctx)

	registry := realtime.NewRegistry()
	fanout := notify.NewFanout(registry)
	timers := scheduler.NewBattleTimers()

	challengeService := domain.NewChallengeService(challenges, users, fanout)
	battleService := domain.NewBattleService(battles, users, fanout, timers, domain.BattleServiceConfig{
		CountdownUnit:             cfg.CountdownUnit,
		QuickChallengeRadiusMiles: cfg.QuickRadiusMiles,
	})
	leaderboardService := domain.NewLeaderboardService(challenges, users)

	sweeper := scheduler.NewSweeper(challengeService.ExpireChallenges, cfg.SweepInterval)
	go sweeper.Start(ctx)

	handler := api.NewHandler(challengeService, battleService, leaderboardService)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/v1/ws", realtime.Handler(registry))
	mux.Handle("/metrics", promhttp.Handler())

	// Simple CORS middleware for local dev
	cors := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "http://localhost:5173")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}

	// Basic request logger
	logger := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("%s %s", r.Method, r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}

	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer})

	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:      cfg.HTTPAddress,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 0, // Websocket connections outlive any fixed write window.
		IdleTimeout:  60 * time.Second,
	}, authMiddleware.Wrap(logger(cors(mux))))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("competition-service listening on %s", cfg.HTTPAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-shutdownCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	battleService.Shutdown()
	sweeper.Wait()
	dispatcher.Wait()
}
