// Command server starts the session mediation core: the WebSocket/HTTP
// surface that bridges customers, the AI voice provider, and supervisors.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"

	"github.com/birddigital/voicebridge/internal/analytics"
	"github.com/birddigital/voicebridge/internal/config"
	"github.com/birddigital/voicebridge/internal/httpapi"
	"github.com/birddigital/voicebridge/internal/manager"
	"github.com/birddigital/voicebridge/internal/store"
	"github.com/birddigital/voicebridge/internal/supervisor"
	"github.com/birddigital/voicebridge/internal/wire"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		log.Printf("config: %v", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Printf("store: %v", err)
		return 1
	}
	defer st.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	cache := analytics.NewResultCache(redisClient)

	collab := analytics.NewAnthropicCollaborator(cfg.APIKey, cfg.AnalysisModel, cfg.EscalationThreshold)

	// registry needs a snapshot provider that calls back into the not-yet-
	// constructed manager; mgr is assigned below before the registry is ever
	// exercised (no supervisor can attach before ListenAndServe starts).
	var mgr *manager.Manager
	registry := supervisor.New(func() []wire.Outbound {
		return []wire.Outbound{mgr.SessionsListEvent()}
	})
	mgr = manager.New(cfg, registry, st, collab, cache)

	srv := httpapi.New(mgr, registry, st)
	router := mux.NewRouter()
	srv.RegisterRoutes(router)

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on :%s", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		log.Printf("shutdown signal received, stopping...")
	case err := <-errCh:
		if err != nil {
			log.Printf("listen: %v", err)
			return 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
		return 1
	}
	return 0
}
