package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pulse/chat-sync/internal/api"
	"github.com/pulse/chat-sync/internal/archive"
	"github.com/pulse/chat-sync/internal/dispatch"
	"github.com/pulse/chat-sync/internal/longpoll"
	"github.com/pulse/chat-sync/internal/messaging"
	"github.com/pulse/chat-sync/internal/metrics"
	"github.com/pulse/chat-sync/internal/reconcile"
	"github.com/pulse/chat-sync/internal/snapshot"
	"github.com/pulse/chat-sync/internal/store"
	"github.com/pulse/chat-sync/internal/transport"
)

// restartDelay paces session restarts after recoverable failures.
const restartDelay = 3 * time.Second

func main() {
	log.Println("Starting chat-sync daemon...")

	token := os.Getenv("VK_TOKEN")
	if token == "" {
		log.Fatal("VK_TOKEN is required")
	}
	accountID, err := strconv.ParseInt(os.Getenv("ACCOUNT_ID"), 10, 64)
	if err != nil || accountID <= 0 {
		log.Fatal("ACCOUNT_ID is required and must be a positive integer")
	}

	// --- transport & API queue ---
	transportConfig := transport.DefaultConfig()
	if v := os.Getenv("PROBE_HOST"); v != "" {
		transportConfig.ProbeHost = v
	}
	if v := os.Getenv("USER_AGENT"); v != "" {
		transportConfig.UserAgent = v
	}
	httpc := transport.New(transportConfig)

	apiConfig := api.DefaultConfig()
	apiConfig.Token = token
	if v := os.Getenv("API_HOST"); v != "" {
		apiConfig.Host = v
	}
	if v := os.Getenv("API_LANG"); v != "" {
		apiConfig.Lang = v
	}
	if v := os.Getenv("VK_ANDROID_TOKEN"); v != "" {
		apiConfig.AndroidToken = v
	}
	if v := os.Getenv("API_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			apiConfig.Timeout = d
		}
	}
	apiClient := api.New(apiConfig, httpc)
	defer apiClient.Close()

	// --- change-event bus (NATS) ---
	var bus store.Bus = store.NopBus{}
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		natsConfig := messaging.DefaultConfig()
		natsConfig.URL = natsURL
		natsBus, err := messaging.NewBus(natsConfig, accountID)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
		defer natsBus.Close()
		bus = natsBus
	}

	// --- cursor snapshot (Redis) ---
	var snap longpoll.Snapshot
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		redisStore, err := snapshot.NewRedisStore(redisAddr, accountID)
		if err != nil {
			log.Fatalf("failed to connect to Redis: %v", err)
		}
		defer redisStore.Close()
		snap = redisStore
	}

	// --- message archive (PostgreSQL) ---
	var archiver reconcile.Archiver
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		archiveStore, err := archive.Open(dsn)
		if err != nil {
			log.Fatalf("failed to open archive: %v", err)
		}
		defer archiveStore.Close()
		archiver = archiveStore
	}

	// --- engine wiring ---
	memory := store.NewMemory()
	handlers := reconcile.New(reconcile.Config{
		AccountID: accountID,
		Archiver:  archiver,
		Sender:    apiClient,
	}, memory, apiClient, bus)
	defer handlers.Close()

	dispatcher := dispatch.New(handlers.Registry())

	pollConfig := longpoll.DefaultConfig()
	if v := os.Getenv("POLL_WAIT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			pollConfig.Wait = d
			pollConfig.PollTimeout = d + time.Second
		}
	}

	// --- metrics endpoint ---
	metricsAddr := ":9184"
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		metricsAddr = v
	}
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		log.Printf("metrics listening on %s", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.Printf("metrics server: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The session loop restarts on transient failures and exits only on
	// cancellation or a condition that needs operator attention.
	for {
		handlers.BeginSession()
		controller := longpoll.New(pollConfig, accountID, apiClient, httpc, dispatcher, memory, bus, snap)
		err := controller.Run(ctx)

		switch {
		case ctx.Err() != nil:
			log.Println("shutting down")
			return
		case errors.Is(err, api.ErrSessionExpired),
			errors.Is(err, api.ErrAccountDeactivated),
			errors.Is(err, api.ErrAccountBlocked),
			errors.Is(err, api.ErrIdentityCheck):
			log.Fatalf("session unusable: %v", err)
		default:
			log.Printf("session ended: %v, restarting in %s", err, restartDelay)
		}

		select {
		case <-time.After(restartDelay):
		case <-ctx.Done():
			log.Println("shutting down")
			return
		}
	}
}
