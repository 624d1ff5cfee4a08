// Command daemon runs the Conversation Bus: the ledger (C1), memory router
// (C2), claim store (C3), active-mode registry (C4), debounce-driven
// dispatcher (C5/C7), worker invoker (C6), chat fabric (C8), token gate
// (C9), and the HTTP transport (C10) that fronts all of it. It is the
// single long-running process a deployment needs; cmd/mcpgateway is a
// separate, optional stdio front end onto the same HTTP surface.
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/lyra-systems/convbus/internal/activemode"
	"github.com/lyra-systems/convbus/internal/chatfabric"
	"github.com/lyra-systems/convbus/internal/claimstore"
	"github.com/lyra-systems/convbus/internal/config"
	"github.com/lyra-systems/convbus/internal/debounce"
	"github.com/lyra-systems/convbus/internal/dispatcher"
	"github.com/lyra-systems/convbus/internal/invoker"
	"github.com/lyra-systems/convbus/internal/ledger"
	"github.com/lyra-systems/convbus/internal/memory"
	"github.com/lyra-systems/convbus/internal/observability"
	"github.com/lyra-systems/convbus/internal/tokengate"
	"github.com/lyra-systems/convbus/internal/transport"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		_ = godotenv.Load("example.env")
	}

	observability.InitLogger("convbus.log", "info")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	observability.InitLogger("convbus.log", cfg.Obs.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := observability.InitOTel(ctx, cfg.Obs)
	if err != nil {
		log.Warn().Err(err).Msg("otel init failed, continuing without observability")
		shutdown = nil
	}
	if shutdown != nil {
		defer func() { _ = shutdown(context.Background()) }()
	}

	ledg, err := ledger.New(ctx, cfg.Ledger.DBPath, cfg.Ledger.BusyTimeout, cfg.Ledger.WriteLockWait)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open ledger")
	}
	defer ledg.Close()

	claims, err := claimstore.NewStore(ctx, cfg.Claims)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open claim store")
	}
	defer claims.Close()

	active, err := activemode.New(ctx, cfg.ActiveMode.DBPath, cfg.SelfName, cfg.Ledger.BusyTimeout)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open active-mode registry")
	}
	defer active.Close()

	router, err := memory.NewRouterFromConfig(ledg, cfg.Memory, "chat:general", cfg.Invoker.OpenAIKey, cfg.Invoker.BaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build memory router")
	}

	gate, err := tokengate.New(cfg.TokenGate.EntityPath, cfg.TokenGate.MasterToken, cfg.TokenGate.Strict)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open token gate")
	}

	provider, err := invoker.NewProvider(ctx, cfg.Invoker)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build invoker provider")
	}
	inv := invoker.New(cfg.Invoker, provider)

	ingestor := &dispatcherIngestor{}

	var hub *chatfabric.Hub
	if cfg.ChatFabric.DSN != "" {
		store, err := chatfabric.NewStoreFromDSN(ctx, cfg.ChatFabric.DSN)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open chat fabric store")
		}
		hub = chatfabric.NewHub(store, ingestor, "chat:")
	} else {
		log.Warn().Msg("CHAT_DSN not set, chat fabric disabled")
	}

	deps := dispatcher.Deps{
		Ledger:   ledgerAdapter{l: ledg},
		Claims:   claims,
		Active:   active,
		Memory:   memoryRouterAdapter{router: router},
		Invoker:  invokerAdapter{inv: inv},
		SelfName: cfg.SelfName,
		Instance: cfg.SelfName,
		ClaimTTL: cfg.Claims.TTL,
	}
	if hub != nil {
		deps.Broadcast = hub
	}
	debounceCfg := debounce.Config{
		Initial:             cfg.Debounce.Initial,
		HumanInitial:        cfg.Debounce.HumanInitial,
		RapidThreshold:      cfg.Debounce.RapidThreshold,
		Increment:           cfg.Debounce.Increment,
		Max:                 cfg.Debounce.Max,
		HumanPresenceWindow: cfg.Debounce.HumanPresenceWindow,
	}
	disp := dispatcher.New(ctx, deps, debounceCfg, map[string]bool{})
	ingestor.disp = disp

	go claimstore.RunSweeper(ctx, claims, cfg.Claims.SweepEvery, func(n int64, err error) {
		if err != nil {
			log.Warn().Err(err).Msg("claim sweep failed")
		} else if n > 0 {
			log.Debug().Int64("count", n).Msg("swept expired claims")
		}
	})
	go active.RunReaper(ctx, cfg.ActiveMode.Timeout, cfg.ActiveMode.ReaperPeriod, func(channel string) {
		log.Debug().Str("channel", channel).Msg("active mode evicted")
	})

	if cfg.Kafka.Brokers != "" && cfg.Kafka.Topic != "" {
		startKafkaIngest(ctx, disp, cfg)
	}

	startBackupTicker(ctx, ledg, cfg)

	mux := transport.NewMux(transport.Deps{Router: router, Ledger: ledg, Gate: gate, Hub: hub})
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Ledger.WriteLockWait)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", cfg.HTTPAddr).Msg("convbus daemon listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server failed")
	}
}

