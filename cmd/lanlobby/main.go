package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mctier/lanlobby/internal/adapters/discovery"
	"github.com/mctier/lanlobby/internal/adapters/httpapi"
	"github.com/mctier/lanlobby/internal/adapters/relay"
	"github.com/mctier/lanlobby/internal/adapters/tunnel"
	"github.com/mctier/lanlobby/internal/app"
	"github.com/mctier/lanlobby/internal/chat"
	"github.com/mctier/lanlobby/internal/config"
	"github.com/mctier/lanlobby/internal/hosts"
	"github.com/mctier/lanlobby/internal/share"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Mode == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	// A crashed previous run may have left hosts entries behind.
	patcher := hosts.NewPatcher()
	if err := patcher.CleanupAll(); err != nil {
		log.Warn().Err(err).Msg("hosts cleanup failed")
	}

	bus := app.NewBus()
	supervisor := tunnel.NewSupervisor(cfg)
	disco := discovery.NewService(cfg, bus)
	session := app.NewSessionManager(supervisor, disco, bus, cfg.HostVirtualIP)

	chatStore := chat.NewStore()
	shares := share.NewRegistry()
	relaySrv := relay.NewServer()

	tap := &eventTap{
		cfg:         cfg,
		session:     session,
		disco:       disco,
		patcher:     patcher,
		relayClient: relay.NewClient(bus),
	}
	events, unsubscribe := bus.Subscribe(64)
	defer unsubscribe()
	go tap.run(ctx, events)

	api := httpapi.NewAPI(cfg, session, supervisor, chatStore, shares, relaySrv)
	apiSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: httpapi.SetupRouter(cfg, api),
	}

	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	relayEngine := gin.New()
	relayEngine.Use(gin.Recovery())
	relaySrv.Register(relayEngine)
	relayHTTP := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.RelayPort),
		Handler: relayEngine,
	}

	go func() {
		log.Info().Str("addr", apiSrv.Addr).Msg("control API started")
		if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("control API error")
		}
	}()
	go func() {
		log.Info().Str("addr", relayHTTP.Addr).Msg("relay started")
		if err := relayHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("relay error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	if err := session.Leave(); err != nil {
		log.Debug().Err(err).Msg("no session to leave")
	}
	tap.relayClient.Close()
	if err := patcher.CleanupAll(); err != nil {
		log.Warn().Err(err).Msg("hosts cleanup failed")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("control API forced to shutdown")
	}
	if err := relayHTTP.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("relay forced to shutdown")
	}
	log.Info().Msg("Exited gracefully")
}
