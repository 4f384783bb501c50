package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/presence/internal/adapters/httpapi"
	"github.com/dkeye/presence/internal/adapters/ws"
	"github.com/dkeye/presence/internal/app"
	"github.com/dkeye/presence/internal/config"
	"github.com/dkeye/presence/internal/core"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	reg := core.NewRegistry()
	hub := ws.NewHub(cfg.AllowedOrigins, cfg.ReadLimit, cfg.PingPeriod)
	gw := app.NewGateway(hub)
	pres := app.NewPresence(reg, gw, cfg.RemoveUserAfter, cfg.ClearGuestsEvery)
	pres.StrictJoin = cfg.StrictJoin
	hub.SetPresence(pres)

	go pres.Run(ctx)

	r := httpapi.SetupRouter(ctx, cfg, hub, gw, reg)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Str("scheme", cfg.Scheme).Msg("presence server started")
		var err error
		if cfg.Scheme == "https" {
			srv.TLSConfig = tlsConfig(cfg)
			err = srv.ListenAndServeTLS(cfg.TLS.Cert, cfg.TLS.Key)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}

func tlsConfig(cfg *config.Config) *tls.Config {
	out := &tls.Config{}
	if cfg.TLS.CA != "" {
		pem, err := os.ReadFile(cfg.TLS.CA)
		if err != nil {
			log.Fatal().Err(err).Str("ca", cfg.TLS.CA).Msg("failed to read CA file")
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			log.Fatal().Str("ca", cfg.TLS.CA).Msg("no certificates found in CA file")
		}
		out.ClientCAs = pool
	}
	if cfg.TLS.RequireClientCert {
		out.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return out
}
