package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shreedharn/bedrock-cost-keeper/aggregates"
	"github.com/shreedharn/bedrock-cost-keeper/authz"
	"github.com/shreedharn/bedrock-cost-keeper/clock"
	"github.com/shreedharn/bedrock-cost-keeper/config"
	"github.com/shreedharn/bedrock-cost-keeper/credential"
	"github.com/shreedharn/bedrock-cost-keeper/label"
	"github.com/shreedharn/bedrock-cost-keeper/logger"
	"github.com/shreedharn/bedrock-cost-keeper/metering"
	"github.com/shreedharn/bedrock-cost-keeper/observability"
	"github.com/shreedharn/bedrock-cost-keeper/pricing"
	"github.com/shreedharn/bedrock-cost-keeper/provisioning"
	"github.com/shreedharn/bedrock-cost-keeper/router"
	"github.com/shreedharn/bedrock-cost-keeper/selection"
	"github.com/shreedharn/bedrock-cost-keeper/store"
	"github.com/shreedharn/bedrock-cost-keeper/token"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg)

	log.Info().Str("env", cfg.Env).Msg("bedrock-cost-keeper starting")

	s, err := store.NewFromURL(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection failed")
	}
	if err := s.Ping(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("redis ping failed")
	}
	log.Info().Msg("redis connected")

	entries, err := pricing.LoadEntries(cfg.PricebookPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.PricebookPath).Msg("loading pricebook failed")
	}
	byModelID := pricing.IndexByModelID(entries)
	byLabel := pricing.IndexByLabel(entries)

	realClock := clock.System{}

	describer := &label.BedrockDescriber{
		AccessKey: os.Getenv("AWS_ACCESS_KEY_ID"),
		SecretKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
	}

	metrics := observability.NewMetrics(log)
	instrumented := observability.WrapStore(s, metrics)

	credentials := credential.New(instrumented, realClock)
	tokens, err := token.New(
		[]byte(cfg.TokenSigningSecret),
		instrumented,
		realClock,
		int64(cfg.AccessTokenTTL.Seconds()),
		int64(cfg.RefreshTokenTTL.Seconds()),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("token service init failed")
	}
	authorizer := authz.New(tokens)
	labels := label.NewResolver(instrumented, describer, byLabel)
	prices := pricing.NewResolver(instrumented, realClock, byModelID)
	meter := metering.New(instrumented, labels, prices, realClock, cfg.RetentionDays, cfg.DefaultShardCount)
	selector := selection.New(instrumented, meter, realClock, cfg.TightModeThresholdPct)
	aggregator := aggregates.New(instrumented, meter, realClock, cfg.RetentionDays)
	prov := provisioning.New(instrumented, realClock, byLabel)

	r := router.NewRouter(router.Deps{
		Config:       cfg,
		Logger:       log,
		Store:        instrumented,
		Credentials:  credentials,
		Grants:       instrumented,
		Tokens:       tokens,
		Authorizer:   authorizer,
		Provisioning: prov,
		Labels:       labels,
		Meter:        meter,
		Selection:    selector,
		Aggregates:   aggregator,
		Metrics:      metrics,
	})

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-done
	log.Info().Msg("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.GracefulTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	} else {
		log.Info().Msg("stopped gracefully")
	}
}
