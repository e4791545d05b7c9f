package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nidhogg/limbic-flow/internal/api"
	"github.com/nidhogg/limbic-flow/internal/config"
	"github.com/nidhogg/limbic-flow/internal/gateway"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the configured chat gateways",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Server.LogLevel, false)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting Limbic...", zap.String("config", configPath))
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	gw := buildGateway(cfg, a, logger)
	enactor := gateway.NewEnactor(gw, a.pipeline, cfg.Pacer(), cfg.Gateway.TurnTimeout.Std(), logger)
	enactor.Listen(ctx)

	handler := api.NewHandler(a.pipeline, a.engine, a.history, a.memories, a.embedder, a.router, a.cortex, gw, logger)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Limbic listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down Limbic...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if len(gw.Adapters()) > 0 {
		if err := gw.ConnectAll(gctx); err != nil {
			logger.Warn("some gateway adapters failed to connect", zap.Error(err))
		}
	}
	if cfg.Persona.Watch {
		if err := a.personas.Watch(gctx); err != nil {
			logger.Warn("persona hot reload disabled", zap.Error(err))
		}
	}
	if r := cfg.Gateway.Relay; r.Enabled {
		if a.actions == nil {
			logger.Warn("relay enabled but the action bus is unavailable")
		} else {
			relay := gateway.NewRelay(a.actions, enactor, cfg.Database.Redis.Channel,
				gateway.Target{Platform: r.Platform, ChannelID: r.ChannelID}, logger)
			g.Go(func() error { return relay.Run(gctx) })
		}
	}

	err = g.Wait()
	enactor.Wait()
	if cerr := gw.Close(); cerr != nil {
		logger.Warn("gateway close", zap.Error(cerr))
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// buildGateway registers an adapter for every enabled platform. The bot
// identity defaults to the active persona's name.
func buildGateway(cfg *config.Config, a *app, logger *zap.Logger) *gateway.Gateway {
	gw := gateway.NewGateway(logger)

	id := gateway.Identity{
		Name:    cfg.Gateway.Identity.Name,
		IconURL: cfg.Gateway.Identity.IconURL,
		Emoji:   cfg.Gateway.Identity.Emoji,
	}
	if id.Name == "" {
		id.Name = a.personas.Current().Name
	}

	if s := cfg.Gateway.Slack; s.Enabled && s.BotToken != "" {
		gw.Register(gateway.NewSlackAdapter(s.BotToken, s.AppToken, id, logger))
	}
	if d := cfg.Gateway.Discord; d.Enabled && d.BotToken != "" {
		adapter := gateway.NewDiscordAdapter(d.BotToken, id, logger)
		for channelID, url := range d.Webhooks {
			adapter.SetWebhook(channelID, url)
		}
		gw.Register(adapter)
	}
	return gw
}
