package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"gtdbot/internal/config"
	"gtdbot/internal/conversation"
	"gtdbot/internal/domain"
	"gtdbot/internal/executor"
	"gtdbot/internal/gateway"
	"gtdbot/internal/guard"
	"gtdbot/internal/identity"
	"gtdbot/internal/intent"
	"gtdbot/internal/maintenance"
	"gtdbot/internal/media"
	"gtdbot/internal/metrics"
	"gtdbot/internal/pipeline"
	"gtdbot/internal/provider"
	"gtdbot/internal/server"
	"gtdbot/internal/store"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server, pipeline and maintenance janitor",
		Long:  "Starts the gateway webhook server and the maintenance scheduler. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, logCloser, err := setupLogger(cfg.General)
	if err != nil {
		return err
	}
	defer logCloser.Close()
	logger = log
	provider.UserAgent = "gtdbot/" + version

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loc := cfg.General.Location()

	st, err := store.NewSQLiteStore(config.ExpandPath(cfg.Store.DBPath), logger)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer st.Close()

	llm, err := provider.NewFactory(cfg.LLM, logger).Build()
	if err != nil {
		return fmt.Errorf("llm provider: %w", err)
	}
	if err := llm.Healthy(ctx); err != nil {
		logger.Warn("llm provider unhealthy at startup; the classifier will fall back", "provider", llm.Name(), "err", err)
	} else {
		logger.Info("llm provider healthy", "provider", llm.Name())
	}

	collector := metrics.New()

	composers, telegram, err := buildGateways(cfg, collector)
	if err != nil {
		return err
	}

	p := pipeline.New(buildPipelineConfig(cfg, st, llm, composers, collector, loc))

	srvCfg := server.Config{
		Host:        cfg.Server.Host,
		Port:        cfg.Server.Port,
		WebhookPath: cfg.Server.WebhookPath,
		APIKey:      cfg.Server.APIKey,
		Pipeline:    p,
		Observer:    collector,
		Logger:      logger,
	}
	if telegram != nil {
		srvCfg.TelegramPath = cfg.Gateway.Telegram.WebhookPath
		srvCfg.TelegramSecret = cfg.Gateway.Telegram.SecretToken
		srvCfg.Telegram = telegram
	}
	if cfg.Metrics.Enabled {
		srvCfg.MetricsPath = cfg.Metrics.Path
		srvCfg.MetricsHandler = collector.Handler()
	}
	srv := server.New(srvCfg)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })

	if cfg.Maintenance.Enabled {
		janitor := maintenance.New(maintenance.Config{
			Store:    st,
			Schedule: cfg.Maintenance.Schedule,
			Location: loc,
			Retain:   cfg.Pipeline.HistoryRetain,
			Logger:   logger,
		})
		g.Go(func() error { return janitor.Run(gctx) })
	}

	logger.Info("gtdbot started", "version", version, "timezone", loc.String())
	err = g.Wait()
	logger.Info("gtdbot stopped")
	return err
}

// buildGateways returns one composer per enabled gateway. The Telegram client
// is also returned so the server can acknowledge button taps.
func buildGateways(cfg *config.Config, observer gateway.DeliveryObserver) ([]*gateway.Composer, *gateway.Telegram, error) {
	evo := gateway.NewEvolution(gateway.EvolutionConfig{
		BaseURL:    cfg.Gateway.BaseURL,
		APIKey:     cfg.Gateway.APIKey,
		Instance:   cfg.Gateway.Instance,
		HTTPClient: provider.SharedHTTPClient(30 * time.Second),
		Logger:     logger,
	})
	composers := []*gateway.Composer{
		gateway.NewComposer(gateway.ComposerConfig{Client: evo, Observer: observer, Logger: logger}),
	}

	if !cfg.Gateway.Telegram.Enabled {
		logger.Info("telegram gateway disabled")
		return composers, nil, nil
	}
	tg, err := gateway.NewTelegram(gateway.TelegramConfig{
		Token:    cfg.Gateway.Telegram.Token,
		MaxBytes: cfg.Transcription.MaxBytes,
		Logger:   logger,
	})
	if err != nil {
		return nil, nil, err
	}
	composers = append(composers, gateway.NewComposer(gateway.ComposerConfig{Client: tg, Observer: observer, Logger: logger}))
	return composers, tg, nil
}

func buildPipelineConfig(cfg *config.Config, st *store.SQLiteStore, llm domain.Provider, composers []*gateway.Composer, collector *metrics.Collector, loc *time.Location) pipeline.Config {
	convs := conversation.New(conversation.Config{
		Store:  st,
		Retain: cfg.Pipeline.HistoryRetain,
		Logger: logger,
	})

	var stt domain.SpeechToText
	language := cfg.Transcription.Language
	if language == "" {
		language = cfg.General.Language
	}
	if cfg.Transcription.Enabled {
		stt = provider.NewWhisperProvider(provider.WhisperConfig{
			APIBase:  cfg.Transcription.APIBase,
			APIKey:   cfg.Transcription.APIKey,
			Model:    cfg.Transcription.Model,
			Language: language,
			Timeout:  time.Duration(cfg.Transcription.TimeoutSeconds) * time.Second,
			Logger:   logger,
		})
	} else {
		logger.Info("transcription disabled: voice notes will get a fallback reply")
	}

	return pipeline.Config{
		Guard: guard.New(guard.Config{
			Markers: st,
			Window:  cfg.Pipeline.FreshnessWindow(),
			Logger:  logger,
		}),
		Resolver: identity.NewResolver(identity.ResolverConfig{Accounts: st, Logger: logger}),
		Linker: identity.NewLinker(identity.LinkerConfig{
			Accounts: st,
			TTL:      cfg.Pipeline.LinkCodeTTL(),
			Logger:   logger,
		}),
		Transcriber: media.New(media.Config{
			STT:      stt,
			Language: language,
			MaxBytes: cfg.Transcription.MaxBytes,
			Timeout:  time.Duration(cfg.Transcription.TimeoutSeconds) * time.Second,
			Logger:   logger,
		}),
		Conversations: convs,
		Classifier: intent.New(intent.Config{
			Provider:    llm,
			Location:    loc,
			Timeout:     time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
			Temperature: cfg.LLM.Temperature,
			Logger:      logger,
		}),
		Executor: executor.New(executor.Config{
			Tasks:         st,
			Conversations: convs,
			Location:      loc,
			Logger:        logger,
		}),
		Gateways:         composers,
		Observer:         collector,
		HistoryWindow:    cfg.Pipeline.HistoryWindow,
		SerializePerUser: cfg.Pipeline.SerializePerUser,
		Timeout:          time.Duration(cfg.Pipeline.TimeoutSeconds) * time.Second,
		Logger:           logger,
	}
}
