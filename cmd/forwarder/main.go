package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/blockedby/tg-forwarder/internal/api"
	"github.com/blockedby/tg-forwarder/internal/config"
	"github.com/blockedby/tg-forwarder/internal/database"
	"github.com/blockedby/tg-forwarder/internal/dedup"
	"github.com/blockedby/tg-forwarder/internal/flow"
	"github.com/blockedby/tg-forwarder/internal/history"
	"github.com/blockedby/tg-forwarder/internal/llm"
	"github.com/blockedby/tg-forwarder/internal/logger"
	"github.com/blockedby/tg-forwarder/internal/pipeline"
	"github.com/blockedby/tg-forwarder/internal/queue"
	"github.com/blockedby/tg-forwarder/internal/repository"
	"github.com/blockedby/tg-forwarder/internal/rulesfile"
	"github.com/blockedby/tg-forwarder/internal/scan"
	"github.com/blockedby/tg-forwarder/internal/session"
	"github.com/blockedby/tg-forwarder/internal/telegram"
	"github.com/blockedby/tg-forwarder/internal/tombstone"
)

func main() {
	// 1. Load config
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// 2. Initialize logger
	if err := logger.Init(cfg.LogLevel, cfg.LogFile); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	log := logger.Get()
	log.Info().Msg("starting forwarder service")

	// 3. Setup context with graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info().Msg("received shutdown signal")
		cancel()
	}()

	// 4. Connect to database
	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	// 5. Initialize repositories
	rulesRepo := repository.NewRulesRepository(db.GORM)
	settingsRepo := repository.NewSettingsRepository(db.GORM)

	// 6. Seed rules from file, if configured
	if cfg.RulesFile != "" {
		rf, err := rulesfile.Load(cfg.RulesFile)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.RulesFile).Msg("failed to load rules file")
		}
		created, err := rulesfile.Seed(ctx, rulesRepo, rf)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to seed rules")
		}
		log.Info().Int("created", created).Str("path", cfg.RulesFile).Msg("rules file applied")
	}

	// 7. Tombstone manager and session store
	tomb := tombstone.NewManager(cfg.TombstonePath,
		tombstone.WithCooldown(time.Duration(cfg.FreezeCooldownSec)*time.Second))
	sessions := session.New(tomb)

	// 8. Initialize telegram manager and client
	if cfg.TGApiID == 0 || cfg.TGApiHash == "" {
		log.Fatal().Msg("TG_API_ID and TG_API_HASH are required")
	}

	tgManager := telegram.NewManager(cfg, db.GORM)
	if err := tgManager.Init(ctx); err != nil {
		// status stays unauthorized, login via the QR endpoint
		log.Error().Err(err).Msg("telegram manager init failed")
	}
	tgClient := telegram.NewClient(tgManager)
	defer tgClient.Close()

	// 9. Dedup engine, restored from the last tombstone if one exists
	extractor := dedup.NewExtractor(tgClient)
	globalSettings, err := settingsRepo.Get(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load dedup settings")
	}
	engine := dedup.NewEngine(extractor, globalSettings.TimeWindowHours,
		dedup.WithMaxEntries(cfg.DedupMaxEntries))
	if globalSettings.EnablePersistentCache {
		tomb.Register("dedup_engine", engine.StateDump, engine.RestoreState)
	}

	if err := tomb.Resurrect(); err != nil {
		log.Warn().Err(err).Msg("tombstone resurrect failed, starting cold")
	}
	if iv := globalSettings.CacheCleanupIntervalSec; iv > 0 {
		go engine.RunCleanup(ctx, time.Duration(iv)*time.Second)
	}

	// 10. Connect task queue
	q, err := queue.New(ctx, cfg.NatsURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to nats")
	}
	defer q.Close()

	// 11. Pipeline consumer
	var llmClient *llm.Client
	if cfg.LLMBaseURL != "" {
		llmClient = llm.NewClient(llm.Config{
			BaseURL:     cfg.LLMBaseURL,
			Model:       cfg.LLMModel,
			APIKey:      cfg.LLMAPIKey,
			MaxTokens:   cfg.LLMMaxTokens,
			Temperature: float32(cfg.LLMTemperature),
			Timeout:     time.Duration(cfg.LLMTimeoutSec) * time.Second,
		})
	}
	var rewriter pipeline.Rewriter
	var summarizer api.Summarizer
	if llmClient != nil {
		rewriter = llmClient
		summarizer = llmClient
	}
	proc := pipeline.New(tgClient, rulesRepo, settingsRepo, engine, rewriter, repository.EffectiveDedupConfig)
	go func() {
		if err := proc.Run(ctx, q); err != nil {
			log.Error().Err(err).Msg("pipeline consumer stopped")
		}
	}()

	// 12. History replay and scan engines
	historyEngine := history.New(tgClient, q, rulesRepo, sessions, history.Options{
		MaxPending:         cfg.MaxPendingTasks,
		BackpressurePause:  cfg.BackpressurePause,
		BackpressureResume: cfg.BackpressureResume,
		PushRetries:        cfg.PushRetries,
		PushBaseDelay:      time.Duration(cfg.PushBaseDelaySec * float64(time.Second)),
	})
	scanEngine := scan.New(tgClient, sessions, extractor)

	// 13. Conversational flows
	machine := flow.NewMachine()
	flow.RegisterRuleHandlers(machine, rulesRepo, sessions)

	// 14. HTTP control server
	server := api.NewServer(&api.Config{Port: cfg.HTTPPort}, &api.Dependencies{
		Telegram:   tgClient,
		History:    historyEngine,
		Scan:       scanEngine,
		Dedup:      engine,
		Queue:      q,
		Pipeline:   proc,
		Flow:       machine,
		Tomb:       tomb,
		Settings:   settingsRepo,
		Sessions:   sessions,
		Rules:      rulesRepo,
		Messages:   tgClient,
		Summarizer: summarizer,
	})

	log.Info().Int("port", cfg.HTTPPort).Msg("starting api server")
	go func() {
		if err := server.Start(); err != nil {
			log.Fatal().Err(err).Msg("api server error")
		}
	}()

	// 15. Wait for shutdown
	<-ctx.Done()
	log.Info().Msg("shutting down services...")

	if err := tomb.Freeze(); err != nil {
		log.Error().Err(err).Msg("failed to freeze state")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("api server shutdown error")
	}

	log.Info().Msg("shutdown complete")
}
