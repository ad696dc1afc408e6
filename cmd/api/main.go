package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/medlens/backend/internal/config"
	"github.com/zhouzirui/medlens/backend/internal/handler"
	"github.com/zhouzirui/medlens/backend/internal/model/task"
	"github.com/zhouzirui/medlens/backend/internal/service/ai"
	"github.com/zhouzirui/medlens/backend/internal/service/archive"
	"github.com/zhouzirui/medlens/backend/internal/service/chat"
	"github.com/zhouzirui/medlens/backend/internal/service/condense"
	"github.com/zhouzirui/medlens/backend/internal/service/extraction"
	"github.com/zhouzirui/medlens/backend/internal/service/speech"
	"github.com/zhouzirui/medlens/backend/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	logger.Setup(cfg.Log.Level, cfg.Log.Pretty)

	if envErr != nil {
		log.Warn().Err(envErr).Msg("no .env file, continuing with system environment variables only")
	}

	tasks := task.NewMemoryStore(task.Seed())

	var chatModel model.BaseChatModel
	if cfg.AI.Enabled() {
		cm, err := ai.NewChatModel(ctx, cfg.AI)
		if err != nil {
			log.Warn().Err(err).Str("provider", cfg.AI.Provider).Msg("failed to initialize chat model, continuing without AI")
		} else {
			chatModel = cm
			log.Info().Str("provider", cfg.AI.Provider).Str("model", cfg.AI.Model).Msg("chat model initialized")
		}
	} else {
		log.Warn().Str("provider", cfg.AI.Provider).Msg("模型凭证未配置，跳过 AI 功能初始化")
	}

	var summaryModel model.BaseChatModel
	if chatModel != nil {
		if sm, err := ai.NewSummaryModel(ctx, cfg.AI); err != nil {
			log.Warn().Err(err).Msg("summary model unavailable, voice summaries use local fallback")
		} else {
			summaryModel = sm
		}
	}

	condenser, err := condense.NewService(ctx, summaryModel)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build summary chain")
	}

	chatSvc, err := chat.NewService(chatModel, condenser, chat.DefaultMaxSessions)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create session registry")
	}

	deps := handler.Deps{
		Tasks:           tasks,
		Extractor:       extraction.NewService(chatModel, tasks),
		Archive:         archive.NewOsStore(cfg.Storage.DataDir),
		Chat:            chatSvc,
		RateLimitPerMin: cfg.Server.RateLimitPerMin,
	}

	if cfg.Speech.Enabled {
		speechSvc := speech.NewService(cfg.Speech.ClientConfig())
		output := speech.NewOutput(speechSvc, filepath.Clean(cfg.Voice.ArtifactDir),
			speech.WithCleanupDelay(cfg.Voice.CleanupDelay),
			speech.WithLanguage(cfg.Speech.TTSLanguage),
		)
		defer output.Close()

		deps.Speech = speechSvc
		deps.VoiceChain = speech.NewVoiceChain(speech.NewInput(speechSvc, cfg.Voice.CaptureTimeout, "wav"), output)
		log.Info().Str("artifacts", cfg.Voice.ArtifactDir).Msg("speech service initialized")
	} else {
		log.Warn().Msg("语音服务凭证未配置，跳过语音功能初始化")
	}

	startServer(ctx, cfg.Server, handler.NewRouter(deps))
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info().Str("addr", addr).Msg("MedLens backend listening")
	if err := runServer(ctx, srv); err != nil {
		log.Error().Err(err).Msg("server error")
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
