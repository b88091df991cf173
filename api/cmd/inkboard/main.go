package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	"github.com/rs/zerolog"

	"inkboard/api/internal/board"
	"inkboard/api/internal/config"
	"inkboard/api/internal/recognize"
	"inkboard/api/internal/recognize/gemini"
	"inkboard/api/internal/recognize/predict"
	"inkboard/api/internal/store"
	"inkboard/api/internal/telegram"
	"inkboard/api/internal/web"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zerolog.New(os.Stderr).Fatal().Err(err).Msg("load config")
	}
	log := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Engines ---
	predictClient, err := predict.NewClient(cfg.PredictURL, &http.Client{})
	if err != nil {
		log.Fatal().Err(err).Msg("create predict client")
	}
	engines := recognize.Registry{Predict: predictClient}
	var baseGemini *gemini.Engine
	if cfg.GeminiAPIKey != "" {
		baseGemini = gemini.New(cfg.GeminiAPIKey, cfg.GeminiModel)
		engines.Gemini = baseGemini
		engines.GeminiModel = func(model string) recognize.Engine { return baseGemini.WithModel(model) }
	}

	// --- Postgres (optional) ---
	var (
		db   *sql.DB
		repo *store.EvaluationRepo
	)
	if cfg.DatabaseURL != "" {
		db, repo = openHistory(ctx, cfg, log)
		defer db.Close()

		histLog := log.With().Str("component", "history").Logger()
		engines.Predict = store.NewCachingEngine(engines.Predict, repo, cfg.HistoryMaxAge, histLog)
		if baseGemini != nil {
			engines.Gemini = store.NewCachingEngine(baseGemini, repo, cfg.HistoryMaxAge, histLog)
			engines.GeminiModel = func(model string) recognize.Engine {
				return store.NewCachingEngine(baseGemini.WithModel(model), repo, cfg.HistoryMaxAge, histLog)
			}
		}
		go purgeHistory(ctx, repo, cfg.HistoryMaxAge, histLog)
	}

	def := engines.ByName(cfg.Engine)
	log.Info().Str("engine", def.Name()).Str("model", def.GetModel()).Msg("default engine")

	// --- Boards ---
	boardLog := log.With().Str("component", "board").Logger()
	boards := board.NewRegistry(func() *board.Board {
		return board.New(def, board.WithTimeout(cfg.PredictTimeout), board.WithLogger(boardLog))
	}, cfg.BoardIdleTTL, boardLog)
	go boards.Run(ctx, time.Minute)

	// --- HTTP ---
	if log.GetLevel() > zerolog.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}
	opts := []web.Option{}
	if repo != nil {
		opts = append(opts, web.WithHistory(repo), web.WithPinger(db))
	}
	srv := web.New(boards, log.With().Str("component", "web").Logger(), opts...)
	engine := srv.Router()

	// --- Telegram bot (optional) ---
	if cfg.TelegramBotToken != "" {
		startBot(ctx, cfg, engine, &telegram.Router{
			Boards:     boards,
			EngManager: recognize.NewManager(def),
			Engines:    engines,
			Log:        log.With().Str("component", "telegram").Logger(),
		}, log)
	}

	httpSrv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", httpSrv.Addr).Msg("http listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Logger()
}

func openHistory(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*sql.DB, *store.EvaluationRepo) {
	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("sql.Open")
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(1 * time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		log.Fatal().Err(err).Msg("db.Ping")
	}
	repo := store.NewEvaluationRepo(db)
	if err := repo.EnsureSchema(pingCtx); err != nil {
		log.Fatal().Err(err).Msg("ensure schema")
	}
	log.Info().Str("db", config.SafeDSNSummary(cfg.DatabaseURL)).Msg("db connected")
	return db, repo
}

// purgeHistory drops expired evaluations once a day.
func purgeHistory(ctx context.Context, repo *store.EvaluationRepo, maxAge time.Duration, log zerolog.Logger) {
	if maxAge <= 0 {
		return
	}
	t := time.NewTicker(24 * time.Hour)
	defer t.Stop()
	for {
		n, err := repo.PurgeOlderThan(ctx, maxAge)
		if err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("purge history")
		} else if n > 0 {
			log.Info().Int64("rows", n).Msg("purged history")
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func startBot(ctx context.Context, cfg *config.Config, engine *gin.Engine, r *telegram.Router, log zerolog.Logger) {
	bot, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		log.Fatal().Err(err).Msg("telegram login")
	}
	r.Bot = bot
	log.Info().Str("bot", bot.Self.UserName).Msg("telegram authorized")

	webhookURL := strings.TrimSpace(cfg.WebhookURL)
	if webhookURL == "" {
		go runPolling(ctx, bot, log, func(upd tgbotapi.Update) { go r.HandleUpdate(upd) })
		return
	}

	path := "/webhook/" + shortHash(bot.Token)
	wh, err := tgbotapi.NewWebhook(strings.TrimRight(webhookURL, "/") + path)
	if err != nil {
		log.Fatal().Err(err).Msg("telegram webhook")
	}
	wh.DropPendingUpdates = true
	if _, err := bot.Request(wh); err != nil {
		log.Fatal().Err(err).Msg("telegram set webhook")
	}
	engine.POST(path, func(c *gin.Context) {
		upd, err := bot.HandleUpdate(c.Request)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusOK)
		go r.HandleUpdate(*upd)
	})
	log.Info().Str("path", path).Msg("webhook registered")
}
