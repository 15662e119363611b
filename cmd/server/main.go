package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"medical-interview-agent/internal/agent"
	"medical-interview-agent/internal/config"
	"medical-interview-agent/internal/consultation"
	"medical-interview-agent/internal/observability"
	"medical-interview-agent/internal/platform/telegram"
	"medical-interview-agent/internal/report"
)

func main() {
	log := observability.Logger()
	cfg := config.Load()

	// 1. Infrastructure
	repo := consultation.NewMemoryRepository()
	if cfg.DatabaseURL != "" {
		db, err := openDB(cfg.DatabaseURL)
		if err != nil {
			log.Warn("could not connect to database, outcomes kept in memory", "error", err)
		} else {
			defer db.Close()
			runMigrations(cfg.DatabaseURL)
			repo = consultation.NewRepository(db)
		}
	}

	cache := consultation.NewMemorySnapshotCache(cfg.SnapshotTTL)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Warn("redis unavailable, snapshots cached in memory", "addr", cfg.RedisAddr, "error", err)
		} else {
			defer rdb.Close()
			cache = consultation.NewRedisSnapshotCache(rdb, cfg.SnapshotTTL)
			log.Info("connected to redis", "addr", cfg.RedisAddr)
		}
	}

	// 2. Clients
	var oracle consultation.AnalysisOracle = agent.NewMockOracle()
	if cfg.OracleEnabled() {
		oracle = agent.NewOpenAIOracle(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel)
		log.Info("analysis oracle configured", "model", cfg.OpenAIModel)
	} else {
		log.Warn("OPENAI_API_KEY not set, using offline mock oracle")
	}

	var ttsClient consultation.TTSClient
	if cfg.ElevenLabsKey != "" {
		ttsClient = agent.NewElevenLabsClient(cfg.ElevenLabsKey)
	}
	sttClient := agent.NewWhisperClient(cfg.STTURL)

	tgClient := telegram.NewClient(cfg.TelegramToken)
	var reportSvc consultation.ReportService
	if tgClient.Enabled() && cfg.DoctorChatID != 0 {
		reportSvc = report.NewService(tgClient, cfg.DoctorChatID)
	} else {
		log.Warn("TELEGRAM_BOT_TOKEN or DOCTOR_CHAT_ID not set, doctor reports disabled")
	}

	// 3. Services
	consultationSvc := consultation.NewService(consultation.EngineConfig{
		MinQuestions: cfg.MinQuestions,
		MaxQuestions: cfg.MaxQuestions,
		SettleDelay:  cfg.SettleDelay,
		ModelVersion: cfg.ModelVersion,
		VoiceID:      cfg.ElevenLabsVoiceID,
		IdleTimeout:  cfg.IdleTimeout,
	}, oracle, repo, cache, ttsClient, sttClient, reportSvc)
	consultationHandler := consultation.NewHandler(consultationSvc)

	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	defer stopJanitor()
	go consultationSvc.RunJanitor(janitorCtx, time.Minute)

	// 4. Router
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Route("/api", func(r chi.Router) {
		consultation.RegisterRoutes(r, consultationHandler)
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("server starting", "port", cfg.Port, "min_questions", cfg.MinQuestions)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	stopJanitor()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
	// Let in-flight reports reach the doctor before exiting.
	consultationSvc.Wait()
	log.Info("server stopped")
}

func openDB(dsn string) (*sql.DB, error) {
	var (
		db  *sql.DB
		err error
	)
	for i := 0; i < 10; i++ {
		db, err = sql.Open("postgres", dsn)
		if err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			err = db.PingContext(ctx)
			cancel()
		}
		if err == nil {
			observability.Logger().Info("connected to database")
			return db, nil
		}
		observability.Logger().Info("waiting for database", "attempt", i+1, "error", err)
		time.Sleep(time.Second)
	}
	return nil, err
}

func runMigrations(dsn string) {
	log := observability.Logger()
	m, err := migrate.New("file://migrations", dsn)
	if err != nil {
		log.Error("migration init failed", "error", err)
		return
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Error("migration up failed", "error", err)
		return
	}
	log.Info("migrations applied")
}

// requestLogger puts chi's request id into the context for observability.LoggerFromContext.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := observability.WithRequestID(r.Context(), middleware.GetReqID(r.Context()))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CORS for frontend
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization")
		if r.Method == http.MethodOptions {
			return
		}
		next.ServeHTTP(w, r)
	})
}
