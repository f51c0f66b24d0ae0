package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"mathquest-live-service/internal/app"
	"mathquest-live-service/internal/config"
	"mathquest-live-service/internal/domain"
	"mathquest-live-service/internal/infra/memory"
	pgstore "mathquest-live-service/internal/infra/postgres"
	redisstore "mathquest-live-service/internal/infra/redis"
	transport "mathquest-live-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the live game server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	setupLogging(cfg)

	if cfg.Redis.Addr == "" {
		return fmt.Errorf("redis addr not configured: the session stores require it")
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	var loader redisstore.GameLoader = memory.NewStaticGameLoader(sampleGames())
	if pool != nil {
		loader = pgstore.NewGameLoader(pool)
	}

	clock := clockwork.NewRealClock()
	cacheTTL := config.Duration(cfg.Game.CacheTTL, 10*time.Minute)

	games := redisstore.NewGameRepository(redisClient, loader, cacheTTL)
	states := redisstore.NewGameStateStore(redisClient)
	timers := redisstore.NewTimerService(redisClient, clock)
	leaderboard := redisstore.NewLeaderboardService(redisClient)
	answers := redisstore.NewAnswerStore(redisClient, clock)
	markers := redisstore.NewDeferredMarkerStore(redisClient)
	rooms := redisstore.NewRoomRegistry(redisClient, clock)
	cleaner := redisstore.NewCleanupService(redisClient)

	hub := transport.NewHub()
	controller := app.NewController(games, states, timers, leaderboard, answers, markers, rooms, cleaner, hub, clock, app.Config{
		DefaultQuestionDurationMs: config.Duration(cfg.Game.DefaultQuestionDuration, 30*time.Second).Milliseconds(),
		CorrectAnswersWaitMs:      config.Duration(cfg.Game.CorrectAnswersWait, 1500*time.Millisecond).Milliseconds(),
		FeedbackWaitMs:            config.Duration(cfg.Game.FeedbackWait, 5*time.Second).Milliseconds(),
	})
	wsHandler := transport.NewWSHandler(controller, hub, rooms)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("port", finalPort).Msg("starting live game service")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server stopped")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info().Msg("shutting down server")
	case <-ctx.Done():
		log.Info().Msg("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func setupLogging(cfg config.Config) {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil || cfg.Log.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Log.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

// sampleGames provides a minimal demo game when no database is configured.
func sampleGames() map[string]domain.GameInstance {
	return map[string]domain.GameInstance{
		"379264": {
			ID:              "game-demo",
			AccessCode:      "379264",
			PlayMode:        domain.PlayModeQuiz,
			Status:          domain.GameStatusPending,
			InitiatorUserID: "teacher-demo",
			Questions: []domain.Question{
				{
					UID:            "q-add-1",
					Text:           "What is 7 + 5?",
					Answers:        []string{"10", "11", "12", "13"},
					CorrectAnswers: []bool{false, false, true, false},
					TimeLimitSec:   20,
					Explanation:    "7 + 5 = 12.",
				},
				{
					UID:            "q-mult-1",
					Text:           "What is 6 × 4?",
					Answers:        []string{"18", "22", "24", "28"},
					CorrectAnswers: []bool{false, false, true, false},
					TimeLimitSec:   20,
				},
			},
		},
	}
}
