package cli

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"go.uber.org/zap"

	"classbland-live/internal/config"
	"classbland-live/internal/domain"
	"classbland-live/internal/infra/memory"
	pginfra "classbland-live/internal/infra/postgres"
	redisinfra "classbland-live/internal/infra/redis"
	"classbland-live/internal/live"
	"classbland-live/internal/room"
	"classbland-live/internal/transport/ws"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the live session server",
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

	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer logger.Sync()

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

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	var pool *pgxpool.Pool
	var bundb *bun.DB
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()

		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.Postgres.URL)))
		bundb = bun.NewDB(sqldb, pgdialect.New())
		defer bundb.Close()
	}

	var store live.Store
	var source live.SnapshotSource
	if bundb != nil {
		store = pginfra.NewSessionStore(bundb)
		source = pginfra.NewSnapshotLoader(pool)
	} else {
		memStore := memory.NewSessionStore()
		memStore.Seed(sampleSession())
		store = memStore
		source = memory.NewStaticSnapshots(sampleActivities())
	}

	snapshotTTL := config.TTLDuration(cfg.Live.SnapshotTTL, 10*time.Minute)
	var snapshots live.SnapshotSource
	if redisClient != nil {
		snapshots = redisinfra.NewSnapshotCache(redisClient, source, snapshotTTL)
	} else {
		snapshots = memory.NewSnapshotCache(source, snapshotTTL)
	}

	hub := ws.NewHub(logger)
	protocol := live.NewHandler(room.New(), live.NewConnTracker(), store, snapshots, hub, logger, live.Options{
		Grace:      config.TTLDuration(cfg.Live.Grace, 60*time.Second),
		ResultsTop: cfg.Live.ResultsTop,
	})
	wsHandler := ws.NewWSHandler(hub, protocol, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info("starting live session server", zap.String("port", finalPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server stopped", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info("shutting down server")
	case <-ctx.Done():
		logger.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = server.Shutdown(shutdownCtx)
	protocol.Drain()
	return err
}

// sampleSession seeds the in-memory fallback so the server is usable
// without Postgres; swap in the database-backed store in production.
func sampleSession() live.SessionRecord {
	return live.SessionRecord{
		ID:        "session-1",
		RoomCode:  "ABC123",
		TeacherID: "teacher-1",
		Status:    domain.StatusWaiting,
		Activity:  live.ActivityRecord{ID: "activity-1", BasePoints: 100},
	}
}

func sampleActivities() map[string][]domain.QuestionSnapshot {
	return map[string][]domain.QuestionSnapshot{
		"activity-1": {
			{
				ID:              "q1",
				Type:            domain.TypeSingleChoice,
				Prompt:          "What is 2 + 2?",
				Options:         []string{"3", "4", "5"},
				AcceptedIndexes: []int{1},
				TimeLimit:       30,
				QuestionIndex:   0,
			},
			{
				ID:              "q2",
				Type:            domain.TypeMultiChoice,
				Prompt:          "Which numbers are even?",
				Options:         []string{"1", "2", "3", "4"},
				AcceptedIndexes: []int{1, 3},
				TimeLimit:       30,
				DoublePoints:    true,
				QuestionIndex:   1,
			},
		},
	}
}
