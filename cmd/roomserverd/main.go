// Command roomserverd is the room runtime daemon: it upgrades players to
// websockets, runs the turn-timeout scheduler, drains the transactional
// outbox, and expires stale sessions, all against one shared Redis/Postgres
// pair (spec §5, §6.5).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/CoreLoopStudios-Org/GameService/games/race"
	"github.com/CoreLoopStudios-Org/GameService/internal/broadcaster"
	"github.com/CoreLoopStudios-Org/GameService/internal/config"
	"github.com/CoreLoopStudios-Org/GameService/internal/dispatcher"
	"github.com/CoreLoopStudios-Org/GameService/internal/economy"
	"github.com/CoreLoopStudios-Org/GameService/internal/gamemodule"
	"github.com/CoreLoopStudios-Org/GameService/internal/hub"
	"github.com/CoreLoopStudios-Org/GameService/internal/logging"
	"github.com/CoreLoopStudios-Org/GameService/internal/metrics"
	"github.com/CoreLoopStudios-Org/GameService/internal/outbox"
	"github.com/CoreLoopStudios-Org/GameService/internal/registry"
	"github.com/CoreLoopStudios-Org/GameService/internal/roomstore"
	"github.com/CoreLoopStudios-Org/GameService/internal/scheduler"
	"github.com/CoreLoopStudios-Org/GameService/internal/session"
)

func main() {
	root := &cobra.Command{Use: "roomserverd"}
	root.AddCommand(serveCmd())
	root.AddCommand(configShowCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func configShowCmd() *cobra.Command {
	var env string
	cmd := &cobra.Command{
		Use:   "config-show",
		Short: "print the resolved configuration as YAML and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(env)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			fmt.Println(string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&env, "env", os.Getenv("ROOMSERVICE_ENV"), "environment overlay (config/<env>.yaml)")
	return cmd
}

func serveCmd() *cobra.Command {
	var env string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the room runtime (websocket hub, scheduler, outbox drainer, session reaper)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(env)
		},
	}
	cmd.Flags().StringVar(&env, "env", os.Getenv("ROOMSERVICE_ENV"), "environment overlay (config/<env>.yaml)")
	return cmd
}

func runServe(env string) error {
	cfg, err := config.Load(env)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.MustRuntimeLogger()
	defer logger.Sync()
	access := logging.NewAccessLogger()

	runtimeMetrics := metrics.NewRuntime()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}

	db, err := sqlx.Connect("pgx", cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxPoolSize)
	db.SetMaxIdleConns(cfg.Database.MinPoolSize)
	db.SetConnMaxIdleTime(time.Duration(cfg.Database.ConnectionIdleLifetimeSeconds) * time.Second)

	reg := registry.New(rdb)
	store := roomstore.New(rdb, reg)
	ledger := economy.New(db)
	ob := outbox.New(db, ledger, logger)
	bc := broadcaster.New(logger)

	deps := gamemodule.Deps{Store: store, Registry: reg, Economy: ledger, Redis: rdb}
	race.Register()

	sm := session.New(reg, bc, func(gameType string) (gamemodule.RoomService, bool) {
		d, ok := gamemodule.Lookup(gameType)
		if !ok {
			return nil, false
		}
		return d.BuildRoomService(deps), true
	}, logger).WithGracePeriod(cfg.ReconnectionGracePeriod())

	sched := scheduler.New(reg, store, bc, ob, logger).
		WithTickInterval(cfg.TickInterval()).
		WithMaxRoomsPerTick(int64(cfg.GameLoop.MaxRoomsPerTick))

	d := dispatcher.New(0)
	h := hub.New(deps, d, reg, bc, sm, ob, logger).
		WithRateLimit(cfg.RateLimit.PermitLimit, cfg.RateLimitWindow())

	engines := map[string]gamemodule.ITurnBased{}
	for _, gt := range gamemodule.RegisteredGameTypes() {
		descriptor, _ := gamemodule.Lookup(gt)
		if tb, ok := descriptor.BuildEngine(deps).(gamemodule.ITurnBased); ok {
			engines[gt] = tb
		}
	}

	go sched.Run(ctx, engines)
	go sm.RunCleanupWorker(ctx, func(roomID string) (string, bool) {
		gameType, ok, err := reg.GameTypeOf(ctx, roomID)
		if err != nil {
			return "", false
		}
		return gameType, ok
	})
	go ob.Run(ctx, time.Second)

	mux := chi.NewRouter()
	mux.Handle("/metrics", runtimeMetrics.Handler())
	mux.Mount("/", h.Router())

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: accessLogMiddleware(access, mux)}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	access.Infof("roomserverd listening on %s", cfg.HTTPAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func accessLogMiddleware(log *logrus.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.WithField("method", r.Method).
			WithField("path", r.URL.Path).
			WithField("duration_ms", time.Since(start).Milliseconds()).
			Info("request")
	})
}
