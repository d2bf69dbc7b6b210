// Package main - точка входа сервиса синхронизации расписания.
//
// Worker:
//   - при старте синхронизирует все расписания из API источника;
//   - по cron-выражению повторяет полную синхронизацию;
//   - отдаёт REST API: чтение расписания и ручной запуск синхронизации.
//
// Режимы одной команды: --once (полный прогон и выход), --schedule-id N
// (одно расписание), --migrate-only (только миграции).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/spf13/pflag"

	"github.com/unischedule/schedule-sync/config"
	"github.com/unischedule/schedule-sync/internal/application/command"
	"github.com/unischedule/schedule-sync/internal/application/query"
	"github.com/unischedule/schedule-sync/internal/domain/schedule"
	"github.com/unischedule/schedule-sync/internal/infrastructure/external/schedapi"
	"github.com/unischedule/schedule-sync/internal/infrastructure/persistence/postgres"
	"github.com/unischedule/schedule-sync/internal/infrastructure/persistence/redis"
	"github.com/unischedule/schedule-sync/internal/infrastructure/persistence/sqlite"
	"github.com/unischedule/schedule-sync/internal/infrastructure/scheduler"
	"github.com/unischedule/schedule-sync/internal/infrastructure/scheduler/jobs"
	apihttp "github.com/unischedule/schedule-sync/internal/interface/http"
	"github.com/unischedule/schedule-sync/internal/interface/http/handlers"
	"github.com/unischedule/schedule-sync/pkg/logger"
	"github.com/unischedule/schedule-sync/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// FLAGS
// ══════════════════════════════════════════════════════════════════════════════

type flags struct {
	configPath  string
	once        bool
	scheduleID  int64
	migrateOnly bool
}

func parseFlags(args []string) (flags, error) {
	var f flags
	fs := pflag.NewFlagSet("schedule-sync", pflag.ContinueOnError)
	fs.StringVarP(&f.configPath, "config", "c", "", "path to YAML config (default $"+config.ConfigPathEnv+")")
	fs.BoolVar(&f.once, "once", false, "run one full sync and exit")
	fs.Int64Var(&f.scheduleID, "schedule-id", 0, "sync a single schedule by id and exit")
	fs.BoolVar(&f.migrateOnly, "migrate-only", false, "apply database migrations and exit")

	if err := fs.Parse(args); err != nil {
		return f, err
	}
	if f.once && f.scheduleID > 0 {
		return f, errors.New("--once and --schedule-id are mutually exclusive")
	}
	if f.scheduleID < 0 {
		return f, errors.New("--schedule-id must be positive")
	}
	return f, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	f, err := parseFlags(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, f); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, f flags) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. ЗАГРУЗКА КОНФИГУРАЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. НАСТРОЙКА ЛОГИРОВАНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	log := logger.New(logger.Options{
		Output: os.Stdout,
		Level:  logger.ParseLevel(cfg.Observability.LogLevel),
		Format: logger.Format(cfg.Observability.LogFormat),
		Attrs: []slog.Attr{
			slog.String("service", cfg.App.Name),
			slog.String("env", string(cfg.App.Environment)),
		},
	})
	slog.SetDefault(log)

	log.Info("starting schedule sync worker",
		slog.String("version", cfg.App.Version),
		slog.String("timezone", cfg.App.Timezone),
		slog.String("db_driver", cfg.Database.Driver),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ХРАНИЛИЩЕ
	// ─────────────────────────────────────────────────────────────────────────
	st, err := openStorage(ctx, cfg, log, f.migrateOnly)
	if err != nil {
		return err
	}
	defer st.close()

	if f.migrateOnly {
		log.Info("migrations applied, exiting")
		return nil
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. REDIS (опционально)
	// ─────────────────────────────────────────────────────────────────────────
	var (
		redisCache    *redis.Cache
		scheduleCache *redis.ScheduleCache
	)
	if cfg.Redis.Enabled {
		redisCache, err = redis.NewCache(ctx, redis.Config{
			URL:       cfg.Redis.URL,
			Host:      cfg.Redis.Host,
			Port:      cfg.Redis.Port,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			PoolSize:  cfg.Redis.PoolSize,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
		if err != nil {
			// кэш и блокировка не обязательны для корректности
			log.Warn("redis unavailable, caching and distributed lock disabled", logger.Err(err))
		} else {
			defer func() { _ = redisCache.Close() }()
			scheduleCache = redis.NewScheduleCache(redisCache, cfg.Redis.CacheTTL)
			log.Info("redis connection established")
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. КЛИЕНТ ИСТОЧНИКА
	// ─────────────────────────────────────────────────────────────────────────
	fetcher := schedapi.NewFetcher(schedapi.FetcherConfig{
		BaseURL:          cfg.Source.BaseURL,
		Timeout:          cfg.Source.Timeout,
		MaxRetries:       cfg.Source.MaxRetries,
		BaseDelay:        cfg.Source.BaseDelay,
		RateLimit:        cfg.Source.RateLimit,
		RateBurst:        cfg.Source.RateBurst,
		BreakerThreshold: cfg.Source.BreakerThreshold,
		BreakerCooldown:  cfg.Source.BreakerCooldown,
		UserAgent:        cfg.App.Name + "/" + cfg.App.Version,
		Logger:           log,
	})
	defer func() { _ = fetcher.Close() }()

	client := schedapi.NewClient(fetcher, schedapi.ClientConfig{
		PageSize: cfg.Source.PageSize,
		MaxPages: cfg.Source.MaxPages,
		Logger:   log,
	})

	// ─────────────────────────────────────────────────────────────────────────
	// 6. ОБРАБОТЧИКИ
	// ─────────────────────────────────────────────────────────────────────────
	parser := schedule.NewParser(log)
	parser.Strict = cfg.Sync.StrictParser

	syncConfig := command.SyncSchedulesConfig{
		Concurrency: cfg.Sync.Concurrency,
		LockTTL:     cfg.Sync.LockTTL,
		Parser:      parser,
		Logger:      log,
	}

	var syncHandler *command.SyncSchedulesHandler
	var getSchedule *query.GetScheduleHandler
	var browse *query.BrowseGroupsHandler
	if scheduleCache != nil {
		syncHandler = command.NewSyncSchedulesHandler(client, st.store, st.runs, scheduleCache, redis.NewLocker(redisCache), syncConfig)
		getSchedule = query.NewGetScheduleHandler(st.store, scheduleCache, cfg.App.Zone, log)
		browse = query.NewBrowseGroupsHandler(st.store, scheduleCache, log)
	} else {
		syncHandler = command.NewSyncSchedulesHandler(client, st.store, st.runs, nil, nil, syncConfig)
		getSchedule = query.NewGetScheduleHandler(st.store, nil, cfg.App.Zone, log)
		browse = query.NewBrowseGroupsHandler(st.store, nil, log)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. РЕЖИМЫ ОДНОЙ КОМАНДЫ
	// ─────────────────────────────────────────────────────────────────────────
	if f.scheduleID > 0 {
		res, err := syncHandler.SyncSingle(ctx, f.scheduleID)
		if err != nil {
			return err
		}
		log.Info("schedule synced",
			logger.ScheduleID(res.ScheduleID),
			slog.Int("groups", res.Groups),
			slog.Int("lessons", res.Lessons),
			slog.Int("skipped_rows", res.SkippedRows),
		)
		return nil
	}

	if f.once {
		// сбои отдельных расписаний уже залогированы; ошибка только у листинга
		_, err := syncHandler.SyncAll(ctx, command.SyncAllCommand{Trigger: command.TriggerCLI})
		return err
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 8. ПЛАНИРОВЩИК
	// ─────────────────────────────────────────────────────────────────────────
	syncJob := jobs.NewSyncAllSchedulesJob(syncHandler, log, jobs.SyncAllSchedulesConfig{
		Timeout: cfg.Sync.JobTimeout,
	})

	if cfg.Sync.RunOnStartup {
		if err := syncJob.RunWithTrigger(ctx, command.TriggerStartup); err != nil {
			// сервис продолжает работу со старыми данными
			log.Error("initial sync failed", logger.Err(err))
		}
	}

	sched := scheduler.New(scheduler.Config{
		Logger:   log,
		Location: cfg.App.Zone.Location(),
	})
	if cfg.Sync.Enabled {
		every, err := cfg.Sync.Schedule(cfg.App.Zone.Location())
		if err != nil {
			return err
		}
		if err := sched.Register(syncJob, every); err != nil {
			return fmt.Errorf("register sync job: %w", err)
		}
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer func() { _ = sched.Stop() }()

	// ─────────────────────────────────────────────────────────────────────────
	// 9. HTTP API
	// ─────────────────────────────────────────────────────────────────────────
	var (
		server  *apihttp.Server
		httpErr <-chan error
	)
	if cfg.HTTP.Enabled {
		health := handlers.NewCompositeHealthChecker(cfg.App.Version)
		health.AddCheck("database", handlers.NewPingCheck(st.pinger))
		if redisCache != nil {
			health.AddOptionalCheck("redis", handlers.NewPingCheck(redisCache))
		}
		if breaker := fetcher.Breaker(); breaker != nil {
			health.AddOptionalCheck("schedule_source", handlers.NewBreakerCheck(breaker))
		}

		httpConfig := apihttp.DefaultConfig()
		httpConfig.Address = cfg.HTTP.Address
		httpConfig.ReadTimeout = cfg.HTTP.ReadTimeout
		httpConfig.WriteTimeout = cfg.HTTP.WriteTimeout
		httpConfig.RateLimitPerMinute = cfg.HTTP.RateLimitPerMinute
		httpConfig.AdminAPIKeys = cfg.HTTP.AdminAPIKeys
		httpConfig.Version = cfg.App.Version

		server = apihttp.NewServer(httpConfig, apihttp.Dependencies{
			Sync:     syncHandler,
			Schedule: getSchedule,
			Browse:   browse,
			Runs:     st.runs,
			Jobs:     sched,
			Health:   health,
			Logger:   log,
		})
		httpErr = server.StartAsync()
	}

	log.Info("schedule sync worker is running",
		slog.Bool("sync_enabled", cfg.Sync.Enabled),
		slog.String("cron", cfg.Sync.Cron),
		slog.Bool("http_enabled", cfg.HTTP.Enabled),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 10. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	var runErr error
	select {
	case <-ctx.Done():
		log.Info("received shutdown signal")
	case err, ok := <-httpErr:
		if ok && err != nil {
			runErr = err
		}
	}

	log.Info("starting graceful shutdown", slog.Duration("timeout", cfg.App.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown", logger.Err(err))
		}
	}

	log.Info("shutdown completed")
	return runErr
}

// ══════════════════════════════════════════════════════════════════════════════
// STORAGE
// ══════════════════════════════════════════════════════════════════════════════

type storage struct {
	store  schedule.Store
	runs   schedule.SyncRunRepository
	pinger handlers.Pinger
	close  func()
}

func openStorage(ctx context.Context, cfg *config.Config, log *slog.Logger, forceMigrate bool) (*storage, error) {
	switch cfg.Database.Driver {
	case config.DriverSQLite:
		db, err := sqlite.Open(ctx, sqlite.Config{Path: cfg.Database.SQLitePath, BusyTimeout: 5 * time.Second})
		if err != nil {
			return nil, err
		}
		log.Info("sqlite database opened", slog.String("path", cfg.Database.SQLitePath))
		return &storage{
			store:  sqlite.NewScheduleStore(db),
			runs:   sqlite.NewSyncRunRepository(db),
			pinger: db,
			close:  func() { _ = db.Close() },
		}, nil

	default:
		retrier := retry.DatabaseRetrier(
			retry.WithMaxAttempts(cfg.Database.ConnectAttempts),
			retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
				log.Warn("database connection failed, retrying",
					slog.Int("attempt", attempt),
					slog.Duration("delay", delay),
					logger.Err(err),
				)
			}),
		)
		conn, err := retry.Value(ctx, retrier, func(ctx context.Context) (*postgres.Connection, error) {
			return postgres.NewConnectionFromURL(ctx, cfg.Database.URL, postgres.Config{
				MaxConns:        cfg.Database.MaxConns,
				MinConns:        cfg.Database.MinConns,
				MaxConnLifetime: cfg.Database.ConnMaxLifetime,
				MaxConnIdleTime: cfg.Database.ConnMaxIdleTime,
			})
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		log.Info("database connection established", slog.Int("max_conns", int(conn.Stats().MaxConns)))

		if cfg.Database.AutoMigrate || forceMigrate {
			applied, err := postgres.NewMigrator(conn).Migrate(ctx)
			if err != nil {
				conn.Close()
				return nil, fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info("database schema is up to date", slog.Int("applied", applied))
		}

		return &storage{
			store:  postgres.NewScheduleStore(conn),
			runs:   postgres.NewSyncRunRepository(conn),
			pinger: conn,
			close:  conn.Close,
		}, nil
	}
}
