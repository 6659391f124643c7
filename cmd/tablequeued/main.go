package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/MarkoPoloResearchLab/tablequeue/internal/httpapi"
	"github.com/MarkoPoloResearchLab/tablequeue/internal/logging"
	"github.com/MarkoPoloResearchLab/tablequeue/internal/notify"
	"github.com/MarkoPoloResearchLab/tablequeue/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/tablequeue/internal/store/pgstore"
	"github.com/MarkoPoloResearchLab/tablequeue/pkg/queue"
	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	flagDatabaseURL       = "database-url"
	flagStore             = "store"
	flagListenAddr        = "listen-addr"
	flagDiningWindow      = "dining-window"
	flagAllowedOrigins    = "allowed-origins"
	flagSessionSigningKey = "session-signing-key"
	flagSessionIssuer     = "session-issuer"
	flagSessionCookieName = "session-cookie-name"
	flagAMQPURL           = "amqp-url"
	flagAMQPExchange      = "amqp-exchange"
	flagNATSURL           = "nats-url"
	flagNATSSubject       = "nats-subject"
	flagNotifyBuffer      = "notify-buffer"
	flagNotifyTimeout     = "notify-timeout"
	flagRequestTimeout    = "request-timeout"
	flagTables            = "tables"
	envPrefix             = "TABLEQUEUE"
	defaultDatabaseURL    = "sqlite:///tmp/tablequeue.db"
	defaultListenAddr     = ":8080"
	defaultNotifyBuffer   = 64
	defaultNotifyTimeout  = 5 * time.Second
	defaultRequestTimeout = 5 * time.Second
	storeGorm             = "gorm"
	storePgx              = "pgx"
	driverPostgres        = "postgres"
	driverSQLite          = "sqlite"
	dispatcherDrainPeriod = 5 * time.Second
)

type runtimeConfig struct {
	DatabaseURL    string
	Store          string
	DiningWindow   time.Duration
	AMQPURL        string
	AMQPExchange   string
	NATSURL        string
	NATSSubject    string
	NotifyBuffer   int
	NotifyTimeout  time.Duration
	HTTP           httpapi.Config
	TableSpecsText string
}

// catalogStore is a queue.Store that also manages the table catalog.
type catalogStore interface {
	queue.Store
	UpsertTables(ctx context.Context, tables []queue.Table) error
	ListTables(ctx context.Context) ([]queue.Table, error)
}

type backend struct {
	store   catalogStore
	driver  string
	migrate func(ctx context.Context) error
	close   func() error
}

func main() {
	if err := loadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "tablequeued: %v\n", err)
		os.Exit(1)
	}
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "tablequeued: %v\n", err)
		os.Exit(1)
	}
}

func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "tablequeued",
		Short:         "Restaurant queue reservation service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL connection string or sqlite path")
	cmd.PersistentFlags().String(flagStore, storeGorm, "store implementation: gorm or pgx")

	cmd.AddCommand(newServeCommand(cfg), newMigrateCommand(cfg), newSeedTablesCommand(cfg))
	return cmd
}

func newServeCommand(cfg *runtimeConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the reservation HTTP API",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}
	cmd.Flags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.Flags().Duration(flagDiningWindow, queue.DefaultDiningHalfWidth, "half width of the dining window")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-separated list of allowed CORS origins")
	cmd.Flags().String(flagSessionSigningKey, "", "TAuth JWT signing key; empty disables session checks")
	cmd.Flags().String(flagSessionIssuer, "", "expected JWT issuer")
	cmd.Flags().String(flagSessionCookieName, "", "JWT cookie name")
	cmd.Flags().String(flagAMQPURL, "", "RabbitMQ URL for lifecycle events")
	cmd.Flags().String(flagAMQPExchange, "", "RabbitMQ topic exchange")
	cmd.Flags().String(flagNATSURL, "", "NATS URL for lifecycle events")
	cmd.Flags().String(flagNATSSubject, "", "NATS subject prefix")
	cmd.Flags().Int(flagNotifyBuffer, defaultNotifyBuffer, "pending notification buffer size")
	cmd.Flags().Duration(flagNotifyTimeout, defaultNotifyTimeout, "per-sink delivery timeout for lifecycle events")
	cmd.Flags().Duration(flagRequestTimeout, defaultRequestTimeout, "per-request timeout")
	return cmd
}

func newMigrateCommand(cfg *runtimeConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			storeBackend, err := openBackend(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = storeBackend.close() }()
			if err := storeBackend.migrate(ctx); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}

func newSeedTablesCommand(cfg *runtimeConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed-tables",
		Short: "Upsert number:capacity pairs into the table catalog",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			tables, err := parseTableSpecs(cfg.TableSpecsText)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			storeBackend, err := openBackend(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = storeBackend.close() }()
			if err := storeBackend.migrate(ctx); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			if err := storeBackend.store.UpsertTables(ctx, tables); err != nil {
				return fmt.Errorf("seed tables: %w", err)
			}
			catalog, err := storeBackend.store.ListTables(ctx)
			if err != nil {
				return fmt.Errorf("list tables: %w", err)
			}
			for _, table := range catalog {
				fmt.Fprintf(cmd.OutOrStdout(), "table %d capacity %d\n", table.Number.Int(), table.Capacity)
			}
			return nil
		},
	}
	cmd.Flags().String(flagTables, "", "comma-separated number:capacity pairs, e.g. 3:4,5:6")
	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	cfg.DatabaseURL = strings.TrimSpace(v.GetString(flagDatabaseURL))
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.Store = strings.ToLower(strings.TrimSpace(v.GetString(flagStore)))
	if cfg.Store == "" {
		cfg.Store = storeGorm
	}
	if cfg.Store != storeGorm && cfg.Store != storePgx {
		return fmt.Errorf("unsupported store %q", cfg.Store)
	}
	cfg.DiningWindow = v.GetDuration(flagDiningWindow)
	if cfg.DiningWindow <= 0 {
		cfg.DiningWindow = queue.DefaultDiningHalfWidth
	}
	cfg.AMQPURL = strings.TrimSpace(v.GetString(flagAMQPURL))
	cfg.AMQPExchange = strings.TrimSpace(v.GetString(flagAMQPExchange))
	cfg.NATSURL = strings.TrimSpace(v.GetString(flagNATSURL))
	cfg.NATSSubject = strings.TrimSpace(v.GetString(flagNATSSubject))
	cfg.NotifyBuffer = v.GetInt(flagNotifyBuffer)
	if cfg.NotifyBuffer <= 0 {
		cfg.NotifyBuffer = defaultNotifyBuffer
	}
	cfg.NotifyTimeout = v.GetDuration(flagNotifyTimeout)
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = defaultNotifyTimeout
	}
	cfg.TableSpecsText = v.GetString(flagTables)
	cfg.HTTP = httpapi.Config{
		ListenAddr:        strings.TrimSpace(v.GetString(flagListenAddr)),
		AllowedOrigins:    httpapi.ParseAllowedOrigins(v.GetString(flagAllowedOrigins)),
		RequestTimeout:    v.GetDuration(flagRequestTimeout),
		SessionSigningKey: v.GetString(flagSessionSigningKey),
		SessionIssuer:     strings.TrimSpace(v.GetString(flagSessionIssuer)),
		SessionCookieName: strings.TrimSpace(v.GetString(flagSessionCookieName)),
	}
	return cfg.HTTP.Validate()
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	storeBackend, err := openBackend(ctx, cfg)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer func() { _ = storeBackend.close() }()
	if storeBackend.driver == driverSQLite {
		if err := storeBackend.migrate(ctx); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
	}

	sinks, closeSinks, err := buildSinks(cfg, logger)
	if err != nil {
		return err
	}
	defer closeSinks()
	dispatcher := notify.NewDispatcher(logger, sinks,
		notify.WithBufferSize(cfg.NotifyBuffer),
		notify.WithDeliveryTimeout(cfg.NotifyTimeout),
	)
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), dispatcherDrainPeriod)
		defer cancel()
		if closeErr := dispatcher.Close(drainCtx); closeErr != nil {
			logger.Warn("notification drain incomplete", zap.Error(closeErr))
		}
	}()

	clock := func() time.Time { return time.Now().UTC() }
	service, err := queue.NewService(storeBackend.store, clock,
		queue.WithOperationLogger(logging.NewOperationLogger(logger)),
		queue.WithNotifier(dispatcher),
		queue.WithDiningHalfWidth(cfg.DiningWindow),
	)
	if err != nil {
		return fmt.Errorf("queue service init: %w", err)
	}

	validator, err := httpapi.NewSessionValidator(cfg.HTTP)
	if err != nil {
		return err
	}
	router := httpapi.NewRouter(cfg.HTTP, service, logger, validator)
	return httpapi.Run(ctx, cfg.HTTP, router, logger)
}

// buildSinks always logs events and adds broker sinks for configured URLs.
func buildSinks(cfg *runtimeConfig, logger *zap.Logger) ([]notify.Sink, func(), error) {
	sinks := []notify.Sink{notify.NewLogSink(logger.Named("events"))}
	var closers []func() error
	closeAll := func() {
		for _, closeFn := range closers {
			if err := closeFn(); err != nil {
				logger.Warn("sink close failed", zap.Error(err))
			}
		}
	}
	if cfg.AMQPURL != "" {
		amqpSink, err := notify.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, amqpSink)
		closers = append(closers, amqpSink.Close)
	}
	if cfg.NATSURL != "" {
		natsSink, err := notify.ConnectNATS(cfg.NATSURL, cfg.NATSSubject)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		sinks = append(sinks, natsSink)
		closers = append(closers, natsSink.Close)
	}
	return sinks, closeAll, nil
}

func openBackend(ctx context.Context, cfg *runtimeConfig) (*backend, error) {
	switch cfg.Store {
	case storePgx:
		driver, _, err := resolveDriver(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if driver != driverPostgres {
			return nil, fmt.Errorf("store %s requires a postgres database url", storePgx)
		}
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("pgx pool: %w", err)
		}
		store := pgstore.New(pool)
		return &backend{
			store:   store,
			driver:  driver,
			migrate: store.Migrate,
			close: func() error {
				pool.Close()
				return nil
			},
		}, nil
	default:
		gormDB, cleanup, driver, err := openDatabase(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		var options []gormstore.Option
		if driver == driverPostgres {
			options = append(options, gormstore.WithTxOptions(&sql.TxOptions{Isolation: sql.LevelSerializable}))
		}
		return &backend{
			store:  gormstore.New(gormDB, options...),
			driver: driver,
			migrate: func(ctx context.Context) error {
				return gormstore.AutoMigrate(gormDB.WithContext(ctx))
			},
			close: cleanup,
		}, nil
	}
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	var db *gorm.DB
	cfg := &gorm.Config{}
	switch driver {
	case driverPostgres:
		db, err = gorm.Open(postgres.Open(dsn), cfg)
	case driverSQLite:
		db, err = gorm.Open(sqlite.Open(sqlitePath), cfg)
	default:
		return nil, nil, "", fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, driver, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return driverPostgres, "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "tablequeue.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return driverSQLite, sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return driverSQLite, sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}

// parseTableSpecs reads "number:capacity" pairs separated by commas.
func parseTableSpecs(raw string) ([]queue.Table, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("%s is required", flagTables)
	}
	var tables []queue.Table
	seen := make(map[queue.TableNumber]struct{})
	for _, part := range strings.Split(raw, ",") {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		numberText, capacityText, found := strings.Cut(trimmed, ":")
		if !found {
			return nil, fmt.Errorf("table spec %q: expected number:capacity", trimmed)
		}
		numberValue, err := strconv.Atoi(strings.TrimSpace(numberText))
		if err != nil {
			return nil, fmt.Errorf("table spec %q: %w", trimmed, err)
		}
		number, err := queue.NewTableNumber(numberValue)
		if err != nil {
			return nil, fmt.Errorf("table spec %q: %w", trimmed, err)
		}
		capacity, err := strconv.Atoi(strings.TrimSpace(capacityText))
		if err != nil {
			return nil, fmt.Errorf("table spec %q: %w", trimmed, err)
		}
		if capacity < 0 {
			return nil, fmt.Errorf("table spec %q: negative capacity", trimmed)
		}
		if _, duplicate := seen[number]; duplicate {
			return nil, fmt.Errorf("table spec %q: duplicate table number", trimmed)
		}
		seen[number] = struct{}{}
		tables = append(tables, queue.Table{Number: number, Capacity: capacity})
	}
	if len(tables) == 0 {
		return nil, fmt.Errorf("%s is required", flagTables)
	}
	return tables, nil
}
