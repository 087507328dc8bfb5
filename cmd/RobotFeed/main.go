package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/BTreeMap/RobotFeed/internal/api"
	"github.com/BTreeMap/RobotFeed/internal/cache"
	"github.com/BTreeMap/RobotFeed/internal/deeplink"
	"github.com/BTreeMap/RobotFeed/internal/i18n"
	"github.com/BTreeMap/RobotFeed/internal/lockfile"
	"github.com/BTreeMap/RobotFeed/internal/models"
	"github.com/BTreeMap/RobotFeed/internal/notify"
	"github.com/BTreeMap/RobotFeed/internal/recovery"
	"github.com/BTreeMap/RobotFeed/internal/robots"
	"github.com/BTreeMap/RobotFeed/internal/scheduler"
	"github.com/BTreeMap/RobotFeed/internal/store"
	"github.com/BTreeMap/RobotFeed/internal/util"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for RobotFeed state data
	DefaultStateDir = "/var/lib/robotfeed"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "robotfeed.db"
	// DefaultPollInterval is the default poll interval of the job runner and outbox sender
	DefaultPollInterval = 2 * time.Second
)

func main() {
	config := loadEnvironmentConfig()
	initializeLogger(config.LogLevel, config.Debug)
	flags := parseCommandLineFlags(config)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping RobotFeed")
	if err := run(ctx, flags); err != nil {
		slog.Error("RobotFeed failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("RobotFeed exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir        string
	DatabaseURL     string
	RedisURL        string
	APIAddr         string
	JWTSecret       string
	TwilioSID       string
	TwilioToken     string
	TwilioFrom      string
	TwilioChannel   string
	MaintenanceCron string
	RateLimit       float64
	RateBurst       int
	PollInterval    time.Duration
	InactivityDays  int
	LogLevel        string
	Debug           bool
}

// Flags holds command line flag values
type Flags struct {
	stateDir        *string
	dbDSN           *string
	redisURL        *string
	apiAddr         *string
	jwtSecret       *string
	maintenanceCron *string
	rateLimit       *float64
	rateBurst       *int
	pollInterval    *time.Duration
	inactivityDays  *int

	twilioSID     string
	twilioToken   string
	twilioFrom    string
	twilioChannel string
}

// initializeLogger sets up the default structured logger.
func initializeLogger(level string, debug bool) {
	lvl := parseLogLevel(level)
	if debug {
		lvl = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
}

// parseLogLevel maps LOG_LEVEL values to slog levels, defaulting to info.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	config := Config{
		StateDir:        os.Getenv("ROBOTFEED_STATE_DIR"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		RedisURL:        os.Getenv("REDIS_URL"),
		APIAddr:         os.Getenv("API_ADDR"),
		JWTSecret:       os.Getenv("JWT_SECRET"),
		TwilioSID:       os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioToken:     os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:      os.Getenv("TWILIO_FROM_NUMBER"),
		TwilioChannel:   os.Getenv("TWILIO_CHANNEL"),
		MaintenanceCron: os.Getenv("MAINTENANCE_CRON"),
		RateLimit:       util.ParseFloatEnv("RATE_LIMIT_RPS", api.DefaultRateLimit),
		RateBurst:       util.ParseIntEnv("RATE_LIMIT_BURST", api.DefaultRateBurst),
		PollInterval:    util.ParseDurationEnv("JOB_POLL_INTERVAL", DefaultPollInterval),
		InactivityDays:  util.ParseIntEnv("INACTIVITY_DAYS", robots.DefaultInactivityDays),
		LogLevel:        os.Getenv("LOG_LEVEL"),
		Debug:           util.ParseBoolEnv("ROBOTFEED_DEBUG", false),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
	}
	// Without a database URL, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
	}

	slog.Debug("environment variables loaded",
		"ROBOTFEED_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"REDIS_URL_SET", config.RedisURL != "",
		"API_ADDR", config.APIAddr,
		"JWT_SECRET_SET", config.JWTSecret != "",
		"TWILIO_ACCOUNT_SID_SET", config.TwilioSID != "",
		"MAINTENANCE_CRON", config.MaintenanceCron)
	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:        flag.String("state-dir", config.StateDir, "state directory for RobotFeed data (overrides $ROBOTFEED_STATE_DIR)"),
		dbDSN:           flag.String("db-dsn", config.DatabaseURL, "database DSN, Postgres URL or SQLite path (overrides $DATABASE_URL)"),
		redisURL:        flag.String("redis-url", config.RedisURL, "Redis URL for the cache, in-memory when empty (overrides $REDIS_URL)"),
		apiAddr:         flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		jwtSecret:       flag.String("jwt-secret", config.JWTSecret, "HMAC secret for bearer tokens (overrides $JWT_SECRET)"),
		maintenanceCron: flag.String("maintenance-cron", config.MaintenanceCron, "cron schedule for pruning finished jobs (overrides $MAINTENANCE_CRON)"),
		rateLimit:       flag.Float64("rate-limit", config.RateLimit, "per-user requests per second (overrides $RATE_LIMIT_RPS)"),
		rateBurst:       flag.Int("rate-burst", config.RateBurst, "per-user request burst (overrides $RATE_LIMIT_BURST)"),
		pollInterval:    flag.Duration("poll-interval", config.PollInterval, "job and outbox poll interval (overrides $JOB_POLL_INTERVAL)"),
		inactivityDays:  flag.Int("inactivity-days", config.InactivityDays, "days of absence before the welcome back robot (overrides $INACTIVITY_DAYS)"),
		twilioSID:       config.TwilioSID,
		twilioToken:     config.TwilioToken,
		twilioFrom:      config.TwilioFrom,
		twilioChannel:   config.TwilioChannel,
	}
	flag.Parse()

	// Follow an overridden state directory when the DSN is the default SQLite path
	if *flags.dbDSN == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
	}

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"apiAddr", *flags.apiAddr,
		"rateLimit", *flags.rateLimit,
		"pollInterval", *flags.pollInterval)
	return flags
}

// buildStoreOptions picks the store driver from the DSN.
func buildStoreOptions(dsn string) []store.Option {
	if store.DetectDSNType(dsn) == string(store.DriverPostgres) {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return []store.Option{store.WithPostgresDSN(dsn)}
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", dsn)
	return []store.Option{store.WithSQLiteDSN(dsn)}
}

// buildNotifier returns a Twilio client, or a logging mock when no credentials are set.
func buildNotifier(flags Flags) (notify.Sender, error) {
	if flags.twilioSID == "" || flags.twilioToken == "" {
		slog.Warn("Twilio credentials not set, refresher messages will not leave this process")
		return notify.NewMockClient(), nil
	}
	opts := []notify.Option{
		notify.WithAccountSID(flags.twilioSID),
		notify.WithAuthToken(flags.twilioToken),
		notify.WithFrom(flags.twilioFrom),
	}
	if flags.twilioChannel != "" {
		opts = append(opts, notify.WithChannel(notify.Channel(flags.twilioChannel)))
	}
	return notify.NewClient(opts...)
}

// buildCache connects to Redis when a URL is set, otherwise returns an in-memory cache.
func buildCache(ctx context.Context, redisURL string) (cache.Cache, error) {
	if redisURL == "" {
		slog.Debug("No Redis URL provided, using in-memory cache")
		return cache.NewMemoryCache(), nil
	}
	return cache.NewRedisCache(ctx, cache.WithRedisURL(redisURL))
}

// linkLookup serves toolkits through the cache and the rest from the store.
type linkLookup struct {
	*store.Store
	accessor *cache.Accessor
}

func (l linkLookup) Toolkit(ctx context.Context, id string) (*models.Toolkit, error) {
	return l.accessor.Toolkit(ctx, id)
}

var _ deeplink.Lookup = linkLookup{}

// run wires the components and blocks until ctx is canceled.
func run(ctx context.Context, flags Flags) error {
	if store.DetectDSNType(*flags.dbDSN) == string(store.DriverSQLite) {
		lock, err := lockfile.AcquireLock(filepath.Dir(*flags.dbDSN))
		if err != nil {
			return err
		}
		defer lock.Release()
	}

	st, err := store.New(buildStoreOptions(*flags.dbDSN)...)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	c, err := buildCache(ctx, *flags.redisURL)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer c.Close()

	accessor := cache.NewAccessor(c, st)
	links, err := deeplink.NewResolver(linkLookup{Store: st, accessor: accessor})
	if err != nil {
		return fmt.Errorf("load deep link pages: %w", err)
	}
	tr, err := i18n.NewTranslator()
	if err != nil {
		return fmt.Errorf("load translations: %w", err)
	}
	sender, err := buildNotifier(flags)
	if err != nil {
		return fmt.Errorf("create notifier: %w", err)
	}

	engine := robots.NewEngine(st, accessor, links, tr, st, robots.WithInactivityDays(*flags.inactivityDays))
	flows := robots.NewFlowCharts(st, links, tr)

	server, err := api.NewServer(engine, flows, accessor, tr,
		api.WithAddr(*flags.apiAddr),
		api.WithJWTSecret(*flags.jwtSecret),
		api.WithRateLimit(*flags.rateLimit, *flags.rateBurst),
		api.WithHealthCheck("database", st),
		api.WithHealthCheck("cache", c),
	)
	if err != nil {
		return fmt.Errorf("create api server: %w", err)
	}

	runner := store.NewJobRunner(st, *flags.pollInterval)
	robots.RegisterJobHandlers(runner, st, st, st, tr)
	outbox := store.NewOutboxSender(st, notify.OutboxSendFunc(sender), *flags.pollInterval)

	rm := recovery.NewManager()
	rm.Register("jobs", recovery.RecoverFunc(runner.RecoverStaleJobs))
	rm.Register("outbox", recovery.RecoverFunc(outbox.RecoverStaleMessages))
	if err := rm.RecoverAll(ctx); err != nil {
		slog.Warn("startup recovery incomplete", "error", err)
	}

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := sched.AddMaintenance(ctx, *flags.maintenanceCron, st, scheduler.DefaultRetention); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		runner.Run(gctx)
		return nil
	})
	g.Go(func() error {
		outbox.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return server.Run(gctx)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
