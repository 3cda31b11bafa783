package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/sifxtreme/jarvis-sub000/internal/api"
	"github.com/sifxtreme/jarvis-sub000/internal/executor"
	"github.com/sifxtreme/jarvis-sub000/internal/flow"
	"github.com/sifxtreme/jarvis-sub000/internal/genai"
	"github.com/sifxtreme/jarvis-sub000/internal/messaging"
	"github.com/sifxtreme/jarvis-sub000/internal/store"
	"github.com/sifxtreme/jarvis-sub000/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for Jarvis state data
	DefaultStateDir = "/var/lib/jarvis"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "jarvis.db"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	slog.Info("Bootstrapping Jarvis with configured modules")
	if err := run(flags); err != nil {
		slog.Error("Jarvis failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("Jarvis exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL string
	StateDir    string
	OpenAIKey   string
	APIAddr     string
	Timezone    string
}

// Flags holds command line flag values
type Flags struct {
	stateDir  *string
	dbDSN     *string
	openaiKey *string
	apiAddr   *string
	timezone  *string
	sources   *string
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		StateDir:    os.Getenv("JARVIS_STATE_DIR"),
		OpenAIKey:   os.Getenv("OPENAI_API_KEY"),
		APIAddr:     os.Getenv("API_ADDR"),
		Timezone:    os.Getenv("JARVIS_TIMEZONE"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No JARVIS_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"JARVIS_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"JARVIS_TIMEZONE", config.Timezone)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:  flag.String("state-dir", config.StateDir, "state directory for Jarvis data (overrides $JARVIS_STATE_DIR)"),
		dbDSN:     flag.String("db-dsn", config.DatabaseURL, "database DSN (overrides $DATABASE_URL)"),
		openaiKey: flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		apiAddr:   flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		timezone:  flag.String("timezone", config.Timezone, "IANA timezone for date resolution (overrides $JARVIS_TIMEZONE)"),
		sources:   flag.String("valid-sources", os.Getenv("VALID_SOURCES"), "comma-separated paying accounts (overrides $VALID_SOURCES)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"timezone", *flags.timezone)

	if *flags.dbDSN == config.DatabaseURL && config.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if store.DetectDSNType(*flags.dbDSN) != "postgres" {
		stateDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// openStore selects and opens the storage backend from the DSN.
func openStore(dsn string) (store.Store, error) {
	if store.DetectDSNType(dsn) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return store.NewPostgresStore(store.WithPostgresDSN(dsn))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", dsn)
	return store.NewSQLiteStore(store.WithSQLiteDSN(dsn))
}

// loadTimezone resolves the configured timezone, falling back to UTC.
func loadTimezone(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		slog.Warn("Invalid timezone, falling back to UTC", "timezone", name, "error", err)
		return time.UTC
	}
	return loc
}

// buildMessagingService creates the Twilio SMS service when credentials are
// configured. Without them the webhook answers inline, which is fine for
// local development.
func buildMessagingService() messaging.Service {
	if os.Getenv("TWILIO_ACCOUNT_SID") == "" {
		slog.Debug("No Twilio credentials configured, SMS replies disabled")
		return nil
	}
	svc, err := messaging.NewTwilioService()
	if err != nil {
		slog.Warn("Twilio configuration incomplete, SMS replies disabled", "error", err)
		return nil
	}
	return svc
}

func run(flags Flags) error {
	st, err := openStore(*flags.dbDSN)
	if err != nil {
		return err
	}
	defer st.Close()

	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	ai, err := genai.NewClient(genaiOpts...)
	if err != nil {
		return err
	}

	loc := loadTimezone(*flags.timezone)
	exec := executor.NewStoreExecutor(st, loc)
	states := flow.NewStateManager(st)
	guard := flow.NewIdempotencyGuard(util.ParseDurationEnv("IDEMPOTENCY_WINDOW", flow.DefaultIdempotencyWindow))

	var validSources []string
	if *flags.sources != "" {
		for _, s := range strings.Split(*flags.sources, ",") {
			if s = strings.TrimSpace(s); s != "" {
				validSources = append(validSources, s)
			}
		}
	}

	flow.Register(flow.NewEventFlow(ai, exec))
	flow.Register(flow.NewTransactionFlow(ai, exec, validSources))
	flow.Register(flow.NewMemoryFlow(ai, exec))

	resolver := flow.NewResolver(exec, flow.ResolverOpts{
		AutoPickMin: util.ParseIntEnv("RESOLVER_AUTOPICK_MIN", flow.DefaultAutoPickMin),
		AutoPickGap: util.ParseIntEnv("RESOLVER_AUTOPICK_GAP", flow.DefaultAutoPickGap),
		FuzzyCutoff: util.ParseFloatEnv("RESOLVER_FUZZY_CUTOFF", flow.DefaultFuzzyCutoff),
	})

	engine := flow.NewEngine(states, ai, guard, resolver)
	actions := flow.NewEventActions(ai, resolver, exec, states, guard)
	dispatcher := flow.NewDispatcher(states, engine, actions, ai, exec, loc)

	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	server := api.NewServer(dispatcher, buildMessagingService(), apiOpts...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return server.Run(ctx)
}
