package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/herbalis/salesbot/internal/address"
	"github.com/herbalis/salesbot/internal/admin"
	"github.com/herbalis/salesbot/internal/alerts"
	"github.com/herbalis/salesbot/internal/api"
	"github.com/herbalis/salesbot/internal/flow"
	"github.com/herbalis/salesbot/internal/genai"
	"github.com/herbalis/salesbot/internal/knowledge"
	"github.com/herbalis/salesbot/internal/lockfile"
	"github.com/herbalis/salesbot/internal/messaging"
	"github.com/herbalis/salesbot/internal/recovery"
	"github.com/herbalis/salesbot/internal/scheduler"
	"github.com/herbalis/salesbot/internal/store"
	"github.com/herbalis/salesbot/internal/twiliowhatsapp"
	"github.com/herbalis/salesbot/internal/util"
	"github.com/herbalis/salesbot/internal/whatsapp"
)

const (
	// DefaultStateDir holds the bot's databases, session and lock file.
	DefaultStateDir = "/var/lib/salesbot"
	// DefaultDBFileName is the SQLite conversation database filename.
	DefaultDBFileName = "salesbot.db"
	// DefaultWhatsAppDBFileName is the whatsmeow session database filename.
	DefaultWhatsAppDBFileName = "whatsmeow.db"
	// DefaultOrdersExport is the JSONL order ledger export filename.
	DefaultOrdersExport = "orders.jsonl"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := run(flags); err != nil {
		slog.Error("salesbot failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("salesbot exited")
}

// Config holds configuration read from the environment and .env.
type Config struct {
	StateDir     string
	DatabaseURL  string
	WhatsAppDSN  string
	OpenAIKey    string
	MapsKey      string
	APIAddr      string
	APIKey       string
	Channel      string
	AdminNumbers string
	AlertNumbers string
	Knowledge    string
	OrdersExport string
	CronSpec     string
	Debounce     time.Duration
	ModelRetries int
}

// Flags holds command line flag values, seeded from Config.
type Flags struct {
	qrOutput     *string
	numeric      *bool
	stateDir     *string
	dbDSN        *string
	waDSN        *string
	openaiKey    *string
	mapsKey      *string
	apiAddr      *string
	apiKey       *string
	channel      *string
	adminNumbers *string
	alertNumbers *string
	knowledge    *string
	ordersExport *string
	cronSpec     *string
	debounce     *time.Duration
	modelRetries *int
}

func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("DEBUG", false) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}

	config := Config{
		StateDir:     util.GetEnvOrDefault("SALESBOT_STATE_DIR", DefaultStateDir),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		WhatsAppDSN:  os.Getenv("WHATSAPP_DB_DSN"),
		OpenAIKey:    os.Getenv("OPENAI_API_KEY"),
		MapsKey:      os.Getenv("GOOGLE_MAPS_API_KEY"),
		APIAddr:      util.GetEnvOrDefault("API_ADDR", api.DefaultAddr),
		APIKey:       os.Getenv("API_KEY"),
		Channel:      util.GetEnvOrDefault("CHANNEL", "whatsmeow"),
		AdminNumbers: os.Getenv("ADMIN_NUMBERS"),
		AlertNumbers: os.Getenv("ALERT_NUMBERS"),
		Knowledge:    os.Getenv("KNOWLEDGE_PATH"),
		OrdersExport: os.Getenv("ORDERS_EXPORT_PATH"),
		CronSpec:     os.Getenv("SCHEDULER_CRON"),
		Debounce:     util.ParseDurationEnv("DEBOUNCE_WINDOW", messaging.DefaultDebounceWindow),
		ModelRetries: util.ParseIntEnv("MODEL_MAX_RETRIES", genai.DefaultMaxRetries),
	}
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
	}
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = filepath.Join(config.StateDir, DefaultWhatsAppDBFileName)
	}
	if config.OrdersExport == "" {
		config.OrdersExport = filepath.Join(config.StateDir, DefaultOrdersExport)
	}
	return config
}

func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:     flag.String("qr-output", "", "path to write the WhatsApp login QR code"),
		numeric:      flag.Bool("numeric-code", false, "use a numeric pairing code instead of a QR code"),
		stateDir:     flag.String("state-dir", config.StateDir, "state directory (overrides $SALESBOT_STATE_DIR)"),
		dbDSN:        flag.String("db-dsn", config.DatabaseURL, "conversation database DSN (overrides $DATABASE_URL)"),
		waDSN:        flag.String("whatsapp-db-dsn", config.WhatsAppDSN, "whatsmeow session database DSN (overrides $WHATSAPP_DB_DSN)"),
		openaiKey:    flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		mapsKey:      flag.String("maps-api-key", config.MapsKey, "Google Maps geocoding key (overrides $GOOGLE_MAPS_API_KEY)"),
		apiAddr:      flag.String("api-addr", config.APIAddr, "dashboard listen address (overrides $API_ADDR)"),
		apiKey:       flag.String("api-key", config.APIKey, "dashboard bearer token (overrides $API_KEY)"),
		channel:      flag.String("channel", config.Channel, "message transport: whatsmeow or twilio (overrides $CHANNEL)"),
		adminNumbers: flag.String("admin-numbers", config.AdminNumbers, "comma-separated operator numbers (overrides $ADMIN_NUMBERS)"),
		alertNumbers: flag.String("alert-numbers", config.AlertNumbers, "comma-separated alert recipients (overrides $ALERT_NUMBERS)"),
		knowledge:    flag.String("knowledge", config.Knowledge, "knowledge base JSON path, empty for the embedded default (overrides $KNOWLEDGE_PATH)"),
		ordersExport: flag.String("orders-export", config.OrdersExport, "JSONL order ledger export path (overrides $ORDERS_EXPORT_PATH)"),
		cronSpec:     flag.String("cron", config.CronSpec, "scheduler sweep cron spec (overrides $SCHEDULER_CRON)"),
		debounce:     flag.Duration("debounce", config.Debounce, "inbound burst coalescing window (overrides $DEBOUNCE_WINDOW)"),
		modelRetries: flag.Int("model-retries", config.ModelRetries, "model rate-limit retry budget (overrides $MODEL_MAX_RETRIES)"),
	}
	flag.Parse()
	return flags
}

func splitNumbers(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	numbers := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			numbers = append(numbers, trimmed)
		}
	}
	return numbers
}

func run(flags Flags) error {
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := store.FromDSN(*flags.dbDSN)
	if err != nil {
		return err
	}
	defer st.Close()

	registry := prometheus.NewRegistry()

	model, err := genai.NewClient(
		genai.WithAPIKey(*flags.openaiKey),
		genai.WithMaxRetries(*flags.modelRetries),
		genai.WithMetrics(genai.NewMetrics(registry)),
	)
	if err != nil {
		return err
	}

	kb, err := knowledge.Load(*flags.knowledge)
	if err != nil {
		return err
	}

	validator := address.NewValidator(address.NewGoogleMapsGeocoder(*flags.mapsKey), nil)

	// Transport. The alert manager is wired after the service so alerts
	// can fan out over the same channel.
	var (
		service messaging.Service
		typing  messaging.TypingNotifier
		webhook http.HandlerFunc
	)
	switch *flags.channel {
	case "twilio":
		twClient, err := twiliowhatsapp.NewClient()
		if err != nil {
			return err
		}
		twilioService := messaging.NewTwilioService(twClient)
		service = twilioService
		webhook = twilioService.WebhookHandler
	default:
		waClient, err := whatsapp.NewClient(
			whatsapp.WithDBDSN(*flags.waDSN),
			whatsapp.WithQRCodeOutput(*flags.qrOutput),
			buildNumericOption(*flags.numeric),
		)
		if err != nil {
			return err
		}
		service = messaging.NewWhatsAppService(waClient, model)
		typing = waClient
	}

	alertManager := alerts.NewManager(
		messaging.NewAlertNotifier(service, splitNumbers(*flags.alertNumbers), nil), nil)

	orderWriter := store.NewOrderWriter(st, store.NewFileSink(*flags.ordersExport))
	defer orderWriter.Close()

	delayedSender := messaging.NewDelayedSender(service, typing, nil)

	engine, err := flow.NewEngine(flow.Deps{
		Store:     st,
		Model:     model,
		Knowledge: kb,
		Validator: validator,
		Alerts:    alertManager,
		Orders:    orderWriter,
		Sender:    delayedSender,
	})
	if err != nil {
		return err
	}

	// Operator relays go out unpaced; only customer-facing bot replies
	// get the humanized delay.
	interpreter, err := admin.New(admin.Deps{
		Store:  st,
		Alerts: alertManager,
		Model:  model,
		Sender: delayedSender.Immediate(),
	})
	if err != nil {
		return err
	}

	dispatcher, err := messaging.NewDispatcher(messaging.DispatcherOpts{
		Service:      service,
		Engine:       engine,
		Admin:        interpreter,
		AdminNumbers: splitNumbers(*flags.adminNumbers),
		Debounce:     *flags.debounce,
	})
	if err != nil {
		return err
	}

	sweeper, err := scheduler.New(scheduler.Deps{
		Store:  st,
		Alerts: alertManager,
		Orders: orderWriter,
		Sender: delayedSender,
	})
	if err != nil {
		return err
	}

	if report, err := recovery.Run(recovery.Deps{Store: st, Alerts: alertManager}); err != nil {
		return err
	} else if report.Migrated > 0 || report.Realerted > 0 {
		slog.Info("startup recovery touched state",
			"migrated", report.Migrated, "realerted", report.Realerted)
	}

	server, err := api.NewServer(st, alertManager, interpreter, webhook,
		api.WithAddr(*flags.apiAddr),
		api.WithAPIKey(*flags.apiKey),
		api.WithRegistry(registry),
		api.WithKnowledge(kb),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := service.Start(ctx); err != nil {
		return err
	}
	if err := sweeper.Start(*flags.cronSpec); err != nil {
		return err
	}
	go dispatcher.Run(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Run() }()

	slog.Info("salesbot running",
		"channel", *flags.channel, "api_addr", *flags.apiAddr,
		"admin_numbers", len(splitNumbers(*flags.adminNumbers)))

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("dashboard shutdown failed", "error", err)
	}
	sweeper.Stop()
	if err := service.Stop(); err != nil {
		slog.Error("transport shutdown failed", "error", err)
	}
	return nil
}

func buildNumericOption(numeric bool) whatsapp.Option {
	if numeric {
		return whatsapp.WithNumericCode()
	}
	return func(o *whatsapp.Opts) {}
}
