// Package main is the entry point for the thread engine API server.
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
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/capitalize-ai/thread-engine/internal/classifier"
	"github.com/capitalize-ai/thread-engine/internal/config"
	"github.com/capitalize-ai/thread-engine/internal/email"
	"github.com/capitalize-ai/thread-engine/internal/handler"
	"github.com/capitalize-ai/thread-engine/internal/kafka"
	"github.com/capitalize-ai/thread-engine/internal/llm"
	"github.com/capitalize-ai/thread-engine/internal/middleware"
	"github.com/capitalize-ai/thread-engine/internal/model"
	natsclient "github.com/capitalize-ai/thread-engine/internal/nats"
	"github.com/capitalize-ai/thread-engine/internal/notify"
	"github.com/capitalize-ai/thread-engine/internal/prompt"
	"github.com/capitalize-ai/thread-engine/internal/responder"
	"github.com/capitalize-ai/thread-engine/internal/service"
	"github.com/capitalize-ai/thread-engine/internal/store"
	"github.com/capitalize-ai/thread-engine/internal/transport"
	"github.com/capitalize-ai/thread-engine/pkg/logger"
	"github.com/capitalize-ai/thread-engine/pkg/tracing"
)

const serviceName = "thread-engine"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	newLogger := logger.New
	if cfg.LogFormat == "console" {
		newLogger = logger.NewConsole
	}
	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting thread engine",
		zap.String("store", cfg.StoreDriver),
		zap.String("events", cfg.EventsBackend),
	)

	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, serviceName, cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal("failed to open store", zap.Error(err))
	}
	defer st.Close()

	// Audit event mirrors
	var (
		publishers []service.EventPublisher
		natsClient *natsclient.Client
	)
	switch cfg.EventsBackend {
	case "nats":
		natsClient, err = natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			log.Fatal("failed to connect to NATS", zap.Error(err))
		}
		defer natsClient.Close()

		streamManager := natsclient.NewStreamManager(natsClient)
		if err := streamManager.EnsureStream(ctx); err != nil {
			log.Fatal("failed to ensure stream", zap.Error(err))
		}
		publishers = append(publishers, streamManager)
	case "kafka":
		producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
		publishers = append(publishers, producer)
	}

	// Portal notifications
	var notifier notify.Notifier = notify.NewStoreNotifier(st)
	if cfg.AMQPURL != "" {
		amqpPublisher, err := notify.DialAMQP(ctx, cfg.AMQPURL, cfg.AMQPExchange, 5, log)
		if err != nil {
			log.Warn("notification bus unavailable, notifications stored only", zap.Error(err))
		} else {
			defer amqpPublisher.Close()
			notifier = notify.NewFanout(notifier, log, notify.NewBusNotifier(amqpPublisher, serviceName))
		}
	}

	catalog, err := prompt.Load(cfg.PromptsFile)
	if err != nil {
		log.Fatal("failed to load prompts", zap.Error(err))
	}

	llmClient := newLLMClient(cfg, log)

	cls := classifier.New(llmClient, catalog, classifier.Config{
		Model:       cfg.ClassifierModel,
		Temperature: cfg.ClassifierTemperature,
		MaxTokens:   cfg.ClassifierMaxTokens,
		Timeout:     cfg.ClassifierTimeout,
	}, log)
	gen := responder.New(llmClient, catalog, responder.Config{
		Model:       cfg.ReplyModel,
		Temperature: cfg.ReplyTemperature,
		MaxTokens:   cfg.ReplyMaxTokens,
		Timeout:     cfg.ReplyTimeout,
	}, log)

	mailer := email.NewZeptoMailer(email.ZeptoConfig{
		APIURL:      cfg.MailAPIURL,
		APIKey:      cfg.MailAPIKey,
		From:        cfg.MailSender,
		FromName:    cfg.MailSenderName,
		MaxAttempts: cfg.MailMaxAttempts,
		BackoffBase: cfg.MailBackoffBase,
	}, log)

	sender := transport.NewTwilioSender(transport.TwilioConfig{
		AccountSID:     cfg.TwilioAccountSID,
		AuthToken:      cfg.TwilioAuthToken,
		WhatsAppNumber: cfg.TwilioWhatsAppNumber,
	}, log)

	// Services
	audit := service.NewAuditLog(st, log, publishers...)
	threads := service.NewThreadService(st, st, audit, log)
	ledger := service.NewMessageLedger(st, log)
	escalation := service.NewEscalationService(service.EscalationConfig{
		Recipient:     cfg.EscalationEmail,
		PortalBaseURL: cfg.PortalBaseURL,
	}, mailer, notifier, audit, log)
	autoResponder := service.NewAutoResponder(st, ledger, gen, sender, log)
	assignment := service.NewAssignmentService(st, ledger, audit, notifier, mailer, catalog, cfg.PortalBaseURL, log)
	messenger := service.NewOperatorMessenger(threads, ledger, sender, cfg.TwilioWhatsAppNumber, log)
	engine := service.NewEngine(threads, ledger, audit, cls, escalation, autoResponder, log)

	// Handlers
	healthHandler := handler.NewHealthHandler(st, natsClient)
	webhookHandler := handler.NewWebhookHandler(handler.WebhookConfig{
		AuthToken:       cfg.TwilioAuthToken,
		PublicURL:       cfg.WebhookPublicURL,
		SkipSignature:   cfg.SkipTwilioSignature,
		RateLimitedText: catalog.RateLimited,
	}, engine, sender, log)
	threadHandler := handler.NewThreadHandler(threads, ledger, audit, assignment, messenger, engine, log)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.With(
		middleware.SenderRateLimit(cfg.SenderRateLimit, cfg.SenderRateWindow, "From", webhookHandler.RateLimited),
	).Post("/webhooks/whatsapp", webhookHandler.WhatsApp)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.CORS(nil))
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RequireRole(model.RoleMaster))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
		threadHandler.Routes(r)
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.StoreDriver == "postgres" {
		return store.NewPostgresStorage(ctx, cfg.DatabaseURL)
	}
	return store.NewMemoryStorage(), nil
}

// newLLMClient returns nil when the selected provider has no key; the
// classifier and responder then serve their fallbacks.
func newLLMClient(cfg *config.Config, log *logger.Logger) llm.Client {
	provider := llm.Provider(cfg.DefaultLLM)
	key := cfg.AnthropicAPIKey
	if provider == llm.ProviderOpenAI {
		key = cfg.OpenAIAPIKey
	}
	if key == "" {
		log.Warn("no LLM API key configured, classification and replies use fallbacks",
			zap.String("provider", string(provider)))
		return nil
	}

	client, err := llm.NewClient(provider, key)
	if err != nil {
		log.Warn("failed to create LLM client, classification and replies use fallbacks", zap.Error(err))
		return nil
	}
	return client
}
