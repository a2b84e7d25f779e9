package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gem-ai-tgbot-go/internal/config"
	"github.com/gem-ai-tgbot-go/internal/handlers"
	"github.com/gem-ai-tgbot-go/internal/i18n"
	"github.com/gem-ai-tgbot-go/internal/middleware"
	"github.com/gem-ai-tgbot-go/internal/services/ai"
	"github.com/gem-ai-tgbot-go/internal/services/session"
	"github.com/gem-ai-tgbot-go/internal/services/store"
	"github.com/gem-ai-tgbot-go/pkg/logger"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	envFile := flag.String("env", ".env", "Path to .env file")
	flag.Parse()

	// Load .env file if exists
	if err := godotenv.Load(*envFile); err != nil {
		// It's okay if .env doesn't exist
		fmt.Printf("Warning: .env file not found: %v\n", err)
	}

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info("Starting Telegram Bot...")

	// Initialize bot
	bot, err := tgbotapi.NewBotAPI(cfg.Bot.Token)
	if err != nil {
		log.WithError(err).Fatal("Failed to create bot")
	}

	bot.Debug = cfg.Logging.Level == "debug"
	log.WithField("username", bot.Self.UserName).Info("Bot authorized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize metrics
	metrics := middleware.NewMetrics()

	// Initialize the key-value store
	kv, err := store.New(cfg, log, metrics)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize store")
	}
	defer kv.Close()

	// Session state on top of the store
	directory := session.NewDirectory(kv, cfg.Gemini.DefaultModel)
	history := session.NewHistory(kv, directory, cfg.Context.HistoryLimit, cfg.Context.HistoryTTL, log)
	meter := session.NewMeter(kv)

	// Initialize AI service
	aiService := ai.NewGemini(&cfg.Gemini, log)

	// Initialize middleware
	gate := middleware.NewAuthGate(cfg.Bot.AllowedUserIDs, log)
	rateLimiter := middleware.NewRateLimiter(cfg, log)

	// Initialize i18n
	localizer, err := i18n.NewLocalizer(&cfg.I18n)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize i18n")
	}

	// Start metrics server if enabled
	if cfg.Monitoring.Metrics.Enabled {
		go func() {
			log.WithFields(logrus.Fields{
				"port": cfg.Monitoring.Metrics.Port,
				"path": cfg.Monitoring.Metrics.Path,
			}).Info("Starting metrics server")

			if err := middleware.StartMetricsServer(cfg.Monitoring.Metrics.Port, cfg.Monitoring.Metrics.Path); err != nil {
				log.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	// Initialize handlers
	commandHandler := handlers.NewCommandHandler(
		bot,
		cfg,
		aiService,
		directory,
		history,
		meter,
		gate,
		localizer,
		log,
	)

	messageHandler := handlers.NewMessageHandler(
		cfg,
		bot,
		bot.Self.ID,
		aiService,
		directory,
		history,
		meter,
		gate,
		rateLimiter,
		localizer,
		metrics,
		log,
	)

	// Setup update channel
	var updates tgbotapi.UpdatesChannel

	if cfg.Bot.Webhook.Enabled {
		// Setup webhook
		webhookURL := fmt.Sprintf("%s/%s", cfg.Bot.Webhook.URL, bot.Token)
		webhook, err := tgbotapi.NewWebhook(webhookURL)
		if err != nil {
			log.WithError(err).Fatal("Failed to create webhook")
		}

		if _, err := bot.Request(webhook); err != nil {
			log.WithError(err).Fatal("Failed to set webhook")
		}

		updates = bot.ListenForWebhook("/" + bot.Token)
		log.WithField("url", webhookURL).Info("Webhook set")
	} else {
		// Use long polling
		u := tgbotapi.NewUpdate(0)
		u.Timeout = cfg.Bot.UpdateTimeout

		updates = bot.GetUpdatesChan(u)
		log.Info("Using long polling")
	}

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Main bot loop. Each update runs in its own goroutine so one user's
	// streaming delivery never stalls another user's interaction; the
	// session layer serializes history writes per (user, chat).
	go func() {
		for update := range updates {
			update := update

			// Handle callback queries
			if update.CallbackQuery != nil {
				metrics.RecordMessageReceived("callback")
				go func() {
					if err := commandHandler.HandleCallbackQuery(ctx, update.CallbackQuery); err != nil {
						log.WithError(err).Error("Failed to handle callback query")
					}
				}()
				continue
			}

			// Skip if no message
			if update.Message == nil {
				continue
			}

			// Handle commands
			if update.Message.IsCommand() {
				metrics.RecordCommandExecuted(update.Message.Command())
				go func() {
					if err := commandHandler.HandleCommand(ctx, update.Message); err != nil {
						log.WithError(err).Error("Failed to handle command")
					}
				}()
				continue
			}

			// Handle regular messages
			go func() {
				if err := messageHandler.HandleMessage(ctx, &update); err != nil {
					log.WithError(err).Error("Failed to handle message")
				}
			}()
		}
	}()

	// Wait for shutdown signal
	<-sigChan
	log.Info("Shutdown signal received")

	// Cleanup
	if cfg.Bot.Webhook.Enabled {
		if _, err := bot.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
			log.WithError(err).Error("Failed to delete webhook")
		}
	}

	// Cancel context to stop all goroutines
	cancel()

	// Give in-flight deliveries time to finish
	time.Sleep(2 * time.Second)

	log.Info("Bot stopped")
}
