package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"arogyabot/internal/bus"
	"arogyabot/internal/channel"
	"arogyabot/internal/config"
	"arogyabot/internal/handler"
	"arogyabot/internal/knowledge"
	"arogyabot/internal/metrics"
	"arogyabot/internal/onboarding"
	"arogyabot/internal/provider"
	"arogyabot/internal/router"
	"arogyabot/internal/safety"
	"arogyabot/internal/session"
	"arogyabot/internal/store"
	"arogyabot/internal/transfer"

	"github.com/spf13/cobra"
)

var (
	version    = "0.3.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "arogyabot",
		Short: "ArogyaBot: multilingual healthcare assistant for WhatsApp and Telegram",
		Long:  "ArogyaBot answers health questions over WhatsApp, Telegram, and a local CLI, with patient profiles, safety screening, and medical document analysis.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.arogyabot/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(gatewayCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(eraseCmd())
	root.AddCommand(configCmd())
	root.AddCommand(backupCmd())
	root.AddCommand(restoreCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(installDaemonCmd())
	root.AddCommand(uninstallDaemonCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize config and data directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := config.DefaultConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			if err := os.MkdirAll(config.ExpandPath(cfg.Uploads.Dir), 0o755); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath, "uploads", cfg.Uploads.Dir)
			return nil
		},
	}
}

// setupLogger rebuilds the process logger from config: level from
// general.logLevel, and duplicated to general.logFile when set.
func setupLogger(cfg *config.Config) error {
	var level slog.Level
	switch cfg.General.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stderr
	if cfg.General.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
			return fmt.Errorf("cannot create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.General.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("cannot open log file: %w", err)
		}
		out = io.MultiWriter(os.Stderr, f)
	}

	logger = slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
	return nil
}

// core holds the wired conversation pipeline shared by the gateway and
// chat commands.
type core struct {
	bus      *bus.InMemoryBus
	store    *store.SQLiteStore
	registry *session.Registry
	router   *router.Router
	redis    *session.RedisCache
}

func (c *core) close() {
	c.bus.Close()
	c.store.Close()
	if c.redis != nil {
		c.redis.Close()
	}
}

// buildCore wires the store, provider, safety engine, handlers, and
// router from config.
func buildCore(cfg *config.Config) (*core, error) {
	messageBus := bus.New(100, logger)

	st, err := store.NewSQLiteStore(cfg.Store.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	var (
		tokens     session.TokenCache
		redisCache *session.RedisCache
	)
	if cfg.Session.Backend == "redis" {
		redisCache, err = session.NewRedisCache(cfg.Session.RedisAddr, cfg.Session.RedisPassword, cfg.Session.RedisDB)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("redis session cache: %w", err)
		}
		tokens = redisCache
		logger.Info("session tokens backed by redis", "addr", cfg.Session.RedisAddr)
	} else {
		tokens = session.NewMemoryCache()
	}
	registry := session.NewRegistry(tokens, time.Duration(cfg.Session.IdleMinutes)*time.Minute)

	rules, err := safety.LoadRules(cfg.Safety.RulesFile)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("safety rules: %w", err)
	}
	safetyEngine := safety.NewEngine(rules, logger)

	client := provider.NewClient(provider.ClientConfig{
		APIKey:      cfg.Provider.APIKey,
		APIBase:     cfg.Provider.APIBase,
		Model:       cfg.Provider.Model,
		VisionModel: cfg.Provider.VisionModel,
		MaxTokens:   cfg.Provider.MaxTokens,
		Temperature: cfg.Provider.Temperature,
		Logger:      logger,
	})

	knowledgeEngine := knowledge.NewEngine(knowledge.EngineConfig{
		Store:     st,
		ChunkSize: cfg.Knowledge.ChunkSize,
		Overlap:   cfg.Knowledge.ChunkOverlap,
		TopK:      cfg.Knowledge.SearchTopK,
		Logger:    logger,
	})

	downloader := transfer.NewHTTPDownloader(transfer.DownloaderConfig{
		Dir:               cfg.Uploads.Dir,
		MaxFileSizeBytes:  cfg.Uploads.MaxFileSizeBytes,
		AllowedExtensions: cfg.Uploads.AllowedExtensions,
		// Twilio media URLs require the account credentials.
		Username: cfg.Channels.WhatsApp.AccountSID,
		Password: cfg.Channels.WhatsApp.AuthToken,
		Logger:   logger,
	})

	intake := onboarding.NewMachine(st, st, logger)
	textHandler := handler.NewTextHandler(client, client, knowledgeEngine, cfg.Knowledge.SearchTopK, logger)
	mediaHandler := handler.NewMediaHandler(downloader, client, knowledgeEngine, logger)

	r := router.New(router.Config{
		Bus:         messageBus,
		Profiles:    st,
		Records:     st,
		Intake:      intake,
		Registry:    registry,
		Safety:      safetyEngine,
		Text:        textHandler,
		Media:       mediaHandler,
		Concurrency: cfg.General.MaxConcurrentMessages,
		Timeout:     time.Duration(cfg.General.CollaboratorTimeoutSeconds) * time.Second,
		Logger:      logger,
	})

	return &core{
		bus:      messageBus,
		store:    st,
		registry: registry,
		router:   r,
		redis:    redisCache,
	}, nil
}

func chatCmd() *cobra.Command {
	var identity string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start interactive chat (CLI)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Warn("config not found, using defaults", "path", cfgPath, "err", err)
				cfg = config.Defaults()
				cfg.Store.DBPath = config.ExpandPath(cfg.Store.DBPath)
				cfg.Uploads.Dir = config.ExpandPath(cfg.Uploads.Dir)
			}
			if err := setupLogger(cfg); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, err := buildCore(cfg)
			if err != nil {
				return err
			}
			defer c.close()

			go c.router.Run(ctx)

			cliCh := channel.NewCLI(channel.CLIChannelConfig{Logger: logger, Identity: identity})
			return cliCh.Start(ctx, c.bus)
		},
	}
	cmd.Flags().StringVar(&identity, "identity", "", "patient identity to chat as (default: cli:local)")
	return cmd
}

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Start gateway (WhatsApp webhook + Telegram poller + router)",
		Long:  "Starts all enabled channels and the conversation router. Press Ctrl+C to stop.",
		RunE:  runGateway,
	}
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := setupLogger(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := buildCore(cfg)
	if err != nil {
		return err
	}

	go c.router.Run(ctx)

	// Health and metrics ride on the WhatsApp listener when it is
	// enabled, otherwise on their own server.
	extraRoutes := map[string]http.Handler{
		"GET /healthz": metrics.HealthHandler(c.store),
	}
	if cfg.Metrics.Enabled {
		extraRoutes["GET "+cfg.Metrics.Endpoint] = metrics.Collector.Handler()
	}

	var channels []gatewayChannel

	if cfg.Channels.WhatsApp.Enabled {
		wa := channel.NewWhatsApp(channel.WhatsAppChannelConfig{
			Config:      cfg.Channels.WhatsApp,
			ExtraRoutes: extraRoutes,
			Logger:      logger,
		})
		if err := wa.Start(ctx, c.bus); err != nil {
			c.close()
			return fmt.Errorf("whatsapp channel: %w", err)
		}
		channels = append(channels, wa)
		logger.Info("whatsapp channel enabled")
	} else {
		logger.Info("whatsapp channel disabled")
		if cfg.Metrics.Enabled {
			go serveStandaloneMetrics(ctx, cfg, extraRoutes)
		}
	}

	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token != "" {
		tg := channel.NewTelegram(channel.TelegramConfig{
			Token:     cfg.Channels.Telegram.Token,
			AllowFrom: cfg.Channels.Telegram.AllowFrom,
			Logger:    logger,
		})
		go func() {
			if err := tg.Start(ctx, c.bus); err != nil {
				logger.Error("telegram channel error", "err", err)
			}
		}()
		channels = append(channels, tg)
		logger.Info("telegram channel enabled")
	} else {
		logger.Info("telegram channel disabled")
	}

	logger.Info("gateway started. Press Ctrl+C to stop.", "version", version)

	<-ctx.Done()
	logger.Info("shutting down gateway...")

	const shutdownTimeout = 10 * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, ch := range channels {
			if err := ch.Stop(); err != nil {
				logger.Warn("channel stop failed", "channel", ch.Name(), "err", err)
			}
		}
		c.close()
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
		return nil
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out, forcing exit")
		return fmt.Errorf("shutdown timed out")
	}
}

type gatewayChannel interface {
	Name() string
	Stop() error
}

func serveStandaloneMetrics(ctx context.Context, cfg *config.Config, routes map[string]http.Handler) {
	mux := http.NewServeMux()
	for path, h := range routes {
		mux.Handle(path, h)
	}
	addr := fmt.Sprintf("%s:%d", cfg.Channels.WhatsApp.Host, cfg.Channels.WhatsApp.Port)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	logger.Info("metrics server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server stopped", "err", err)
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show store and provider status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			st, err := store.NewSQLiteStore(cfg.Store.DBPath, logger)
			if err != nil {
				return fmt.Errorf("store: %w", err)
			}
			defer st.Close()

			stats, err := st.Stats(ctx)
			if err != nil {
				return fmt.Errorf("store stats: %w", err)
			}
			fmt.Printf("Store: %s\n", cfg.Store.DBPath)
			fmt.Printf("  Profiles:           %d (%d complete)\n", stats.Profiles, stats.CompletedProfiles)
			fmt.Printf("  Active onboarding:  %d\n", stats.ActiveOnboarding)
			fmt.Printf("  Chat records:       %d\n", stats.ChatRecords)
			fmt.Printf("  Documents:          %d\n", stats.Documents)

			client := provider.NewClient(provider.ClientConfig{
				APIKey:  cfg.Provider.APIKey,
				APIBase: cfg.Provider.APIBase,
				Model:   cfg.Provider.Model,
				Logger:  logger,
			})
			if err := client.Healthy(ctx); err != nil {
				fmt.Printf("Provider: %s (unhealthy: %v)\n", cfg.Provider.APIBase, err)
			} else {
				fmt.Printf("Provider: %s (healthy, model %s)\n", cfg.Provider.APIBase, cfg.Provider.Model)
			}

			fmt.Printf("Channels: whatsapp=%v telegram=%v cli=%v\n",
				cfg.Channels.WhatsApp.Enabled, cfg.Channels.Telegram.Enabled, cfg.Channels.CLI.Enabled)
			return nil
		},
	}
}

func eraseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "erase <identity>",
		Short: "Erase all stored data for one patient identity",
		Long:  "Deletes the profile, onboarding state, chat history, and uploaded documents for the given identity (e.g. \"whatsapp:+911234567890\").",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			identity := args[0]
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			st, err := store.NewSQLiteStore(cfg.Store.DBPath, logger)
			if err != nil {
				return fmt.Errorf("store: %w", err)
			}
			defer st.Close()

			if err := st.Erase(ctx, identity); err != nil {
				return fmt.Errorf("erase: %w", err)
			}

			// Drop any live session token too.
			if cfg.Session.Backend == "redis" {
				cache, err := session.NewRedisCache(cfg.Session.RedisAddr, cfg.Session.RedisPassword, cfg.Session.RedisDB)
				if err != nil {
					logger.Warn("cannot reach redis, session token may outlive erase", "err", err)
				} else {
					defer cache.Close()
					registry := session.NewRegistry(cache, time.Duration(cfg.Session.IdleMinutes)*time.Minute)
					if err := registry.Drop(ctx, identity); err != nil {
						logger.Warn("cannot drop session token", "err", err)
					}
				}
			}

			// Uploaded files live under a per-identity directory.
			uploads := filepath.Join(cfg.Uploads.Dir, transfer.SanitizeIdentity(identity))
			if err := os.RemoveAll(uploads); err != nil {
				logger.Warn("cannot remove uploads", "dir", uploads, "err", err)
			}

			fmt.Printf("Erased all data for %s\n", identity)
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. provider.model)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. provider.model gpt-4o)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "value", args[1], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			sanitized := config.Sanitize(cfg)
			data, _ := json.MarshalIndent(sanitized, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
