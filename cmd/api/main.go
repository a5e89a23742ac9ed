package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/tenantfirstaid/backend/internal/config"
	"github.com/zhouzirui/tenantfirstaid/backend/internal/handler"
	"github.com/zhouzirui/tenantfirstaid/backend/internal/logging"
	"github.com/zhouzirui/tenantfirstaid/backend/internal/middleware"
	"github.com/zhouzirui/tenantfirstaid/backend/internal/model/jurisdiction"
	"github.com/zhouzirui/tenantfirstaid/backend/internal/service/ai"
	"github.com/zhouzirui/tenantfirstaid/backend/internal/service/chat"
	"github.com/zhouzirui/tenantfirstaid/backend/internal/service/citation"
	"github.com/zhouzirui/tenantfirstaid/backend/internal/service/feedback"
	"github.com/zhouzirui/tenantfirstaid/backend/internal/service/session"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		addr     string
		logLevel string
		envFile  string
	)

	cmd := &cobra.Command{
		Use:   "tenantfirstaid",
		Short: "Tenant First Aid chat backend",
		Long:  "Serves the Tenant First Aid API: streamed legal-information chat grounded in Oregon housing law.",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Load .env file
			envErr := godotenv.Load(envFile)

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}

			log := newLogger(cfg.Log)
			if envErr != nil {
				log.Debug().Err(envErr).Msg("no .env file, using system environment only")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, log)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides PORT)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error, silent)")
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")

	return cmd
}

func newLogger(cfg config.LogConfig) *logging.Logger {
	var w io.Writer = os.Stderr
	if cfg.Pretty {
		w = nil
	}
	log := logging.New(w, cfg.Level)
	// pkg/utils 使用全局 logger
	zlog.Logger = log.Zerolog()
	zerolog.SetGlobalLevel(logging.ParseLevel(cfg.Level))
	return log
}

func serve(ctx context.Context, cfg *config.Config, log *logging.Logger) error {
	store, err := session.Open(ctx, cfg.Store, log.Sub("session"))
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	defer store.Close()

	var client ai.Client
	client, err = ai.New(ctx, cfg.AI, log.Sub("ai"))
	switch {
	case errors.Is(err, ai.ErrDisabled):
		log.Warn().Str("provider", cfg.AI.Provider).Msg("model credentials not configured, /api/query will answer 503")
	case err != nil:
		log.Warn().Err(err).Msg("failed to initialize model client, continuing without it")
	default:
		log.Info().Str("provider", cfg.AI.Provider).Str("model", cfg.AI.Model).Msg("model client initialized")
	}

	chatSvc := chat.NewService(store, client,
		chat.WithDatastore(cfg.AI.Datastore, cfg.AI.RetrievalMaxResults),
		chat.WithLogger(log.Sub("chat")),
	)

	citations, err := citation.Load(cfg.Citation.Path)
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.Citation.Path).Msg("failed to load citations, lookups will miss")
		citations = citation.NewIndex(nil)
	} else {
		log.Info().Int("sections", citations.Len()).Msg("citation index loaded")
	}

	feedbackStore, err := feedback.Open(cfg.Feedback.DBPath, cfg.Feedback.Password, log.Sub("feedback"))
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.Feedback.DBPath).Msg("feedback store unavailable, skipping feedback routes")
	} else {
		defer feedbackStore.Close()
	}

	sessions := middleware.NewSessions(middleware.SessionConfig{
		CookieName: cfg.Server.CookieName,
		Secret:     cfg.Server.SessionSecret,
		Secure:     cfg.Server.Production,
		MaxAge:     cfg.Server.CookieMaxAge,
	}, log.Sub("sessions"))
	if cfg.Server.SessionSecret == "" {
		log.Warn().Msg("SESSION_SECRET not set, session cookies are unsigned")
	}

	router := handler.NewRouter(handler.Deps{
		Sessions:       sessions,
		Store:          store,
		Chat:           chatSvc,
		Jurisdictions:  jurisdiction.NewMemoryStore(jurisdiction.Seed()),
		Citations:      citations,
		Feedback:       feedbackStore,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		DeleteOnClear:  cfg.Store.DeleteOnClear,
		Log:            log,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info().Str("addr", cfg.Server.Addr).Msg("Tenant First Aid backend listening")
	return runServer(ctx, srv)
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
