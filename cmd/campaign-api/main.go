package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/campaign/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/campaign/backend/internal/config"
	"github.com/MarcoPoloResearchLab/campaign/backend/internal/ledger"
	"github.com/MarcoPoloResearchLab/campaign/backend/internal/metrics"
	"github.com/MarcoPoloResearchLab/campaign/backend/internal/moderators"
	"github.com/MarcoPoloResearchLab/campaign/backend/internal/realtime"
	"github.com/MarcoPoloResearchLab/campaign/backend/internal/server"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "campaign-api",
		Short: "Campaign contribution ledger backend service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
		SilenceUsage: true,
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newReconcileCommand(), newHashPasswordCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional dotenv file loaded before reading the environment")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("database-dsn", defaults.GetString("database.dsn"), "Postgres connection string")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log format (json, console)")
	cmd.PersistentFlags().String("log-file", defaults.GetString("log.file"), "Optional rotating log file")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "log.file", "log-file")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := newLogger(appConfig)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, closeDB, err := openDatabase(appConfig, logger)
	if err != nil {
		return err
	}
	defer closeDB()

	dispatcher := realtime.NewDispatcher(appConfig.MaxSubscribers)
	defer dispatcher.Close()
	recorder := metrics.NewRecorder()

	ledgerService, err := newLedgerService(appConfig, db, dispatcher, recorder, logger)
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := ledgerService.Bootstrap(signalCtx); err != nil {
		return err
	}

	reconciler, err := ledger.NewReconciler(ledgerService, appConfig.ReconcileInterval, logger)
	if err != nil {
		return err
	}
	go reconciler.Run(signalCtx)

	if appConfig.DatabaseDriver == config.DriverPostgres {
		bridge, err := realtime.NewPostgresBridge(appConfig.DatabaseDSN, dispatcher, logger)
		if err != nil {
			return err
		}
		go bridge.Run(signalCtx)
	}

	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.AuthSigningSecret),
		Issuer:        appConfig.AuthIssuer,
		CookieName:    appConfig.AuthCookieName,
	})
	if err != nil {
		return err
	}
	tokenIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.AuthSigningSecret),
		Issuer:        appConfig.AuthIssuer,
		TokenTTL:      appConfig.AuthTokenTTL,
	})
	if err != nil {
		return err
	}

	var passwordVerifier server.PasswordVerifier
	if appConfig.ModeratorPasswordHash != "" {
		verifier, err := auth.NewPasswordVerifier(appConfig.ModeratorPasswordHash)
		if err != nil {
			return err
		}
		passwordVerifier = verifier
	} else {
		logger.Warn("moderator login disabled: auth.moderator_password_hash is not set")
	}

	moderatorService, err := moderators.NewService(moderators.ServiceConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Ledger:              ledgerService,
		Sessions:            sessionValidator,
		Tokens:              tokenIssuer,
		Passwords:           passwordVerifier,
		Moderators:          moderatorService,
		Feed:                dispatcher,
		Metrics:             recorder,
		Logger:              logger,
		AllowedOrigins:      appConfig.AllowedOrigins,
		SubmitRatePerMinute: appConfig.SubmitRatePerMinute,
		SubmitBurst:         appConfig.SubmitBurst,
		PollInterval:        appConfig.PollInterval,
		HeartbeatInterval:   appConfig.HeartbeatInterval,
		SecureCookies:       appConfig.SecureCookies,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		logger.Info("server shutting down")
		// Streams only end when their subscriptions close.
		dispatcher.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
