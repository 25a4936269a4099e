package main

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ourea-as/meadstats-api/internal/auth"
	"github.com/ourea-as/meadstats-api/internal/config"
	"github.com/ourea-as/meadstats-api/internal/countries"
	"github.com/ourea-as/meadstats-api/internal/database"
	"github.com/ourea-as/meadstats-api/internal/logging"
	"github.com/ourea-as/meadstats-api/internal/reconcile"
	"github.com/ourea-as/meadstats-api/internal/records"
	"github.com/ourea-as/meadstats-api/internal/server"
	"github.com/ourea-as/meadstats-api/internal/stats"
	"github.com/ourea-as/meadstats-api/internal/untappd"
	"github.com/ourea-as/meadstats-api/internal/users"
)

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "meadstats-api",
		Short: "Untappd checkin statistics backend",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a dotenv file loaded before reading the environment")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("database-dsn", defaults.GetString("database.dsn"), "Postgres connection string")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Session token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().String("untappd-client-id", "", "Untappd OAuth client ID")
	cmd.PersistentFlags().String("untappd-client-secret", "", "Untappd OAuth client secret")
	cmd.PersistentFlags().String("tasting-admin", defaults.GetString("tasting.admin_user"), "User allowed to refresh tasting participants")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "untappd.client_id", "untappd-client-id")
	bindFlag(cmd, "untappd.client_secret", "untappd-client-secret")
	bindFlag(cmd, "tasting.admin_user", "tasting-admin")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
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

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.Open(database.Settings{
		Driver: appConfig.DatabaseDriver,
		Path:   appConfig.DatabasePath,
		DSN:    appConfig.DatabaseDSN,
	}, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	store, err := records.NewStore(db)
	if err != nil {
		return err
	}

	untappdClient, err := untappd.NewClient(untappd.Config{
		ClientID:     appConfig.UntappdClientID,
		ClientSecret: appConfig.UntappdClientSecret,
		Endpoint:     appConfig.UntappdEndpoint,
		AuthorizeURL: appConfig.UntappdAuthorizeURL,
		Timeout:      appConfig.UntappdTimeout,
		MaxRetries:   appConfig.UntappdMaxRetries,
		Logger:       logger.Named("untappd"),
	})
	if err != nil {
		return err
	}

	tokenIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.Issuer,
		Audience:      appConfig.Audience,
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}
	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.Issuer,
		Audience:      appConfig.Audience,
		CookieName:    appConfig.CookieName,
	})
	if err != nil {
		return err
	}

	userService, err := users.NewService(users.ServiceConfig{
		Store:       store,
		Authorizer:  untappdClient,
		RedirectURL: appConfig.RedirectURL(),
		Logger:      logger.Named("users"),
	})
	if err != nil {
		return err
	}

	statsService, err := stats.NewService(stats.ServiceConfig{
		Store:    store,
		Resolver: countries.NewResolver(logger.Named("countries")),
		Logger:   logger.Named("stats"),
	})
	if err != nil {
		return err
	}

	realtime := server.NewRealtimeDispatcher()
	reconciler, err := reconcile.NewReconciler(reconcile.Config{
		Store:    store,
		Source:   untappdClient,
		Reporter: realtime,
		Logger:   logger.Named("reconcile"),
	})
	if err != nil {
		return err
	}
	runner, err := reconcile.NewRunner(reconcile.RunnerConfig{
		Reconciler: reconciler,
		IDProvider: reconcile.NewUUIDProvider(),
		OnFinished: realtime.Finished,
		Logger:     logger.Named("reconcile"),
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Stats:         statsService,
		Authenticator: userService,
		TokenIssuer:   tokenIssuer,
		Validator:     sessionValidator,
		Syncs:         runner,
		Refresher:     reconciler,
		Realtime:      realtime,
		AppURL:        appConfig.AppDomain,
		CookieDomain:  appConfig.CookieDomain,
		CookieName:    appConfig.CookieName,
		TastingAdmin:  appConfig.TastingAdmin,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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
		shutdownCtx, cancel := context.WithTimeout(context.Background(), appConfig.ShutdownTimeout)
		defer cancel()
		shutdownErr := httpServer.Shutdown(shutdownCtx)
		waitForRuns(shutdownCtx, runner, logger)
		return shutdownErr
	case err := <-errCh:
		return err
	}
}

// waitForRuns lets in-flight sync runs finish until ctx expires.
func waitForRuns(ctx context.Context, runner *reconcile.Runner, logger *zap.Logger) {
	done := make(chan struct{})
	go func() {
		runner.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logger.Warn("shutdown deadline reached with sync runs in progress")
	}
}
