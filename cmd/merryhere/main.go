package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/movewan/merryhere-sub000/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	envPrefix = "MERRYHERE"
	envFile   = ".env"

	flagDatabaseURL    = "database-url"
	flagStoreBackend   = "store-backend"
	flagHTTPAddr       = "http-addr"
	flagGRPCAddr       = "grpc-addr"
	flagTimeZone       = "time-zone"
	flagAllowedOrigins = "allowed-origins"
	flagRequestTimeout = "request-timeout"
	flagJWTSigningKey  = "jwt-signing-key"
	flagJWTIssuer      = "jwt-issuer"
	flagJWTCookieName  = "jwt-cookie-name"
	flagAdminRole      = "admin-role"
	flagAMQPURL        = "amqp-url"
	flagAMQPExchange   = "amqp-exchange"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "merryhere: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &config.Config{}
	cmd := &cobra.Command{
		Use:           "merryhere",
		Short:         "Meeting room reservations paid with member points",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
	}

	flags := cmd.PersistentFlags()
	flags.String(flagDatabaseURL, "", "postgres:// or sqlite:// database url")
	flags.String(flagStoreBackend, config.StoreBackendGorm, "store implementation: gorm or pgx")
	flags.String(flagTimeZone, "", "time zone that defines booking days")

	cmd.AddCommand(newServeCommand(cfg))
	cmd.AddCommand(newMigrateCommand(cfg))
	cmd.AddCommand(newRoomsCommand(cfg))
	cmd.AddCommand(newPointsCommand(cfg))
	return cmd
}

// loadConfig resolves flags, MERRYHERE_* environment variables and an optional .env file,
// in that order of precedence.
func loadConfig(cmd *cobra.Command, cfg *config.Config) error {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", envFile, err)
	}

	settings := viper.New()
	settings.SetEnvPrefix(envPrefix)
	settings.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	settings.AutomaticEnv()
	if err := settings.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	cfg.DatabaseURL = settings.GetString(flagDatabaseURL)
	cfg.StoreBackend = settings.GetString(flagStoreBackend)
	cfg.HTTPAddr = settings.GetString(flagHTTPAddr)
	cfg.GRPCAddr = settings.GetString(flagGRPCAddr)
	cfg.TimeZone = settings.GetString(flagTimeZone)
	cfg.AllowedOrigins = config.ParseAllowedOrigins(settings.GetString(flagAllowedOrigins))
	cfg.RequestTimeout = settings.GetDuration(flagRequestTimeout)
	cfg.SessionSigningKey = settings.GetString(flagJWTSigningKey)
	cfg.SessionIssuer = settings.GetString(flagJWTIssuer)
	cfg.SessionCookieName = settings.GetString(flagJWTCookieName)
	cfg.AdminRole = settings.GetString(flagAdminRole)
	cfg.AMQPURL = settings.GetString(flagAMQPURL)
	cfg.AMQPExchange = settings.GetString(flagAMQPExchange)
	return cfg.Validate()
}
