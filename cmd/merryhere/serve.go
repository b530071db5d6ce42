package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/movewan/merryhere-sub000/internal/config"
	"github.com/movewan/merryhere-sub000/internal/grpcserver"
	"github.com/movewan/merryhere-sub000/internal/httpapi"
	"github.com/movewan/merryhere-sub000/internal/notify"
	"github.com/movewan/merryhere-sub000/internal/oplog"
	"github.com/movewan/merryhere-sub000/pkg/booking"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

func newServeCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.ValidateServer(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}
	flags := cmd.Flags()
	flags.String(flagHTTPAddr, "", "HTTP listen address")
	flags.String(flagGRPCAddr, "", "gRPC listen address")
	flags.String(flagAllowedOrigins, "", "comma separated CORS origins")
	flags.Duration(flagRequestTimeout, 0, "per request timeout")
	flags.String(flagJWTSigningKey, "", "session JWT signing key")
	flags.String(flagJWTIssuer, "", "session JWT issuer")
	flags.String(flagJWTCookieName, "", "session cookie name")
	flags.String(flagAdminRole, "", "role allowed to use admin routes")
	flags.String(flagAMQPURL, "", "RabbitMQ url for booking events; events are logged when empty")
	flags.String(flagAMQPExchange, "", "RabbitMQ topic exchange")
	return cmd
}

func runServer(ctx context.Context, cfg *config.Config) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	opened, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer opened.close()
	if opened.driver == driverSQLite {
		if err := opened.migrate(ctx); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	location, err := cfg.Location()
	if err != nil {
		return err
	}
	clock := func() int64 { return time.Now().UTC().Unix() }
	manager, err := booking.NewManager(opened.store, clock,
		booking.WithLocation(location),
		booking.WithOperationLogger(oplog.Chain{oplog.NewZapLogger(logger), oplog.NewMetricsLogger(registry)}),
	)
	if err != nil {
		return fmt.Errorf("booking manager init: %w", err)
	}
	query, err := booking.NewQuery(opened.store)
	if err != nil {
		return fmt.Errorf("booking query init: %w", err)
	}

	notifier, err := newNotifier(cfg, logger, clock)
	if err != nil {
		return err
	}
	defer func() { _ = notifier.Close() }()

	validator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(cfg.SessionSigningKey),
		Issuer:     cfg.SessionIssuer,
		CookieName: cfg.SessionCookieName,
	})
	if err != nil {
		return fmt.Errorf("session validator: %w", err)
	}
	httpConfig := httpapi.Config{
		ListenAddr:     cfg.HTTPAddr,
		AllowedOrigins: cfg.AllowedOrigins,
		AdminRole:      cfg.AdminRole,
		RequestTimeout: cfg.RequestTimeout,
	}
	handler, err := httpapi.NewHandler(httpConfig, httpapi.Dependencies{
		Manager:  manager,
		Query:    query,
		Notifier: notifier,
		Logger:   logger,
		Registry: registry,
		Now:      clock,
	})
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	grpcServer := grpc.NewServer()
	grpcserver.RegisterBookingServiceServer(grpcServer, grpcserver.NewBookingServer(manager, query))

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return httpapi.Run(groupCtx, httpConfig, httpapi.NewRouter(handler, validator), logger)
	})
	group.Go(func() error {
		logger.Info("gRPC server starting", zap.String("listen_addr", cfg.GRPCAddr))
		if serveErr := grpcServer.Serve(listener); serveErr != nil && !errors.Is(serveErr, grpc.ErrServerStopped) {
			return serveErr
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutdown requested")
		grpcServer.GracefulStop()
		return nil
	})
	return group.Wait()
}

func newNotifier(cfg *config.Config, logger *zap.Logger, clock func() int64) (*notify.Notifier, error) {
	if cfg.AMQPURL == "" {
		return notify.NewNotifier(notify.NewLogPublisher(logger), logger, clock), nil
	}
	publisher, err := notify.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange)
	if err != nil {
		return nil, err
	}
	return notify.NewNotifier(publisher, logger, clock), nil
}
