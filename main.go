package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"appliance-telemetry/adapters"
	"appliance-telemetry/application"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var Flags = []cli.Flag{
	FlagLogLevel,
	FlagLogWriter,
	FlagConfigFile,
	FlagClientID,
	FlagAccessToken,
	FlagUserNumber,
	FlagGatewayURL,
	FlagCountry,
	FlagServiceCode,
	FlagBroker,
	FlagInsecureSkipVerify,
	FlagAllowLegacyTLS,
	FlagCAFile,
	FlagReconnectInitialDelay,
	FlagReconnectMaxDelay,
	FlagDevice,
	FlagRedisAddr,
	FlagRedisPassword,
	FlagRedisDB,
	FlagRedisTTL,
	FlagStatusAddr,
	FlagReportInterval,
	FlagMQTTDebug,
}

func main() {
	var logger zerolog.Logger

	app := cli.App{
		Name:    "appliance-telemetry",
		Version: "v0.0.1",
		Flags:   Flags,
		Before: func(ctx *cli.Context) error {
			var logWriter io.Writer
			var zapLogger *zap.Logger
			var err error
			if ctx.String(FlagLogWriter.Name) == "console" {
				logWriter = zerolog.ConsoleWriter{
					Out:        os.Stderr,
					TimeFormat: time.RFC3339Nano,
				}
				zapLogger, err = zap.NewDevelopment()
			} else {
				logWriter = os.Stderr
				zapLogger, err = zap.NewProduction()
			}
			if err != nil {
				return err
			}

			logger = zerolog.New(logWriter).With().Timestamp().
				Str("service", "appliance-telemetry").
				Str("module", "main").
				Logger()

			level, err := zerolog.ParseLevel(ctx.String(FlagLogLevel.Name))
			if err != nil {
				return err
			}

			zerolog.SetGlobalLevel(level)

			return adapters.ConfigurePahoLogging(zapLogger, ctx.Bool(FlagMQTTDebug.Name))
		},
		Action: func(ctx *cli.Context) error {
			logger.Info().Msg("service starting...")

			appCtx, cancel := context.WithCancel(logger.WithContext(context.Background()))
			defer cancel()
			go func() {
				c := make(chan os.Signal, 1)
				signal.Notify(c, os.Interrupt, syscall.SIGTERM)

				<-c

				logger.Warn().Msg("interrupt signal received")
				cancel()
			}()

			cfg, err := LoadConfig(ctx.String(FlagConfigFile.Name))
			if err != nil {
				return err
			}
			cfg.ApplyFlags(ctx)
			if err := cfg.Validate(); err != nil {
				return err
			}

			tlsPolicy, err := cfg.TLSPolicy()
			if err != nil {
				return err
			}
			if tlsPolicy.InsecureSkipVerify || tlsPolicy.AllowLegacyTLS {
				logger.Warn().
					Bool("insecure_skip_verify", tlsPolicy.InsecureSkipVerify).
					Bool("allow_legacy_tls", tlsPolicy.AllowLegacyTLS).
					Msg("broker TLS verification relaxed")
			}

			provisioner := adapters.NewThinQProvisioner(adapters.ThinQProvisionerParams{
				Log: logger.With().Str("module", "provisioner").Logger(),
			})

			var route application.Route
			if cfg.Broker != "" {
				route, err = cfg.BrokerRoute()
			} else {
				route, err = provisioner.ResolveRoute(appCtx, cfg.AccountGateway())
			}
			if err != nil {
				return err
			}

			client, err := application.NewTelemetryClient(application.TelemetryClientParams{
				ClientID:              cfg.ClientID,
				Credentials:           cfg.AccountCredentials(),
				Gateway:               cfg.AccountGateway(),
				Route:                 route,
				TLSPolicy:             tlsPolicy,
				Provisioner:           provisioner,
				NewTransportFunc:      adapters.NewMQTTTransportFunc(logger.With().Str("module", "mqtt-transport").Logger()),
				InitialReconnectDelay: cfg.Reconnect.InitialDelay,
				MaxReconnectDelay:     cfg.Reconnect.MaxDelay,
				Log:                   logger.With().Str("module", "telemetry-client").Logger(),
			})
			if err != nil {
				return err
			}

			var store adapters.SnapshotStore
			if cfg.Redis.Addr != "" {
				redisClient := redis.NewClient(&redis.Options{
					Addr:     cfg.Redis.Addr,
					Password: cfg.Redis.Password,
					DB:       cfg.Redis.DB,
				})
				defer redisClient.Close()

				if err := redisClient.Ping(appCtx).Err(); err != nil {
					logger.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis not reachable, snapshots will be retried per update")
				}

				store, err = adapters.NewRedisSnapshotStore(adapters.RedisSnapshotStoreParams{
					Client: redisClient,
					TTL:    cfg.Redis.TTL,
					Log:    logger.With().Str("module", "snapshot-store").Logger(),
				})
				if err != nil {
					return err
				}
			}

			consumers := make(map[string]application.Consumer, len(cfg.Devices))
			for _, deviceID := range cfg.Devices {
				consumers[deviceID] = adapters.NewSnapshot(adapters.SnapshotParams{
					DeviceID: deviceID,
					Store:    store,
					Log:      logger.With().Str("module", "snapshot").Logger(),
				})
			}
			if len(consumers) == 0 {
				logger.Warn().Msg("no devices configured, messages will be dropped")
			}

			telemetryService, err := application.NewTelemetryService(application.TelemetryServiceParams{
				Session:        client,
				Consumers:      consumers,
				ReportInterval: cfg.Status.ReportInterval,
				Log:            logger.With().Str("module", "telemetry-service").Logger(),
			})
			if err != nil {
				return err
			}

			g, gCtx := errgroup.WithContext(appCtx)

			if cfg.Status.Addr != "" {
				statusServer, err := adapters.NewStatusServer(adapters.StatusServerParams{
					Source: client,
					Addr:   cfg.Status.Addr,
					Log:    logger.With().Str("module", "status-server").Logger(),
				})
				if err != nil {
					return err
				}
				g.Go(func() error {
					return statusServer.Run(gCtx)
				})
			}

			g.Go(func() error {
				return telemetryService.Run(gCtx)
			})

			logger.Info().Str("client_id", cfg.ClientID).Str("broker", route.Endpoint()).Msg("service started")
			if err := g.Wait(); err != nil {
				return err
			}

			logger.Info().Msg("service terminating...")
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Err(err).Msg("service terminated")
	}
}
