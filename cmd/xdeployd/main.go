// Command xdeployd runs the deployment-management API server.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/robfig/cron/v3"

	"github.com/xdeploy/xdeploy/pkg/apikeys"
	"github.com/xdeploy/xdeploy/pkg/auth"
	"github.com/xdeploy/xdeploy/pkg/cache"
	"github.com/xdeploy/xdeploy/pkg/cloud"
	"github.com/xdeploy/xdeploy/pkg/config"
	"github.com/xdeploy/xdeploy/pkg/crypto"
	"github.com/xdeploy/xdeploy/pkg/deploy"
	"github.com/xdeploy/xdeploy/pkg/events"
	"github.com/xdeploy/xdeploy/pkg/objects"
	"github.com/xdeploy/xdeploy/pkg/observability"
	"github.com/xdeploy/xdeploy/pkg/orgs"
	"github.com/xdeploy/xdeploy/pkg/policy"
	"github.com/xdeploy/xdeploy/pkg/projects"
	"github.com/xdeploy/xdeploy/pkg/server"
	"github.com/xdeploy/xdeploy/pkg/store"
	"github.com/xdeploy/xdeploy/pkg/vault"
)

// invitationSweepSchedule expires stale invitations hourly.
const invitationSweepSchedule = "@every 1h"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "xdeployd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := observability.NewLogger(cfg.Log.Level, cfg.Log.Format, os.Stdout)
	log.Info("starting xdeployd")

	ctx := context.Background()

	db, err := store.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
	if err != nil {
		return err
	}
	if err := db.EnsureIndexes(ctx); err != nil {
		return err
	}

	redisClient, err := cache.NewRedisClient(cfg.Redis.URL)
	if err != nil {
		return err
	}
	nonces := cache.NewNonceStore(redisClient)

	cipher, err := crypto.NewCipher(cfg.Auth.EncryptionKey)
	if err != nil {
		return err
	}
	tokens, err := auth.NewTokenService(cfg.Auth.TokenSecret, nonces)
	if err != nil {
		return err
	}

	producer := events.NewKafkaProducer(cfg.Kafka.Brokers, log)

	avatars, err := objects.NewStore(ctx, objects.Config{
		Bucket:       cfg.S3.Bucket,
		Region:       cfg.S3.Region,
		Endpoint:     cfg.S3.Endpoint,
		AccessKey:    cfg.S3.AccessKey,
		SecretKey:    cfg.S3.SecretKey,
		UsePathStyle: cfg.S3.UsePathStyle,
	})
	if err != nil {
		return err
	}

	engine := policy.NewEngine(db.Memberships(), db.Roles())

	authSvc := auth.NewService(db.Users(), auth.NewPasswordHasher(), tokens, auth.NewTOTPEngine(), cipher, producer, log)
	orgSvc := orgs.NewService(db.Organizations(), db.Memberships(), db.Invitations(), db.Roles(), db.Users(), engine, log)
	projectSvc := projects.NewService(db.Projects())
	keySvc := apikeys.NewService(db.APIKeys())
	vaultSvc := vault.NewService(db.Credentials(), cipher)

	// Each dispatch and listing opens the organization's OVH credentials
	// fresh from the vault.
	providers := func(ctx context.Context, orgID string) (cloud.Provider, error) {
		payload, err := vaultSvc.OpenByKind(ctx, orgID, vault.KindOVH)
		if err != nil {
			return nil, err
		}
		return cloud.NewOVHProvider(cloud.DefaultOVHEndpoint, cloud.OVHCredentials{
			ApplicationKey:    payload["applicationKey"],
			ApplicationSecret: payload["applicationSecret"],
			ConsumerKey:       payload["consumerKey"],
		})
	}
	metrics := observability.NewMetrics(nil)
	dispatcher := deploy.NewDispatcher(providers, metrics, log)
	clouds := cloud.NewService(providers)

	health := observability.NewHealthChecker()
	health.Register("mongodb", observability.PingerFunc(db.Ping))
	health.Register("redis", observability.PingerFunc(func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	}))

	srv := server.NewServer(server.Deps{
		Auth:        authSvc,
		Avatars:     avatars,
		Orgs:        orgSvc,
		Projects:    projectSvc,
		APIKeys:     keySvc,
		Credentials: vaultSvc,
		Deploys:     dispatcher,
		Clouds:      clouds,
		Tokens:      tokens,
		Keys:        keySvc,
		Authorizer:  engine,
		Log:         log,
		Metrics:     metrics,
		Health:      health,
	})

	sweeper := cron.New()
	if _, err := sweeper.AddFunc(invitationSweepSchedule, func() {
		orgSvc.ExpireInvitations(context.Background())
	}); err != nil {
		return fmt.Errorf("schedule invitation sweep: %w", err)
	}
	sweeper.Start()

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(log, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.Register(func(ctx context.Context) error {
		sweeper.Stop()
		return nil
	})
	shutdown.Register(func(context.Context) error { return producer.Close() })
	shutdown.Register(db.Close)
	shutdown.Register(func(context.Context) error { return redisClient.Close() })

	go func() {
		log.WithField("addr", httpServer.Addr).Info("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("http server failed")
		}
	}()

	return shutdown.Wait()
}
