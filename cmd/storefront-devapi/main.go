// storefront-devapi is a reference backend for the storefront client: the
// cart and saved-items resources, a product catalog and a health check.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fjod/go_cart/storefront/internal/auth"
	"github.com/fjod/go_cart/storefront/internal/config"
	"github.com/fjod/go_cart/storefront/internal/devserver/cache"
	h "github.com/fjod/go_cart/storefront/internal/devserver/http"
	"github.com/fjod/go_cart/storefront/internal/devserver/repository"
	"github.com/fjod/go_cart/storefront/internal/devserver/service"
	"github.com/fjod/go_cart/storefront/internal/logging"
	"github.com/fjod/go_cart/storefront/internal/tracing"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "storefront-devapi",
		Short:         "Reference API for the storefront client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newTokenCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadDevAPI()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func newTokenCmd() *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token <owner-id>",
		Short: "Print a signed bearer token for owner-id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadDevAPI()
			if err != nil {
				return err
			}
			token, err := auth.Issue([]byte(cfg.JWTSecret), args[0], ttl)
			if err != nil {
				return fmt.Errorf("failed to sign token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func serve(ctx context.Context, cfg *config.DevAPI) error {
	log := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		Exporter:    cfg.Trace.Exporter,
		ServiceName: "storefront-devapi",
	})
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.WithError(err).Warn("failed to flush traces")
		}
	}()

	repo, closeRepo, err := openRepository(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeRepo()

	collectionCache, closeCache := openCache(ctx, cfg, log)
	defer closeCache()

	products := repository.NewProductRepository(repository.DefaultProducts()...)
	svc := service.NewCollectionService(repo, products, collectionCache, log)

	srv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: h.NewRouter(h.RouterConfig{
			Service:        svc,
			Products:       products,
			JWTSecret:      []byte(cfg.JWTSecret),
			RequestTimeout: cfg.RequestTimeout,
			Logger:         log,
		}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("port", cfg.HTTPPort).Info("storefront dev API starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("server exited")
	return nil
}

func openRepository(ctx context.Context, cfg *config.DevAPI, log logrus.FieldLogger) (repository.CollectionRepository, func(), error) {
	if cfg.MongoURI == "" {
		log.Info("MONGO_URI not set, keeping collections in memory")
		return repository.NewMemoryRepository(), func() {}, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	db, err := repository.ConnectMongoDB(connectCtx, cfg.MongoURI, cfg.MongoDBName)
	if err != nil {
		return nil, nil, err
	}
	repo := repository.NewMongoRepository(db)
	if err := repository.CreateIndexes(connectCtx, repo); err != nil {
		return nil, nil, err
	}

	log.WithField("database", cfg.MongoDBName).Info("connected to MongoDB")
	return repo, func() {
		if err := db.Client().Disconnect(context.Background()); err != nil {
			log.WithError(err).Warn("failed to disconnect from MongoDB")
		}
	}, nil
}

func openCache(ctx context.Context, cfg *config.DevAPI, log logrus.FieldLogger) (cache.CollectionCache, func()) {
	if cfg.RedisAddr == "" {
		return cache.Noop{}, func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		log.WithError(err).Warn("redis unreachable, serving without cache")
		client.Close()
		return cache.Noop{}, func() {}
	}

	log.WithField("addr", cfg.RedisAddr).Info("connected to Redis")
	return cache.NewRedisCache(client), func() { client.Close() }
}
