package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fjod/go_cart/storefront/internal/auth"
	"github.com/fjod/go_cart/storefront/internal/catalog"
	"github.com/fjod/go_cart/storefront/internal/config"
	"github.com/fjod/go_cart/storefront/internal/connectivity"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/hybrid"
	"github.com/fjod/go_cart/storefront/internal/localstore"
	"github.com/fjod/go_cart/storefront/internal/remote"
	"github.com/fjod/go_cart/storefront/internal/reporter"
	"github.com/fjod/go_cart/storefront/internal/state"
	"github.com/fjod/go_cart/storefront/internal/tracing"
	"github.com/sirupsen/logrus"
)

const dbFileName = "storefront.db"

// App holds everything one CLI invocation needs: local storage, the remote
// client and one sync service per collection kind.
type App struct {
	cfg      *config.Client
	log      *logrus.Logger
	owner    string
	backend  *localstore.SQLiteBackend
	remote   *remote.Client
	services map[domain.Kind]*hybrid.Service
	kafka    *reporter.KafkaReporter
	shutdown func(context.Context) error
}

// NewApp opens local storage under cfg.DataDir and wires the services. The
// owner is taken from the token subject; guest forces guest mode.
func NewApp(ctx context.Context, cfg *config.Client, log *logrus.Logger, guest bool) (*App, error) {
	shutdown, err := tracing.Setup(ctx, tracing.Config{
		Exporter:    cfg.Trace.Exporter,
		ServiceName: serviceName(cfg.Trace.ServiceName, "storefront"),
		Output:      os.Stderr,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set up tracing: %w", err)
	}

	a := &App{cfg: cfg, log: log, shutdown: shutdown, services: make(map[domain.Kind]*hybrid.Service)}

	if !guest && cfg.Token != "" {
		owner, err := auth.OwnerFromToken(cfg.Token)
		if err != nil {
			return nil, fmt.Errorf("failed to read owner from token: %w", err)
		}
		a.owner = owner
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	a.backend, err = localstore.OpenSQLite(filepath.Join(cfg.DataDir, dbFileName))
	if err != nil {
		return nil, err
	}

	a.remote = remote.NewClient(remote.Config{
		BaseURL: cfg.APIURL,
		Timeout: cfg.RequestTimeout,
		Tokens:  auth.StaticToken(cfg.Token),
		Logger:  log,
	})
	cat := catalog.NewClient(cfg.CatalogURL, cfg.RequestTimeout)

	reporters := reporter.Multi{reporter.NewLogReporter(log)}
	if len(cfg.KafkaBrokers) > 0 {
		a.kafka = reporter.NewKafkaReporter(cfg.KafkaTopic, cfg.KafkaBrokers...)
		reporters = append(reporters, a.kafka)
	}

	for _, kind := range []domain.Kind{domain.KindCart, domain.KindSaved} {
		svc, err := hybrid.NewService(hybrid.Config{
			Kind:           kind,
			Backend:        a.backend,
			Remote:         a.remote,
			Catalog:        cat,
			Reporter:       reporters,
			MaxRetries:     cfg.MaxRetries,
			ReplayRate:     cfg.ReplayRate,
			SavedRetention: cfg.SavedRetention,
			Logger:         log,
		})
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
		a.services[kind] = svc
	}
	return a, nil
}

func serviceName(configured, fallback string) string {
	if configured != "" {
		return configured
	}
	return fallback
}

// Owner is the signed-in user, empty for a guest.
func (a *App) Owner() string {
	return a.owner
}

func (a *App) Service(kind domain.Kind) *hybrid.Service {
	return a.services[kind]
}

// Open probes the server once and starts the session of kind. A failed
// reconcile is logged; the returned provider still serves local data.
func (a *App) Open(ctx context.Context, kind domain.Kind, opts ...state.Option) *state.Provider {
	svc := a.services[kind]
	online := a.remote.Ping(ctx) == nil
	if err := svc.SetOnline(ctx, online); err != nil {
		a.log.WithError(err).Debug("set online")
	}

	p := state.NewProvider(svc, append([]state.Option{state.WithLogger(a.log)}, opts...)...)
	if err := p.SignIn(ctx, a.owner); err != nil && !errors.Is(err, domain.ErrUnavailable) {
		a.log.WithError(err).Warn("sync on start failed")
	}
	return p
}

// Monitor returns a connectivity monitor probing the API.
func (a *App) Monitor() *connectivity.Monitor {
	return connectivity.NewMonitor(a.remote, a.cfg.ProbeInterval, a.log)
}

// Watcher follows writes to the local database by other processes.
func (a *App) Watcher() (*localstore.Watcher, error) {
	return localstore.NewWatcher(a.backend.Path(), 0, a.log)
}

func (a *App) Close(ctx context.Context) {
	if a.kafka != nil {
		if err := a.kafka.Close(); err != nil {
			a.log.WithError(err).Warn("failed to close kafka writer")
		}
	}
	if a.backend != nil {
		if err := a.backend.Close(); err != nil {
			a.log.WithError(err).Warn("failed to close local storage")
		}
	}
	if a.shutdown != nil {
		if err := a.shutdown(ctx); err != nil {
			a.log.WithError(err).Warn("failed to flush traces")
		}
	}
}
