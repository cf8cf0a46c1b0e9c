package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/diwise/eav-store/internal/pkg/application/datastore"
	"github.com/diwise/eav-store/internal/pkg/infrastructure/database"
	"github.com/diwise/eav-store/internal/pkg/infrastructure/router"
	"github.com/diwise/eav-store/internal/pkg/presentation/api"
	"github.com/diwise/eav-store/pkg/eav/schema"
	"github.com/diwise/service-chassis/pkg/infrastructure/buildinfo"
	"github.com/diwise/service-chassis/pkg/infrastructure/env"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const serviceName string = "eav-store"

func main() {
	serviceVersion := buildinfo.SourceVersion()

	flags := parseExternalConfig(context.Background(), DefaultFlags())

	ctx, logger, cleanup := o11y.Init(context.Background(), serviceName, serviceVersion, flags[logFormat])
	defer cleanup()

	storeConfig, err := os.Open(flags[configPath])
	if err != nil {
		logger.Error("failed to open data store configuration", "path", flags[configPath], "err", err.Error())
		os.Exit(1)
	}

	policies, err := os.Open(flags[opaPath])
	if err != nil {
		logger.Error("failed to open opa policy file", "path", flags[opaPath], "err", err.Error())
		os.Exit(1)
	}

	app, err := initialize(ctx, flags, &AppConfig{
		storeConfig: storeConfig,
		opaConfig:   policies,
		registerer:  prometheus.DefaultRegisterer,
	})
	if err != nil {
		logger.Error("failed to initialize service", "err", err.Error())
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = app.Run(ctx)
	if err != nil {
		logger.Error("service failed", "err", err.Error())
		os.Exit(1)
	}
}

func DefaultFlags() FlagMap {
	return FlagMap{
		listenAddress: "",
		servicePort:   "8080",
		metricsPort:   "",

		configPath: "/opt/diwise/config/eav-store.yaml",
		opaPath:    "/opt/diwise/config/authz.rego",

		logFormat: "json",
	}
}

func parseExternalConfig(ctx context.Context, flags FlagMap) FlagMap {

	// Allow environment variables to override certain defaults
	envOrDef := env.GetVariableOrDefault
	flags[servicePort] = envOrDef(ctx, "SERVICE_PORT", flags[servicePort])
	flags[metricsPort] = envOrDef(ctx, "METRICS_PORT", flags[metricsPort])
	flags[configPath] = envOrDef(ctx, "EAV_STORE_CONFIG_PATH", flags[configPath])
	flags[opaPath] = envOrDef(ctx, "EAV_STORE_POLICIES_PATH", flags[opaPath])
	flags[storageDriver] = envOrDef(ctx, "EAV_STORE_DRIVER", flags[storageDriver])
	flags[storagePath] = envOrDef(ctx, "EAV_STORE_PATH", flags[storagePath])
	flags[logFormat] = envOrDef(ctx, "LOG_FORMAT", flags[logFormat])

	apply := func(f FlagType) func(string) error {
		return func(value string) error {
			flags[f] = value
			return nil
		}
	}

	// Allow command line arguments to override defaults and environment variables
	flag.Func("config", "path to the data store configuration file", apply(configPath))
	flag.Func("policies", "an authorization policy file", apply(opaPath))
	flag.Func("driver", "storage driver, one of memory, sqlite or postgres", apply(storageDriver))
	flag.Func("db", "path to the sqlite database file", apply(storagePath))
	flag.Parse()

	return flags
}

type application struct {
	store     database.Store
	datastore datastore.DataStore

	public  *http.Server
	metrics *http.Server

	publicListener  net.Listener
	metricsListener net.Listener
}

func initialize(ctx context.Context, flags FlagMap, appCfg *AppConfig) (_ *application, err error) {
	defer appCfg.storeConfig.Close()
	defer appCfg.opaConfig.Close()

	appCfg.cfg, err = datastore.LoadConfiguration(appCfg.storeConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to load data store configuration: %w", err)
	}

	registry, err := schema.NewRegistry(&appCfg.cfg.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to create family registry: %w", err)
	}

	store, err := newStore(ctx, flags, appCfg.cfg.Storage, registry)
	if err != nil {
		return nil, err
	}

	var listeners []net.Listener

	// release what has been acquired if initialization fails further on
	defer func() {
		if err != nil {
			for _, l := range listeners {
				l.Close()
			}
			store.Close()
		}
	}()

	decorators := []datastore.AppDecoratorFunc{}

	if appCfg.registerer != nil {
		decorators = append(decorators, datastore.WithRegisterer(appCfg.registerer))
	}

	notifier, err := datastore.NewNotifierFromConfig(ctx, appCfg.cfg)
	if err != nil {
		return nil, err
	}

	if notifier != nil {
		decorators = append(decorators, datastore.WithNotifier(notifier))
	}

	ds, err := datastore.New(ctx, store, registry, decorators...)
	if err != nil {
		return nil, err
	}

	r := router.New(serviceName)

	err = api.RegisterHandlers(ctx, r, appCfg.opaConfig, ds)
	if err != nil {
		return nil, err
	}

	app := &application{
		store:     store,
		datastore: ds,
		public:    &http.Server{Handler: r, ReadHeaderTimeout: 5 * time.Second},
	}

	app.publicListener, err = net.Listen("tcp", net.JoinHostPort(flags[listenAddress], flags[servicePort]))
	if err != nil {
		return nil, fmt.Errorf("failed to listen on port %s: %w", flags[servicePort], err)
	}
	listeners = append(listeners, app.publicListener)
	appCfg.publicPort = portOf(app.publicListener)

	if flags[metricsPort] != "" {
		gatherer, ok := appCfg.registerer.(prometheus.Gatherer)
		if !ok {
			gatherer = prometheus.DefaultGatherer
		}

		mr := chi.NewRouter()
		mr.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

		app.metrics = &http.Server{Handler: mr, ReadHeaderTimeout: 5 * time.Second}

		app.metricsListener, err = net.Listen("tcp", net.JoinHostPort(flags[listenAddress], flags[metricsPort]))
		if err != nil {
			return nil, fmt.Errorf("failed to listen on metrics port %s: %w", flags[metricsPort], err)
		}
		listeners = append(listeners, app.metricsListener)
		appCfg.metricsPort = portOf(app.metricsListener)
	}

	return app, nil
}

func newStore(ctx context.Context, flags FlagMap, cfg datastore.StorageConfig, registry *schema.Registry) (database.Store, error) {
	driver := cfg.Driver
	if flags[storageDriver] != "" {
		driver = flags[storageDriver]
	}

	path := cfg.Path
	if flags[storagePath] != "" {
		path = flags[storagePath]
	}

	switch driver {
	case "", "memory":
		return database.NewMemoryStore(registry), nil
	case "sqlite":
		return database.NewSQLiteStore(ctx, path, registry)
	case "postgres":
		return database.NewPostgresStore(ctx, database.LoadPostgresConfig(ctx), registry)
	}

	return nil, fmt.Errorf("unknown storage driver %q", driver)
}

// Run serves requests until ctx is cancelled
func (app *application) Run(ctx context.Context) error {
	logger := logging.GetFromContext(ctx)

	err := app.datastore.Start()
	if err != nil {
		return err
	}

	errs := make(chan error, 2)

	serve := func(srv *http.Server, l net.Listener) {
		logger.Info("starting to listen for connections", "address", l.Addr().String())
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}

	go serve(app.public, app.publicListener)
	if app.metrics != nil {
		go serve(app.metrics, app.metricsListener)
	}

	select {
	case <-ctx.Done():
	case err = <-errs:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	app.public.Shutdown(shutdownCtx)
	if app.metrics != nil {
		app.metrics.Shutdown(shutdownCtx)
	}

	app.datastore.Stop()
	app.store.Close()

	return err
}

func portOf(l net.Listener) string {
	_, port, _ := net.SplitHostPort(l.Addr().String())
	return port
}
