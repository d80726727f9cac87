package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/aevon-lab/sliceflow/internal/contract"
	contractapi "github.com/aevon-lab/sliceflow/internal/contract/api"
	contractstorage "github.com/aevon-lab/sliceflow/internal/contract/storage"
	corecfg "github.com/aevon-lab/sliceflow/internal/core/config"
	"github.com/aevon-lab/sliceflow/internal/core/storage"
	"github.com/aevon-lab/sliceflow/internal/core/storage/memory"
	"github.com/aevon-lab/sliceflow/internal/core/storage/postgres"
	"github.com/aevon-lab/sliceflow/internal/core/storage/redisstore"
	"github.com/aevon-lab/sliceflow/internal/core/version"
	"github.com/aevon-lab/sliceflow/internal/fanout"
	"github.com/aevon-lab/sliceflow/internal/index"
	"github.com/aevon-lab/sliceflow/internal/ingestion"
	"github.com/aevon-lab/sliceflow/internal/join"
	"github.com/aevon-lab/sliceflow/internal/metrics"
	"github.com/aevon-lab/sliceflow/internal/migrations"
	"github.com/aevon-lab/sliceflow/internal/outbox"
	"github.com/aevon-lab/sliceflow/internal/propagation"
	"github.com/aevon-lab/sliceflow/internal/server"
	"github.com/aevon-lab/sliceflow/internal/sink"
	"github.com/aevon-lab/sliceflow/internal/slicing"
	"github.com/aevon-lab/sliceflow/internal/view"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "sliceflow.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 1. Load Configuration
	cfg, err := corecfg.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded config",
		"database", cfg.Database.Type,
		"contracts", cfg.Contracts.SourceType,
		"index", cfg.Index.Backend,
		"outbox_enabled", cfg.Outbox.Enabled)

	if err := run(cfg); err != nil {
		slog.Error("Sliceflow stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("Shutdown complete")
}

func run(cfg *corecfg.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// 2. Version generator (process-wide)
	nodeID := cfg.Version.NodeID
	if nodeID < 0 {
		nodeID = version.NodeIDFromHost()
	}
	if err := version.Init(nodeID); err != nil {
		return err
	}
	versions := version.Shared()
	slog.Info("Version generator initialized", "node_id", nodeID)

	var (
		m        *metrics.Metrics
		metricsH http.Handler
	)
	if cfg.Metrics.Enabled {
		m = metrics.New()
		metricsH = m.Handler()
	}

	srv := server.New(server.Options{
		Addr:            fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Mode:            cfg.Server.Mode,
		ShutdownTimeout: corecfg.Duration(cfg.Server.ShutdownTimeout),
		Metrics:         metricsH,
	})

	// 3. Storage
	store, closeStore, err := openStore(cfg, srv)
	if err != nil {
		return err
	}
	defer closeStore()

	indexStore, closeIndex, err := openIndexStore(cfg, store, srv)
	if err != nil {
		return err
	}
	defer closeIndex()

	// 4. Contracts
	registry, err := openRegistry(cfg)
	if err != nil {
		return err
	}

	// 5. Slicing, fanout and propagation
	indexSvc := index.NewService(indexStore)
	engine := slicing.NewEngine(join.NewExecutor(store, store), versions)
	slicer := slicing.NewWorkflow(registry, store, store, indexSvc, engine, propagation.NewOutboxListener(store), m)
	fan := fanout.NewWorkflow(indexSvc, slicer, fanout.Config{
		MaxFanout: cfg.Fanout.MaxFanout,
		BatchSize: cfg.Fanout.BatchSize,
	}, m)

	sinks, err := openSinks(ctx, cfg, m)
	if err != nil {
		return err
	}
	defer func() {
		if err := sinks.Close(); err != nil {
			slog.Error("Failed to close sinks", "error", err)
		}
	}()

	var shipper sink.Sink
	if sinks.Len() > 0 {
		shipper = sinks
	}

	router := outbox.NewRouter()
	propagation.NewHandlers(store, store, store, registry, slicer, fan, shipper).Register(router)

	worker := outbox.NewWorker(store, router, outbox.Config{
		WorkerID:       cfg.Outbox.WorkerID,
		BatchSize:      cfg.Outbox.BatchSize,
		ActiveInterval: corecfg.Duration(cfg.Outbox.ActiveInterval),
		IdleInterval:   corecfg.Duration(cfg.Outbox.IdleInterval),
		SweepInterval:  corecfg.Duration(cfg.Outbox.SweepInterval),
		StaleTimeout:   corecfg.Duration(cfg.Outbox.StaleTimeout),
		HandlerTimeout: corecfg.Duration(cfg.Outbox.HandlerTimeout),
		DrainTimeout:   corecfg.Duration(cfg.Outbox.DrainTimeout),
		MaxRetries:     cfg.Outbox.MaxRetries,
		Backoff: outbox.Backoff{
			InitialDelay: corecfg.Duration(cfg.Outbox.InitialDelay),
			MaxDelay:     corecfg.Duration(cfg.Outbox.MaxDelay),
			Multiplier:   cfg.Outbox.Multiplier,
			JitterFactor: cfg.Outbox.JitterFactor,
		},
	}, m)

	// 6. HTTP surfaces
	ingestion.NewService(store, versions, cfg.Server.MaxBodySizeMB).RegisterRoutes(srv.Engine)
	slicer.RegisterRoutes(srv.Engine)
	fan.RegisterRoutes(srv.Engine)
	view.NewService(registry, store).RegisterRoutes(srv.Engine)
	contractapi.NewService(registry).RegisterRoutes(srv.Engine)
	outbox.NewAdmin(store).RegisterRoutes(srv.Engine)

	// 7. Start Services
	g, gctx := errgroup.WithContext(ctx)
	if cfg.Outbox.Enabled {
		g.Go(func() error { return worker.Start(gctx) })
	} else {
		slog.Info("Outbox worker disabled by config")
	}
	g.Go(func() error { return srv.Run(gctx) })

	return g.Wait()
}

type closer func()

// openStore returns the pipeline store selected by database.type.
func openStore(cfg *corecfg.Config, srv *server.Server) (storage.Store, closer, error) {
	if cfg.Database.Type == "memory" {
		slog.Warn("Using in-memory store; data is lost on restart")
		return memory.NewStore(), func() {}, nil
	}

	db, err := postgres.Open(cfg.Database.DSN)
	if err != nil {
		return nil, nil, err
	}
	err = migrations.RunMigrations(db, cfg.Database.AutoMigrate)
	db.Close()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to run database migrations: %w", err)
	}

	adapter, err := postgres.NewAdapter(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	srv.AddHealthCheck("database", adapter)

	return adapter, func() {
		if err := adapter.Close(); err != nil {
			slog.Error("Failed to close database", "error", err)
		}
	}, nil
}

// openIndexStore returns the inverted index backend selected by index.backend.
func openIndexStore(cfg *corecfg.Config, store storage.Store, srv *server.Server) (storage.IndexStore, closer, error) {
	if cfg.Index.Backend != "redis" {
		return store, func() {}, nil
	}

	rc := cfg.Index.Redis
	rs := redisstore.NewIndexStore(rc.Addr, rc.Password, rc.DB, rc.KeyPrefix)
	if err := rs.Ping(context.Background()); err != nil {
		rs.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis index at %s: %w", rc.Addr, err)
	}
	srv.AddHealthCheck("redis", rs)
	slog.Info("Redis inverted index initialized", "addr", rc.Addr, "db", rc.DB)

	return rs, func() {
		if err := rs.Close(); err != nil {
			slog.Error("Failed to close redis index", "error", err)
		}
	}, nil
}

// openRegistry builds the contract registry over the configured repository.
func openRegistry(cfg *corecfg.Config) (*contract.Registry, error) {
	var repo contract.Repository
	switch cfg.Contracts.SourceType {
	case "filesystem":
		fs, err := contractstorage.NewFileSystemRepository(cfg.Contracts.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to load contracts: %w", err)
		}
		repo = fs
	default:
		slog.Warn("Using in-memory contract repository; no contracts are loaded")
		repo = contractstorage.NewMemoryRepository()
	}

	registry := contract.NewRegistryWithCache(repo, cfg.Contracts.CacheCapacity)
	metas, err := registry.List(context.Background(), "")
	if err != nil {
		return nil, err
	}
	slog.Info("Contract registry initialized", "source", cfg.Contracts.SourceType, "contracts", len(metas))
	return registry, nil
}

// openSinks connects every configured slice sink.
func openSinks(ctx context.Context, cfg *corecfg.Config, m *metrics.Metrics) (*sink.Multi, error) {
	var sinks []sink.Sink
	if cfg.Sinks.Log {
		sinks = append(sinks, sink.Log{})
	}
	if cfg.Sinks.NATS.URL != "" {
		ns, err := sink.DialNATS(sink.NATSConfig{
			URL:           cfg.Sinks.NATS.URL,
			SubjectPrefix: cfg.Sinks.NATS.SubjectPrefix,
			ClientName:    "sliceflow",
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, ns)
	}
	if cfg.Sinks.S3.Bucket != "" {
		s3Sink, err := sink.NewS3(ctx, sink.S3Config{
			Bucket:    cfg.Sinks.S3.Bucket,
			Region:    cfg.Sinks.S3.Region,
			Endpoint:  cfg.Sinks.S3.Endpoint,
			PathStyle: cfg.Sinks.S3.PathStyle,
			Prefix:    cfg.Sinks.S3.Prefix,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s3Sink)
	}

	names := make([]string, 0, len(sinks))
	for _, s := range sinks {
		names = append(names, s.Name())
	}
	slog.Info("Slice sinks initialized", "sinks", names)
	return sink.NewMulti(m, sinks...), nil
}
