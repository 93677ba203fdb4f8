package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/helixsec/fusion/internal/archive"
	"github.com/helixsec/fusion/internal/casemgr"
	"github.com/helixsec/fusion/internal/config"
	"github.com/helixsec/fusion/internal/correlation"
	"github.com/helixsec/fusion/internal/dedupe"
	"github.com/helixsec/fusion/internal/enrichment"
	"github.com/helixsec/fusion/internal/escalation"
	"github.com/helixsec/fusion/internal/gateway"
	"github.com/helixsec/fusion/internal/handlers"
	"github.com/helixsec/fusion/internal/logging"
	"github.com/helixsec/fusion/internal/messaging"
	natsclient "github.com/helixsec/fusion/internal/messaging/nats"
	"github.com/helixsec/fusion/internal/normalizer"
	"github.com/helixsec/fusion/internal/pipeline"
	"github.com/helixsec/fusion/internal/repository"
	"github.com/helixsec/fusion/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the fusion correlation engine",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "override listen address")
	rootCmd.AddCommand(serveCmd)
}

// repo is the durable state surface the pipeline needs from one backend.
type repo interface {
	pipeline.Store
	escalation.PatternRegistry
	escalation.ApprovalStore
	casemgr.LinkStore
	Close() error
}

func runServe() error {
	gw := &gatewayRef{}
	cfgMgr, err := config.NewManager(cfgFile, func(reloaded *config.Config) {
		gw.applyProviders(reloaded)
		slog.Info("configuration reloaded")
	})
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := cfgMgr.Current()

	logger := logging.New(logging.ParseLevel(cfg.Log.Level), cfg.Log.Format)
	logging.SetDefault(logger)

	slog.Info("Starting fusion engine",
		slog.Int("port", cfg.Server.Port),
		slog.String("log_level", cfg.Log.Level),
		slog.String("log_format", cfg.Log.Format),
	)

	if cfg.Escalation.SigningKey == "" {
		return fmt.Errorf("escalation.signing_key is required; destructive actions cannot be gated without it")
	}

	listenAddr := fmt.Sprintf(":%d", cfg.Server.Port)
	if serveAddr != "" {
		listenAddr = serveAddr
	}

	store, err := buildStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	deduper := buildDeduper(cfg)
	defer deduper.Close()

	var natsClient *natsclient.Client
	var pub messaging.Publisher
	if cfg.NATS.Enabled {
		natsClient, err = natsclient.NewClient(natsclient.Config{
			URL:           cfg.NATS.URL,
			Name:          "fusiond",
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
			Timeout:       5 * time.Second,
		})
		if err != nil {
			slog.Warn("Failed to connect to NATS (continuing without NATS)",
				slog.String("url", cfg.NATS.URL),
				slog.String("error", err.Error()))
		} else {
			slog.Info("Connected to NATS", slog.String("url", cfg.NATS.URL))
			pub = natsClient
		}
	} else {
		slog.Info("NATS messaging disabled")
	}
	events := messaging.NewEvents(pub)

	archiver := buildArchiver(cfg)

	gw.gw = gateway.New(logger)
	gw.applyProviders(cfg)

	synonyms, err := correlation.LoadSynonyms(cfg.Correlation.SynonymsFile)
	if err != nil {
		return fmt.Errorf("load correlation synonyms: %w", err)
	}
	engine := correlation.NewEngine(
		func() config.CorrelationConfig { return cfgMgr.Current().Correlation },
		correlation.NewKeyer(synonyms), logger)

	tokens, err := escalation.NewTokenIssuer(cfg.Escalation.SigningKey)
	if err != nil {
		return fmt.Errorf("approval token issuer: %w", err)
	}

	cases := casemgr.NewManager(casemgr.NewClient(cfg.CaseSystem), store, logger)
	router := escalation.NewRouter(
		func() config.EscalationConfig { return cfgMgr.Current().Escalation },
		store, cases, events, store, tokens, logger)

	orch := enrichment.NewOrchestrator(gw.gw,
		func() config.EnrichmentConfig { return cfgMgr.Current().Enrichment },
		logger, buildProviders(cfg)...)

	p := pipeline.New(pipeline.Options{
		Config:     cfgMgr.Current,
		Normalizer: normalizer.New(cfg.Sources),
		Deduper:    deduper,
		Engine:     engine,
		Sweeper:    correlation.NewSweeper(engine),
		Orch:       orch,
		Router:     router,
		Store:      store,
		Archiver:   archiver,
		Events:     events,
		Log:        logger,
	})

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The pipeline runs on its own context so it keeps accepting work while
	// the HTTP listener drains; it is cancelled only after srv.Shutdown
	// returns, when no request can still be in flight.
	pipeCtx, pipeCancel := context.WithCancel(context.Background())
	defer pipeCancel()

	pipelineDone := make(chan struct{})
	go func() {
		defer close(pipelineDone)
		p.Run(pipeCtx)
	}()

	srv := &http.Server{
		Addr:         listenAddr,
		Handler:      server.NewRouter(handlers.NewHandler(p, logger)),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("fusion engine listening", slog.String("addr", listenAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		pipeCancel()
		<-pipelineDone
		return fmt.Errorf("server error: %w", err)
	case <-shutdownCtx.Done():
	}
	slog.Info("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("graceful shutdown failed", slog.String("error", err.Error()))
	}

	// Only now stop the pipeline: the listener has drained, so every
	// acknowledged ingest is already in the correlation table, and the
	// workers finish the groups the shutdown close hands off.
	pipeCancel()
	<-pipelineDone

	if natsClient != nil {
		natsClient.Close()
	}
	return nil
}

// buildStore connects to Postgres and runs migrations; when the database is
// unreachable it falls back to the in-memory store so development setups work
// without one. Production deployments must not run on the memory store.
func buildStore(cfg *config.Config) (repo, error) {
	dbURL := cfg.Database.Postgres.ConnString()

	if err := repository.RunMigrations("file://migrations", dbURL); err != nil {
		slog.Warn("Database unavailable, using in-memory state store",
			slog.String("error", err.Error()))
		return repository.NewMemoryRepository(), nil
	}
	slog.Info("Database migrations completed")

	pg, err := repository.NewPostgresRepository(context.Background(), dbURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	slog.Info("Connected to PostgreSQL",
		slog.String("host", cfg.Database.Postgres.Host),
		slog.String("database", cfg.Database.Postgres.Database))
	return pg, nil
}

func buildDeduper(cfg *config.Config) dedupe.Deduper {
	if !cfg.Redis.Enabled {
		slog.Info("Ingestion deduplication disabled")
		return dedupe.NoOpDeduper{}
	}
	d, err := dedupe.NewRedisDeduper(cfg.Redis.URL, cfg.Redis.Retention)
	if err != nil {
		slog.Warn("Redis unavailable, ingestion deduplication disabled",
			slog.String("error", err.Error()))
		return dedupe.NoOpDeduper{}
	}
	slog.Info("Connected to Redis", slog.String("url", cfg.Redis.URL))
	return d
}

func buildArchiver(cfg *config.Config) archive.Archiver {
	if !cfg.Archive.Enabled {
		slog.Info("Audit archive disabled")
		return archive.NoOp{}
	}
	store, err := archive.NewStore(cfg.Archive)
	if err != nil {
		slog.Warn("OpenSearch unavailable, audit archive disabled",
			slog.String("url", cfg.Archive.URL),
			slog.String("error", err.Error()))
		return archive.NoOp{}
	}
	slog.Info("Connected to OpenSearch archive", slog.String("url", cfg.Archive.URL))
	return store
}

// buildProviders maps configured provider types onto indicator routing.
func buildProviders(cfg *config.Config) []enrichment.Provider {
	var providers []enrichment.Provider
	for name, pc := range cfg.Enrichment.Providers {
		switch pc.Type {
		case "url":
			providers = append(providers, enrichment.NewURLReputation(name))
		case "ip":
			providers = append(providers, enrichment.NewIPReputation(name))
		case "hash":
			providers = append(providers, enrichment.NewHashReputation(name))
		case "service":
			providers = append(providers, enrichment.NewServiceHealth(name))
		default:
			slog.Warn("Unknown enrichment provider type, skipping",
				slog.String("provider", name), slog.String("type", pc.Type))
		}
	}
	return providers
}

// gatewayRef lets the config reload callback re-register providers on the
// gateway that is constructed after the config manager.
type gatewayRef struct {
	gw *gateway.Gateway
}

func (g *gatewayRef) applyProviders(cfg *config.Config) {
	if g.gw == nil {
		return
	}
	for name, pc := range cfg.Enrichment.Providers {
		g.gw.Register(name, pc, enrichment.NewHTTPTransport(pc.URL, pc.Timeout))
	}
}
