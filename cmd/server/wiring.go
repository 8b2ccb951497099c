package main

import (
	"context"
	"fmt"
	"log/slog"

	"tokenverif/internal/attestation/keys"
	attsvc "tokenverif/internal/attestation/service"
	"tokenverif/internal/platform/config"
	"tokenverif/internal/platform/httpserver"
	"tokenverif/internal/platform/metrics"
	"tokenverif/internal/platform/postgres"
	"tokenverif/internal/platform/redis"
	"tokenverif/internal/reverification/lock"
	"tokenverif/internal/reverification/runner"
	rsvc "tokenverif/internal/reverification/service"
	"tokenverif/internal/store/memory"
	pgstore "tokenverif/internal/store/postgres"
	"tokenverif/internal/verification/proofs"
	"tokenverif/internal/verification/proofs/dnstxt"
	"tokenverif/internal/verification/proofs/github"
	"tokenverif/internal/verification/proofs/signature"
	vsvc "tokenverif/internal/verification/service"
	audit "tokenverif/pkg/platform/audit"
	"tokenverif/pkg/platform/audit/publishers/kafka"
	"tokenverif/pkg/platform/retry"
)

// store is everything the services persist, served by one backend.
type store interface {
	keys.Store
	attsvc.Store
	vsvc.Store
	rsvc.Store
	Ping(ctx context.Context) error
}

type application struct {
	runner  *runner.Runner
	checks  map[string]httpserver.Check
	closers []func(ctx context.Context)
}

func (a *application) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i](ctx)
	}
}

func build(ctx context.Context, cfg config.Config, log *slog.Logger, m *metrics.Metrics) (*application, error) {
	app := &application{checks: make(map[string]httpserver.Check)}
	fail := func(err error) (*application, error) {
		app.close(context.Background())
		return nil, err
	}

	st, err := openStore(ctx, cfg.Store, log, app)
	if err != nil {
		return fail(err)
	}
	app.checks["store"] = st.Ping

	publisher, err := openAuditPublisher(ctx, cfg.Kafka, log, app)
	if err != nil {
		return fail(err)
	}

	registry, err := buildVerifiers(ctx, cfg, log, app)
	if err != nil {
		return fail(err)
	}

	keyRing := keys.New(st,
		keys.WithLogger(log),
		keys.WithMetrics(m),
		keys.WithAuditPublisher(publisher),
		keys.WithReloadInterval(cfg.Attestation.KeyReloadInterval),
	)
	attestations := attsvc.New(st, keyRing,
		attsvc.WithLogger(log),
		attsvc.WithMetrics(m),
		attsvc.WithAuditPublisher(publisher),
	)
	if _, err := attestations.GetOrCreateActiveKey(ctx); err != nil {
		return fail(fmt.Errorf("load signing key: %w", err))
	}

	verification := vsvc.New(st, registry, attestations,
		vsvc.WithLogger(log),
		vsvc.WithMetrics(m),
		vsvc.WithAuditPublisher(publisher),
		vsvc.WithProofTimeout(cfg.Proofs.Timeout),
	)

	reverifyOpts := []rsvc.Option{
		rsvc.WithLogger(log),
		rsvc.WithMetrics(m),
		rsvc.WithAuditPublisher(publisher),
	}
	locker, err := openLock(ctx, cfg, log, app)
	if err != nil {
		return fail(err)
	}
	if locker != nil {
		reverifyOpts = append(reverifyOpts, rsvc.WithLocker(locker))
	}
	reverification := rsvc.New(st, verification, rsvc.Config{
		MaxProofAge: cfg.Reverify.MaxProofAge,
		MaxFailures: cfg.Reverify.MaxFailures,
		BatchSize:   cfg.Reverify.BatchSize,
		RetryDelay:  cfg.Reverify.RetryDelay,
	}, reverifyOpts...)

	app.runner, err = runner.New(cfg.Reverify.Cron, reverification,
		runner.WithLogger(log),
		runner.WithRunTimeout(cfg.Reverify.LockTTL),
	)
	if err != nil {
		return fail(err)
	}
	return app, nil
}

func openStore(ctx context.Context, cfg config.StoreConfig, log *slog.Logger, app *application) (store, error) {
	if cfg.Driver != "postgres" {
		log.Warn("using in-memory store; state is lost on restart")
		return memory.New(), nil
	}
	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, func(context.Context) { _ = db.Close() })

	st := pgstore.New(db)
	if err := st.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return st, nil
}

// openAuditPublisher returns nil when no brokers are configured; audit events
// are then only logged.
func openAuditPublisher(ctx context.Context, cfg config.KafkaConfig, log *slog.Logger, app *application) (audit.Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, nil
	}
	p, err := kafka.New(cfg.Brokers, cfg.Topic,
		kafka.WithLogger(log),
		kafka.WithMetrics(kafka.NewMetrics()),
	)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, func(ctx context.Context) {
		if err := p.Close(ctx); err != nil {
			log.Warn("audit publisher flush failed", "error", err)
		}
	})
	if err := p.EnsureTopic(ctx, 3, 1); err != nil {
		return nil, err
	}
	app.checks["kafka"] = p.Ping
	return p, nil
}

func openLock(ctx context.Context, cfg config.Config, log *slog.Logger, app *application) (rsvc.Locker, error) {
	client, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	if client == nil {
		log.Warn("REDIS_URL not set; re-verification runs are not coordinated across replicas")
		return nil, nil
	}
	app.closers = append(app.closers, func(context.Context) { _ = client.Close() })
	app.checks["redis"] = client.Health
	l, err := lock.New(client.Client, cfg.Reverify.LockTTL)
	if err != nil {
		return nil, err
	}
	return l, nil
}

func buildVerifiers(ctx context.Context, cfg config.Config, log *slog.Logger, app *application) (*proofs.Registry, error) {
	policy := retry.Policy{
		MaxAttempts:     cfg.Proofs.RetryMaxAttempts,
		InitialInterval: cfg.Proofs.RetryInitialInterval,
		MaxInterval:     cfg.Proofs.RetryMaxInterval,
	}

	chains, err := signature.DialChains(ctx, cfg.Chains.RPCURLs)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, func(context.Context) { chains.Close() })
	if len(cfg.Chains.RPCURLs) == 0 {
		log.Warn("CHAIN_RPC_URLS not set; signature proofs will fail as unsupported chain")
	}

	var resolver dnstxt.Resolver = dnstxt.SystemResolver{}
	if cfg.DNS.Server != "" {
		resolver = dnstxt.NewServerResolver(cfg.DNS.Server, cfg.Proofs.Timeout)
	}

	gh := github.NewClient(github.NewRestClient(cfg.GitHub.APIURL, cfg.GitHub.Token, cfg.Proofs.Timeout))

	return proofs.NewRegistry(
		signature.New(chains, signature.WithRetryPolicy(policy), signature.WithLogger(log)),
		dnstxt.New(resolver, dnstxt.WithRetryPolicy(policy), dnstxt.WithLogger(log)),
		github.New(gh, github.WithRetryPolicy(policy), github.WithLogger(log)),
	)
}
