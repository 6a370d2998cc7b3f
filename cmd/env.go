package main

import (
	"context"
	"os"

	"github.com/k-capehart/go-salesforce/v3"
	"github.com/rotisserie/eris"

	"github.com/sells-group/identity-core/internal/activity"
	"github.com/sells-group/identity-core/internal/enrich"
	"github.com/sells-group/identity-core/internal/identity"
	"github.com/sells-group/identity-core/internal/ingest"
	"github.com/sells-group/identity-core/internal/store"
	"github.com/sells-group/identity-core/internal/tenant"
	"github.com/sells-group/identity-core/internal/webhook"
	"github.com/sells-group/identity-core/pkg/analytics"
	"github.com/sells-group/identity-core/pkg/peoplesearch"
	sfpkg "github.com/sells-group/identity-core/pkg/salesforce"
	"github.com/sells-group/identity-core/pkg/telco"
)

// appEnv holds the store, registries and pipelines shared by the serve,
// enrich and import commands.
type appEnv struct {
	Store    store.Store
	Registry *tenant.Registry
	Pipeline *ingest.Pipeline
	Worker   *enrich.Worker
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv sets up the store, tenant registry, API clients and both
// pipelines. Callers should defer env.Close().
func initEnv(ctx context.Context) (*appEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	registry, err := tenant.Load(cfg.Tenants.Path)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	trackers := analytics.NewRegistry()
	trackers.Register(analytics.NewGoogleAnalytics(gaCredentials(registry)))

	pipeline := ingest.NewPipeline(
		identity.NewResolver(st),
		activity.NewRecorder(st, cfg.Ingest.DebounceWindow()),
		webhook.NewDispatcher(registry),
		registry,
		trackers,
		st,
	)

	telcoClient := telco.NewClient(cfg.Telco.Key, telco.WithBaseURL(cfg.Telco.BaseURL))
	searchClient := peoplesearch.NewClient(cfg.PeopleSearch.Key, peoplesearch.WithBaseURL(cfg.PeopleSearch.BaseURL))
	worker := enrich.NewWorker(st, telcoClient, searchClient, cfg.Enrich.Lookback(), cfg.Enrich.ErrorRetryAfter())

	return &appEnv{
		Store:    st,
		Registry: registry,
		Pipeline: pipeline,
		Worker:   worker,
	}, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "identity.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// gaCredentials resolves per-client Measurement Protocol secrets from
// the tenant registry.
func gaCredentials(registry *tenant.Registry) analytics.CredentialFunc {
	return func(client string) (analytics.Credentials, bool) {
		for _, dest := range registry.AnalyticsDestinations(client) {
			if dest.Provider == "google-analytics" && dest.MeasurementID != "" {
				return analytics.Credentials{
					MeasurementID: dest.MeasurementID,
					APISecret:     dest.APISecret,
				}, true
			}
		}
		return analytics.Credentials{}, false
	}
}

func initSalesforce() (sfpkg.Client, error) {
	if cfg.Salesforce.ClientID == "" {
		return nil, eris.New("salesforce client ID is required (IDENTITY_SALESFORCE_CLIENT_ID)")
	}

	pemData, err := os.ReadFile(cfg.Salesforce.KeyPath)
	if err != nil {
		return nil, eris.Wrap(err, "read salesforce JWT private key")
	}

	sf, err := salesforce.Init(salesforce.Creds{
		Domain:         cfg.Salesforce.LoginURL,
		Username:       cfg.Salesforce.Username,
		ConsumerKey:    cfg.Salesforce.ClientID,
		ConsumerRSAPem: string(pemData),
	})
	if err != nil {
		return nil, eris.Wrap(err, "init salesforce")
	}

	return sfpkg.NewClient(sf, sfpkg.WithRateLimit(cfg.Salesforce.RPS)), nil
}
