// Package recordsource opens the configured patient record source.
package recordsource

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/drfirst/go-caregap/internal/config"
	"github.com/drfirst/go-caregap/internal/domain/caregap"
	"github.com/drfirst/go-caregap/internal/infrastructure/fhirclient"
	"github.com/drfirst/go-caregap/internal/infrastructure/postgres"
	"github.com/drfirst/go-caregap/pkg/circuitbreaker"
)

// Source is a record source that can report its readiness
type Source interface {
	caregap.RecordSource
	Ping(ctx context.Context) error
}

// Open returns the source selected by cfg.RecordSource and a func releasing
// it. onBreakerChange, when set, observes upstream circuit breaker transitions.
func Open(ctx context.Context, cfg *config.Config, onBreakerChange func(name string, from, to circuitbreaker.State), logger *zap.Logger) (Source, func(), error) {
	switch cfg.RecordSource {
	case config.SourcePostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to database: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("database ping: %w", err)
		}
		logger.Info("connected to database")
		return postgres.NewRecordStore(pool, logger), pool.Close, nil

	case config.SourceFHIR:
		breaker := circuitbreaker.DefaultConfig("fhir")
		breaker.OnStateChange = onBreakerChange
		client, err := fhirclient.New(fhirclient.Config{
			BaseURL:     cfg.FHIRBaseURL,
			BearerToken: cfg.FHIRBearerToken,
			Timeout:     cfg.FHIRTimeout,
		}, breaker, logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using upstream FHIR server", zap.String("base_url", cfg.FHIRBaseURL))
		return client, func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown record source %q", cfg.RecordSource)
}
