package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"krakensync/internal/keyring"
	"krakensync/internal/ratelimit"
	"krakensync/pkg/core"
	"krakensync/pkg/futures"
	"krakensync/pkg/sink"
)

// Runtime is a fully wired run: client, registry, sink and pipeline.
type Runtime struct {
	Client    *futures.Client
	Sink      sink.Sink
	Registry  *Registry
	Pipeline  *Pipeline
	Resources []core.Resource
	// Limiter is nil when no request budget is configured.
	Limiter *ratelimit.Limiter

	logger zerolog.Logger
}

// FromConfig builds a Runtime. Credentials are optional; resources that
// need them are registered as failed jobs when they are absent.
func FromConfig(ctx context.Context, config *core.Config, logger zerolog.Logger) (*Runtime, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	resources, err := core.ParseResources(config.Resources)
	if err != nil {
		return nil, core.NewConfigError("select resources", err)
	}
	start, err := futures.ParseStartTimestamp(config.StartTimestamp)
	if err != nil {
		return nil, err
	}

	cred, err := keyring.FromConfig(config.Credentials)
	if err != nil {
		return nil, err
	}

	clientOpts := []futures.Option{futures.WithLogger(logger.With().Str("component", "client").Logger())}
	if cred != nil {
		signer, err := futures.NewSigner(cred)
		if err != nil {
			return nil, err
		}
		logger.Debug().Stringer("credential", cred).Msg("signing private requests")
		clientOpts = append(clientOpts, futures.WithSigner(signer))
	} else {
		logger.Warn().Msg("no api credentials configured, private resources will fail")
	}
	var limiter *ratelimit.Limiter
	if config.RateLimitRequests > 0 {
		limiter = ratelimit.New(config.RateLimitRequests, config.RateLimitPeriod)
		clientOpts = append(clientOpts, futures.WithLimiter(limiter))
	}

	client, err := futures.NewClient(config, clientOpts...)
	if err != nil {
		return nil, err
	}

	registry := BuildRegistry(client, resources,
		futures.WithStartTimestamp(start),
		futures.WithPageSize(config.PageSize),
		futures.WithResourceLogger(logger),
	)

	s, err := sink.Open(ctx, config.Sink)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("open sink: %w", err)
	}

	p := New(registry, s,
		WithLogger(logger),
		WithDevMode(config.DevMode),
		WithStrict(config.Strict),
		WithParallelism(config.Parallelism),
		WithBatchSize(config.BatchSize),
	)

	return &Runtime{
		Client:    client,
		Sink:      s,
		Registry:  registry,
		Pipeline:  p,
		Resources: resources,
		Limiter:   limiter,
		logger:    logger,
	}, nil
}

// Run executes the configured resources.
func (r *Runtime) Run(ctx context.Context) (*LoadInfo, error) {
	info, err := r.Pipeline.Run(ctx, r.Resources...)
	if r.Limiter != nil {
		m := r.Limiter.Metrics()
		r.logger.Info().
			Int64("total_waits", m.TotalWaits).
			Int64("delayed_waits", m.DelayedWaits).
			Int64("denied_waits", m.DeniedWaits).
			Dur("waited", m.Waited).
			Int32("buckets", m.BucketCount).
			Msg("request budget")
	}
	return info, err
}

// Close releases the sink and the transport.
func (r *Runtime) Close() error {
	return errors.Join(r.Sink.Close(), r.Client.Close())
}
