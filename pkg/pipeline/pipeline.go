// Package pipeline drives extractors into a sink: it restores each
// resource's cursor, batches the records it yields and commits every batch
// together with the cursor that follows it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"krakensync/pkg/core"
	"krakensync/pkg/futures"
	"krakensync/pkg/sink"
)

// ErrFailedJobs is returned by Run in strict mode when a resource failed.
var ErrFailedJobs = errors.New("one or more resources failed")

type Pipeline struct {
	registry *Registry
	sink     sink.Sink
	logger   zerolog.Logger

	devMode     bool
	strict      bool
	parallelism int
	batchSize   int
	now         func() time.Time
}

// Option is a functional option for configuring the Pipeline.
type Option func(*Pipeline)

func WithLogger(l zerolog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// WithDevMode discards stored rows and cursors before each resource runs.
func WithDevMode(enabled bool) Option {
	return func(p *Pipeline) {
		p.devMode = enabled
	}
}

// WithStrict makes Run stop at and return the first resource failure.
func WithStrict(enabled bool) Option {
	return func(p *Pipeline) {
		p.strict = enabled
	}
}

// WithParallelism bounds how many resources run at once. Pagination within
// a resource is always sequential.
func WithParallelism(n int) Option {
	return func(p *Pipeline) {
		p.parallelism = n
	}
}

func WithBatchSize(n int) Option {
	return func(p *Pipeline) {
		p.batchSize = n
	}
}

func New(registry *Registry, s sink.Sink, opts ...Option) *Pipeline {
	p := &Pipeline{
		registry:    registry,
		sink:        s,
		logger:      zerolog.Nop(),
		parallelism: 1,
		batchSize:   1000,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.parallelism < 1 {
		p.parallelism = 1
	}
	if p.batchSize < 1 {
		p.batchSize = 1
	}
	return p
}

// ResourceResult is the outcome of one resource in a run.
type ResourceResult struct {
	Resource      core.Resource `json:"resource"`
	Disposition   string        `json:"write_disposition"`
	Rows          int           `json:"rows"`
	LastTimestamp int64         `json:"last_timestamp,omitempty"`
	Duration      float64       `json:"duration_seconds"`
	Error         string        `json:"error,omitempty"`
	Skipped       bool          `json:"skipped,omitempty"`

	err error
}

// Failed reports whether the resource ended in error.
func (r *ResourceResult) Failed() bool {
	return r.err != nil
}

// Err returns the failure cause.
func (r *ResourceResult) Err() error {
	return r.err
}

// LoadInfo summarizes a run.
type LoadInfo struct {
	LoadID     string           `json:"load_id"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Duration   float64          `json:"duration_seconds"`
	Resources  []ResourceResult `json:"resources"`
	Rows       map[string]int   `json:"rows"`
	Failed     []string         `json:"failed_resources,omitempty"`
}

// HasFailedJobs reports whether any resource failed.
func (l *LoadInfo) HasFailedJobs() bool {
	return len(l.Failed) > 0
}

// TotalRows sums rows over every resource.
func (l *LoadInfo) TotalRows() int {
	total := 0
	for _, n := range l.Rows {
		total += n
	}
	return total
}

// Run extracts resources (all registered ones when empty) into the sink. In
// strict mode the first failure cancels the remaining resources and is
// returned wrapped in ErrFailedJobs; otherwise failures are only reported in
// the LoadInfo.
func (p *Pipeline) Run(ctx context.Context, resources ...core.Resource) (*LoadInfo, error) {
	if len(resources) == 0 {
		resources = p.registry.Resources()
	}

	info := &LoadInfo{
		LoadID:    uuid.NewString(),
		StartedAt: p.now(),
		Resources: make([]ResourceResult, len(resources)),
		Rows:      make(map[string]int, len(resources)),
	}
	logger := p.logger.With().Str("load_id", info.LoadID).Logger()
	logger.Info().Int("resources", len(resources)).Bool("dev_mode", p.devMode).Msg("load started")

	var g *errgroup.Group
	runCtx := ctx
	if p.strict {
		g, runCtx = errgroup.WithContext(ctx)
	} else {
		g = &errgroup.Group{}
	}
	g.SetLimit(p.parallelism)

	for i, resource := range resources {
		g.Go(func() error {
			// Go blocks on the limit, so a failure may land while waiting.
			if p.strict && runCtx.Err() != nil {
				info.Resources[i] = ResourceResult{Resource: resource, Disposition: resource.Disposition().String(), Skipped: true}
				return nil
			}
			result := p.runResource(runCtx, logger, info.LoadID, resource)
			info.Resources[i] = result
			if p.strict && result.err != nil {
				return fmt.Errorf("%s: %w", resource, result.err)
			}
			return nil
		})
	}
	waitErr := g.Wait()

	info.FinishedAt = p.now()
	info.Duration = info.FinishedAt.Sub(info.StartedAt).Seconds()
	for i := range info.Resources {
		r := &info.Resources[i]
		if r.Skipped {
			continue
		}
		info.Rows[r.Resource.String()] = r.Rows
		if r.Failed() {
			info.Failed = append(info.Failed, r.Resource.String())
		}
	}

	logger.Info().
		Int("rows", info.TotalRows()).
		Strs("failed", info.Failed).
		Float64("duration_seconds", info.Duration).
		Msg("load finished")

	if waitErr != nil {
		return info, fmt.Errorf("%w: %w", ErrFailedJobs, waitErr)
	}
	return info, nil
}

func (p *Pipeline) runResource(ctx context.Context, logger zerolog.Logger, loadID string, resource core.Resource) ResourceResult {
	start := p.now()
	result := ResourceResult{Resource: resource, Disposition: resource.Disposition().String()}
	logger = logger.With().Str("resource", resource.String()).Logger()

	result.err = p.extract(ctx, logger, loadID, resource, &result)
	result.Duration = p.now().Sub(start).Seconds()
	if result.err != nil {
		result.Error = result.err.Error()
		logger.Error().Err(result.err).Int("rows", result.Rows).Msg("resource failed")
		return result
	}
	logger.Info().Int("rows", result.Rows).Float64("duration_seconds", result.Duration).Msg("resource committed")
	return result
}

func (p *Pipeline) extract(ctx context.Context, logger zerolog.Logger, loadID string, resource core.Resource, result *ResourceResult) error {
	ex, err := p.registry.Get(resource)
	if err != nil {
		return err
	}

	if p.devMode {
		if err := p.sink.Reset(ctx, resource); err != nil {
			return fmt.Errorf("reset: %w", err)
		}
	}

	blob, err := p.sink.LoadState(ctx, resource)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	state, err := futures.DecodeCursorState(blob)
	if err != nil {
		return err
	}

	w := &batchWriter{
		sink:       p.sink,
		resource:   resource,
		primaryKey: ex.PrimaryKey(),
		loadID:     loadID,
		state:      state,
		replace:    resource.Disposition() == core.DispositionReplace,
		batchSize:  p.batchSize,
		logger:     logger,
	}

	for record, err := range ex.Extract(ctx, state) {
		if err != nil {
			// Appended records and the cursor covering them stay consistent,
			// so progress is kept. A partial snapshot must not replace the
			// previous one.
			if !w.replace {
				if ferr := w.flush(ctx); ferr != nil {
					logger.Warn().Err(ferr).Msg("flush after failure")
				}
			}
			result.Rows = w.rows
			result.LastTimestamp = int64(state.LastTimestamp)
			return err
		}
		if err := w.add(ctx, record); err != nil {
			result.Rows = w.rows
			return err
		}
	}

	if err := w.flush(ctx); err != nil {
		result.Rows = w.rows
		return err
	}
	result.Rows = w.rows
	result.LastTimestamp = int64(state.LastTimestamp)
	return nil
}

// batchWriter accumulates records and commits them with a snapshot of the
// cursor taken at flush time.
type batchWriter struct {
	sink       sink.Sink
	resource   core.Resource
	primaryKey []string
	loadID     string
	state      *futures.CursorState
	replace    bool
	batchSize  int
	logger     zerolog.Logger

	records []core.Record
	rows    int
	flushed bool
}

func (w *batchWriter) add(ctx context.Context, record core.Record) error {
	w.records = append(w.records, record)
	if len(w.records) >= w.batchSize {
		return w.flush(ctx)
	}
	return nil
}

func (w *batchWriter) flush(ctx context.Context) error {
	batch := &sink.Batch{
		Resource:    w.resource,
		Disposition: w.resource.Disposition(),
		PrimaryKey:  w.primaryKey,
		LoadID:      w.loadID,
		Records:     w.records,
		Replace:     w.replace && !w.flushed,
	}
	if !w.replace {
		state, err := w.state.Encode()
		if err != nil {
			return fmt.Errorf("encode state: %w", err)
		}
		batch.State = state
	}

	n, err := w.sink.Write(ctx, batch)
	if err != nil {
		return fmt.Errorf("write batch: %w", err)
	}
	w.rows += n
	w.flushed = true
	w.records = nil
	w.logger.Debug().Int("rows", n).Int("total", w.rows).Msg("batch committed")
	return nil
}
