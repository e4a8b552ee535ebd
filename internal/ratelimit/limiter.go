// Package ratelimit keeps a run below the exchange request budget. The
// futures API meters history endpoints and derivatives endpoints separately,
// so each endpoint family gets its own token bucket.
package ratelimit

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Endpoint families with independent budgets.
const (
	BucketHistory     = "history"
	BucketDerivatives = "derivatives"
)

// BucketFor maps a request path to its endpoint family.
func BucketFor(path string) string {
	if strings.HasPrefix(path, "/derivatives") {
		return BucketDerivatives
	}
	return BucketHistory
}

// Limiter shares a request budget between every extractor of a run.
type Limiter struct {
	buckets  sync.Map
	requests int
	period   time.Duration
	metrics  *Metrics
}

// Metrics tracks statistics about limiter usage.
type Metrics struct {
	totalWaits   atomic.Int64
	delayedWaits atomic.Int64
	deniedWaits  atomic.Int64
	waitedNanos  atomic.Int64
	bucketCount  atomic.Int32
}

// New creates a Limiter allowing requests per period in every bucket.
func New(requests int, period time.Duration) *Limiter {
	return &Limiter{
		requests: requests,
		period:   period,
		metrics:  &Metrics{},
	}
}

// Wait blocks until the bucket serving path admits one request or ctx ends.
func (l *Limiter) Wait(ctx context.Context, path string) error {
	l.metrics.totalWaits.Add(1)
	limiter := l.getBucket(BucketFor(path))

	start := time.Now()
	err := limiter.Wait(ctx)
	if err != nil {
		l.metrics.deniedWaits.Add(1)
		return err
	}
	if waited := time.Since(start); waited > time.Millisecond {
		l.metrics.delayedWaits.Add(1)
		l.metrics.waitedNanos.Add(int64(waited))
	}
	return nil
}

func (l *Limiter) getBucket(bucket string) *rate.Limiter {
	if v, ok := l.buckets.Load(bucket); ok {
		return v.(*rate.Limiter)
	}

	rps := float64(l.requests) / l.period.Seconds()
	limiter := rate.NewLimiter(rate.Limit(rps), l.requests)
	actual, loaded := l.buckets.LoadOrStore(bucket, limiter)
	if !loaded {
		l.metrics.bucketCount.Add(1)
	}
	return actual.(*rate.Limiter)
}

// Metrics returns a snapshot of the current limiter statistics.
func (l *Limiter) Metrics() MetricsSnapshot {
	return MetricsSnapshot{
		TotalWaits:   l.metrics.totalWaits.Load(),
		DelayedWaits: l.metrics.delayedWaits.Load(),
		DeniedWaits:  l.metrics.deniedWaits.Load(),
		Waited:       time.Duration(l.metrics.waitedNanos.Load()),
		BucketCount:  l.metrics.bucketCount.Load(),
	}
}

// MetricsSnapshot is a point-in-time capture of limiter statistics.
type MetricsSnapshot struct {
	// TotalWaits counts every admission check.
	TotalWaits int64
	// DelayedWaits counts admissions that had to block.
	DelayedWaits int64
	// DeniedWaits counts checks that failed or were cancelled.
	DeniedWaits int64
	// Waited is the cumulative time spent blocked.
	Waited time.Duration
	// BucketCount is the number of endpoint families seen.
	BucketCount int32
}
