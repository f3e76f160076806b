package storage

import (
	"context"
	"time"

	"github.com/platinummonkey/satchel/pkg/observability"
)

// blobBackend is the full contract a blob backend exposes: the store
// operations plus the health probe.
type blobBackend interface {
	Put(ctx context.Context, key string, data []byte, metadata map[string]string) error
	Get(ctx context.Context, key string) ([]byte, map[string]string, error)
	HealthCheck(ctx context.Context) error
}

// InstrumentedBlobStore decorates a blob backend with operation counters
// and latency histograms. The backend label distinguishes filesystem from
// s3 deployments on a shared dashboard.
type InstrumentedBlobStore struct {
	next    blobBackend
	backend string
	metrics *observability.Metrics
}

// NewInstrumentedBlobStore wraps next, reporting metrics under the given
// backend label
func NewInstrumentedBlobStore(next blobBackend, backend string, metrics *observability.Metrics) *InstrumentedBlobStore {
	return &InstrumentedBlobStore{next: next, backend: backend, metrics: metrics}
}

func (s *InstrumentedBlobStore) observe(operation string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	s.metrics.StorageOperationsTotal.WithLabelValues(s.backend, operation, result).Inc()
	s.metrics.StorageOperationDuration.WithLabelValues(s.backend, operation).Observe(time.Since(start).Seconds())
}

// Put implements registry.BlobStore
func (s *InstrumentedBlobStore) Put(ctx context.Context, key string, data []byte, metadata map[string]string) error {
	start := time.Now()
	err := s.next.Put(ctx, key, data, metadata)
	s.observe("put", start, err)
	return err
}

// Get implements registry.BlobStore
func (s *InstrumentedBlobStore) Get(ctx context.Context, key string) ([]byte, map[string]string, error) {
	start := time.Now()
	data, meta, err := s.next.Get(ctx, key)
	s.observe("get", start, err)
	return data, meta, err
}

// HealthCheck implements observability.BlobChecker. Probes are not counted
// as storage operations.
func (s *InstrumentedBlobStore) HealthCheck(ctx context.Context) error {
	return s.next.HealthCheck(ctx)
}
