package gateway

import (
	"context"
	"errors"

	"github.com/perchbot/perch/internal/observability"
	"github.com/perchbot/perch/internal/secretref"
	"github.com/perchbot/perch/internal/secretstore"
)

// instrumentedStore counts every store operation. The wrapped store keeps
// full responsibility for semantics; this layer only observes.
type instrumentedStore struct {
	secretstore.Store
	metrics *observability.Metrics
}

func instrumentStore(store secretstore.Store, metrics *observability.Metrics) secretstore.Store {
	if metrics == nil {
		return store
	}
	return &instrumentedStore{Store: store, metrics: metrics}
}

func (s *instrumentedStore) Get(ctx context.Context, ref secretref.Ref) (string, bool, error) {
	value, ok, err := s.Store.Get(ctx, ref)
	switch {
	case err != nil:
		s.count("get", "error")
	case !ok:
		s.count("get", "miss")
	default:
		s.count("get", "ok")
	}
	return value, ok, err
}

func (s *instrumentedStore) Set(ctx context.Context, ref secretref.Ref, value string) error {
	err := s.Store.Set(ctx, ref, value)
	s.count("set", statusOf(err))
	return err
}

func (s *instrumentedStore) Delete(ctx context.Context, ref secretref.Ref) error {
	err := s.Store.Delete(ctx, ref)
	s.count("delete", statusOf(err))
	return err
}

func (s *instrumentedStore) count(op, status string) {
	s.metrics.SecretStoreOps.WithLabelValues(s.Store.Backend(), op, status).Inc()
}

func statusOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, secretstore.ErrUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
