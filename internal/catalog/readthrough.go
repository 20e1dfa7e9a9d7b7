package catalog

import (
	"context"
	"strconv"
	"time"

	"codearena/internal/common/logging"
	"codearena/internal/metrics"
)

// readSpec describes one cached resource for readThrough.
type readSpec[T any] struct {
	resource  string
	key       string
	localTTL  time.Duration
	remoteTTL time.Duration

	// valid rejects cached values that lack the expected shape.
	valid func(T) bool
	// clone copies reference values; nil for plain values.
	clone func(T) T
	// fromRemote overrides the default JSON read from the remote tier.
	fromRemote func(ctx context.Context) (T, bool)
	load       func(ctx context.Context) (T, error)
}

func (r readSpec[T]) copy(v T) T {
	if r.clone == nil {
		return v
	}
	return r.clone(v)
}

func (r readSpec[T]) accepts(v T) bool {
	return r.valid == nil || r.valid(v)
}

// readThrough resolves rs.key from the local tier, the remote tier, and
// finally the source. Concurrent misses for the same key share one source
// load. Cache failures are misses; source errors are returned as is and
// nothing is cached for them.
//
// Loads are keyed by invalidation generation: a read that starts after a
// write never joins a load that started before it, and a load that a write
// overtook returns its value without caching it.
func readThrough[T any](ctx context.Context, s *Service, rs readSpec[T]) (T, error) {
	var zero T

	if cached, ok := s.local.Get(rs.key); ok {
		if v, ok := cached.(T); ok && rs.accepts(v) {
			s.metrics.Lookup(rs.resource, metrics.TierLocal, metrics.ResultHit)
			return rs.copy(v), nil
		}
		s.local.Delete(rs.key)
	}
	s.metrics.Lookup(rs.resource, metrics.TierLocal, metrics.ResultMiss)

	gen := s.generation.Load()
	flight := strconv.FormatUint(gen, 10) + "|" + rs.key

	shared, err, _ := s.loads.Do(flight, func() (interface{}, error) {
		if v, ok := readRemote(ctx, s, rs); ok {
			s.fill(gen, func() {
				s.local.Set(rs.key, rs.copy(v), rs.localTTL)
			})
			return v, nil
		}

		v, err := rs.load(ctx)
		if err != nil {
			s.metrics.Lookup(rs.resource, metrics.TierOrigin, metrics.ResultError)
			return zero, err
		}
		s.metrics.Lookup(rs.resource, metrics.TierOrigin, metrics.ResultHit)

		filled := s.fill(gen, func() {
			if s.remote != nil {
				if err := s.remote.SetObject(ctx, rs.key, v, rs.remoteTTL); err != nil {
					s.logger.Warn("Failed to populate remote cache",
						logging.String("key", rs.key),
						logging.Err(err),
					)
				}
			}
			s.local.Set(rs.key, rs.copy(v), rs.localTTL)
		})
		if !filled {
			s.logger.Debug("Skipping cache fill after concurrent write",
				logging.String("key", rs.key),
			)
		}
		return v, nil
	})
	if err != nil {
		return zero, err
	}
	return rs.copy(shared.(T)), nil
}

// fill runs populate unless a write has invalidated since gen was read.
// invalidate bumps the generation under the write lock, so a fill either
// completes before the write's deletes or does not happen.
func (s *Service) fill(gen uint64, populate func()) bool {
	s.fillMu.RLock()
	defer s.fillMu.RUnlock()
	if s.generation.Load() != gen {
		return false
	}
	populate()
	return true
}

func readRemote[T any](ctx context.Context, s *Service, rs readSpec[T]) (T, bool) {
	var v T
	if s.remote == nil {
		return v, false
	}

	var found bool
	if rs.fromRemote != nil {
		v, found = rs.fromRemote(ctx)
	} else {
		found = s.remote.GetObject(ctx, rs.key, &v)
	}

	if found && !rs.accepts(v) {
		s.logger.Warn("Ignoring incomplete cached value",
			logging.String("key", rs.key),
		)
		found = false
	}

	if !found {
		s.metrics.Lookup(rs.resource, metrics.TierRemote, metrics.ResultMiss)
		return v, false
	}
	s.metrics.Lookup(rs.resource, metrics.TierRemote, metrics.ResultHit)
	return v, true
}
