package catalog

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"codearena/internal/common/cache"
	"codearena/internal/common/errors"
	"codearena/internal/common/logging"
	"codearena/internal/metrics"
)

// Config holds per-resource lifetimes.
type Config struct {
	// LocalTTL caps how long point and search results live in the local
	// tier. Count and tags never expire locally; writes invalidate them.
	LocalTTL time.Duration

	ProblemTTL time.Duration
	CountTTL   time.Duration
	TagsTTL    time.Duration
	SearchTTL  time.Duration
}

func DefaultConfig() Config {
	return Config{
		LocalTTL:   time.Minute,
		ProblemTTL: time.Hour,
		CountTTL:   30 * time.Minute,
		TagsTTL:    24 * time.Hour,
		SearchTTL:  5 * time.Minute,
	}
}

// Invalidator tells other instances which local entries a write made stale.
type Invalidator interface {
	Publish(ctx context.Context, keys, prefixes []string) error
}

type Option func(*Service)

func WithConfig(config Config) Option {
	return func(s *Service) {
		defaults := DefaultConfig()
		if config.LocalTTL <= 0 {
			config.LocalTTL = defaults.LocalTTL
		}
		if config.ProblemTTL <= 0 {
			config.ProblemTTL = defaults.ProblemTTL
		}
		if config.CountTTL <= 0 {
			config.CountTTL = defaults.CountTTL
		}
		if config.TagsTTL <= 0 {
			config.TagsTTL = defaults.TagsTTL
		}
		if config.SearchTTL <= 0 {
			config.SearchTTL = defaults.SearchTTL
		}
		s.config = config
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithInvalidator publishes every write's invalidation to peer instances.
func WithInvalidator(inv Invalidator) Option {
	return func(s *Service) { s.invalidator = inv }
}

// Service is the cache orchestrator in front of a Source. Reads consult the
// local tier, then the remote tier, then the source, populating the tiers on
// the way back. Writes go to the source first and then invalidate every key
// the write can affect.
//
// Values handed out are copies; callers may modify them freely.
type Service struct {
	source      Source
	local       *cache.LocalCache
	remote      cache.RemoteCache
	invalidator Invalidator
	metrics     *metrics.Metrics
	logger      logging.Logger
	config      Config

	loads singleflight.Group
	// generation counts writes; fillMu orders cache fills against it.
	generation atomic.Uint64
	fillMu     sync.RWMutex
}

// NewService wires the tiers around source. remote may be nil, in which case
// only the local tier is used.
func NewService(source Source, local *cache.LocalCache, remote cache.RemoteCache, logger logging.Logger, opts ...Option) *Service {
	s := &Service{
		source: source,
		local:  local,
		remote: remote,
		logger: logging.OrGlobal(logger).WithFields(logging.String("component", "catalog")),
		config: DefaultConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetProblem returns the full record for id, or a not_found error.
func (s *Service) GetProblem(ctx context.Context, id int64) (*Problem, error) {
	if id <= 0 {
		return nil, errors.ValidationError(fmt.Sprintf("invalid problem id %d", id))
	}

	return readThrough(ctx, s, readSpec[*Problem]{
		resource:  resourceProblem,
		key:       problemKey(id),
		localTTL:  s.boundedLocalTTL(s.config.ProblemTTL),
		remoteTTL: s.config.ProblemTTL,
		valid:     (*Problem).Complete,
		clone:     (*Problem).Clone,
		load: func(ctx context.Context) (*Problem, error) {
			p, err := s.source.LoadByID(ctx, id)
			if err != nil {
				return nil, errors.OriginError("load problem", err)
			}
			if p == nil {
				return nil, errors.NotFoundError(fmt.Sprintf("problem %d", id))
			}
			return p, nil
		},
	})
}

// CountProblems returns the number of problems in the catalog.
func (s *Service) CountProblems(ctx context.Context) (int64, error) {
	return readThrough(ctx, s, readSpec[int64]{
		resource:  resourceCount,
		key:       countKey,
		localTTL:  cache.NoExpiration,
		remoteTTL: s.config.CountTTL,
		valid:     func(n int64) bool { return n >= 0 },
		// Counters are stored as plain numeric text.
		fromRemote: func(ctx context.Context) (int64, bool) {
			raw, ok := s.remote.GetRawValue(ctx, countKey)
			if !ok {
				return 0, false
			}
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				s.logger.Warn("Discarding non-numeric cached count",
					logging.String("key", countKey),
					logging.Err(err),
				)
				return 0, false
			}
			return n, true
		},
		load: func(ctx context.Context) (int64, error) {
			n, err := s.source.Count(ctx)
			if err != nil {
				return 0, errors.OriginError("count problems", err)
			}
			return n, nil
		},
	})
}

// ListTags returns every tag in use, sorted.
func (s *Service) ListTags(ctx context.Context) ([]string, error) {
	return readThrough(ctx, s, readSpec[[]string]{
		resource:  resourceTags,
		key:       tagsKey,
		localTTL:  cache.NoExpiration,
		remoteTTL: s.config.TagsTTL,
		valid:     func(tags []string) bool { return tags != nil },
		clone:     cloneStrings,
		load: func(ctx context.Context) ([]string, error) {
			tags, err := s.source.ListDistinctTags(ctx)
			if err != nil {
				return nil, errors.OriginError("list tags", err)
			}
			if tags == nil {
				tags = []string{}
			}
			return tags, nil
		},
	})
}

// Metadata combines CountProblems and ListTags.
func (s *Service) Metadata(ctx context.Context) (Metadata, error) {
	count, err := s.CountProblems(ctx)
	if err != nil {
		return Metadata{}, err
	}
	tags, err := s.ListTags(ctx)
	if err != nil {
		return Metadata{}, err
	}
	return Metadata{Count: count, Tags: tags}, nil
}

// Search returns one page of problems matching q. The query is normalized
// before lookup, so equivalent queries share a cache entry.
func (s *Service) Search(ctx context.Context, q SearchQuery) (*SearchPage, error) {
	q = q.Normalize()

	return readThrough(ctx, s, readSpec[*SearchPage]{
		resource:  resourceSearch,
		key:       searchKey(q),
		localTTL:  s.boundedLocalTTL(s.config.SearchTTL),
		remoteTTL: s.config.SearchTTL,
		valid:     (*SearchPage).Complete,
		clone:     (*SearchPage).Clone,
		load: func(ctx context.Context) (*SearchPage, error) {
			content, err := s.source.Search(ctx, q)
			if err != nil {
				return nil, errors.OriginError("search problems", err)
			}
			total, err := s.source.CountSearch(ctx, q)
			if err != nil {
				return nil, errors.OriginError("count search results", err)
			}
			if content == nil {
				content = []Summary{}
			}
			return &SearchPage{
				Content:    content,
				TotalCount: total,
				TotalPages: totalPages(total, q.Size),
			}, nil
		},
	})
}

// CreateProblem stores p and returns the stored record.
func (s *Service) CreateProblem(ctx context.Context, p *Problem) (*Problem, error) {
	if err := validateProblem(p); err != nil {
		return nil, err
	}

	created, err := s.source.Create(ctx, prepare(p))
	if err != nil {
		return nil, errors.OriginError("create problem", err)
	}

	s.invalidate(ctx, created.ID)
	return created.Clone(), nil
}

// UpdateProblem replaces the record with p.ID.
func (s *Service) UpdateProblem(ctx context.Context, p *Problem) error {
	if err := validateProblem(p); err != nil {
		return err
	}
	if p.ID <= 0 {
		return errors.ValidationError("problem id is required for update")
	}

	if err := s.source.Update(ctx, prepare(p)); err != nil {
		if errors.IsType(err, errors.ErrTypeNotFound) {
			return err
		}
		return errors.OriginError("update problem", err)
	}

	s.invalidate(ctx, p.ID)
	return nil
}

// DeleteProblem removes the record with id.
func (s *Service) DeleteProblem(ctx context.Context, id int64) error {
	if id <= 0 {
		return errors.ValidationError(fmt.Sprintf("invalid problem id %d", id))
	}

	deleted, err := s.source.Delete(ctx, id)
	if err != nil {
		return errors.OriginError("delete problem", err)
	}
	if !deleted {
		return errors.NotFoundError(fmt.Sprintf("problem %d", id))
	}

	s.invalidate(ctx, id)
	return nil
}

// invalidate drops every key a write to problem id can change, in both tiers
// and on peer instances. The write has already committed, so failures are
// logged and the caller is not told.
func (s *Service) invalidate(ctx context.Context, id int64) {
	keys := []string{countKey, tagsKey}
	if id > 0 {
		keys = append([]string{problemKey(id)}, keys...)
	}
	prefixes := []string{SearchPrefix()}

	s.fillMu.Lock()
	s.generation.Add(1)
	s.fillMu.Unlock()

	for _, key := range keys {
		s.local.Delete(key)
	}
	removed := s.local.InvalidatePrefix(SearchPrefix())

	if s.remote != nil {
		for _, key := range keys {
			if err := s.remote.Delete(ctx, key); err != nil {
				s.logger.Error("Failed to invalidate remote key", err, logging.String("key", key))
			}
		}
		if _, err := s.remote.DeleteByPattern(ctx, SearchPattern()); err != nil {
			s.logger.Error("Failed to invalidate remote search results", err)
		}
	}

	if s.invalidator != nil {
		if err := s.invalidator.Publish(ctx, keys, prefixes); err != nil {
			s.logger.Error("Failed to broadcast invalidation", err, logging.Int64("problem_id", id))
		}
	}

	if id > 0 {
		s.metrics.Invalidation(resourceProblem)
	}
	s.metrics.Invalidation(resourceCount)
	s.metrics.Invalidation(resourceTags)
	s.metrics.Invalidation(resourceSearch)

	s.logger.Debug("Invalidated catalog caches",
		logging.Int64("problem_id", id),
		logging.Int("local_search_removed", removed),
	)
}

func (s *Service) boundedLocalTTL(remoteTTL time.Duration) time.Duration {
	if s.config.LocalTTL < remoteTTL {
		return s.config.LocalTTL
	}
	return remoteTTL
}

func validateProblem(p *Problem) error {
	switch {
	case p == nil:
		return errors.ValidationError("problem is required")
	case p.Title == "":
		return errors.ValidationError("problem title is required")
	case p.Description == "":
		return errors.ValidationError("problem description is required")
	case p.Difficulty == "":
		return errors.ValidationError("problem difficulty is required")
	case p.TimeLimitMs <= 0:
		return errors.ValidationError("problem time limit must be positive")
	case p.MemoryLimitMb <= 0:
		return errors.ValidationError("problem memory limit must be positive")
	}
	return nil
}

// prepare returns the copy of p handed to the source, with tags normalized.
func prepare(p *Problem) *Problem {
	c := p.Clone()
	c.Tags = normalizeTags(c.Tags)
	if c.Tags == nil {
		c.Tags = []string{}
	}
	return c
}
