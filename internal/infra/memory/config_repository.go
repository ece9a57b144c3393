package memory

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"quiz-attempt-engine/internal/domain"
	"golang.org/x/sync/singleflight"
)

// ErrConfigNotFound indicates no configuration exists for a quiz kind.
var ErrConfigNotFound = errors.New("quiz config not found")

// ConfigLoader fetches per-kind quiz constants from the configuration
// collaborator's backing store.
type ConfigLoader interface {
	LoadConfig(ctx context.Context, kind domain.QuizKind) (domain.QuizConfig, error)
}

// ConfigRepository caches quiz configs with TTL to avoid repeated loads.
type ConfigRepository struct {
	loader ConfigLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu    sync.RWMutex
	cache map[domain.QuizKind]cachedConfig
}

type cachedConfig struct {
	cfg       domain.QuizConfig
	expiresAt time.Time
}

func NewConfigRepository(loader ConfigLoader, ttl time.Duration) *ConfigRepository {
	return &ConfigRepository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[domain.QuizKind]cachedConfig),
	}
}

func (r *ConfigRepository) GetConfig(ctx context.Context, kind domain.QuizKind) (domain.QuizConfig, error) {
	now := r.clock()

	r.mu.RLock()
	if entry, ok := r.cache[kind]; ok && entry.expiresAt.After(now) {
		r.mu.RUnlock()
		return entry.cfg, nil
	}
	r.mu.RUnlock()

	result, err, _ := r.sf.Do(string(kind), func() (interface{}, error) {
		now := r.clock()
		r.mu.RLock()
		if entry, ok := r.cache[kind]; ok && entry.expiresAt.After(now) {
			r.mu.RUnlock()
			return entry.cfg, nil
		}
		r.mu.RUnlock()

		cfg, err := r.loader.LoadConfig(ctx, kind)
		if err != nil {
			return domain.QuizConfig{}, err
		}

		r.mu.Lock()
		r.cache[kind] = cachedConfig{
			cfg:       cfg,
			expiresAt: now.Add(r.ttlWithJitter()),
		}
		r.mu.Unlock()
		return cfg, nil
	})
	if err != nil {
		return domain.QuizConfig{}, err
	}
	return result.(domain.QuizConfig), nil
}

func (r *ConfigRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

// StaticConfigLoader is a loader backed by an in-memory map (useful for
// tests/demos and for fully client-supplied configuration).
type StaticConfigLoader struct {
	configs map[domain.QuizKind]domain.QuizConfig
}

func NewStaticConfigLoader(configs map[domain.QuizKind]domain.QuizConfig) *StaticConfigLoader {
	return &StaticConfigLoader{configs: configs}
}

func (l *StaticConfigLoader) LoadConfig(_ context.Context, kind domain.QuizKind) (domain.QuizConfig, error) {
	if cfg, ok := l.configs[kind]; ok {
		return cfg, nil
	}
	return domain.QuizConfig{}, ErrConfigNotFound
}

// DefaultConfigs returns the stock per-kind constants used when no
// configuration service is wired.
func DefaultConfigs() map[domain.QuizKind]domain.QuizConfig {
	return map[domain.QuizKind]domain.QuizConfig{
		domain.KindMockTest: {
			Kind:             domain.KindMockTest,
			TimeLimitSeconds: 5400,
			TotalQuestions:   100,
			TotalPoints:      100,
		},
		domain.KindTimeQuiz: {
			Kind:             domain.KindTimeQuiz,
			TimeLimitSeconds: 600,
			TotalQuestions:   10,
			TotalPoints:      20,
		},
	}
}
