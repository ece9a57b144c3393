package redis

import (
	"context"
	"math/rand"
	"strconv"
	"time"

	"quiz-attempt-engine/internal/domain"
	"quiz-attempt-engine/internal/infra/memory"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// ConfigRepository caches per-kind quiz constants in Redis (hash per kind)
// and falls back to a loader on cache miss.
// Fields are stored as: HSET quizcfg:{kind} time_limit|questions|points {n}
type ConfigRepository struct {
	client *redis.Client
	loader memory.ConfigLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewConfigRepository(client *redis.Client, loader memory.ConfigLoader, ttl time.Duration) *ConfigRepository {
	return &ConfigRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *ConfigRepository) GetConfig(ctx context.Context, kind domain.QuizKind) (domain.QuizConfig, error) {
	key := r.key(kind)

	fields, err := r.client.HGetAll(ctx, key).Result()
	if err == nil && len(fields) > 0 {
		return buildConfigFromCache(kind, fields), nil
	}

	result, err, _ := r.sf.Do(string(kind), func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		fields, err := r.client.HGetAll(ctx, key).Result()
		if err == nil && len(fields) > 0 {
			return buildConfigFromCache(kind, fields), nil
		}

		cfg, err := r.loader.LoadConfig(ctx, kind)
		if err != nil {
			return domain.QuizConfig{}, err
		}

		ttl := r.ttlWithJitter()
		pipe := r.client.Pipeline()
		pipe.HSet(ctx, key, "time_limit", cfg.TimeLimitSeconds)
		pipe.HSet(ctx, key, "questions", cfg.TotalQuestions)
		pipe.HSet(ctx, key, "points", cfg.TotalPoints)
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		_, _ = pipe.Exec(ctx)

		return cfg, nil
	})
	if err != nil {
		return domain.QuizConfig{}, err
	}
	return result.(domain.QuizConfig), nil
}

func (r *ConfigRepository) key(kind domain.QuizKind) string {
	return "quizcfg:" + string(kind)
}

func buildConfigFromCache(kind domain.QuizKind, fields map[string]string) domain.QuizConfig {
	cfg := domain.QuizConfig{Kind: kind}
	if v, err := strconv.Atoi(fields["time_limit"]); err == nil {
		cfg.TimeLimitSeconds = v
	}
	if v, err := strconv.Atoi(fields["questions"]); err == nil {
		cfg.TotalQuestions = v
	}
	if v, err := strconv.Atoi(fields["points"]); err == nil {
		cfg.TotalPoints = v
	}
	return cfg
}

func (r *ConfigRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
