package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"mathquest/internal/domain"
	"mathquest/internal/infra/memory"
)

// TemplateRepository caches quiz templates in Redis (JSON per template) and
// falls back to a loader on cache miss. Templates are stored as:
// SET mathquest:template:{templateID} {json}
type TemplateRepository struct {
	client *redis.Client
	loader memory.TemplateLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewTemplateRepository(client *redis.Client, loader memory.TemplateLoader, ttl time.Duration) *TemplateRepository {
	return &TemplateRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *TemplateRepository) GetTemplate(ctx context.Context, templateID string) (domain.QuizTemplate, error) {
	key := r.templateKey(templateID)

	if cached, err := r.client.Get(ctx, key).Bytes(); err == nil {
		var template domain.QuizTemplate
		if json.Unmarshal(cached, &template) == nil && len(template.Questions) > 0 {
			return template, nil
		}
	}

	result, err, _ := r.sf.Do(templateID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if cached, err := r.client.Get(ctx, key).Bytes(); err == nil {
			var template domain.QuizTemplate
			if json.Unmarshal(cached, &template) == nil && len(template.Questions) > 0 {
				return template, nil
			}
		}

		template, err := r.loader.LoadTemplate(ctx, templateID)
		if err != nil {
			return domain.QuizTemplate{}, err
		}

		data, err := json.Marshal(template)
		if err != nil {
			return domain.QuizTemplate{}, fmt.Errorf("marshal template: %w", err)
		}
		_ = r.client.Set(ctx, key, data, r.ttlWithJitter()).Err()

		return template, nil
	})
	if err != nil {
		return domain.QuizTemplate{}, err
	}
	return result.(domain.QuizTemplate), nil
}

func (r *TemplateRepository) templateKey(templateID string) string {
	return keyPrefix + ":template:" + templateID
}

func (r *TemplateRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
