package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"quizmaster-service/internal/app"
	"quizmaster-service/internal/domain"
)

// QuizCache shares quiz definitions between instances. A quiz is stored as
// JSON under quiz:{quizID}:definition and reloaded from source on a miss.
type QuizCache struct {
	client *redis.Client
	source app.QuizReader
	ttl    time.Duration
	logger *zap.Logger
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewQuizCache(client *redis.Client, source app.QuizReader, ttl time.Duration, logger *zap.Logger) *QuizCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QuizCache{
		client: client,
		source: source,
		ttl:    ttl,
		logger: logger,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *QuizCache) GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	if quiz, ok := c.cached(ctx, quizID); ok {
		return quiz, nil
	}

	result, err, _ := c.sf.Do(quizID, func() (interface{}, error) {
		// Another caller may have filled the cache meanwhile.
		if quiz, ok := c.cached(ctx, quizID); ok {
			return quiz, nil
		}
		quiz, err := c.source.GetQuiz(ctx, quizID)
		if err != nil {
			return domain.Quiz{}, err
		}
		data, err := json.Marshal(quiz)
		if err == nil {
			err = c.client.Set(ctx, c.key(quizID), data, c.ttlWithJitter()).Err()
		}
		if err != nil {
			c.logger.Warn("cache quiz", zap.String("quiz", quizID), zap.Error(err))
		}
		return quiz, nil
	})
	if err != nil {
		return domain.Quiz{}, err
	}
	return result.(domain.Quiz), nil
}

// Invalidate removes the shared copy after an edit or delete.
func (c *QuizCache) Invalidate(ctx context.Context, quizID string) {
	c.sf.Forget(quizID)
	if err := c.client.Del(ctx, c.key(quizID)).Err(); err != nil {
		c.logger.Warn("invalidate quiz", zap.String("quiz", quizID), zap.Error(err))
	}
}

func (c *QuizCache) cached(ctx context.Context, quizID string) (domain.Quiz, bool) {
	data, err := c.client.Get(ctx, c.key(quizID)).Bytes()
	if err != nil {
		return domain.Quiz{}, false
	}
	var quiz domain.Quiz
	if err := json.Unmarshal(data, &quiz); err != nil {
		return domain.Quiz{}, false
	}
	return quiz, true
}

func (c *QuizCache) key(quizID string) string {
	return "quiz:" + quizID + ":definition"
}

func (c *QuizCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
