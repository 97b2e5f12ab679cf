package store

import (
	"context"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"tasktogether-api/domain"
)

// DocumentKey is the fixed key the whole document lives under.
const DocumentKey = "taskTogetherState.v1"

// RedisStore keeps the document as one JSON blob in Redis.
type RedisStore struct {
	rc     *redis.Client
	key    string
	logger *log.Logger
}

// NewRedis creates a RedisStore using the default document key.
func NewRedis(rc *redis.Client, logger *log.Logger) *RedisStore {
	return &RedisStore{rc: rc, key: DocumentKey, logger: logger}
}

// Load reads and decodes the persisted document. Any failure, including a
// corrupt payload, falls back to the empty skeleton so callers never have to
// handle a load error.
func (s *RedisStore) Load(ctx context.Context) *domain.Document {
	data, err := s.rc.Get(ctx, s.key).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.logger.WithError(err).Error("load document")
		}
		return domain.NewDocument()
	}
	doc := domain.NewDocument()
	if err := sonic.Unmarshal(data, doc); err != nil {
		s.logger.WithError(err).Error("corrupt document, starting from empty state")
		return domain.NewDocument()
	}
	doc.Normalize()
	return doc
}

// Save overwrites the persisted document.
func (s *RedisStore) Save(ctx context.Context, doc *domain.Document) error {
	data, err := sonic.Marshal(doc)
	if err != nil {
		return err
	}
	return s.rc.Set(ctx, s.key, data, 0).Err()
}
