package store

import (
	"context"
	"encoding/json"
	"path"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
	"github.com/nimbus-ai/nimbus/pkg/llms"
	"github.com/redis/go-redis/v9"
)

// The redis store implements the MessageStore interface using Redis as the
// backend, so a conversation survives process restarts. Messages live in a
// list under `<prefix>/chatstore/messages/<chatID>`, trimmed to the most
// recent maxStoredMessages entries.

// maxStoredMessages bounds the history kept per chat.
const maxStoredMessages = 50

type redisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a MessageStore backed by the given Redis client.
func NewRedisStore(client *redis.Client, prefix string) MessageStore {
	return &redisStore{
		client: client,
		prefix: prefix,
	}
}

func (m *redisStore) messagesKey(chatID string) string {
	return path.Join(m.prefix, "chatstore", "messages", chatID)
}

func (m *redisStore) Messages(ctx context.Context, chatID string) ([]llms.Message, error) {
	key := m.messagesKey(chatID)
	data, err := m.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read messages from Redis")
	}

	var messages []llms.Message
	for _, item := range data {
		var model MessageModel
		if err := json.Unmarshal([]byte(item), &model); err != nil {
			logger.ContextKV(ctx, xlog.ERROR, "reason", "unmarshal message", "err", err.Error())
			continue
		}
		messages = append(messages, model.ToMessage())
	}
	return messages, nil
}

func (m *redisStore) Add(ctx context.Context, chatID string, msgs ...llms.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	key := m.messagesKey(chatID)
	pipe := m.client.Pipeline()
	for _, msg := range msgs {
		data, err := json.Marshal(ConvertMessageToModel(msg))
		if err != nil {
			return errors.Wrap(err, "failed to marshal message")
		}
		pipe.RPush(ctx, key, data)
	}
	pipe.LTrim(ctx, key, -maxStoredMessages, -1)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to store messages in Redis")
	}
	return nil
}

func (m *redisStore) Reset(ctx context.Context, chatID string) error {
	err := m.client.Del(ctx, m.messagesKey(chatID)).Err()
	if err != nil {
		return errors.Wrap(err, "failed to reset chat in Redis")
	}
	return nil
}
