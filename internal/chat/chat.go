package chat

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gigdesk/realtime-server/internal/model"
)

// MessageStore is the persistence collaborator behind the chat layer.
type MessageStore interface {
	SaveMessage(ctx context.Context, msg *model.ChatMessage) (*model.ChatMessage, error)
	FindRecentMessages(ctx context.Context, taskID string, limit int) ([]model.ChatMessage, error)
	MarkMessagesRead(ctx context.Context, taskID, readerID string, readAt time.Time) error
}

// recentKey builds the per-task recent-history cache key:
// "chat:recent:{taskID}"
func recentKey(taskID string) string {
	return "chat:recent:" + taskID
}

// ChatStore wraps message persistence with a per-task recent-history
// cache in Redis. The cache holds the newest messages head-first and is
// dropped whenever a read receipt lands, so cached readAt values never
// go stale.
type ChatStore struct {
	store       MessageStore
	rdb         *redis.Client
	cacheTTL    time.Duration
	recentLimit int
}

// NewChatStore creates the chat layer. rdb may be nil, which disables
// the cache and sends every read to storage.
func NewChatStore(store MessageStore, rdb *redis.Client, cacheTTL time.Duration, recentLimit int) *ChatStore {
	if recentLimit <= 0 {
		recentLimit = 50
	}
	return &ChatStore{
		store:       store,
		rdb:         rdb,
		cacheTTL:    cacheTTL,
		recentLimit: recentLimit,
	}
}

// SaveMessage persists the message, then appends it to the task's
// recent-history cache. Cache failures are logged, never surfaced.
func (c *ChatStore) SaveMessage(ctx context.Context, msg *model.ChatMessage) (*model.ChatMessage, error) {
	saved, err := c.store.SaveMessage(ctx, msg)
	if err != nil {
		return nil, err
	}

	if c.rdb != nil {
		data, err := json.Marshal(saved)
		if err == nil {
			key := recentKey(saved.TaskID)
			pipe := c.rdb.Pipeline()
			// LPushX appends only onto an existing window. A cold or
			// invalidated key is seeded solely by repopulate; a lone
			// message must never pass for the task's full history.
			pipe.LPushX(ctx, key, data)
			pipe.LTrim(ctx, key, 0, int64(c.recentLimit-1))
			pipe.Expire(ctx, key, c.cacheTTL)
			if _, err := pipe.Exec(ctx); err != nil {
				log.Printf("[chat] recent cache push error: %v", err)
			}
		}
	}

	return saved, nil
}

// RecentMessages returns up to limit messages for the task, newest
// first, serving from the cache when it can.
func (c *ChatStore) RecentMessages(ctx context.Context, taskID string, limit int) ([]model.ChatMessage, error) {
	if limit <= 0 || limit > c.recentLimit {
		limit = c.recentLimit
	}

	if c.rdb != nil {
		raw, err := c.rdb.LRange(ctx, recentKey(taskID), 0, int64(limit-1)).Result()
		if err != nil {
			log.Printf("[chat] recent cache read error: %v", err)
		} else if len(raw) > 0 {
			msgs := make([]model.ChatMessage, 0, len(raw))
			for _, item := range raw {
				var m model.ChatMessage
				if err := json.Unmarshal([]byte(item), &m); err != nil {
					msgs = nil
					break
				}
				msgs = append(msgs, m)
			}
			if msgs != nil {
				return msgs, nil
			}
		}
	}

	// Cache miss: fetch the full window so the rebuilt cache is never
	// narrower than recentLimit, then truncate for the caller.
	msgs, err := c.store.FindRecentMessages(ctx, taskID, c.recentLimit)
	if err != nil {
		return nil, err
	}

	c.repopulate(ctx, taskID, msgs)
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

// MarkRead bulk-marks the task's unread messages not authored by the
// reader and invalidates the cache.
func (c *ChatStore) MarkRead(ctx context.Context, taskID, readerID string, readAt time.Time) error {
	if err := c.store.MarkMessagesRead(ctx, taskID, readerID, readAt); err != nil {
		return err
	}

	if c.rdb != nil {
		if err := c.rdb.Del(ctx, recentKey(taskID)).Err(); err != nil {
			log.Printf("[chat] recent cache invalidate error: %v", err)
		}
	}
	return nil
}

// repopulate rebuilds the cache after a storage read, newest first.
func (c *ChatStore) repopulate(ctx context.Context, taskID string, msgs []model.ChatMessage) {
	if c.rdb == nil || len(msgs) == 0 {
		return
	}

	key := recentKey(taskID)
	pipe := c.rdb.Pipeline()
	pipe.Del(ctx, key)
	// RPush in slice order keeps the newest-first ordering of the query.
	for _, m := range msgs {
		data, err := json.Marshal(m)
		if err != nil {
			return
		}
		pipe.RPush(ctx, key, data)
	}
	pipe.Expire(ctx, key, c.cacheTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[chat] recent cache rebuild error: %v", err)
	}
}
