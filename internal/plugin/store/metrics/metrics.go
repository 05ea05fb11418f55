package metrics

import (
	"context"
	"time"

	"github.com/chirino/chat-encryption/internal/model"
	"github.com/chirino/chat-encryption/internal/registry/store"
	"github.com/chirino/chat-encryption/internal/security"
)

// Wrap returns a ChatStore that records StoreLatency for every operation.
// Observations are dropped until InitMetrics has run.
func Wrap(inner store.ChatStore) store.ChatStore {
	return &metricsStore{inner: inner}
}

type metricsStore struct {
	inner store.ChatStore
}

func observe(op string, start time.Time) {
	if security.StoreLatency == nil {
		return
	}
	security.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *metricsStore) InsertChat(ctx context.Context, userID string, content model.ChatContent) (*model.Chat, error) {
	defer observe("insert_chat", time.Now())
	return m.inner.InsertChat(ctx, userID, content)
}

func (m *metricsStore) GetChat(ctx context.Context, chatID string) (*model.Chat, error) {
	defer observe("get_chat", time.Now())
	return m.inner.GetChat(ctx, chatID)
}

func (m *metricsStore) ListUserChats(ctx context.Context, userID string, offset, limit int) ([]model.Chat, error) {
	defer observe("list_user_chats", time.Now())
	return m.inner.ListUserChats(ctx, userID, offset, limit)
}

func (m *metricsStore) UpdateChat(ctx context.Context, chatID string, content model.ChatContent) (*model.Chat, error) {
	defer observe("update_chat", time.Now())
	return m.inner.UpdateChat(ctx, chatID, content)
}

func (m *metricsStore) UpsertMessage(ctx context.Context, chatID, messageID string, message map[string]interface{}) (*model.Chat, error) {
	defer observe("upsert_message", time.Now())
	return m.inner.UpsertMessage(ctx, chatID, messageID, message)
}

func (m *metricsStore) DeleteChat(ctx context.Context, chatID string) error {
	defer observe("delete_chat", time.Now())
	return m.inner.DeleteChat(ctx, chatID)
}

func (m *metricsStore) ScanUserChats(ctx context.Context, userID string, offset, limit int) ([]model.Chat, error) {
	defer observe("scan_user_chats", time.Now())
	return m.inner.ScanUserChats(ctx, userID, offset, limit)
}

func (m *metricsStore) SaveChatContents(ctx context.Context, chats []model.Chat) error {
	defer observe("save_chat_contents", time.Now())
	return m.inner.SaveChatContents(ctx, chats)
}
