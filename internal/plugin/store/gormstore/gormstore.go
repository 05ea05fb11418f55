// Package gormstore implements registry/store.ChatStore over any gorm
// dialector. It is the one place chat documents cross the storage boundary,
// so every write encrypts message contents and every read decrypts them.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chirino/chat-encryption/internal/chatencryption"
	"github.com/chirino/chat-encryption/internal/model"
	registrystore "github.com/chirino/chat-encryption/internal/registry/store"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DefaultTitle is used when a new chat document carries no title.
const DefaultTitle = "New Chat"

// Store implements ChatStore using GORM.
type Store struct {
	db    *gorm.DB
	codec *chatencryption.Codec
	now   func() time.Time
}

var _ registrystore.ChatStore = (*Store)(nil)

// New returns a Store over db. A nil codec stores contents as plaintext.
func New(db *gorm.DB, codec *chatencryption.Codec) *Store {
	if codec == nil {
		codec = chatencryption.NewCodec(nil)
	}
	return &Store{db: db, codec: codec, now: time.Now}
}

// DB exposes the underlying handle, mainly for tests that inspect raw rows.
func (s *Store) DB() *gorm.DB { return s.db }

// Migrate creates or updates the chat table.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&model.Chat{}); err != nil {
		return fmt.Errorf("gormstore: migrate: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) InsertChat(ctx context.Context, userID string, content model.ChatContent) (*model.Chat, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, &registrystore.ValidationError{Field: "userId", Message: "must not be empty"}
	}
	if content == nil {
		content = model.ChatContent{}
	}
	now := s.now().Unix()
	row := model.Chat{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     titleOf(content),
		Chat:      s.codec.EncryptContent(model.CloneContent(content)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, fmt.Errorf("gormstore: insert chat: %w", err)
	}
	row.Chat = content
	return &row, nil
}

func (s *Store) GetChat(ctx context.Context, chatID string) (*model.Chat, error) {
	row, err := s.load(ctx, chatID)
	if err != nil {
		return nil, err
	}
	s.codec.DecryptContent(row.Chat)
	return row, nil
}

func (s *Store) ListUserChats(ctx context.Context, userID string, offset, limit int) ([]model.Chat, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, &registrystore.ValidationError{Field: "userId", Message: "must not be empty"}
	}
	var rows []model.Chat
	q := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Order("id")
	if offset > 0 {
		q = q.Offset(offset)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("gormstore: list chats: %w", err)
	}
	for i := range rows {
		s.codec.DecryptContent(rows[i].Chat)
	}
	return rows, nil
}

func (s *Store) UpdateChat(ctx context.Context, chatID string, content model.ChatContent) (*model.Chat, error) {
	row, err := s.load(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if content == nil {
		content = model.ChatContent{}
	}
	row.Title = titleOf(content)
	row.Chat = s.codec.EncryptContent(model.CloneContent(content))
	row.UpdatedAt = s.now().Unix()

	res := s.db.WithContext(ctx).
		Model(&model.Chat{ID: row.ID}).
		Select("title", "chat", "updated_at").
		Updates(row)
	if res.Error != nil {
		return nil, fmt.Errorf("gormstore: update chat: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, &registrystore.NotFoundError{Resource: "chat", ID: chatID}
	}
	row.Chat = content
	return row, nil
}

// UpsertMessage merges message into history.messages[messageID], makes it
// the current message and stores the result. Fields of an existing message
// that message does not mention are kept.
func (s *Store) UpsertMessage(ctx context.Context, chatID, messageID string, message map[string]interface{}) (*model.Chat, error) {
	if strings.TrimSpace(messageID) == "" {
		return nil, &registrystore.ValidationError{Field: "messageId", Message: "must not be empty"}
	}
	chat, err := s.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	content := chat.Chat
	if content == nil {
		content = model.ChatContent{}
	}

	history, ok := content["history"].(map[string]interface{})
	if !ok {
		history = map[string]interface{}{}
		content["history"] = history
	}
	messages, ok := history["messages"].(map[string]interface{})
	if !ok {
		messages = map[string]interface{}{}
		history["messages"] = messages
	}
	merged, ok := messages[messageID].(map[string]interface{})
	if !ok {
		merged = map[string]interface{}{}
	}
	for k, v := range message {
		merged[k] = v
	}
	messages[messageID] = merged
	history["currentId"] = messageID

	return s.UpdateChat(ctx, chatID, content)
}

func (s *Store) DeleteChat(ctx context.Context, chatID string) error {
	if strings.TrimSpace(chatID) == "" {
		return &registrystore.ValidationError{Field: "chatId", Message: "must not be empty"}
	}
	res := s.db.WithContext(ctx).Delete(&model.Chat{}, "id = ?", chatID)
	if res.Error != nil {
		return fmt.Errorf("gormstore: delete chat: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return &registrystore.NotFoundError{Resource: "chat", ID: chatID}
	}
	return nil
}

func (s *Store) ScanUserChats(ctx context.Context, userID string, offset, limit int) ([]model.Chat, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, &registrystore.ValidationError{Field: "userId", Message: "must not be empty"}
	}
	var rows []model.Chat
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id").
		Offset(offset).
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("gormstore: scan chats: %w", err)
	}
	return rows, nil
}

func (s *Store) SaveChatContents(ctx context.Context, chats []model.Chat) error {
	if len(chats) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range chats {
			res := tx.Model(&model.Chat{ID: chats[i].ID}).
				Select("chat").
				Updates(&model.Chat{Chat: chats[i].Chat})
			if res.Error != nil {
				return fmt.Errorf("gormstore: save chat %s: %w", chats[i].ID, res.Error)
			}
			if res.RowsAffected == 0 {
				return &registrystore.NotFoundError{Resource: "chat", ID: chats[i].ID}
			}
		}
		return nil
	})
}

// load returns the row exactly as stored.
func (s *Store) load(ctx context.Context, chatID string) (*model.Chat, error) {
	if strings.TrimSpace(chatID) == "" {
		return nil, &registrystore.ValidationError{Field: "chatId", Message: "must not be empty"}
	}
	var row model.Chat
	err := s.db.WithContext(ctx).Where("id = ?", chatID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &registrystore.NotFoundError{Resource: "chat", ID: chatID}
	}
	if err != nil {
		return nil, fmt.Errorf("gormstore: load chat: %w", err)
	}
	return &row, nil
}

func titleOf(content model.ChatContent) string {
	if title := strings.TrimSpace(content.Title()); title != "" {
		return title
	}
	return DefaultTitle
}
