package store

import (
	"context"
	"fmt"

	"github.com/chirino/chat-encryption/internal/model"
)

// ChatStore persists chat rows. Implementations encrypt message contents on
// every write and decrypt them on every read, so callers only ever see
// plaintext. ScanUserChats and SaveChatContents are the exception: they move
// rows exactly as stored and back the encryption backfill.
type ChatStore interface {
	InsertChat(ctx context.Context, userID string, content model.ChatContent) (*model.Chat, error)
	GetChat(ctx context.Context, chatID string) (*model.Chat, error)
	ListUserChats(ctx context.Context, userID string, offset, limit int) ([]model.Chat, error)
	UpdateChat(ctx context.Context, chatID string, content model.ChatContent) (*model.Chat, error)
	UpsertMessage(ctx context.Context, chatID, messageID string, message map[string]interface{}) (*model.Chat, error)
	DeleteChat(ctx context.Context, chatID string) error

	// ScanUserChats returns a page of the user's rows ordered by id, without
	// decrypting them.
	ScanUserChats(ctx context.Context, userID string, offset, limit int) ([]model.Chat, error)
	// SaveChatContents writes the chat column of every given row in a single
	// transaction. Nothing is written if any row fails.
	SaveChatContents(ctx context.Context, chats []model.Chat) error
}

// Loader creates a ChatStore from config.
type Loader func(ctx context.Context) (ChatStore, error)

// Plugin represents a store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown store %q; valid: %v", name, Names())
}
