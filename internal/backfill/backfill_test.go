package backfill_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"testing"

	"github.com/chirino/chat-encryption/internal/backfill"
	"github.com/chirino/chat-encryption/internal/chatencryption"
	"github.com/chirino/chat-encryption/internal/model"
	"github.com/chirino/chat-encryption/internal/plugin/store/gormstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// memStore holds rows in id order and hands out copies, like a database.
type memStore struct {
	rows       []model.Chat
	fetches    []int
	saves      int
	failSaveOn int
	failScan   error
}

func (s *memStore) ScanUserChats(_ context.Context, userID string, offset, limit int) ([]model.Chat, error) {
	if s.failScan != nil {
		return nil, s.failScan
	}
	var mine []model.Chat
	for _, r := range s.rows {
		if r.UserID == userID {
			mine = append(mine, r)
		}
	}
	var page []model.Chat
	for i := offset; i < len(mine) && i < offset+limit; i++ {
		row := mine[i]
		row.Chat = model.CloneContent(row.Chat)
		page = append(page, row)
	}
	s.fetches = append(s.fetches, len(page))
	return page, nil
}

func (s *memStore) SaveChatContents(_ context.Context, chats []model.Chat) error {
	s.saves++
	if s.saves == s.failSaveOn {
		return errors.New("connection reset")
	}
	for _, c := range chats {
		for i := range s.rows {
			if s.rows[i].ID == c.ID {
				s.rows[i].Chat = model.CloneContent(c.Chat)
			}
		}
	}
	return nil
}

func (s *memStore) plaintextRows(userID string) int {
	n := 0
	for _, r := range s.rows {
		if r.UserID == userID && len(r.Chat) > 0 && !chatencryption.IsFullyEncrypted(r.Chat) {
			n++
		}
	}
	return n
}

func chatDoc(i int) model.ChatContent {
	return model.ChatContent{
		"title": fmt.Sprintf("chat %d", i),
		"history": map[string]interface{}{
			"messages": map[string]interface{}{
				"m1": map[string]interface{}{"content": fmt.Sprintf("question %d", i)},
			},
			"currentId": "m1",
		},
		"messages": []interface{}{map[string]interface{}{"content": fmt.Sprintf("answer %d", i)}},
	}
}

func newMemStore(userID string, n int) *memStore {
	s := &memStore{}
	for i := 0; i < n; i++ {
		s.rows = append(s.rows, model.Chat{ID: fmt.Sprintf("chat-%04d", i), UserID: userID, Chat: chatDoc(i)})
	}
	return s
}

func newCodec(t *testing.T) *chatencryption.Codec {
	t.Helper()
	key, err := chatencryption.GenerateKey()
	require.NoError(t, err)
	return chatencryption.NewCodec(chatencryption.NewCipher(key))
}

func TestEncryptUserChatsInPages(t *testing.T) {
	store := newMemStore("u1", 250)
	b := backfill.New(store, newCodec(t), backfill.WithChunkSize(100))

	n, err := b.EncryptUserChats(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 250, n)
	assert.Equal(t, []int{100, 100, 50}, store.fetches)
	assert.Equal(t, 3, store.saves)
	assert.Zero(t, store.plaintextRows("u1"))
}

func TestEncryptUserChatsConverges(t *testing.T) {
	store := newMemStore("u1", 250)
	b := backfill.New(store, newCodec(t), backfill.WithChunkSize(100))

	_, err := b.EncryptUserChats(context.Background(), "u1")
	require.NoError(t, err)
	encrypted := make([]model.ChatContent, len(store.rows))
	for i := range store.rows {
		encrypted[i] = model.CloneContent(store.rows[i].Chat)
	}

	store.saves = 0
	n, err := b.EncryptUserChats(context.Background(), "u1")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, store.saves, "nothing to commit on a converged user")
	for i := range store.rows {
		assert.Equal(t, encrypted[i], store.rows[i].Chat, "tokens are never re-encrypted")
	}
}

func TestEncryptUserChatsExactMultiple(t *testing.T) {
	store := newMemStore("u1", 200)
	b := backfill.New(store, newCodec(t), backfill.WithChunkSize(100))

	n, err := b.EncryptUserChats(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 200, n)
	assert.Equal(t, []int{100, 100, 0}, store.fetches)
}

func TestEncryptUserChatsNoChats(t *testing.T) {
	store := &memStore{}
	b := backfill.New(store, newCodec(t))

	n, err := b.EncryptUserChats(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, []int{0}, store.fetches)
}

func TestEncryptUserChatsPartialFailure(t *testing.T) {
	store := newMemStore("u1", 250)
	store.failSaveOn = 2
	b := backfill.New(store, newCodec(t), backfill.WithChunkSize(100))

	n, err := b.EncryptUserChats(context.Background(), "u1")
	require.Error(t, err)
	assert.Zero(t, n)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Equal(t, []int{100, 100}, store.fetches, "the run stops at the failing page")

	for i, r := range store.rows {
		if i < 100 {
			assert.True(t, chatencryption.IsFullyEncrypted(r.Chat), "row %d of page 1 stays committed", i)
		} else {
			assert.False(t, chatencryption.IsFullyEncrypted(r.Chat), "row %d was rolled back or never reached", i)
		}
	}

	// A rerun finishes the job.
	store.failSaveOn = 0
	n, err = b.EncryptUserChats(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 150, n)
	assert.Zero(t, store.plaintextRows("u1"))
}

func TestEncryptUserChatsSkipsEncryptedAndEmptyRows(t *testing.T) {
	codec := newCodec(t)
	store := newMemStore("u1", 4)
	codec.EncryptContent(store.rows[1].Chat)
	store.rows[2].Chat = nil
	store.rows[3].Chat = model.ChatContent{}
	already := model.CloneContent(store.rows[1].Chat)

	n, err := backfill.New(store, codec).EncryptUserChats(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, already, store.rows[1].Chat)
	assert.Nil(t, store.rows[2].Chat)
	assert.Empty(t, store.rows[3].Chat)
}

func TestEncryptUserChatsFinishesPartiallyEncryptedRow(t *testing.T) {
	codec := newCodec(t)
	store := newMemStore("u1", 1)
	codec.EncryptContent(store.rows[0].Chat)
	store.rows[0].Chat["messages"] = append(store.rows[0].Chat["messages"].([]interface{}),
		map[string]interface{}{"content": "appended before encryption was enabled"})

	n, err := backfill.New(store, codec).EncryptUserChats(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, chatencryption.IsFullyEncrypted(store.rows[0].Chat))
	assert.Equal(t, "question 0", codec.DecryptContent(store.rows[0].Chat)["history"].(map[string]interface{})["messages"].(map[string]interface{})["m1"].(map[string]interface{})["content"],
		"contents encrypted earlier are not wrapped a second time")
}

func TestEncryptUserChatsOnlyTouchesTheUser(t *testing.T) {
	store := newMemStore("u1", 3)
	store.rows = append(store.rows, model.Chat{ID: "chat-9999", UserID: "u2", Chat: chatDoc(99)})

	n, err := backfill.New(store, newCodec(t)).EncryptUserChats(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 1, store.plaintextRows("u2"))
}

func TestEncryptUserChatsDisabledCodec(t *testing.T) {
	store := newMemStore("u1", 10)
	b := backfill.New(store, chatencryption.NewCodec(chatencryption.NewCipher("")))

	n, err := b.EncryptUserChats(context.Background(), "u1")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, store.fetches, "a disabled codec never scans")
	assert.Equal(t, 10, store.plaintextRows("u1"))
}

func TestEncryptUserChatsScanError(t *testing.T) {
	store := newMemStore("u1", 10)
	store.failScan = errors.New("db down")

	_, err := backfill.New(store, newCodec(t)).EncryptUserChats(context.Background(), "u1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}

func TestEncryptUserChatsCanceled(t *testing.T) {
	store := newMemStore("u1", 10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := backfill.New(store, newCodec(t)).EncryptUserChats(ctx, "u1")
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, store.fetches)
}

func TestChunkSizeDefault(t *testing.T) {
	assert.Equal(t, backfill.DefaultChunkSize, backfill.New(&memStore{}, nil).ChunkSize())
	assert.Equal(t, backfill.DefaultChunkSize, backfill.New(&memStore{}, nil, backfill.WithChunkSize(0)).ChunkSize())
	assert.Equal(t, 7, backfill.New(&memStore{}, nil, backfill.WithChunkSize(7)).ChunkSize())
}

func TestInspect(t *testing.T) {
	codec := newCodec(t)
	store := newMemStore("u1", 5)
	codec.EncryptContent(store.rows[0].Chat)
	codec.EncryptContent(store.rows[1].Chat)
	store.rows[2].Chat = nil

	b := backfill.New(store, codec, backfill.WithChunkSize(2))
	report, err := b.Inspect(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, backfill.Report{Scanned: 5, Plaintext: 2, Encrypted: 3}, report)
	assert.Zero(t, store.saves, "inspect never writes")
}

func TestEncryptUserChatsOverSQLite(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "chats.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	ctx := context.Background()

	// Rows written before encryption was enabled.
	legacy := gormstore.New(db, nil)
	require.NoError(t, legacy.Migrate(ctx))
	var ids []string
	for i := 0; i < 23; i++ {
		c, err := legacy.InsertChat(ctx, "u1", chatDoc(i))
		require.NoError(t, err)
		ids = append(ids, c.ID)
	}
	sort.Strings(ids)

	codec := newCodec(t)
	store := gormstore.New(db, codec)
	b := backfill.New(store, codec, backfill.WithChunkSize(5))

	n, err := b.EncryptUserChats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 23, n)

	rows, err := store.ScanUserChats(ctx, "u1", 0, 100)
	require.NoError(t, err)
	require.Len(t, rows, 23)
	for _, r := range rows {
		assert.True(t, chatencryption.IsFullyEncrypted(r.Chat), "row %s still has plaintext", r.ID)
	}

	got, err := store.GetChat(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, got.Title, got.Chat.Title())
	assert.Equal(t, "m1", got.Chat["history"].(map[string]interface{})["currentId"])

	n, err = b.EncryptUserChats(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, n)

	report, err := b.Inspect(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, backfill.Report{Scanned: 23, Plaintext: 0, Encrypted: 23}, report)
}
