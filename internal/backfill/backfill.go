// Package backfill encrypts chats that were stored before encryption was
// enabled. A run pages through one user's rows, encrypts the ones that still
// hold plaintext and commits each page atomically, so it can be interrupted
// and rerun at any point. Rows that are already encrypted are never touched.
package backfill

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-encryption/internal/chatencryption"
	"github.com/chirino/chat-encryption/internal/model"
	"github.com/chirino/chat-encryption/internal/security"
)

// DefaultChunkSize is the number of rows fetched and committed per page.
const DefaultChunkSize = 100

// Store is the raw row access a run needs. Rows come back exactly as stored.
type Store interface {
	// ScanUserChats returns up to limit rows of the user starting at offset,
	// in a stable order.
	ScanUserChats(ctx context.Context, userID string, offset, limit int) ([]model.Chat, error)
	// SaveChatContents persists the chat column of every row in one
	// transaction and rolls back on failure.
	SaveChatContents(ctx context.Context, chats []model.Chat) error
}

// Option configures a Backfill.
type Option func(*Backfill)

// WithChunkSize sets the page size. Values <= 0 select DefaultChunkSize.
func WithChunkSize(n int) Option {
	return func(b *Backfill) {
		if n > 0 {
			b.chunkSize = n
		}
	}
}

// Backfill converts plaintext chats to encrypted ones.
type Backfill struct {
	store     Store
	codec     *chatencryption.Codec
	chunkSize int
}

// New returns a Backfill over store.
func New(store Store, codec *chatencryption.Codec, opts ...Option) *Backfill {
	b := &Backfill{store: store, codec: codec, chunkSize: DefaultChunkSize}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ChunkSize returns the configured page size.
func (b *Backfill) ChunkSize() int { return b.chunkSize }

// Report summarizes the state of a user's chats.
type Report struct {
	// Scanned is the number of rows visited.
	Scanned int `json:"scanned"`
	// Plaintext is the number of rows EncryptUserChats would convert.
	Plaintext int `json:"plaintext"`
	// Encrypted is the number of rows that need no work, including rows
	// with no content.
	Encrypted int `json:"encrypted"`
}

// EncryptUserChats encrypts every plaintext chat of userID and returns how
// many rows were converted. When a page fails to commit, that page is rolled
// back, pages committed before it stay committed, and the error is returned
// with a zero count. Rerunning after a failure picks up where it stopped.
//
// With a disabled codec nothing is scanned: the rows would be rewritten as
// plaintext and the run would never converge.
func (b *Backfill) EncryptUserChats(ctx context.Context, userID string) (int, error) {
	if !b.codec.Enabled() {
		log.Warn("Chat encryption disabled; skipping backfill", "userID", userID)
		return 0, nil
	}

	log.Info("Starting chat encryption backfill", "userID", userID, "chunkSize", b.chunkSize)
	converted := 0
	err := b.eachPage(ctx, userID, func(offset int, page []model.Chat) error {
		var dirty []model.Chat
		for i := range page {
			if !needsEncryption(page[i].Chat) {
				continue
			}
			b.codec.EncryptPlaintextContent(page[i].Chat)
			dirty = append(dirty, page[i])
		}
		if len(dirty) == 0 {
			return nil
		}
		if err := b.store.SaveChatContents(ctx, dirty); err != nil {
			security.RecordBackfillCommitFailure()
			log.Error("Failed to commit encrypted chats", "userID", userID, "offset", offset, "err", err)
			return fmt.Errorf("backfill: commit page at offset %d: %w", offset, err)
		}
		security.RecordBackfillConverted(len(dirty))
		converted += len(dirty)
		return nil
	})
	if err != nil {
		return 0, err
	}
	log.Info("Finished chat encryption backfill", "userID", userID, "encrypted", converted)
	return converted, nil
}

// Inspect walks the same pages as EncryptUserChats without writing.
func (b *Backfill) Inspect(ctx context.Context, userID string) (Report, error) {
	var report Report
	err := b.eachPage(ctx, userID, func(_ int, page []model.Chat) error {
		for i := range page {
			report.Scanned++
			if needsEncryption(page[i].Chat) {
				report.Plaintext++
			} else {
				report.Encrypted++
			}
		}
		return nil
	})
	if err != nil {
		return Report{}, err
	}
	return report, nil
}

// eachPage calls fn for each page of the user's rows. The offset advances by
// the chunk size whether or not a page was rewritten; encryption does not
// change row order. A page shorter than the chunk size is the last one.
func (b *Backfill) eachPage(ctx context.Context, userID string, fn func(offset int, page []model.Chat) error) error {
	for offset := 0; ; offset += b.chunkSize {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("backfill: stopped at offset %d: %w", offset, err)
		}
		page, err := b.store.ScanUserChats(ctx, userID, offset, b.chunkSize)
		if err != nil {
			return fmt.Errorf("backfill: scan chats at offset %d: %w", offset, err)
		}
		security.RecordBackfillPage()
		if len(page) == 0 {
			return nil
		}
		if err := fn(offset, page); err != nil {
			return err
		}
		if len(page) < b.chunkSize {
			return nil
		}
	}
}

func needsEncryption(doc model.ChatContent) bool {
	return len(doc) > 0 && !chatencryption.IsFullyEncrypted(doc)
}
