package chatencryption

import (
	"context"

	"github.com/chirino/chat-encryption/internal/model"
)

type contextKey struct{}

// WithContext returns a new context carrying the given Codec.
func WithContext(ctx context.Context, codec *Codec) context.Context {
	return context.WithValue(ctx, contextKey{}, codec)
}

// FromContext retrieves the Codec from the context. Returns nil if none was set.
func FromContext(ctx context.Context) *Codec {
	codec, _ := ctx.Value(contextKey{}).(*Codec)
	return codec
}

// Codec applies a Cipher to every message content of a chat document.
//
// EncryptContent and DecryptContent mutate the document in place and return it
// for chaining. Callers that need the original must clone it first (see
// model.CloneContent).
type Codec struct {
	cipher *Cipher
}

// NewCodec returns a Codec backed by c. A nil or disabled cipher yields a
// pass-through codec.
func NewCodec(c *Cipher) *Codec {
	return &Codec{cipher: c}
}

// Enabled reports whether the underlying cipher has a key.
func (c *Codec) Enabled() bool {
	return c != nil && c.cipher.Enabled()
}

// EncryptContent replaces every string content with a token.
func (c *Codec) EncryptContent(doc model.ChatContent) model.ChatContent {
	if len(doc) == 0 || !c.Enabled() {
		return doc
	}
	eachContent(doc, func(msg map[string]interface{}, content string) {
		msg["content"] = c.cipher.EncryptString(content)
	})
	return doc
}

// EncryptPlaintextContent encrypts only the string contents that do not
// already carry the token prefix. It completes a document that was partly
// encrypted without wrapping existing tokens a second time.
func (c *Codec) EncryptPlaintextContent(doc model.ChatContent) model.ChatContent {
	if len(doc) == 0 || !c.Enabled() {
		return doc
	}
	eachContent(doc, func(msg map[string]interface{}, content string) {
		if !IsEncryptedString(content) {
			msg["content"] = c.cipher.EncryptString(content)
		}
	})
	return doc
}

// DecryptContent replaces every string content that opens as a token with its
// plaintext. Contents that do not open are left as they are.
//
// Unlike Cipher.Decrypt, the recovered text is never parsed as JSON: a content
// of "42" comes back as the string "42", not the number.
func (c *Codec) DecryptContent(doc model.ChatContent) model.ChatContent {
	if len(doc) == 0 || !c.Enabled() {
		return doc
	}
	eachContent(doc, func(msg map[string]interface{}, content string) {
		msg["content"] = c.cipher.DecryptString(content)
	})
	return doc
}

// IsFullyEncrypted reports whether every string content of doc carries the
// token prefix. Documents without string contents are trivially encrypted.
func IsFullyEncrypted(doc model.ChatContent) bool {
	encrypted := true
	eachContent(doc, func(_ map[string]interface{}, content string) {
		if !IsEncryptedString(content) {
			encrypted = false
		}
	})
	return encrypted
}

// CountContents returns the number of string contents in doc.
func CountContents(doc model.ChatContent) int {
	n := 0
	eachContent(doc, func(map[string]interface{}, string) { n++ })
	return n
}

// eachContent visits every message whose content is a string, in both
// history.messages and messages. It is the only definition of where content
// lives; encryption, decryption and detection all go through it.
func eachContent(doc model.ChatContent, fn func(msg map[string]interface{}, content string)) {
	if len(doc) == 0 {
		return
	}
	visit := func(msg map[string]interface{}) {
		if content, ok := msg["content"].(string); ok {
			fn(msg, content)
		}
	}

	if history, ok := asMap(doc["history"]); ok {
		eachMessage(history["messages"], visit)
	}
	eachMessage(doc["messages"], visit)
}

// eachMessage calls visit for every message of a mapping or list container,
// in any of the shapes JSON decoding or Go literals produce.
func eachMessage(container interface{}, visit func(msg map[string]interface{})) {
	switch messages := container.(type) {
	case map[string]interface{}:
		for _, m := range messages {
			if msg, ok := asMap(m); ok {
				visit(msg)
			}
		}
	case model.ChatContent:
		for _, m := range messages {
			if msg, ok := asMap(m); ok {
				visit(msg)
			}
		}
	case map[string]map[string]interface{}:
		for _, msg := range messages {
			if msg != nil {
				visit(msg)
			}
		}
	case map[string]model.ChatContent:
		for _, msg := range messages {
			if msg != nil {
				visit(msg)
			}
		}
	case []interface{}:
		for _, m := range messages {
			if msg, ok := asMap(m); ok {
				visit(msg)
			}
		}
	case []map[string]interface{}:
		for _, msg := range messages {
			if msg != nil {
				visit(msg)
			}
		}
	case []model.ChatContent:
		for _, msg := range messages {
			if msg != nil {
				visit(msg)
			}
		}
	}
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, m != nil
	case model.ChatContent:
		return m, m != nil
	default:
		return nil, false
	}
}
