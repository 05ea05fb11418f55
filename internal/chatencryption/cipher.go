// Package chatencryption encrypts chat message content at rest.
//
// Tokens are Fernet tokens: url-safe base64 of
//
//	[1 byte: 0x80 version]
//	[8 bytes: big-endian unix timestamp]
//	[16 bytes: AES-128-CBC IV]
//	[ciphertext, PKCS#7 padded]
//	[32 bytes: HMAC-SHA256 over everything above]
//
// which makes every token start with TokenPrefix for any timestamp between 2004
// and 2038. The prefix is how already-encrypted content is recognised without a
// decrypt attempt, so it must not change without a migration of its own.
package chatencryption

import (
	"crypto/aes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-encryption/internal/config"
	"github.com/fernet/fernet-go"
)

// TokenPrefix begins every token produced by Cipher.
const TokenPrefix = "gAAAAAB"

// Stored content never expires; a negative TTL turns off fernet's age check.
const noTTL = -time.Second

// version + timestamp + IV + one cipher block + HMAC
const minTokenSize = 1 + 8 + aes.BlockSize + aes.BlockSize + sha256.Size

var errInvalidToken = errors.New("chatencryption: invalid token")

// Cipher seals and opens chat content with a single Fernet key. A Cipher
// without a key is disabled: Encrypt and Decrypt become identity functions.
// A Cipher is immutable and safe for concurrent use.
type Cipher struct {
	key *fernet.Key
}

// NewCipher builds a Cipher from an encoded key. An empty or invalid key is
// logged and yields a disabled Cipher; it never fails the caller.
func NewCipher(key string) *Cipher {
	if strings.TrimSpace(key) == "" {
		log.Warn("Chat encryption key is not set: chat encryption disabled")
		return &Cipher{}
	}
	raw, err := config.DecodeEncryptionKey(key)
	if err != nil {
		log.Error("Chat encryption cipher initialization failed (invalid key)", "err", err)
		return &Cipher{}
	}
	var k fernet.Key
	copy(k[:], raw)
	log.Info("Chat encryption cipher initialized")
	return &Cipher{key: &k}
}

// FromConfig builds the Cipher for cfg.EncryptionKey.
func FromConfig(cfg *config.Config) *Cipher {
	if cfg == nil {
		return NewCipher("")
	}
	return NewCipher(cfg.EncryptionKey)
}

// GenerateKey returns a new random key in the url-safe base64 form NewCipher
// accepts.
func GenerateKey() (string, error) {
	var k fernet.Key
	if err := k.Generate(); err != nil {
		return "", fmt.Errorf("chatencryption: generating key: %w", err)
	}
	return k.Encode(), nil
}

// Enabled reports whether a key is loaded.
func (c *Cipher) Enabled() bool {
	return c != nil && c.key != nil
}

// Encrypt returns a token for value. Maps, slices, arrays and structs are
// serialized to JSON first; strings are used as is and other primitives are
// formatted with fmt.Sprint.
//
// Encrypt fails open: when disabled, or when serialization or sealing fails,
// value is returned unchanged.
func (c *Cipher) Encrypt(value interface{}) interface{} {
	if !c.Enabled() || value == nil {
		return value
	}
	plaintext, err := serialize(value)
	if err == nil {
		var token string
		if token, err = c.seal(plaintext); err == nil {
			return token
		}
	}
	log.Error("Encryption processing failed", "err", err)
	return value
}

// Decrypt opens token. When disabled, or token is not a non-empty string,
// fallback is returned. A token that cannot be opened is returned as is, so
// callers can tell "looks encrypted but unreadable" from "never encrypted".
// Recovered text that parses as JSON is returned as the parsed value.
func (c *Cipher) Decrypt(token interface{}, fallback interface{}) interface{} {
	s, ok := token.(string)
	if !c.Enabled() || !ok || s == "" {
		return fallback
	}
	plaintext, err := c.open(s)
	if err != nil {
		log.Debug("Decryption failed", "err", err)
		return s
	}
	var doc interface{}
	if err := json.Unmarshal(plaintext, &doc); err == nil {
		return doc
	}
	return string(plaintext)
}

// EncryptString seals s with the same fail-open rules as Encrypt.
func (c *Cipher) EncryptString(s string) string {
	if !c.Enabled() {
		return s
	}
	token, err := c.seal([]byte(s))
	if err != nil {
		log.Error("Encryption processing failed", "err", err)
		return s
	}
	return token
}

// DecryptString opens s without any JSON interpretation, so content strings
// round-trip exactly. Strings that cannot be opened are returned unchanged.
func (c *Cipher) DecryptString(s string) string {
	if !c.Enabled() || s == "" {
		return s
	}
	plaintext, err := c.open(s)
	if err != nil {
		return s
	}
	return string(plaintext)
}

// IsEncryptedString reports whether s carries the token prefix.
func IsEncryptedString(s string) bool {
	return strings.HasPrefix(s, TokenPrefix)
}

func (c *Cipher) seal(plaintext []byte) (string, error) {
	tok, err := fernet.EncryptAndSign(plaintext, c.key)
	if err != nil {
		return "", fmt.Errorf("chatencryption: sealing token: %w", err)
	}
	return string(tok), nil
}

func (c *Cipher) open(token string) ([]byte, error) {
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil || len(raw) < minTokenSize {
		return nil, errInvalidToken
	}
	msg := fernet.VerifyAndDecrypt([]byte(token), noTTL, []*fernet.Key{c.key})
	if msg == nil {
		return nil, errInvalidToken
	}
	return msg, nil
}

func serialize(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	}
	switch reflect.ValueOf(value).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct, reflect.Pointer:
		b, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("chatencryption: serializing value: %w", err)
		}
		return b, nil
	default:
		return []byte(fmt.Sprint(value)), nil
	}
}
