package config

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// EncryptionKeyLen is the decoded size of a Fernet key: a 16-byte signing key
// followed by a 16-byte AES key.
const EncryptionKeyLen = 32

// DecodeEncryptionKey accepts the url-safe base64 form Fernet tooling emits, as
// well as standard base64 (padded or raw) and hex.
func DecodeEncryptionKey(raw string) ([]byte, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, fmt.Errorf("encryption key is empty")
	}
	decoders := []func(string) ([]byte, error){
		base64.URLEncoding.DecodeString,
		base64.RawURLEncoding.DecodeString,
		base64.StdEncoding.DecodeString,
		base64.RawStdEncoding.DecodeString,
		hex.DecodeString,
	}
	for _, decode := range decoders {
		if b, err := decode(value); err == nil && len(b) == EncryptionKeyLen {
			return b, nil
		}
	}
	return nil, fmt.Errorf("key must be base64 or hex encoded %d-byte value", EncryptionKeyLen)
}

// EncryptionEnabled reports whether a key has been provided. It does not
// validate the key.
func (c *Config) EncryptionEnabled() bool {
	return c != nil && strings.TrimSpace(c.EncryptionKey) != ""
}
