package config

import (
	"encoding/base64"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeEncryptionKey_Encodings(t *testing.T) {
	raw := []byte("0123456789abcdef0123456789abcdef")

	for name, encoded := range map[string]string{
		"url base64":     base64.URLEncoding.EncodeToString(raw),
		"raw url base64": base64.RawURLEncoding.EncodeToString(raw),
		"std base64":     base64.StdEncoding.EncodeToString(raw),
		"hex":            hex.EncodeToString(raw),
		"padded spaces":  "  " + base64.URLEncoding.EncodeToString(raw) + "\n",
	} {
		t.Run(name, func(t *testing.T) {
			key, err := DecodeEncryptionKey(encoded)
			require.NoError(t, err)
			require.Equal(t, raw, key)
		})
	}
}

func TestDecodeEncryptionKey_RejectsWrongLength(t *testing.T) {
	_, err := DecodeEncryptionKey(base64.URLEncoding.EncodeToString([]byte("too short")))
	require.Error(t, err)

	_, err = DecodeEncryptionKey("")
	require.Error(t, err)

	_, err = DecodeEncryptionKey("not a key at all!")
	require.Error(t, err)
}

func TestEncryptionEnabled(t *testing.T) {
	var nilCfg *Config
	require.False(t, nilCfg.EncryptionEnabled())

	cfg := DefaultConfig()
	require.False(t, cfg.EncryptionEnabled())

	cfg.EncryptionKey = "anything"
	require.True(t, cfg.EncryptionEnabled())
}
