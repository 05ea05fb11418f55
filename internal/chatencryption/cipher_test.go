package chatencryption_test

import (
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/chirino/chat-encryption/internal/chatencryption"
	"github.com/stretchr/testify/require"
)

func newCipher(t *testing.T) *chatencryption.Cipher {
	t.Helper()
	key, err := chatencryption.GenerateKey()
	require.NoError(t, err)
	c := chatencryption.NewCipher(key)
	require.True(t, c.Enabled())
	return c
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c := newCipher(t)

	data := map[string]interface{}{"foo": "bar", "num": 1}
	encrypted := c.Encrypt(data)

	token, ok := encrypted.(string)
	require.True(t, ok, "encrypt must produce a string token")
	require.True(t, strings.HasPrefix(token, chatencryption.TokenPrefix))

	decrypted := c.Decrypt(token, token)
	require.Equal(t, map[string]interface{}{"foo": "bar", "num": float64(1)}, decrypted)
}

func TestEncryptDecryptRoundTrip_Values(t *testing.T) {
	c := newCipher(t)

	cases := []struct {
		name string
		in   interface{}
		want interface{}
	}{
		{"plain string", "hello world", "hello world"},
		{"json-looking string", `{"a":1}`, map[string]interface{}{"a": float64(1)}},
		{"list", []interface{}{"a", "b"}, []interface{}{"a", "b"}},
		{"nested document", map[string]interface{}{"m": map[string]interface{}{"x": true}}, map[string]interface{}{"m": map[string]interface{}{"x": true}}},
		{"integer", 42, float64(42)},
		{"bool", true, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			token := c.Encrypt(tc.in)
			require.True(t, chatencryption.IsEncryptedString(token.(string)))
			require.Equal(t, tc.want, c.Decrypt(token, nil))
		})
	}
}

func TestEncryptNil(t *testing.T) {
	c := newCipher(t)
	require.Nil(t, c.Encrypt(nil))
}

func TestDisabledCipherPassesThrough(t *testing.T) {
	c := chatencryption.NewCipher("")
	require.False(t, c.Enabled())

	doc := map[string]interface{}{"content": "hello"}
	got := c.Encrypt(doc)
	require.Equal(t, reflect.ValueOf(doc).Pointer(), reflect.ValueOf(got).Pointer(), "disabled encrypt must return the same value")
	require.Equal(t, "plain", c.Encrypt("plain"))

	require.Equal(t, "fallback", c.Decrypt("gAAAAABsomething", "fallback"))
	require.Equal(t, "fallback", c.Decrypt(nil, "fallback"))

	require.Equal(t, "plain", c.EncryptString("plain"))
	require.Equal(t, "plain", c.DecryptString("plain"))
}

func TestNilCipherIsDisabled(t *testing.T) {
	var c *chatencryption.Cipher
	require.False(t, c.Enabled())
	require.Equal(t, "x", c.Encrypt("x"))
	require.Equal(t, "fb", c.Decrypt("x", "fb"))
}

func TestInvalidKeyDisablesCipher(t *testing.T) {
	for _, key := range []string{"not-a-key", "c2hvcnQ=", "zz"} {
		c := chatencryption.NewCipher(key)
		require.False(t, c.Enabled(), "key %q must not initialize the cipher", key)
		require.Equal(t, "hello", c.Encrypt("hello"))
	}
}

func TestEncryptFailsOpen(t *testing.T) {
	c := newCipher(t)

	unserializable := map[string]interface{}{"ch": make(chan int)}
	got := c.Encrypt(unserializable)
	require.Equal(t, reflect.ValueOf(unserializable).Pointer(), reflect.ValueOf(got).Pointer(),
		"an unserializable value must come back unchanged")
}

func TestDecryptFallbacks(t *testing.T) {
	c := newCipher(t)

	require.Equal(t, "fb", c.Decrypt(42, "fb"), "non-string token")
	require.Equal(t, "fb", c.Decrypt("", "fb"), "empty token")
	require.Equal(t, "fb", c.Decrypt(nil, "fb"), "nil token")
}

func TestDecryptFailureReturnsToken(t *testing.T) {
	c := newCipher(t)
	other := newCipher(t)

	token := other.Encrypt("secret").(string)
	require.Equal(t, token, c.Decrypt(token, "fb"), "wrong key returns the token, not the fallback")

	require.Equal(t, "hello", c.Decrypt("hello", "fb"), "plaintext is returned as is")

	corrupted := token[:len(token)-8] + "AAAAAAA="
	require.Equal(t, corrupted, c.Decrypt(corrupted, "fb"))

	truncated := chatencryption.TokenPrefix + "short"
	require.Equal(t, truncated, c.Decrypt(truncated, "fb"))
}

func TestStringHelpersKeepContentExact(t *testing.T) {
	c := newCipher(t)

	for _, s := range []string{"hello", "42", "true", `{"a":1}`, "", "ünïcödé ✓"} {
		token := c.EncryptString(s)
		require.True(t, chatencryption.IsEncryptedString(token))
		require.Equal(t, s, c.DecryptString(token))
	}

	require.Equal(t, "not a token", c.DecryptString("not a token"))
}

func TestTokensUseFreshIVs(t *testing.T) {
	c := newCipher(t)
	require.NotEqual(t, c.EncryptString("same"), c.EncryptString("same"))
}

func TestIsEncryptedString(t *testing.T) {
	require.True(t, chatencryption.IsEncryptedString("gAAAAABxyz"))
	require.False(t, chatencryption.IsEncryptedString("gAAAAAAxyz"))
	require.False(t, chatencryption.IsEncryptedString("hello"))
	require.False(t, chatencryption.IsEncryptedString(""))
}

func TestCipherConcurrentUse(t *testing.T) {
	c := newCipher(t)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				token := c.EncryptString("message")
				if c.DecryptString(token) != "message" {
					t.Error("concurrent round trip failed")
					return
				}
			}
		}()
	}
	wg.Wait()
}
