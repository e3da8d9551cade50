package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAESGCM_RoundTrip(t *testing.T) {
	enc, err := NewAESGCM(bytes.Repeat([]byte{7}, 32), 1)
	require.NoError(t, err)

	sealed, err := enc.Encrypt("remember the milk")
	require.NoError(t, err)
	assert.NotEqual(t, "remember the milk", sealed)

	plain, err := enc.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "remember the milk", plain)
	assert.Equal(t, 1, enc.KeyVersion())
}

func TestAESGCM_DecryptGarbageIsError(t *testing.T) {
	enc, err := NewAESGCM(bytes.Repeat([]byte{7}, 32), 1)
	require.NoError(t, err)

	_, err = enc.Decrypt("not base64 !!!")
	assert.Error(t, err)

	_, err = enc.Decrypt("YWJj") // valid base64, too short for a nonce
	assert.Error(t, err)
}

func TestAESGCM_RejectsBadKeyLength(t *testing.T) {
	_, err := NewAESGCM([]byte("short"), 1)
	assert.Error(t, err)
}

func TestNoop_PassesThrough(t *testing.T) {
	var n Noop
	out, err := n.Encrypt("x")
	require.NoError(t, err)
	assert.Equal(t, "x", out)
	out, err = n.Decrypt("x")
	require.NoError(t, err)
	assert.Equal(t, "x", out)
}
