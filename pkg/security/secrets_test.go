package security

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	plaintext := []byte("the quick brown fox")
	wrapped, err := Envelope(key, plaintext)
	require.NoError(t, err)
	require.True(t, IsEnvelope(wrapped))

	got, err := Open(key, wrapped)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	wrapped, err := Envelope(key, []byte("hello"))
	require.NoError(t, err)
	wrapped[len(wrapped)-1] ^= 0xFF

	_, err = Open(key, wrapped)
	require.Error(t, err)
}

func TestIsEnvelopeRejectsPlaintext(t *testing.T) {
	require.False(t, IsEnvelope([]byte("not an envelope")))
	require.False(t, IsEnvelope(nil))
}

func TestOpenWrongKeyFails(t *testing.T) {
	key1, _ := GenerateKey()
	key2, _ := GenerateKey()

	wrapped, err := Envelope(key1, []byte("secret"))
	require.NoError(t, err)

	_, err = Open(key2, wrapped)
	require.Error(t, err)
}

func TestDeriveKeyDeterministic(t *testing.T) {
	k1 := DeriveKey("passphrase")
	k2 := DeriveKey("passphrase")
	require.Equal(t, k1, k2)
	require.Len(t, k1, KeySize)
}
