package util

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomToken(t *testing.T) {
	token, err := RandomToken(48)
	require.NoError(t, err)

	// 48 bytes encode to 64 URL-safe characters without padding.
	assert.Len(t, token, 64)
	_, err = base64.RawURLEncoding.DecodeString(token)
	assert.NoError(t, err)

	other, err := RandomToken(48)
	require.NoError(t, err)
	assert.NotEqual(t, token, other)
}

func TestCryptoRandomString(t *testing.T) {
	s, err := CryptoRandomString(15)
	require.NoError(t, err)
	assert.Len(t, s, 15)
}

func TestSHA256Hex(t *testing.T) {
	// Known vector: sha256("abc")
	assert.Equal(t,
		"ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad",
		SHA256Hex("abc"))
	assert.NotEqual(t, SHA256Hex("abc"), SHA256Hex("abd"))
}

func TestS256Challenge(t *testing.T) {
	// RFC 7636 appendix B vector.
	assert.Equal(t,
		"E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM",
		S256Challenge("dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"))
}

func TestHashToken(t *testing.T) {
	a := HashToken("ABCD-EFGH", "salt-1")
	b := HashToken("ABCD-EFGH", "salt-2")
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, HashToken("ABCD-EFGH", "salt-1"))
	assert.Len(t, a, 100) // 50 bytes hex-encoded
}
