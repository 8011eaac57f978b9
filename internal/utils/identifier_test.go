package utils

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePublicKeyRoundTrip(t *testing.T) {
	for i := 0; i < 32; i++ {
		raw := make([]byte, 32)
		_, err := rand.Read(raw)
		require.NoError(t, err)
		want := hex.EncodeToString(raw)

		npub, err := EncodeNpub(want)
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(npub, NpubPrefix))

		got, err := NormalizePublicKey(npub)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestNormalizePublicKeyPassesThroughNonBech32(t *testing.T) {
	for _, in := range []string{
		"3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d",
		"u1",
		"not-even-hex",
	} {
		got, err := NormalizePublicKey(in)
		require.NoError(t, err)
		assert.Equal(t, in, got)
	}
}

func TestNormalizePublicKeyRejectsBadChecksum(t *testing.T) {
	npub, err := EncodeNpub(strings.Repeat("ab", 32))
	require.NoError(t, err)

	last := npub[len(npub)-1]
	swap := byte('q')
	if last == 'q' {
		swap = 'p'
	}
	broken := npub[:len(npub)-1] + string(swap)

	_, err = NormalizePublicKey(broken)
	assert.ErrorIs(t, err, ErrInvalidFormat)

	_, err = NormalizePublicKey("npub1garbage")
	assert.ErrorIs(t, err, ErrInvalidFormat)
}

func TestNsecRoundTrip(t *testing.T) {
	secret := make([]byte, 32)
	secret[31] = 7
	nsec, err := EncodeNsec(secret)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(nsec, "nsec1"))

	back, err := DecodeNsec(nsec)
	require.NoError(t, err)
	assert.Equal(t, secret, back)

	// an npub is not an nsec
	npub, _ := EncodeNpub(hex.EncodeToString(secret))
	_, err = DecodeNsec(npub)
	assert.ErrorIs(t, err, ErrInvalidFormat)
}

func TestComposeAndSplitTokenString(t *testing.T) {
	assert.Equal(t, "abc", ComposeTokenString(nil, "abc"))
	empty := ""
	assert.Equal(t, "abc", ComposeTokenString(&empty, "abc"))
	npub := "npub1x"
	assert.Equal(t, "npub1x#abc", ComposeTokenString(&npub, "abc"))

	prefix, raw := SplitTokenString("abc")
	assert.Nil(t, prefix)
	assert.Equal(t, "abc", raw)

	prefix, raw = SplitTokenString("npub1x#abc")
	require.NotNil(t, prefix)
	assert.Equal(t, "npub1x", *prefix)
	assert.Equal(t, "abc", raw)

	prefix, raw = SplitTokenString(ComposeTokenString(&npub, "abc"))
	assert.Equal(t, npub, *prefix)
	assert.Equal(t, "abc", raw)
}
