package utils

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/bech32"
)

const (
	// NpubPrefix starts every bech32-encoded public key.
	NpubPrefix = "npub1"
	// TokenSeparator splits "npub1...#<token>" display strings.
	TokenSeparator = "#"

	hrpNpub = "npub"
	hrpNsec = "nsec"
)

// ErrInvalidFormat is returned when a bech32 identifier cannot be decoded.
var ErrInvalidFormat = errors.New("invalid bech32 format")

// NormalizePublicKey converts an npub into its lowercase hex form.  Any
// other input is returned unchanged; hex requesters are accepted as-is
// and are not validated here.
func NormalizePublicKey(input string) (string, error) {
	if !strings.HasPrefix(input, NpubPrefix) {
		return input, nil
	}
	raw, err := decodeBech32(hrpNpub, input)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

// EncodeNpub renders a 32-byte hex public key as an npub.
func EncodeNpub(pubkeyHex string) (string, error) {
	raw, err := hex.DecodeString(pubkeyHex)
	if err != nil || len(raw) != 32 {
		return "", fmt.Errorf("%w: public key must be 32 hex-encoded bytes", ErrInvalidFormat)
	}
	return encodeBech32(hrpNpub, raw)
}

// EncodeNsec renders a 32-byte private key as an nsec.
func EncodeNsec(secret []byte) (string, error) {
	if len(secret) != 32 {
		return "", fmt.Errorf("%w: private key must be 32 bytes", ErrInvalidFormat)
	}
	return encodeBech32(hrpNsec, secret)
}

// DecodeNsec returns the 32 raw bytes behind an nsec.
func DecodeNsec(nsec string) ([]byte, error) {
	return decodeBech32(hrpNsec, nsec)
}

// SplitTokenString separates an optional public identifier prefix from the
// canonical token value.  Without a separator the whole input is the value.
func SplitTokenString(input string) (prefix *string, raw string) {
	i := strings.Index(input, TokenSeparator)
	if i < 0 {
		return nil, input
	}
	p := input[:i]
	return &p, input[i+len(TokenSeparator):]
}

// ComposeTokenString is the inverse of SplitTokenString: the identifier and
// separator are prepended only when an identifier is available.
func ComposeTokenString(npub *string, raw string) string {
	if npub == nil || *npub == "" {
		return raw
	}
	return *npub + TokenSeparator + raw
}

func decodeBech32(hrp, s string) ([]byte, error) {
	gotHRP, data, err := bech32.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	if gotHRP != hrp {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrInvalidFormat, hrp, gotHRP)
	}
	raw, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("%w: payload is %d bytes, want 32", ErrInvalidFormat, len(raw))
	}
	return raw, nil
}

func encodeBech32(hrp string, raw []byte) (string, error) {
	conv, err := bech32.ConvertBits(raw, 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode(hrp, conv)
}
