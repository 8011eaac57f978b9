package keystore

import (
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// SecretSize is the length of a raw secp256k1 secret key.
const SecretSize = 32

// GenerateSecret returns a fresh secp256k1 secret key.
func GenerateSecret() ([]byte, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generating secp256k1 key: %w", err)
	}
	return priv.Serialize(), nil
}

// PublicKeyHex derives the x-only (BIP-340) public key of secret as
// lowercase hex.
func PublicKeyHex(secret []byte) (string, error) {
	if len(secret) != SecretSize {
		return "", fmt.Errorf("secret key must be %d bytes, got %d", SecretSize, len(secret))
	}
	_, pub := btcec.PrivKeyFromBytes(secret)
	return hex.EncodeToString(schnorr.SerializePubKey(pub)), nil
}

// Keyring holds unlocked secrets by key name.  It is safe for concurrent
// use.
type Keyring struct {
	mu      sync.RWMutex
	secrets map[string][]byte
}

func NewKeyring() *Keyring {
	return &Keyring{secrets: make(map[string][]byte)}
}

// Load stores secret under name, replacing any previous secret.
func (k *Keyring) Load(name string, secret []byte) error {
	if len(secret) != SecretSize {
		return fmt.Errorf("secret key must be %d bytes, got %d", SecretSize, len(secret))
	}
	cp := make([]byte, len(secret))
	copy(cp, secret)

	k.mu.Lock()
	defer k.mu.Unlock()
	if old, ok := k.secrets[name]; ok {
		clear(old)
	}
	k.secrets[name] = cp
	return nil
}

// Unlocked reports whether a secret is loaded for name.
func (k *Keyring) Unlocked(name string) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	_, ok := k.secrets[name]
	return ok
}

// Unload drops and zeroes the secret for name.
func (k *Keyring) Unload(name string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if s, ok := k.secrets[name]; ok {
		clear(s)
		delete(k.secrets, name)
	}
}
