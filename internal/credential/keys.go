package credential

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const (
	privateKeyName = "credential-signing-key"
	publicKeyName  = "credential-signing-key.pub"
)

// LoadOrGenerateKeypair reads the signing keypair from dir, creating and
// persisting a fresh one on first boot. The bool reports whether the pair
// was generated. A key file that exists but cannot be loaded is an error,
// never a silent rotation.
func LoadOrGenerateKeypair(dir string) (ed25519.PublicKey, ed25519.PrivateKey, bool, error) {
	pub, priv, err := loadKeypair(dir)
	if err == nil {
		return pub, priv, false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, nil, false, err
	}
	if _, statErr := os.Stat(filepath.Join(dir, privateKeyName)); statErr == nil {
		return nil, nil, false, err
	}

	pub, priv, err = ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, false, fmt.Errorf("generate signing key: %w", err)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, nil, false, fmt.Errorf("create key dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, privateKeyName), priv, 0o600); err != nil {
		return nil, nil, false, fmt.Errorf("write private key: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, publicKeyName), pub, 0o644); err != nil {
		return nil, nil, false, fmt.Errorf("write public key: %w", err)
	}
	return pub, priv, true, nil
}

func loadKeypair(dir string) (ed25519.PublicKey, ed25519.PrivateKey, error) {
	priv, err := os.ReadFile(filepath.Join(dir, privateKeyName))
	if err != nil {
		return nil, nil, fmt.Errorf("read private key: %w", err)
	}
	if len(priv) != ed25519.PrivateKeySize {
		return nil, nil, fmt.Errorf("private key has %d bytes, want %d", len(priv), ed25519.PrivateKeySize)
	}

	pub, err := os.ReadFile(filepath.Join(dir, publicKeyName))
	if err != nil {
		return nil, nil, fmt.Errorf("read public key: %w", err)
	}
	if len(pub) != ed25519.PublicKeySize {
		return nil, nil, fmt.Errorf("public key has %d bytes, want %d", len(pub), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(pub), ed25519.PrivateKey(priv), nil
}
