package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

const (
	tokenService = "doppel"
	tokenAccount = "api_token"
)

// Keychain abstracts the platform secret store.
// macOS uses the security CLI; other platforms use a secrets file in
// the data directory.
type Keychain interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

// NewKeychain returns the platform-native secret store.
func NewKeychain() Keychain {
	return platformKeychain{}
}

// GetAPIToken returns the API bearer token, generating and persisting
// one on first use.
func GetAPIToken(kc Keychain) (string, error) {
	if token, err := kc.Get(tokenService, tokenAccount); err == nil && token != "" {
		return token, nil
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	token := hex.EncodeToString(buf)

	if err := kc.Set(tokenService, tokenAccount, token); err != nil {
		return "", fmt.Errorf("storing token: %w", err)
	}
	return token, nil
}
