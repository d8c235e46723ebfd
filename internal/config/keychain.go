package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	keychainService = "voxbar"
	accountAPIKey   = "llm_api_key"
	accountAPIToken = "api_token"
)

// errSecretNotFound marks an absent item, as opposed to a locked or
// unreadable store.
var errSecretNotFound = errors.New("secret not found")

// Keychain abstracts the platform secret store for testing.
type Keychain interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

// NewKeychain returns the platform secret store: the macOS Keychain, or a
// user-only JSON file elsewhere.
func NewKeychain() Keychain { return platformKeychain{} }

type platformKeychain struct{}

func (platformKeychain) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (platformKeychain) Set(service, account, value string) error {
	return keychainSet(service, account, value)
}

// GetAPIToken returns the bearer token for the local API, generating and
// storing one on first use.
// An unreadable store is an error; only a missing token triggers generation.
func GetAPIToken(kc Keychain) (string, error) {
	tok, err := kc.Get(keychainService, accountAPIToken)
	switch {
	case err == nil && tok != "":
		return tok, nil
	case err != nil && !errors.Is(err, errSecretNotFound):
		return "", fmt.Errorf("reading api token: %w", err)
	}
	return RotateAPIToken(kc)
}

// RotateAPIToken replaces the stored bearer token with a fresh random one.
func RotateAPIToken(kc Keychain) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating api token: %w", err)
	}
	tok := hex.EncodeToString(buf)
	if err := kc.Set(keychainService, accountAPIToken, tok); err != nil {
		return "", fmt.Errorf("storing api token: %w", err)
	}
	return tok, nil
}
