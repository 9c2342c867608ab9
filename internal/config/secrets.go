package config

import (
	"crypto/rsa"
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/ssh"

	"snowpulse/pkg/errors"
)

const (
	keyringService = "snowpulse"
	keyringPrefix  = "keyring:"
)

// ResolveSecret returns value unchanged unless it has the form
// "keyring:<name>", in which case the secret is read from the OS keyring.
func ResolveSecret(value string) (string, error) {
	if !strings.HasPrefix(value, keyringPrefix) {
		return value, nil
	}
	name := strings.TrimPrefix(value, keyringPrefix)
	if name == "" {
		return "", fmt.Errorf("empty keyring reference")
	}
	secret, err := keyring.Get(keyringService, name)
	if err != nil {
		return "", fmt.Errorf("failed to get %q from keyring: %w", name, err)
	}
	return secret, nil
}

// StoreSecret saves a secret in the OS keyring and returns the reference
// to put in the config file.
func StoreSecret(name, value string) (string, error) {
	if err := keyring.Set(keyringService, name, value); err != nil {
		return "", fmt.Errorf("failed to store %q in keyring: %w", name, err)
	}
	return keyringPrefix + name, nil
}

// LoadPrivateKey reads a PEM encoded RSA key for Snowflake key-pair auth.
// Encrypted PKCS#8 keys need the passphrase.
func LoadPrivateKey(path, passphrase string) (*rsa.PrivateKey, error) {
	cleaned, err := cleanPath(path)
	if err != nil {
		return nil, errors.ConfigError(err.Error(), "snowflake.private_key_path")
	}
	data, err := os.ReadFile(cleaned) // #nosec G304 - path is validated
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "Failed to read private key").
			WithContext("field", "snowflake.private_key_path")
	}

	var raw interface{}
	if passphrase != "" {
		raw, err = ssh.ParseRawPrivateKeyWithPassphrase(data, []byte(passphrase))
	} else {
		raw, err = ssh.ParseRawPrivateKey(data)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "Failed to parse private key").
			WithContext("field", "snowflake.private_key_path")
	}

	key, ok := raw.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.ConfigError(fmt.Sprintf("private key must be RSA, got %T", raw), "snowflake.private_key_path")
	}
	return key, nil
}
