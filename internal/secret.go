package internal

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// SecretPrefix marks a 1Password secret reference (op://vault/item/field).
const SecretPrefix = "op://"

var (
	// CommandContext allows overriding command creation for testing
	CommandContext = exec.CommandContext
	// LookPath allows overriding the op lookup for testing
	LookPath = exec.LookPath
)

// IsSecretReference reports whether value should be read from 1Password.
func IsSecretReference(value string) bool {
	return strings.HasPrefix(value, SecretPrefix)
}

// ResolveSecretReference returns value unchanged unless it is a 1Password
// secret reference, in which case it is read with the op CLI.
// The boolean reports whether value was a reference.
func ResolveSecretReference(ctx context.Context, value string) (string, bool, error) {
	if !IsSecretReference(value) {
		return value, false, nil
	}

	if _, err := LookPath("op"); err != nil {
		return "", true, fmt.Errorf("1Password CLI (op) not found in PATH: %w", err)
	}

	output, err := CommandContext(ctx, "op", "read", value).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return "", true, fmt.Errorf("failed to read secret from 1Password: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", true, fmt.Errorf("failed to read secret from 1Password: %w", err)
	}

	secret := strings.TrimSpace(string(output))
	if secret == "" {
		return "", true, errors.New("1Password returned an empty secret")
	}
	return secret, true, nil
}

// ResolveSetting resolves a configuration value that may hold a secret
// reference. name identifies the setting in errors and is never paired
// with the resolved value.
func ResolveSetting(ctx context.Context, name, value string) (string, error) {
	resolved, _, err := ResolveSecretReference(ctx, value)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", name, err)
	}
	return resolved, nil
}
