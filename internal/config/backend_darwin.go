//go:build darwin

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// defaultDataDir holds the interaction log and the SQLite database.
func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, "Library", "Application Support", appDir)
	}
	return filepath.Join(".", appDir)
}

// darwinBackend stores settings in UserDefaults through the defaults(1) tool,
// so the menu-bar app and the daemon share one domain.
type darwinBackend struct {
	domain string
}

func newPlatformBackend() ConfigBackend {
	return &darwinBackend{domain: settingsDomain}
}

// defaults runs one defaults(1) subcommand. missing reports the exit status
// defaults uses for an absent key.
func (b *darwinBackend) defaults(args ...string) (out string, missing bool, err error) {
	cmd := exec.Command("defaults", append([]string{args[0], b.domain}, args[1:]...)...)
	raw, err := cmd.CombinedOutput()
	out = strings.TrimSpace(string(raw))
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return out, true, nil
		}
		return out, false, fmt.Errorf("defaults %s %s: %w: %s", args[0], args[1], err, out)
	}
	return out, false, nil
}

func (b *darwinBackend) GetString(key string) (string, bool, error) {
	out, missing, err := b.defaults("read", key)
	if missing || err != nil {
		return "", false, err
	}
	return out, true, nil
}

func (b *darwinBackend) GetInt(key string) (int, bool, error) {
	s, ok, err := b.GetString(key)
	if !ok || err != nil {
		return 0, ok, err
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, true, fmt.Errorf("%s: %w", key, err)
	}
	return i, true, nil
}

func (b *darwinBackend) SetString(key, val string) error {
	_, _, err := b.defaults("write", key, "-string", val)
	return err
}

func (b *darwinBackend) SetInt(key string, val int) error {
	_, _, err := b.defaults("write", key, "-int", strconv.Itoa(val))
	return err
}

func (b *darwinBackend) Delete(key string) error {
	_, _, err := b.defaults("delete", key)
	return err
}
