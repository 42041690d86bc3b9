package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirvaulterscoff/run-once/store"
)

// GetDBPath resolves the database path.
// Order of precedence:
// 1) CLI override (e.g. --db-path)
// 2) Environment variable: RUNONCE_DB_PATH
// 3) config.yaml: db_path
// 4) Default: ~/.config/run-once-demo/run-once.db
// Returns the path as resolved (a relative path stays relative) and ensures
// the parent directory exists.
func GetDBPath() (string, error) {
	if override := getDBPathOverride(); override != "" {
		return store.EnsureDBDir(override)
	}

	if envPath := os.Getenv("RUNONCE_DB_PATH"); envPath != "" {
		return store.EnsureDBDir(envPath)
	}

	cfg, err := LoadSettings()
	if err != nil {
		return "", fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.DBPath != "" {
		return store.EnsureDBDir(cfg.DBPath)
	}

	configDir, err := ConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine config directory: %w", err)
	}
	return store.EnsureDBDir(filepath.Join(configDir, "run-once.db"))
}

// ResolveDBPathDetailed returns the resolved DB path along with the source of that decision.
// This is for debugging/reporting; normal code should use GetDBPath.
func ResolveDBPathDetailed() (path string, source string, err error) {
	if override := getDBPathOverride(); override != "" {
		resolvedPath, ensureErr := store.EnsureDBDir(override)
		return resolvedPath, "cli(--db-path)", ensureErr
	}

	if envPath := os.Getenv("RUNONCE_DB_PATH"); envPath != "" {
		resolvedPath, ensureErr := store.EnsureDBDir(envPath)
		return resolvedPath, "env(RUNONCE_DB_PATH)", ensureErr
	}

	dir, err := ConfigDir()
	if err != nil {
		return "", "", fmt.Errorf("failed to determine config directory: %w", err)
	}

	// Config file order must match LoadSettings.
	configPaths := []string{
		filepath.Join(dir, "config.yaml"),
		filepath.Join(string(os.PathSeparator), "etc", "run-once-demo", "config.yaml"),
		"config.yaml",
	}

	for _, p := range configPaths {
		s, loadErr := loadSettingsFile(p)
		if loadErr == nil {
			if s.DBPath != "" {
				resolvedPath, ensureErr := store.EnsureDBDir(s.DBPath)
				return resolvedPath, fmt.Sprintf("config(%s)", p), ensureErr
			}
			// File exists but no db_path set; LoadSettings stops at the
			// first file found, so the default applies.
			break
		}
		if errors.Is(loadErr, os.ErrNotExist) {
			continue
		}
		return "", "", fmt.Errorf("failed to load config %s: %w", p, loadErr)
	}

	configDir, err := ConfigDir()
	if err != nil {
		return "", "", fmt.Errorf("failed to determine config directory: %w", err)
	}
	resolved, err := store.EnsureDBDir(filepath.Join(configDir, "run-once.db"))
	return resolved, "default(~/.config/run-once-demo/run-once.db)", err
}
