// ABOUTME: XDG-based data directory resolution for trendloom persistent state.
// ABOUTME: Checks XDG_DATA_HOME first, falls back to ~/.local/share/trendloom.
package main

import (
	"fmt"
	"os"
	"path/filepath"
)

// resolveDataDir returns the data directory for checkpoints and artifacts,
// creating it if needed. An explicit override wins over XDG resolution.
func resolveDataDir(override string) (string, error) {
	dir := override
	if dir == "" {
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			dir = filepath.Join(xdg, "trendloom")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("resolve home directory: %w", err)
			}
			dir = filepath.Join(home, ".local", "share", "trendloom")
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create data directory: %w", err)
	}
	return dir, nil
}
