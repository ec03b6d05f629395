package storage

import (
	"os"
	"path/filepath"
)

const appDir = ".grpcdesk"

// DefaultStoragePath returns the default storage location
// Platform-specific paths:
//   - macOS/Linux: ~/.grpcdesk
//   - Windows: %USERPROFILE%\.grpcdesk
func DefaultStoragePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, appDir), nil
}
