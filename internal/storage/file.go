package storage

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	fileExt        = ".json"
	filePermission = 0644
	dirPermission  = 0755
)

// FileKV implements KV with one file per key under a base directory.
type FileKV struct {
	basePath string
	logger   *slog.Logger
}

// NewFileKV creates a file-backed store rooted at basePath.
func NewFileKV(basePath string, logger *slog.Logger) *FileKV {
	return &FileKV{
		basePath: basePath,
		logger:   logger,
	}
}

// Get reads the file for key.
func (s *FileKV) Get(key string) ([]byte, bool, error) {
	path, err := s.pathFor(key)
	if err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read %q: %w", key, err)
	}

	s.logger.Debug("loaded key",
		slog.String("key", key),
		slog.Int("bytes", len(data)))

	return data, true, nil
}

// Set atomically replaces the file for key.
func (s *FileKV) Set(key string, data []byte) error {
	path, err := s.pathFor(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), dirPermission); err != nil {
		return fmt.Errorf("create directory for %q: %w", key, err)
	}
	if err := atomicWriteFile(path, data, filePermission); err != nil {
		return fmt.Errorf("write %q: %w", key, err)
	}

	s.logger.Debug("saved key",
		slog.String("key", key),
		slog.String("path", path))

	return nil
}

// Delete removes the file for key.
func (s *FileKV) Delete(key string) error {
	path, err := s.pathFor(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			// Already gone, not an error
			return nil
		}
		return fmt.Errorf("delete %q: %w", key, err)
	}

	s.logger.Debug("deleted key", slog.String("key", key))
	return nil
}

// Keys walks the base directory and returns keys with the given prefix.
func (s *FileKV) Keys(prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == s.basePath {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() || filepath.Ext(path) != fileExt || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(s.basePath, path)
		if err != nil {
			return err
		}
		key := strings.TrimSuffix(filepath.ToSlash(rel), fileExt)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}

	sort.Strings(keys)
	return keys, nil
}

// atomicWriteFile writes data to a file atomically by writing to a temp file
// in the same directory, syncing, then renaming over the target path.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	f, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := f.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}

	success = true
	return nil
}

// ValidateKey checks that every segment of key is safe for use as a filename.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: must not be empty", ErrInvalidKey)
	}
	if strings.ContainsRune(key, 0) {
		return fmt.Errorf("%w: must not contain null bytes", ErrInvalidKey)
	}
	if strings.Contains(key, "\\") {
		return fmt.Errorf("%w: must not contain backslashes", ErrInvalidKey)
	}
	for _, segment := range strings.Split(key, "/") {
		if segment == "" {
			return fmt.Errorf("%w: empty segment in %q", ErrInvalidKey, key)
		}
		if strings.Contains(segment, "..") {
			return fmt.Errorf("%w: must not contain %q", ErrInvalidKey, "..")
		}
	}
	return nil
}

// pathFor validates key and verifies the resolved path stays under basePath.
func (s *FileKV) pathFor(key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	path := filepath.Join(s.basePath, filepath.FromSlash(key)+fileExt)
	rel, err := filepath.Rel(s.basePath, path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%w: path %q escapes storage directory", ErrInvalidKey, path)
	}
	return path, nil
}
