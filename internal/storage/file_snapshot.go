package storage

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/universal-ai/gateway/internal/models"
)

// FileSnapshot persists each API key as its own JSON file
type FileSnapshot struct {
	keysDir string
}

// NewFileSnapshot creates a file snapshot rooted at keysDir
func NewFileSnapshot(keysDir string) *FileSnapshot {
	return &FileSnapshot{
		keysDir: keysDir,
	}
}

// Save writes every key to its file
func (s *FileSnapshot) Save(ctx context.Context, keys []*models.APIKey) error {
	if err := os.MkdirAll(s.keysDir, 0755); err != nil {
		return fmt.Errorf("failed to create keys directory: %w", err)
	}

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.writeKey(key); err != nil {
			return err
		}
	}
	return nil
}

func (s *FileSnapshot) writeKey(key *models.APIKey) error {
	data, err := json.MarshalIndent(key, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal key: %w", err)
	}

	// write then rename so a crash never leaves a truncated record
	filePath := filepath.Join(s.keysDir, keyFilename(key.Key))
	tmp := filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	if err := os.Rename(tmp, filePath); err != nil {
		return fmt.Errorf("failed to replace key file: %w", err)
	}
	return nil
}

// Load reads every key file in the directory
func (s *FileSnapshot) Load(ctx context.Context) ([]*models.APIKey, error) {
	entries, err := os.ReadDir(s.keysDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*models.APIKey{}, nil
		}
		return nil, fmt.Errorf("failed to read keys directory: %w", err)
	}

	var keys []*models.APIKey
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		data, err := os.ReadFile(filepath.Join(s.keysDir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read key file %s: %w", entry.Name(), err)
		}

		var key models.APIKey
		if err := json.Unmarshal(data, &key); err != nil {
			return nil, fmt.Errorf("failed to unmarshal key file %s: %w", entry.Name(), err)
		}
		keys = append(keys, &key)
	}

	sortByCreation(keys)
	return keys, nil
}

func (s *FileSnapshot) Close() error { return nil }

var plainKey = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// keyFilename maps a key to a unique safe filename. Generated keys are used
// as is; anything else is base64url encoded behind a '~', which plain keys
// never contain.
func keyFilename(key string) string {
	if plainKey.MatchString(key) {
		return key + ".json"
	}
	return "~" + base64.RawURLEncoding.EncodeToString([]byte(key)) + ".json"
}
