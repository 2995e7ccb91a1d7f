package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/universal-ai/gateway/internal/models"
)

func TestFileSnapshot_SaveAndLoad(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keys")
	snap := NewFileSnapshot(dir)
	ctx := context.Background()

	used := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	first := newKey("api_first", 5)
	second := newKey("api_second", 0)
	second.CreatedAt = first.CreatedAt.Add(time.Hour)
	second.UsageCount = 3
	second.LastUsed = &used
	second.DailyLimit = 30
	second.ExpiresAt = &used
	second.DailyReset = &models.DailyReset{Day: "2024-03-01", Base: 2}

	require.NoError(t, snap.Save(ctx, []*models.APIKey{second, first}))

	keys, err := snap.Load(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 2)

	assert.Equal(t, "api_first", keys[0].Key)
	assert.Equal(t, int64(5), keys[0].Credits)
	assert.Nil(t, keys[0].LastUsed)

	assert.Equal(t, "api_second", keys[1].Key)
	assert.Equal(t, int64(3), keys[1].UsageCount)
	require.NotNil(t, keys[1].LastUsed)
	assert.True(t, used.Equal(*keys[1].LastUsed))
	assert.Equal(t, int64(30), keys[1].DailyLimit)
	require.NotNil(t, keys[1].ExpiresAt)
	assert.True(t, used.Equal(*keys[1].ExpiresAt))
	assert.Equal(t, second.DailyReset, keys[1].DailyReset)

	info, err := os.Stat(filepath.Join(dir, "api_first.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestFileSnapshot_LoadMissingDirectory(t *testing.T) {
	snap := NewFileSnapshot(filepath.Join(t.TempDir(), "absent"))

	keys, err := snap.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestFileSnapshot_LoadRejectsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{not json"), 0600))

	_, err := NewFileSnapshot(dir).Load(context.Background())
	assert.Error(t, err)
}

func TestFileSnapshot_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0755))

	keys, err := NewFileSnapshot(dir).Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestKeyFilename(t *testing.T) {
	assert.Equal(t, "api_abc.json", keyFilename("api_abc"))
	assert.Equal(t, "~Li4vZXRjL3Bhc3N3ZA.json", keyFilename("../etc/passwd"))
	assert.NotEqual(t, keyFilename("a/b"), keyFilename("a_b"))
	assert.NotContains(t, keyFilename("a/b:c"), "/")
}

func TestFileSnapshot_SimilarKeysKeepSeparateFiles(t *testing.T) {
	dir := t.TempDir()
	snap := NewFileSnapshot(dir)
	ctx := context.Background()

	slash := newKey("a/b", 1)
	underscore := newKey("a_b", 2)
	underscore.CreatedAt = slash.CreatedAt.Add(time.Second)
	require.NoError(t, snap.Save(ctx, []*models.APIKey{slash, underscore}))

	keys, err := snap.Load(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, "a/b", keys[0].Key)
	assert.Equal(t, int64(1), keys[0].Credits)
	assert.Equal(t, "a_b", keys[1].Key)
	assert.Equal(t, int64(2), keys[1].Credits)
}
