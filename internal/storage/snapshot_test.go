package storage

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.RGBA{R: 10, G: 20, B: 30, A: 255})
		}
	}
	return img
}

func TestSaveAlertFrameWritesTimestampedFile(t *testing.T) {
	store, err := NewSnapshotStore(t.TempDir(), nil)
	require.NoError(t, err)

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	path, err := store.SaveAlertFrame("outletA", "cam1", testImage(), at)
	require.NoError(t, err)
	assert.Equal(t, "20260102_030405_absent_outletA_cam1.jpg", filepath.Base(path))
	assertExists(t, path)
}

func TestSaveLatestFaceRateLimitedPerSecond(t *testing.T) {
	store, err := NewSnapshotStore(t.TempDir(), nil)
	require.NoError(t, err)

	path1, wrote1, err := store.SaveLatestFace("cam1", "t1", testImage(), 100.0)
	require.NoError(t, err)
	assert.True(t, wrote1)
	assertExists(t, path1)

	_, wrote2, err := store.SaveLatestFace("cam1", "t1", testImage(), 100.4)
	require.NoError(t, err)
	assert.False(t, wrote2, "within the 1s window, the second write should be suppressed")

	path3, wrote3, err := store.SaveLatestFace("cam1", "t1", testImage(), 101.1)
	require.NoError(t, err)
	assert.True(t, wrote3)
	assertExists(t, path3)
}

func TestSaveLatestFaceIndependentPerTarget(t *testing.T) {
	store, err := NewSnapshotStore(t.TempDir(), nil)
	require.NoError(t, err)

	_, wroteA, err := store.SaveLatestFace("cam1", "alice", testImage(), 10.0)
	require.NoError(t, err)
	_, wroteB, err := store.SaveLatestFace("cam1", "bob", testImage(), 10.1)
	require.NoError(t, err)
	assert.True(t, wroteA)
	assert.True(t, wroteB)
}

func TestSweepDisabledWhenRetentionNonPositive(t *testing.T) {
	store, err := NewSnapshotStore(t.TempDir(), nil)
	require.NoError(t, err)

	_, err = store.SaveAlertFrame("o", "cam1", testImage(), time.Now())
	require.NoError(t, err)

	result, err := store.Sweep(0, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, result.FilesDeleted)
}

func TestSweepDeletesOnlyExpiredFiles(t *testing.T) {
	store, err := NewSnapshotStore(t.TempDir(), nil)
	require.NoError(t, err)

	oldPath, err := store.SaveAlertFrame("o", "cam1", testImage(), time.Now())
	require.NoError(t, err)
	oldInfo, err := os.Stat(oldPath)
	require.NoError(t, err)

	old := time.Now().Add(-30 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(oldPath, old, old))

	freshPath, wrote, err := store.SaveLatestFace("cam1", "t1", testImage(), 1000.0)
	require.NoError(t, err)
	require.True(t, wrote)

	result, err := store.Sweep(7, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, result.FilesDeleted)
	assert.Equal(t, oldInfo.Size(), result.BytesFreed)

	assertMissing(t, oldPath)
	assertExists(t, freshPath)
}

func assertExists(t *testing.T, path string) {
	t.Helper()
	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func assertMissing(t *testing.T, path string) {
	t.Helper()
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
