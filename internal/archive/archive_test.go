package archive

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFrame(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 4), B: 90, A: 0xFF})
		}
	}
	return img
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestFormatTimestamp(t *testing.T) {
	ts := time.Date(2024, 3, 1, 9, 5, 7, 123456000, time.Local)
	assert.Equal(t, "20240301_090507_123456", FormatTimestamp(ts))

	parsed, ok := ParseTimestamp("20240301_090507_123456_step1_rep0_ok.png")
	require.True(t, ok)
	assert.True(t, parsed.Equal(ts))

	_, ok = ParseTimestamp("short.png")
	assert.False(t, ok)
	_, ok = ParseTimestamp("notatimestamp_at_all_really.png")
	assert.False(t, ok)
}

func TestSanitizeTag(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"step0_rep1_ok", "step0_rep1_ok"},
		{"step0_rep1_Start Button", "step0_rep1_Start-Button"},
		{"a/b\\c", "a-b-c"},
		{"  ", "untagged"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeTag(tt.in))
		})
	}
}

func TestSave(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "screenshots")
	ts := time.Date(2024, 3, 1, 9, 5, 7, 1000, time.Local)
	a := New(dir, nil).WithClock(fixedClock(ts))

	frame := testFrame(64, 32)
	path, thumb, err := a.Save(frame, "step2_rep0_ok")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "20240301_090507_000001_step2_rep0_ok.png"), path)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	decoded, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, frame.Bounds(), decoded.Bounds())

	require.NotEmpty(t, thumb)
	small, err := png.Decode(bytes.NewReader(thumb))
	require.NoError(t, err)
	assert.LessOrEqual(t, small.Bounds().Dx(), DefaultThumbnailSize)
	assert.LessOrEqual(t, small.Bounds().Dy(), DefaultThumbnailSize)
}

func TestSaveThumbnailBounds(t *testing.T) {
	a := New(t.TempDir(), nil).WithThumbnailSize(16)

	_, thumb, err := a.Save(testFrame(64, 32), "wide")
	require.NoError(t, err)

	small, err := png.Decode(bytes.NewReader(thumb))
	require.NoError(t, err)
	assert.Equal(t, 16, small.Bounds().Dx())
	assert.Equal(t, 8, small.Bounds().Dy())
}

func TestSaveWithoutThumbnail(t *testing.T) {
	a := New(t.TempDir(), nil).WithThumbnailSize(0)

	path, thumb, err := a.Save(testFrame(8, 8), "tag")
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Nil(t, thumb)
}

func TestSaveSameInstant(t *testing.T) {
	dir := t.TempDir()
	a := New(dir, nil).WithClock(fixedClock(time.Date(2024, 3, 1, 9, 5, 7, 0, time.Local)))

	first, _, err := a.Save(testFrame(4, 4), "x")
	require.NoError(t, err)
	second, _, err := a.Save(testFrame(4, 4), "x")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	files, err := a.List()
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestSaveNilFrame(t *testing.T) {
	a := New(t.TempDir(), nil)
	_, _, err := a.Save(nil, "x")
	assert.Error(t, err)
}

func TestPrune(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.Local)

	old := New(dir, nil).WithClock(fixedClock(now.Add(-48 * time.Hour)))
	_, _, err := old.Save(testFrame(4, 4), "old")
	require.NoError(t, err)

	recent := New(dir, nil).WithClock(fixedClock(now.Add(-time.Hour)))
	keep, _, err := recent.Save(testFrame(4, 4), "recent")
	require.NoError(t, err)

	// Files that do not follow the naming scheme are left alone
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manual.png"), []byte("x"), 0644))

	a := New(dir, nil).WithClock(fixedClock(now))
	removed, err := a.Prune(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	files, err := a.List()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{keep, filepath.Join(dir, "manual.png")}, files)
}
