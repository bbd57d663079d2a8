package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lherman-cs/bagextract/internal/bagtest"
)

func TestExtractImages(t *testing.T) {
	builder := bagtest.New()
	conn := builder.AddConnection("/camera/rgb/image_raw", bagtest.ImageType, bagtest.ImageMD5Sum, bagtest.ImageDefinition)
	for i := 0; i < 2; i++ {
		builder.AddMessage(conn, time.Unix(int64(i), 0), bagtest.SolidImage("bgr8", 2, 2, []byte{1, 2, 3}).Marshal())
	}
	bagPath := filepath.Join(t.TempDir(), "run.bag")
	require.NoError(t, builder.WriteFile(bagPath))
	out := t.TempDir()

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetArgs([]string{bagPath, out, "/camera/rgb/image_raw", "rgb8", "--log-level", "error", "--summary"})
	require.NoError(t, rootCmd.Execute())

	assert.FileExists(t, filepath.Join(out, "000000_rgb.png"))
	assert.FileExists(t, filepath.Join(out, "000001_rgb.png"))
	assert.Contains(t, stdout.String(), "/camera/rgb/image_raw")

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestExtractImagesArgs(t *testing.T) {
	rootCmd.SetArgs([]string{"run.bag", "out"})
	assert.Error(t, rootCmd.Execute())
}

func TestExtractImagesHelpEncodings(t *testing.T) {
	for _, encoding := range []string{"rgb16", "rgba16", "bgr16", "bgra16", "mono16", "16UC1", "32FC1", "passthrough"} {
		assert.Contains(t, rootCmd.Long, encoding)
	}
}
