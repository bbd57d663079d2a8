package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTempConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFile_ValidConfig(t *testing.T) {
	configContent := `
bag_file: "run.bag"
output_dir: "frames"
image_topic: "/camera/depth/image_raw"
encoding: "16UC1"
summary: true

logging:
  level: "debug"
  format: "json"
`

	config, err := LoadFile(createTempConfigFile(t, configContent))

	require.NoError(t, err)
	assert.Equal(t, "run.bag", config.BagFile)
	assert.Equal(t, "frames", config.OutputDir)
	assert.Equal(t, "/camera/depth/image_raw", config.Topic)
	assert.Equal(t, "16UC1", config.Encoding)
	assert.True(t, config.Summary)
	assert.Equal(t, "debug", config.Logging.Level)
	assert.Equal(t, "json", config.Logging.Format)
	assert.NoError(t, config.Validate())
}

func TestLoadFile_WithDefaults(t *testing.T) {
	config, err := LoadFile(createTempConfigFile(t, "summary: false\n"))

	require.NoError(t, err)
	assert.Equal(t, "info", config.Logging.Level)
	assert.Equal(t, "console", config.Logging.Format)
	// the encoding is never guessed
	assert.Empty(t, config.Encoding)
}

func TestLoadFile_NoFile(t *testing.T) {
	config, err := LoadFile("")

	require.NoError(t, err)
	assert.Equal(t, "info", config.Logging.Level)
}

func TestLoadFile_Errors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadFile(createTempConfigFile(t, "logging: [not, a, map]\n"))
	assert.Error(t, err)
}

func TestSetArgs(t *testing.T) {
	config, err := LoadFile("")
	require.NoError(t, err)

	require.NoError(t, config.SetArgs([]string{"in.bag", "out", "/camera/rgb/image", "bgr8"}))
	assert.Equal(t, "in.bag", config.BagFile)
	assert.Equal(t, "out", config.OutputDir)
	assert.Equal(t, "/camera/rgb/image", config.Topic)
	assert.Equal(t, "bgr8", config.Encoding)
	assert.NoError(t, config.Validate())

	assert.Error(t, config.SetArgs([]string{"in.bag", "out", "/camera/rgb/image"}))
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			BagFile:   "in.bag",
			OutputDir: "out",
			Topic:     "/camera/rgb/image",
			Encoding:  "bgr8",
			Logging:   LoggingConfig{Level: "info", Format: "console"},
		}
	}

	testCases := []struct {
		Name   string
		Modify func(*Config)
	}{
		{Name: "Missing Bag", Modify: func(c *Config) { c.BagFile = "" }},
		{Name: "Missing Output", Modify: func(c *Config) { c.OutputDir = "" }},
		{Name: "Missing Topic", Modify: func(c *Config) { c.Topic = "" }},
		{Name: "Missing Encoding", Modify: func(c *Config) { c.Encoding = "" }},
		{Name: "Bad Level", Modify: func(c *Config) { c.Logging.Level = "verbose" }},
		{Name: "Bad Format", Modify: func(c *Config) { c.Logging.Format = "xml" }},
	}

	require.NoError(t, valid().Validate())
	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.Name, func(t *testing.T) {
			config := valid()
			testCase.Modify(config)
			assert.Error(t, config.Validate())
		})
	}
}
