package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
backend:
  base_url: http://localhost:8000
wizard:
  base_fee_amount: 1500
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8000", cfg.Backend.BaseURL)
	assert.Equal(t, 1500, cfg.Wizard.BaseFeeAmount)

	// Defaults fill everything the file leaves out.
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, 1800, cfg.Wizard.SessionTTL)
	assert.Equal(t, "PhD Admission Fee", cfg.Gateway.ProductInfo)
}

func TestLoadFromFileMissingPath(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestGetDuration(t *testing.T) {
	assert.Equal(t, 15*time.Second, GetDuration(15000))
}
