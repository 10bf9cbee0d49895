package relay

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_EmptyPathUsesDefaults(t *testing.T) {
	config, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), config)
}

func TestLoadConfig_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	raw := "host: 0.0.0.0\nport: 9090\nwrite_timeout: 5s\nmax_room_connections: 16\n"
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", config.Host)
	assert.Equal(t, 9090, config.Port)
	assert.Equal(t, 5*time.Second, config.WriteTimeout)
	assert.Equal(t, 16, config.MaxRoomConnections)
	// Untouched keys keep their defaults.
	assert.Equal(t, DefaultConfig().SendQueueDepth, config.SendQueueDepth)
}

func TestLoadConfig_MissingFileFails(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadConfig_BadYAMLFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: [not a number"), 0o644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}
