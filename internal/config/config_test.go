package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 30*time.Second, cfg.Reserve.RetryTimeout)
	assert.Equal(t, 1.5, cfg.Reserve.Multiplier)
	assert.Equal(t, 5, cfg.Release.RetryCount)
	assert.Equal(t, "VIRTUAL", cfg.Classes.DefaultHardware)
	assert.Contains(t, cfg.Classes.OS, "ALL")
	assert.NoError(t, cfg.Validate())
}

func TestLoadFile(t *testing.T) {
	content := `
server: "rsvp2.pool"
port: 1753
user: "jdoe"
reserve:
  retry_timeout: 10s
  multiplier: 2.0
release:
  retry_count: 3
classes:
  hardware: ["PHYSICAL", "VIRTUAL", "BLADE"]
  default_hardware: "BLADE"
probe:
  taboo_processes: ["fio"]
notify:
  chat_webhook: "https://chat.example.com/hook"
`
	tmpfile, err := os.CreateTemp("", "rsvp-*.yaml")
	require.NoError(t, err)
	defer func() {
		_ = os.Remove(tmpfile.Name())
	}()

	_, err = tmpfile.Write([]byte(content))
	require.NoError(t, err)
	_ = tmpfile.Close()

	cfg, err := LoadFile(tmpfile.Name())
	require.NoError(t, err)

	assert.Equal(t, "rsvp2.pool", cfg.Server)
	assert.Equal(t, 1753, cfg.Port)
	assert.Equal(t, "jdoe", cfg.User)
	assert.Equal(t, 10*time.Second, cfg.Reserve.RetryTimeout)
	assert.Equal(t, 2.0, cfg.Reserve.Multiplier)
	assert.Equal(t, 3, cfg.Release.RetryCount)
	assert.Equal(t, "BLADE", cfg.Classes.DefaultHardware)
	assert.Equal(t, []string{"fio"}, cfg.Probe.TabooProcesses)
	assert.Equal(t, "https://chat.example.com/hook", cfg.Notify.ChatWebhook)

	// Untouched sections keep their defaults.
	assert.Equal(t, 15*time.Second, cfg.Release.RetryTimeout)
	assert.Equal(t, "CENTOS", cfg.Classes.DefaultOS)
}

func TestLoadFile_EmptyPath(t *testing.T) {
	cfg, err := LoadFile("")
	require.NoError(t, err)
	assert.Equal(t, Default().Reserve, cfg.Reserve)
}

func TestLoadFile_Invalid(t *testing.T) {
	content := `
reserve:
  multiplier: 0.5
`
	tmpfile, err := os.CreateTemp("", "rsvp-*.yaml")
	require.NoError(t, err)
	defer func() {
		_ = os.Remove(tmpfile.Name())
	}()
	_, err = tmpfile.Write([]byte(content))
	require.NoError(t, err)
	_ = tmpfile.Close()

	_, err = LoadFile(tmpfile.Name())
	assert.ErrorContains(t, err, "multiplier")
}
