package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Survey.Timeout)
	assert.Equal(t, 250*time.Millisecond, cfg.Survey.ExitGrace)
	assert.Equal(t, 1, cfg.Gate.PerHost, "默认同一主机串行")
	assert.Equal(t, "stderr", cfg.Log.Output)
	mode, err := cfg.Survey.FileMode()
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0644), mode)
	assert.Same(t, cfg, Get())
}

func TestLoadFileAndEnv(t *testing.T) {
	t.Setenv("NETSURVEY_SURVEY_WORKERS", "3")
	t.Setenv("SWITCH_SECRET", "s3cret")
	path := writeConfig(t, `
survey:
  user: ops
  password: ${SWITCH_SECRET}
  perms: "0640"
  artifacts:
    brocade:
      run: running.cfg
devices:
  - host: sw1.example.org
    dialect: brocade
  - host: gw1
    dialect: cisco
    port: 2022
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Survey.Workers, "环境变量覆盖配置文件")
	assert.Equal(t, "s3cret", cfg.Survey.Password)
	assert.Equal(t, "ops", cfg.Survey.Credentials().Username)
	mode, err := cfg.Survey.FileMode()
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0640), mode)

	require.Len(t, cfg.Devices, 2)
	d, ok := cfg.DeviceFor("GW1")
	require.True(t, ok)
	assert.Equal(t, 2022, d.Port)
	_, ok = cfg.DeviceFor("missing")
	assert.False(t, ok)

	assert.Equal(t, ArtifactNames{Run: "running.cfg", Start: "startConfig"}, cfg.Survey.ArtifactsFor("brocade"))
	assert.Equal(t, ArtifactNames{Run: "running-config", Start: "startup-config"}, cfg.Survey.ArtifactsFor("arista"))
}

func TestLoadRejectsInvalid(t *testing.T) {
	_, err := Load(writeConfig(t, "devices:\n  - host: x\n    dialect: junos\n"))
	assert.Error(t, err, "未注册的方言")

	_, err = Load(writeConfig(t, "survey:\n  perms: \"999\"\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "transport:\n  ssh:\n    ciphers: [rot13]\n"))
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err, "显式指定的配置文件必须存在")
}
