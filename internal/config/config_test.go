package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MinimalFlagsProducesDefaults(t *testing.T) {
	cfg, err := Load([]string{"--database-url", "postgres://localhost/nc", "--nextcloud-url", "https://cloud.example.com"})
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost/nc", cfg.DatabaseURL)
	assert.Equal(t, "oc_", cfg.DatabasePrefix)
	assert.Equal(t, "https://cloud.example.com/", cfg.NextcloudURL)
	assert.Equal(t, "0.0.0.0:7867", cfg.Bind.TCPAddress)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 15, cfg.MaxDebounceTime)
	assert.Equal(t, 0, cfg.MaxConnectionTime)
	assert.False(t, cfg.AllowSelfSigned)
	assert.Nil(t, cfg.MetricsBind)
	assert.Nil(t, cfg.TLS)
}

func TestLoad_MissingDatabaseURLFails(t *testing.T) {
	_, err := Load([]string{"--nextcloud-url", "https://cloud.example.com"})
	require.Error(t, err)
}

func TestLoad_MissingNextcloudURLFails(t *testing.T) {
	_, err := Load([]string{"--database-url", "postgres://localhost/nc"})
	require.Error(t, err)
}

func TestLoad_CLIFlagOverridesEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env/nc")
	t.Setenv("NEXTCLOUD_URL", "https://env.example.com")

	cfg, err := Load([]string{"--database-url", "postgres://cli/nc"})
	require.NoError(t, err)

	assert.Equal(t, "postgres://cli/nc", cfg.DatabaseURL)
	assert.Equal(t, "https://env.example.com/", cfg.NextcloudURL)
}

func TestLoad_EnvOverridesConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database_prefix: file_\nport: 9001\n"), 0o644))

	t.Setenv("DATABASE_PREFIX", "env_")

	cfg, err := Load([]string{"--database-url", "postgres://localhost/nc", "--nextcloud-url", "https://cloud.example.com", path})
	require.NoError(t, err)

	assert.Equal(t, "env_", cfg.DatabasePrefix)
	assert.Equal(t, "0.0.0.0:9001", cfg.Bind.TCPAddress)
}

func TestLoad_UnixSocketBindWithDefaultPermissions(t *testing.T) {
	cfg, err := Load([]string{
		"--database-url", "postgres://localhost/nc",
		"--nextcloud-url", "https://cloud.example.com",
		"--socket-path", "/run/notify-push.sock",
	})
	require.NoError(t, err)

	assert.True(t, cfg.Bind.IsUnix())
	assert.Equal(t, "/run/notify-push.sock", cfg.Bind.UnixPath)
	assert.Equal(t, uint32(0o666), cfg.Bind.UnixPermission)
}

func TestLoad_SocketPermissionsMustBeFourOctalDigits(t *testing.T) {
	_, err := Load([]string{
		"--database-url", "postgres://localhost/nc",
		"--nextcloud-url", "https://cloud.example.com",
		"--socket-path", "/run/notify-push.sock",
		"--socket-permissions", "660",
	})
	require.Error(t, err)

	cfg, err := Load([]string{
		"--database-url", "postgres://localhost/nc",
		"--nextcloud-url", "https://cloud.example.com",
		"--socket-path", "/run/notify-push.sock",
		"--socket-permissions", "0660",
	})
	require.NoError(t, err)
	assert.Equal(t, uint32(0o660), cfg.Bind.UnixPermission)
}

func TestLoad_TLSRequiresBothCertAndKey(t *testing.T) {
	cfg, err := Load([]string{
		"--database-url", "postgres://localhost/nc",
		"--nextcloud-url", "https://cloud.example.com",
		"--tls-cert", "/etc/tls/cert.pem",
	})
	require.NoError(t, err)
	assert.Nil(t, cfg.TLS)

	cfg, err = Load([]string{
		"--database-url", "postgres://localhost/nc",
		"--nextcloud-url", "https://cloud.example.com",
		"--tls-cert", "/etc/tls/cert.pem",
		"--tls-key", "/etc/tls/key.pem",
	})
	require.NoError(t, err)
	require.NotNil(t, cfg.TLS)
	assert.Equal(t, "/etc/tls/cert.pem", cfg.TLS.Cert)
	assert.Equal(t, "/etc/tls/key.pem", cfg.TLS.Key)
}

func TestLoad_NextcloudURLAlreadyTrailingSlash(t *testing.T) {
	cfg, err := Load([]string{
		"--database-url", "postgres://localhost/nc",
		"--nextcloud-url", "https://cloud.example.com/",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://cloud.example.com/", cfg.NextcloudURL)
}

func TestLoad_MetricsPortProducesSeparateBind(t *testing.T) {
	cfg, err := Load([]string{
		"--database-url", "postgres://localhost/nc",
		"--nextcloud-url", "https://cloud.example.com",
		"--metrics-port", "9100",
	})
	require.NoError(t, err)
	require.NotNil(t, cfg.MetricsBind)
	assert.Equal(t, "0.0.0.0:9100", cfg.MetricsBind.TCPAddress)
}
