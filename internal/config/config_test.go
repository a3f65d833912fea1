package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoad_YAMLOverDefaults(t *testing.T) {
	p := writeFile(t, "lc.yaml", `
log:
  level: debug
server:
  database_dsn: postgres://x
  token_ttl: 90m
  send_rate:
    rps: 2.5
client:
  page_size: 20
`)
	cfg, err := Load(p)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, "postgres://x", cfg.Server.DatabaseDSN)
	require.Equal(t, 90*time.Minute, cfg.Server.TokenTTL)
	require.Equal(t, 2.5, cfg.Server.SendRate.RPS)
	require.Equal(t, 10, cfg.Server.SendRate.Burst, "untouched default")
	require.Equal(t, 20, cfg.Client.PageSize)
	require.Equal(t, ":8443", cfg.Server.GRPCAddr)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.ErrorContains(t, err, "config file not found")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	p := writeFile(t, "lc.yaml", "client:\n  addr: file:1\n  page_size: 20\n")
	t.Setenv("LEAGUECHAT_ADDR", "env:2")
	t.Setenv("LEAGUECHAT_PLAINTEXT", "true")
	t.Setenv("LEAGUECHAT_RECONNECT_EVERY", "750ms")

	cfg, err := Load(p)
	require.NoError(t, err)
	require.Equal(t, "env:2", cfg.Client.Addr)
	require.True(t, cfg.Client.Plaintext)
	require.Equal(t, 750*time.Millisecond, cfg.Client.ReconnectEvery)
	require.Equal(t, 20, cfg.Client.PageSize)
}

func TestLoad_DotEnv(t *testing.T) {
	env := writeFile(t, ".env", "LEAGUECHAT_JWT_SECRET=from-dotenv\nLEAGUECHAT_SEND_BURST=3\n")
	t.Setenv("LEAGUECHAT_SEND_BURST", "7")
	t.Cleanup(func() { _ = os.Unsetenv("LEAGUECHAT_JWT_SECRET") })

	cfg, err := Load("", env, filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)
	require.Equal(t, "from-dotenv", cfg.Server.JWTSecret)
	require.Equal(t, 7, cfg.Server.SendRate.Burst, "process env wins over .env")
}

func TestApplyEnv_BadValue(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(func(k string) (string, bool) {
		if k == "LEAGUECHAT_PAGE_SIZE" {
			return "many", true
		}
		return "", false
	})
	require.ErrorContains(t, err, "LEAGUECHAT_PAGE_SIZE")
}

func TestServerValidate(t *testing.T) {
	s := Default().Server
	err := s.Validate()
	require.ErrorContains(t, err, "database_dsn")
	require.ErrorContains(t, err, "jwt_secret")

	s.DatabaseDSN, s.JWTSecret = "dsn", "k"
	require.NoError(t, s.Validate())

	s.TLS.CertFile = "c.pem"
	require.ErrorContains(t, s.Validate(), "tls")
}

func TestClientValidate(t *testing.T) {
	c := Default().Client
	require.NoError(t, c.Validate())
	c.PageSize = 0
	require.Error(t, c.Validate())
}
