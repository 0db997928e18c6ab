package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cost-dashboard/domain/auth"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"APP_ENV", "AZURE_TENANT_ID", "AZURE_CLIENT_ID", "AZURE_CLIENT_SECRET", "BILLING_SCOPE", "BILLING_MODE", "BILLING_API_BASE_URL", "SESSION_PATH"} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
environment: development
api:
  development_base_url: http://localhost:4280/api
  timeout: 5s
billing:
  mode: direct
  single_account: true
azure:
  tenant_id: tenant-1
  client_id: client-1
`)

	c, err := Load(path)

	require.NoError(t, err)
	require.NoError(t, c.Validate())
	assert.Equal(t, "http://localhost:4280/api", c.BaseURL())
	assert.Equal(t, ModeDirect, c.Billing.Mode)
	assert.True(t, c.Billing.SingleAccount)
	assert.Equal(t, auth.DefaultScope, c.Billing.Scope)
	assert.Equal(t, 5*time.Second, c.HTTPTimeout())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)

	c, err := Load(filepath.Join(t.TempDir(), "nope.yml"))

	require.NoError(t, err)
	assert.Equal(t, EnvProduction, c.Environment)
	assert.Equal(t, defaultProdBaseURL, c.BaseURL())
	assert.Equal(t, ModeProxy, c.Billing.Mode)
	assert.Equal(t, 30*time.Second, c.HTTPTimeout())
	assert.ErrorIs(t, c.Validate(), ErrMissingTenant)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_ENV", "development")
	t.Setenv("AZURE_TENANT_ID", "env-tenant")
	t.Setenv("AZURE_CLIENT_ID", "env-client")
	t.Setenv("BILLING_API_BASE_URL", "http://127.0.0.1:9999/api")
	path := writeConfig(t, "azure:\n  tenant_id: file-tenant\n")

	c, err := Load(path)

	require.NoError(t, err)
	require.NoError(t, c.Validate())
	assert.Equal(t, "env-tenant", c.Azure.TenantID)
	assert.Equal(t, "http://127.0.0.1:9999/api", c.BaseURL())
}

func TestLoad_InvalidYAML(t *testing.T) {
	clearEnv(t)
	_, err := Load(writeConfig(t, "environment: [oops"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		c := Default()
		c.Azure.TenantID = "t"
		c.Azure.ClientID = "c"
		return c
	}
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   error
	}{
		{"valid", func(c *Config) {}, nil},
		{"gcp not implemented", func(c *Config) { c.Provider = "gcp" }, ErrProviderNotReady},
		{"aws not implemented", func(c *Config) { c.Provider = "aws" }, ErrProviderNotReady},
		{"unknown provider", func(c *Config) { c.Provider = "oracle" }, ErrUnknownProvider},
		{"unknown mode", func(c *Config) { c.Billing.Mode = "magic" }, ErrUnknownMode},
		{"unknown environment", func(c *Config) { c.Environment = "staging" }, ErrUnknownEnvironment},
		{"missing client", func(c *Config) { c.Azure.ClientID = "" }, ErrMissingClientID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			err := c.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestHTTPTimeout_Invalid(t *testing.T) {
	c := Default()
	c.API.Timeout = "soon"
	assert.Equal(t, 30*time.Second, c.HTTPTimeout())
}
