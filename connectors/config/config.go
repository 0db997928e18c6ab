package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"cost-dashboard/domain/auth"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	ModeProxy  = "proxy"
	ModeDirect = "direct"

	defaultDevBaseURL  = "http://localhost:7071/api"
	defaultProdBaseURL = "https://func-azure-monitoring-demo.azurewebsites.net/api"
	defaultAuthority   = "https://login.microsoftonline.com"
)

var (
	ErrMissingTenant      = errors.New("tenant id is required (azure.tenant_id or AZURE_TENANT_ID)")
	ErrMissingClientID    = errors.New("client id is required (azure.client_id or AZURE_CLIENT_ID)")
	ErrProviderNotReady   = errors.New("provider is not implemented yet")
	ErrUnknownProvider    = errors.New("unknown provider")
	ErrUnknownMode        = errors.New("unknown billing mode")
	ErrUnknownEnvironment = errors.New("unknown environment")
)

// Config represents the structure of config.yml used by the tool.
type Config struct {
	Environment string `yaml:"environment"`
	Provider    string `yaml:"provider"`

	API struct {
		DevelopmentBaseURL string `yaml:"development_base_url"`
		ProductionBaseURL  string `yaml:"production_base_url"`
		Timeout            string `yaml:"timeout"`
	} `yaml:"api"`

	Billing struct {
		Mode          string `yaml:"mode"`
		Scope         string `yaml:"scope"`
		SingleAccount bool   `yaml:"single_account"`
		ManagementURL string `yaml:"management_url"`
	} `yaml:"billing"`

	Azure struct {
		TenantID     string `yaml:"tenant_id"`
		ClientID     string `yaml:"client_id"`
		ClientSecret string `yaml:"client_secret"`
		Authority    string `yaml:"authority"`
	} `yaml:"azure"`

	Session struct {
		Path string `yaml:"path"`
	} `yaml:"session"`

	Web struct {
		Addr  string `yaml:"addr"`
		UIDir string `yaml:"ui_dir"`
	} `yaml:"web"`
}

// Path resolves the config file location from CONFIG_PATH.
func Path() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "./config.yml"
}

// Default returns a Config with every optional field filled in.
func Default() *Config {
	var c Config
	c.applyDefaults()
	return &c
}

// Load parses the YAML configuration file at path, then applies environment
// overrides and defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	var c Config
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		slog.Info(fmt.Sprintf("Loaded config: %s", path))
	case errors.Is(err, os.ErrNotExist):
		slog.Debug("config.file.missing", "path", path)
	default:
		return nil, err
	}
	c.applyEnv()
	c.applyDefaults()
	return &c, nil
}

func (c *Config) applyEnv() {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.Environment, "APP_ENV")
	set(&c.Azure.TenantID, "AZURE_TENANT_ID")
	set(&c.Azure.ClientID, "AZURE_CLIENT_ID")
	set(&c.Azure.ClientSecret, "AZURE_CLIENT_SECRET")
	set(&c.Billing.Scope, "BILLING_SCOPE")
	set(&c.Billing.Mode, "BILLING_MODE")
	set(&c.Session.Path, "SESSION_PATH")
	if v := strings.TrimSpace(os.Getenv("BILLING_API_BASE_URL")); v != "" {
		if c.Environment == EnvDevelopment {
			c.API.DevelopmentBaseURL = v
		} else {
			c.API.ProductionBaseURL = v
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Environment == "" {
		c.Environment = EnvProduction
	}
	if c.Provider == "" {
		c.Provider = "azure"
	}
	if c.API.DevelopmentBaseURL == "" {
		c.API.DevelopmentBaseURL = defaultDevBaseURL
	}
	if c.API.ProductionBaseURL == "" {
		c.API.ProductionBaseURL = defaultProdBaseURL
	}
	if c.Billing.Mode == "" {
		c.Billing.Mode = ModeProxy
	}
	if c.Billing.Scope == "" {
		c.Billing.Scope = auth.DefaultScope
	}
	if c.Azure.Authority == "" {
		c.Azure.Authority = defaultAuthority
	}
	if c.Web.Addr == "" {
		c.Web.Addr = ":8080"
	}
	if c.Web.UIDir == "" {
		c.Web.UIDir = "./ui/dist"
	}
}

// Validate checks the fields every command needs.
func (c *Config) Validate() error {
	switch c.Provider {
	case "azure":
	case "aws", "gcp":
		return fmt.Errorf("%w: %s", ErrProviderNotReady, c.Provider)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownProvider, c.Provider)
	}
	switch c.Environment {
	case EnvDevelopment, EnvProduction:
	default:
		return fmt.Errorf("%w: %s", ErrUnknownEnvironment, c.Environment)
	}
	switch c.Billing.Mode {
	case ModeProxy, ModeDirect:
	default:
		return fmt.Errorf("%w: %s", ErrUnknownMode, c.Billing.Mode)
	}
	if c.Azure.TenantID == "" {
		return ErrMissingTenant
	}
	if c.Azure.ClientID == "" {
		return ErrMissingClientID
	}
	return nil
}

// BaseURL picks the dashboard API base for the configured environment.
func (c *Config) BaseURL() string {
	if c.Environment == EnvDevelopment {
		return c.API.DevelopmentBaseURL
	}
	return c.API.ProductionBaseURL
}

// HTTPTimeout parses api.timeout, defaulting to 30s.
func (c *Config) HTTPTimeout() time.Duration {
	if c.API.Timeout == "" {
		return 30 * time.Second
	}
	d, err := time.ParseDuration(c.API.Timeout)
	if err != nil || d <= 0 {
		slog.Warn("config.timeout.invalid", "value", c.API.Timeout)
		return 30 * time.Second
	}
	return d
}
