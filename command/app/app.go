// Package app builds the credential store and pipeline the subcommands share.
package app

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"cost-dashboard/connectors/azure"
	"cost-dashboard/connectors/azuread"
	"cost-dashboard/connectors/billing"
	"cost-dashboard/connectors/config"
	"cost-dashboard/domain/auth"
	"cost-dashboard/domain/pipeline"
)

// Store is a credential store that also knows who is signed in.
type Store interface {
	auth.CredentialStore
	Current() (*auth.Session, error)
}

// App is everything a subcommand needs to run a query.
type App struct {
	Config   *config.Config
	Store    Store
	Pipeline *pipeline.Pipeline
	// Device is set when the store is the interactive device-code store.
	Device *azuread.DeviceCodeStore
}

type servicePrincipal struct{ *azuread.ServicePrincipalStore }

func (s servicePrincipal) Current() (*auth.Session, error) { return s.Session(), nil }

// Load reads the configuration from CONFIG_PATH and builds an App.
func Load() (*App, error) {
	cfg, err := config.Load(config.Path())
	if err != nil {
		return nil, err
	}
	return New(cfg, nil)
}

// New builds an App from cfg. httpClient defaults to one using the
// configured timeout.
func New(cfg *config.Config, httpClient *http.Client) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.HTTPTimeout()}
	}

	a := &App{Config: cfg}
	if cfg.Azure.ClientSecret != "" {
		sp, err := azuread.NewServicePrincipalStore(cfg.Azure.Authority, cfg.Azure.TenantID, cfg.Azure.ClientID, cfg.Azure.ClientSecret, httpClient)
		if err != nil {
			return nil, err
		}
		a.Store = servicePrincipal{sp}
	} else {
		dc, err := azuread.NewDeviceCodeStore(azuread.Options{
			TenantID:    cfg.Azure.TenantID,
			ClientID:    cfg.Azure.ClientID,
			Authority:   cfg.Azure.Authority,
			SessionPath: cfg.Session.Path,
			HTTPClient:  httpClient,
		})
		if err != nil {
			return nil, err
		}
		a.Store = dc
		a.Device = dc
	}

	var fetcher pipeline.Fetcher
	switch cfg.Billing.Mode {
	case config.ModeDirect:
		fetcher = azure.NewClient(httpClient, cfg.Billing.ManagementURL)
	default:
		var opts []billing.Option
		if cfg.Billing.SingleAccount {
			opts = append(opts, billing.WithSingleAccount())
		}
		fetcher = billing.New(httpClient, cfg.BaseURL(), opts...)
	}
	a.Pipeline = pipeline.New(auth.NewAcquirer(a.Store), fetcher, cfg.Billing.Scope)

	slog.Debug("app.ready", "environment", cfg.Environment, "mode", cfg.Billing.Mode, "service_principal", a.Device == nil)
	return a, nil
}

// Session returns the signed-in session, or nil.
func (a *App) Session() (*auth.Session, error) {
	return a.Store.Current()
}

// RequireSession is Session with a friendlier error for the CLI.
func (a *App) RequireSession() (*auth.Session, error) {
	s, err := a.Session()
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, errors.New("not signed in: run `cost-dashboard login` first")
	}
	return s, nil
}

// SplitList splits a comma-separated flag value, dropping blanks.
func SplitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
