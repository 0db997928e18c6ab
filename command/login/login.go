package login

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"cost-dashboard/command/app"
)

var errServicePrincipal = errors.New("a client secret is configured: the service principal needs no sign-in")

// Run signs in with the device-code flow and persists the session.
//
// Usage:
//
//	cost-dashboard login [-scope https://management.azure.com/.default]
func Run(args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	scope := fs.String("scope", "", "resource scope to consent to (defaults to billing.scope)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := app.Load()
	if err != nil {
		return err
	}
	if a.Device == nil {
		return errServicePrincipal
	}
	if *scope == "" {
		*scope = a.Config.Billing.Scope
	}

	session, err := a.Device.SignIn(context.Background(), *scope)
	if err != nil {
		slog.Error("login.error", "error", err)
		return err
	}
	fmt.Printf("Signed in as %s (%s)\n", session.DisplayName, session.PrincipalName)
	return nil
}

// RunLogout destroys the persisted session.
func RunLogout(args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("logout: no arguments expected")
	}
	a, err := app.Load()
	if err != nil {
		return err
	}
	if a.Device == nil {
		return errServicePrincipal
	}
	if err := a.Device.SignOut(); err != nil {
		return err
	}
	slog.Info("logout.done")
	fmt.Println("Signed out")
	return nil
}
