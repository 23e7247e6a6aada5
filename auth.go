package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/dbxlink/internal/config"
)

func newLoginCmd() *cobra.Command {
	var clientID string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to Dropbox in the browser",
		Long: `Sign in to Dropbox using the OAuth2 authorization code flow with PKCE.

Any stored credential is discarded first. With --client-id, the Dropbox app
key is saved to the config file before signing in.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLogin(cmd.Context(), mustCLIContext(cmd.Context()), clientID, sessionOptions{})
		},
	}

	cmd.Flags().StringVar(&clientID, "client-id", "", "Dropbox app key to save in the config file")

	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored Dropbox credential",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLogout(mustCLIContext(cmd.Context()))
		},
	}
}

func runLogin(ctx context.Context, cc *CLIContext, clientID string, opts sessionOptions) error {
	if clientID != "" {
		if err := config.SetKey(cc.Cfg.ConfigPath, "auth", "client_id", clientID); err != nil {
			return fmt.Errorf("saving client ID: %w", err)
		}

		cc.Cfg.ClientID = clientID
		cc.Statusf("Saved app key to %s\n", cc.Cfg.ConfigPath)
	}

	if cc.Cfg.ClientID == "" {
		return fmt.Errorf("no Dropbox app key configured; run 'dbxlink login --client-id KEY' or set %s", config.EnvClientID)
	}

	sess := NewSession(cc, opts)

	cc.Logger.Info("login started")

	if err := sess.Auth.ForceReauthenticate(ctx); err != nil {
		return err
	}

	acct, err := sess.Client.GetCurrentAccount(ctx)
	if err != nil {
		return fmt.Errorf("fetching account: %w", err)
	}

	cc.Logger.Info("login successful")

	if cc.Flags.JSON {
		return printJSON(cc.Out, newAccountOutput(acct))
	}

	fmt.Fprintf(cc.Out, "Logged in as %s (%s)\n", acct.DisplayName, acct.Email)

	return nil
}

func runLogout(cc *CLIContext) error {
	sess := NewSession(cc, sessionOptions{silent: true})

	if !sess.Auth.HasRefreshCredential() {
		cc.Statusf("Not logged in.\n")
		return nil
	}

	if err := sess.Auth.Logout(); err != nil {
		return fmt.Errorf("removing credential from %s: %w", sess.Store.Path(), err)
	}

	cc.Statusf("Logged out.\n")

	return nil
}
