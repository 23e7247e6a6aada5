package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/dbxlink/internal/dropbox"
)

// Credential states for status reporting.
const (
	credentialStored  = "stored"
	credentialMissing = "missing"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the credential, Dropbox folder, and account",
		Long: `Display the stored credential state, the local Dropbox folder, and the
signed-in account. Never opens the browser: if the stored credential cannot
be refreshed, the account is reported as unavailable.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), mustCLIContext(cmd.Context()))
		},
	}
}

// accountOutput is the JSON schema of an account.
type accountOutput struct {
	AccountID       string `json:"account_id"`
	DisplayName     string `json:"display_name"`
	Email           string `json:"email"`
	RootNamespaceID string `json:"root_namespace_id,omitempty"`
	HomeNamespaceID string `json:"home_namespace_id,omitempty"`
	TeamSpace       bool   `json:"team_space"`
}

func newAccountOutput(a *dropbox.Account) *accountOutput {
	return &accountOutput{
		AccountID:       a.AccountID,
		DisplayName:     a.DisplayName,
		Email:           a.Email,
		RootNamespaceID: a.RootNamespaceID,
		HomeNamespaceID: a.HomeNamespaceID,
		TeamSpace:       a.TeamSpace(),
	}
}

// statusOutput is the JSON schema for `status --json`.
type statusOutput struct {
	ConfigPath     string         `json:"config_path"`
	ConfigExists   bool           `json:"config_exists"`
	CredentialPath string         `json:"credential_path"`
	Credential     string         `json:"credential"`
	DropboxDir     string         `json:"dropbox_dir,omitempty"`
	DropboxDirErr  string         `json:"dropbox_dir_error,omitempty"`
	PathRoot       string         `json:"path_root"`
	Account        *accountOutput `json:"account,omitempty"`
	AccountErr     string         `json:"account_error,omitempty"`
}

func runStatus(ctx context.Context, cc *CLIContext) error {
	out := statusOutput{
		ConfigPath:     cc.Cfg.ConfigPath,
		CredentialPath: cc.Cfg.CredentialPath,
		Credential:     credentialMissing,
		PathRoot:       cc.Cfg.PathRoot,
	}

	if _, err := os.Stat(cc.Cfg.ConfigPath); err == nil {
		out.ConfigExists = true
	}

	if dir, err := dropboxDir(cc.Cfg); err != nil {
		out.DropboxDirErr = err.Error()
	} else {
		out.DropboxDir = dir
	}

	sess := NewSession(cc, sessionOptions{silent: true})

	if sess.Auth.HasRefreshCredential() {
		out.Credential = credentialStored

		acct, err := sess.Client.GetCurrentAccount(ctx)
		if err != nil {
			out.AccountErr = accountError(err)
		} else {
			out.Account = newAccountOutput(acct)
		}
	}

	if cc.Flags.JSON {
		return printJSON(cc.Out, out)
	}

	printStatusText(cc, &out)

	return nil
}

func accountError(err error) string {
	if errors.Is(err, dropbox.ErrTokenUnavailable) {
		return "stored credential was rejected; run 'dbxlink login'"
	}

	return err.Error()
}

func printStatusText(cc *CLIContext, out *statusOutput) {
	cfgState := out.ConfigPath
	if !out.ConfigExists {
		cfgState += " (not found, using defaults)"
	}

	dir := out.DropboxDir
	if out.DropboxDirErr != "" {
		dir = "unknown: " + out.DropboxDirErr
	}

	rows := [][2]string{
		{"Config", cfgState},
		{"Credential", fmt.Sprintf("%s (%s)", out.Credential, out.CredentialPath)},
		{"Dropbox folder", dir},
		{"Path root", out.PathRoot},
	}

	switch {
	case out.Account != nil:
		acct := fmt.Sprintf("%s <%s>", out.Account.DisplayName, out.Account.Email)
		if out.Account.TeamSpace {
			acct += " (team space)"
		}

		rows = append(rows, [2]string{"Account", acct})
	case out.AccountErr != "":
		rows = append(rows, [2]string{"Account", "unavailable: " + out.AccountErr})
	default:
		rows = append(rows, [2]string{"Account", "not logged in; run 'dbxlink login'"})
	}

	printTable(cc.Out, rows)
}
