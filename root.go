package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/dbxlink/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Sentinels for exit codes. The command has already printed the details.
var (
	errSendBlocked       = errors.New("message blocked")
	errConversionsFailed = errors.New("one or more links could not be created")
)

// CLIFlags are the persistent flags shared by every command.
type CLIFlags struct {
	ConfigPath string
	DropboxDir string
	JSON       bool
	Verbose    bool
	Quiet      bool
}

// CLIContext is what every command receives through cmd.Context(): the
// parsed flags, the effective configuration, and a logger built from both.
type CLIContext struct {
	Flags  CLIFlags
	Cfg    *config.Resolved
	Logger *slog.Logger
	Out    io.Writer
	Err    io.Writer
}

type cliContextKey struct{}

// mustCLIContext returns the CLIContext stored by the root pre-run. A
// missing context is a programming error.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		panic("BUG: CLIContext not set on command context")
	}

	return cc
}

// newRootCmd builds the root command with all subcommands registered.
func newRootCmd() *cobra.Command {
	var flags CLIFlags

	cmd := &cobra.Command{
		Use:   "dbxlink",
		Short: "Share local Dropbox files as expiring links",
		Long: `dbxlink turns files inside your Dropbox folder into public, expiring
shared links, and checks whether a message is safe to send.`,
		Version: version,
		// Silence Cobra's default error/usage printing; main reports errors.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return setupCLIContext(cmd, flags)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.ConfigPath, "config", "", "config file path")
	pf.StringVar(&flags.DropboxDir, "dropbox-dir", "", "local Dropbox folder (default: discovered)")
	pf.BoolVar(&flags.JSON, "json", false, "output in JSON format")
	pf.BoolVarP(&flags.Verbose, "verbose", "v", false, "enable debug logging")
	pf.BoolVarP(&flags.Quiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newLinkCmd())
	cmd.AddCommand(newCheckCmd())
	cmd.AddCommand(newWatchCmd())

	return cmd
}

// setupCLIContext resolves the configuration, builds the logger, and stores
// both on the command's context, which SIGINT/SIGTERM cancel.
func setupCLIContext(cmd *cobra.Command, flags CLIFlags) error {
	cfg, err := loadConfig(cmd, flags)
	if err != nil {
		return err
	}

	logger := buildLogger(cfg, flags, cmd.ErrOrStderr())

	cc := &CLIContext{
		Flags:  flags,
		Cfg:    cfg,
		Logger: logger,
		Out:    cmd.OutOrStdout(),
		Err:    cmd.ErrOrStderr(),
	}

	ctx := shutdownContext(cmd.Context(), logger)
	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cc))

	return nil
}

// loadConfig resolves the effective configuration from the four-layer
// override chain. Command-local flags (--expires-days, --threshold) are
// passed only when explicitly set.
func loadConfig(cmd *cobra.Command, flags CLIFlags) (*config.Resolved, error) {
	cli := config.CLIOverrides{ConfigPath: flags.ConfigPath}

	if cmd.Flags().Changed("dropbox-dir") {
		cli.DropboxDir = &flags.DropboxDir
	}

	if cmd.Flags().Changed(flagExpiresDays) {
		days, err := cmd.Flags().GetInt(flagExpiresDays)
		if err != nil {
			return nil, err
		}

		cli.ExpiryDays = &days
	}

	if cmd.Flags().Changed(flagThreshold) {
		threshold, err := cmd.Flags().GetString(flagThreshold)
		if err != nil {
			return nil, err
		}

		cli.SizeThreshold = &threshold
	}

	resolved, err := config.Resolve(config.ReadEnvOverrides(), cli)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	return resolved, nil
}

// buildLogger creates the logger for a command. The config log level is the
// baseline; --verbose and --quiet override it because CLI flags always win.
// Format "auto" picks text on a terminal and JSON otherwise.
func buildLogger(cfg *config.Resolved, flags CLIFlags, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	format := "auto"

	if cfg != nil {
		switch cfg.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}

		format = cfg.LogFormat
	}

	if flags.Verbose {
		level = slog.LevelDebug
	}

	if flags.Quiet {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if format == "json" || (format == "auto" && !isTerminal(w)) {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}

	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
