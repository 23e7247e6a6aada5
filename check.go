package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/dbxlink/internal/convert"
	"github.com/tonimelisma/dbxlink/internal/render"
	"github.com/tonimelisma/dbxlink/internal/sendguard"
)

// checkOptions are the flags of `check`.
type checkOptions struct {
	attach []string
	retry  bool
}

func newCheckCmd() *cobra.Command {
	var opts checkOptions

	cmd := &cobra.Command{
		Use:   "check [FILE...]",
		Short: "Link files and decide whether a message is safe to send",
		Long: `Create shared links for FILE... as one message, then apply the send rules:

  - any link that could not be created blocks the message;
  - any link still being created blocks the message;
  - any --attach file at or above the size threshold raises a warning.

Exits with status 2 when the message is blocked.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd.Context(), mustCLIContext(cmd.Context()), args, opts, sessionOptions{})
		},
	}

	cmd.Flags().StringArrayVar(&opts.attach, "attach", nil, "file attached directly to the message (repeatable)")
	cmd.Flags().BoolVar(&opts.retry, "retry", false, "retry failed links once before deciding")
	cmd.Flags().Int(flagExpiresDays, 0, "days until the links expire (default from config)")
	cmd.Flags().String(flagThreshold, "", "large-attachment threshold, e.g. 10MiB (default from config)")

	return cmd
}

// checkOutput is the JSON schema for `check --json`.
type checkOutput struct {
	MessageID string                    `json:"message_id,omitempty"`
	Files     []convert.ConversionState `json:"files"`
	Verdict   sendguard.Result          `json:"verdict"`
}

func runCheck(ctx context.Context, cc *CLIContext, paths []string, opts checkOptions, sopts sessionOptions) error {
	attachments, err := statAttachments(opts.attach)
	if err != nil {
		return err
	}

	var (
		msg    string
		states []convert.ConversionState
	)

	if len(paths) > 0 {
		conv, err := prepareConverter(ctx, cc, sopts)
		if err != nil {
			return err
		}

		msg = uuid.NewString()

		if err := conv.Convert(ctx, msg, paths); err != nil {
			return err
		}

		if opts.retry && conv.Tracker().HasFailed(msg) {
			cc.Statusf("Retrying %s...\n", plural(len(conv.Tracker().Failed(msg)), "failed link"))

			if err := conv.Retry(ctx, msg); err != nil {
				return err
			}
		}

		states, _ = conv.Tracker().Get(msg)
	}

	result := sendguard.Validate(states, attachments, cc.Cfg.SizeThreshold)

	cc.Logger.Info("send check complete",
		slog.String("message", msg),
		slog.Bool("block", result.Block),
		slog.Bool("size_warning", result.ShowSizeWarning),
	)

	if cc.Flags.JSON {
		if err := printJSON(cc.Out, checkOutput{MessageID: msg, Files: states, Verdict: result}); err != nil {
			return err
		}
	} else if err := printCheckText(cc, states, result); err != nil {
		return err
	}

	if result.Block {
		return errSendBlocked
	}

	return nil
}

// statAttachments reads the size of each attached file.
func statAttachments(paths []string) ([]sendguard.Attachment, error) {
	attachments := make([]sendguard.Attachment, 0, len(paths))

	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("attachment: %w", err)
		}

		if info.IsDir() {
			return nil, fmt.Errorf("attachment %s is a directory", p)
		}

		attachments = append(attachments, sendguard.Attachment{Name: filepath.Base(p), Size: info.Size()})
	}

	return attachments, nil
}

func printCheckText(cc *CLIContext, states []convert.ConversionState, result sendguard.Result) error {
	if !result.Block {
		block := linksBlock(states, time.Now().Add(cc.Cfg.Expiry))
		if err := render.NewRenderer().Render(cc.Out, render.Text, block); err != nil {
			return err
		}
	}

	switch {
	case result.Block:
		reportFailures(cc, states)
		fmt.Fprintf(cc.Out, "BLOCKED: %s\n", result.Message)
	case result.ShowSizeWarning:
		fmt.Fprintf(cc.Out, "WARNING: %s\n", result.Message)
	default:
		fmt.Fprintln(cc.Out, "OK to send.")
	}

	return nil
}
