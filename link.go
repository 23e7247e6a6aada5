package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/dbxlink/internal/convert"
	"github.com/tonimelisma/dbxlink/internal/render"
	"github.com/tonimelisma/dbxlink/internal/sendguard"
)

// Flag names read by loadConfig as config overrides.
const (
	flagExpiresDays = "expires-days"
	flagThreshold   = "threshold"
)

// formatJSON is accepted by --format in addition to the render formats.
const formatJSON = "json"

func newLinkCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "link FILE...",
		Short: "Create expiring shared links for files in the Dropbox folder",
		Long: `Create a public, expiring shared link for each file and print a links
block ready to paste into a message. A file that already has a shared link
reuses it.

Exits with status 1 if any link could not be created.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLink(cmd.Context(), mustCLIContext(cmd.Context()), args, format, sessionOptions{})
		},
	}

	cmd.Flags().Int(flagExpiresDays, 0, "days until the links expire (default from config)")
	cmd.Flags().StringVar(&format, "format", "text", "output format: text, markdown, html, or json")

	return cmd
}

// linkOutput is the JSON schema for `link --format json`.
type linkOutput struct {
	MessageID string                    `json:"message_id"`
	Expires   time.Time                 `json:"expires"`
	Files     []convert.ConversionState `json:"files"`
}

func runLink(ctx context.Context, cc *CLIContext, paths []string, format string, opts sessionOptions) error {
	asJSON := cc.Flags.JSON || format == formatJSON

	var rf render.Format

	if !asJSON {
		var err error
		if rf, err = render.ParseFormat(format); err != nil {
			return err
		}
	}

	conv, err := prepareConverter(ctx, cc, opts)
	if err != nil {
		return err
	}

	msg := uuid.NewString()
	expires := time.Now().Add(cc.Cfg.Expiry)

	cc.Logger.Debug("converting files",
		slog.String("message", msg),
		slog.Int("count", len(paths)),
	)

	if err := conv.Convert(ctx, msg, paths); err != nil {
		return err
	}

	states, _ := conv.Tracker().Get(msg)

	if asJSON {
		if err := printJSON(cc.Out, linkOutput{MessageID: msg, Expires: expires, Files: states}); err != nil {
			return err
		}
	} else if err := render.NewRenderer().Render(cc.Out, rf, linksBlock(states, expires)); err != nil {
		return err
	}

	if conv.Tracker().HasFailed(msg) {
		reportFailures(cc, states)
		return errConversionsFailed
	}

	return nil
}

// prepareConverter builds the session, applies path_root, and returns a
// converter for the configured Dropbox folder.
func prepareConverter(ctx context.Context, cc *CLIContext, opts sessionOptions) (*convert.Converter, error) {
	mapper, err := newMapper(cc.Cfg)
	if err != nil {
		return nil, err
	}

	sess := NewSession(cc, opts)

	if _, err := sess.ConfigurePathRoot(ctx, cc.Cfg.PathRoot); err != nil {
		return nil, err
	}

	return sess.Converter(cc, mapper), nil
}

// linksBlock collects the successful conversions into a render block.
func linksBlock(states []convert.ConversionState, expires time.Time) render.Block {
	b := render.Block{Expires: expires}

	for _, s := range states {
		if s.Status != convert.Success {
			continue
		}

		b.Links = append(b.Links, render.Link{
			Name: s.FileName,
			URL:  s.URL,
			Size: sendguard.FormatSize(s.Size),
		})
	}

	return b
}

// reportFailures prints one line per failed conversion to stderr. Failures
// are shown even in quiet mode.
func reportFailures(cc *CLIContext, states []convert.ConversionState) {
	for _, s := range states {
		if s.Status == convert.Failed {
			fmt.Fprintf(cc.Err, "FAILED %s: %s\n", s.FileName, s.Error)
		}
	}
}
