// Package sendguard decides whether a message may be sent, given its link
// conversions and its attachments.
package sendguard

import (
	"fmt"
	"strings"

	"github.com/tonimelisma/dbxlink/internal/convert"
)

// DefaultSizeThreshold is the attachment size (inclusive) that triggers the
// large-attachment warning: 10 MiB.
const DefaultSizeThreshold int64 = 10 * 1024 * 1024

// Attachment is a file attached directly to the message.
type Attachment struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// Result is the verdict for one send attempt. Block and ShowSizeWarning are
// never both set.
type Result struct {
	Block             bool                      `json:"block"`
	ShowSizeWarning   bool                      `json:"show_size_warning"`
	Message           string                    `json:"message"`
	FailedConversions []convert.ConversionState `json:"failed_conversions,omitempty"`
	LargeAttachments  []Attachment              `json:"large_attachments,omitempty"`
}

// Validate applies the send rules in priority order: failed conversions
// block, then unfinished conversions block, then attachments at or above
// threshold warn. Anything else is allowed with an empty message. A
// threshold <= 0 selects DefaultSizeThreshold.
func Validate(states []convert.ConversionState, attachments []Attachment, threshold int64) Result {
	if threshold <= 0 {
		threshold = DefaultSizeThreshold
	}

	var failed []convert.ConversionState

	pending := false

	for _, s := range states {
		switch s.Status {
		case convert.Failed:
			failed = append(failed, s)
		case convert.Pending, convert.InProgress:
			pending = true
		case convert.Success:
		}
	}

	if len(failed) > 0 {
		return Result{
			Block:             true,
			Message:           failedMessage(failed),
			FailedConversions: failed,
		}
	}

	if pending {
		return Result{
			Block:   true,
			Message: "Shared links are still being created. Wait for them to finish before sending.",
		}
	}

	var large []Attachment

	for _, a := range attachments {
		if a.Size >= threshold {
			large = append(large, a)
		}
	}

	if len(large) > 0 {
		return Result{
			ShowSizeWarning:  true,
			Message:          largeMessage(large, threshold),
			LargeAttachments: large,
		}
	}

	return Result{}
}

func failedMessage(failed []convert.ConversionState) string {
	if len(failed) == 1 {
		return fmt.Sprintf("The shared link for %q could not be created. "+
			"Retry the conversion or remove the file before sending.", displayName(failed[0]))
	}

	names := make([]string, len(failed))
	for i, s := range failed {
		names[i] = displayName(s)
	}

	return fmt.Sprintf("Shared links for %d files could not be created: %s. "+
		"Retry the conversions or remove the files before sending.", len(failed), strings.Join(names, ", "))
}

func largeMessage(large []Attachment, threshold int64) string {
	if len(large) == 1 {
		return fmt.Sprintf("The attachment %q is %s. Large attachments may be rejected by the "+
			"recipient's mail server; consider sending it as a shared link instead.",
			large[0].Name, FormatSize(large[0].Size))
	}

	var total int64
	for _, a := range large {
		total += a.Size
	}

	return fmt.Sprintf("%d attachments are %s or larger (%s total). "+
		"Consider sending them as shared links instead.", len(large), FormatSize(threshold), FormatSize(total))
}

func displayName(s convert.ConversionState) string {
	if s.FileName != "" {
		return s.FileName
	}

	return s.LocalPath
}

// Size unit constants for human-readable formatting.
const (
	sizeKB = 1024
	sizeMB = 1024 * 1024
	sizeGB = 1024 * 1024 * 1024
	sizeTB = 1024 * 1024 * 1024 * 1024
)

// FormatSize returns a human-readable size string (e.g. "1.2 MB").
func FormatSize(bytes int64) string {
	switch {
	case bytes >= sizeTB:
		return fmt.Sprintf("%.1f TB", float64(bytes)/float64(sizeTB))
	case bytes >= sizeGB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(sizeGB))
	case bytes >= sizeMB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(sizeMB))
	case bytes >= sizeKB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(sizeKB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
