package dropbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"
)

// ExpiresLayout is the timestamp format Dropbox accepts for link expiry.
const ExpiresLayout = "2006-01-02T15:04:05Z"

// LinkRequest asks for one shared link. Build it with NewLinkRequest.
type LinkRequest struct {
	SourceFile string    // local file identifier
	Size       int64     // bytes
	Expires    time.Time // absolute, UTC
}

// NewLinkRequest returns a LinkRequest with Expires normalized to UTC.
func NewLinkRequest(sourceFile string, size int64, expires time.Time) LinkRequest {
	return LinkRequest{
		SourceFile: sourceFile,
		Size:       size,
		Expires:    expires.UTC(),
	}
}

// Validate rejects malformed requests. Failures wrap ErrInvalidRequest.
func (r LinkRequest) Validate(now time.Time) error {
	switch {
	case r.SourceFile == "":
		return fmt.Errorf("%w: empty source file", ErrInvalidRequest)
	case r.Size < 0:
		return fmt.Errorf("%w: negative size %d", ErrInvalidRequest, r.Size)
	case r.Expires.IsZero():
		return fmt.Errorf("%w: missing expiry", ErrInvalidRequest)
	case !r.Expires.After(now):
		return fmt.Errorf("%w: expiry %s is not in the future", ErrInvalidRequest, r.Expires.Format(ExpiresLayout))
	default:
		return nil
	}
}

// LinkResult is a produced shared link.
type LinkResult struct {
	URL        string
	Name       string
	RemotePath string
	Reused     bool
}

// sharedLinkMetadata mirrors the link objects returned by the sharing
// endpoints. Only the fields dbxlink reads are decoded.
type sharedLinkMetadata struct {
	URL       string `json:"url"`
	Name      string `json:"name"`
	PathLower string `json:"path_lower"`
}

func (m *sharedLinkMetadata) toResult(remotePath string, reused bool) LinkResult {
	res := LinkResult{
		URL:        m.URL,
		Name:       m.Name,
		RemotePath: m.PathLower,
		Reused:     reused,
	}

	if res.RemotePath == "" {
		res.RemotePath = remotePath
	}

	if res.Name == "" {
		res.Name = path.Base(remotePath)
	}

	return res
}

type linkSettings struct {
	RequestedVisibility string `json:"requested_visibility"`
	Audience            string `json:"audience"`
	Expires             string `json:"expires"`
}

type createLinkArgs struct {
	Path     string       `json:"path"`
	Settings linkSettings `json:"settings"`
}

type listLinksArgs struct {
	Path       string `json:"path"`
	DirectOnly bool   `json:"direct_only"`
}

type listLinksResponse struct {
	Links []sharedLinkMetadata `json:"links"`
}

// CreateOrReuse creates a public link for remotePath expiring at
// req.Expires. When Dropbox reports that a link already exists, the
// existing link is looked up and returned with Reused set.
func (c *Client) CreateOrReuse(ctx context.Context, req LinkRequest, remotePath string) (*LinkResult, error) {
	if err := req.Validate(c.nowFunc()); err != nil {
		return nil, err
	}

	if remotePath == "" {
		return nil, fmt.Errorf("%w: empty remote path for %s", ErrInvalidRequest, req.SourceFile)
	}

	c.logger.Info("creating shared link",
		slog.String("path", remotePath),
		slog.Int64("size", req.Size),
		slog.Time("expires", req.Expires),
	)

	meta, err := c.createSharedLink(ctx, remotePath, req.Expires)
	if err == nil {
		res := meta.toResult(remotePath, false)
		return &res, nil
	}

	if !HasTag(err, TagSharedLinkAlreadyExists) {
		return nil, fmt.Errorf("dropbox: creating shared link for %s: %w", remotePath, err)
	}

	c.logger.Info("shared link already exists, reusing",
		slog.String("path", remotePath),
	)

	links, err := c.ListSharedLinks(ctx, remotePath)
	if err != nil {
		return nil, fmt.Errorf("dropbox: looking up existing link for %s: %w", remotePath, err)
	}

	if len(links) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrExistingLinkNotFound, remotePath)
	}

	res := links[0]
	res.Reused = true

	return &res, nil
}

func (c *Client) createSharedLink(ctx context.Context, remotePath string, expires time.Time) (*sharedLinkMetadata, error) {
	args := createLinkArgs{
		Path: remotePath,
		Settings: linkSettings{
			RequestedVisibility: "public",
			Audience:            "public",
			Expires:             expires.UTC().Format(ExpiresLayout),
		},
	}

	resp, err := c.Do(ctx, "/sharing/create_shared_link_with_settings", args)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var meta sharedLinkMetadata
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, fmt.Errorf("dropbox: decoding shared link response: %w", err)
	}

	if meta.URL == "" {
		return nil, errors.New("dropbox: shared link response carried no url")
	}

	return &meta, nil
}

// ListSharedLinks returns the links pointing directly at remotePath.
func (c *Client) ListSharedLinks(ctx context.Context, remotePath string) ([]LinkResult, error) {
	resp, err := c.Do(ctx, "/sharing/list_shared_links", listLinksArgs{Path: remotePath, DirectOnly: true})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var llr listLinksResponse
	if err := json.NewDecoder(resp.Body).Decode(&llr); err != nil {
		return nil, fmt.Errorf("dropbox: decoding list_shared_links response: %w", err)
	}

	links := make([]LinkResult, 0, len(llr.Links))

	for i := range llr.Links {
		if llr.Links[i].URL == "" {
			continue
		}

		links = append(links, llr.Links[i].toResult(remotePath, false))
	}

	c.logger.Debug("listed shared links",
		slog.String("path", remotePath),
		slog.Int("count", len(links)),
	)

	return links, nil
}
