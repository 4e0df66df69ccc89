// Package upstream implements the read-through proxy-cache that
// shadows an upstream Hosted Pub Repository when a package is not
// hosted locally.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/repub/registry/pkg/apierr"
)

// VersionDoc mirrors one entry of an upstream version-listing
// document, matching the Hosted Pub Repository Specification v2 wire
// shape this registry itself serves.
type VersionDoc struct {
	Version       string                 `json:"version"`
	ArchiveURL    string                 `json:"archive_url"`
	ArchiveSHA256 string                 `json:"archive_sha256"`
	Pubspec       map[string]interface{} `json:"pubspec"`
	Retracted     bool                   `json:"retracted,omitempty"`
}

// ListingDoc mirrors the upstream `{name, latest, versions[]}` document.
type ListingDoc struct {
	Name           string       `json:"name"`
	Latest         *VersionDoc  `json:"latest"`
	Versions       []VersionDoc `json:"versions"`
	IsDiscontinued bool         `json:"isDiscontinued,omitempty"`
	ReplacedBy     *string      `json:"replacedBy,omitempty"`
}

// Client fetches package listings and archives from an upstream
// Hosted Pub Repository.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a Client against baseURL (no trailing slash
// required) with the given connect+read timeout applied per request.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// FetchListing retrieves the version-listing document for pkgName.
func (c *Client) FetchListing(ctx context.Context, pkgName string) (*ListingDoc, error) {
	url := fmt.Sprintf("%s/api/packages/%s", c.baseURL, pkgName)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build upstream listing request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.pub.v2+json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apierr.Wrap(apierr.UpstreamUnavailable, "upstream listing fetch failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, apierr.New(apierr.NotFound, "package not found upstream")
	case resp.StatusCode >= 500:
		return nil, apierr.New(apierr.UpstreamUnavailable, fmt.Sprintf("upstream returned %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, apierr.New(apierr.UpstreamUnavailable, fmt.Sprintf("unexpected upstream status %d", resp.StatusCode))
	}

	var doc ListingDoc
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, apierr.Wrap(apierr.UpstreamUnavailable, "failed to decode upstream listing", err)
	}
	return &doc, nil
}

// ArchiveURL builds the canonical archive download URL for pkgName at
// version under this client's base, per the same convention this
// registry serves its own archives under.
func (c *Client) ArchiveURL(pkgName, version string) string {
	return fmt.Sprintf("%s/api/packages/%s/versions/%s/archive.tar.gz", c.baseURL, pkgName, version)
}

// FetchArchive downloads the bytes at url.
func (c *Client) FetchArchive(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build upstream archive request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apierr.Wrap(apierr.UpstreamUnavailable, "upstream archive fetch failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, apierr.New(apierr.NotFound, "archive not found upstream")
	case resp.StatusCode >= 500:
		return nil, apierr.New(apierr.UpstreamUnavailable, fmt.Sprintf("upstream returned %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, apierr.New(apierr.UpstreamUnavailable, fmt.Sprintf("unexpected upstream status %d", resp.StatusCode))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apierr.Wrap(apierr.UpstreamUnavailable, "failed to read upstream archive", err)
	}
	return data, nil
}
