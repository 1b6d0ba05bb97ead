package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const defaultBase = "https://cloud-api.yandex.net/v1/disk"

// DiskClient talks to a Yandex.Disk-style REST API: a /resources endpoint
// for listings and a two-step href-indirect download.
type DiskClient struct {
	token string
	root  string
	base  string
	hc    *http.Client
}

// NewDiskClient creates a connector rooted at root (e.g. "/kb").
func NewDiskClient(token, root string) *DiskClient {
	root = strings.TrimRight(root, "/")
	if root == "" {
		root = "/kb"
	}
	return &DiskClient{
		token: token,
		root:  root,
		base:  defaultBase,
		hc:    &http.Client{Timeout: 60 * time.Second},
	}
}

// WithBaseURL overrides the API endpoint. Used by tests.
func (c *DiskClient) WithBaseURL(base string) *DiskClient {
	c.base = strings.TrimRight(base, "/")
	return c
}

type diskItem struct {
	ResourceID string `json:"resource_id"`
	Path       string `json:"path"`
	Type       string `json:"type"`
	Modified   string `json:"modified"`
	MD5        string `json:"md5"`
	Size       int64  `json:"size"`
}

type diskListing struct {
	Embedded struct {
		Items []diskItem `json:"items"`
	} `json:"_embedded"`
}

func (c *DiskClient) full(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return c.root
	}
	if strings.HasPrefix(path, "/") {
		return path
	}
	return c.root + "/" + path
}

// rel strips the root prefix so stored paths stay stable if the root moves.
func (c *DiskClient) rel(path string) string {
	if strings.HasPrefix(path, c.root) {
		return strings.TrimLeft(strings.TrimPrefix(path, c.root), "/")
	}
	return path
}

func (c *DiskClient) get(ctx context.Context, rawURL string, params url.Values, out any) error {
	u := rawURL
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "OAuth "+c.token)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d, %s", ErrUnavailable, resp.StatusCode, string(body))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// List implements Connector. It walks directories depth-first and returns
// only files, with paths relative to the configured root.
func (c *DiskClient) List(ctx context.Context, path string) ([]FileMeta, error) {
	var out []FileMeta
	if err := c.walk(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *DiskClient) walk(ctx context.Context, path string, out *[]FileMeta) error {
	params := url.Values{}
	params.Set("path", c.full(path))
	params.Set("limit", "1000")

	var listing diskListing
	if err := c.get(ctx, c.base+"/resources", params, &listing); err != nil {
		return err
	}

	for _, it := range listing.Embedded.Items {
		if it.Type == "dir" {
			if err := c.walk(ctx, c.rel(it.Path), out); err != nil {
				return err
			}
			continue
		}
		rel := c.rel(it.Path)
		if rel == "" {
			continue
		}
		// ResourceID stays empty when the API omits it; identity then
		// falls back to the relative path downstream.
		modified, err := time.Parse(time.RFC3339, it.Modified)
		if err != nil {
			log.Debug().Str("path", rel).Str("modified", it.Modified).Msg("unparseable modified time")
		}
		*out = append(*out, FileMeta{
			ResourceID: it.ResourceID,
			Path:       rel,
			Type:       it.Type,
			Modified:   modified,
			MD5:        it.MD5,
			Size:       it.Size,
		})
	}
	return nil
}

// Download implements Connector. The API answers with a one-shot href that
// serves the actual bytes.
func (c *DiskClient) Download(ctx context.Context, path string) ([]byte, error) {
	params := url.Values{}
	params.Set("path", c.full(path))

	var link struct {
		Href string `json:"href"`
	}
	if err := c.get(ctx, c.base+"/resources/download", params, &link); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link.Href, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: download status %d", ErrUnavailable, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
