// Package powerdns is a typed client for the PowerDNS Authoritative zone API.
package powerdns

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/uclllabs/sasm-dns/internal/arpa"
	"github.com/uclllabs/sasm-dns/internal/logger"
)

// DefaultTimeout bounds every API call when Options.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// UpstreamError is returned for any unexpected (non-2xx) API response.
type UpstreamError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("API error: %s %s -> %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// IsStatus reports whether err is an UpstreamError with the given status code.
func IsStatus(err error, statusCode int) bool {
	var upstream *UpstreamError
	return errors.As(err, &upstream) && upstream.StatusCode == statusCode
}

// Options configures authentication and transport for Client.
type Options struct {
	APIKey string
	// Username and Password enable HTTP basic auth in front of the API
	// (reverse proxies commonly add it).
	Username   string
	Password   string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client is a PowerDNS API client for API version 1
type Client struct {
	baseURL    string
	opts       Options
	httpClient *http.Client
	log        *logger.Logger
}

// NewClient creates a new PowerDNS client
// baseURL should be the full API URL including server path, e.g.:
// http://localhost:8081/api/v1/servers/localhost
func NewClient(baseURL string, opts Options, log *logger.Logger) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout == 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		opts:       opts,
		httpClient: httpClient,
		log:        log,
	}
}

func zonePath(name string) string {
	return "/zones/" + url.PathEscape(arpa.Fqdn(name))
}

// doRequest performs an HTTP request to the PowerDNS API
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	endpoint := c.baseURL + path
	c.log.HTTPRequest(method, endpoint)

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if c.opts.APIKey != "" {
		req.Header.Set("X-API-Key", c.opts.APIKey)
	}
	if c.opts.Username != "" {
		req.SetBasicAuth(c.opts.Username, c.opts.Password)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Error("HTTP request failed: %s %s: %v", method, endpoint, err)
		return nil, fmt.Errorf("request failed: %w", err)
	}

	c.log.HTTPResponse(method, endpoint, resp.StatusCode)
	return resp, nil
}

// handleError turns a non-success response into an *UpstreamError
func (c *Client) handleError(method, path string, resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	msg := string(body)
	var apiErr APIError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error != "" {
		msg = apiErr.Error
	} else if len(msg) > 200 {
		msg = msg[:200] + "..."
	}

	c.log.Debug("API error: %s %s -> %d: %s", method, path, resp.StatusCode, msg)
	return &UpstreamError{
		Method:     method,
		Path:       path,
		StatusCode: resp.StatusCode,
		Message:    msg,
	}
}

func decodeBody(resp *http.Response, v interface{}) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}

// ListZones lists all zones on the server (without RRsets)
// GET /zones
func (c *Client) ListZones(ctx context.Context) ([]Zone, error) {
	path := "/zones"
	resp, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.handleError(http.MethodGet, path, resp)
	}

	var zones []Zone
	if err := decodeBody(resp, &zones); err != nil {
		return nil, err
	}
	return zones, nil
}

// GetZone retrieves a zone with its RRsets.
// GET /zones/{zone_id}
// A 404 response is reported as found == false with a nil error.
func (c *Client) GetZone(ctx context.Context, name string) (*Zone, bool, error) {
	path := zonePath(name)
	resp, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, c.handleError(http.MethodGet, path, resp)
	}

	var zone Zone
	if err := decodeBody(resp, &zone); err != nil {
		return nil, false, err
	}
	return &zone, true, nil
}

// CreateZone creates zone name unless it already exists. It reports whether
// a zone was created.
// POST /zones
func (c *Client) CreateZone(ctx context.Context, name, kind string, masters []string) (bool, error) {
	fqdn := arpa.Fqdn(name)

	_, found, err := c.GetZone(ctx, fqdn)
	if err != nil {
		return false, fmt.Errorf("failed to check zone %s: %w", fqdn, err)
	}
	if found {
		c.log.Info("Zone %s already exists, skipping creation", fqdn)
		return false, nil
	}

	path := "/zones"
	zone := &Zone{
		Name:        fqdn,
		Kind:        kind,
		Masters:     masters,
		Nameservers: []string{},
	}
	resp, err := c.doRequest(ctx, http.MethodPost, path, zone)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return false, c.handleError(http.MethodPost, path, resp)
	}
	return true, nil
}

// PatchZone modifies RRsets in a zone. Only the given RRsets are touched;
// each must carry a changetype.
// PATCH /zones/{zone_id}
func (c *Client) PatchZone(ctx context.Context, name string, rrsets []RRset) error {
	for _, rrset := range rrsets {
		if rrset.ChangeType == "" {
			return fmt.Errorf("rrset %s %s has no changetype", rrset.Name, rrset.Type)
		}
	}

	path := zonePath(name)
	resp, err := c.doRequest(ctx, http.MethodPatch, path, &ZonePatch{RRsets: rrsets})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return c.handleError(http.MethodPatch, path, resp)
	}
	return nil
}

// DeleteZone removes a zone. Deleting an absent zone is not an error.
// DELETE /zones/{zone_id}
func (c *Client) DeleteZone(ctx context.Context, name string) error {
	path := zonePath(name)
	resp, err := c.doRequest(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		c.log.Debug("Zone %s already absent", name)
		return nil
	}
	if !isSuccess(resp.StatusCode) {
		return c.handleError(http.MethodDelete, path, resp)
	}
	return nil
}
