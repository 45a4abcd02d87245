package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pointscape/pointscape/internal/httputil"
)

// Client talks to a running project server.
type Client struct {
	http    httputil.HTTPClient
	baseURL string
}

// NewClient returns a client for the server at baseURL. A nil httpClient
// selects the standard one.
func NewClient(baseURL string, httpClient httputil.HTTPClient) *Client {
	if httpClient == nil {
		httpClient = httputil.NewStandardClient(nil)
	}
	return &Client{http: httpClient, baseURL: strings.TrimRight(baseURL, "/")}
}

// ProjectInfo fetches the /api/project summary.
func (c *Client) ProjectInfo() (map[string]any, error) {
	var out map[string]any
	if err := c.getJSON("/api/project", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Scans fetches the catalog scan list with load states.
func (c *Client) Scans() ([]ScanAPI, error) {
	var out []ScanAPI
	if err := c.getJSON("/api/scans", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Memory fetches the load manager's byte accounting.
func (c *Client) Memory() (map[string]any, error) {
	var out map[string]any
	if err := c.getJSON("/api/memory", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// LoadScan asks the server to load a scan.
func (c *Client) LoadScan(scanID string) error {
	return c.postForm("/api/scans/load", url.Values{"id": {scanID}})
}

// UnloadScan asks the server to unload a scan.
func (c *Client) UnloadScan(scanID string) error {
	return c.postForm("/api/scans/unload", url.Values{"id": {scanID}})
}

func (c *Client) getJSON(path string, into any) error {
	resp, err := c.http.Get(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", path, serverError(resp))
	}
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		return fmt.Errorf("GET %s: decoding response: %w", path, err)
	}
	return nil
}

func (c *Client) postForm(path string, form url.Values) error {
	resp, err := c.http.Post(c.baseURL+path, "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("POST %s: %s", path, serverError(resp))
	}
	return nil
}

// serverError extracts the error field from a JSON error body, falling back
// to the HTTP status.
func serverError(resp *http.Response) string {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err == nil {
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
			return payload.Error
		}
	}
	return resp.Status
}
