package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const principalHeader = "X-Capture-Principal"

// Client talks to the capture server on behalf of one principal. An empty
// principal makes anonymous requests.
type Client struct {
	addr      string
	principal string
	http      *http.Client
}

// newClient builds a Client from the loaded config; CAPTURE_ADDR and
// CAPTURE_PRINCIPAL take precedence over it.
func newClient() *Client {
	c := &Client{
		addr:      cfg.Address,
		principal: cfg.Principal,
		http:      &http.Client{Timeout: 30 * time.Second},
	}
	if v := os.Getenv("CAPTURE_ADDR"); v != "" {
		c.addr = v
	}
	if v := os.Getenv("CAPTURE_PRINCIPAL"); v != "" {
		c.principal = v
	}
	c.addr = strings.TrimRight(c.addr, "/")
	return c
}

// call sends body as JSON and decodes the JSON reply.
func (c *Client) call(method, path string, body any) (map[string]any, error) {
	var payload io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		payload = bytes.NewReader(buf)
	}

	req, err := http.NewRequest(method, c.addr+path, payload)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.principal != "" {
		req.Header.Set(principalHeader, c.principal)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	return parseResponse(resp)
}

func (c *Client) get(path string) (map[string]any, error) {
	return c.call(http.MethodGet, path, nil)
}

func (c *Client) post(path string, body any) (map[string]any, error) {
	return c.call(http.MethodPost, path, body)
}

func (c *Client) put(path string, body any) (map[string]any, error) {
	return c.call(http.MethodPut, path, body)
}

func (c *Client) delete(path string) error {
	_, err := c.call(http.MethodDelete, path, nil)
	return err
}

// parseResponse decodes a reply. Error replies carry {"errors": [...]}, which
// become a single error; 204 and other empty successes decode to an empty map.
func parseResponse(resp *http.Response) (map[string]any, error) {
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	failed := resp.StatusCode >= http.StatusBadRequest

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		if failed {
			return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
		}
		return map[string]any{}, nil
	}

	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, raw)
	}
	if !failed {
		return out, nil
	}
	if msgs, ok := out["errors"].([]any); ok && len(msgs) > 0 {
		return nil, fmt.Errorf("%s", joinAny(msgs))
	}
	return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
}
