package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// apiClient talks to a running api-server.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(base string) *apiClient {
	return &apiClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 15 * time.Second},
	}
}

type apiError struct {
	Status  int
	Code    string `json:"error"`
	Details string `json:"details"`
}

func (e *apiError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Details)
	}
	return fmt.Sprintf("%s (%d)", e.Code, e.Status)
}

// do sends the request and returns the raw body of a 2xx response.
func (c *apiClient) do(ctx context.Context, method, path string, query url.Values) ([]byte, string, error) {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, "", err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &apiError{Status: resp.StatusCode}
		if json.Unmarshal(body, apiErr) != nil || apiErr.Code == "" {
			apiErr.Code = http.StatusText(resp.StatusCode)
		}
		return nil, "", apiErr
	}

	return body, resp.Header.Get("Content-Type"), nil
}

func (c *apiClient) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	body, _, err := c.do(ctx, http.MethodGet, path, query)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}
