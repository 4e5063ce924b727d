package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
)

type gatewayClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func newGatewayClient() *gatewayClient {
	base := os.Getenv("FITSYNC_GATEWAY_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	return &gatewayClient{
		baseURL: strings.TrimRight(base, "/"),
		apiKey:  os.Getenv("FITSYNC_API_KEY"),
		http:    &http.Client{Timeout: timeout},
	}
}

// do sends a request and returns the body of a 2xx response.
func (c *gatewayClient) do(ctx context.Context, method, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		var e struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(body, &e) == nil && e.Message != "" {
			return nil, fmt.Errorf("%s: %s", e.Code, e.Message)
		}
		return nil, fmt.Errorf("gateway returned %s", resp.Status)
	}
	return body, nil
}

func feedPath(args []string, suffix string) string {
	p := "/v1/feeds/" + url.PathEscape(args[0]) + suffix
	if len(args) > 1 {
		p += "?limit=" + url.QueryEscape(args[1])
	}
	return p
}

func handleFeeds(c *gatewayClient) error {
	body, err := c.do(context.Background(), http.MethodGet, "/v1/feeds")
	if err != nil {
		return err
	}
	return printJSON(body)
}

func handleFetch(c *gatewayClient, args []string) error {
	body, err := c.do(context.Background(), http.MethodGet, feedPath(args, ""))
	if err != nil {
		return err
	}
	return printJSON(body)
}

func handleRefresh(c *gatewayClient, args []string) error {
	body, err := c.do(context.Background(), http.MethodPost, feedPath(args, "/refresh"))
	if err != nil {
		return err
	}
	return printJSON(body)
}

func printJSON(body []byte) error {
	var out bytes.Buffer
	if err := json.Indent(&out, body, "", "  "); err != nil {
		_, err = os.Stdout.Write(body)
		return err
	}
	out.WriteByte('\n')
	_, err := out.WriteTo(os.Stdout)
	return err
}
