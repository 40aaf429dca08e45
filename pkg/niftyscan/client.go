// Package niftyscan is a Go SDK for the niftyscan analysis server.
package niftyscan

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"niftyscan/internal/analysis"
	"niftyscan/internal/httpapi"
	"niftyscan/internal/stream"
)

var _ analysis.Source = (*Client)(nil)

// Client provides a Go SDK for interacting with the analysis server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client. The underlying http.Client has no
// overall timeout because analysis streams are long-lived; stalls are
// bounded by the pipeline's idle timeout instead.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: 30 * time.Second,
				IdleConnTimeout:       90 * time.Second,
			},
		},
	}
}

// NewClientWithHTTP is NewClient with a caller-supplied http.Client.
func NewClientWithHTTP(baseURL string, hc *http.Client) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: hc}
}

// Stream opens GET /api/run_analysis and returns the response body. Any
// failure to obtain a 200 response is a stream.NetworkError.
func (c *Client) Stream(ctx context.Context, req analysis.Request) (io.ReadCloser, error) {
	q := url.Values{}
	if req.StartDate != "" {
		q.Set("start", req.StartDate)
	}
	q.Set("progress", strconv.FormatBool(req.ShowProgress))

	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/run_analysis?"+q.Encode(), nil)
	if err != nil {
		return nil, stream.Errorf(stream.NetworkError, err, "building request")
	}
	resp, err := c.httpClient.Do(hreq)
	if err != nil {
		return nil, stream.Errorf(stream.NetworkError, err, "requesting analysis")
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, stream.Errorf(stream.NetworkError, nil, "server returned %s: %s",
			resp.Status, strings.TrimSpace(string(snippet)))
	}
	return resp.Body, nil
}

// Universe retrieves the configured ticker universe.
func (c *Client) Universe(ctx context.Context) (httpapi.UniverseResponse, error) {
	var out httpapi.UniverseResponse

	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/universe", nil)
	if err != nil {
		return out, err
	}
	resp, err := c.httpClient.Do(hreq)
	if err != nil {
		return out, fmt.Errorf("requesting universe: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return out, fmt.Errorf("universe: server returned %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("decoding universe: %w", err)
	}
	return out, nil
}

// CheckHealth queries the gRPC health service at addr for the overall
// server status.
func CheckHealth(ctx context.Context, addr string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	defer conn.Close()

	res, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("health check: %w", err)
	}
	return res.GetStatus(), nil
}
