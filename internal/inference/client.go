package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/schemachat/schemachat/internal/observability"
)

const useEndpoint = "/inference/use"

type HTTPConfig struct {
	BaseURL string
	Timeout time.Duration
}

// HTTPClient posts the applications-in-scope, the user message, and the chat
// history to the remote inference endpoint. A failure here aborts the whole
// turn before any instruction executes.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPClient(cfg HTTPConfig) (*HTTPClient, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("inference base URL is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		client:  &http.Client{Timeout: timeout},
	}, nil
}

func (c *HTTPClient) Infer(ctx context.Context, req Request) (Response, error) {
	start := time.Now()
	resp, err := c.infer(ctx, req)
	observability.ObserveInferenceRequest(err == nil, time.Since(start))
	return resp, err
}

func (c *HTTPClient) infer(ctx context.Context, req Request) (Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("marshal inference request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+useEndpoint, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("build inference request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	observability.PropagateTrace(ctx, httpReq.Header)

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("request inference: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	rawBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("read inference response body: %w", err)
	}
	if httpResp.StatusCode >= 400 {
		return Response{}, fmt.Errorf("inference failed status=%d body=%s", httpResp.StatusCode, string(rawBody))
	}

	var parsed Response
	if err := json.Unmarshal(rawBody, &parsed); err != nil {
		return Response{}, fmt.Errorf("decode inference response: %w", err)
	}
	if len(parsed.Response) == 0 && strings.TrimSpace(parsed.Clarification) == "" {
		return Response{}, fmt.Errorf("inference returned neither instructions nor clarification")
	}
	return parsed, nil
}
