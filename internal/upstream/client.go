// Package upstream implements the v1internal client: request enveloping,
// endpoint failover, and SSE stream parsing.
package upstream

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/antigravity-router/antigravity-proxy/internal/config"
	"github.com/antigravity-router/antigravity-proxy/internal/constant"
	"github.com/antigravity-router/antigravity-proxy/internal/util"
)

// StatusError is a non-2xx upstream reply.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.StatusCode, e.Body)
}

// failoverStatuses are endpoint-level faults that advance to the next base
// URL instead of surfacing immediately.
var failoverStatuses = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusServiceUnavailable:  true,
	529:                            true,
}

// Client posts enveloped requests to the first healthy endpoint. The endpoint
// list can be swapped at runtime by configuration reloads; each request takes
// a snapshot at entry.
type Client struct {
	httpClient *http.Client

	mu        sync.RWMutex
	endpoints []string
}

// NewClient creates an upstream client from the proxy configuration.
//
// Parameters:
//   - cfg: The proxy section of the configuration
//
// Returns:
//   - *Client: The configured client
func NewClient(cfg *config.ProxyConfig) *Client {
	httpClient := &http.Client{}
	if cfg.RequestTimeoutSeconds > 0 {
		httpClient.Timeout = time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	}
	httpClient = util.SetProxy(cfg.ProxyURL, httpClient)
	return &Client{
		httpClient: httpClient,
		endpoints:  ResolveEndpoints(cfg.Endpoints),
	}
}

// NewClientForEndpoints creates a client with explicit base URLs. Used by
// tests and by reload paths that already resolved aliases.
func NewClientForEndpoints(endpoints []string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{httpClient: httpClient, endpoints: endpoints}
}

// UpdateEndpoints swaps the endpoint list. Called on configuration reload;
// in-flight requests keep the snapshot they started with.
func (c *Client) UpdateEndpoints(endpoints []string) {
	c.mu.Lock()
	c.endpoints = endpoints
	c.mu.Unlock()
}

func (c *Client) currentEndpoints() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.endpoints
}

// BuildEnvelope wraps an internal request body into the v1internal envelope.
// maxOutputTokens is stripped for non-Claude models, which measurably lowers
// upstream throttling.
//
// Parameters:
//   - model: The upstream base model id
//   - family: The model family
//   - body: The marshalled internal request
//
// Returns:
//   - []byte: The envelope body
func BuildEnvelope(model, family string, body []byte) []byte {
	request := string(body)
	request, _ = sjson.Delete(request, "safetySettings")
	if family != constant.FamilyClaude {
		request, _ = sjson.Delete(request, "generationConfig.maxOutputTokens")
	}

	out := `{}`
	out, _ = sjson.Set(out, "model", model)
	out, _ = sjson.SetRaw(out, "request", request)
	out, _ = sjson.Set(out, "userAgent", constant.UpstreamUserAgent)
	out, _ = sjson.Set(out, "requestId", "agent-"+uuid.NewString())
	out, _ = sjson.Set(out, "requestType", "agent")
	return []byte(out)
}

// SetProject stamps the upstream project id onto an envelope.
func SetProject(envelope []byte, projectID string) []byte {
	out, _ := sjson.SetBytes(envelope, "project", projectID)
	return out
}

func (c *Client) newRequest(ctx context.Context, url, token string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", constant.UpstreamUserAgent)
	req.Header.Set("X-Goog-Api-Client", constant.UpstreamAPIClient)
	req.Header.Set("Client-Metadata", constant.UpstreamClientMetadata)
	return req, nil
}

// Generate posts a batch request, trying each endpoint in order on
// endpoint-level faults, and returns the unwrapped response JSON.
//
// Parameters:
//   - ctx: The request context
//   - envelope: The enveloped request body
//   - token: The account access token
//
// Returns:
//   - string: The unwrapped response JSON
//   - error: A *StatusError for non-2xx replies, or a transport error
func (c *Client) Generate(ctx context.Context, envelope []byte, token string) (string, error) {
	endpoints := c.currentEndpoints()
	var lastErr error
	for i, base := range endpoints {
		url := base + "/v1internal:generateContent"
		req, err := c.newRequest(ctx, url, token, envelope)
		if err != nil {
			return "", err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if i < len(endpoints)-1 {
				log.Debugf("endpoint %s failed, trying next: %v", base, err)
				continue
			}
			return "", lastErr
		}
		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			if i < len(endpoints)-1 {
				continue
			}
			return "", lastErr
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return unwrap(string(body)), nil
		}
		lastErr = &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
		if failoverStatuses[resp.StatusCode] && i < len(endpoints)-1 {
			log.Debugf("endpoint %s returned %d, trying next", base, resp.StatusCode)
			continue
		}
		return "", lastErr
	}
	return "", lastErr
}

// StreamGenerate posts a streaming request and yields unwrapped response
// chunks over the data channel. Exactly one of the channels terminates the
// stream: errChan receives a single error, or dataChan closes on [DONE].
//
// Parameters:
//   - ctx: The request context
//   - envelope: The enveloped request body
//   - token: The account access token
//
// Returns:
//   - <-chan string: Unwrapped response chunks
//   - <-chan error: The terminal error, if any
func (c *Client) StreamGenerate(ctx context.Context, envelope []byte, token string) (<-chan string, <-chan error) {
	dataChan := make(chan string, 16)
	errChan := make(chan error, 1)

	endpoints := c.currentEndpoints()
	go func() {
		defer close(dataChan)

		var lastErr error
		for i, base := range endpoints {
			url := base + "/v1internal:streamGenerateContent?alt=sse"
			req, err := c.newRequest(ctx, url, token, envelope)
			if err != nil {
				errChan <- err
				return
			}
			resp, err := c.httpClient.Do(req)
			if err != nil {
				lastErr = err
				if i < len(endpoints)-1 {
					log.Debugf("endpoint %s failed, trying next: %v", base, err)
					continue
				}
				errChan <- lastErr
				return
			}
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				body, _ := io.ReadAll(resp.Body)
				_ = resp.Body.Close()
				lastErr = &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
				if failoverStatuses[resp.StatusCode] && i < len(endpoints)-1 {
					log.Debugf("endpoint %s returned %d, trying next", base, resp.StatusCode)
					continue
				}
				errChan <- lastErr
				return
			}

			readErr := readSSE(ctx, resp.Body, dataChan)
			_ = resp.Body.Close()
			if readErr != nil {
				errChan <- readErr
			}
			return
		}
		errChan <- lastErr
	}()

	return dataChan, errChan
}

// readSSE parses "data: " lines until EOF or the [DONE] marker. Sends select
// on the context so a consumer that stopped reading (client disconnect) does
// not strand this goroutine on a full channel.
func readSSE(ctx context.Context, body io.Reader, dataChan chan<- string) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			return nil
		}
		select {
		case dataChan <- unwrap(payload):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return scanner.Err()
}

// unwrap strips the {"response": ...} envelope when present.
func unwrap(raw string) string {
	if inner := gjson.Get(raw, "response"); inner.Exists() {
		return inner.Raw
	}
	return raw
}
