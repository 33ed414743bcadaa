// Package subgraph is a GraphQL client for indexed-query services such as
// The Graph gateway.
package subgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/lendwatch/internal/domain"
)

// DefaultTimeout bounds one HTTP round trip.
const DefaultTimeout = 30 * time.Second

// maxErrorBody caps how much of a failed response is echoed into errors.
const maxErrorBody = 512

// Client posts GraphQL documents to one subgraph endpoint.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a client for endpoint. apiKey, when set, is sent as a
// Bearer token. A zero timeout uses DefaultTimeout.
func NewClient(endpoint, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		endpoint:   endpoint,
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Endpoint builds a gateway URL for a subgraph id, e.g.
// "https://gateway.thegraph.com/api" + id -> ".../api/subgraphs/id/<id>".
func Endpoint(gatewayURL, subgraphID string) string {
	return strings.TrimRight(gatewayURL, "/") + "/subgraphs/id/" + subgraphID
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Query executes document with variables and returns the raw "data" field.
//
// Transport failures, HTTP 429/5xx and GraphQL-level errors wrap
// domain.ErrTransientSource. Other non-200 statuses wrap
// domain.ErrConfiguration. An undecodable body or null data wraps
// domain.ErrDataFormat.
func (c *Client) Query(ctx context.Context, document string, variables map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(graphqlRequest{Query: document, Variables: variables})
	if err != nil {
		return nil, domain.DataFormatf("subgraph: marshal request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("subgraph: create request: %w", domain.ErrConfiguration)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("subgraph: http request: %w", domain.Cancelled(ctxErr))
		}
		if errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("subgraph: http request: %w", domain.Cancelled(err))
		}
		return nil, fmt.Errorf("subgraph: http request: %w", domain.Transient(err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("subgraph: read response: %w", domain.Transient(err))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("subgraph: %w", domain.Transient(fmt.Errorf("%w: HTTP %d", domain.ErrRateLimited, resp.StatusCode)))
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("subgraph: %w", domain.Transient(fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(raw))))
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("subgraph: HTTP %d: %s: %w", resp.StatusCode, truncate(raw), domain.ErrConfiguration)
	}

	var gql graphqlResponse
	if err := json.Unmarshal(raw, &gql); err != nil {
		return nil, domain.DataFormatf("subgraph: decode response: %v", err)
	}
	if len(gql.Errors) > 0 {
		return nil, fmt.Errorf("subgraph: %w", domain.Transient(fmt.Errorf("graphql error: %s", gql.Errors[0].Message)))
	}
	if len(gql.Data) == 0 || string(gql.Data) == "null" {
		return nil, domain.DataFormatf("subgraph: response has no data")
	}
	return gql.Data, nil
}

func truncate(b []byte) string {
	if len(b) > maxErrorBody {
		return string(b[:maxErrorBody]) + "..."
	}
	return string(b)
}
