package fleet

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"tonaccess/pkg/log"
	"tonaccess/pkg/models"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	// DefaultManagerURL is the public ton-access fleet manager.
	DefaultManagerURL = "https://ton-access.orbs.network/mngr/nodes"

	DefaultRetryMax     = 2
	DefaultRetryWaitMin = 200 * time.Millisecond
	DefaultRetryWaitMax = 2 * time.Second
	maxManagerPayload   = 16 << 20
)

// Fetcher retrieves the node list from a fleet manager.
type Fetcher interface {
	Fetch(ctx context.Context, managerURL string) ([]models.NodeRecord, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, managerURL string) ([]models.NodeRecord, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, managerURL string) ([]models.NodeRecord, error) {
	return f(ctx, managerURL)
}

// HTTPFetcher fetches manager data over HTTP with retries on transport errors and 5xx.
type HTTPFetcher struct {
	client *retryablehttp.Client
}

// NewHTTPFetcher creates a manager fetcher. Non-positive waits fall back to defaults,
// a negative retryMax disables retries.
func NewHTTPFetcher(retryMax int, retryWaitMin, retryWaitMax, timeout time.Duration) *HTTPFetcher {
	if retryMax < 0 {
		retryMax = 0
	}
	if retryWaitMin <= 0 {
		retryWaitMin = DefaultRetryWaitMin
	}
	if retryWaitMax <= 0 {
		retryWaitMax = DefaultRetryWaitMax
	}

	return &HTTPFetcher{
		client: CreateRetryableClient(retryMax, retryWaitMin, retryWaitMax, timeout),
	}
}

// NewDefaultHTTPFetcher creates a manager fetcher with default retry settings.
func NewDefaultHTTPFetcher() *HTTPFetcher {
	return NewHTTPFetcher(DefaultRetryMax, DefaultRetryWaitMin, DefaultRetryWaitMax, 0)
}

// Fetch downloads and decodes the manager node list.
func (f *HTTPFetcher) Fetch(ctx context.Context, managerURL string) ([]models.NodeRecord, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, managerURL, nil)
	if err != nil {
		return nil, &FetchError{URL: managerURL, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: managerURL, Err: err}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Str("manager_url", managerURL).Msg("Failed to close manager response body")
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{URL: managerURL, StatusCode: resp.StatusCode}
	}

	var wire []models.ManagerNode
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxManagerPayload)).Decode(&wire); err != nil {
		return nil, &FetchError{URL: managerURL, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode manager payload: %w", err)}
	}

	nodes := make([]models.NodeRecord, 0, len(wire))
	for i, raw := range wire {
		node, err := raw.ToRecord()
		if err != nil {
			return nil, &FetchError{URL: managerURL, StatusCode: resp.StatusCode, Err: fmt.Errorf("node %d: %w", i, err)}
		}
		nodes = append(nodes, node)
	}

	return nodes, nil
}

// CreateRetryableClient creates the retrying HTTP client used for manager requests.
func CreateRetryableClient(retryMax int, retryWaitMin, retryWaitMax, timeout time.Duration) *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = retryMax
	client.RetryWaitMin = retryWaitMin
	client.RetryWaitMax = retryWaitMax
	client.Logger = nil
	client.CheckRetry = managerRetryPolicy
	// Hand back the last response so the caller sees the real status code.
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	if timeout > 0 {
		client.HTTPClient.Timeout = timeout
	}
	return client
}

// managerRetryPolicy retries transport errors and server errors, never client errors.
func managerRetryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	if err != nil {
		return true, nil //nolint:nilerr // retryablehttp reports the final error
	}

	if resp != nil && resp.StatusCode >= http.StatusInternalServerError && resp.StatusCode != http.StatusNotImplemented {
		return true, nil
	}

	return false, nil
}
