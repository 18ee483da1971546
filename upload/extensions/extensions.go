// Package extensions provides an advisory lookup of the file extensions the
// upload service accepts. Results are cached and fall back to a static list;
// the lookup is not part of the upload protocol's contract.
package extensions

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/hashicorp/go-retryablehttp"
)

// DefaultExtensions is the static fallback used when the service cannot be reached.
var DefaultExtensions = []string{
	"png", "jpg", "jpeg", "gif", "pdf", "txt", "zip", "mp4", "mov", "csv", "json",
}

const defaultCacheTTL = 10 * time.Minute

type extensionsResponse struct {
	Extensions []string `json:"extensions"`
}

// Advisor fetches and caches the supported extension list.
type Advisor struct {
	httpClient *retryablehttp.Client
	baseURL    string
	logger     log.Logger
	ttl        time.Duration

	mu        sync.Mutex
	cached    []string
	fetchedAt time.Time
}

// NewAdvisor ...
func NewAdvisor(client *retryablehttp.Client, baseURL string, logger log.Logger) *Advisor {
	return &Advisor{
		httpClient: client,
		baseURL:    baseURL,
		logger:     logger,
		ttl:        defaultCacheTTL,
	}
}

// Supported reports whether fileName carries an extension the service
// advertises. Advisory only, an upload is never blocked on it.
func (a *Advisor) Supported(ctx context.Context, fileName string) bool {
	name := strings.ToLower(fileName)
	for _, ext := range a.Extensions(ctx) {
		pattern := "*." + strings.ToLower(strings.TrimPrefix(ext, "."))
		ok, err := doublestar.Match(pattern, name)
		if err != nil {
			a.logger.Warnf("Invalid extension pattern %q: %s", pattern, err)
			continue
		}
		if ok {
			return true
		}
	}
	return false
}

// Extensions returns the supported extension list, fetching it from the
// service at most once per cache TTL and falling back to DefaultExtensions
// when the service is unreachable.
func (a *Advisor) Extensions(ctx context.Context) []string {
	a.mu.Lock()
	if a.cached != nil && time.Since(a.fetchedAt) < a.ttl {
		cached := a.cached
		a.mu.Unlock()
		return cached
	}
	a.mu.Unlock()

	fetched, err := a.fetch(ctx)
	if err != nil {
		a.logger.Warnf("Failed to fetch supported extensions, using fallback list: %s", err)
		return DefaultExtensions
	}

	a.mu.Lock()
	a.cached = fetched
	a.fetchedAt = time.Now()
	a.mu.Unlock()

	return fetched
}

func (a *Advisor) fetch(ctx context.Context) ([]string, error) {
	apiURL := fmt.Sprintf("%s/supported-extensions", a.baseURL)

	req, err := retryablehttp.NewRequest(http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, err
	}
	req = req.WithContext(ctx)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func(body io.ReadCloser) {
		err := body.Close()
		if err != nil {
			a.logger.Printf(err.Error())
		}
	}(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	var response extensionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, err
	}
	if len(response.Extensions) == 0 {
		return nil, fmt.Errorf("empty extension list in response")
	}

	return response.Extensions, nil
}
