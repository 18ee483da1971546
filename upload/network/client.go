package network

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/bytedrift/go-uploadclient/upload"
)

// ClientParams ...
type ClientParams struct {
	APIBaseURL  string
	AccessToken string
}

// ParamsFromEnv reads the client parameters from the environment.
func ParamsFromEnv(envRepo env.Repository) (ClientParams, error) {
	baseURL := envRepo.Get("UPLOAD_API_BASE_URL")
	if baseURL == "" {
		return ClientParams{}, fmt.Errorf("UPLOAD_API_BASE_URL is not set")
	}

	return ClientParams{
		APIBaseURL:  baseURL,
		AccessToken: envRepo.Get("UPLOAD_API_ACCESS_TOKEN"),
	}, nil
}

// Client talks to the upload API. It implements upload.SessionInitiator,
// upload.ChunkTransport and upload.CompletionFinalizer.
type Client struct {
	httpClient  *retryablehttp.Client
	chunkClient *http.Client
	baseURL     string
	accessToken string
	logger      log.Logger
}

// NewClient creates a Client over the given retryable HTTP client.
// Session control calls (initiate, finalize) go through the retryable client;
// chunk payloads are sent on the underlying plain client because a failed
// chunk is terminal for the attempt and retrying is the caller's decision.
func NewClient(client *retryablehttp.Client, baseURL string, accessToken string, logger log.Logger) *Client {
	return &Client{
		httpClient:  client,
		chunkClient: client.HTTPClient,
		baseURL:     baseURL,
		accessToken: accessToken,
		logger:      logger,
	}
}

// DefaultClient creates a Client with the default retry behavior.
func DefaultClient(params ClientParams, logger log.Logger) *Client {
	return NewClient(retryhttp.NewClient(logger), params.APIBaseURL, params.AccessToken, logger)
}

// Initiate opens a new upload session for the given file.
func (c *Client) Initiate(ctx context.Context, fileName string, totalSize int64, totalChunks int) (string, error) {
	apiURL := fmt.Sprintf("%s/uploads", c.baseURL)

	body, err := json.Marshal(initiateRequest{
		FileName:    fileName,
		TotalSize:   totalSize,
		TotalChunks: totalChunks,
	})
	if err != nil {
		return "", err
	}

	req, err := retryablehttp.NewRequest(http.MethodPost, apiURL, body)
	if err != nil {
		return "", err
	}
	req = req.WithContext(ctx)
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.accessToken))
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &upload.NetworkError{Operation: "initiate", Err: err}
	}
	defer func(body io.ReadCloser) {
		err := body.Close()
		if err != nil {
			c.logger.Printf(err.Error())
		}
	}(resp.Body)

	if resp.StatusCode != http.StatusCreated {
		return "", unwrapError("initiate", resp)
	}

	var response initiateResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return "", &upload.NetworkError{Operation: "initiate", Err: err}
	}
	if response.SessionID == "" {
		return "", &upload.ServerError{Operation: "initiate", StatusCode: resp.StatusCode, Message: "empty session id in response"}
	}

	c.logger.Debugf("Session ID: %s", response.SessionID)
	return response.SessionID, nil
}

// SendChunk uploads one chunk's raw bytes, addressed by session id and
// 1-based chunk index. The body is streamed through a counting reader so
// partial progress reaches onProgress while the transfer is in flight.
func (c *Client) SendChunk(ctx context.Context, sessionID string, chunk upload.Chunk, body io.Reader, onProgress func(sentBytes int64)) error {
	apiURL := fmt.Sprintf("%s/uploads/%s/chunks/%d", c.baseURL, url.PathEscape(sessionID), chunk.Index)
	operation := fmt.Sprintf("upload chunk %d", chunk.Index)

	reader := body
	if onProgress != nil {
		reader = &progressReader{reader: body, report: onProgress}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, apiURL, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.accessToken))
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Request-Id", uuid.NewString())
	req.ContentLength = chunk.Size()

	resp, err := c.chunkClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("chunk %d upload cancelled: %w", chunk.Index, ctx.Err())
		}
		return &upload.NetworkError{Operation: operation, Err: err}
	}
	defer func(body io.ReadCloser) {
		err := body.Close()
		if err != nil {
			c.logger.Printf(err.Error())
		}
	}(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return unwrapError(operation, resp)
	}

	return nil
}

// Finalize closes a fully uploaded session and returns the download locator.
func (c *Client) Finalize(ctx context.Context, sessionID string) (string, error) {
	apiURL := fmt.Sprintf("%s/uploads/%s/finalize", c.baseURL, url.PathEscape(sessionID))

	req, err := retryablehttp.NewRequest(http.MethodPost, apiURL, nil)
	if err != nil {
		return "", err
	}
	req = req.WithContext(ctx)
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.accessToken))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &upload.NetworkError{Operation: "finalize", Err: err}
	}
	defer func(body io.ReadCloser) {
		err := body.Close()
		if err != nil {
			c.logger.Printf(err.Error())
		}
	}(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return "", unwrapError("finalize", resp)
	}

	var response finalizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return "", &upload.NetworkError{Operation: "finalize", Err: err}
	}
	if _, err := url.ParseRequestURI(response.DownloadLocator); err != nil {
		return "", &upload.ServerError{Operation: "finalize", StatusCode: resp.StatusCode, Message: fmt.Sprintf("invalid download locator %q", response.DownloadLocator)}
	}

	return response.DownloadLocator, nil
}
