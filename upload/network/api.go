// Package network implements the upload collaborators over HTTP (and S3):
// session initiation, chunk transfer, finalization and retrieval of the
// finalized resource.
package network

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/bytedrift/go-uploadclient/upload"
)

type initiateRequest struct {
	FileName    string `json:"fileName"`
	TotalSize   int64  `json:"totalSize"`
	TotalChunks int    `json:"totalChunks"`
}

type initiateResponse struct {
	SessionID string `json:"sessionId"`
}

type finalizeResponse struct {
	DownloadLocator string `json:"downloadLocator"`
}

// errorEnvelope is the shared shape of non-success responses.
type errorEnvelope struct {
	Error string `json:"error"`
}

// unwrapError turns a non-success response into a *upload.ServerError,
// decoding the error envelope when the body carries one.
func unwrapError(operation string, resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &upload.NetworkError{Operation: operation, Err: err}
	}

	message := strings.TrimSpace(string(body))
	var envelope errorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != "" {
		message = envelope.Error
	}

	return &upload.ServerError{
		Operation:  operation,
		StatusCode: resp.StatusCode,
		Message:    message,
	}
}

// progressReader counts bytes as the HTTP transport consumes the request body.
type progressReader struct {
	reader io.Reader
	sent   int64
	report func(sentBytes int64)
}

func (r *progressReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	if n > 0 {
		r.sent += int64(n)
		r.report(r.sent)
	}
	return n, err
}
