// Package requestdata talks to the TCRS internal API, which owns request
// data and the documents generation table.
package requestdata

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/JuampaBiron/tcrs-document-processor/internal/models"
)

const (
	functionKeyHeader = "x-function-key"
	maxErrorBody      = 512
	maxResponseBody   = 10 << 20
)

var ErrMissingSource = errors.New("request data has no invoice PDF location")

// APIError is a non-success answer from the internal API.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %d - %s", e.Op, e.StatusCode, e.Body)
}

// Client calls the internal API with the shared function key.
type Client struct {
	baseURL     string
	functionKey string
	timeout     time.Duration
	http        *http.Client
}

func NewClient(baseURL, functionKey string, timeout time.Duration, httpClient *http.Client) (*Client, error) {
	if baseURL == "" || functionKey == "" {
		return nil, fmt.Errorf("TCRS_API_BASE_URL and INTERNAL_FUNCTION_KEY must be set")
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		functionKey: functionKey,
		timeout:     timeout,
		http:        httpClient,
	}, nil
}

// FetchRequestData returns the current data for requestID. It is never
// cached; retries must see what the approval system holds now.
func (c *Client) FetchRequestData(ctx context.Context, requestID string) (*models.RemoteRequestData, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.baseURL + "/api/internal/request-data/" + url.PathEscape(requestID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(functionKeyHeader, c.functionKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to TCRS API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Op: "fetch request data", StatusCode: resp.StatusCode, Body: readErrorBody(resp.Body)}
	}

	var data models.RemoteRequestData
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(&data); err != nil {
		return nil, fmt.Errorf("decode request data: %w", err)
	}
	if strings.TrimSpace(data.InvoicePdfURL) == "" {
		return nil, ErrMissingSource
	}
	if data.RequestID == "" {
		data.RequestID = requestID
	}

	slog.Info("Fetched request data.", "requestId", requestID, "codingLines", len(data.GLCodingData))
	return &data, nil
}

// UpdateStatus writes rec to the documents generation table. 200 and 204 are
// both success.
func (c *Client) UpdateStatus(ctx context.Context, rec models.GenerationStatusRecord) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}
	endpoint := c.baseURL + "/api/internal/documents-generation/" + url.PathEscape(rec.RequestID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set(functionKeyHeader, c.functionKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to TCRS API for status update: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	default:
		return &APIError{Op: "update generation status", StatusCode: resp.StatusCode, Body: readErrorBody(resp.Body)}
	}
}

func readErrorBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return strings.TrimSpace(string(b))
}
