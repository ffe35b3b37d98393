package jsonclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"
)

// maximum response body size read from the API
const maxBodyBytes = 5 << 20

type Config struct {
	// HTTP client to use. A client without timeout is used if nil;
	// cancellation is driven by the request context only.
	HTTPClient *http.Client
	// Logger to use. Logging is disabled if nil.
	Logger *zerolog.Logger
}

// Client issues JSON requests against a REST API.
// Every call makes exactly one attempt.
type Client struct {
	httpClient *http.Client
	log        zerolog.Logger
}

func New(config Config) *Client {
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := zerolog.Nop()
	if config.Logger != nil {
		logger = config.Logger.With().Str("component", "jsonclient").Logger()
	}
	return &Client{
		httpClient: httpClient,
		log:        logger,
	}
}

// GetJSON issues a GET request to url and decodes the JSON response body into out.
func (c *Client) GetJSON(ctx context.Context, url string, out any) error {
	return c.do(ctx, http.MethodGet, url, nil, out)
}

// PostJSON issues a POST request to url with payload serialized as JSON
// and decodes the JSON response body into out.
func (c *Client) PostJSON(ctx context.Context, url string, payload any, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request payload: %w", err)
	}
	return c.do(ctx, http.MethodPost, url, raw, out)
}

func (c *Client) do(ctx context.Context, method, url string, body []byte, out any) error {
	if ctx.Err() != nil {
		return canceled(ctx)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	c.log.Trace().Str("method", method).Str("url", url).Msg("Sending request")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			c.log.Debug().Str("method", method).Str("url", url).Msg("Request canceled")
			return canceled(ctx)
		}
		c.log.Debug().Err(err).Str("method", method).Str("url", url).Msg("Request failed")
		return &TransportError{Method: method, URL: url, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if ctx.Err() != nil {
			return canceled(ctx)
		}
		return &TransportError{Method: method, URL: url, Err: fmt.Errorf("read body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.Debug().Str("method", method).Str("url", url).Int("http-status", resp.StatusCode).Msg("Non-success response")
		return &HTTPError{Method: method, URL: url, Status: resp.StatusCode}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		c.log.Debug().Err(err).Str("url", url).Msg("Could not decode response")
		return &DecodeError{URL: url, Err: err}
	}
	c.log.Trace().Str("method", method).Str("url", url).Int("http-status", resp.StatusCode).Msg("Response decoded")
	return nil
}

// canceled wraps the context cause so callers can match both ErrCanceled and context.Canceled.
func canceled(ctx context.Context) error {
	return fmt.Errorf("%w: %w", ErrCanceled, context.Cause(ctx))
}
