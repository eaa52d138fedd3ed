package planet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kirillkom/imagery-acquisition/internal/core/domain"
)

func (c *Client) doJSON(ctx context.Context, method, endpoint string, payload any, out any, operation string) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", operation, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.send(req, operation)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.WrapError(domain.ErrTemporary, "decode "+operation+" response", err)
	}
	return nil
}

func (c *Client) getBytes(ctx context.Context, endpoint, operation string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", operation, err)
	}

	resp, err := c.send(req, operation)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "read "+operation+" body", err)
	}
	return data, nil
}

// send authenticates req and maps the outcome onto domain error kinds. The
// caller owns the body of a returned response.
func (c *Client) send(req *http.Request, operation string) (*http.Response, error) {
	req.SetBasicAuth(c.apiKey, "")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(operation, 0, start)
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, fmt.Errorf("planet %s request: %w", operation, err)
		}
		return nil, domain.WrapError(domain.ErrTemporary, "planet "+operation+" request", err)
	}
	c.observe(operation, resp.StatusCode, start)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, newHTTPStatusError(operation, resp)
	}
	return resp, nil
}

func (c *Client) observe(operation string, statusCode int, start time.Time) {
	if c.observer == nil {
		return
	}
	c.observer.ObserveVendorRequest(operation, statusCode, time.Since(start))
}
