package tts

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"time"
)

// doWithRetry sends a request built by newReq, retrying transport errors,
// 429 and 5xx with exponential backoff. The caller owns the returned body.
// parse turns a non-2xx response into an error and must not close it.
func doWithRetry(ctx context.Context, client *http.Client, cfg *Config, logger *slog.Logger,
	newReq func() (*http.Request, error), parse func(*http.Response) error) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff(cfg.RetryDelay, attempt)):
			}
		}

		req, err := newReq()
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			logger.Warn("retrying request", "attempt", attempt+1, "error", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = parse(resp)
			resp.Body.Close()
			logger.Warn("retrying request", "attempt", attempt+1, "status", resp.StatusCode)
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			err := parse(resp)
			resp.Body.Close()
			return nil, err
		}
		return resp, nil
	}

	return nil, lastErr
}

// jsonRequest returns a request factory that replays the same body.
func jsonRequest(ctx context.Context, url string, body []byte, headers map[string]string) func() (*http.Request, error) {
	return func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		return req, nil
	}
}

// backoff is the wait before retry attempt n (n >= 1): delay, 2*delay, 4*delay...
func backoff(delay time.Duration, n int) time.Duration {
	if n < 1 {
		return 0
	}
	return delay << (n - 1)
}
