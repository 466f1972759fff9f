package storage

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPDoer is the default storage.Doer, a thin wrapper over
// *http.Client the way the teacher's CLI commands use http.Client
// directly (internal/client/send_cmd.go, register_cmd.go) but unified
// behind one type so internal/relay never imports net/http itself.
type HTTPDoer struct {
	Client *http.Client
}

// NewHTTPDoer builds an HTTPDoer with the given per-call timeout
// (spec §6 "relay_ajax_timeout").
func NewHTTPDoer(timeout time.Duration) *HTTPDoer {
	return &HTTPDoer{Client: &http.Client{Timeout: timeout}}
}

func (d *HTTPDoer) Do(ctx context.Context, method, url string, headers map[string]string, body string) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, strings.NewReader(body))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Accept", "text/plain")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := d.Client.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", resp.StatusCode, err
	}
	return string(respBody), resp.StatusCode, nil
}
