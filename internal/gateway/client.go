/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/http2"
)

const maxResponseBytes = 4 << 20

// NewHTTPClient builds the HTTP/2 capable client used for upstream calls.
func NewHTTPClient(timeout time.Duration) (*http.Client, error) {
	tr := &http.Transport{
		ResponseHeaderTimeout: timeout,
		Proxy:                 http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			KeepAlive: 30 * time.Second,
			Timeout:   15 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConnsPerHost:   5,
		ExpectContinueTimeout: 5 * time.Second,
	}

	if err := http2.ConfigureTransport(tr); err != nil {
		return nil, err
	}

	return &http.Client{
		Transport: tr,
		Timeout:   timeout,
	}, nil
}

// post sends one form-encoded attempt bound to the provider timeout.
func (g *Gateway) post(ctx context.Context, endpoint string, form url.Values) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, g.endpointURL(endpoint), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &UpstreamError{Kind: Permanent, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			// The caller gave up; nothing left to retry for.
			return nil, &UpstreamError{Kind: Permanent, Err: ctx.Err()}
		}
		return nil, &UpstreamError{Kind: classifyTransportError(err), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &UpstreamError{Kind: Transient, Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}

	upErr := &UpstreamError{
		Kind:   classifyStatus(resp.StatusCode),
		Status: resp.StatusCode,
		Err:    errors.New(snippet(body, http.StatusText(resp.StatusCode))),
	}
	if upErr.Kind == RateLimited {
		if d, ok := parseRetryAfter(resp.Header.Get("Retry-After"), g.clock.Now()); ok {
			upErr.RetryAfter = d
		}
	}
	return nil, upErr
}

func (g *Gateway) endpointURL(endpoint string) string {
	return strings.TrimRight(g.cfg.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
}

// DecodeResponse parses a JSON object body and rejects in-band provider errors.
func DecodeResponse(body []byte) (map[string]any, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: empty body", ErrBadResponse)
	}

	for _, key := range []string{"erro", "error"} {
		switch v := raw[key].(type) {
		case bool:
			if v {
				return nil, fmt.Errorf("%w: provider reported an error", ErrBadResponse)
			}
		case string:
			if v != "" {
				return nil, fmt.Errorf("%w: %s", ErrBadResponse, v)
			}
		}
	}
	return raw, nil
}

func snippet(body []byte, fallback string) string {
	s := strings.TrimSpace(string(body))
	if s == "" {
		return fallback
	}
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
