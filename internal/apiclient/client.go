// Package apiclient talks to the shopping list sync server over HTTP.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"shoplist-sync-server/internal/domain"
)

// API is the part of the server the sync engine needs. *Client implements it.
type API interface {
	FetchLists(ctx context.Context) ([]*domain.OwnerList, error)
	ApplyBatch(ctx context.Context, ops []domain.Operation) (int, error)
	RenameList(ctx context.Context, label string) (string, error)
}

var _ API = (*Client)(nil)

const (
	apiPrefix        = "/api/v1"
	defaultUserAgent = "shopsync/1.0"
	requestTimeout   = 15 * time.Second
)

// Client is an authenticated HTTP client for the list endpoints.
type Client struct {
	baseURL   *url.URL
	http      *http.Client
	token     string
	userAgent string
}

func NewClient(serverURL, token string) (*Client, error) {
	base, err := parseBaseURL(serverURL)
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL: base,
		http: &http.Client{
			Timeout: requestTimeout,
		},
		token:     token,
		userAgent: defaultUserAgent,
	}, nil
}

// FetchLists returns every list the caller can see, own list first.
func (c *Client) FetchLists(ctx context.Context) ([]*domain.OwnerList, error) {
	var payload domain.ListsResponse
	if err := c.do(ctx, http.MethodGet, "/lists", nil, &payload); err != nil {
		return nil, err
	}
	return payload.Lists, nil
}

// ApplyBatch posts ops as one ordered batch and returns how many were applied.
func (c *Client) ApplyBatch(ctx context.Context, ops []domain.Operation) (int, error) {
	var payload domain.BatchResponse
	if err := c.do(ctx, http.MethodPost, "/lists/batch", domain.BatchRequest{Operations: ops}, &payload); err != nil {
		return 0, err
	}
	return payload.Applied, nil
}

func (c *Client) RenameList(ctx context.Context, label string) (string, error) {
	var payload domain.RenameListResponse
	if err := c.do(ctx, http.MethodPut, "/lists/label", domain.RenameListRequest{Label: label}, &payload); err != nil {
		return "", err
	}
	return payload.Label, nil
}

// Me returns the caller's roster entry and the owners who shared a list.
func (c *Client) Me(ctx context.Context) (*domain.MeResponse, error) {
	var payload domain.MeResponse
	if err := c.do(ctx, http.MethodGet, "/me", nil, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// LiveURL is the websocket address of the change feed, token included.
func (c *Client) LiveURL() string {
	u := *c.baseURL
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + apiPrefix + "/live"
	q := url.Values{}
	if c.token != "" {
		q.Set("token", c.token)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Client) do(ctx context.Context, method, path string, body, dest any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	reqURL := c.baseURL.ResolveReference(&url.URL{Path: strings.TrimSuffix(c.baseURL.Path, "/") + apiPrefix + path})
	req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s %s: %v", ErrTransient, method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	var body struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err == nil {
		apiErr.Message = body.Error
		apiErr.Code = body.Code
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

func parseBaseURL(serverURL string) (*url.URL, error) {
	trimmed := strings.TrimSpace(serverURL)
	if trimmed == "" {
		return nil, errors.New("server url is empty")
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse server url %q: %w", serverURL, err)
	}
	u.Path = strings.TrimSuffix(strings.TrimSuffix(u.Path, "/"), apiPrefix)
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}
