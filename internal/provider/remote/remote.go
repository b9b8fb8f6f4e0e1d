// Package remote implements a filesystem provider backed by a slatefs
// export server over HTTP.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/slatefs/slatefs/internal/logging"
	"github.com/slatefs/slatefs/internal/metrics"
	"github.com/slatefs/slatefs/pkg/protocol"
	"github.com/slatefs/slatefs/pkg/retry"
	"github.com/slatefs/slatefs/pkg/vfs"
)

// Client talks to an export server and satisfies vfs.Provider and
// vfs.StatProvider.
type Client struct {
	baseURL    string
	httpClient *http.Client
	policy     retry.Policy

	mu       sync.RWMutex
	online   bool
	lastPing time.Time
	token    string
}

// Config holds client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Policy  retry.Policy
	Token   string
}

// New creates a new client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Policy.Attempts == 0 {
		cfg.Policy = retry.DefaultPolicy()
	}

	return &Client{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		policy: cfg.Policy,
		online: true,
		token:  cfg.Token,
	}
}

// SetToken sets the JWT auth token for requests.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *Client) applyAuth(req *http.Request) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// IsOnline returns true if the server was reachable on the last request.
func (c *Client) IsOnline() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.online
}

func (c *Client) setOnline(online bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.online != online {
		if online {
			logging.Info("server is back online")
		} else {
			logging.Error("server is offline")
		}
	}
	c.online = online
	c.lastPing = time.Now()
}

// Ping checks if the server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.setOnline(false)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.setOnline(false)
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}

	c.setOnline(true)
	return nil
}

// Login exchanges credentials for a token and installs it on the client.
func (c *Client) Login(ctx context.Context, username, password string) (*protocol.LoginResponse, error) {
	body, err := json.Marshal(protocol.LoginRequest{Username: username, Password: password})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/login", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.setOnline(false)
		return nil, err
	}
	defer resp.Body.Close()
	c.setOnline(true)

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("login", resp)
	}

	var lr protocol.LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return nil, err
	}
	c.SetToken(lr.Token)
	return &lr, nil
}

// ReadDirectory fetches a directory listing.
func (c *Client) ReadDirectory(ctx context.Context, path string, extendData any) (entries []vfs.DirEntry, err error) {
	start := time.Now()
	defer func() { metrics.RecordProviderRequest("dir", err, time.Since(start)) }()

	return retry.Do(ctx, c.policy, func() ([]vfs.DirEntry, error) {
		var dr protocol.DirResponse
		if err := c.getJSON(ctx, "/api/v1/dir", path, extendData, &dr); err != nil {
			return nil, err
		}

		out := make([]vfs.DirEntry, 0, len(dr.Entries))
		for _, e := range dr.Entries {
			typ := vfs.EntryFile
			if e.Type == protocol.TypeDirectory {
				typ = vfs.EntryDirectory
			}
			var extend any
			if e.Extend != "" {
				extend = e.Extend
			}
			out = append(out, vfs.DirEntry{Name: e.Name, Type: typ, ExtendData: extend})
		}
		return out, nil
	})
}

// ReadFile fetches a file's full content.
func (c *Client) ReadFile(ctx context.Context, path string, extendData any) (data []byte, err error) {
	start := time.Now()
	defer func() { metrics.RecordProviderRequest("file", err, time.Since(start)) }()

	return retry.Do(ctx, c.policy, func() ([]byte, error) {
		req, err := c.newGet(ctx, "/api/v1/file", path, extendData)
		if err != nil {
			return nil, err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.setOnline(false)
			return nil, retry.Transient(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, c.checkStatus("read "+path, resp)
		}
		c.setOnline(true)

		return io.ReadAll(resp.Body)
	})
}

// Stat fetches a file's size.
func (c *Client) Stat(ctx context.Context, path string, extendData any) (res vfs.StatResult, err error) {
	start := time.Now()
	defer func() { metrics.RecordProviderRequest("stat", err, time.Since(start)) }()

	return retry.Do(ctx, c.policy, func() (vfs.StatResult, error) {
		var sr protocol.StatResponse
		if err := c.getJSON(ctx, "/api/v1/stat", path, extendData, &sr); err != nil {
			return vfs.StatResult{}, err
		}
		return vfs.StatResult{Size: sr.Size}, nil
	})
}

func (c *Client) newGet(ctx context.Context, endpoint, path string, extendData any) (*http.Request, error) {
	q := url.Values{"path": {path}}
	if token, ok := extendData.(string); ok && token != "" {
		q.Set("extend", token)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	c.applyAuth(req)
	return req, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint, path string, extendData any, out any) error {
	req, err := c.newGet(ctx, endpoint, path, extendData)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.setOnline(false)
		return retry.Transient(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.checkStatus(endpoint+" "+path, resp)
	}
	c.setOnline(true)

	return json.NewDecoder(resp.Body).Decode(out)
}

// checkStatus turns a non-200 response into an error, marking 5xx as
// transient so the retry loop takes another pass.
func (c *Client) checkStatus(op string, resp *http.Response) error {
	if resp.StatusCode >= 500 {
		c.setOnline(false)
		return retry.Transient(statusError(op, resp))
	}
	c.setOnline(true)
	err := statusError(op, resp)
	logging.Warn("request rejected", zap.String("op", op), zap.Error(err))
	return err
}

func statusError(op string, resp *http.Response) error {
	var er protocol.ErrorResponse
	if json.NewDecoder(resp.Body).Decode(&er) == nil && er.Error != "" {
		return fmt.Errorf("%s: %s (status %d)", op, er.Error, resp.StatusCode)
	}
	return fmt.Errorf("%s: server returned %d", op, resp.StatusCode)
}
