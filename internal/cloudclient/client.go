// Package cloudclient implements the daemon's optional cloud control-plane
// contract.
package cloudclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// httpTimeout bounds every cloud HTTP call.
const httpTimeout = 15 * time.Second

// call is one queued cloud operation, run by the single session goroutine
// so connection reuse and backoff state stay coherent.
type call struct {
	fn   func(ctx context.Context) (any, error)
	resp chan callResult
}

type callResult struct {
	val any
	err error
}

// Client talks to the cloud control plane over one persistent HTTP
// connection, serialized through a single session goroutine.
type Client struct {
	baseURL   string
	deviceKey string
	http      *http.Client
	retry     RetryPolicy

	calls chan call
	done  chan struct{}
}

// RetryPolicy configures reportResult's backoff.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy returns a conservative default: 6 attempts,
// 100ms-1.6s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 6, BaseDelay: 100 * time.Millisecond, MaxDelay: 1600 * time.Millisecond}
}

// New builds a Client. deviceKey may be empty before the first
// registration.
func New(baseURL, deviceKey string, retry RetryPolicy) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		deviceKey: deviceKey,
		http:      &http.Client{Timeout: httpTimeout},
		retry:     retry,
		calls:     make(chan call),
		done:      make(chan struct{}),
	}
}

// SetDeviceKey updates the key used on subsequent authenticated calls,
// e.g. after Register or re-registration on a 401.
func (c *Client) SetDeviceKey(key string) { c.deviceKey = key }

func (c *Client) DeviceKey() string { return c.deviceKey }

// Run is the session goroutine's body. It must be started before any
// public method is called and exits when ctx is cancelled.
func (c *Client) Run(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-c.calls:
			val, err := req.fn(ctx)
			req.resp <- callResult{val: val, err: err}
		}
	}
}

// Wait blocks until Run has exited.
func (c *Client) Wait() { <-c.done }

func (c *Client) dispatch(ctx context.Context, fn func(context.Context) (any, error)) (any, error) {
	resp := make(chan callResult, 1)
	select {
	case c.calls <- call{fn: fn, resp: resp}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-resp:
		return r.val, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Register issues POST /auth and persists the returned device key for the
// caller to save into config.
func (c *Client) Register(ctx context.Context, email, password string) (RegisterResponse, error) {
	v, err := c.dispatch(ctx, func(ctx context.Context) (any, error) {
		var out RegisterResponse
		err := c.doJSON(ctx, http.MethodPost, "/auth", false, RegisterRequest{Email: email, Password: password}, &out)
		return out, err
	})
	if err != nil {
		return RegisterResponse{}, err
	}
	res := v.(RegisterResponse)
	if res.DeviceKey != "" {
		c.deviceKey = res.DeviceKey
	}
	return res, nil
}

// Heartbeat sends the current liveness status and running task IDs. A
// heartbeat failure is never fatal; the caller logs and continues.
func (c *Client) Heartbeat(ctx context.Context, status string, currentTaskIDs []string) (HeartbeatResponse, error) {
	v, err := c.dispatch(ctx, func(ctx context.Context) (any, error) {
		var out HeartbeatResponse
		err := c.doJSON(ctx, http.MethodPost, "/daemon/heartbeat", true, HeartbeatRequest{Status: status, CurrentTasks: currentTaskIDs}, &out)
		return out, err
	})
	if err != nil {
		return HeartbeatResponse{}, err
	}
	return v.(HeartbeatResponse), nil
}

// PullTasks issues GET /daemon/tasks. The server has already leased each
// returned task to RUNNING before responding; the daemon owns
// them unconditionally from this call onward.
func (c *Client) PullTasks(ctx context.Context) ([]RemoteTask, error) {
	v, err := c.dispatch(ctx, func(ctx context.Context) (any, error) {
		var out []RemoteTask
		err := c.doJSON(ctx, http.MethodGet, "/daemon/tasks", true, nil, &out)
		return out, err
	})
	if err != nil {
		return nil, err
	}
	return v.([]RemoteTask), nil
}

// ReportResult posts the outcome of a cloud-sourced task, retrying with
// exponential backoff up to retry.MaxAttempts times. After exhaustion the
// result is dropped; the caller is responsible for logging it as
// "result-lost" so the failure is visible in the daemon's own logs.
func (c *Client) ReportResult(ctx context.Context, taskID string, body ResultRequest) error {
	_, err := c.dispatch(ctx, func(ctx context.Context) (any, error) {
		op := func() (struct{}, error) {
			var out struct{}
			path := fmt.Sprintf("/daemon/tasks/%s/result", taskID)
			if postErr := c.doJSON(ctx, http.MethodPost, path, true, body, &out); postErr != nil {
				return struct{}{}, postErr
			}
			return struct{}{}, nil
		}
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = c.retry.BaseDelay
		bo.MaxInterval = c.retry.MaxDelay
		_, err := backoff.Retry(ctx, op,
			backoff.WithBackOff(bo),
			backoff.WithMaxTries(uint(c.retry.MaxAttempts)),
		)
		return nil, err
	})
	return err
}

// Unregister issues POST /daemon/offline. Nothing in the daemon calls it:
// the orchestrator's shutdown does not, and no CLI command exposes it. The device key otherwise stays valid until the device is explicitly
// unregistered.
func (c *Client) Unregister(ctx context.Context) error {
	_, err := c.dispatch(ctx, func(ctx context.Context) (any, error) {
		var out struct{}
		return nil, c.doJSON(ctx, http.MethodPost, "/daemon/offline", true, nil, &out)
	})
	return err
}

func (c *Client) doJSON(ctx context.Context, method, path string, authed bool, body, out any) error {
	return doRequest(ctx, c.http, c.baseURL, method, path, c.deviceKey, authed, body, out)
}

// doRequest is the free-standing HTTP+envelope logic shared by Client's
// session goroutine and RegisterDevice, which runs before any Client
// exists.
func doRequest(ctx context.Context, httpClient *http.Client, baseURL, method, path, deviceKey string, authed bool, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, baseURL+"/v1"+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if authed {
		req.Header.Set("X-Device-Key", deviceKey)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}

	var env envelope[json.RawMessage]
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !env.OK {
		if env.Error != nil {
			return fmt.Errorf("cloud error %s: %s", env.Error.Code, env.Error.Message)
		}
		return fmt.Errorf("cloud request failed with status %d", resp.StatusCode)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode data: %w", err)
		}
	}
	return nil
}

// RegisterDevice issues POST /auth directly, without a running Client
// session goroutine. start uses this once at startup, before any Client
// exists, to obtain a device key worth persisting.
func RegisterDevice(ctx context.Context, baseURL, email, password string) (RegisterResponse, error) {
	httpClient := &http.Client{Timeout: httpTimeout}
	var out RegisterResponse
	err := doRequest(ctx, httpClient, strings.TrimRight(baseURL, "/"), http.MethodPost, "/auth", "", false, RegisterRequest{Email: email, Password: password}, &out)
	if err != nil {
		return RegisterResponse{}, err
	}
	return out, nil
}

// ErrUnauthorized signals a 401; callers re-register once, then degrade
// to a best-effort mode if that also fails.
var ErrUnauthorized = fmt.Errorf("cloud: unauthorized (401)")
