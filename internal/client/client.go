// Package client is an HTTP client for the tollgate API
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	app "github.com/kode4food/tollgate"
	"github.com/kode4food/tollgate/pkg/api"
)

type (
	// Client talks to a running tollgate server
	Client struct {
		httpClient *http.Client
		baseURL    string
	}

	// StatusError is returned for every non-2xx response
	StatusError struct {
		Message string
		Status  int
	}
)

const DefaultTimeout = 30 * time.Second

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
	ErrRequest  = errors.New("bad request")
	ErrServer   = errors.New("server error")
)

// NewClient creates a client for the server at baseURL
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// Health reports the status of the server
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	var res api.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Programs lists the programs registered with the server
func (c *Client) Programs(ctx context.Context) ([]api.ProgramName, error) {
	var res api.ProgramsResponse
	if err := c.do(ctx, http.MethodGet, "/programs", nil, &res); err != nil {
		return nil, err
	}
	return res.Programs, nil
}

// Start starts an execution of a program. A blank id is generated by the
// server
func (c *Client) Start(
	ctx context.Context, program api.ProgramName, id api.ExecutionID,
	input json.RawMessage,
) (*api.ExecutionState, error) {
	req := &api.StartExecutionRequest{
		Program:     program,
		ExecutionID: id,
		Input:       input,
	}
	return c.execution(ctx, http.MethodPost, "/executions", req)
}

// Get returns the state of an execution
func (c *Client) Get(
	ctx context.Context, id api.ExecutionID,
) (*api.ExecutionState, error) {
	return c.execution(ctx, http.MethodGet, executionPath(id), nil)
}

// Resume invokes an execution again
func (c *Client) Resume(
	ctx context.Context, id api.ExecutionID,
) (*api.ExecutionState, error) {
	return c.execution(ctx, http.MethodPost, executionPath(id)+"/resume", nil)
}

// Cancel ends an execution as failed
func (c *Client) Cancel(
	ctx context.Context, id api.ExecutionID,
) (*api.ExecutionState, error) {
	return c.execution(ctx, http.MethodPost, executionPath(id)+"/cancel", nil)
}

// Events returns the journal events of an execution from fromSeq on
func (c *Client) Events(
	ctx context.Context, id api.ExecutionID, fromSeq int64,
) ([]*api.JournalEvent, error) {
	path := executionPath(id) + "/events"
	if fromSeq > 0 {
		path += "?from=" + strconv.FormatInt(fromSeq, 10)
	}
	var res api.EventsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &res); err != nil {
		return nil, err
	}
	return res.Events, nil
}

// Callback returns the record of a callback token
func (c *Client) Callback(
	ctx context.Context, token api.Token,
) (*api.CallbackRecord, error) {
	var res api.CallbackRecord
	err := c.do(ctx, http.MethodGet, callbackPath(token), nil, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Resolve settles a callback with a payload
func (c *Client) Resolve(
	ctx context.Context, token api.Token, payload api.Payload,
) (*api.SettledResponse, error) {
	req := &api.ResolveRequest{Schema: payload.Schema, Data: payload.Data}
	return c.settle(ctx, callbackPath(token)+"/resolve", req)
}

// Reject settles a callback with an error message
func (c *Client) Reject(
	ctx context.Context, token api.Token, msg string,
) (*api.SettledResponse, error) {
	req := &api.RejectRequest{Error: msg}
	return c.settle(ctx, callbackPath(token)+"/reject", req)
}

func (c *Client) execution(
	ctx context.Context, method, path string, body any,
) (*api.ExecutionState, error) {
	var res api.ExecutionState
	if err := c.do(ctx, method, path, body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) settle(
	ctx context.Context, path string, body any,
) (*api.SettledResponse, error) {
	var res api.SettledResponse
	if err := c.do(ctx, http.MethodPost, path, body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) do(
	ctx context.Context, method, path string, body, out any,
) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(
		ctx, method, c.baseURL+path, reader,
	)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", app.Name+"/"+app.Version)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newStatusError(resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

func newStatusError(status int, body []byte) *StatusError {
	var res api.ErrorResponse
	msg := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &res); err == nil && res.Error != "" {
		msg = res.Error
	}
	return &StatusError{Status: status, Message: msg}
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

func (e *StatusError) Unwrap() error {
	switch {
	case e.Status == http.StatusNotFound:
		return ErrNotFound
	case e.Status == http.StatusConflict:
		return ErrConflict
	case e.Status >= 500:
		return ErrServer
	default:
		return ErrRequest
	}
}

func executionPath(id api.ExecutionID) string {
	return "/executions/" + url.PathEscape(string(id))
}

func callbackPath(token api.Token) string {
	return "/callbacks/" + url.PathEscape(string(token))
}
