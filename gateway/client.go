package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rickchristie/relay"
	"github.com/rickchristie/relay/bus"
)

// APIError is a non-2xx gateway response. It matches the bus sentinel its
// status stands for, so callers can use errors.Is as with a local bus.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway: %d: %s", e.Status, e.Message)
}

// Is maps the status back to a bus error.
func (e *APIError) Is(target error) bool {
	switch e.Status {
	case http.StatusNotFound:
		return target == bus.ErrNotFound
	case http.StatusConflict:
		return target == bus.ErrInvalidTransition
	case http.StatusBadRequest:
		return target == bus.ErrInvalidMessage
	case http.StatusForbidden:
		return (target == bus.ErrNotClaimant || target == bus.ErrNotRecipient) &&
			strings.Contains(e.Message, target.Error())
	}
	return false
}

// Client calls a relay gateway. Its bus methods mirror *bus.Service.
type Client struct {
	base  string
	role  relay.Role
	agent string
	runID string
	http  *http.Client
}

// NewClient creates a client for the gateway at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		role: relay.RoleLeader,
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

// WithIdentity sets the headers sent with every request.
func (c *Client) WithIdentity(role relay.Role, agentID, runID string) *Client {
	c.role = role
	c.agent = agentID
	c.runID = runID
	return c
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	if hc != nil {
		c.http = hc
	}
	return c
}

// do sends a request and decodes a 2xx body into out. With tolerate, those
// statuses are decoded into out as well instead of becoming errors.
func (c *Client) do(ctx context.Context, method, path string, in, out any, tolerate ...int) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request: %w", err)
	}
	defer resp.Body.Close()

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	for _, code := range tolerate {
		ok = ok || resp.StatusCode == code
	}
	if !ok {
		return apiError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderRole, string(c.role))
	if c.agent != "" {
		req.Header.Set(HeaderAgent, c.agent)
	}
	if c.runID != "" {
		req.Header.Set(HeaderRunID, c.runID)
	}
	return req, nil
}

func apiError(resp *http.Response) *APIError {
	var e struct {
		Error string `json:"error"`
	}
	json.NewDecoder(resp.Body).Decode(&e)
	return &APIError{Status: resp.StatusCode, Message: e.Error}
}

// -----------------------------------------------------------------------------
// Dispatch and hooks
// -----------------------------------------------------------------------------

// Dispatch posts payload to the gateway. Aborted dispatches come back as a
// response with Error set, not as an error.
func (c *Client) Dispatch(ctx context.Context, event relay.HookEvent, payload relay.HookPayload) (DispatchResponse, error) {
	var out DispatchResponse
	err := c.do(ctx, http.MethodPost, "/v1/dispatch/"+url.PathEscape(string(event)), payload, &out,
		http.StatusForbidden, http.StatusBadRequest)
	return out, err
}

// Hooks lists registrations.
func (c *Client) Hooks(ctx context.Context) (HooksResponse, error) {
	var out HooksResponse
	err := c.do(ctx, http.MethodGet, "/v1/hooks", nil, &out)
	return out, err
}

// -----------------------------------------------------------------------------
// Bus
// -----------------------------------------------------------------------------

func (c *Client) Send(req bus.SendRequest) (string, error) {
	var out map[string]string
	if err := c.do(context.Background(), http.MethodPost, "/v1/messages", req, &out); err != nil {
		return "", err
	}
	return out["id"], nil
}

func (c *Client) Claim(id, agent string) (bus.Message, error) {
	var m bus.Message
	err := c.as(agent).do(context.Background(), http.MethodPost, "/v1/messages/"+url.PathEscape(id)+"/claim", nil, &m)
	return m, err
}

func (c *Client) Ack(id, agent string) error {
	return c.as(agent).do(context.Background(), http.MethodPost, "/v1/messages/"+url.PathEscape(id)+"/ack", nil, nil)
}

func (c *Client) Complete(id, agent string, success bool, result string) error {
	req := CompleteRequest{Success: &success, Result: result}
	return c.as(agent).do(context.Background(), http.MethodPost, "/v1/messages/"+url.PathEscape(id)+"/complete", req, nil)
}

func (c *Client) Release(id, agent string) error {
	return c.as(agent).do(context.Background(), http.MethodPost, "/v1/messages/"+url.PathEscape(id)+"/release", nil, nil)
}

func (c *Client) Get(id string) (bus.Message, error) {
	var m bus.Message
	err := c.do(context.Background(), http.MethodGet, "/v1/messages/"+url.PathEscape(id), nil, &m)
	return m, err
}

func (c *Client) List(filter bus.ListFilter) (bus.ListResult, error) {
	q := url.Values{}
	if filter.Status != "" {
		q.Set("status", string(filter.Status))
	}
	if filter.ToAgent != "" {
		q.Set("to", filter.ToAgent)
	}
	if filter.FromAgent != "" {
		q.Set("from", filter.FromAgent)
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	path := "/v1/messages"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out bus.ListResult
	err := c.do(context.Background(), http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) ListForAgent(agent string, includeClaimed bool, limit int) ([]bus.Message, error) {
	q := url.Values{}
	if includeClaimed {
		q.Set("include_claimed", "true")
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/v1/agents/" + url.PathEscape(agent) + "/inbox"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out struct {
		Messages []bus.Message `json:"messages"`
	}
	err := c.do(context.Background(), http.MethodGet, path, nil, &out)
	return out.Messages, err
}

func (c *Client) Stats() (bus.Stats, error) {
	var out bus.Stats
	err := c.do(context.Background(), http.MethodGet, "/v1/messages/stats", nil, &out)
	return out, err
}

// Cleanup rounds olderThan down to whole hours.
func (c *Client) Cleanup(olderThan time.Duration) (int, error) {
	hours := int(olderThan / time.Hour)
	var out map[string]int
	err := c.do(context.Background(), http.MethodPost, "/v1/messages/cleanup?older_than_hours="+strconv.Itoa(hours), nil, &out)
	return out["removed"], err
}

func (c *Client) Delete(id string) error {
	return c.do(context.Background(), http.MethodDelete, "/v1/messages/"+url.PathEscape(id), nil, nil)
}

// as returns a copy of c acting as agent.
func (c *Client) as(agent string) *Client {
	cp := *c
	cp.agent = agent
	return &cp
}
