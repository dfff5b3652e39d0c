package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/rickchristie/relay"
	"github.com/rickchristie/relay/events"
)

// maxFeedLine caps one server-sent event line.
const maxFeedLine = 1 << 20

// EventFilter narrows Events. Zero fields match everything.
type EventFilter struct {
	RunID string
	Event relay.HookEvent
}

// Events streams the gateway's dispatch feed, calling fn for each entry until
// ctx is done, the server ends the stream, or fn returns an error. A
// cancelled ctx returns nil.
func (c *Client) Events(ctx context.Context, filter EventFilter, fn func(events.Entry) error) error {
	q := url.Values{}
	if filter.RunID != "" {
		q.Set("run_id", filter.RunID)
	}
	if filter.Event != "" {
		q.Set("event", string(filter.Event))
	}
	path := "/v1/events"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	// The stream is long-lived; only ctx ends it.
	hc := *c.http
	hc.Timeout = 0
	resp, err := hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("gateway request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFeedLine)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		var e events.Entry
		if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &e); err != nil {
			return fmt.Errorf("decoding feed entry: %w", err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("reading feed: %w", err)
	}
	return nil
}
