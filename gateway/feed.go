package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rickchristie/relay"
	"github.com/rickchristie/relay/events"
)

// feedKeepAlive is how often an idle event stream gets a comment line.
const feedKeepAlive = 15 * time.Second

// handleEvents streams feed entries as server-sent events until the client
// goes away or the feed closes. ?run_id= narrows to one dispatch and ?event=
// to one hook event; run_id wins when both are set.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.feed == nil {
		jsonError(w, "event feed disabled", http.StatusNotFound)
		return
	}
	q := r.URL.Query()
	var (
		ch          <-chan events.Entry
		unsubscribe events.UnsubscribeFunc
	)
	switch {
	case q.Get("run_id") != "":
		ch, unsubscribe = s.feed.SubscribeRun(q.Get("run_id"))
	case q.Get("event") != "":
		ev, err := relay.ParseHookEvent(q.Get("event"))
		if err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		ch, unsubscribe = s.feed.SubscribeEvent(ev)
	default:
		ch, unsubscribe = s.feed.SubscribeAll()
	}
	defer unsubscribe()

	rc := http.NewResponseController(w)
	// Streams outlive the server's write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": relay event feed\n\n")
	if err := rc.Flush(); err != nil {
		return
	}

	ticker := time.NewTicker(feedKeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": keep-alive\n\n")
		case e, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(e)
			if err != nil {
				s.log.WithError(err).Warn("encoding feed entry")
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Kind, data)
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
