package http

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/spanlens/spanlens/internal/notify"
)

// StreamState is the first event of every stream: the snapshot current when
// the client connected.
type StreamState struct {
	DatasetID  string `json:"dataset_id"`
	Generation uint64 `json:"generation"`
	Visible    int    `json:"visible"`
	Total      int    `json:"total"`
}

func parseTypes(value string) ([]notify.Type, error) {
	var out []notify.Type
	for _, name := range strings.Split(value, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		t, ok := notify.ParseType(name)
		if !ok {
			return nil, badRequest("unknown event type %q", name)
		}
		out = append(out, t)
	}
	return out, nil
}

func writeEvent(w io.Writer, name string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}

// events streams engine notifications as server-sent events until the
// client goes away or the server shuts down.
func (h *Handler) events(w http.ResponseWriter, r *http.Request) error {
	types, err := parseTypes(r.URL.Query().Get("types"))
	if err != nil {
		return err
	}

	rc := http.NewResponseController(w)
	// Streams outlive the server write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	notifier := h.engine.Notifications()
	sub := notifier.Subscribe(types...)
	defer notifier.Unsubscribe(sub.ID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	snap := h.engine.Snapshot()
	if err := writeEvent(w, "state", StreamState{
		DatasetID:  snap.DatasetID,
		Generation: snap.Generation,
		Visible:    len(snap.Filtered),
		Total:      len(snap.Spans),
	}); err != nil {
		return nil
	}
	if err := rc.Flush(); err != nil {
		log.Printf("event stream %s: flush unsupported: %v", sub.ID, err)
		return nil
	}

	keepAlive := time.NewTicker(h.cfg.KeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return nil
		case <-h.cfg.Done:
			return nil
		case n, ok := <-sub.C():
			if !ok {
				return nil
			}
			if err := writeEvent(w, n.Type.String(), n); err != nil {
				return nil
			}
		case <-keepAlive.C:
			if _, err := io.WriteString(w, ": keepalive\n\n"); err != nil {
				return nil
			}
		}
		if err := rc.Flush(); err != nil {
			return nil
		}
	}
}
