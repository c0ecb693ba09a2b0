package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"openrate/core/types"
	"openrate/services/openrated/api"
)

const (
	wsWriteTimeout  = 10 * time.Second
	wsSubscriberBuf = 128
)

// eventFilter narrows the feed by event type and market.
type eventFilter struct {
	types  map[string]struct{}
	market string
}

func parseEventFilter(r *http.Request) eventFilter {
	q := r.URL.Query()
	filter := eventFilter{market: strings.ToLower(strings.TrimSpace(q.Get("market")))}
	if raw := strings.TrimSpace(q.Get("types")); raw != "" {
		filter.types = make(map[string]struct{})
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				filter.types[t] = struct{}{}
			}
		}
	}
	return filter
}

func (f eventFilter) match(evt *types.Event) bool {
	if evt == nil {
		return false
	}
	if f.types != nil {
		if _, ok := f.types[evt.Type]; !ok {
			return false
		}
	}
	if f.market != "" && strings.ToLower(evt.Attributes["market"]) != f.market {
		return false
	}
	return true
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusServiceUnavailable, "stream_disabled", "event stream not configured")
		return
	}
	filter := parseEventFilter(r)
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.cors.AllowedOrigins})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	sub := s.events.Subscribe(wsSubscriberBuf)
	defer sub.Close()
	s.metrics.StreamOpened()
	defer s.metrics.StreamClosed()

	// Clients never send frames; CloseRead cancels ctx once they disconnect.
	ctx := conn.CloseRead(r.Context())
	if err := streamEvents(ctx, conn, sub.Events(), filter); err != nil {
		if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
			s.logger.Warn("event stream aborted", slog.Any("error", err))
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func streamEvents(ctx context.Context, conn *websocket.Conn, feed <-chan *types.Event, filter eventFilter) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-feed:
			if !ok {
				return nil
			}
			if !filter.match(evt) {
				continue
			}
			if err := writeEvent(ctx, conn, evt); err != nil {
				return err
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, evt *types.Event) error {
	data, err := json.Marshal(api.Event{Type: evt.Type, Attributes: evt.Attributes})
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
