package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aristath/maestro/internal/events"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	streamBuffer      = 100
	heartbeatInterval = 30 * time.Second
	writeTimeout      = 10 * time.Second
)

// EventsStreamHandler streams bus events to UI clients over websocket or SSE
type EventsStreamHandler struct {
	eventBus *events.Bus
	log      zerolog.Logger
}

// streamMessage is the wire form of an event
type streamMessage struct {
	Data      interface{} `json:"data,omitempty"`
	Type      string      `json:"type"`
	Module    string      `json:"module,omitempty"`
	Timestamp string      `json:"timestamp"`
}

// NewEventsStreamHandler creates a new events stream handler
func NewEventsStreamHandler(eventBus *events.Bus, log zerolog.Logger) *EventsStreamHandler {
	return &EventsStreamHandler{
		eventBus: eventBus,
		log:      log.With().Str("component", "events_stream").Logger(),
	}
}

// subscribe registers a buffered channel for the types listed in the
// "types" query parameter (all types when absent)
func (h *EventsStreamHandler) subscribe(r *http.Request) (<-chan *events.Event, func()) {
	var types []events.EventType
	if filter := r.URL.Query().Get("types"); filter != "" {
		for _, t := range strings.Split(filter, ",") {
			if t = strings.TrimSpace(t); t != "" {
				types = append(types, events.EventType(t))
			}
		}
	}

	ch := make(chan *events.Event, streamBuffer)
	unsubscribe := h.eventBus.Subscribe(func(event *events.Event) {
		// Slow clients lose events rather than stall publishers
		select {
		case ch <- event:
		default:
			h.log.Warn().Str("event_type", string(event.Type)).Msg("Event channel full, dropping event")
		}
	}, types...)
	return ch, unsubscribe
}

func toMessage(event *events.Event) streamMessage {
	return streamMessage{
		Data:      event.Data,
		Type:      string(event.Type),
		Module:    event.Module,
		Timestamp: event.Timestamp.Format(time.RFC3339),
	}
}

func controlMessage(kind string) streamMessage {
	return streamMessage{Type: kind, Timestamp: time.Now().UTC().Format(time.RFC3339)}
}

// ServeWS handles GET /api/events/ws
func (h *EventsStreamHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	// Clients only listen; CloseRead handles their control frames
	ctx := conn.CloseRead(r.Context())

	eventCh, unsubscribe := h.subscribe(r)
	defer unsubscribe()

	h.log.Info().Str("remote", r.RemoteAddr).Msg("Websocket client connected")

	if err := h.writeWS(ctx, conn, controlMessage("connected")); err != nil {
		return
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.log.Info().Str("remote", r.RemoteAddr).Msg("Websocket client disconnected")
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case event := <-eventCh:
			if err := h.writeWS(ctx, conn, toMessage(event)); err != nil {
				h.log.Debug().Err(err).Msg("Websocket write failed")
				return
			}
		case <-heartbeat.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				h.log.Debug().Err(err).Msg("Websocket ping failed")
				return
			}
		}
	}
}

func (h *EventsStreamHandler) writeWS(ctx context.Context, conn *websocket.Conn, msg streamMessage) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, msg)
}

// ServeHTTP handles GET /api/events/stream (Server-Sent Events) for clients
// that cannot open a websocket
func (h *EventsStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	eventCh, unsubscribe := h.subscribe(r)
	defer unsubscribe()

	send := func(msg streamMessage) {
		data, err := json.Marshal(msg)
		if err != nil {
			h.log.Error().Err(err).Msg("Failed to marshal event")
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	send(controlMessage("connected"))

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case event := <-eventCh:
			send(toMessage(event))
		case <-heartbeat.C:
			send(controlMessage("heartbeat"))
		}
	}
}
