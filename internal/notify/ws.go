package notify

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The duplex socket is same-origin-fronted by the HTTP surface's own
	// CORS policy (api/router.go); the handshake itself accepts any origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Publisher exposes a duplex websocket endpoint at a path template carrying
// one path parameter (the filter) — e.g.
// "/sockets/pipeline-run-tasks/{runId}" — backed by a Registry channel.
// param names the chi URL parameter read as the subscription filter.
type Publisher struct {
	channel *Channel
	param   string
	log     *slog.Logger
}

// NewPublisher constructs a Publisher over channel, reading the
// subscription filter from the named chi URL parameter.
func NewPublisher(channel *Channel, urlParam string, log *slog.Logger) *Publisher {
	return &Publisher{channel: channel, param: urlParam, log: log}
}

// ServeHTTP upgrades the request to a websocket, subscribes to the channel
// under the request's filter, and pumps matching notifications to the
// client until the socket closes.
func (p *Publisher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	filter := chi.URLParam(r, p.param)
	if filter == "" {
		http.Error(w, "missing filter parameter", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		p.log.Warn("notify: websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := NewSubscriber(filter)
	ctx := r.Context()
	p.channel.Subscribe(sub)
	defer p.channel.Unsubscribe(sub)

	// reader goroutine: the only purpose of reading is to notice a client
	// disconnect (gorilla/websocket requires a read loop to surface close
	// frames and I/O errors); any received message is discarded.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				close(sub.Done)
				return
			}
		}
	}()

	for {
		select {
		case <-sub.Done:
			return
		case <-ctx.Done():
			return
		case payload, ok := <-sub.Events:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
				return
			}
		}
	}
}
