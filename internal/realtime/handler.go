package realtime

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"botnest/internal/chat"
	"botnest/internal/metrics"
)

const (
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

// Handler upgrades widget and dashboard connections and streams hub events to
// them. Authorization happens in the router; by the time a request lands here
// the caller is allowed to listen on the topic.
type Handler struct {
	hub      *Hub
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
}

func NewHandler(hub *Hub, logger zerolog.Logger, m *metrics.Metrics) *Handler {
	if m == nil {
		m = metrics.Global()
	}
	return &Handler{
		hub:     hub,
		logger:  logger,
		metrics: m,
		upgrader: websocket.Upgrader{
			// The widget is embedded on arbitrary customer sites.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Widget streams events for one conversation to the visitor's embed.
func (h *Handler) Widget(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	h.serve(w, r, chat.ConversationTopic(conversationID))
}

// Dashboard streams every event across a chatbot's conversations to its owner.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	chatbotID := chi.URLParam(r, "chatbotID")
	h.serve(w, r, chat.ChatbotTopic(chatbotID))
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, topic string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("topic", topic).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	h.metrics.WSConnections.Inc()
	defer h.metrics.WSConnections.Dec()

	events, cancel := h.hub.Subscribe(topic)
	defer cancel()

	// Drain inbound frames so close and pong handling run; clients never send
	// application data.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case payload, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
