package realtime

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"botnest/internal/chat"
)

func TestWidgetHandlerStreamsConversationEvents(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	defer hub.Close()
	h := NewHandler(hub, zerolog.Nop(), nil)

	r := chi.NewRouter()
	r.Get("/ws/widget/{conversationID}", h.Widget)
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/widget/c1"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil {
		defer resp.Body.Close()
	}
	defer conn.Close()

	// The subscription is registered during the upgrade handshake; give the
	// handler a beat before broadcasting.
	deadline := time.Now().Add(2 * time.Second)
	received := make(chan []byte, 1)
	go func() {
		_, payload, err := conn.ReadMessage()
		if err == nil {
			received <- payload
		}
	}()
	for {
		hub.Broadcast(chat.ConversationTopic("c1"), []byte(`{"type":"message"}`))
		select {
		case payload := <-received:
			if string(payload) != `{"type":"message"}` {
				t.Fatalf("unexpected payload %q", payload)
			}
			return
		case <-time.After(20 * time.Millisecond):
		}
		if time.Now().After(deadline) {
			t.Fatal("websocket client never received the broadcast")
		}
	}
}
