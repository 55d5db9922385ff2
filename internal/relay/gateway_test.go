package relay_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/danhigham/telecharm-web/internal/relay"
)

type wireFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func readFrame(ctx context.Context, t *testing.T, conn *websocket.Conn) wireFrame {
	t.Helper()
	_, b, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	var f wireFrame
	if err := json.Unmarshal(b, &f); err != nil {
		t.Fatalf("unmarshal frame %s: %v", b, err)
	}
	return f
}

func TestGateway_StreamsEvents(t *testing.T) {
	hub := relay.NewHub(nil, nil)
	gw := relay.NewGateway(hub, nil, relay.GatewayOptions{
		Initial: func() []relay.Event {
			return []relay.Event{{Name: relay.EventStatus, Data: map[string]bool{"connected": true}}}
		},
	})
	srv := httptest.NewServer(gw)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	f := readFrame(ctx, t, conn)
	if f.Event != relay.EventStatus || string(f.Data) != `{"connected":true}` {
		t.Fatalf("first frame = %s %s, want status", f.Event, f.Data)
	}

	for hub.Len() == 0 {
		select {
		case <-ctx.Done():
			t.Fatal("observer never registered")
		case <-time.After(10 * time.Millisecond):
		}
	}

	hub.Publish(relay.Event{Name: relay.EventNewMessage, Data: relay.NotificationPayload{
		ChatName:   "Team",
		SenderName: "Bob",
		Message:    "hi",
		Timestamp:  "12:00:00",
		ChatID:     -20,
	}})

	f = readFrame(ctx, t, conn)
	if f.Event != relay.EventNewMessage {
		t.Fatalf("event = %q, want new_message", f.Event)
	}
	var p map[string]any
	if err := json.Unmarshal(f.Data, &p); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"chat_name", "sender_name", "message", "timestamp", "chat_id"} {
		if _, ok := p[key]; !ok {
			t.Errorf("payload missing %q: %s", key, f.Data)
		}
	}
}

func TestGateway_UnregistersOnClose(t *testing.T) {
	hub := relay.NewHub(nil, nil)
	srv := httptest.NewServer(relay.NewGateway(hub, nil, relay.GatewayOptions{}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	for hub.Len() == 0 {
		select {
		case <-ctx.Done():
			t.Fatal("observer never registered")
		case <-time.After(10 * time.Millisecond):
		}
	}

	conn.Close(websocket.StatusNormalClosure, "done")

	for hub.Len() != 0 {
		select {
		case <-ctx.Done():
			t.Fatal("observer still registered after close")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
