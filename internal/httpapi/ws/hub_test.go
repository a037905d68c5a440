package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func (h *Hub) roomSize(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[sessionID])
}

func waitForRoom(t *testing.T, h *Hub, sessionID string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.roomSize(sessionID) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("room %q never reached %d clients", sessionID, want)
}

func dialHub(t *testing.T, h *Hub, sessionID string) (*websocket.Conn, func()) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.Serve(w, r, sessionID)
	}))
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("dial: %v", err)
	}
	return conn, func() {
		_ = conn.Close()
		srv.Close()
	}
}

func TestBroadcast_Delivers(t *testing.T) {
	h := NewHub()
	conn, cleanup := dialHub(t, h, "s1")
	defer cleanup()
	waitForRoom(t, h, "s1", 1)

	h.Broadcast("s1", "round_processed", map[string]any{"current_round": 2})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var frame struct {
		Event string         `json:"event"`
		Data  map[string]any `json:"data"`
	}
	if err := json.Unmarshal(msg, &frame); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	if frame.Event != "round_processed" {
		t.Fatalf("expected round_processed, got %q", frame.Event)
	}
	if frame.Data["current_round"] != float64(2) {
		t.Fatalf("unexpected payload: %v", frame.Data)
	}
}

func TestBroadcast_ConcurrentCallersSingleWriter(t *testing.T) {
	h := NewHub()
	conn, cleanup := dialHub(t, h, "s1")
	defer cleanup()
	waitForRoom(t, h, "s1", 1)

	// many goroutines broadcasting at the same connection: writes must all
	// funnel through the client's writer, never touch the conn directly
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			h.Broadcast("s1", "round_processed", map[string]any{"n": n})
		}(i)
	}
	wg.Wait()

	// at least one frame arrives intact; the bounded buffer may drop the rest
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read after concurrent broadcast: %v", err)
	}
	if !strings.Contains(string(msg), "round_processed") {
		t.Fatalf("unexpected frame: %s", msg)
	}
}

func TestBroadcast_OtherSessionUnaffected(t *testing.T) {
	h := NewHub()
	conn, cleanup := dialHub(t, h, "s2")
	defer cleanup()
	waitForRoom(t, h, "s2", 1)

	h.Broadcast("other", "round_processed", map[string]any{"n": 1})

	_ = conn.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected no frame for a different session")
	}
}

func TestServe_RemovesClientOnDisconnect(t *testing.T) {
	h := NewHub()
	conn, cleanup := dialHub(t, h, "s3")
	defer cleanup()
	waitForRoom(t, h, "s3", 1)

	_ = conn.Close()
	waitForRoom(t, h, "s3", 0)

	// broadcasting into an empty room is a no-op
	h.Broadcast("s3", "round_processed", nil)
}
