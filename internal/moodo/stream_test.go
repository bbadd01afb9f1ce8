package moodo

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

func TestBuildStreamURL(t *testing.T) {
	tests := []struct {
		base    string
		want    string
		wantErr bool
	}{
		{
			base: "https://ws.moodo.co:9090",
			want: "wss://ws.moodo.co:9090/socket.io/?EIO=3&transport=websocket",
		},
		{
			base: "http://127.0.0.1:9090",
			want: "ws://127.0.0.1:9090/socket.io/?EIO=3&transport=websocket",
		},
		{
			base: "wss://ws.moodo.co:9090",
			want: "wss://ws.moodo.co:9090/socket.io/?EIO=3&transport=websocket",
		},
		{
			base:    "ftp://ws.moodo.co",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		got, err := buildStreamURL(tt.base)
		if tt.wantErr {
			if err == nil {
				t.Errorf("buildStreamURL(%q) should fail", tt.base)
			}
			continue
		}
		if err != nil {
			t.Errorf("buildStreamURL(%q) error = %v", tt.base, err)
			continue
		}
		if got != tt.want {
			t.Errorf("buildStreamURL(%q) = %q, want %q", tt.base, got, tt.want)
		}
	}
}

func TestParseHandshake(t *testing.T) {
	hs, err := parseHandshake([]byte(`0{"sid":"abc123","pingInterval":25000,"pingTimeout":60000}`))
	if err != nil {
		t.Fatalf("parseHandshake() error = %v", err)
	}
	if hs.SID != "abc123" || hs.PingInterval != 25000 {
		t.Errorf("parseHandshake() = %+v", hs)
	}
	if hs.pingInterval() != 25*time.Second {
		t.Errorf("pingInterval() = %v, want 25s", hs.pingInterval())
	}
}

func TestParseHandshake_Invalid(t *testing.T) {
	for _, frame := range []string{"", "2", "0not-json", "4{}"} {
		if _, err := parseHandshake([]byte(frame)); err == nil {
			t.Errorf("parseHandshake(%q) should fail", frame)
		}
	}
}

func TestParseHandshake_DefaultPingInterval(t *testing.T) {
	hs, err := parseHandshake([]byte(`0{"sid":"x"}`))
	if err != nil {
		t.Fatalf("parseHandshake() error = %v", err)
	}
	if hs.pingInterval() != 25*time.Second {
		t.Errorf("pingInterval() fallback = %v, want 25s", hs.pingInterval())
	}
}

func TestDecodeEvent(t *testing.T) {
	name, payload, ok, err := decodeEvent([]byte(`42["ws_event",{"type":"box_config","restful_request_id":"req-1"}]`))
	if err != nil || !ok {
		t.Fatalf("decodeEvent() = ok=%v, err=%v", ok, err)
	}
	if name != "ws_event" {
		t.Errorf("event name = %q", name)
	}

	var ev StreamEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if ev.Type != "box_config" || ev.RestfulRequestID != "req-1" {
		t.Errorf("event = %+v", ev)
	}
}

func TestDecodeEvent_NonEventFrames(t *testing.T) {
	// Connect acks, pings, and pongs are not events but not errors either.
	for _, frame := range []string{"40", "2", "3", "6"} {
		_, _, ok, err := decodeEvent([]byte(frame))
		if err != nil {
			t.Errorf("decodeEvent(%q) error = %v", frame, err)
		}
		if ok {
			t.Errorf("decodeEvent(%q) ok = true, want false", frame)
		}
	}
}

func TestDecodeEvent_Malformed(t *testing.T) {
	for _, frame := range []string{"42not-json", "42[]"} {
		if _, _, _, err := decodeEvent([]byte(frame)); err == nil {
			t.Errorf("decodeEvent(%q) should fail", frame)
		}
	}
}

func TestEncodeEvent(t *testing.T) {
	frame, err := encodeEvent("authenticate", "my-token")
	if err != nil {
		t.Fatalf("encodeEvent() error = %v", err)
	}
	if string(frame) != `42["authenticate","my-token"]` {
		t.Errorf("encodeEvent() = %s", frame)
	}
}

func TestStream_StartInvalidURL(t *testing.T) {
	stream := NewStream("ftp://bad", "tok", nil)
	if err := stream.Start(); err == nil {
		t.Error("Start() should fail for invalid socket URL")
	}
}

func TestStream_DoubleStart(t *testing.T) {
	stream := NewStream("http://127.0.0.1:1", "tok", nil)
	if err := stream.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer stream.Stop()

	if err := stream.Start(); err == nil {
		t.Error("second Start() should fail")
	}
}

// fakeSocketIOServer implements enough of Socket.IO v2 over websocket to
// exercise the full session: handshake, authenticate, subscribe, events.
type fakeSocketIOServer struct {
	t *testing.T

	mu         sync.Mutex
	authTokens []string
	subscribes []string
	conn       *websocket.Conn
}

func (f *fakeSocketIOServer) handler() http.HandlerFunc {
	upgrader := websocket.Upgrader{}
	return func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.RawQuery, "EIO=3") {
			f.t.Errorf("missing EIO=3 in query: %s", r.URL.RawQuery)
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.mu.Lock()
		f.conn = conn
		f.mu.Unlock()

		// Engine.IO open packet followed by the Socket.IO connect ack.
		conn.WriteMessage(websocket.TextMessage, []byte(`0{"sid":"test","pingInterval":25000,"pingTimeout":60000}`))
		conn.WriteMessage(websocket.TextMessage, []byte("40"))

		for {
			_, frame, err := conn.ReadMessage()
			if err != nil {
				return
			}
			name, payload, ok, err := decodeEvent(frame)
			if err != nil || !ok {
				continue
			}
			var arg string
			json.Unmarshal(payload, &arg)

			f.mu.Lock()
			switch name {
			case "authenticate":
				f.authTokens = append(f.authTokens, arg)
			case "subscribe":
				f.subscribes = append(f.subscribes, arg)
			}
			f.mu.Unlock()
		}
	}
}

func (f *fakeSocketIOServer) sendEvent(ev string) {
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	if conn != nil {
		conn.WriteMessage(websocket.TextMessage, []byte(ev))
	}
}

func TestStream_SessionFlow(t *testing.T) {
	if testing.Short() {
		t.Skip("session flow test waits out the authenticate/subscribe delays")
	}

	fake := &fakeSocketIOServer{t: t}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	events := make(chan StreamEvent, 4)
	connected := make(chan struct{}, 1)

	stream := NewStream(server.URL, "session-token", []string{"box-a", "box-b"})
	stream.SetOnEvent(func(ev StreamEvent) { events <- ev })
	stream.SetOnConnect(func() {
		select {
		case connected <- struct{}{}:
		default:
		}
	})

	if err := stream.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer stream.Stop()

	// The session setup takes authenticateDelay + subscribeDelay.
	select {
	case <-connected:
	case <-time.After(authenticateDelay + subscribeDelay + 5*time.Second):
		t.Fatal("timeout waiting for OnConnect")
	}

	// OnConnect fires as soon as the client has written the subscribe
	// frames; give the fake server a moment to read them off the wire.
	deadline := time.Now().Add(5 * time.Second)
	for {
		fake.mu.Lock()
		gotAll := len(fake.authTokens) == 1 && len(fake.subscribes) == 2
		fake.mu.Unlock()
		if gotAll || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	fake.mu.Lock()
	if len(fake.authTokens) != 1 || fake.authTokens[0] != "session-token" {
		t.Errorf("authenticate tokens = %v", fake.authTokens)
	}
	if len(fake.subscribes) != 2 || fake.subscribes[0] != "box-a" || fake.subscribes[1] != "box-b" {
		t.Errorf("subscribes = %v", fake.subscribes)
	}
	fake.mu.Unlock()

	fake.sendEvent(`42["ws_event",{"type":"box_config","data":{"device_key":12345,"box_status":1,"fan_volume":60},"restful_request_id":"req-9","sent":1700000000}]`)

	select {
	case ev := <-events:
		if ev.Box.DeviceKey != 12345 || ev.Box.FanVolume != 60 {
			t.Errorf("event box = %+v", ev.Box)
		}
		if ev.RestfulRequestID != "req-9" {
			t.Errorf("event request ID = %q", ev.RestfulRequestID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for ws_event")
	}
}
