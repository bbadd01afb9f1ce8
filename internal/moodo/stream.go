package moodo

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Socket.IO v2 connection flow constants. The cloud's Socket.IO server
// silently drops frames sent too early, so the authenticate and subscribe
// emits are spaced out after connect.
const (
	authenticateDelay = 1 * time.Second
	subscribeDelay    = 2 * time.Second

	reconnectInitialDelay = 1 * time.Second
	reconnectMaxDelay     = 5 * time.Second

	streamDialTimeout  = 10 * time.Second
	streamWriteTimeout = 5 * time.Second
)

// Engine.IO v3 packet type prefixes (first byte of every frame).
const (
	engineOpen    = '0'
	engineClose   = '1'
	enginePing    = '2'
	enginePong    = '3'
	engineMessage = '4'
)

// socketConnect is the Socket.IO connect packet for the default namespace,
// sent by the server once the Engine.IO session is open.
const socketConnect = "40"

// socketEventPrefix prefixes every Socket.IO event frame: Engine.IO
// message ('4') + Socket.IO event ('2').
const socketEventPrefix = "42"

// StreamEvent is a box update pushed by the cloud over the Socket.IO stream.
//
// RestfulRequestID is set when the update was triggered by a REST command;
// matching it against Client.ConsumeRequestID identifies echoes of our own
// actions.
type StreamEvent struct {
	Type             string `json:"type"`
	Box              Box    `json:"data"`
	RestfulRequestID string `json:"restful_request_id"`
	Sent             int64  `json:"sent"`
}

// EventHandler receives stream events. Called from the stream's read
// goroutine; it must not block.
type EventHandler func(ev StreamEvent)

// Logger interface for optional stream logging.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Stream maintains a Socket.IO v2 connection to the Moodo cloud for
// real-time box updates.
//
// The connection flow after each (re)connect:
//  1. WebSocket dial to /socket.io/?EIO=3&transport=websocket
//  2. Receive the Engine.IO open packet (ping interval handshake)
//  3. Wait 1s, emit authenticate(token)
//  4. Wait 2s, emit subscribe(deviceID) for each device
//  5. Invoke the OnConnect callback so the owner can resync missed state
//
// Disconnects trigger automatic reconnection with backoff (1s-5s).
// Stream failure is never fatal to the bridge: polling continues to work.
//
// Thread Safety:
//   - Start/Stop and all setters are safe for concurrent use.
type Stream struct {
	socketURL string
	token     string

	mu        sync.Mutex
	deviceIDs []string
	onEvent   EventHandler
	onConnect func()
	logger    Logger
	conn      *websocket.Conn

	// writeMu serialises frame writes; gorilla/websocket allows only one
	// concurrent writer and both the ping ticker and session setup write.
	writeMu sync.Mutex

	done     chan struct{}
	wg       sync.WaitGroup
	started  bool
	stopOnce sync.Once
}

// NewStream creates a stream client for the given Socket.IO endpoint.
//
// Parameters:
//   - socketURL: Base URL of the Socket.IO server (e.g. "https://ws.moodo.co:9090")
//   - token: Session token from Client.Login
//   - deviceIDs: String box IDs (Box.ID) to subscribe to
func NewStream(socketURL, token string, deviceIDs []string) *Stream {
	return &Stream{
		socketURL: socketURL,
		token:     token,
		deviceIDs: append([]string(nil), deviceIDs...),
		done:      make(chan struct{}),
	}
}

// SetOnEvent sets the handler invoked for each box update.
func (s *Stream) SetOnEvent(handler EventHandler) {
	s.mu.Lock()
	s.onEvent = handler
	s.mu.Unlock()
}

// SetOnConnect sets a callback invoked after every successful connect and
// subscribe, including reconnects. Owners use this to resync state that
// changed while the stream was down.
func (s *Stream) SetOnConnect(callback func()) {
	s.mu.Lock()
	s.onConnect = callback
	s.mu.Unlock()
}

// SetLogger sets an optional logger for connection lifecycle events.
func (s *Stream) SetLogger(logger Logger) {
	s.mu.Lock()
	s.logger = logger
	s.mu.Unlock()
}

// SetToken replaces the session token used for future (re)connects,
// e.g. after a re-login.
func (s *Stream) SetToken(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// SetDeviceIDs replaces the subscription list used for future (re)connects.
func (s *Stream) SetDeviceIDs(deviceIDs []string) {
	s.mu.Lock()
	s.deviceIDs = append([]string(nil), deviceIDs...)
	s.mu.Unlock()
}

// Start launches the connection loop in a background goroutine.
//
// Returns an error only if the stream is already running or the socket
// URL is invalid; connection failures are retried internally.
func (s *Stream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("%w: stream already started", ErrConnection)
	}
	if _, err := buildStreamURL(s.socketURL); err != nil {
		return err
	}
	s.started = true

	s.wg.Add(1)
	go s.run()
	return nil
}

// Stop terminates the connection loop and closes the current connection.
// Safe to call multiple times.
func (s *Stream) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		if s.conn != nil {
			s.conn.Close()
		}
		s.mu.Unlock()
	})
	s.wg.Wait()
}

// run is the reconnection loop.
func (s *Stream) run() {
	defer s.wg.Done()

	delay := reconnectInitialDelay
	for {
		select {
		case <-s.done:
			return
		default:
		}

		err := s.connectAndServe()
		select {
		case <-s.done:
			return
		default:
		}

		if logger := s.getLogger(); logger != nil {
			logger.Warn("stream disconnected, reconnecting",
				"error", err,
				"delay", delay.String(),
			)
		}

		select {
		case <-s.done:
			return
		case <-time.After(delay):
		}

		delay *= 2
		if delay > reconnectMaxDelay {
			delay = reconnectMaxDelay
		}
	}
}

// connectAndServe dials the server, performs the Socket.IO session setup,
// and reads frames until the connection drops.
func (s *Stream) connectAndServe() error {
	wsURL, err := buildStreamURL(s.socketURL)
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{HandshakeTimeout: streamDialTimeout}
	conn, _, err := dialer.Dial(wsURL, nil)
	if err != nil {
		return fmt.Errorf("%w: dialing stream: %w", ErrConnection, err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	defer func() {
		conn.Close()
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
	}()

	// First frame must be the Engine.IO open packet with the handshake.
	conn.SetReadDeadline(time.Now().Add(streamDialTimeout))
	_, openFrame, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("%w: reading handshake: %w", ErrConnection, err)
	}
	conn.SetReadDeadline(time.Time{})
	hs, err := parseHandshake(openFrame)
	if err != nil {
		return err
	}

	if logger := s.getLogger(); logger != nil {
		logger.Info("stream connected",
			"ping_interval_ms", hs.PingInterval,
		)
	}

	// connClosed releases the setup and ping goroutines when the read
	// loop exits; done covers Stop.
	connClosed := make(chan struct{})
	defer close(connClosed)

	go s.runSession(conn, connClosed)
	go s.runPing(conn, hs.pingInterval(), connClosed)

	return s.readLoop(conn)
}

// runSession performs the delayed authenticate/subscribe sequence and
// fires the OnConnect callback.
func (s *Stream) runSession(conn *websocket.Conn, connClosed <-chan struct{}) {
	if !s.sleep(authenticateDelay, connClosed) {
		return
	}

	s.mu.Lock()
	token := s.token
	s.mu.Unlock()

	if err := s.emit(conn, "authenticate", token); err != nil {
		return
	}

	if !s.sleep(subscribeDelay, connClosed) {
		return
	}

	s.mu.Lock()
	deviceIDs := append([]string(nil), s.deviceIDs...)
	callback := s.onConnect
	s.mu.Unlock()

	for _, id := range deviceIDs {
		if err := s.emit(conn, "subscribe", id); err != nil {
			return
		}
	}

	if logger := s.getLogger(); logger != nil {
		logger.Info("stream subscribed", "devices", len(deviceIDs))
	}

	if callback != nil {
		callback()
	}
}

// runPing sends Engine.IO ping frames at the server-negotiated interval.
func (s *Stream) runPing(conn *websocket.Conn, interval time.Duration, connClosed <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-connClosed:
			return
		case <-ticker.C:
			if err := s.writeFrame(conn, []byte{enginePing}); err != nil {
				return
			}
		}
	}
}

// readLoop processes incoming frames until the connection fails.
func (s *Stream) readLoop(conn *websocket.Conn) error {
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("%w: reading stream: %w", ErrConnection, err)
		}
		if len(frame) == 0 {
			continue
		}

		switch frame[0] {
		case enginePong:
			// Reply to our ping; nothing to do.
		case enginePing:
			// Server-initiated ping; answer with pong.
			if err := s.writeFrame(conn, []byte{enginePong}); err != nil {
				return err
			}
		case engineClose:
			return fmt.Errorf("%w: server closed stream session", ErrConnection)
		case engineMessage:
			s.handleMessage(frame)
		}
	}
}

// handleMessage processes a Socket.IO packet ("4..." frames).
func (s *Stream) handleMessage(frame []byte) {
	name, payload, ok, err := decodeEvent(frame)
	if err != nil {
		if logger := s.getLogger(); logger != nil {
			logger.Warn("stream event decode failed", "error", err)
		}
		return
	}
	if !ok || name != "ws_event" {
		// Connect acks ("40") and unrelated events are ignored.
		return
	}

	var ev StreamEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		if logger := s.getLogger(); logger != nil {
			logger.Warn("stream event unmarshal failed", "error", err)
		}
		return
	}

	s.mu.Lock()
	handler := s.onEvent
	s.mu.Unlock()
	if handler != nil {
		handler(ev)
	}
}

// emit sends a Socket.IO event with a single string argument.
func (s *Stream) emit(conn *websocket.Conn, event string, arg string) error {
	frame, err := encodeEvent(event, arg)
	if err != nil {
		return err
	}
	return s.writeFrame(conn, frame)
}

// writeFrame writes a single frame with the write deadline applied.
func (s *Stream) writeFrame(conn *websocket.Conn, frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout)); err != nil {
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("%w: writing frame: %w", ErrConnection, err)
	}
	return nil
}

// sleep waits for d unless the stream or connection shuts down first.
func (s *Stream) sleep(d time.Duration, connClosed <-chan struct{}) bool {
	select {
	case <-s.done:
		return false
	case <-connClosed:
		return false
	case <-time.After(d):
		return true
	}
}

func (s *Stream) getLogger() Logger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logger
}

// handshake is the Engine.IO open packet payload.
type handshake struct {
	SID          string `json:"sid"`
	PingInterval int    `json:"pingInterval"`
	PingTimeout  int    `json:"pingTimeout"`
}

// pingInterval returns the negotiated ping interval with a sane fallback.
func (h handshake) pingInterval() time.Duration {
	if h.PingInterval <= 0 {
		return 25 * time.Second
	}
	return time.Duration(h.PingInterval) * time.Millisecond
}

// buildStreamURL converts the configured Socket.IO base URL into the
// WebSocket endpoint for Engine.IO v3 with direct websocket transport.
//
// "https://ws.moodo.co:9090" becomes
// "wss://ws.moodo.co:9090/socket.io/?EIO=3&transport=websocket".
func buildStreamURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("%w: invalid socket URL %q: %w", ErrConnection, base, err)
	}

	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("%w: unsupported socket URL scheme %q", ErrConnection, u.Scheme)
	}

	u.Path = "/socket.io/"
	u.RawQuery = "EIO=3&transport=websocket"
	return u.String(), nil
}

// parseHandshake decodes the Engine.IO open packet ("0{...}").
func parseHandshake(frame []byte) (handshake, error) {
	if len(frame) < 2 || frame[0] != engineOpen {
		return handshake{}, fmt.Errorf("%w: unexpected handshake frame %q", ErrConnection, frame)
	}
	var hs handshake
	if err := json.Unmarshal(frame[1:], &hs); err != nil {
		return handshake{}, fmt.Errorf("%w: decoding handshake: %w", ErrConnection, err)
	}
	return hs, nil
}

// decodeEvent parses a Socket.IO frame. For event frames ("42[...]") it
// returns the event name and the raw first argument with ok=true; other
// message frames (e.g. the "40" connect ack) return ok=false and no error.
func decodeEvent(frame []byte) (name string, payload json.RawMessage, ok bool, err error) {
	if len(frame) < 2 || frame[0] != engineMessage {
		return "", nil, false, nil
	}
	if string(frame[:2]) != socketEventPrefix {
		return "", nil, false, nil
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(frame[2:], &elems); err != nil {
		return "", nil, false, fmt.Errorf("%w: decoding event array: %w", ErrConnection, err)
	}
	if len(elems) == 0 {
		return "", nil, false, fmt.Errorf("%w: empty event array", ErrConnection)
	}

	if err := json.Unmarshal(elems[0], &name); err != nil {
		return "", nil, false, fmt.Errorf("%w: decoding event name: %w", ErrConnection, err)
	}
	if len(elems) > 1 {
		payload = elems[1]
	}
	return name, payload, true, nil
}

// encodeEvent builds a Socket.IO event frame: 42["name",arg].
func encodeEvent(event string, arg any) ([]byte, error) {
	body, err := json.Marshal([]any{event, arg})
	if err != nil {
		return nil, fmt.Errorf("%w: encoding event: %w", ErrConnection, err)
	}
	return append([]byte(socketEventPrefix), body...), nil
}
