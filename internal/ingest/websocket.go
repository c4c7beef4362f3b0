package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Reconnection constants.
const (
	InitialBackoff = 1 * time.Second
	MaxBackoff     = 60 * time.Second
	BackoffFactor  = 2.0
	JitterPercent  = 0.2

	// ActivityTimeout is used until the server announces its own.
	ActivityTimeout = 120 * time.Second
	PongTimeout     = 30 * time.Second

	WriteTimeout = 10 * time.Second

	ProtocolVersion = 7
)

// Connection states reported to the status hook.
const (
	StatusConnecting   = "connecting"
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
)

// Listener is a Broadcaster backed by a Pusher protocol WebSocket, the
// transport Laravel Echo uses with Pusher and Reverb servers.
type Listener struct {
	url       string
	namespace string
	router    *router

	conn     *websocket.Conn
	connMu   sync.Mutex
	socketID string
	timeout  time.Duration

	backoff   time.Duration
	lastMsg   time.Time
	lastMsgMu sync.RWMutex
	pinged    bool

	onStatus func(status string)

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewListener creates a listener for the given endpoint, see PusherURL.
// An empty namespace selects DefaultNamespace.
func NewListener(endpoint, namespace string) *Listener {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Listener{
		url:       endpoint,
		namespace: namespace,
		router:    newRouter(),
		timeout:   ActivityTimeout,
		backoff:   InitialBackoff,
		stopChan:  make(chan struct{}),
	}
}

// PusherURL builds the application endpoint from a server base URL and app
// key. A URL that already names an /app/ path is returned unchanged.
func PusherURL(base, appKey string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid broadcast url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid broadcast url scheme %q", u.Scheme)
	}

	if !strings.Contains(u.Path, "/app/") {
		if appKey == "" {
			return "", fmt.Errorf("app key is required for %s", base)
		}
		u.Path = strings.TrimSuffix(u.Path, "/") + "/app/" + url.PathEscape(appKey)
	}

	q := u.Query()
	if q.Get("protocol") == "" {
		q.Set("protocol", fmt.Sprint(ProtocolVersion))
	}
	q.Set("client", "livepage-go")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// OnStatus registers fn to be called on connection state changes. It must be
// set before Start.
func (l *Listener) OnStatus(fn func(status string)) {
	l.onStatus = fn
}

// Channel implements Broadcaster. A channel opened while connected is
// subscribed immediately, the rest on the next connection.
func (l *Listener) Channel(name string) Channel {
	if l.router.ensure(name) && l.Connected() {
		if err := l.subscribe(name); err != nil {
			slog.Warn("ws_subscribe_failed", "channel", name, "error", err)
		}
	}
	return &channelHandle{name: name, namespace: l.namespace, router: l.router}
}

// Connected reports whether the server has acknowledged the connection.
func (l *Listener) Connected() bool {
	l.connMu.Lock()
	defer l.connMu.Unlock()
	return l.conn != nil && l.socketID != ""
}

// Start begins the WebSocket listener with automatic reconnection.
func (l *Listener) Start(ctx context.Context) {
	l.wg.Add(1)
	go l.runLoop(ctx)

	l.wg.Add(1)
	go l.heartbeatMonitor(ctx)
}

// Stop gracefully shuts down the listener.
func (l *Listener) Stop() {
	l.stopOnce.Do(func() { close(l.stopChan) })
	l.closeConnection()
	l.wg.Wait()
}

// runLoop handles connection, reading, and reconnection.
func (l *Listener) runLoop(ctx context.Context) {
	defer l.wg.Done()

	for {
		select {
		case <-ctx.Done():
			slog.Info("ws_loop_stopping", "reason", "context cancelled")
			return
		case <-l.stopChan:
			slog.Info("ws_loop_stopping", "reason", "stop signal")
			return
		default:
		}

		l.setStatus(StatusConnecting)
		if err := l.connect(ctx); err != nil {
			slog.Error("ws_connect_failed", "error", err, "backoff", l.backoff)
			l.setStatus(StatusDisconnected)
			l.waitBackoff(ctx)
			continue
		}

		if err := l.readLoop(ctx); err != nil {
			slog.Warn("ws_read_error", "error", err)
		}

		l.closeConnection()

		select {
		case <-ctx.Done():
			return
		case <-l.stopChan:
			return
		default:
			l.waitBackoff(ctx)
		}
	}
}

// connect dials the endpoint. Subscriptions are sent once the server
// confirms the connection.
func (l *Listener) connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	headers := http.Header{}
	if u, err := url.Parse(l.url); err == nil {
		scheme := "https"
		if u.Scheme == "ws" {
			scheme = "http"
		}
		headers.Set("Origin", scheme+"://"+u.Host)
	}

	conn, resp, err := dialer.DialContext(ctx, l.url, headers)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial failed with status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("dial failed: %w", err)
	}

	l.connMu.Lock()
	l.conn = conn
	l.socketID = ""
	l.connMu.Unlock()

	slog.Info("ws_connected", "endpoint", l.url)

	l.updateLastMsg()
	return nil
}

// subscribeAll subscribes every channel opened so far.
func (l *Listener) subscribeAll() {
	channels := l.router.channels()
	for _, name := range channels {
		if err := l.subscribe(name); err != nil {
			slog.Warn("ws_subscribe_failed", "channel", name, "error", err)
		}
	}
	slog.Info("ws_subscribed", "channel_count", len(channels))
}

func (l *Listener) subscribe(channel string) error {
	data, err := json.Marshal(map[string]string{"channel": channel})
	if err != nil {
		return err
	}
	return l.send(Frame{Event: EventSubscribe, Data: data})
}

// send writes one frame to the current connection.
func (l *Listener) send(f Frame) error {
	l.connMu.Lock()
	defer l.connMu.Unlock()

	if l.conn == nil {
		return fmt.Errorf("connection is nil")
	}

	l.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
	if err := l.conn.WriteJSON(f); err != nil {
		return fmt.Errorf("failed to send %s: %w", f.Event, err)
	}
	return nil
}

// readLoop reads messages from the WebSocket.
func (l *Listener) readLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.stopChan:
			return nil
		default:
		}

		l.connMu.Lock()
		conn := l.conn
		timeout := l.timeout
		l.connMu.Unlock()

		if conn == nil {
			return fmt.Errorf("connection is nil")
		}

		conn.SetReadDeadline(time.Now().Add(timeout + PongTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read error: %w", err)
		}

		l.updateLastMsg()
		l.handleMessage(message)
	}
}

// handleMessage answers protocol frames and dispatches channel events.
func (l *Listener) handleMessage(data []byte) {
	frame, err := ParseFrame(data)
	if err != nil {
		slog.Debug("ws_parse_error", "error", err, "raw", truncate(string(data), 256))
		return
	}

	switch frame.Event {
	case EventConnectionEstablished:
		var established ConnectionEstablished
		if err := json.Unmarshal(frame.Data, &established); err != nil {
			slog.Warn("ws_parse_error", "event", frame.Event, "error", err)
			return
		}
		l.connMu.Lock()
		l.socketID = established.SocketID
		if established.ActivityTimeout > 0 {
			l.timeout = time.Duration(established.ActivityTimeout) * time.Second
		}
		l.connMu.Unlock()

		l.backoff = InitialBackoff
		slog.Info("ws_established", "socket_id", established.SocketID, "activity_timeout", established.ActivityTimeout)
		l.setStatus(StatusConnected)
		l.subscribeAll()

	case EventPing:
		if err := l.send(Frame{Event: EventPong, Data: json.RawMessage(`{}`)}); err != nil {
			slog.Warn("ws_pong_failed", "error", err)
		}

	case EventPong:

	case EventSubscriptionSucceeded:
		slog.Debug("ws_channel_subscribed", "channel", frame.Channel)

	case EventError:
		var pe ProtocolError
		_ = json.Unmarshal(frame.Data, &pe)
		slog.Warn("ws_protocol_error", "code", pe.Code, "message", pe.Message)

	default:
		if frame.Channel == "" {
			slog.Debug("ws_message", "event", frame.Event)
			return
		}
		if n := l.router.dispatch(frame.Channel, frame.Event, frame.Data); n == 0 {
			slog.Debug("ws_unhandled_event", "channel", frame.Channel, "event", frame.Event)
		}
	}
}

// heartbeatMonitor checks for connection health.
func (l *Listener) heartbeatMonitor(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopChan:
			return
		case <-ticker.C:
			l.checkHeartbeat()
		}
	}
}

// checkHeartbeat sends a protocol ping after a quiet activity window and
// drops the connection when the server stays silent past PongTimeout.
func (l *Listener) checkHeartbeat() {
	l.lastMsgMu.RLock()
	lastMsg := l.lastMsg
	pinged := l.pinged
	l.lastMsgMu.RUnlock()

	if lastMsg.IsZero() {
		return
	}

	l.connMu.Lock()
	timeout := l.timeout
	l.connMu.Unlock()

	elapsed := time.Since(lastMsg)
	switch {
	case elapsed > timeout+PongTimeout && pinged:
		slog.Warn("ws_heartbeat_timeout", "elapsed", elapsed)
		l.closeConnection()

	case elapsed > timeout && !pinged:
		if err := l.send(Frame{Event: EventPing, Data: json.RawMessage(`{}`)}); err != nil {
			slog.Warn("ws_ping_failed", "error", err)
			l.closeConnection()
			return
		}
		l.lastMsgMu.Lock()
		l.pinged = true
		l.lastMsgMu.Unlock()
	}
}

// updateLastMsg updates the last message timestamp.
func (l *Listener) updateLastMsg() {
	l.lastMsgMu.Lock()
	l.lastMsg = time.Now()
	l.pinged = false
	l.lastMsgMu.Unlock()
}

// closeConnection safely closes the WebSocket connection.
func (l *Listener) closeConnection() {
	l.connMu.Lock()
	closed := false
	if l.conn != nil {
		l.conn.Close()
		l.conn = nil
		l.socketID = ""
		closed = true
	}
	l.connMu.Unlock()

	if closed {
		slog.Info("ws_disconnected")
		l.setStatus(StatusDisconnected)
	}
}

func (l *Listener) setStatus(status string) {
	if l.onStatus != nil {
		l.onStatus(status)
	}
}

// waitBackoff waits for the backoff duration with jitter.
func (l *Listener) waitBackoff(ctx context.Context) {
	jitter := time.Duration(float64(l.backoff) * JitterPercent * (rand.Float64()*2 - 1))
	wait := l.backoff + jitter

	slog.Debug("ws_waiting_backoff", "duration", wait)

	select {
	case <-ctx.Done():
	case <-l.stopChan:
	case <-time.After(wait):
	}

	l.backoff = time.Duration(float64(l.backoff) * BackoffFactor)
	if l.backoff > MaxBackoff {
		l.backoff = MaxBackoff
	}
}

// truncate shortens a string for logging.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
