package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

// connection state machine is:
// ConnectionStatusDisconnected
//
//	-> ConnectionStatusConnecting
//	  -> ConnectionStatusConnected
//	    -> ConnectionStatusDisconnected (clean close or liveness timeout)
//	  -> ConnectionStatusError (handshake failure or reconnect attempts exhausted)
//
// from any non-connected state reconnects are scheduled with exponential
// backoff. exhausting the attempt cap parks the manager at error until the
// next explicit Connect.
type ConnectionStatus string

const (
	ConnectionStatusConnecting   ConnectionStatus = "connecting"
	ConnectionStatusConnected    ConnectionStatus = "connected"
	ConnectionStatusDisconnected ConnectionStatus = "disconnected"
	ConnectionStatusError        ConnectionStatus = "error"
)

type EventListener = func(event *ChannelEvent)

type StatusListener = func(status ConnectionStatus)

type ConnectionSettings struct {
	WsHandshakeTimeout   time.Duration
	ConnectTimeout       time.Duration
	HeartbeatInterval    time.Duration
	LivenessTimeout      time.Duration
	WriteTimeout         time.Duration
	ReconnectBaseDelay   time.Duration
	MaxReconnectDelay    time.Duration
	MaxReconnectAttempts int
}

func DefaultConnectionSettings() *ConnectionSettings {
	heartbeatInterval := 30 * time.Second
	return &ConnectionSettings{
		WsHandshakeTimeout:   15 * time.Second,
		ConnectTimeout:       10 * time.Second,
		HeartbeatInterval:    heartbeatInterval,
		LivenessTimeout:      2 * heartbeatInterval,
		WriteTimeout:         5 * time.Second,
		ReconnectBaseDelay:   1 * time.Second,
		MaxReconnectDelay:    60 * time.Second,
		MaxReconnectAttempts: 8,
	}
}

// reconnectDelay is base << attempt for the zero-based retry attempt,
// capped by the max delay: base, 2x, 4x, 8x, ...
func reconnectDelay(settings *ConnectionSettings, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if 30 < attempt {
		attempt = 30
	}
	delay := settings.ReconnectBaseDelay << attempt
	if 0 < settings.MaxReconnectDelay && settings.MaxReconnectDelay < delay {
		delay = settings.MaxReconnectDelay
	}
	return delay
}

// ConnectionManager owns one logical realtime channel per session. It
// parses inbound envelopes, fans events out to typed listeners, sends the
// heartbeat, and survives transient network loss by reconnecting. It is
// the sole writer of ConnectionStatus and of the last-sync marker.
type ConnectionManager struct {
	ctx    context.Context
	cancel context.CancelFunc

	channelUrl string
	auth       *SessionAuth
	// optional write-through for the last-sync marker. nil disables it.
	store Store

	settings *ConnectionSettings

	stateLock    sync.Mutex
	status       ConnectionStatus
	conn         *websocket.Conn
	sessionId    Id
	lastSyncTime time.Time
	runCancel    context.CancelFunc

	writeLock sync.Mutex

	eventCallbacks  map[EventType]*CallbackList[EventListener]
	statusCallbacks *CallbackList[StatusListener]
}

func NewConnectionManagerWithDefaults(
	ctx context.Context,
	channelUrl string,
	auth *SessionAuth,
	store Store,
) *ConnectionManager {
	return NewConnectionManager(ctx, channelUrl, auth, store, DefaultConnectionSettings())
}

func NewConnectionManager(
	ctx context.Context,
	channelUrl string,
	auth *SessionAuth,
	store Store,
	settings *ConnectionSettings,
) *ConnectionManager {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &ConnectionManager{
		ctx:             cancelCtx,
		cancel:          cancel,
		channelUrl:      channelUrl,
		auth:            auth,
		store:           store,
		settings:        settings,
		status:          ConnectionStatusDisconnected,
		eventCallbacks:  map[EventType]*CallbackList[EventListener]{},
		statusCallbacks: NewCallbackList[StatusListener](),
	}
}

// Connect opens the channel for the session. Idempotent while connected to
// the same session. The dial races the websocket open against the connect
// timeout and returns ErrConnectionTimeout when it loses. A failed connect
// is not final: reconnect attempts continue in the background until the
// attempt cap.
func (self *ConnectionManager) Connect(ctx context.Context, sessionId Id) error {
	self.stateLock.Lock()
	if self.status == ConnectionStatusConnected && self.sessionId == sessionId {
		self.stateLock.Unlock()
		return nil
	}
	if self.runCancel != nil {
		self.runCancel()
	}
	runCtx, runCancel := context.WithCancel(self.ctx)
	self.runCancel = runCancel
	self.sessionId = sessionId
	self.stateLock.Unlock()

	self.loadLastSync(sessionId)
	self.setStatus(ConnectionStatusConnecting)

	dialCtx, dialCancel := context.WithTimeout(ctx, self.settings.ConnectTimeout)
	defer dialCancel()

	conn, err := self.dial(dialCtx, sessionId)
	if err != nil {
		glog.Infof("[conn]%s connect error = %s\n", sessionId, err)
		self.setStatus(ConnectionStatusError)
		go self.run(runCtx, nil, sessionId)
		return err
	}

	self.setConn(conn)
	self.setStatus(ConnectionStatusConnected)
	go self.run(runCtx, conn, sessionId)
	return nil
}

// Disconnect closes the channel and cancels the heartbeat and any scheduled
// reconnect. Terminal until the next explicit Connect.
func (self *ConnectionManager) Disconnect() {
	self.stateLock.Lock()
	runCancel := self.runCancel
	self.runCancel = nil
	conn := self.conn
	self.conn = nil
	self.stateLock.Unlock()

	if runCancel != nil {
		runCancel()
	}
	if conn != nil {
		conn.Close()
	}
	self.setStatus(ConnectionStatusDisconnected)
}

func (self *ConnectionManager) Close() {
	self.Disconnect()
	self.cancel()
}

func (self *ConnectionManager) Status() ConnectionStatus {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.status
}

func (self *ConnectionManager) IsConnected() bool {
	return self.Status() == ConnectionStatusConnected
}

// LastSyncTime is the timestamp of the most recent inbound message,
// heartbeats included.
func (self *ConnectionManager) LastSyncTime() time.Time {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.lastSyncTime
}

// SendEvent writes one envelope to the channel. Silently dropped unless
// connected.
func (self *ConnectionManager) SendEvent(event *ChannelEvent) error {
	self.stateLock.Lock()
	conn := self.conn
	connected := self.status == ConnectionStatusConnected
	self.stateLock.Unlock()

	if !connected || conn == nil {
		glog.V(2).Infof("[conn]drop send %s (not connected)\n", event.Type)
		return nil
	}

	if err := self.writeEvent(conn, event); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return nil
}

// AddEventListener subscribes to one event type. Listeners for a type run
// in registration order. The returned func unsubscribes.
func (self *ConnectionManager) AddEventListener(eventType EventType, listener EventListener) func() {
	callbacks := self.eventListeners(eventType)
	callbackId := callbacks.Add(listener)
	return func() {
		callbacks.Remove(callbackId)
	}
}

// AddStatusListener subscribes to status transitions. The returned func
// unsubscribes.
func (self *ConnectionManager) AddStatusListener(listener StatusListener) func() {
	callbackId := self.statusCallbacks.Add(listener)
	return func() {
		self.statusCallbacks.Remove(callbackId)
	}
}

func (self *ConnectionManager) eventListeners(eventType EventType) *CallbackList[EventListener] {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	callbacks, ok := self.eventCallbacks[eventType]
	if !ok {
		callbacks = NewCallbackList[EventListener]()
		self.eventCallbacks[eventType] = callbacks
	}
	return callbacks
}

func (self *ConnectionManager) run(runCtx context.Context, conn *websocket.Conn, sessionId Id) {
	for {
		if conn == nil {
			conn = self.runReconnect(runCtx, sessionId)
			if conn == nil {
				return
			}
			self.setConn(conn)
			self.setStatus(ConnectionStatusConnected)
		}

		self.serve(runCtx, conn, sessionId)
		self.clearConn(conn)
		conn = nil

		select {
		case <-runCtx.Done():
			// deliberate disconnect. status already set by the caller.
			return
		default:
		}

		self.setStatus(ConnectionStatusDisconnected)
	}
}

// runReconnect dials until success or the attempt cap. Returns nil when
// canceled or exhausted.
func (self *ConnectionManager) runReconnect(runCtx context.Context, sessionId Id) *websocket.Conn {
	for attempt := 0; ; attempt += 1 {
		if self.settings.MaxReconnectAttempts <= attempt {
			glog.Infof("[conn]%s reconnect attempts exhausted\n", sessionId)
			self.setStatus(ConnectionStatusError)
			return nil
		}

		reconnect := NewReconnect(reconnectDelay(self.settings, attempt))
		select {
		case <-runCtx.Done():
			return nil
		case <-reconnect.After():
		}

		self.setStatus(ConnectionStatusConnecting)

		dialCtx, dialCancel := context.WithTimeout(runCtx, self.settings.ConnectTimeout)
		conn, err := self.dial(dialCtx, sessionId)
		dialCancel()
		if err == nil {
			return conn
		}

		glog.Infof("[conn]%s reconnect %d error = %s\n", sessionId, attempt, err)
		self.setStatus(ConnectionStatusDisconnected)
	}
}

func (self *ConnectionManager) serve(runCtx context.Context, conn *websocket.Conn, sessionId Id) {
	defer conn.Close()

	handleCtx, handleCancel := context.WithCancel(runCtx)
	defer handleCancel()

	go func() {
		defer handleCancel()

		for {
			select {
			case <-handleCtx.Done():
				return
			case <-time.After(self.settings.HeartbeatInterval):
			}

			if err := self.writeEvent(conn, newHeartbeatEvent()); err != nil {
				glog.Infof("[conn]%s heartbeat error = %s\n", sessionId, err)
				return
			}
			glog.V(2).Infof("[conn]%s heartbeat ->\n", sessionId)
		}
	}()

	go func() {
		defer handleCancel()

		for {
			select {
			case <-handleCtx.Done():
				return
			default:
			}

			conn.SetReadDeadline(time.Now().Add(self.settings.LivenessTimeout))
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				glog.Infof("[conn]%s <- error = %s\n", sessionId, err)
				return
			}

			switch messageType {
			case websocket.TextMessage, websocket.BinaryMessage:
				self.handleMessage(sessionId, message)
			default:
				glog.V(2).Infof("[conn]%s <- other=%d\n", sessionId, messageType)
			}
		}
	}()

	select {
	case <-handleCtx.Done():
	}
}

func (self *ConnectionManager) handleMessage(sessionId Id, message []byte) {
	event, err := ParseChannelEvent(message)
	if err != nil {
		glog.Warningf("[conn]%s drop event = %s\n", sessionId, err)
		return
	}

	self.markSync(sessionId, event)

	if event.Type == EventTypeHeartbeat {
		glog.V(2).Infof("[conn]%s heartbeat <-\n", sessionId)
		return
	}

	glog.V(2).Infof("[conn]%s <- %s %s\n", sessionId, event.Type, event.Data.NotificationId)
	for _, listener := range self.eventListeners(event.Type).Get() {
		safeCallback("conn", func() {
			listener(event)
		})
	}
}

// every inbound message advances the last-sync marker, which is also
// written through the store so a fresh process can tell how stale it is.
func (self *ConnectionManager) markSync(sessionId Id, event *ChannelEvent) {
	syncTime := event.Timestamp
	if syncTime.IsZero() {
		syncTime = time.Now().UTC()
	}

	self.stateLock.Lock()
	if self.lastSyncTime.Before(syncTime) {
		self.lastSyncTime = syncTime
	}
	store := self.store
	self.stateLock.Unlock()

	if store != nil {
		err := store.Set(lastSyncKey(sessionId), []byte(syncTime.Format(time.RFC3339Nano)), 0)
		if err != nil {
			glog.Warningf("[conn]%s last sync store error = %s\n", sessionId, err)
		}
	}
}

func (self *ConnectionManager) loadLastSync(sessionId Id) {
	if self.store == nil {
		return
	}

	value, ok, err := self.store.Get(lastSyncKey(sessionId))
	if err != nil || !ok {
		return
	}
	syncTime, err := time.Parse(time.RFC3339Nano, string(value))
	if err != nil {
		return
	}

	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if self.lastSyncTime.Before(syncTime) {
		self.lastSyncTime = syncTime
	}
}

func lastSyncKey(sessionId Id) string {
	return fmt.Sprintf("notify/last-sync/%s", sessionId)
}

func (self *ConnectionManager) dial(ctx context.Context, sessionId Id) (*websocket.Conn, error) {
	channelUrl, err := self.channelUrlForSession(sessionId)
	if err != nil {
		return nil, err
	}

	dialer := &websocket.Dialer{
		HandshakeTimeout: self.settings.WsHandshakeTimeout,
	}
	header := http.Header{}
	if self.auth != nil && self.auth.ByJwt != "" {
		header.Add("Authorization", fmt.Sprintf("Bearer %s", self.auth.ByJwt))
	}

	conn, _, err := dialer.DialContext(ctx, channelUrl, header)
	if err != nil {
		if isTimeoutError(err) {
			return nil, fmt.Errorf("%w: %v", ErrConnectionTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return conn, nil
}

func (self *ConnectionManager) channelUrlForSession(sessionId Id) (string, error) {
	u, err := url.Parse(self.channelUrl)
	if err != nil {
		return "", err
	}
	query := u.Query()
	query.Set("sessionId", sessionId.String())
	u.RawQuery = query.Encode()
	return u.String(), nil
}

func (self *ConnectionManager) writeEvent(conn *websocket.Conn, event *ChannelEvent) error {
	message, err := json.Marshal(event)
	if err != nil {
		return err
	}

	self.writeLock.Lock()
	defer self.writeLock.Unlock()

	conn.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, message)
}

func (self *ConnectionManager) setStatus(status ConnectionStatus) {
	changed := false
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		if self.status != status {
			self.status = status
			changed = true
		}
	}()

	if changed {
		glog.Infof("[conn]status = %s\n", status)
		for _, listener := range self.statusCallbacks.Get() {
			safeCallback("conn", func() {
				listener(status)
			})
		}
	}
}

func (self *ConnectionManager) setConn(conn *websocket.Conn) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.conn = conn
}

// clearConn only clears the given conn, so a stale run loop cannot clobber
// the conn of a newer connect.
func (self *ConnectionManager) clearConn(conn *websocket.Conn) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if self.conn == conn {
		self.conn = nil
	}
}

func isTimeoutError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
