// Package connection is the client side of the logbook websocket RPC.
//
// Requests and responses are CBOR encoded binary frames. Live
// subscriptions are identified by a UUID the client chooses, and their
// notifications are routed to per subscription channels.
package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fxamacker/cbor/v2"
	gorilla "github.com/gorilla/websocket"

	"github.com/logbookhq/logbook/internal/codec"
	"github.com/logbookhq/logbook/pkg/constants"
	"github.com/logbookhq/logbook/pkg/logger"
	"github.com/logbookhq/logbook/pkg/models"
)

// DefaultDialer is the gorilla dialer used by WebSocketConnection.
//
// It is the default gorilla dialer with compression enabled and the
// "cbor" subprotocol requested.
var DefaultDialer = &gorilla.Dialer{
	Proxy:             gorilla.DefaultDialer.Proxy,
	HandshakeTimeout:  constants.DefaultDialTimeout,
	EnableCompression: true,
	Subprotocols:      []string{"cbor"},
}

type WebSocketConnection struct {
	baseURL     string
	marshaler   codec.Marshaler
	unmarshaler codec.Unmarshaler
	logger      logger.Logger
	retryer     Retryer

	// Timeout bounds the wait for an RPC response once the request is
	// written. Send returns constants.ErrTimeout when it expires.
	Timeout time.Duration

	Conn     *gorilla.Conn
	connLock sync.Mutex

	responseChannels     map[string]chan RPCResponse[cbor.RawMessage]
	responseChannelsLock sync.RWMutex

	notificationChannels     map[string]chan Notification
	notificationChannelsLock sync.RWMutex

	closing    atomic.Bool
	closeOnce  sync.Once
	closeChan  chan struct{}
	closeError error
}

func NewWebSocketConnection(conf *Config) *WebSocketConnection {
	return &WebSocketConnection{
		baseURL:     conf.BaseURL,
		marshaler:   conf.Marshaler,
		unmarshaler: conf.Unmarshaler,
		logger:      logger.OrDiscard(conf.Logger),
		retryer:     conf.Retryer,
		Timeout:     conf.Timeout,

		responseChannels:     make(map[string]chan RPCResponse[cbor.RawMessage]),
		notificationChannels: make(map[string]chan Notification),
		closeChan:            make(chan struct{}),
	}
}

func (ws *WebSocketConnection) preConnectionChecks() error {
	if ws.baseURL == "" {
		return constants.ErrNoBaseURL
	}

	if ws.marshaler == nil {
		return constants.ErrNoMarshaler
	}

	if ws.unmarshaler == nil {
		return constants.ErrNoUnmarshaler
	}

	return nil
}

// Connect dials the server, retrying as the configured Retryer allows,
// and starts reading from the socket.
func (ws *WebSocketConnection) Connect(ctx context.Context) error {
	if err := ws.preConnectionChecks(); err != nil {
		return err
	}

	endpoint := ws.baseURL + constants.RPCPath
	for attempt := 0; ; attempt++ {
		conn, res, err := DefaultDialer.DialContext(ctx, endpoint, nil)
		if err == nil {
			res.Body.Close()
			ws.Conn = conn
			break
		}
		if ws.retryer == nil {
			return err
		}
		delay, ok := ws.retryer.NextDelay(attempt, err)
		if !ok {
			return fmt.Errorf("dial %s: giving up after %d attempts: %w", endpoint, attempt+1, err)
		}
		ws.logger.Warn("dial failed, retrying", "url", endpoint, "attempt", attempt+1, "delay", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	if ws.retryer != nil {
		ws.retryer.Reset()
	}

	go ws.initialize()
	return nil
}

// Done is closed once the connection is gone, whether closed locally or lost.
func (ws *WebSocketConnection) Done() <-chan struct{} {
	return ws.closeChan
}

// Err returns why the connection ended, or nil while it is open.
func (ws *WebSocketConnection) Err() error {
	select {
	case <-ws.closeChan:
		return ws.closeError
	default:
		return nil
	}
}

// Close closes the WebSocket connection and stops listening for incoming messages.
//
// If ctx ends before the close frame is written the socket is closed anyway.
func (ws *WebSocketConnection) Close(ctx context.Context) error {
	if ws.Conn == nil {
		return nil
	}
	if !ws.closing.CompareAndSwap(false, true) {
		return nil
	}

	writeErr := make(chan error, 1)
	go func() {
		ws.connLock.Lock()
		defer ws.connLock.Unlock()
		writeErr <- ws.Conn.WriteMessage(gorilla.CloseMessage, gorilla.FormatCloseMessage(constants.CloseMessageCode, ""))
	}()

	select {
	case err := <-writeErr:
		if err != nil {
			ws.logger.Error("failed to write close message", "error", err)
		}
	case <-ctx.Done():
	}

	err := ws.Conn.Close()
	ws.shutdown(constants.ErrConnectionClosed)
	return err
}

// Send sends a request and waits for its response. When dest is not nil
// the result is decoded into it.
func (ws *WebSocketConnection) Send(ctx context.Context, dest any, method RPCFunction, params ...any) error {
	if ws.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ws.Timeout)
		defer cancel()
	}

	select {
	case <-ws.closeChan:
		return ws.closeError
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	id := models.NewUUID().String()
	request := &RPCRequest{
		ID:     id,
		Method: string(method),
		Params: params,
	}

	responseChan, err := ws.createResponseChannel(id)
	if err != nil {
		return err
	}
	defer ws.removeResponseChannel(id)

	if err := ws.write(request); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s", constants.ErrTimeout, method)
		}
		return ctx.Err()
	case <-ws.closeChan:
		return ws.closeError
	case res := <-responseChan:
		if res.Error != nil {
			return res.Error
		}
		if dest == nil || res.Result == nil {
			return nil
		}
		if err := ws.unmarshaler.Unmarshal(*res.Result, dest); err != nil {
			return fmt.Errorf("error unmarshaling %s result: %w", method, err)
		}
		return nil
	}
}

// LiveNotifications registers the channel for live subscription id. The
// channel holds only the newest unread notification and is closed by
// CloseLiveNotifications or when the connection ends.
func (ws *WebSocketConnection) LiveNotifications(id string) (<-chan Notification, error) {
	ws.notificationChannelsLock.Lock()
	defer ws.notificationChannelsLock.Unlock()

	select {
	case <-ws.closeChan:
		return nil, ws.closeError
	default:
	}

	if _, ok := ws.notificationChannels[id]; ok {
		return nil, fmt.Errorf("%w: %v", constants.ErrIDInUse, id)
	}

	ch := make(chan Notification, 1)
	ws.notificationChannels[id] = ch
	return ch, nil
}

func (ws *WebSocketConnection) CloseLiveNotifications(id string) {
	ws.notificationChannelsLock.Lock()
	defer ws.notificationChannelsLock.Unlock()

	if ch, ok := ws.notificationChannels[id]; ok {
		delete(ws.notificationChannels, id)
		close(ch)
	}
}

func (ws *WebSocketConnection) createResponseChannel(id string) (chan RPCResponse[cbor.RawMessage], error) {
	ws.responseChannelsLock.Lock()
	defer ws.responseChannelsLock.Unlock()

	if _, ok := ws.responseChannels[id]; ok {
		return nil, fmt.Errorf("%w: %v", constants.ErrIDInUse, id)
	}

	// One response per id, so the reader never blocks on it.
	ch := make(chan RPCResponse[cbor.RawMessage], 1)
	ws.responseChannels[id] = ch

	return ch, nil
}

func (ws *WebSocketConnection) removeResponseChannel(id string) {
	ws.responseChannelsLock.Lock()
	defer ws.responseChannelsLock.Unlock()
	delete(ws.responseChannels, id)
}

func (ws *WebSocketConnection) getResponseChannel(id string) (chan RPCResponse[cbor.RawMessage], bool) {
	ws.responseChannelsLock.RLock()
	defer ws.responseChannelsLock.RUnlock()
	ch, ok := ws.responseChannels[id]
	return ch, ok
}

func (ws *WebSocketConnection) write(v any) error {
	data, err := ws.marshaler.Marshal(v)
	if err != nil {
		return err
	}

	ws.connLock.Lock()
	defer ws.connLock.Unlock()
	return ws.Conn.WriteMessage(gorilla.BinaryMessage, data)
}

func (ws *WebSocketConnection) initialize() {
	for {
		_, data, err := ws.Conn.ReadMessage()
		if err != nil {
			ws.handleError(err)
			return
		}
		ws.handleResponse(data)
	}
}

func (ws *WebSocketConnection) handleError(err error) {
	if ws.closing.Load() {
		ws.shutdown(constants.ErrConnectionClosed)
		return
	}
	ws.logger.Error("websocket connection lost", "error", err)
	ws.shutdown(fmt.Errorf("%w: %w", constants.ErrConnectionClosed, err))
}

// shutdown records err, wakes every waiter and closes every live
// notification channel.
func (ws *WebSocketConnection) shutdown(err error) {
	ws.closeOnce.Do(func() {
		ws.closeError = err
		close(ws.closeChan)

		ws.notificationChannelsLock.Lock()
		for id, ch := range ws.notificationChannels {
			delete(ws.notificationChannels, id)
			close(ch)
		}
		ws.notificationChannelsLock.Unlock()
	})
}

func (ws *WebSocketConnection) handleResponse(res []byte) {
	var rpcRes RPCResponse[cbor.RawMessage]
	if err := ws.unmarshaler.Unmarshal(res, &rpcRes); err != nil {
		ws.logger.Error("error unmarshaling response", "error", err)
		return
	}

	if rpcRes.ID != nil && rpcRes.ID != "" {
		responseChan, ok := ws.getResponseChannel(fmt.Sprintf("%v", rpcRes.ID))
		if !ok {
			ws.logger.Error("unavailable response channel", "id", rpcRes.ID)
			return
		}
		responseChan <- rpcRes
		return
	}

	if rpcRes.Result == nil {
		ws.logger.Error("notification without result")
		return
	}

	var notification Notification
	if err := ws.unmarshaler.Unmarshal(*rpcRes.Result, &notification); err != nil {
		ws.logger.Error("error unmarshaling as notification", "error", err)
		return
	}
	if notification.ID == nil {
		ws.logger.Error("notification did not contain an 'id' field")
		return
	}

	ws.notificationChannelsLock.RLock()
	defer ws.notificationChannelsLock.RUnlock()

	ch, ok := ws.notificationChannels[notification.ID.String()]
	if !ok {
		// Late notification of a subscription that was already released.
		ws.logger.Debug("dropping notification", "id", notification.ID.String())
		return
	}
	select {
	case <-ch:
	default:
	}
	ch <- notification
}
