// Package server exposes a source.Source over the logbook websocket RPC.
//
// The websocket side is implemented with gws; HTTP routing uses gorilla/mux.
// Stub responses and failure injection let tests exercise client error
// paths without a misbehaving backend.
package server

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/lxzan/gws"

	"github.com/logbookhq/logbook/internal/codec"
	"github.com/logbookhq/logbook/pkg/connection"
	"github.com/logbookhq/logbook/pkg/constants"
	"github.com/logbookhq/logbook/pkg/logger"
	"github.com/logbookhq/logbook/pkg/models"
	"github.com/logbookhq/logbook/pkg/source"
)

// FailureType represents the type of failure to inject during request processing
type FailureType string

const (
	// FailureRequestDelay delays before processing the request
	FailureRequestDelay FailureType = "request_delay"
	// FailureResponseDelay delays the response (sent in background)
	FailureResponseDelay FailureType = "response_delay"
	// FailureError answers with an RPC error instead of handling the request
	FailureError FailureType = "error"
	// FailureWebSocketClose sends WebSocket close frame with configurable code/reason
	FailureWebSocketClose FailureType = "websocket_close"
	// FailureDropConnection immediately closes the underlying network connection
	FailureDropConnection FailureType = "drop_connection"
)

// RequestMatcher selects requests by method and, optionally, by params.
type RequestMatcher struct {
	Method  string
	Matcher func(params []any) bool
}

// StubResponse answers matching requests with Result or Error instead of
// calling the source.
type StubResponse struct {
	Matcher  RequestMatcher
	Result   any
	Error    *connection.RPCError
	Failures []FailureConfig
}

// FailureConfig defines how and when to inject a specific failure type
type FailureConfig struct {
	// Method limits the failure to one RPC method. Empty matches all.
	Method string
	Type   FailureType
	// Probability of triggering this failure (0.0 to 1.0)
	Probability float64
	// Delay for the delay based failures
	Delay time.Duration
	// Code and Message of the RPC error for FailureError
	Code    int
	Message string
	// CloseCode is the WebSocket close code for FailureWebSocketClose
	CloseCode uint16
}

var errNotListening = errors.New("server: not listening")

type Option func(*Server)

func WithLogger(l logger.Logger) Option {
	return func(s *Server) { s.log = l }
}

// Server serves one Source to any number of websocket clients.
type Server struct {
	src      source.Source
	codec    *codec.CBOR
	log      logger.Logger
	upgrader *gws.Upgrader
	http     *http.Server
	listener net.Listener

	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.RWMutex
	stubResponses  []StubResponse
	globalFailures []FailureConfig
	sessions       map[*gws.Conn]*session
}

// session tracks the live subscriptions of one socket.
type session struct {
	mu    sync.Mutex
	lives map[string]context.CancelFunc
}

// Handler implements the gws.Event interface for WebSocket connections
type Handler struct {
	server *Server
}

func New(src source.Source, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		src:      src,
		codec:    codec.NewCBOR(),
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[*gws.Conn]*session),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logger.OrDiscard(s.log)
	s.upgrader = gws.NewUpgrader(&Handler{server: s}, &gws.ServerOption{})
	s.http = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// AddStubResponse adds a stub response configuration to the server.
// Stub responses are matched in the order they were added.
func (s *Server) AddStubResponse(stub StubResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stubResponses = append(s.stubResponses, stub)
}

// SetGlobalFailures sets failure configurations that apply to all requests.
func (s *Server) SetGlobalFailures(failures []FailureConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.globalFailures = failures
}

// Listen binds addr without serving it yet.
// Use "127.0.0.1:0" to bind to a random available port.
func (s *Server) Listen(addr string) error {
	var lc net.ListenConfig
	listener, err := lc.Listen(s.ctx, "tcp", addr)
	if err != nil {
		return err
	}
	s.listener = listener
	s.log.Info("server listening", "addr", listener.Addr().String())
	return nil
}

// Serve accepts connections on the listener bound by Listen and blocks
// until the server stops. It returns nil after Stop.
func (s *Server) Serve() error {
	if s.listener == nil {
		return errNotListening
	}
	if err := s.http.Serve(s.listener); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve %s: %w", s.listener.Addr(), err)
	}
	return nil
}

// Start listens on addr and serves in the background.
func (s *Server) Start(addr string) error {
	if err := s.Listen(addr); err != nil {
		return err
	}
	go func() {
		if err := s.Serve(); err != nil {
			s.log.Error("server stopped", "error", err)
		}
	}()
	return nil
}

// Address returns the actual address the server is listening on.
func (s *Server) Address() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// Stop stops accepting connections, drops every socket and releases every
// live subscription.
func (s *Server) Stop(ctx context.Context) error {
	s.cancel()
	err := s.http.Shutdown(ctx)

	s.mu.Lock()
	sockets := make([]*gws.Conn, 0, len(s.sessions))
	for socket := range s.sessions {
		sockets = append(sockets, socket)
	}
	s.mu.Unlock()

	for _, socket := range sockets {
		socket.WriteClose(constants.CloseMessageCode, nil)
		_ = socket.NetConn().Close()
	}
	return err
}

func (h *Handler) OnOpen(socket *gws.Conn) {
	h.server.mu.Lock()
	h.server.sessions[socket] = &session{lives: make(map[string]context.CancelFunc)}
	h.server.mu.Unlock()
}

func (h *Handler) OnClose(socket *gws.Conn, err error) {
	h.server.mu.Lock()
	sess := h.server.sessions[socket]
	delete(h.server.sessions, socket)
	h.server.mu.Unlock()

	if sess == nil {
		return
	}
	sess.mu.Lock()
	for id, cancel := range sess.lives {
		cancel()
		delete(sess.lives, id)
	}
	sess.mu.Unlock()
	h.server.log.Debug("socket closed", "error", err)
}

func (h *Handler) OnPing(socket *gws.Conn, payload []byte) {
	if err := socket.WritePong(payload); err != nil {
		h.server.log.Error("error writing pong", "error", err)
	}
}

func (h *Handler) OnPong(socket *gws.Conn, payload []byte) {
}

func (h *Handler) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()

	var req connection.RawRPCRequest
	if err := h.server.codec.Unmarshal(message.Bytes(), &req); err != nil {
		h.sendError(socket, nil, connection.CodeParseError, "Parse error")
		return
	}

	if h.applyFailures(socket, &req) {
		return
	}
	if h.applyStub(socket, &req) {
		return
	}

	switch connection.RPCFunction(req.Method) {
	case connection.Ping:
		h.sendResponse(socket, req.ID, nil)
	case connection.Live:
		h.handleLive(socket, &req)
	case connection.Kill:
		h.handleKill(socket, &req)
	case connection.Create:
		h.handleCreate(socket, &req)
	case connection.Update:
		h.handleUpdate(socket, &req)
	case connection.Delete:
		h.handleDelete(socket, &req)
	default:
		h.sendError(socket, req.ID, connection.CodeMethodNotFound, fmt.Sprintf("Method not found: %s", req.Method))
	}
}

// applyFailures runs the configured failures and reports whether the
// request has been fully handled by them.
func (h *Handler) applyFailures(socket *gws.Conn, req *connection.RawRPCRequest) bool {
	h.server.mu.RLock()
	failures := h.server.globalFailures
	h.server.mu.RUnlock()

	for _, failure := range failures {
		if failure.Method != "" && failure.Method != req.Method {
			continue
		}
		if !shouldTriggerFailure(failure.Probability) {
			continue
		}
		if h.applyFailure(socket, failure, req) {
			return true
		}
	}
	return false
}

func (h *Handler) applyFailure(socket *gws.Conn, failure FailureConfig, req *connection.RawRPCRequest) bool {
	switch failure.Type {
	case FailureRequestDelay:
		time.Sleep(failure.Delay)

	case FailureResponseDelay:
		go func() {
			time.Sleep(failure.Delay)
			h.sendError(socket, req.ID, connection.CodeInternalError, "delayed")
		}()
		return true

	case FailureError:
		code := failure.Code
		if code == 0 {
			code = connection.CodeSourceError
		}
		h.sendError(socket, req.ID, code, failure.Message)
		return true

	case FailureWebSocketClose:
		code := failure.CloseCode
		if code == 0 {
			code = 1001
		}
		socket.WriteClose(code, []byte("failure injection"))
		return true

	case FailureDropConnection:
		_ = socket.NetConn().Close()
		return true
	}
	return false
}

func (h *Handler) applyStub(socket *gws.Conn, req *connection.RawRPCRequest) bool {
	h.server.mu.RLock()
	stubs := h.server.stubResponses
	h.server.mu.RUnlock()

	for _, stub := range stubs {
		if stub.Matcher.Method != req.Method {
			continue
		}
		if stub.Matcher.Matcher != nil && !stub.Matcher.Matcher(h.decodeParams(req.Params)) {
			continue
		}
		for _, failure := range stub.Failures {
			if shouldTriggerFailure(failure.Probability) && h.applyFailure(socket, failure, req) {
				return true
			}
		}
		if stub.Error != nil {
			h.sendError(socket, req.ID, stub.Error.Code, stub.Error.Message)
		} else {
			h.sendResponse(socket, req.ID, stub.Result)
		}
		return true
	}
	return false
}

func (h *Handler) decodeParams(raw []cbor.RawMessage) []any {
	params := make([]any, len(raw))
	for i, p := range raw {
		var v any
		if err := h.server.codec.Unmarshal(p, &v); err == nil {
			params[i] = source.NormalizeValue(v)
		}
	}
	return params
}

func (h *Handler) sendResponse(socket *gws.Conn, id, result any) {
	var resp connection.RPCResponse[any]
	resp.ID = id
	resp.Result = &result
	h.write(socket, resp)
}

func (h *Handler) sendError(socket *gws.Conn, id any, code int, message string) {
	var resp connection.RPCResponse[any]
	resp.ID = id
	resp.Error = &connection.RPCError{
		Code:    code,
		Message: message,
	}
	h.write(socket, resp)
}

func (h *Handler) sendNotification(socket *gws.Conn, id models.UUID, action connection.Action, result any) {
	var notification any = connection.OutgoingNotification{ID: id, Action: action, Result: result}
	var resp connection.RPCResponse[any]
	resp.Result = &notification
	h.write(socket, resp)
}

func (h *Handler) write(socket *gws.Conn, resp connection.RPCResponse[any]) {
	data, err := h.server.codec.Marshal(resp)
	if err != nil {
		h.server.log.Error("failed to marshal response", "error", err)
		return
	}
	if err := socket.WriteMessage(gws.OpcodeBinary, data); err != nil {
		h.server.log.Debug("error writing response", "error", err)
	}
}

func shouldTriggerFailure(probability float64) bool {
	if probability <= 0 {
		return false
	}
	if probability >= 1 {
		return true
	}
	//nolint:gosec // failure injection is not security sensitive
	return rand.Float64() < probability
}

// MatchMethod returns a RequestMatcher for method.
func MatchMethod(method connection.RPCFunction) RequestMatcher {
	return RequestMatcher{Method: string(method)}
}

// SimpleStubResponse answers every method request with response.
func SimpleStubResponse(method connection.RPCFunction, response any) StubResponse {
	return StubResponse{Matcher: MatchMethod(method), Result: response}
}

// ErrorStubResponse answers every method request with an RPC error.
func ErrorStubResponse(method connection.RPCFunction, code int, message string) StubResponse {
	return StubResponse{
		Matcher: MatchMethod(method),
		Error:   &connection.RPCError{Code: code, Message: message},
	}
}
