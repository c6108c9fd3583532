package server

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/logbookhq/logbook/pkg/constants"
)

// Router returns the HTTP routes of the server: the websocket endpoint
// and a health check.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc(constants.RPCPath, s.handleRPC).Methods(http.MethodGet)
	r.HandleFunc(constants.HealthPath, s.handleHealth).Methods(http.MethodGet)
	return r
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	socket, err := s.upgrader.Upgrade(w, r)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	go socket.ReadLoop()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if s.ctx.Err() != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	_, _ = w.Write([]byte("ok"))
}
