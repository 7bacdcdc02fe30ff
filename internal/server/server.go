package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

func New(addr string, health http.HandlerFunc, h *Handlers, ws http.HandlerFunc) *http.Server {
	r := mux.NewRouter()
	r.HandleFunc("/health", health).Methods(http.MethodGet)
	r.HandleFunc("/ws", ws)
	if h != nil {
		r.HandleFunc("/v1/logs", h.ListLogs).Methods(http.MethodGet)
		r.HandleFunc("/v1/logs/stats", h.Stats).Methods(http.MethodGet)
		r.HandleFunc("/v1/logs/{fingerprint}", h.Detail).Methods(http.MethodGet)
		r.HandleFunc("/v1/model-test", h.ModelTest).Methods(http.MethodPost)
	}

	return &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// Websocket upgrades hijack the connection, so these do not
		// apply to live dashboard sessions.
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}
