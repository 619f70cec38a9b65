// Package statusapi is the read-only window onto a running supervisor: a
// handful of JSON endpoints plus a websocket feed of bus events, meant for
// a status dashboard or a human checking in, never for driving the
// orchestrator. Every mutation still goes through the markdown task files
// and the CLI — this package has no POST that changes orchestrator state,
// only /healthz and /api/shutdown, which exist so internal/instance can
// probe and stop a running supervisor.
package statusapi

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/CLIAIMONITOR/cos/internal/events"
	"github.com/CLIAIMONITOR/cos/internal/learning"
	"github.com/CLIAIMONITOR/cos/internal/orchestrator"
	"github.com/CLIAIMONITOR/cos/internal/schedule"
)

// Server is the status HTTP+websocket façade.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	hub        *hub
	upgrader   websocket.Upgrader

	orch     *orchestrator.Orchestrator
	learning *learning.Store
	schedule *schedule.Store
	bus      *events.Bus

	port      int
	startTime time.Time
	version   string

	stopCh       chan struct{}
	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

// New wires a Server over the given dependencies. Call Start to begin
// serving and subscribing to bus.
func New(orch *orchestrator.Orchestrator, lr *learning.Store, sc *schedule.Store, bus *events.Bus, port int, version string) *Server {
	s := &Server{
		hub:          newHub(),
		orch:         orch,
		learning:     lr,
		schedule:     sc,
		bus:          bus,
		port:         port,
		startTime:    time.Now(),
		version:      version,
		stopCh:       make(chan struct{}),
		shutdownChan: make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.setupRoutes()
	return s
}

// ShutdownRequested is closed when a /api/shutdown POST lands, so main can
// select on it alongside signal handling.
func (s *Server) ShutdownRequested() <-chan struct{} {
	return s.shutdownChan
}

// requestShutdown closes shutdownChan exactly once.
func (s *Server) requestShutdown() {
	s.shutdownOnce.Do(func() { close(s.shutdownChan) })
}

func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/decisions", s.handleDecisions).Methods("GET")
	api.HandleFunc("/agents", s.handleAgents).Methods("GET")
	api.HandleFunc("/learning", s.handleLearning).Methods("GET")
	api.HandleFunc("/schedule", s.handleSchedule).Methods("GET")
	api.HandleFunc("/shutdown", s.handleShutdown).Methods("POST")

	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Start launches the hub loop, a bus subscription that rebroadcasts onto
// connected websocket clients, and the HTTP listener. It does not block.
func (s *Server) Start() error {
	go s.hub.run(s.stopCh)
	go s.relayBusEvents()

	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort("127.0.0.1", strconv.Itoa(s.port)),
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("[statusapi] serve error: %v", err)
		}
	}()
	return nil
}

// Stop closes the bus subscription, the hub, and the HTTP listener.
func (s *Server) Stop() {
	close(s.stopCh)
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(ctx)
	}
}

// relayBusEvents subscribes to every event type under its own target
// "statusapi", which also receives every event published to "all", and
// rebroadcasts each one to connected websocket clients as a wsMessage.
func (s *Server) relayBusEvents() {
	ch := s.bus.Subscribe("statusapi", nil)
	defer s.bus.Unsubscribe("statusapi", ch)

	for {
		select {
		case event := <-ch:
			s.hub.broadcastJSON(string(event.Type), event)
		case <-s.stopCh:
			return
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &client{hub: s.hub, conn: conn, send: make(chan []byte, wsBufferSize)}
	s.hub.register <- c

	if snapshot, err := json.Marshal(wsMessage{Type: "snapshot", Data: s.snapshot()}); err == nil {
		c.send <- snapshot
	}

	go c.writePump()
	go c.readPump()
}

func (s *Server) respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[statusapi] encode response: %v", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
