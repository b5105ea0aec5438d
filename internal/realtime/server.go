// Package realtime exposes the training orchestrator over HTTP: a REST
// control plane and a WebSocket push channel streaming progress events.
package realtime

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"neuralviz/internal/dataset"
	"neuralviz/internal/protocol"
	"neuralviz/internal/trainer"

	"github.com/gorilla/websocket"
)

const (
	pingInterval  = 30 * time.Second
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow localhost origins for dev.
	},
}

// Server manages WebSocket connections and routes control commands to the
// session manager.
type Server struct {
	mgr       *trainer.Manager
	store     *dataset.Store
	staticDir string

	clients   map[*client]bool
	clientsMu sync.RWMutex
}

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	server *Server
	subID  string
}

// New creates a new realtime server.
func New(mgr *trainer.Manager, store *dataset.Store, staticDir string) *Server {
	return &Server{
		mgr:       mgr,
		store:     store,
		staticDir: staticDir,
		clients:   make(map[*client]bool),
	}
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoint.
	mux.HandleFunc("/ws", s.handleWebSocket)

	// REST API endpoints.
	mux.HandleFunc("GET /api/datasets", s.handleDatasets)
	mux.HandleFunc("GET /api/architectures", s.handleArchitectures)
	mux.HandleFunc("GET /api/session", s.handleSession)
	mux.HandleFunc("POST /api/start-training", s.handleStart)
	mux.HandleFunc("POST /api/stop-training", s.handleStop)
	mux.HandleFunc("POST /api/pause-training", s.handlePause)
	mux.HandleFunc("POST /api/resume-training", s.handleResume)
	mux.HandleFunc("POST /api/reconfigure", s.handleReconfigure)
	mux.HandleFunc("GET /api/weights", s.handleWeights)
	mux.HandleFunc("GET /api/layers", s.handleLayers)
	mux.HandleFunc("POST /api/upload-image", s.handleUploadImage)
	mux.HandleFunc("GET /api/logs", s.handleLogs)

	// Static file serving.
	if s.staticDir != "" {
		fileServer := http.FileServer(http.Dir(s.staticDir))
		mux.Handle("/", fileServer)
	}

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleWebSocket upgrades an HTTP connection to WebSocket and attaches it
// to the event hub. The client receives only events published after this
// point; there is no backlog replay.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		return
	}

	c := &client{
		conn:   conn,
		send:   make(chan []byte, 256),
		server: s,
	}

	subID, events := s.mgr.Subscribe()
	c.subID = subID

	s.clientsMu.Lock()
	s.clients[c] = true
	s.clientsMu.Unlock()

	// Greet the new client with the connection status, the current session,
	// and the available datasets.
	c.enqueue(protocol.TypeStatus, protocol.StatusPayload{Msg: "Connected to NeuralViz backend"})
	c.enqueue(protocol.TypeSessionUpdate, s.mgr.Session())
	c.enqueue(protocol.TypeDatasetsUpdate, protocol.DatasetsUpdatePayload{Datasets: s.store.Available()})

	go c.writePump()
	go c.readPump()
	go c.forwardEvents(events)
}

// forwardEvents translates hub events into protocol messages, preserving
// their order for this client. It owns the send channel: once the
// subscription is closed and the backlog drained, it closes send, which in
// turn ends the write pump.
func (c *client) forwardEvents(events <-chan trainer.Event) {
	defer close(c.send)
	for ev := range events {
		msg, err := eventMessage(ev)
		if err != nil || msg == nil {
			continue
		}
		data, _ := json.Marshal(msg)
		select {
		case c.send <- data:
		default:
			// Client buffer full, skip.
		}
	}
}

func eventMessage(ev trainer.Event) (*protocol.Message, error) {
	switch ev.Type {
	case trainer.EventUpdate:
		return protocol.NewMessage(protocol.TypeTrainingUpdate, ev.Progress)
	case trainer.EventComplete:
		return protocol.NewMessage(protocol.TypeTrainingComplete, protocol.TrainingCompletePayload{Status: "complete"})
	case trainer.EventError:
		return protocol.NewMessage(protocol.TypeTrainingError, protocol.TrainingErrorPayload{Error: ev.Message})
	case trainer.EventStatus:
		return protocol.NewMessage(protocol.TypeStatus, protocol.StatusPayload{Msg: ev.Message})
	case trainer.EventLog:
		return protocol.NewMessage(protocol.TypeLog, protocol.LogPayload{
			Time:    ev.Time.Format("15:04:05"),
			Message: ev.Message,
		})
	}
	return nil, nil
}

// enqueue marshals and queues one message for the client.
func (c *client) enqueue(msgType string, payload interface{}) {
	msg, err := protocol.NewMessage(msgType, payload)
	if err != nil {
		return
	}
	data, _ := json.Marshal(msg)
	select {
	case c.send <- data:
	default:
	}
}

// readPump reads messages from the WebSocket connection.
func (c *client) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("websocket read error: %v", err)
			}
			return
		}

		c.server.handleMessage(c, message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// removeClient cleans up a disconnected client. Unsubscribing ends the
// client's event subscription; forwardEvents closes the send channel after
// it drains, so the channel is never closed under an in-flight send.
func (s *Server) removeClient(c *client) {
	s.clientsMu.Lock()
	delete(s.clients, c)
	s.clientsMu.Unlock()

	s.mgr.Unsubscribe(c.subID)
}

// handleMessage processes a validated client message.
func (s *Server) handleMessage(c *client, raw []byte) {
	msg, err := protocol.ValidateClientMessage(raw)
	if err != nil {
		s.sendError(c, protocol.ErrInvalidMessage, err.Error())
		return
	}

	switch msg.Type {
	case protocol.TypeTrainingStart:
		var p protocol.TrainingStartPayload
		json.Unmarshal(msg.Payload, &p)
		_, err = s.mgr.Start(trainer.TrainingConfig{
			Dataset:      p.Dataset,
			Architecture: p.Architecture,
			LearningRate: p.LearningRate,
			Epochs:       p.Epochs,
			BatchSize:    p.BatchSize,
		})
	case protocol.TypeTrainingStop:
		err = s.mgr.Stop()
	case protocol.TypeTrainingPause:
		err = s.mgr.Pause()
	case protocol.TypeTrainingResume:
		err = s.mgr.Resume()
	case protocol.TypeTrainingReconfigure:
		var p protocol.ReconfigurePayload
		json.Unmarshal(msg.Payload, &p)
		err = s.mgr.Reconfigure(p.LearningRate, p.BatchSize)
	}

	if err != nil {
		s.sendError(c, errorCode(err), err.Error())
		return
	}

	s.broadcastSessionUpdate()
}

// broadcastSessionUpdate sends the current session state to all clients.
func (s *Server) broadcastSessionUpdate() {
	msg, err := protocol.NewMessage(protocol.TypeSessionUpdate, s.mgr.Session())
	if err != nil {
		return
	}
	s.broadcast(msg)
}

// broadcast sends a message to all connected clients.
func (s *Server) broadcast(msg *protocol.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for c := range s.clients {
		select {
		case c.send <- data:
		default:
			// Client buffer full, skip.
		}
	}
}

func (s *Server) sendError(c *client, code, message string) {
	msg, _ := protocol.NewErrorMessage(code, message)
	data, _ := json.Marshal(msg)
	select {
	case c.send <- data:
	default:
	}
}

// OnDatasetsUpdate is the callback for the dataset watcher.
func (s *Server) OnDatasetsUpdate(available []string) {
	msg, _ := protocol.NewMessage(protocol.TypeDatasetsUpdate, protocol.DatasetsUpdatePayload{Datasets: available})
	s.broadcast(msg)
}
