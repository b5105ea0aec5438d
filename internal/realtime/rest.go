package realtime

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"neuralviz/internal/nn"
	"neuralviz/internal/protocol"
	"neuralviz/internal/trainer"
)

const maxUploadBytes = 5 << 20 // 5 MB

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps the trainer's error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, trainer.ErrConfiguration):
		status = http.StatusBadRequest
	case errors.Is(err, trainer.ErrState):
		status = http.StatusConflict
	case errors.Is(err, trainer.ErrNotFound):
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// errorCode maps the trainer's error taxonomy onto protocol error codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, trainer.ErrConfiguration):
		return protocol.ErrConfiguration
	case errors.Is(err, trainer.ErrState):
		return protocol.ErrInvalidState
	case errors.Is(err, trainer.ErrNotFound):
		return protocol.ErrNotFound
	}
	return protocol.ErrInternal
}

func (s *Server) handleDatasets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Available())
}

func (s *Server) handleArchitectures(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, nn.Architectures())
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.mgr.Session())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var cfg trainer.TrainingConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	sess, err := s.mgr.Start(cfg)
	if err != nil {
		writeError(w, err)
		return
	}

	s.broadcastSessionUpdate()
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "started", "session": sess})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.mgr.Stop(); err != nil {
		writeError(w, err)
		return
	}
	s.broadcastSessionUpdate()
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := s.mgr.Pause(); err != nil {
		writeError(w, err)
		return
	}
	s.broadcastSessionUpdate()
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if err := s.mgr.Resume(); err != nil {
		writeError(w, err)
		return
	}
	s.broadcastSessionUpdate()
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

func (s *Server) handleReconfigure(w http.ResponseWriter, r *http.Request) {
	var p protocol.ReconfigurePayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if err := s.mgr.Reconfigure(p.LearningRate, p.BatchSize); err != nil {
		writeError(w, err)
		return
	}
	s.broadcastSessionUpdate()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reconfigured"})
}

func (s *Server) handleWeights(w http.ResponseWriter, r *http.Request) {
	layer := r.URL.Query().Get("layer")
	if layer == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query parameter 'layer' is required"})
		return
	}

	snap, err := s.mgr.GetWeight(layer)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleLayers(w http.ResponseWriter, r *http.Request) {
	names, err := s.mgr.LayerNames()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

func (s *Server) handleUploadImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	file, _, err := r.FormFile("image")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "no image provided"})
		return
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read image"})
		return
	}

	result, err := s.mgr.Predict(raw)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.mgr.RecentLogs())
}
