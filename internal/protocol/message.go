package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage creates a server-originated message with the current timestamp.
func NewMessage(msgType string, payload interface{}) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Message{
		Type:      msgType,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Server → Client message types.
const (
	TypeStatus           = "status"
	TypeLog              = "log"
	TypeTrainingUpdate   = "training_update"
	TypeTrainingComplete = "training_complete"
	TypeTrainingError    = "training_error"
	TypeSessionUpdate    = "session.update"
	TypeDatasetsUpdate   = "datasets.update"
	TypeError            = "error"
)

// Client → Server message types.
const (
	TypeTrainingStart       = "training.start"
	TypeTrainingStop        = "training.stop"
	TypeTrainingPause       = "training.pause"
	TypeTrainingResume      = "training.resume"
	TypeTrainingReconfigure = "training.reconfigure"
)

// Error codes.
const (
	ErrInvalidMessage = "INVALID_MESSAGE"
	ErrConfiguration  = "CONFIGURATION_ERROR"
	ErrInvalidState   = "STATE_ERROR"
	ErrNotFound       = "NOT_FOUND"
	ErrInternal       = "INTERNAL_ERROR"
)

// Server → Client payloads.

type StatusPayload struct {
	Msg string `json:"msg"`
}

type LogPayload struct {
	Time    string `json:"time"`
	Message string `json:"message"`
}

type TrainingCompletePayload struct {
	Status string `json:"status"`
}

type TrainingErrorPayload struct {
	Error string `json:"error"`
}

type DatasetsUpdatePayload struct {
	Datasets []string `json:"datasets"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Client → Server payloads.

// TrainingStartPayload mirrors the training configuration; zero fields fall
// back to server defaults.
type TrainingStartPayload struct {
	Dataset      string  `json:"dataset"`
	Architecture string  `json:"architecture"`
	LearningRate float64 `json:"lr"`
	Epochs       int     `json:"epochs"`
	BatchSize    int     `json:"batch_size"`
}

// ReconfigurePayload hot-patches hyperparameters; nil fields are untouched.
type ReconfigurePayload struct {
	LearningRate *float64 `json:"lr,omitempty"`
	BatchSize    *int     `json:"batch_size,omitempty"`
}
