package trainer

import "time"

// EventType distinguishes the messages on the push channel.
type EventType string

const (
	EventStatus   EventType = "status"
	EventLog      EventType = "log"
	EventUpdate   EventType = "training_update"
	EventComplete EventType = "training_complete"
	EventError    EventType = "training_error"
)

// ProgressEvent is one reporting-interval snapshot of the run. Events are
// emitted only for completed optimizer steps and are strictly ordered by
// (epoch, batch) within a session.
type ProgressEvent struct {
	Epoch             int                `json:"epoch"`
	Batch             int                `json:"batch"`
	TotalBatches      int                `json:"total_batches"`
	Loss              float64            `json:"loss"`
	Accuracy          float64            `json:"accuracy"`
	Weights           map[string]float64 `json:"weights"`
	SampleInput       string             `json:"sample_input"`
	SampleOutput      []float64          `json:"sample_output"`
	SampleActivations map[string]float64 `json:"sample_activations"`
	TimeElapsed       float64            `json:"time_elapsed"`
}

// Event is what subscribers of the push channel receive. Progress is set
// only for EventUpdate; the other types carry a free-text message.
type Event struct {
	Type     EventType      `json:"type"`
	Message  string         `json:"message,omitempty"`
	Progress *ProgressEvent `json:"progress,omitempty"`
	Time     time.Time      `json:"time"`
}

// WeightSnapshot is an on-demand read of one named parameter tensor.
// Tensors with more than two dimensions are flattened to [dim0, rest].
type WeightSnapshot struct {
	Layer  string      `json:"layer"`
	Shape  []int       `json:"shape"`
	Values [][]float64 `json:"values"`
}

// PredictionResult is the outcome of classifying one uploaded image against
// the session's current parameters.
type PredictionResult struct {
	Prediction     int       `json:"prediction"`
	Confidence     float64   `json:"confidence"`
	Probabilities  []float64 `json:"probabilities"`
	ProcessedImage string    `json:"processed_image"`
}
