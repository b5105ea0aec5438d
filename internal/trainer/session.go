package trainer

import "time"

// State is the lifecycle state of the training session.
type State string

const (
	StateIdle     State = "idle"
	StateTraining State = "training"
	StatePaused   State = "paused"
)

// TrainingConfig is the immutable configuration a session starts with.
// LearningRate and BatchSize may be hot-patched through Reconfigure; dataset
// and architecture changes require a fresh session.
type TrainingConfig struct {
	Dataset      string  `json:"dataset"`
	Architecture string  `json:"architecture"`
	LearningRate float64 `json:"lr"`
	Epochs       int     `json:"epochs"`
	BatchSize    int     `json:"batch_size"`
}

func (c *TrainingConfig) applyDefaults() {
	if c.Dataset == "" {
		c.Dataset = "mnist"
	}
	if c.Architecture == "" {
		c.Architecture = "mlp"
	}
	if c.LearningRate == 0 {
		c.LearningRate = 0.001
	}
	if c.Epochs == 0 {
		c.Epochs = 10
	}
	if c.BatchSize == 0 {
		c.BatchSize = 64
	}
}

// Session describes the single live training session. CurrentEpoch and
// CurrentBatch always reflect the last completed step, never one in flight.
type Session struct {
	ID           string         `json:"id"`
	State        State          `json:"state"`
	Config       TrainingConfig `json:"config"`
	CurrentEpoch int            `json:"current_epoch"`
	CurrentBatch int            `json:"current_batch"`
	TotalBatches int            `json:"total_batches"`
	Steps        uint64         `json:"steps"`
	StartedAt    time.Time      `json:"started_at"`
}
