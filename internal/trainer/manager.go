// Package trainer owns the live training session: its lifecycle state
// machine, the background training loop, the event hub feeding the push
// channel, and the concurrent-read surface (weight snapshots, inference).
package trainer

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"neuralviz/internal/dataset"
	"neuralviz/internal/imaging"
	"neuralviz/internal/nn"
)

const defaultReportEvery = 10

// Manager owns at most one live session at a time and validates every
// control command against the session state machine before applying it.
// Commands never queue: an invalid command is rejected with no effect.
type Manager struct {
	hub         *Hub
	store       *dataset.Store
	reportEvery int

	mu       sync.Mutex
	sess     *Session // nil while idle
	live     *liveRun // non-nil while a worker serves the session
	draining *liveRun // stopped worker that has not yet exited

	// newModel is swappable in tests.
	newModel func(arch string, seed int64) (nn.Model, error)
	seed     int64
}

// liveRun bundles the mutable training state owned by one worker goroutine.
// The worker is the only writer of model parameters; stepMu is held for
// writing only while the optimizer applies a step, so readers either see
// the parameters before a step or after it, never mid-update.
type liveRun struct {
	sess   *Session
	cfg    TrainingConfig
	model  nn.Model
	opt    *nn.Adam
	loader *dataset.Loader

	stepMu  sync.RWMutex
	version atomic.Uint64 // completed optimizer steps

	stop         atomic.Bool
	stopCh       chan struct{}
	pause        atomic.Bool
	resumeCh     chan struct{}
	pendingBatch atomic.Int64 // batch size to apply at the next epoch

	done chan struct{}
}

// NewManager creates a manager publishing to the given hub. reportEvery is
// the progress cadence in batches; zero means the default of 10.
func NewManager(store *dataset.Store, hub *Hub, reportEvery int) *Manager {
	if reportEvery <= 0 {
		reportEvery = defaultReportEvery
	}
	return &Manager{
		hub:         hub,
		store:       store,
		reportEvery: reportEvery,
		newModel:    nn.Build,
		seed:        time.Now().UnixNano(),
	}
}

// Start validates the configuration, creates a fresh session with fresh
// model and optimizer state, and spawns the training worker. It is rejected
// while another session is alive. If a previous session was just stopped,
// Start waits for its worker to exit first, so a stop immediately followed
// by a start never races a half-dead worker.
func (m *Manager) Start(cfg TrainingConfig) (Session, error) {
	cfg.applyDefaults()

	m.mu.Lock()
	if m.sess != nil {
		state := m.sess.State
		m.mu.Unlock()
		return Session{}, configErrf("a session is already active (state %s)", state)
	}
	draining := m.draining
	seed := m.seed
	m.mu.Unlock()

	if draining != nil {
		<-draining.done
	}

	if cfg.LearningRate <= 0 {
		return Session{}, configErrf("learning rate must be positive, got %v", cfg.LearningRate)
	}
	if cfg.Epochs < 1 {
		return Session{}, configErrf("epoch count must be at least 1, got %d", cfg.Epochs)
	}
	if cfg.BatchSize < 1 {
		return Session{}, configErrf("batch size must be at least 1, got %d", cfg.BatchSize)
	}

	model, err := m.newModel(cfg.Architecture, seed)
	if err != nil {
		return Session{}, configErrf("%v", err)
	}
	data, err := m.store.Load(cfg.Dataset)
	if err != nil {
		return Session{}, configErrf("%v", err)
	}
	if cfg.BatchSize > data.Count {
		return Session{}, configErrf("batch size %d exceeds dataset size %d", cfg.BatchSize, data.Count)
	}

	l := &liveRun{
		cfg:      cfg,
		model:    model,
		opt:      nn.NewAdam(model.Parameters(), cfg.LearningRate),
		loader:   dataset.NewLoader(data, cfg.BatchSize, seed),
		stopCh:   make(chan struct{}),
		resumeCh: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	sess := &Session{
		ID:        uuid.New().String(),
		State:     StateTraining,
		Config:    cfg,
		StartedAt: time.Now().UTC(),
	}
	l.sess = sess

	m.mu.Lock()
	if m.sess != nil {
		state := m.sess.State
		m.mu.Unlock()
		return Session{}, configErrf("a session is already active (state %s)", state)
	}
	m.sess = sess
	m.live = l
	m.draining = nil
	view := *sess
	m.mu.Unlock()

	m.hub.Status(fmt.Sprintf("training started: %s on %s (lr=%g, epochs=%d, batch=%d)",
		cfg.Architecture, cfg.Dataset, cfg.LearningRate, cfg.Epochs, cfg.BatchSize))

	go m.runWorker(l)
	return view, nil
}

// Stop signals the worker to exit at the next batch boundary and discards
// the session. The worker's resources are released before a subsequent
// Start is accepted.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.sess == nil {
		m.mu.Unlock()
		return stateErrf("no active session to stop")
	}
	l := m.live
	l.stop.Store(true)
	close(l.stopCh)
	m.draining = l
	m.live = nil
	m.sess = nil
	m.mu.Unlock()

	m.hub.Status("training stopped")
	return nil
}

// Pause asks the worker to halt after the current batch. The session stays
// resident in memory and keeps serving reads.
func (m *Manager) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess == nil || m.sess.State != StateTraining {
		return stateErrf("pause requires a running session")
	}
	m.live.pause.Store(true)
	// An unconsumed token from an earlier pause/resume cycle must not
	// release this pause.
	select {
	case <-m.live.resumeCh:
	default:
	}
	m.sess.State = StatePaused

	m.hub.Status("training paused")
	return nil
}

// Resume clears a pause and wakes the worker.
func (m *Manager) Resume() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess == nil || m.sess.State != StatePaused {
		return stateErrf("resume requires a paused session")
	}
	m.live.pause.Store(false)
	select {
	case m.live.resumeCh <- struct{}{}:
	default:
	}
	m.sess.State = StateTraining

	m.hub.Status("training resumed")
	return nil
}

// Reconfigure hot-patches the learning rate and/or batch size of the live
// session. The learning rate applies to the next step; the batch size to
// the next epoch. Nil arguments leave the value unchanged.
func (m *Manager) Reconfigure(lr *float64, batchSize *int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess == nil {
		return stateErrf("reconfigure requires an active session")
	}
	if lr == nil && batchSize == nil {
		return configErrf("nothing to reconfigure")
	}
	if lr != nil && *lr <= 0 {
		return configErrf("learning rate must be positive, got %v", *lr)
	}
	if batchSize != nil && *batchSize < 1 {
		return configErrf("batch size must be at least 1, got %d", *batchSize)
	}
	if batchSize != nil && *batchSize > m.live.loader.Count() {
		return configErrf("batch size %d exceeds dataset size %d", *batchSize, m.live.loader.Count())
	}

	if lr != nil {
		m.live.opt.SetLR(*lr)
		m.sess.Config.LearningRate = *lr
	}
	if batchSize != nil {
		m.live.pendingBatch.Store(int64(*batchSize))
		m.sess.Config.BatchSize = *batchSize
	}

	m.hub.Status("hyperparameters updated")
	return nil
}

// Session returns a copy of the current session, or an idle placeholder.
func (m *Manager) Session() Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess == nil {
		return Session{State: StateIdle}
	}
	return *m.sess
}

// GetWeight reads one named parameter tensor. It may run while the worker
// is training; the read happens between optimizer steps, so the tensor is
// never torn across two steps.
func (m *Manager) GetWeight(layer string) (*WeightSnapshot, error) {
	m.mu.Lock()
	l := m.live
	m.mu.Unlock()

	if l == nil {
		return nil, notFoundErrf("layer %q: no active model", layer)
	}

	l.stepMu.RLock()
	defer l.stepMu.RUnlock()

	p, ok := nn.ParamByName(l.model, layer)
	if !ok {
		return nil, notFoundErrf("unknown layer %q (valid layers: %v)", layer, nn.ParameterNames(l.model))
	}
	return &WeightSnapshot{
		Layer:  layer,
		Shape:  append([]int{}, p.Value.Shape...),
		Values: p.Value.Rows(),
	}, nil
}

// LayerNames returns the valid parameter names of the live model.
func (m *Manager) LayerNames() ([]string, error) {
	m.mu.Lock()
	l := m.live
	m.mu.Unlock()

	if l == nil {
		return nil, stateErrf("no active model")
	}
	return nn.ParameterNames(l.model), nil
}

// Predict classifies one uploaded image against the current parameters.
// The whole forward pass runs under the step read lock, so it observes one
// coherent parameter set, never a mix of two steps.
func (m *Manager) Predict(raw []byte) (*PredictionResult, error) {
	m.mu.Lock()
	l := m.live
	m.mu.Unlock()

	if l == nil {
		return nil, stateErrf("no active model to predict with")
	}

	input, processed, err := imaging.Preprocess(raw)
	if err != nil {
		return nil, err
	}

	l.stepMu.RLock()
	logits := l.model.Infer(input)
	l.stepMu.RUnlock()

	probs := nn.Softmax(logits)
	pred := nn.Argmax(probs)
	return &PredictionResult{
		Prediction:     pred,
		Confidence:     probs[pred],
		Probabilities:  probs,
		ProcessedImage: processed,
	}, nil
}

// Subscribe attaches a new subscriber to the push channel.
func (m *Manager) Subscribe() (string, <-chan Event) {
	return m.hub.Subscribe()
}

// Unsubscribe detaches a subscriber.
func (m *Manager) Unsubscribe(id string) {
	m.hub.Unsubscribe(id)
}

// RecentLogs returns buffered status/log notifications.
func (m *Manager) RecentLogs() []Notification {
	return m.hub.RecentLogs()
}

// Shutdown stops any live session and waits for its worker to exit.
func (m *Manager) Shutdown() {
	_ = m.Stop()

	m.mu.Lock()
	draining := m.draining
	m.mu.Unlock()

	if draining != nil {
		select {
		case <-draining.done:
		case <-time.After(10 * time.Second):
		}
	}
}
