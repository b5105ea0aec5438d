package trainer

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"neuralviz/internal/dataset"
	"neuralviz/internal/nn"
)

func newTestManager(t *testing.T, reportEvery int) *Manager {
	t.Helper()
	store := dataset.NewStore(t.TempDir())
	m := NewManager(store, NewHub(), reportEvery)
	m.seed = 42
	t.Cleanup(m.Shutdown)
	return m
}

func syntheticConfig() TrainingConfig {
	return TrainingConfig{
		Dataset:      dataset.SyntheticName,
		Architecture: "mlp",
		LearningRate: 0.001,
		Epochs:       1,
		BatchSize:    64,
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// testPNG renders a small drawing as PNG bytes for the inference surface.
func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 28, 28))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	for y := 8; y < 20; y++ {
		for x := 12; x < 16; x++ {
			img.SetGray(x, y, color.Gray{Y: 0})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestStart_InvalidConfigs(t *testing.T) {
	m := newTestManager(t, 1)

	cases := []struct {
		name string
		mut  func(*TrainingConfig)
	}{
		{"negative lr", func(c *TrainingConfig) { c.LearningRate = -0.1 }},
		{"negative epochs", func(c *TrainingConfig) { c.Epochs = -1 }},
		{"negative batch", func(c *TrainingConfig) { c.BatchSize = -8 }},
		{"unknown architecture", func(c *TrainingConfig) { c.Architecture = "transformer" }},
		{"unknown dataset", func(c *TrainingConfig) { c.Dataset = "imagenet" }},
		{"missing dataset files", func(c *TrainingConfig) { c.Dataset = "mnist" }},
		{"batch exceeds dataset", func(c *TrainingConfig) { c.BatchSize = 100000 }},
	}
	for _, tc := range cases {
		cfg := syntheticConfig()
		tc.mut(&cfg)
		if _, err := m.Start(cfg); !errors.Is(err, ErrConfiguration) {
			t.Errorf("%s: expected ErrConfiguration, got %v", tc.name, err)
		}
	}

	if got := m.Session().State; got != StateIdle {
		t.Fatalf("rejected starts must leave the manager idle, state %s", got)
	}
}

func TestStart_AppliesDefaults(t *testing.T) {
	m := newTestManager(t, 1)

	sess, err := m.Start(TrainingConfig{Dataset: dataset.SyntheticName})
	if err != nil {
		t.Fatal(err)
	}
	defer m.Stop()

	cfg := sess.Config
	if cfg.Architecture != "mlp" || cfg.LearningRate != 0.001 || cfg.Epochs != 10 || cfg.BatchSize != 64 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if sess.ID == "" || sess.State != StateTraining {
		t.Fatalf("bad session: %+v", sess)
	}
}

func TestStart_RejectedWhileActive(t *testing.T) {
	m := newTestManager(t, 1)

	if _, err := m.Start(syntheticConfig()); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Start(syntheticConfig()); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for concurrent start, got %v", err)
	}

	// Also rejected while paused.
	if err := m.Pause(); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Start(syntheticConfig()); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration while paused, got %v", err)
	}
}

func TestCommands_RejectedWhenIdle(t *testing.T) {
	m := newTestManager(t, 1)
	lr := 0.01

	if err := m.Stop(); !errors.Is(err, ErrState) {
		t.Errorf("stop: expected ErrState, got %v", err)
	}
	if err := m.Pause(); !errors.Is(err, ErrState) {
		t.Errorf("pause: expected ErrState, got %v", err)
	}
	if err := m.Resume(); !errors.Is(err, ErrState) {
		t.Errorf("resume: expected ErrState, got %v", err)
	}
	if err := m.Reconfigure(&lr, nil); !errors.Is(err, ErrState) {
		t.Errorf("reconfigure: expected ErrState, got %v", err)
	}
	if _, err := m.GetWeight("fc1.weight"); !errors.Is(err, ErrNotFound) {
		t.Errorf("weights: expected ErrNotFound, got %v", err)
	}
	if _, err := m.Predict(nil); !errors.Is(err, ErrState) {
		t.Errorf("predict: expected ErrState, got %v", err)
	}
}

func TestTraining_RunsToCompletion(t *testing.T) {
	m := newTestManager(t, 1)
	id, ch := m.Subscribe()
	defer m.Unsubscribe(id)

	cfg := syntheticConfig()
	if _, err := m.Start(cfg); err != nil {
		t.Fatal(err)
	}

	var updates []*ProgressEvent
	completes := 0
	deadline := time.After(30 * time.Second)
collect:
	for {
		select {
		case ev := <-ch:
			switch ev.Type {
			case EventUpdate:
				updates = append(updates, ev.Progress)
			case EventComplete:
				completes++
				break collect
			case EventError:
				t.Fatalf("unexpected training error: %s", ev.Message)
			}
		case <-deadline:
			t.Fatal("training never completed")
		}
	}

	if completes != 1 {
		t.Fatalf("expected exactly one completion event, got %d", completes)
	}
	// 512 synthetic samples at batch 64 give 8 batches, reported every batch.
	if len(updates) != 8 {
		t.Fatalf("expected 8 progress events, got %d", len(updates))
	}
	for i, p := range updates {
		if p.Epoch != 1 || p.Batch != i {
			t.Fatalf("progress %d out of order: epoch %d batch %d", i, p.Epoch, p.Batch)
		}
		if p.TotalBatches != 8 {
			t.Fatalf("progress %d: total batches %d", i, p.TotalBatches)
		}
		if p.SampleInput == "" || len(p.SampleOutput) != nn.NumClasses {
			t.Fatalf("progress %d missing sample payload", i)
		}
		if len(p.Weights) == 0 || len(p.SampleActivations) == 0 {
			t.Fatalf("progress %d missing weight or activation summary", i)
		}
	}

	waitFor(t, "idle after completion", func() bool {
		return m.Session().State == StateIdle
	})
}

func TestPauseResume(t *testing.T) {
	m := newTestManager(t, 1000)

	cfg := syntheticConfig()
	cfg.Epochs = 100
	if _, err := m.Start(cfg); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "first steps", func() bool { return m.Session().Steps > 0 })

	if err := m.Pause(); err != nil {
		t.Fatal(err)
	}
	if got := m.Session().State; got != StatePaused {
		t.Fatalf("state %s after pause", got)
	}
	// Pausing twice is not a valid transition.
	if err := m.Pause(); !errors.Is(err, ErrState) {
		t.Fatalf("expected ErrState for double pause, got %v", err)
	}

	// Let any in-flight batch finish, then confirm the step counter holds.
	time.Sleep(100 * time.Millisecond)
	frozen := m.Session().Steps
	time.Sleep(150 * time.Millisecond)
	if got := m.Session().Steps; got != frozen {
		t.Fatalf("steps advanced while paused: %d -> %d", frozen, got)
	}

	// Reads keep working against the paused session.
	if _, err := m.GetWeight("fc1.weight"); err != nil {
		t.Fatalf("weights unavailable while paused: %v", err)
	}

	if err := m.Resume(); err != nil {
		t.Fatal(err)
	}
	if got := m.Session().State; got != StateTraining {
		t.Fatalf("state %s after resume", got)
	}
	if err := m.Resume(); !errors.Is(err, ErrState) {
		t.Fatalf("expected ErrState for double resume, got %v", err)
	}

	waitFor(t, "steps after resume", func() bool { return m.Session().Steps > frozen })

	if err := m.Stop(); err != nil {
		t.Fatal(err)
	}
}

func TestStopWhilePaused(t *testing.T) {
	m := newTestManager(t, 1000)

	cfg := syntheticConfig()
	cfg.Epochs = 100
	if _, err := m.Start(cfg); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "first steps", func() bool { return m.Session().Steps > 0 })

	if err := m.Pause(); err != nil {
		t.Fatal(err)
	}
	if err := m.Stop(); err != nil {
		t.Fatal(err)
	}
	if got := m.Session().State; got != StateIdle {
		t.Fatalf("state %s after stop", got)
	}

	// The stopped worker must actually exit so a new session can start.
	if _, err := m.Start(syntheticConfig()); err != nil {
		t.Fatal(err)
	}
}

func TestReconfigure(t *testing.T) {
	m := newTestManager(t, 1000)

	cfg := syntheticConfig()
	cfg.Epochs = 100
	if _, err := m.Start(cfg); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "first steps", func() bool { return m.Session().Steps > 0 })

	lr := 0.05
	if err := m.Reconfigure(&lr, nil); err != nil {
		t.Fatal(err)
	}
	if got := m.Session().Config.LearningRate; got != 0.05 {
		t.Fatalf("lr not patched: %v", got)
	}
	m.mu.Lock()
	optLR := m.live.opt.GetLR()
	m.mu.Unlock()
	if optLR != 0.05 {
		t.Fatalf("optimizer lr not patched: %v", optLR)
	}

	batch := 32
	if err := m.Reconfigure(nil, &batch); err != nil {
		t.Fatal(err)
	}
	if got := m.Session().Config.BatchSize; got != 32 {
		t.Fatalf("batch size not patched: %v", got)
	}

	// A patch must not reset progress counters.
	if m.Session().Steps == 0 {
		t.Fatal("steps reset by reconfigure")
	}

	if err := m.Reconfigure(nil, nil); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for empty reconfigure, got %v", err)
	}
	bad := -1.0
	if err := m.Reconfigure(&bad, nil); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for negative lr, got %v", err)
	}
	badBatch := 0
	if err := m.Reconfigure(nil, &badBatch); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for zero batch, got %v", err)
	}
	// A batch larger than the dataset would leave every epoch empty.
	huge := 100000
	if err := m.Reconfigure(nil, &huge); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for oversized batch, got %v", err)
	}
	if got := m.Session().Config.BatchSize; got != 32 {
		t.Fatalf("rejected reconfigure changed batch size: %v", got)
	}
}

func TestStopThenImmediateStart(t *testing.T) {
	m := newTestManager(t, 1000)

	cfg := syntheticConfig()
	cfg.Epochs = 100
	first, err := m.Start(cfg)
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, "first steps", func() bool { return m.Session().Steps > 0 })

	if err := m.Stop(); err != nil {
		t.Fatal(err)
	}
	second, err := m.Start(syntheticConfig())
	if err != nil {
		t.Fatalf("start right after stop: %v", err)
	}
	if second.ID == first.ID {
		t.Fatal("new session reused the old ID")
	}
	if second.CurrentEpoch != 0 || second.Steps != 0 {
		t.Fatalf("new session inherited progress: %+v", second)
	}
}

func TestGetWeight(t *testing.T) {
	m := newTestManager(t, 1000)

	cfg := syntheticConfig()
	cfg.Epochs = 100
	if _, err := m.Start(cfg); err != nil {
		t.Fatal(err)
	}

	snap, err := m.GetWeight("fc1.weight")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Layer != "fc1.weight" {
		t.Fatalf("layer %q", snap.Layer)
	}
	if len(snap.Shape) != 2 || snap.Shape[0] != 128 || snap.Shape[1] != nn.InputPixels {
		t.Fatalf("shape %v", snap.Shape)
	}
	if len(snap.Values) != 128 || len(snap.Values[0]) != nn.InputPixels {
		t.Fatalf("values %dx%d", len(snap.Values), len(snap.Values[0]))
	}

	if _, err := m.GetWeight("fc9.weight"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown layer, got %v", err)
	}

	names, err := m.LayerNames()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 6 {
		t.Fatalf("expected 6 mlp parameters, got %v", names)
	}
}

func TestPredict(t *testing.T) {
	m := newTestManager(t, 1000)

	cfg := syntheticConfig()
	cfg.Epochs = 100
	if _, err := m.Start(cfg); err != nil {
		t.Fatal(err)
	}

	res, err := m.Predict(testPNG(t))
	if err != nil {
		t.Fatal(err)
	}
	if res.Prediction < 0 || res.Prediction >= nn.NumClasses {
		t.Fatalf("prediction %d out of range", res.Prediction)
	}
	if len(res.Probabilities) != nn.NumClasses {
		t.Fatalf("expected %d probabilities, got %d", nn.NumClasses, len(res.Probabilities))
	}
	sum := 0.0
	for _, p := range res.Probabilities {
		sum += p
	}
	if sum < 0.999 || sum > 1.001 {
		t.Fatalf("probabilities sum to %v", sum)
	}
	if res.Confidence != res.Probabilities[res.Prediction] {
		t.Fatal("confidence does not match the predicted class probability")
	}
	if res.ProcessedImage == "" {
		t.Fatal("missing processed image")
	}

	if _, err := m.Predict([]byte("junk")); err == nil {
		t.Fatal("expected error for undecodable image")
	}
}

// mirrorModel is a test double whose two parameters must always be updated
// together. Infer flags a violation if it ever observes them mid-update.
type mirrorModel struct {
	a, b *nn.Param
	torn atomic.Bool
}

func newMirrorModel() *mirrorModel {
	m := &mirrorModel{}
	m.a = &nn.Param{Name: "mirror.a", Value: nn.NewTensor(1), Grad: nn.NewTensor(1)}
	m.b = &nn.Param{Name: "mirror.b", Value: nn.NewTensor(1), Grad: nn.NewTensor(1)}
	return m
}

func (m *mirrorModel) Arch() string { return "mirror" }

func (m *mirrorModel) Parameters() []*nn.Param {
	return []*nn.Param{m.a, m.b}
}

func (m *mirrorModel) Forward(x *nn.Tensor) *nn.Tensor {
	return nn.NewTensor(x.Shape[0], nn.NumClasses)
}

func (m *mirrorModel) Backward(targets []int) float64 {
	m.a.Grad.Data[0] = 1
	m.b.Grad.Data[0] = 1
	return 0.5
}

func (m *mirrorModel) Infer(x []float64) []float64 {
	if m.a.Value.Data[0] != m.b.Value.Data[0] {
		m.torn.Store(true)
	}
	return make([]float64, nn.NumClasses)
}

func (m *mirrorModel) ActivationProbe(x []float64) map[string]float64 {
	return map[string]float64{"mirror": 0}
}

func TestPredict_SeesCoherentParameters(t *testing.T) {
	m := newTestManager(t, 1000)
	mirror := newMirrorModel()
	m.newModel = func(arch string, seed int64) (nn.Model, error) { return mirror, nil }

	cfg := syntheticConfig()
	cfg.Epochs = 1000000 // keeps the worker stepping for the whole test
	cfg.BatchSize = 1
	if _, err := m.Start(cfg); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "first steps", func() bool { return m.Session().Steps > 0 })

	img := testPNG(t)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if _, err := m.Predict(img); err != nil {
					return // session may stop underneath us
				}
			}
		}()
	}
	wg.Wait()

	if err := m.Stop(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "worker exit", func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.draining == nil
	})
	if mirror.torn.Load() {
		t.Fatal("a concurrent read observed a half-applied optimizer step")
	}
}

// gatedModel blocks every forward pass until the test feeds its gate,
// pinning the worker mid-batch at a known point.
type gatedModel struct {
	*mirrorModel
	gate   chan struct{}
	starts atomic.Int32
}

func (m *gatedModel) Forward(x *nn.Tensor) *nn.Tensor {
	m.starts.Add(1)
	<-m.gate
	return m.mirrorModel.Forward(x)
}

func TestPauseResumePause_HaltsWorker(t *testing.T) {
	m := newTestManager(t, 1000)
	gated := &gatedModel{mirrorModel: newMirrorModel(), gate: make(chan struct{})}
	m.newModel = func(arch string, seed int64) (nn.Model, error) { return gated, nil }

	cfg := syntheticConfig()
	cfg.Epochs = 100
	cfg.BatchSize = 1
	if _, err := m.Start(cfg); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "first forward", func() bool { return gated.starts.Load() == 1 })

	// A full pause/resume/pause cycle lands while the worker is still inside
	// its first batch. The final pause must hold even though the resume in
	// the middle was never consumed.
	if err := m.Pause(); err != nil {
		t.Fatal(err)
	}
	if err := m.Resume(); err != nil {
		t.Fatal(err)
	}
	if err := m.Pause(); err != nil {
		t.Fatal(err)
	}

	gated.gate <- struct{}{} // let the in-flight batch finish
	waitFor(t, "first step", func() bool { return m.Session().Steps == 1 })

	time.Sleep(150 * time.Millisecond)
	if got := gated.starts.Load(); got != 1 {
		t.Fatalf("worker started batch %d while paused", got)
	}
	if got := m.Session().State; got != StatePaused {
		t.Fatalf("state %s after pause", got)
	}

	if err := m.Resume(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "next batch after resume", func() bool { return gated.starts.Load() >= 2 })

	if err := m.Stop(); err != nil {
		t.Fatal(err)
	}
	close(gated.gate)
}

func TestSession_TracksCompletedStepWhilePaused(t *testing.T) {
	m := newTestManager(t, 1000)
	gated := &gatedModel{mirrorModel: newMirrorModel(), gate: make(chan struct{})}
	m.newModel = func(arch string, seed int64) (nn.Model, error) { return gated, nil }

	cfg := syntheticConfig()
	cfg.Epochs = 100
	cfg.BatchSize = 1
	if _, err := m.Start(cfg); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "first forward", func() bool { return gated.starts.Load() == 1 })

	// Pause mid-batch. The in-flight step still finishes, and the session
	// must record it before the worker parks.
	if err := m.Pause(); err != nil {
		t.Fatal(err)
	}
	if got := m.Session().Steps; got != 0 {
		t.Fatalf("steps %d before the first step completed", got)
	}

	gated.gate <- struct{}{}
	waitFor(t, "completed step visible", func() bool { return m.Session().Steps == 1 })

	sess := m.Session()
	if sess.State != StatePaused {
		t.Fatalf("state %s after pause", sess.State)
	}
	if sess.CurrentBatch != 0 {
		t.Fatalf("current batch %d after one step", sess.CurrentBatch)
	}

	if err := m.Resume(); err != nil {
		t.Fatal(err)
	}
	if err := m.Stop(); err != nil {
		t.Fatal(err)
	}
	close(gated.gate)
}

// panicModel blows up on its first forward pass.
type panicModel struct{ *mirrorModel }

func (m *panicModel) Forward(x *nn.Tensor) *nn.Tensor {
	panic("boom")
}

func TestFatalError_ReplacesCompletion(t *testing.T) {
	m := newTestManager(t, 1)
	m.newModel = func(arch string, seed int64) (nn.Model, error) {
		return &panicModel{mirrorModel: newMirrorModel()}, nil
	}

	id, ch := m.Subscribe()
	defer m.Unsubscribe(id)

	if _, err := m.Start(syntheticConfig()); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-ch:
			switch ev.Type {
			case EventComplete:
				t.Fatal("fatal failure must not emit a completion event")
			case EventError:
				waitFor(t, "idle after fatal error", func() bool {
					return m.Session().State == StateIdle
				})
				return
			}
		case <-deadline:
			t.Fatal("no error event after worker panic")
		}
	}
}

// nanModel produces a non-finite loss on one batch, then recovers.
type nanModel struct {
	*mirrorModel
	calls int
}

func (m *nanModel) Backward(targets []int) float64 {
	m.calls++
	if m.calls == 2 {
		return math.NaN()
	}
	return m.mirrorModel.Backward(targets)
}

func TestRecoverableError_SkipsBatch(t *testing.T) {
	m := newTestManager(t, 1000)
	bad := &nanModel{mirrorModel: newMirrorModel()}
	m.newModel = func(arch string, seed int64) (nn.Model, error) { return bad, nil }

	id, ch := m.Subscribe()
	defer m.Unsubscribe(id)

	cfg := syntheticConfig()
	cfg.BatchSize = 128 // 4 batches per epoch
	if _, err := m.Start(cfg); err != nil {
		t.Fatal(err)
	}

	sawSkip := false
	deadline := time.After(10 * time.Second)
	for {
		select {
		case ev := <-ch:
			switch ev.Type {
			case EventLog:
				if strings.Contains(ev.Message, "skipped") {
					sawSkip = true
				}
			case EventError:
				t.Fatalf("recoverable failure escalated: %s", ev.Message)
			case EventComplete:
				if !sawSkip {
					t.Fatal("bad batch was never reported as skipped")
				}
				return
			}
		case <-deadline:
			t.Fatal("training never completed")
		}
	}
}

func TestShutdown(t *testing.T) {
	store := dataset.NewStore(t.TempDir())
	m := NewManager(store, NewHub(), 1000)
	m.seed = 42

	cfg := syntheticConfig()
	cfg.Epochs = 100
	if _, err := m.Start(cfg); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "first steps", func() bool { return m.Session().Steps > 0 })

	m.Shutdown()
	if got := m.Session().State; got != StateIdle {
		t.Fatalf("state %s after shutdown", got)
	}
	// Safe when already idle.
	m.Shutdown()
}
