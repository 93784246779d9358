package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"vidrender/internal/scene"
)

// fakeFactory provisions in-memory instances and records what happened to
// them.
type fakeFactory struct {
	mu        sync.Mutex
	created   int
	closed    int
	calls     int
	instances []*fakeInstance

	// failProvision returns an error for the first n provisioning calls;
	// a negative value fails every call.
	failProvision int
	// renderDelay is applied to every render.
	renderDelay func(index int) time.Duration
	// renderErr decides whether a given attempt fails.
	renderErr func(index, attempt int) error

	attempts sync.Map // frame index -> *atomic.Int32
	renders  atomic.Int64
	shared   atomic.Int64
}

func (f *fakeFactory) NewInstance(ctx context.Context) (Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failProvision < 0 || f.calls <= f.failProvision {
		return nil, fmt.Errorf("provision %d refused", f.calls)
	}
	f.created++
	inst := &fakeInstance{f: f, id: f.created}
	f.instances = append(f.instances, inst)
	return inst, nil
}

func (f *fakeFactory) counts() (created, closed int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created, f.closed
}

func (f *fakeFactory) attempt(index int) int {
	v, _ := f.attempts.LoadOrStore(index, new(atomic.Int32))
	return int(v.(*atomic.Int32).Add(1))
}

func (f *fakeFactory) attemptsFor(index int) int {
	v, ok := f.attempts.Load(index)
	if !ok {
		return 0
	}
	return int(v.(*atomic.Int32).Load())
}

type fakeInstance struct {
	f      *fakeFactory
	id     int
	busy   atomic.Bool
	closed atomic.Bool
}

func (i *fakeInstance) Render(ctx context.Context, st scene.FrameState) ([]byte, error) {
	if !i.busy.CompareAndSwap(false, true) {
		i.f.shared.Add(1)
	}
	defer i.busy.Store(false)
	i.f.renders.Add(1)

	attempt := i.f.attempt(st.Index)
	if i.f.renderDelay != nil {
		select {
		case <-time.After(i.f.renderDelay(st.Index)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if i.f.renderErr != nil {
		if err := i.f.renderErr(st.Index, attempt); err != nil {
			return nil, err
		}
	}
	return []byte(fmt.Sprintf("frame-%04d@%gs", st.Index, st.Time)), nil
}

func (i *fakeInstance) Close() error {
	if i.closed.CompareAndSwap(false, true) {
		i.f.mu.Lock()
		i.f.closed++
		i.f.mu.Unlock()
	}
	return nil
}

// recordingSink keeps every frame it is handed in memory.
type recordingSink struct {
	mu     sync.Mutex
	opened int
	last   *recordingWriter
	failAt int
}

func newRecordingSink() *recordingSink {
	return &recordingSink{failAt: -1}
}

func (s *recordingSink) Open(_ context.Context, spec StreamSpec) (FrameWriter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened++
	s.last = &recordingWriter{spec: spec, failAt: s.failAt}
	return s.last, nil
}

func (s *recordingSink) writer() *recordingWriter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

type recordingWriter struct {
	mu        sync.Mutex
	spec      StreamSpec
	failAt    int
	indices   []int
	data      [][]byte
	committed bool
	aborted   bool
}

func (w *recordingWriter) WriteFrame(f RenderedFrame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if f.Index == w.failAt {
		return fmt.Errorf("disk full at frame %d", f.Index)
	}
	w.indices = append(w.indices, f.Index)
	w.data = append(w.data, f.Data)
	return nil
}

func (w *recordingWriter) Commit() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.committed = true
	return nil
}

func (w *recordingWriter) Abort() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.aborted = true
	w.indices = nil
	w.data = nil
	return nil
}

func (w *recordingWriter) snapshot() (indices []int, committed, aborted bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]int(nil), w.indices...), w.committed, w.aborted
}

// recordingObserver collects job state transitions and emitted frames.
type recordingObserver struct {
	NopObserver
	mu      sync.Mutex
	states  []JobState
	emitted []int
	onEmit  func(index int)
}

func (o *recordingObserver) JobStateChanged(_ string, _, to JobState) {
	o.mu.Lock()
	o.states = append(o.states, to)
	o.mu.Unlock()
}

func (o *recordingObserver) FrameEmitted(index, _ int) {
	o.mu.Lock()
	o.emitted = append(o.emitted, index)
	fn := o.onEmit
	o.mu.Unlock()
	if fn != nil {
		fn(index)
	}
}

func (o *recordingObserver) stateList() []JobState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]JobState(nil), o.states...)
}
