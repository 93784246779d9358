package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"vidrender/internal/pkg/errors"
	"vidrender/internal/pkg/logger"
	"vidrender/internal/scene"
)

func sceneJSON(duration, fps float64) []byte {
	return []byte(fmt.Sprintf(`{
		"width": 320,
		"height": 240,
		"fps": %g,
		"duration": %g,
		"elements": [
			{"id": "bg", "type": "shape", "fill": "#222"},
			{"id": "title", "type": "text", "text": "hello", "start": 0, "end": %g}
		]
	}`, fps, duration, duration/2))
}

func testConfig(parallel int) Config {
	return Config{
		Out:              "out.mp4",
		Parallel:         parallel,
		ProvisionBackoff: time.Millisecond,
		ProvisionMaxWait: 5 * time.Millisecond,
		RenderTimeout:    5 * time.Second,
	}
}

func newTestPipeline(f Factory, sink Sink, obs Observer) *Pipeline {
	return New(Deps{Factory: f, Sink: sink, Log: logger.Discard(), Observer: obs})
}

func jitter(seed int64, max time.Duration) func(int) time.Duration {
	var mu sync.Mutex
	r := rand.New(rand.NewSource(seed))
	return func(int) time.Duration {
		mu.Lock()
		defer mu.Unlock()
		return time.Duration(r.Int63n(int64(max)))
	}
}

func TestRunEmitsEveryFrameInOrder(t *testing.T) {
	for _, parallel := range []int{1, 2, 8} {
		t.Run(fmt.Sprintf("parallel=%d", parallel), func(t *testing.T) {
			f := &fakeFactory{renderDelay: jitter(int64(parallel), 3*time.Millisecond)}
			sink := newRecordingSink()

			res, err := newTestPipeline(f, sink, nil).Run(context.Background(), sceneJSON(1, 30), testConfig(parallel))
			if err != nil {
				t.Fatalf("Run() error: %v", err)
			}

			indices, committed, aborted := sink.writer().snapshot()
			if !committed || aborted {
				t.Errorf("expected committed output, got committed=%v aborted=%v", committed, aborted)
			}
			assertSequence(t, indices, 30)

			if res.Frames != 30 || res.FPS != 30 {
				t.Errorf("unexpected result: %+v", res)
			}
			if res.Instances.PeakLeased > parallel {
				t.Errorf("peak leased %d exceeds parallel %d", res.Instances.PeakLeased, parallel)
			}
			created, closed := f.counts()
			if created > parallel {
				t.Errorf("created %d instances with parallel %d", created, parallel)
			}
			if created != closed {
				t.Errorf("expected every instance closed, got created=%d closed=%d", created, closed)
			}
			if f.shared.Load() != 0 {
				t.Errorf("an instance rendered %d frames concurrently", f.shared.Load())
			}
		})
	}
}

func TestRunShortSceneProvisionsOnlyWhatItNeeds(t *testing.T) {
	f := &fakeFactory{renderDelay: func(int) time.Duration { return 5 * time.Millisecond }}
	sink := newRecordingSink()

	// 0.1s at 30fps is 3 frames.
	res, err := newTestPipeline(f, sink, nil).Run(context.Background(), sceneJSON(0.1, 30), testConfig(8))
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.Frames != 3 {
		t.Fatalf("expected 3 frames, got %d", res.Frames)
	}
	if created, _ := f.counts(); created > 3 {
		t.Errorf("expected at most 3 instances for 3 frames, got %d", created)
	}
}

func TestRunTinyDurationRendersOneFrame(t *testing.T) {
	sink := newRecordingSink()

	res, err := newTestPipeline(&fakeFactory{}, sink, nil).Run(context.Background(), sceneJSON(1e-11, 30), testConfig(4))
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	indices, committed, _ := sink.writer().snapshot()
	if res.Frames != 1 || len(indices) != 1 || indices[0] != 0 || !committed {
		t.Errorf("expected one committed frame, got frames=%d indices=%v committed=%v", res.Frames, indices, committed)
	}
}

func TestRunFPSOverride(t *testing.T) {
	sink := newRecordingSink()
	cfg := testConfig(2)
	cfg.FPS = 10

	res, err := newTestPipeline(&fakeFactory{}, sink, nil).Run(context.Background(), sceneJSON(2, 30), cfg)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.Frames != 20 || sink.writer().spec.FPS != 10 {
		t.Errorf("expected 20 frames at 10fps, got %d at %g", res.Frames, sink.writer().spec.FPS)
	}
	if sink.writer().spec.Width != 320 || sink.writer().spec.Frames != 20 {
		t.Errorf("unexpected stream spec: %+v", sink.writer().spec)
	}
}

func TestRunRetriesTransientRenderFailure(t *testing.T) {
	f := &fakeFactory{
		renderErr: func(index, attempt int) error {
			if index == 5 && attempt == 1 {
				return fmt.Errorf("renderer crashed")
			}
			return nil
		},
	}
	sink := newRecordingSink()

	res, err := newTestPipeline(f, sink, nil).Run(context.Background(), sceneJSON(1, 30), testConfig(2))
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.Retries != 1 {
		t.Errorf("expected 1 retry, got %d", res.Retries)
	}
	indices, _, _ := sink.writer().snapshot()
	assertSequence(t, indices, 30)

	// The crashed instance is poisoned and replaced.
	if res.Instances.Disposed < 1 {
		t.Errorf("expected the failing instance to be disposed, got %+v", res.Instances)
	}
}

func TestRunRetryExhaustionLeavesNoOutput(t *testing.T) {
	f := &fakeFactory{
		renderErr: func(index, _ int) error {
			if index == 5 {
				return fmt.Errorf("bad element")
			}
			return nil
		},
	}
	sink := newRecordingSink()

	_, err := newTestPipeline(f, sink, nil).Run(context.Background(), sceneJSON(1, 30), testConfig(2))
	if !errors.IsRender(err) {
		t.Fatalf("expected RENDER_FAILED, got %v", err)
	}
	if got := errors.GetFields(err)["frame"]; got != 5 {
		t.Errorf("expected failing frame 5 in error fields, got %v", got)
	}

	_, committed, aborted := sink.writer().snapshot()
	if committed || !aborted {
		t.Errorf("expected aborted output, got committed=%v aborted=%v", committed, aborted)
	}
	if n := f.attemptsFor(5); n != DefaultRenderAttempts {
		t.Errorf("expected frame 5 to be tried %d times, got %d", DefaultRenderAttempts, n)
	}
	if created, closed := f.counts(); created != closed {
		t.Errorf("expected every instance closed, got created=%d closed=%d", created, closed)
	}
}

func TestRunProvisionRetry(t *testing.T) {
	f := &fakeFactory{failProvision: 2}
	sink := newRecordingSink()

	if _, err := newTestPipeline(f, sink, nil).Run(context.Background(), sceneJSON(0.5, 10), testConfig(1)); err != nil {
		t.Fatalf("expected provisioning to recover, got %v", err)
	}
	indices, _, _ := sink.writer().snapshot()
	assertSequence(t, indices, 5)
}

func TestRunProvisionExhausted(t *testing.T) {
	f := &fakeFactory{failProvision: -1}
	sink := newRecordingSink()

	_, err := newTestPipeline(f, sink, nil).Run(context.Background(), sceneJSON(0.5, 10), testConfig(2))
	if !errors.IsProvision(err) {
		t.Fatalf("expected PROVISION_FAILED, got %v", err)
	}
	if _, committed, aborted := sink.writer().snapshot(); committed || !aborted {
		t.Errorf("expected aborted output, got committed=%v aborted=%v", committed, aborted)
	}
}

func TestRunCancellation(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := &fakeFactory{renderDelay: func(int) time.Duration { return 2 * time.Millisecond }}
	sink := newRecordingSink()
	obs := &recordingObserver{onEmit: func(index int) {
		if index == 10 {
			cancel()
		}
	}}

	_, err := newTestPipeline(f, sink, obs).Run(ctx, sceneJSON(10, 30), testConfig(3))
	if !errors.IsCanceled(err) {
		t.Fatalf("expected CANCELED, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected error to wrap context.Canceled, got %v", err)
	}

	if _, committed, aborted := sink.writer().snapshot(); committed || !aborted {
		t.Errorf("expected removed output, got committed=%v aborted=%v", committed, aborted)
	}
	created, closed := f.counts()
	if created != closed {
		t.Errorf("expected pool drained, got created=%d closed=%d", created, closed)
	}

	// No new renders start once cancelled: at most the in-flight ones
	// finished after frame 10 was emitted.
	if n := f.renders.Load(); n > 10+1+3*2 {
		t.Errorf("expected dispatch to stop after cancellation, got %d renders", n)
	}

	states := obs.stateList()
	if len(states) == 0 || states[len(states)-1] != StateFailed {
		t.Errorf("expected job to end failed, got %v", states)
	}
}

func TestRunAlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := &fakeFactory{}
	sink := newRecordingSink()
	_, err := newTestPipeline(f, sink, nil).Run(ctx, sceneJSON(1, 30), testConfig(2))
	if !errors.IsCanceled(err) {
		t.Fatalf("expected CANCELED, got %v", err)
	}
	if created, _ := f.counts(); created != 0 || sink.opened != 0 {
		t.Errorf("expected nothing provisioned or opened, got instances=%d opened=%d", created, sink.opened)
	}
}

func TestRunParallelIsFasterAndIdentical(t *testing.T) {
	render := func(parallel int) ([][]byte, time.Duration) {
		f := &fakeFactory{renderDelay: func(int) time.Duration { return 10 * time.Millisecond }}
		sink := newRecordingSink()
		res, err := newTestPipeline(f, sink, nil).Run(context.Background(), sceneJSON(1, 30), testConfig(parallel))
		if err != nil {
			t.Fatalf("Run(parallel=%d) error: %v", parallel, err)
		}
		w := sink.writer()
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.data, res.Elapsed
	}

	serial, serialTime := render(1)
	fast, fastTime := render(3)

	if len(serial) != 30 || len(fast) != 30 {
		t.Fatalf("expected 30 frames each, got %d and %d", len(serial), len(fast))
	}
	for i := range serial {
		if !bytes.Equal(serial[i], fast[i]) {
			t.Fatalf("frame %d differs between runs: %q vs %q", i, serial[i], fast[i])
		}
	}
	if fastTime >= serialTime {
		t.Errorf("expected parallel=3 (%v) to beat parallel=1 (%v)", fastTime, serialTime)
	}
}

func TestRunInvalidSceneProvisionsNothing(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"malformed", `{"duration": `},
		{"missing duration", `{"elements": []}`},
		{"unknown element", `{"duration": 1, "elements": [{"type": "blink"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeFactory{}
			sink := newRecordingSink()
			_, err := newTestPipeline(f, sink, nil).Run(context.Background(), []byte(tt.raw), testConfig(4))
			if !errors.IsInvalidScene(err) {
				t.Fatalf("expected INVALID_SCENE, got %v", err)
			}
			if f.calls != 0 || sink.opened != 0 {
				t.Errorf("expected no provisioning, got %d factory calls and %d opens", f.calls, sink.opened)
			}
		})
	}
}

func TestRunEncodeFailure(t *testing.T) {
	f := &fakeFactory{}
	sink := newRecordingSink()
	sink.failAt = 3

	_, err := newTestPipeline(f, sink, nil).Run(context.Background(), sceneJSON(1, 30), testConfig(2))
	if !errors.IsEncode(err) {
		t.Fatalf("expected ENCODE_FAILED, got %v", err)
	}
	if _, committed, aborted := sink.writer().snapshot(); committed || !aborted {
		t.Errorf("expected aborted output, got committed=%v aborted=%v", committed, aborted)
	}
	if created, closed := f.counts(); created != closed {
		t.Errorf("expected every instance closed, got created=%d closed=%d", created, closed)
	}
}

func TestRunStateMachine(t *testing.T) {
	obs := &recordingObserver{}
	_, err := newTestPipeline(&fakeFactory{}, newRecordingSink(), obs).Run(context.Background(), sceneJSON(0.2, 30), testConfig(2))
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	want := []JobState{StateScheduling, StateRendering, StateAssembling, StateEncoding, StateCompleted}
	got := obs.stateList()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("expected transitions %v, got %v", want, got)
	}
}

func TestRunSceneFrameStates(t *testing.T) {
	sc, err := scene.Parse(sceneJSON(1, 10))
	if err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	seen := make(map[int]int)
	f := FactoryFunc(func(context.Context) (Instance, error) {
		return stateRecorder(func(st scene.FrameState) {
			mu.Lock()
			seen[st.Index] = len(st.Elements)
			mu.Unlock()
		}), nil
	})

	if _, err := newTestPipeline(f, newRecordingSink(), nil).RunScene(context.Background(), sc, testConfig(2)); err != nil {
		t.Fatalf("RunScene() error: %v", err)
	}
	// The title is visible for the first half second only.
	if seen[0] != 2 || seen[4] != 2 || seen[5] != 1 || seen[9] != 1 {
		t.Errorf("unexpected element counts per frame: %v", seen)
	}
}

type stateRecorder func(scene.FrameState)

func (r stateRecorder) Render(_ context.Context, st scene.FrameState) ([]byte, error) {
	r(st)
	return []byte{byte(st.Index)}, nil
}

func (stateRecorder) Close() error { return nil }

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name  string
		cfg   Config
		field string
	}{
		{"missing out", Config{}, "out"},
		{"negative parallel", Config{Out: "x.mp4", Parallel: -1}, "parallel"},
		{"negative fps", Config{Out: "x.mp4", FPS: -1}, "fps"},
		{"negative attempts", Config{Out: "x.mp4", RenderAttempts: -2}, "render_attempts"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.WithDefaults().Validate()
			if !errors.IsValidation(err) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if got := errors.GetFields(err)["field"]; got != tt.field {
				t.Errorf("expected field %s, got %v", tt.field, got)
			}
		})
	}

	cfg := Config{Out: "x.mp4"}.WithDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
	if cfg.Parallel != 1 || cfg.RenderAttempts != 3 || cfg.ProvisionAttempts != 3 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestRunPermanentProvisionFailureIsNotRetried(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	f := FactoryFunc(func(context.Context) (Instance, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil, Permanent(fmt.Errorf("api key rejected"))
	})

	_, err := newTestPipeline(f, newRecordingSink(), nil).Run(context.Background(), sceneJSON(0.5, 10), testConfig(1))
	if !errors.IsProvision(err) {
		t.Fatalf("expected PROVISION_FAILED, got %v", err)
	}
	var perm *PermanentError
	if !errors.As(err, &perm) {
		t.Errorf("expected permanent cause to be kept, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected a single provisioning attempt, got %d", calls)
	}
}
