package pipeline

import (
	"fmt"
	"math/rand"
	"testing"

	"vidrender/internal/pkg/errors"
)

func collect(total int) (*Assembler, *[]int) {
	var out []int
	a := NewAssembler(total, func(f RenderedFrame) error {
		out = append(out, f.Index)
		return nil
	})
	return a, &out
}

func assertSequence(t *testing.T, got []int, total int) {
	t.Helper()
	if len(got) != total {
		t.Fatalf("expected %d frames, got %d: %v", total, len(got), got)
	}
	for i, idx := range got {
		if idx != i {
			t.Fatalf("expected frame %d at position %d, got %d (%v)", i, i, idx, got)
		}
	}
}

func TestAssemblerReverseOrder(t *testing.T) {
	const total = 20
	a, out := collect(total)

	for i := total - 1; i >= 0; i-- {
		if err := a.Submit(RenderedFrame{Index: i}); err != nil {
			t.Fatalf("Submit(%d) error: %v", i, err)
		}
		if i > 0 && len(*out) != 0 {
			t.Fatalf("nothing may be emitted before frame 0, got %v", *out)
		}
	}

	assertSequence(t, *out, total)
	if !a.Done() || a.Pending() != 0 {
		t.Errorf("expected done with empty buffer, got next=%d pending=%d", a.Next(), a.Pending())
	}
}

func TestAssemblerShuffled(t *testing.T) {
	for seed := int64(1); seed <= 5; seed++ {
		t.Run(fmt.Sprintf("seed%d", seed), func(t *testing.T) {
			const total = 100
			a, out := collect(total)
			for _, i := range rand.New(rand.NewSource(seed)).Perm(total) {
				if err := a.Submit(RenderedFrame{Index: i}); err != nil {
					t.Fatalf("Submit(%d) error: %v", i, err)
				}
			}
			assertSequence(t, *out, total)
		})
	}
}

func TestAssemblerEmitsAsSoonAsContiguous(t *testing.T) {
	a, out := collect(5)
	var advances []int
	a.OnAdvance(func(next int) { advances = append(advances, next) })

	steps := []struct {
		index   int
		emitted int
		pending int
	}{
		{1, 0, 1},
		{2, 0, 2},
		{0, 3, 0},
		{4, 3, 1},
		{3, 5, 0},
	}
	for _, s := range steps {
		if err := a.Submit(RenderedFrame{Index: s.index}); err != nil {
			t.Fatalf("Submit(%d) error: %v", s.index, err)
		}
		if len(*out) != s.emitted || a.Pending() != s.pending {
			t.Errorf("after %d: expected emitted=%d pending=%d, got %d/%d", s.index, s.emitted, s.pending, len(*out), a.Pending())
		}
	}
	if fmt.Sprint(advances) != "[3 5]" {
		t.Errorf("expected cursor advances [3 5], got %v", advances)
	}
	if a.PeakPending() != 2 {
		t.Errorf("expected peak pending 2, got %d", a.PeakPending())
	}
}

func TestAssemblerRejects(t *testing.T) {
	a, _ := collect(3)

	if err := a.Submit(RenderedFrame{Index: 3}); !errors.IsValidation(err) {
		t.Errorf("expected out-of-range error, got %v", err)
	}
	if err := a.Submit(RenderedFrame{Index: -1}); !errors.IsValidation(err) {
		t.Errorf("expected out-of-range error, got %v", err)
	}

	if err := a.Submit(RenderedFrame{Index: 2}); err != nil {
		t.Fatal(err)
	}
	if err := a.Submit(RenderedFrame{Index: 2}); !errors.IsCode(err, errors.CodeConflict) {
		t.Errorf("expected duplicate buffered frame to be rejected, got %v", err)
	}
	if err := a.Submit(RenderedFrame{Index: 0}); err != nil {
		t.Fatal(err)
	}
	if err := a.Submit(RenderedFrame{Index: 0}); !errors.IsCode(err, errors.CodeConflict) {
		t.Errorf("expected duplicate emitted frame to be rejected, got %v", err)
	}
}

func TestAssemblerEmitFailureIsSticky(t *testing.T) {
	a := NewAssembler(4, func(f RenderedFrame) error {
		if f.Index == 1 {
			return fmt.Errorf("pipe closed")
		}
		return nil
	})

	if err := a.Submit(RenderedFrame{Index: 1}); err != nil {
		t.Fatalf("buffering must not fail: %v", err)
	}
	err := a.Submit(RenderedFrame{Index: 0})
	if !errors.IsEncode(err) {
		t.Fatalf("expected ENCODE_FAILED, got %v", err)
	}
	if err := a.Submit(RenderedFrame{Index: 2}); !errors.IsEncode(err) {
		t.Errorf("expected sticky ENCODE_FAILED, got %v", err)
	}
	if a.Next() != 1 {
		t.Errorf("expected cursor to stop at 1, got %d", a.Next())
	}
}
