package pipeline

import (
	"sync"

	"vidrender/internal/pkg/errors"
)

// Assembler is a reorder buffer with a single cursor. Frames may be
// submitted in any order; they reach emit strictly ascending from 0 to
// total-1 with no gaps or duplicates.
type Assembler struct {
	mu         sync.Mutex
	total      int
	next       int
	buf        map[int]RenderedFrame
	emit       func(RenderedFrame) error
	onAdvance  func(next int)
	peakBuffer int
	err        error
}

// NewAssembler returns an assembler expecting total frames.
func NewAssembler(total int, emit func(RenderedFrame) error) *Assembler {
	return &Assembler{
		total: total,
		buf:   make(map[int]RenderedFrame),
		emit:  emit,
	}
}

// OnAdvance registers fn, called with the new cursor whenever it moves.
// fn runs with the assembler lock held and must not call back into it.
func (a *Assembler) OnAdvance(fn func(next int)) {
	a.mu.Lock()
	a.onAdvance = fn
	a.mu.Unlock()
}

// Submit buffers f and emits every frame that became contiguous. An emit
// failure is sticky: later submits return the same ENCODE_FAILED error.
func (a *Assembler) Submit(f RenderedFrame) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.err != nil {
		return a.err
	}
	if f.Index < 0 || f.Index >= a.total {
		return errors.Newf(errors.CodeValidation, "frame %d out of range [0, %d)", f.Index, a.total)
	}
	if _, dup := a.buf[f.Index]; dup || f.Index < a.next {
		return errors.Newf(errors.CodeConflict, "frame %d submitted twice", f.Index)
	}
	a.buf[f.Index] = f

	start := a.next
	for {
		fr, ok := a.buf[a.next]
		if !ok {
			break
		}
		delete(a.buf, a.next)
		if err := a.emit(fr); err != nil {
			a.err = errors.Encode(err).WithField("frame", fr.Index)
			return a.err
		}
		a.next++
	}

	if n := len(a.buf); n > a.peakBuffer {
		a.peakBuffer = n
	}
	if a.next != start && a.onAdvance != nil {
		a.onAdvance(a.next)
	}
	return nil
}

// Next returns the index of the next frame to be emitted.
func (a *Assembler) Next() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.next
}

// Pending returns the number of buffered out-of-order frames.
func (a *Assembler) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buf)
}

// PeakPending returns the largest number of frames buffered at once.
func (a *Assembler) PeakPending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.peakBuffer
}

// Done reports whether all frames have been emitted.
func (a *Assembler) Done() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.next == a.total
}
