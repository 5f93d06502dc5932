package session

import (
	"errors"
	"fmt"

	"pcmdenoise/denoise/engine"
	"pcmdenoise/denoise/pcm"
)

var (
	// ErrOutOfMemory is returned by Init when the engine state cannot be created.
	ErrOutOfMemory = engine.ErrOutOfMemory
	// ErrFrameSize is returned by Init for an engine without a usable frame size.
	ErrFrameSize = errors.New("session: engine frame size must be positive")
)

type State int

const (
	Uninitialized State = iota
	Ready
)

func (s State) String() string {
	if s == Ready {
		return "ready"
	}
	return "uninitialized"
}

// Session is the per-stream denoiser: one frame accumulator and one engine
// handle. It is created once per stream-open event and torn down once.
//
// Transfer must only be called from one goroutine, and never concurrently
// with Init or Close.
type Session struct {
	eng   engine.Engine
	acc   Accumulator
	state State
}

func New(eng engine.Engine) *Session {
	return &Session{eng: eng}
}

// Init (re)allocates and zeroes the frame buffer, resets the cursor and
// replaces the engine handle. Calling Init on a Ready session is a full reset.
// On failure the session is left Uninitialized and Close is still safe.
func (s *Session) Init() error {
	s.state = Uninitialized
	if s.acc.handle != nil {
		s.acc.handle.Destroy()
		s.acc.handle = nil
	}

	fs := s.eng.FrameSize()
	if fs <= 0 {
		s.acc.buf = nil
		s.acc.filled = 0
		return fmt.Errorf("%s: %w (got %d)", s.eng.Name(), ErrFrameSize, fs)
	}
	s.acc.reset(fs)

	h, err := s.eng.Create()
	if err != nil {
		return fmt.Errorf("create %s state: %w", s.eng.Name(), err)
	}
	if h == nil {
		return fmt.Errorf("create %s state: %w", s.eng.Name(), ErrOutOfMemory)
	}
	s.acc.handle = h
	s.state = Ready
	return nil
}

// Close releases the frame buffer and destroys the handle if present.
// It never fails; closing an Uninitialized session is a no-op.
func (s *Session) Close() {
	s.acc.buf = nil
	s.acc.filled = 0
	if s.acc.handle != nil {
		s.acc.handle.Destroy()
		s.acc.handle = nil
	}
	s.state = Uninitialized
}

// Transfer consumes len(src) samples and writes the same number to dst,
// returning len(src). dst must be at least as long as src. Output lags input
// by exactly FrameSize samples; a fresh session first emits one frame of
// silence from the zeroed buffer.
//
// Transfer never allocates, blocks or fails. Calling it on a session that is
// not Ready, or with a short dst, is a programming error and panics.
func (s *Session) Transfer(dst, src []int16) int {
	s.mustBeReady()
	if len(dst) < len(src) {
		panic("session: transfer output shorter than input")
	}
	transfer(&s.acc, flat(dst), flat(src), len(src))
	return len(src)
}

// TransferAreas is Transfer for host buffers addressed by channel areas:
// frames samples are read from src starting at srcOff and written to dst
// starting at dstOff.
func (s *Session) TransferAreas(dst pcm.ChannelArea, dstOff int, src pcm.ChannelArea, srcOff int, frames int) int {
	s.mustBeReady()
	if frames <= 0 {
		return 0
	}
	if srcOff+frames > src.Frames() || dstOff+frames > dst.Frames() {
		panic("session: transfer runs past the channel area")
	}
	transfer(&s.acc, dst.Run(dstOff), src.Run(srcOff), frames)
	return frames
}

func (s *Session) mustBeReady() {
	if s.state != Ready {
		panic("session: transfer on " + s.state.String() + " session")
	}
}

func (s *Session) State() State { return s.state }

func (s *Session) Engine() engine.Engine { return s.eng }

// FrameSize is the engine frame size captured at Init.
func (s *Session) FrameSize() int { return len(s.acc.buf) }

// Filled is the number of samples staged in the current frame.
func (s *Session) Filled() int { return s.acc.filled }

// Latency is the pipeline delay in samples.
func (s *Session) Latency() int { return len(s.acc.buf) }

// FramesProcessed counts engine invocations since the last Init.
func (s *Session) FramesProcessed() uint64 { return s.acc.frames }

// SamplesTransferred counts samples moved since the last Init.
func (s *Session) SamplesTransferred() uint64 { return s.acc.samples }
