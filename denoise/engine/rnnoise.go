//go:build rnnoise && cgo

package engine

/*
#cgo pkg-config: rnnoise
#include <rnnoise.h>
*/
import "C"
import "unsafe"

// Enable with: `-tags rnnoise` (requires librnnoise + pkg-config).

type rnnoise struct {
	frameSize int
}

// NewRNNoise returns the RNNoise engine (default built-in model).
func NewRNNoise() (Engine, error) {
	return &rnnoise{frameSize: int(C.rnnoise_get_frame_size())}, nil
}

func (r *rnnoise) Name() string    { return "rnnoise" }
func (r *rnnoise) FrameSize() int  { return r.frameSize }
func (r *rnnoise) SampleRate() int { return defaultSampleRate }

func (r *rnnoise) Create() (Handle, error) {
	st := C.rnnoise_create(nil)
	if st == nil {
		return nil, ErrOutOfMemory
	}
	return &rnnoiseHandle{st: st, frameSize: r.frameSize}, nil
}

type rnnoiseHandle struct {
	st        *C.DenoiseState
	frameSize int
}

// ProcessFrame denoises frame in place. RNNoise accepts aliased in/out buffers.
func (h *rnnoiseHandle) ProcessFrame(frame []float32) {
	if len(frame) != h.frameSize {
		panic("rnnoise: partial frame")
	}
	p := (*C.float)(unsafe.Pointer(&frame[0]))
	C.rnnoise_process_frame(h.st, p, p)
}

// Destroy frees the C-side state. rnnoise_destroy does not null check.
func (h *rnnoiseHandle) Destroy() {
	if h.st == nil {
		return
	}
	C.rnnoise_destroy(h.st)
	h.st = nil
}
