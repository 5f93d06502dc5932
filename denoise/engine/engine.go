package engine

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrOutOfMemory is returned by Create when the engine state cannot be allocated.
	ErrOutOfMemory = errors.New("engine: out of memory")
	// ErrUnavailable is returned when an engine was compiled out of the binary.
	ErrUnavailable = errors.New("engine: not available in this build")
)

// Engine is a noise-suppression primitive that works on one fixed-size frame
// at a time. FrameSize and SampleRate are constant for the process lifetime
// and identical for every handle the engine creates.
type Engine interface {
	Name() string
	FrameSize() int
	SampleRate() int
	Create() (Handle, error)
}

// Handle owns one instance of the primitive's internal (adaptive) state.
//
// ProcessFrame overwrites exactly FrameSize samples with the denoised result.
// Samples are integer-range magnitudes (-32768..32767), not normalized floats.
// Destroy must be called at most once; callers guard against nil handles.
type Handle interface {
	ProcessFrame(frame []float32)
	Destroy()
}

// Options carries the engine-specific knobs from the config file.
type Options struct {
	FrameSize  int
	SampleRate int
	Gate       GateOptions
}

// Lookup builds the engine registered under name.
func Lookup(name string, opts Options) (Engine, error) {
	switch strings.ToLower(name) {
	case "rnnoise", "":
		return NewRNNoise()
	case "gate":
		return NewGate(opts.Gate)
	case "passthrough", "bypass":
		fs := opts.FrameSize
		if fs <= 0 {
			fs = defaultFrameSize
		}
		sr := opts.SampleRate
		if sr <= 0 {
			sr = defaultSampleRate
		}
		return NewPassthrough(fs, sr), nil
	default:
		return nil, fmt.Errorf("unknown engine %q", name)
	}
}

const (
	// RNNoise works on 10ms frames at 48 kHz.
	defaultFrameSize  = 480
	defaultSampleRate = 48000
)
