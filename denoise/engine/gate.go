package engine

import (
	"fmt"

	"github.com/cwbudde/algo-dsp/dsp/effects/dynamics"
	"github.com/cwbudde/algo-dsp/dsp/filter/biquad"
	"github.com/cwbudde/algo-dsp/dsp/filter/design"
)

const (
	defaultGateThresholdDB = -45.0
	defaultGateRangeDB     = -30.0
	defaultGateReleaseMs   = 120.0
	defaultHighpassHz      = 80.0
	highpassOrder          = 2

	// int16 full scale; the gate meters against 0 dBFS = 1.0.
	fullScale = 32768.0
)

// GateOptions tunes the pure-Go engine. Zero values select defaults.
type GateOptions struct {
	ThresholdDB float64
	RangeDB     float64
	ReleaseMs   float64
	HighpassHz  float64
}

func (o GateOptions) withDefaults() GateOptions {
	if o.ThresholdDB == 0 {
		o.ThresholdDB = defaultGateThresholdDB
	}
	if o.RangeDB == 0 {
		o.RangeDB = defaultGateRangeDB
	}
	if o.ReleaseMs == 0 {
		o.ReleaseMs = defaultGateReleaseMs
	}
	if o.HighpassHz == 0 {
		o.HighpassHz = defaultHighpassHz
	}
	return o
}

// Gate is a cgo-free engine: a Butterworth high-pass for rumble followed by a
// soft-knee downward expander. It keeps RNNoise's frame size and rate so the
// two are interchangeable behind the same session.
type Gate struct {
	opts GateOptions
}

func NewGate(opts GateOptions) (*Gate, error) {
	opts = opts.withDefaults()
	// Validate once so Create only fails on allocation.
	if _, err := newGateState(opts); err != nil {
		return nil, err
	}
	return &Gate{opts: opts}, nil
}

func (g *Gate) Name() string    { return "gate" }
func (g *Gate) FrameSize() int  { return defaultFrameSize }
func (g *Gate) SampleRate() int { return defaultSampleRate }

func (g *Gate) Create() (Handle, error) {
	h, err := newGateState(g.opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOutOfMemory, err)
	}
	return h, nil
}

type gateHandle struct {
	hp      *biquad.Chain
	gate    *dynamics.Gate
	scratch []float64
}

func newGateState(opts GateOptions) (*gateHandle, error) {
	sr := float64(defaultSampleRate)
	g, err := dynamics.NewGate(sr)
	if err != nil {
		return nil, err
	}
	if err := g.SetThreshold(opts.ThresholdDB); err != nil {
		return nil, err
	}
	if err := g.SetRange(opts.RangeDB); err != nil {
		return nil, err
	}
	if err := g.SetRelease(opts.ReleaseMs); err != nil {
		return nil, err
	}
	if opts.HighpassHz <= 0 || opts.HighpassHz >= sr/2 {
		return nil, fmt.Errorf("gate highpass must be in (0, %g): %g", sr/2, opts.HighpassHz)
	}
	return &gateHandle{
		hp:      biquad.NewChain(design.ButterworthHP(opts.HighpassHz, highpassOrder, sr)),
		gate:    g,
		scratch: make([]float64, defaultFrameSize),
	}, nil
}

func (h *gateHandle) ProcessFrame(frame []float32) {
	if len(frame) != len(h.scratch) {
		panic("gate: partial frame")
	}
	for i, s := range frame {
		h.scratch[i] = float64(s) / fullScale
	}
	h.hp.ProcessBlock(h.scratch)
	h.gate.ProcessInPlace(h.scratch)
	for i, s := range h.scratch {
		frame[i] = float32(s * fullScale)
	}
}

func (h *gateHandle) Destroy() {
	h.hp.Reset()
	h.gate.Reset()
	h.scratch = nil
}
