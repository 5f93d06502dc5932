package engine

import "fmt"

// Passthrough is an identity engine. It keeps the frame-based contract of a
// real primitive so callers see the same one-frame latency.
type Passthrough struct {
	frameSize  int
	sampleRate int
}

func NewPassthrough(frameSize, sampleRate int) *Passthrough {
	if frameSize < 1 {
		frameSize = 1
	}
	return &Passthrough{frameSize: frameSize, sampleRate: sampleRate}
}

func (p *Passthrough) Name() string    { return fmt.Sprintf("passthrough(%d)", p.frameSize) }
func (p *Passthrough) FrameSize() int  { return p.frameSize }
func (p *Passthrough) SampleRate() int { return p.sampleRate }

func (p *Passthrough) Create() (Handle, error) {
	return passthroughHandle{}, nil
}

type passthroughHandle struct{}

func (passthroughHandle) ProcessFrame([]float32) {}
func (passthroughHandle) Destroy()               {}
