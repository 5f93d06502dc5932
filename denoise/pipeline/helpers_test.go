package pipeline

import (
	"fmt"

	msdk "github.com/livekit/media-sdk"
)

// SampleBuffer collects every sample written to it.
type SampleBuffer struct {
	Rate    int
	Samples msdk.PCM16Sample
	Closed  bool
}

func (b *SampleBuffer) String() string  { return fmt.Sprintf("SampleBuffer(%dHz)", b.Rate) }
func (b *SampleBuffer) SampleRate() int { return b.Rate }

func (b *SampleBuffer) WriteSample(s msdk.PCM16Sample) error {
	b.Samples = append(b.Samples, s...)
	return nil
}

func (b *SampleBuffer) Close() error {
	b.Closed = true
	return nil
}
