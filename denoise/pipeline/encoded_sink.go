package pipeline

import (
	"fmt"
	"io"

	msdk "github.com/livekit/media-sdk"

	"pcmdenoise/denoise/pcm"
)

// encodedSink receives denoised PCM16 samples from the pipeline, encodes them
// and writes the bytes to an io.Writer (file, stdout, websocket message).
type encodedSink struct {
	sampleRate int
	enc        pcm.Encoding
	w          io.Writer
	closer     io.Closer

	// scratch
	b []byte
}

// NewEncodedSink writes samples to w using enc. If w is also an io.Closer it
// is closed with the sink.
func NewEncodedSink(w io.Writer, enc pcm.Encoding, sampleRate int) msdk.PCM16Writer {
	if sampleRate <= 0 {
		sampleRate = 48000
	}
	s := &encodedSink{sampleRate: sampleRate, enc: enc, w: w}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	return s
}

func (s *encodedSink) String() string {
	return fmt.Sprintf("EncodedSink(%dHz %s)", s.sampleRate, s.enc)
}

func (s *encodedSink) SampleRate() int { return s.sampleRate }

func (s *encodedSink) WriteSample(sample msdk.PCM16Sample) error {
	s.b = s.enc.Encode(s.b, sample)
	if _, err := s.w.Write(s.b); err != nil {
		return fmt.Errorf("sink write: %w", err)
	}
	return nil
}

func (s *encodedSink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
