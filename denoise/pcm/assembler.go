package pcm

// SampleAligner turns a byte stream into whole interleaved PCM16 sample
// frames. Transports (stdin, WebSocket) may split a sample across reads; the
// tail is carried into the next Push.
type SampleAligner struct {
	sampleBytes int
	buf         []byte
	out         []byte
}

func NewSampleAligner(sampleBytes int) *SampleAligner {
	if sampleBytes < 1 {
		sampleBytes = 2
	}
	return &SampleAligner{sampleBytes: sampleBytes}
}

// Push returns the aligned prefix of the pending bytes. The result is only
// valid until the next call.
func (a *SampleAligner) Push(data []byte) []byte {
	if len(data) == 0 {
		return nil
	}
	a.buf = append(a.buf, data...)
	n := len(a.buf) - len(a.buf)%a.sampleBytes
	if n == 0 {
		return nil
	}
	a.out = append(a.out[:0], a.buf[:n]...)
	a.buf = append(a.buf[:0], a.buf[n:]...)
	return a.out
}

// Pending reports how many bytes are waiting for the rest of their sample.
func (a *SampleAligner) Pending() int { return len(a.buf) }

func (a *SampleAligner) Reset() {
	a.buf = a.buf[:0]
}
