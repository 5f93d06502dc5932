package session

import (
	"errors"
	"math"
	"testing"

	"pcmdenoise/denoise/engine"
	"pcmdenoise/denoise/pcm"
)

// mockEngine adds offset to every sample and records what it saw.
type mockEngine struct {
	frameSize int
	offset    float32
	failNext  bool

	created []*mockHandle
}

func (m *mockEngine) Name() string    { return "mock" }
func (m *mockEngine) FrameSize() int  { return m.frameSize }
func (m *mockEngine) SampleRate() int { return 48000 }

func (m *mockEngine) Create() (engine.Handle, error) {
	if m.failNext {
		m.failNext = false
		return nil, engine.ErrOutOfMemory
	}
	h := &mockHandle{eng: m}
	m.created = append(m.created, h)
	return h, nil
}

type mockHandle struct {
	eng       *mockEngine
	calls     int
	destroyed int
	seen      [][]float32
}

func (h *mockHandle) ProcessFrame(frame []float32) {
	if len(frame) != h.eng.frameSize {
		panic("partial frame")
	}
	h.calls++
	h.seen = append(h.seen, append([]float32(nil), frame...))
	for i := range frame {
		frame[i] += h.eng.offset
	}
}

func (h *mockHandle) Destroy() { h.destroyed++ }

func newReady(t *testing.T, eng engine.Engine) *Session {
	t.Helper()
	s := New(eng)
	if err := s.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	return s
}

func ramp(n int, start int16) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = start + int16(i)
	}
	return out
}

func equal(a, b []int16) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestTransferConcreteScenario(t *testing.T) {
	s := newReady(t, engine.NewPassthrough(4, 48000))
	defer s.Close()

	in := []int16{1, 2, 3, 4, 5, 6}
	out := make([]int16, len(in))
	if n := s.Transfer(out, in); n != 6 {
		t.Fatalf("Transfer() = %d, want 6", n)
	}
	want := []int16{0, 0, 0, 0, 1, 2}
	if !equal(out, want) {
		t.Errorf("output = %v, want %v", out, want)
	}
	if s.Filled() != 2 {
		t.Errorf("Filled() = %d, want 2", s.Filled())
	}
	if s.FramesProcessed() != 1 {
		t.Errorf("FramesProcessed() = %d, want 1", s.FramesProcessed())
	}
}

func TestTransferEngineSeesRawIntegerMagnitudes(t *testing.T) {
	m := &mockEngine{frameSize: 4}
	s := newReady(t, m)
	defer s.Close()

	in := []int16{-32768, -1, 1, 32767}
	s.Transfer(make([]int16, 4), in)

	h := m.created[0]
	if h.calls != 1 {
		t.Fatalf("engine calls = %d, want 1", h.calls)
	}
	for i, v := range in {
		if h.seen[0][i] != float32(v) {
			t.Errorf("frame[%d] = %v, want %v", i, h.seen[0][i], float32(v))
		}
	}
}

func TestTransferLatency(t *testing.T) {
	const frameSize = 8
	m := &mockEngine{frameSize: frameSize, offset: 100}
	s := newReady(t, m)
	defer s.Close()

	in := ramp(frameSize+1, 10)
	out := make([]int16, len(in))
	s.Transfer(out, in)

	// The first frame drains the zero-filled startup buffer.
	for i := 0; i < frameSize; i++ {
		if out[i] != 0 {
			t.Errorf("out[%d] = %d, want 0 (startup silence)", i, out[i])
		}
	}
	if out[frameSize] != in[0]+100 {
		t.Errorf("out[%d] = %d, want processed in[0] = %d", frameSize, out[frameSize], in[0]+100)
	}
	if s.Latency() != frameSize {
		t.Errorf("Latency() = %d, want %d", s.Latency(), frameSize)
	}
}

func TestTransferStartupIndependentOfInput(t *testing.T) {
	run := func(in []int16) []int16 {
		s := newReady(t, &mockEngine{frameSize: 5, offset: 3})
		defer s.Close()
		out := make([]int16, len(in))
		s.Transfer(out, in)
		return out[:5]
	}
	a := run(ramp(5, 0))
	b := run([]int16{9000, -9000, 1, 2, 3})
	if !equal(a, b) {
		t.Errorf("startup output depends on input: %v vs %v", a, b)
	}
}

func TestTransferChunkingInvariance(t *testing.T) {
	const total = 1000
	in := make([]int16, total)
	for i := range in {
		in[i] = int16(1000 * math.Sin(float64(i)/7))
	}

	whole := func() []int16 {
		s := newReady(t, &mockEngine{frameSize: 48, offset: -5})
		defer s.Close()
		out := make([]int16, total)
		s.Transfer(out, in)
		return out
	}()

	chunkings := map[string][]int{
		"single samples": {1},
		"primes":         {7, 13, 1, 97},
		"frame sized":    {48},
		"larger":         {130, 3},
	}
	for name, sizes := range chunkings {
		t.Run(name, func(t *testing.T) {
			s := newReady(t, &mockEngine{frameSize: 48, offset: -5})
			defer s.Close()
			out := make([]int16, total)
			pos := 0
			for k := 0; pos < total; k++ {
				n := sizes[k%len(sizes)]
				if pos+n > total {
					n = total - pos
				}
				if got := s.Transfer(out[pos:pos+n], in[pos:pos+n]); got != n {
					t.Fatalf("Transfer() = %d, want %d", got, n)
				}
				pos += n
			}
			if !equal(out, whole) {
				t.Error("chunked output differs from single transfer")
			}
		})
	}
}

func TestTransferSampleConservationAndFrameCount(t *testing.T) {
	tests := []struct {
		name      string
		frameSize int
		sizes     []int
	}{
		{"empty transfers", 4, []int{0, 0, 0}},
		{"below one frame", 10, []int{3, 4, 2}},
		{"exact frames", 10, []int{10, 10}},
		{"spanning many frames", 10, []int{95, 0, 1, 34}},
		{"frame size one", 1, []int{5, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &mockEngine{frameSize: tt.frameSize}
			s := newReady(t, m)
			defer s.Close()

			var total, produced int
			for _, n := range tt.sizes {
				produced += s.Transfer(make([]int16, n), ramp(n, 1))
				total += n
			}
			if produced != total {
				t.Errorf("produced %d samples, want %d", produced, total)
			}
			if got := s.SamplesTransferred(); got != uint64(total) {
				t.Errorf("SamplesTransferred() = %d, want %d", got, total)
			}
			wantFrames := total / tt.frameSize
			if m.created[0].calls != wantFrames {
				t.Errorf("engine calls = %d, want %d", m.created[0].calls, wantFrames)
			}
			if s.FramesProcessed() != uint64(wantFrames) {
				t.Errorf("FramesProcessed() = %d, want %d", s.FramesProcessed(), wantFrames)
			}
			if s.Filled() != total%tt.frameSize {
				t.Errorf("Filled() = %d, want %d", s.Filled(), total%tt.frameSize)
			}
		})
	}
}

func TestTransferOrderPreserved(t *testing.T) {
	s := newReady(t, engine.NewPassthrough(16, 48000))
	defer s.Close()

	in := ramp(200, -100)
	out := make([]int16, len(in))
	for pos := 0; pos < len(in); pos += 9 {
		end := min(pos+9, len(in))
		s.Transfer(out[pos:end], in[pos:end])
	}
	for i := 16; i < len(in); i++ {
		if out[i] != in[i-16] {
			t.Fatalf("out[%d] = %d, want in[%d] = %d", i, out[i], i-16, in[i-16])
		}
	}
}

func TestTransferSaturatesEngineOvershoot(t *testing.T) {
	m := &mockEngine{frameSize: 2, offset: 10}
	s := newReady(t, m)
	defer s.Close()

	out := make([]int16, 4)
	s.Transfer(out, []int16{32767, -32768, 0, 0})
	if out[2] != 32767 {
		t.Errorf("out[2] = %d, want saturated 32767", out[2])
	}
	if out[3] != -32758 {
		t.Errorf("out[3] = %d, want -32758", out[3])
	}
}

func TestToS16Truncates(t *testing.T) {
	tests := []struct {
		in   float32
		want int16
	}{
		{1.9, 1},
		{-1.9, -1},
		{40000, 32767},
		{-40000, -32768},
		{float32(math.NaN()), 0},
	}
	for _, tt := range tests {
		if got := toS16(tt.in); got != tt.want {
			t.Errorf("toS16(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestTransferShortOutputPanics(t *testing.T) {
	s := newReady(t, engine.NewPassthrough(4, 48000))
	defer s.Close()
	defer func() {
		if recover() == nil {
			t.Error("Transfer with short dst did not panic")
		}
	}()
	s.Transfer(make([]int16, 1), make([]int16, 2))
}

func TestTransferAfterClosePanics(t *testing.T) {
	s := newReady(t, engine.NewPassthrough(4, 48000))
	s.Close()
	defer func() {
		if recover() == nil {
			t.Error("Transfer after Close did not panic")
		}
	}()
	s.Transfer(make([]int16, 1), make([]int16, 1))
}

func TestInitReplacesHandleAndResets(t *testing.T) {
	m := &mockEngine{frameSize: 4, offset: 1}
	s := newReady(t, m)
	defer s.Close()

	s.Transfer(make([]int16, 6), ramp(6, 50))
	if s.Filled() != 2 {
		t.Fatalf("Filled() = %d, want 2", s.Filled())
	}

	if err := s.Init(); err != nil {
		t.Fatalf("second Init() error = %v", err)
	}
	if len(m.created) != 2 {
		t.Fatalf("handles created = %d, want 2", len(m.created))
	}
	if m.created[0].destroyed != 1 {
		t.Errorf("old handle destroyed %d times, want 1", m.created[0].destroyed)
	}
	if s.Filled() != 0 || s.FramesProcessed() != 0 || s.SamplesTransferred() != 0 {
		t.Errorf("state not reset: filled=%d frames=%d samples=%d",
			s.Filled(), s.FramesProcessed(), s.SamplesTransferred())
	}

	// Rezeroed buffer: startup output is silence again, not the stale
	// samples 54 and 55 staged before the reset.
	out := make([]int16, 4)
	s.Transfer(out, []int16{7, 7, 7, 7})
	for i, v := range out {
		if v != 0 {
			t.Errorf("out[%d] = %d, want 0", i, v)
		}
	}
}

func TestCloseInitCloseMatchesFreshSession(t *testing.T) {
	in := ramp(37, 3)

	fresh := newReady(t, &mockEngine{frameSize: 8, offset: 2})
	want := make([]int16, len(in))
	fresh.Transfer(want, in)
	fresh.Close()

	m := &mockEngine{frameSize: 8, offset: 2}
	s := newReady(t, m)
	s.Transfer(make([]int16, 11), ramp(11, 900))
	s.Close()
	s.Close()
	if err := s.Init(); err != nil {
		t.Fatalf("Init() after Close error = %v", err)
	}
	got := make([]int16, len(in))
	s.Transfer(got, in)
	s.Close()

	if !equal(got, want) {
		t.Errorf("reinitialized output = %v, want %v", got, want)
	}
	for i, h := range m.created {
		if h.destroyed != 1 {
			t.Errorf("handle %d destroyed %d times, want 1", i, h.destroyed)
		}
	}
	if s.State() != Uninitialized {
		t.Errorf("State() = %v, want uninitialized", s.State())
	}
}

func TestInitFailure(t *testing.T) {
	m := &mockEngine{frameSize: 4}
	s := newReady(t, m)

	m.failNext = true
	err := s.Init()
	if !errors.Is(err, ErrOutOfMemory) {
		t.Fatalf("Init() error = %v, want ErrOutOfMemory", err)
	}
	if s.State() != Uninitialized {
		t.Errorf("State() = %v, want uninitialized", s.State())
	}
	if m.created[0].destroyed != 1 {
		t.Errorf("previous handle destroyed %d times, want 1", m.created[0].destroyed)
	}

	s.Close()
	if m.created[0].destroyed != 1 {
		t.Errorf("Close destroyed stale handle again")
	}
}

func TestCloseUninitializedIsNoop(t *testing.T) {
	s := New(engine.NewPassthrough(4, 48000))
	s.Close()
	if s.State() != Uninitialized {
		t.Errorf("State() = %v, want uninitialized", s.State())
	}
}

func TestTransferAreasMatchesTransfer(t *testing.T) {
	in := ramp(23, 40)

	flatSession := newReady(t, &mockEngine{frameSize: 6, offset: 9})
	defer flatSession.Close()
	want := make([]int16, len(in))
	flatSession.Transfer(want, in)

	s := newReady(t, &mockEngine{frameSize: 6, offset: 9})
	defer s.Close()

	// Source is the right channel of an interleaved stereo buffer, output a
	// flat mono buffer; both are offset into their areas.
	const srcOff, dstOff = 2, 1
	stereo := make([]int16, 2*(len(in)+srcOff))
	for i, v := range in {
		stereo[2*(i+srcOff)+1] = v
	}
	srcBuf := pcm.PCM16SampleToBytes(nil, stereo)
	dstBuf := make([]byte, 2*(len(in)+dstOff))

	src := pcm.InterleavedArea(srcBuf, 1, 2)
	dst := pcm.MonoArea(dstBuf)
	pos := 0
	for _, n := range []int{5, 0, 11, 7} {
		if got := s.TransferAreas(dst, dstOff+pos, src, srcOff+pos, n); got != n {
			t.Fatalf("TransferAreas() = %d, want %d", got, n)
		}
		pos += n
	}

	got := pcm.PCM16BytesToSample(nil, dstBuf)[dstOff:]
	if !equal(got, want) {
		t.Errorf("area output = %v, want %v", got, want)
	}
}

func TestInitRejectsNonPositiveFrameSize(t *testing.T) {
	for _, fs := range []int{0, -4} {
		s := New(&mockEngine{frameSize: fs})
		err := s.Init()
		if !errors.Is(err, ErrFrameSize) {
			t.Errorf("Init() with frame size %d error = %v, want ErrFrameSize", fs, err)
		}
		if s.State() != Uninitialized {
			t.Errorf("State() = %v, want uninitialized", s.State())
		}
		s.Close()
	}
}

func TestTransferDoesNotAllocate(t *testing.T) {
	s := newReady(t, engine.NewPassthrough(480, 48000))
	defer s.Close()

	in := ramp(700, 1)
	out := make([]int16, len(in))
	if n := testing.AllocsPerRun(100, func() { s.Transfer(out, in) }); n != 0 {
		t.Errorf("Transfer allocs = %v, want 0", n)
	}

	srcBuf := pcm.PCM16SampleToBytes(nil, in)
	dstBuf := make([]byte, len(srcBuf))
	src, dst := pcm.MonoArea(srcBuf), pcm.MonoArea(dstBuf)
	if n := testing.AllocsPerRun(100, func() { s.TransferAreas(dst, 0, src, 0, len(in)) }); n != 0 {
		t.Errorf("TransferAreas allocs = %v, want 0", n)
	}
}

func TestTransferAreasPastEndPanics(t *testing.T) {
	s := newReady(t, &mockEngine{frameSize: 4})
	defer s.Close()

	buf := make([]byte, 8)
	defer func() {
		if recover() == nil {
			t.Error("TransferAreas past the area did not panic")
		}
	}()
	s.TransferAreas(pcm.MonoArea(buf), 0, pcm.MonoArea(buf), 2, 3)
}
