package session

import (
	"math"

	"pcmdenoise/denoise/engine"
)

// sampleReader and sampleWriter let Transfer and TransferAreas share one
// loop without boxing the runs in interfaces on the audio path.
type sampleReader interface {
	At(i int) int16
}

type sampleWriter interface {
	Set(i int, v int16)
}

// flat adapts a contiguous []int16 run.
type flat []int16

func (f flat) At(i int) int16     { return f[i] }
func (f flat) Set(i int, v int16) { f[i] = v }

// Accumulator stages arbitrary-length sample runs into engine-sized frames.
//
// buf doubles as the input staging area and the output staging area: when a
// slot is about to receive a new input sample, the value it holds is the
// processed sample owed to the output. This gives exactly one frame of
// latency with no second buffer.
type Accumulator struct {
	buf    []float32
	filled int
	handle engine.Handle

	frames  uint64
	samples uint64
}

// transfer swaps n samples through the frame buffer. Each frame boundary
// crossed drives the engine once.
func transfer[W sampleWriter, R sampleReader](a *Accumulator, dst W, src R, n int) {
	frameSize := len(a.buf)
	done := 0
	for done < n {
		chunk := frameSize - a.filled
		if rem := n - done; chunk > rem {
			chunk = rem
		}

		slot := a.buf[a.filled : a.filled+chunk]
		for i := range slot {
			// Read the processed sample before the slot is overwritten.
			dst.Set(done+i, toS16(slot[i]))
			slot[i] = float32(src.At(done + i))
		}

		done += chunk
		a.filled += chunk

		if a.filled != frameSize {
			continue
		}
		a.handle.ProcessFrame(a.buf)
		a.filled = 0
		a.frames++
	}
	a.samples += uint64(n)
}

// toS16 truncates toward zero like a C float->int16 store, saturating at the
// int16 range where the engine overshoots.
func toS16(v float32) int16 {
	switch {
	case v >= math.MaxInt16:
		return math.MaxInt16
	case v <= math.MinInt16:
		return math.MinInt16
	case v != v: // NaN
		return 0
	}
	return int16(v)
}

func (a *Accumulator) reset(frameSize int) {
	a.filled = 0
	if cap(a.buf) >= frameSize {
		a.buf = a.buf[:frameSize]
		clear(a.buf)
	} else {
		a.buf = make([]float32, frameSize)
	}
	a.frames = 0
	a.samples = 0
}
