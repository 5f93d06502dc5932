package pcm

import (
	"encoding/binary"
	"math"

	msdk "github.com/livekit/media-sdk"
)

func PCM16BytesToSample(dst msdk.PCM16Sample, src []byte) msdk.PCM16Sample {
	n := len(src) / 2
	if cap(dst) < n {
		dst = make(msdk.PCM16Sample, n)
	} else {
		dst = dst[:n]
	}
	for i := 0; i < n; i++ {
		dst[i] = int16(binary.LittleEndian.Uint16(src[i*2 : i*2+2]))
	}
	return dst
}

func PCM16SampleToBytes(dst []byte, src msdk.PCM16Sample) []byte {
	need := len(src) * 2
	if cap(dst) < need {
		dst = make([]byte, need)
	} else {
		dst = dst[:need]
	}
	for i, s := range src {
		binary.LittleEndian.PutUint16(dst[i*2:i*2+2], uint16(s))
	}
	return dst
}

// PCM16ToMono folds interleaved samples with ch channels into mono by
// averaging. The session only handles mono, like the plugin it replaces.
func PCM16ToMono(dst msdk.PCM16Sample, src msdk.PCM16Sample, ch int) msdk.PCM16Sample {
	if ch <= 1 {
		if cap(dst) < len(src) {
			dst = make(msdk.PCM16Sample, len(src))
		} else {
			dst = dst[:len(src)]
		}
		copy(dst, src)
		return dst
	}
	n := len(src) / ch
	if cap(dst) < n {
		dst = make(msdk.PCM16Sample, n)
	} else {
		dst = dst[:n]
	}
	for i := 0; i < n; i++ {
		var sum int32
		for c := 0; c < ch; c++ {
			sum += int32(src[i*ch+c])
		}
		dst[i] = int16(sum / int32(ch))
	}
	return dst
}

// Energy computes an RMS level for mono PCM16 in [0, 1].
// Returns 0 for silence, higher values for louder audio.
func Energy(samples msdk.PCM16Sample) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range samples {
		f := float64(v) / 32768.0
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(samples)))
}
