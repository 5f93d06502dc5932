package pcm

import (
	"fmt"
	"strings"

	msdk "github.com/livekit/media-sdk"
	"github.com/zaf/g711"
)

// Encoding is the on-the-wire sample encoding of a raw stream.
type Encoding string

const (
	EncodingS16LE Encoding = "s16le"
	EncodingULaw  Encoding = "ulaw"
	EncodingALaw  Encoding = "alaw"
)

func ParseEncoding(s string) (Encoding, error) {
	switch e := Encoding(strings.ToLower(s)); e {
	case EncodingS16LE, EncodingULaw, EncodingALaw:
		return e, nil
	case "", "pcm", "s16":
		return EncodingS16LE, nil
	case "pcmu", "mulaw":
		return EncodingULaw, nil
	case "pcma":
		return EncodingALaw, nil
	default:
		return "", fmt.Errorf("unsupported encoding %q", s)
	}
}

// BytesPerSample is the encoded size of one mono sample.
func (e Encoding) BytesPerSample() int {
	if e == EncodingS16LE {
		return 2
	}
	return 1
}

// Decode converts encoded bytes into PCM16 samples, reusing dst.
func (e Encoding) Decode(dst msdk.PCM16Sample, src []byte) msdk.PCM16Sample {
	switch e {
	case EncodingULaw:
		dst = resize(dst, len(src))
		for i, b := range src {
			dst[i] = g711.DecodeUlawFrame(b)
		}
		return dst
	case EncodingALaw:
		dst = resize(dst, len(src))
		for i, b := range src {
			dst[i] = g711.DecodeAlawFrame(b)
		}
		return dst
	default:
		return PCM16BytesToSample(dst, src)
	}
}

// Encode converts PCM16 samples into encoded bytes, reusing dst.
func (e Encoding) Encode(dst []byte, src msdk.PCM16Sample) []byte {
	switch e {
	case EncodingULaw:
		dst = resizeBytes(dst, len(src))
		for i, s := range src {
			dst[i] = g711.EncodeUlawFrame(s)
		}
		return dst
	case EncodingALaw:
		dst = resizeBytes(dst, len(src))
		for i, s := range src {
			dst[i] = g711.EncodeAlawFrame(s)
		}
		return dst
	default:
		return PCM16SampleToBytes(dst, src)
	}
}

func resize(dst msdk.PCM16Sample, n int) msdk.PCM16Sample {
	if cap(dst) < n {
		return make(msdk.PCM16Sample, n)
	}
	return dst[:n]
}

func resizeBytes(dst []byte, n int) []byte {
	if cap(dst) < n {
		return make([]byte, n)
	}
	return dst[:n]
}
