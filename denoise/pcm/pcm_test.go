package pcm

import (
	"bytes"
	"math"
	"testing"
	"time"

	msdk "github.com/livekit/media-sdk"
)

func TestAudioFormatFrameSamples(t *testing.T) {
	tests := []struct {
		name   string
		format AudioFormat
		want   int
	}{
		{"48k mono 10ms", AudioFormat{SampleRate: 48000, Channels: 1, FrameDur: 10 * time.Millisecond}, 480},
		{"16k stereo 20ms", AudioFormat{SampleRate: 16000, Channels: 2, FrameDur: 20 * time.Millisecond}, 640},
		{"zero channels treated as mono", AudioFormat{SampleRate: 8000, FrameDur: 20 * time.Millisecond}, 160},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.format.FrameSamples(); got != tt.want {
				t.Errorf("FrameSamples() = %d, want %d", got, tt.want)
			}
			if got := tt.format.FrameBytes(); got != tt.want*2 {
				t.Errorf("FrameBytes() = %d, want %d", got, tt.want*2)
			}
		})
	}
}

func TestAudioFormatDuration(t *testing.T) {
	f := AudioFormat{SampleRate: 48000, Channels: 1}
	if got := f.Duration(480); got != 10*time.Millisecond {
		t.Errorf("Duration(480) = %v, want 10ms", got)
	}
}

func TestChannelAreaAddressOf(t *testing.T) {
	buf := make([]byte, 16)
	tests := []struct {
		name   string
		area   ChannelArea
		offset int
		want   int
	}{
		{"mono start", MonoArea(buf), 0, 0},
		{"mono offset", MonoArea(buf), 3, 6},
		{"stereo right", InterleavedArea(buf, 1, 2), 0, 2},
		{"stereo right offset", InterleavedArea(buf, 1, 2), 2, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.area.AddressOf(tt.offset); got != tt.want {
				t.Errorf("AddressOf(%d) = %d, want %d", tt.offset, got, tt.want)
			}
		})
	}
}

func TestChannelAreaAddressOfUnalignedPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("AddressOf on unaligned area did not panic")
		}
	}()
	ChannelArea{Addr: make([]byte, 8), First: 4, Step: 16}.AddressOf(0)
}

func TestChannelAreaFrames(t *testing.T) {
	buf := make([]byte, 8)
	if got := MonoArea(buf).Frames(); got != 4 {
		t.Errorf("mono Frames() = %d, want 4", got)
	}
	if got := InterleavedArea(buf, 1, 2).Frames(); got != 2 {
		t.Errorf("stereo Frames() = %d, want 2", got)
	}
}

func TestAreaRunStrided(t *testing.T) {
	// L R L R L R
	buf := PCM16SampleToBytes(nil, msdk.PCM16Sample{1, -1, 2, -2, 3, -3})
	right := InterleavedArea(buf, 1, 2).Run(1)
	if got := right.At(0); got != -2 {
		t.Errorf("At(0) = %d, want -2", got)
	}
	right.Set(1, 300)
	got := PCM16BytesToSample(nil, buf)
	want := msdk.PCM16Sample{1, -1, 2, -2, 3, 300}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("buf = %v, want %v", got, want)
		}
	}
}

func TestSampleAligner(t *testing.T) {
	a := NewSampleAligner(2)
	if out := a.Push([]byte{1}); out != nil {
		t.Errorf("Push(1 byte) = %v, want nil", out)
	}
	if a.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", a.Pending())
	}
	out := a.Push([]byte{2, 3, 4, 5})
	if !bytes.Equal(out, []byte{1, 2, 3, 4}) {
		t.Errorf("Push() = %v, want [1 2 3 4]", out)
	}
	if a.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", a.Pending())
	}
	a.Reset()
	if a.Pending() != 0 {
		t.Errorf("Pending() after Reset = %d, want 0", a.Pending())
	}
}

func TestPCM16ToMono(t *testing.T) {
	got := PCM16ToMono(nil, msdk.PCM16Sample{100, 200, -100, -300, 7}, 2)
	want := msdk.PCM16Sample{150, -200}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %d, want %d", i, got[i], want[i])
		}
	}

	mono := PCM16ToMono(nil, msdk.PCM16Sample{1, 2, 3}, 1)
	if len(mono) != 3 || mono[2] != 3 {
		t.Errorf("mono passthrough = %v", mono)
	}
}

func TestEnergy(t *testing.T) {
	if e := Energy(nil); e != 0 {
		t.Errorf("Energy(nil) = %v, want 0", e)
	}
	if e := Energy(make(msdk.PCM16Sample, 10)); e != 0 {
		t.Errorf("Energy(silence) = %v, want 0", e)
	}
	full := msdk.PCM16Sample{-32768, -32768}
	if e := Energy(full); math.Abs(e-1) > 1e-9 {
		t.Errorf("Energy(full scale) = %v, want 1", e)
	}
}

func TestParseEncoding(t *testing.T) {
	tests := []struct {
		in      string
		want    Encoding
		wantErr bool
	}{
		{"", EncodingS16LE, false},
		{"S16LE", EncodingS16LE, false},
		{"pcmu", EncodingULaw, false},
		{"PCMA", EncodingALaw, false},
		{"flac", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseEncoding(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseEncoding(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseEncoding(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestG711CompandingError(t *testing.T) {
	in := msdk.PCM16Sample{0, 1000, -1000, 12000, -30000}
	for _, enc := range []Encoding{EncodingULaw, EncodingALaw} {
		t.Run(string(enc), func(t *testing.T) {
			b := enc.Encode(nil, in)
			if len(b) != len(in) {
				t.Fatalf("encoded %d bytes, want %d", len(b), len(in))
			}
			out := enc.Decode(nil, b)
			for i := range in {
				// G.711 keeps roughly 4 mantissa bits.
				tol := math.Abs(float64(in[i]))/16 + 16
				if d := math.Abs(float64(out[i]) - float64(in[i])); d > tol {
					t.Errorf("sample %d: %d -> %d, error %.0f > %.0f", i, in[i], out[i], d, tol)
				}
			}
		})
	}
}
