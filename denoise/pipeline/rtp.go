package pipeline

import (
	"fmt"
	"io"
	"sync"
	"time"

	msdk "github.com/livekit/media-sdk"
	_ "github.com/livekit/media-sdk/g711"
	msdkrtp "github.com/livekit/media-sdk/rtp"
	"github.com/livekit/protocol/logger"
	prtp "github.com/pion/rtp"

	"pcmdenoise/denoise/pcm"
)

// Longest DTX gap (in frames) we fill with silence before treating the jump
// as a stream reset.
const maxGapFrames = 25

// PayloadType maps a G.711 encoding to its static RTP payload type.
func PayloadType(enc pcm.Encoding) (uint8, error) {
	switch enc {
	case pcm.EncodingULaw:
		return prtp.PayloadTypePCMU, nil
	case pcm.EncodingALaw:
		return prtp.PayloadTypePCMA, nil
	default:
		return 0, fmt.Errorf("no static RTP payload type for %s", enc)
	}
}

// audioCodec resolves the registered media-sdk codec for a G.711 encoding.
func audioCodec(enc pcm.Encoding) (msdkrtp.AudioCodec, uint8, error) {
	pt, err := PayloadType(enc)
	if err != nil {
		return nil, 0, err
	}
	c, ok := msdkrtp.CodecByPayloadType(pt).(msdkrtp.AudioCodec)
	if !ok || !msdk.CodecEnabled(c) {
		return nil, 0, fmt.Errorf("rtp codec for %s is not available", enc)
	}
	return c, pt, nil
}

type RTPDecodeConfig struct {
	Encoding pcm.Encoding
	// Sink receives decoded 8 kHz audio, typically the denoise chain. It is
	// closed with the handler.
	Sink         msdk.PCM16Writer
	EnableJitter bool
	Log          logger.Logger
}

// BuildRTPDecodeChain returns a handler that decodes G.711 RTP packets into
// cfg.Sink, filling DTX gaps with silence.
func BuildRTPDecodeChain(cfg RTPDecodeConfig) (msdkrtp.HandlerCloser, error) {
	if cfg.Sink == nil {
		return nil, errInvalid("sink")
	}
	codec, pt, err := audioCodec(cfg.Encoding)
	if err != nil {
		return nil, err
	}
	info := codec.Info()

	var h msdkrtp.Handler = codec.DecodeRTP(cfg.Sink, pt)
	h = newSilenceFiller(h, cfg.Sink, pt, info.RTPClockRate, cfg.Log)
	var hc msdkrtp.HandlerCloser = &decodeHandler{h: h, sink: cfg.Sink, log: cfg.Log}
	if cfg.EnableJitter {
		hc = msdkrtp.HandleJitter(hc)
	}
	return hc, nil
}

// decodeHandler owns the PCM sink. The jitter buffer may deliver packets from
// its timer goroutine, so delivery and Close are serialized.
type decodeHandler struct {
	mu     sync.Mutex
	h      msdkrtp.Handler
	sink   msdk.PCM16Writer
	log    logger.Logger
	closed bool
}

func (d *decodeHandler) String() string { return d.h.String() }

func (d *decodeHandler) HandleRTP(h *prtp.Header, payload []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	return d.h.HandleRTP(h, payload)
}

func (d *decodeHandler) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	if err := d.sink.Close(); err != nil && d.log != nil {
		d.log.Warnw("failed to close rtp decode sink", err)
	}
}

// silenceFiller detects RTP timestamp discontinuities (DTX/silence
// suppression) and writes silence to pcmSink before passing the packet on to
// the decoder. Packets of other payload types (comfort noise, events) only
// advance the sequence number.
type silenceFiller struct {
	pt              uint8
	encodedSink     msdkrtp.Handler
	pcmSink         msdk.PCM16Writer
	samplesPerFrame int
	log             logger.Logger

	seen    bool
	lastSeq uint16
	haveTS  bool
	lastTS  uint32
	silence msdk.PCM16Sample
}

func newSilenceFiller(encodedSink msdkrtp.Handler, pcmSink msdk.PCM16Writer, pt uint8, clockRate int, log logger.Logger) *silenceFiller {
	// media-sdk assumes 20ms frame duration (rtp.DefFrameDur).
	spf := clockRate / msdkrtp.DefFramesPerSec
	return &silenceFiller{
		pt:              pt,
		encodedSink:     encodedSink,
		pcmSink:         pcmSink,
		samplesPerFrame: spf,
		log:             log,
		silence:         make(msdk.PCM16Sample, spf),
	}
}

func (h *silenceFiller) String() string {
	return "SilenceFiller -> " + h.encodedSink.String()
}

func (h *silenceFiller) HandleRTP(header *prtp.Header, payload []byte) error {
	// A key characteristic of DTX is no sequence gaps, but >1 frame TS gaps.
	contiguous := h.seen && header.SequenceNumber == h.lastSeq+1
	h.seen = true
	h.lastSeq = header.SequenceNumber
	if header.PayloadType != h.pt {
		return nil
	}

	lastTS, haveTS := h.lastTS, h.haveTS
	h.lastTS, h.haveTS = header.Timestamp, true
	if contiguous && haveTS {
		tsDiff := int32(header.Timestamp - (lastTS + uint32(h.samplesPerFrame)))
		if missed := int(tsDiff) / h.samplesPerFrame; missed > 0 {
			// Avoid flooding in case this is actually a reset.
			if missed <= maxGapFrames {
				if err := h.fillWithSilence(missed); err != nil {
					return err
				}
			} else if h.log != nil && time.Now().Unix()%15 == 0 {
				h.log.Infow("large timestamp gap (ignored)", "gapFrames", missed)
			}
		}
	}
	if len(payload) == 0 {
		return nil
	}
	return h.encodedSink.HandleRTP(header, payload)
}

func (h *silenceFiller) fillWithSilence(frames int) error {
	for ; frames > 0; frames-- {
		if err := h.pcmSink.WriteSample(h.silence); err != nil {
			return err
		}
	}
	return nil
}

// rtpPacketWriter marshals packets from a media-sdk SeqWriter onto an
// io.Writer, typically a connected UDP socket.
type rtpPacketWriter struct {
	w   io.Writer
	buf []byte
}

func (p *rtpPacketWriter) String() string {
	return fmt.Sprintf("RTPWriter(%T)", p.w)
}

func (p *rtpPacketWriter) WriteRTP(h *prtp.Header, payload []byte) (int, error) {
	pkt := prtp.Packet{Header: *h, Payload: payload}
	n, err := pkt.MarshalTo(p.buf)
	if err != nil {
		return 0, fmt.Errorf("rtp marshal: %w", err)
	}
	if _, err := p.w.Write(p.buf[:n]); err != nil {
		return 0, fmt.Errorf("rtp write: %w", err)
	}
	return len(payload), nil
}

// rtpSink frames PCM16 samples into 20ms packets for the codec's RTP encoder.
// The media-sdk stream advances the timestamp by one frame per write, so every
// write must carry exactly one frame.
type rtpSink struct {
	enc     pcm.Encoding
	out     msdk.PCM16Writer
	frame   int
	pending msdk.PCM16Sample
	closer  io.Closer
}

// NewRTPSink writes G.711 RTP packets to w. If w is also an io.Closer it is
// closed with the sink.
func NewRTPSink(w io.Writer, enc pcm.Encoding) (msdk.PCM16Writer, error) {
	codec, pt, err := audioCodec(enc)
	if err != nil {
		return nil, err
	}
	info := codec.Info()
	seq := msdkrtp.NewSeqWriter(&rtpPacketWriter{w: w, buf: make([]byte, 1500)})
	stream := seq.NewStream(pt, info.RTPClockRate)

	s := &rtpSink{
		enc:   enc,
		out:   codec.EncodeRTP(stream),
		frame: info.SampleRate / msdkrtp.DefFramesPerSec,
	}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	return s, nil
}

func (s *rtpSink) String() string {
	return fmt.Sprintf("RTPSink(%s) -> %s", s.enc, s.out)
}

func (s *rtpSink) SampleRate() int { return s.out.SampleRate() }

func (s *rtpSink) WriteSample(sample msdk.PCM16Sample) error {
	s.pending = append(s.pending, sample...)
	for len(s.pending) >= s.frame {
		if err := s.out.WriteSample(s.pending[:s.frame]); err != nil {
			return err
		}
		s.pending = s.pending[:copy(s.pending, s.pending[s.frame:])]
	}
	return nil
}

func (s *rtpSink) Close() error {
	err := s.out.Close()
	if s.closer != nil {
		if cerr := s.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
